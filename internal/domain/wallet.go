package domain

import "time"

type OwnerType string

const (
	OwnerHost     OwnerType = "HOST"
	OwnerPlatform OwnerType = "PLATFORM"
)

type WalletOwner struct {
	Type OwnerType
	ID   string
}

type Wallet struct {
	ID        string
	OwnerType OwnerType
	OwnerID   string
	Currency  string
	Available Money
	Pending   Money
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TxType string

const (
	TxCredit TxType = "CREDIT"
	TxDebit  TxType = "DEBIT"
)

type TxSource string

const (
	SourceEscrowRelease     TxSource = "ESCROW_RELEASE"
	SourceCommission        TxSource = "COMMISSION"
	SourceDisputeSettlement TxSource = "DISPUTE_SETTLEMENT"
	SourceCancellation      TxSource = "CANCELLATION"
	SourceWithdrawal        TxSource = "WITHDRAWAL"
	SourceDirectPayout      TxSource = "DIRECT_PAYOUT"
	SourceAdjustment        TxSource = "ADJUSTMENT"
)

type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxCompleted TxStatus = "COMPLETED"
	TxFailed    TxStatus = "FAILED"
)

// WalletTransaction is a journal entry. Only withdrawals move from PENDING to a final status.
type WalletTransaction struct {
	ID            string
	WalletID      string
	Type          TxType
	Source        TxSource
	Amount        Money
	Reference     string
	Status        TxStatus
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PageQuery struct {
	Limit  int
	Cursor *string
}

type TransactionsPage struct {
	Items      []WalletTransaction
	NextCursor *string
}
