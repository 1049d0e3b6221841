package domain

import (
	"context"
	"time"
)

// Repository is the persistence surface used inside and outside a unit of work.
// Lock* methods take a row lock for the rest of the unit of work.
type Repository interface {
	// Payments
	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetPaymentByBooking(ctx context.Context, bookingID string) (Payment, error)
	LockPaymentByBooking(ctx context.Context, bookingID string) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	HostMonthlyVolume(ctx context.Context, hostID string, from, to time.Time) (Money, error)
	ListReleaseCandidates(ctx context.Context, checkInBefore time.Time, after SweepCursor, limit int) ([]Payment, error)
	ListDepositReturnCandidates(ctx context.Context, checkOutBefore time.Time, after SweepCursor, limit int) ([]Payment, error)

	// Escrow audit log (append-only)
	AppendEvent(ctx context.Context, e EscrowEvent) error
	FindEventByReference(ctx context.Context, reference string) (EscrowEvent, bool, error)
	ListEvents(ctx context.Context, bookingID string) ([]EscrowEvent, error)

	// Disputes
	CreateDispute(ctx context.Context, d Dispute) error
	GetDispute(ctx context.Context, id string) (Dispute, error)
	LockDispute(ctx context.Context, id string) (Dispute, error)
	UpdateDispute(ctx context.Context, d Dispute) error
	FindActiveDispute(ctx context.Context, bookingID string, subject DisputeSubject) (Dispute, bool, error)
	ListStaleDisputes(ctx context.Context, deadlineBefore time.Time, after SweepCursor, limit int) ([]Dispute, error)
	ListStuckSettlements(ctx context.Context, updatedBefore time.Time, after SweepCursor, limit int) ([]Dispute, error)

	// Wallets
	LockWallet(ctx context.Context, owner WalletOwner, currency string) (Wallet, error)
	LockWalletByID(ctx context.Context, id string) (Wallet, error)
	GetWallet(ctx context.Context, owner WalletOwner) (Wallet, error)
	UpdateWallet(ctx context.Context, w Wallet) error
	AppendWalletTransaction(ctx context.Context, tx WalletTransaction) error
	FindWalletTransaction(ctx context.Context, walletID, reference string) (WalletTransaction, bool, error)
	LockWalletTransaction(ctx context.Context, id string) (WalletTransaction, error)
	UpdateWalletTransaction(ctx context.Context, tx WalletTransaction) error
	ListWalletTransactions(ctx context.Context, walletID string, pg PageQuery) (TransactionsPage, error)
}

// SweepCursor is the keyset position of the last row a sweep page returned: its sort key and id.
// The zero value starts at the first row.
type SweepCursor struct {
	At time.Time
	ID string
}

// Precedes reports whether the row (at, id) sorts strictly after c.
func (c SweepCursor) Precedes(at time.Time, id string) bool {
	if !at.Equal(c.At) {
		return at.After(c.At)
	}
	return id > c.ID
}

// Store runs fn as one serializable unit of work. Any error rolls the whole unit back.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error
}

type BookingReader interface {
	GetBooking(ctx context.Context, id string) (Booking, error)
}

type TransferRequest struct {
	Amount    Money
	Currency  string
	Recipient string
	Reference string
}

type RefundRequest struct {
	TransactionReference string
	Amount               Money
	Currency             string
	Reference            string
}

type TransferResult struct {
	ProviderID string
}

// PaymentProvider moves real money. Both calls are idempotent by Reference.
type PaymentProvider interface {
	InitiateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	ProcessRefund(ctx context.Context, req RefundRequest) (TransferResult, error)
}

type Notification struct {
	Kind      string
	BookingID string
	Recipient string
	Fields    map[string]string
}

// Notifier is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

type Clock interface {
	Now() time.Time
}
