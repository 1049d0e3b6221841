package httpserver

import (
	"time"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

// Amounts on the wire are integer minor units next to their currency.

type walletDTO struct {
	ID        string    `json:"id"`
	OwnerType string    `json:"owner_type"`
	OwnerID   string    `json:"owner_id"`
	Currency  string    `json:"currency"`
	Available int64     `json:"available"`
	Pending   int64     `json:"pending"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toWallet(w domain.Wallet) walletDTO {
	return walletDTO{
		ID: w.ID, OwnerType: string(w.OwnerType), OwnerID: w.OwnerID, Currency: w.Currency,
		Available: int64(w.Available), Pending: int64(w.Pending), UpdatedAt: w.UpdatedAt,
	}
}

type txDTO struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	Amount        int64     `json:"amount"`
	Reference     string    `json:"reference"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTx(t domain.WalletTransaction) txDTO {
	return txDTO{
		ID: t.ID, Type: string(t.Type), Source: string(t.Source), Amount: int64(t.Amount),
		Reference: t.Reference, Status: string(t.Status), FailureReason: t.FailureReason, CreatedAt: t.CreatedAt,
	}
}

type txPageDTO struct {
	Items      []txDTO `json:"items"`
	NextCursor *string `json:"next_cursor"`
}

type eventDTO struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	Amount             int64     `json:"amount"`
	From               string    `json:"from"`
	To                 string    `json:"to"`
	Reference          string    `json:"reference"`
	ProviderTransferID string    `json:"provider_transfer_id,omitempty"`
	Note               string    `json:"note,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func toEvent(e domain.EscrowEvent) eventDTO {
	return eventDTO{
		ID: e.ID, Type: string(e.Type), Amount: int64(e.Amount), From: string(e.From), To: string(e.To),
		Reference: e.Reference, ProviderTransferID: e.ProviderTransferID, Note: e.Note, CreatedAt: e.CreatedAt,
	}
}

type paymentDTO struct {
	ID               string `json:"id"`
	BookingID        string `json:"booking_id"`
	Status           string `json:"status"`
	Currency         string `json:"currency"`
	RoomFee          int64  `json:"room_fee"`
	CleaningFee      int64  `json:"cleaning_fee"`
	SecurityDeposit  int64  `json:"security_deposit"`
	ServiceFee       int64  `json:"service_fee"`
	GuestTotal       int64  `json:"guest_total"`
	CommissionRate   string `json:"commission_rate"`
	CommissionAmount int64  `json:"commission_amount"`
	HostPayout       int64  `json:"host_payout"`
	RoomFeeHeld      bool   `json:"room_fee_held"`
	DepositHeld      bool   `json:"deposit_held"`
	RoomFeeFrozen    bool   `json:"room_fee_frozen"`
	DepositFrozen    bool   `json:"deposit_frozen"`
	ReviewRequired   bool   `json:"review_required"`
}

func toPayment(p domain.Payment) paymentDTO {
	return paymentDTO{
		ID:               p.ID,
		BookingID:        p.BookingID,
		Status:           string(p.Status),
		Currency:         p.Currency,
		RoomFee:          int64(p.RoomFee),
		CleaningFee:      int64(p.CleaningFee),
		SecurityDeposit:  int64(p.SecurityDeposit),
		ServiceFee:       int64(p.ServiceFee.Total),
		GuestTotal:       int64(p.RoomFee + p.CleaningFee + p.SecurityDeposit + p.ServiceFee.Total),
		CommissionRate:   p.Commission.EffectiveRate.String(),
		CommissionAmount: int64(p.Commission.CommissionAmount),
		HostPayout:       int64(p.Commission.HostPayout),
		RoomFeeHeld:      p.RoomFeeHeld,
		DepositHeld:      p.DepositHeld,
		RoomFeeFrozen:    p.RoomFeeFrozen,
		DepositFrozen:    p.DepositFrozen,
		ReviewRequired:   p.ReviewRequired,
	}
}

type settlementDTO struct {
	Outcome  string `json:"outcome"`
	Guest    int64  `json:"guest"`
	Host     int64  `json:"host"`
	Platform int64  `json:"platform"`
}

func toSettlement(s domain.Settlement) settlementDTO {
	return settlementDTO{Outcome: string(s.Outcome), Guest: int64(s.GuestAmount), Host: int64(s.HostAmount), Platform: int64(s.PlatformAmount)}
}

type disputeDTO struct {
	ID               string          `json:"id"`
	BookingID        string          `json:"booking_id"`
	Subject          string          `json:"subject"`
	Category         string          `json:"category"`
	Status           string          `json:"status"`
	ClaimedAmount    int64           `json:"claimed_amount"`
	CapAmount        int64           `json:"cap_amount"`
	Settlements      []settlementDTO `json:"settlements"`
	Outcome          string          `json:"outcome,omitempty"`
	Resolution       *settlementDTO  `json:"resolution,omitempty"`
	FailureDetail    string          `json:"failure_detail,omitempty"`
	ResponseDeadline time.Time       `json:"response_deadline"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

func toDispute(d domain.Dispute) disputeDTO {
	out := disputeDTO{
		ID: d.ID, BookingID: d.BookingID, Subject: string(d.Subject), Category: string(d.Category),
		Status: string(d.Status), ClaimedAmount: int64(d.ClaimedAmount), CapAmount: int64(d.CapAmount),
		Outcome: string(d.Outcome), FailureDetail: d.FailureDetail,
		ResponseDeadline: d.ResponseDeadline, ResolvedAt: d.ResolvedAt,
		Settlements: make([]settlementDTO, 0, len(d.Settlements)),
	}
	for _, s := range d.Settlements {
		out.Settlements = append(out.Settlements, toSettlement(s))
	}
	if d.Resolution != nil {
		r := toSettlement(*d.Resolution)
		out.Resolution = &r
	}
	return out
}

type refundDTO struct {
	Tier              string `json:"tier"`
	GuestRoomRefund   int64  `json:"guest_room_refund"`
	HostPortion       int64  `json:"host_portion"`
	PlatformPortion   int64  `json:"platform_portion"`
	DepositRefund     int64  `json:"deposit_refund"`
	ServiceFeeRefund  int64  `json:"service_fee_refund"`
	CleaningFeeRefund int64  `json:"cleaning_fee_refund"`
}

func toRefund(r finance.RefundBreakdown) refundDTO {
	return refundDTO{
		Tier: r.Tier, GuestRoomRefund: int64(r.GuestRoomRefund), HostPortion: int64(r.HostPortion),
		PlatformPortion: int64(r.PlatformPortion), DepositRefund: int64(r.DepositRefund),
		ServiceFeeRefund: int64(r.ServiceFeeRefund), CleaningFeeRefund: int64(r.CleaningFeeRefund),
	}
}

type reconciliationDTO struct {
	Quoted   int64 `json:"quoted"`
	Actual   int64 `json:"actual"`
	Charge   int64 `json:"provider_processing_charge"`
	Variance int64 `json:"variance"`
}

// Request bodies.

type initiateReq struct {
	Corridor string `json:"corridor"`
}

type holdReq struct {
	BookingID         string `json:"booking_id"`
	ProviderReference string `json:"provider_reference"`
	RoomFee           int64  `json:"room_fee"`
	SecurityDeposit   int64  `json:"security_deposit"`
}

type actualFeeReq struct {
	Corridor                 string `json:"corridor"`
	ProviderProcessingCharge int64  `json:"provider_processing_charge"`
}

type openDisputeReq struct {
	Subject       string `json:"subject"`
	Category      string `json:"category"`
	ActorID       string `json:"actor_id"`
	ClaimedAmount int64  `json:"claimed_amount"`
	Note          string `json:"note"`
}

type respondReq struct {
	ResponderID string `json:"responder_id"`
	Response    string `json:"response"`
}

type adjudicateReq struct {
	AdminID string `json:"admin_id"`
	Outcome string `json:"outcome"`
	Note    string `json:"note"`
}

type retryReq struct {
	AdminID string `json:"admin_id"`
}

type withdrawReq struct {
	Amount        int64  `json:"amount"`
	PayoutAccount string `json:"payout_account"`
	Reference     string `json:"reference"`
}
