package app

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

// Notification kinds.
const (
	NoticeFundsHeld         = "escrow.funds_held"
	NoticePayoutReleased    = "escrow.payout_released"
	NoticeDepositReturned   = "escrow.deposit_returned"
	NoticeBookingCancelled  = "escrow.booking_cancelled"
	NoticeDisputeOpened     = "dispute.opened"
	NoticeDisputeEscalated  = "dispute.escalated"
	NoticeDisputeResolved   = "dispute.resolved"
	NoticeSettlementPending = "dispute.settlement_review"
)

// AdminRecipient receives operator notifications.
const AdminRecipient = "ops"

func notice(kind, bookingID, recipient string, kv ...string) domain.Notification {
	n := domain.Notification{Kind: kind, BookingID: bookingID, Recipient: recipient, Fields: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Fields[kv[i]] = kv[i+1]
	}
	return n
}

func amount(m domain.Money) string { return strconv.FormatInt(int64(m), 10) }

// monthWindow is the calendar month containing t, in UTC.
func monthWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

func newPayment(b domain.Booking, fb domain.FeeBreakdown) domain.Payment {
	return domain.Payment{
		ID:                uuid.NewString(),
		BookingID:         b.ID,
		GuestID:           b.GuestID,
		HostID:            b.HostID,
		HostPayoutAccount: b.HostPayoutAccount,
		Currency:          b.Currency,
		RoomFee:           fb.RoomFee,
		CleaningFee:       fb.CleaningFee,
		SecurityDeposit:   fb.SecurityDeposit,
		ServiceFee:        fb.ServiceFee,
		Commission:        fb.Commission,
		Status:            domain.PaymentInitiated,
		CheckIn:           b.CheckIn.UTC(),
		CheckOut:          b.CheckOut.UTC(),
	}
}

func heldEvent(p domain.Payment, t domain.EventType, ref string, amt domain.Money) domain.EscrowEvent {
	return domain.EscrowEvent{
		ID: uuid.NewString(), BookingID: p.BookingID, PaymentID: p.ID, Type: t,
		Amount: amt, From: domain.PartyGuest, To: domain.PartyEscrow, Reference: ref,
		ProviderTransferID: p.ProviderReference,
	}
}

func localEvent(p domain.Payment, t domain.EventType, ref string, amt domain.Money, from, to domain.Party, note string) domain.EscrowEvent {
	return domain.EscrowEvent{
		ID: uuid.NewString(), BookingID: p.BookingID, PaymentID: p.ID, Type: t,
		Amount: amt, From: from, To: to, Reference: ref, Note: note,
	}
}

// refundFromPayment reports the cancellation split already committed on p.
func refundFromPayment(p domain.Payment, tier string) finance.RefundBreakdown {
	return finance.RefundBreakdown{
		Tier:            tier,
		GuestRoomRefund: p.RoomFeeToGuest,
		HostPortion:     p.RoomFeeToHost,
		PlatformPortion: p.RoomFeeToPlatform,
		DepositRefund:   p.DepositToGuest,
	}
}
