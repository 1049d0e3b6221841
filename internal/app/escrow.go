package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

var errFrozenAfterTransfer = errors.New("room fee transferred while a dispute froze it")

// EscrowService custodies guest funds per booking. Provider calls are never made inside a
// unit of work; each external leg is keyed by a deterministic reference and recorded after it succeeds.
type EscrowService struct {
	d       Deps
	wallets *WalletService
}

func NewEscrowService(d Deps, wallets *WalletService) *EscrowService {
	return &EscrowService{d: d.withDefaults(), wallets: wallets}
}

func (s *EscrowService) hostOwner(p domain.Payment) domain.WalletOwner {
	return domain.WalletOwner{Type: domain.OwnerHost, ID: p.HostID}
}

// InitiatePayment computes the charge for a booking and creates its INITIATED escrow record.
// A booking that already has a record gets that record back.
func (s *EscrowService) InitiatePayment(ctx context.Context, bookingID string, corridor domain.Corridor) (domain.Payment, error) {
	if corridor != domain.CorridorLocal && corridor != domain.CorridorInternational {
		return domain.Payment{}, domain.Invalid("corridor", "must be LOCAL or INTERNATIONAL")
	}
	b, err := s.d.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Payment{}, err
	}
	if b.Status != domain.BookingConfirmed && b.Status != domain.BookingActive {
		return domain.Payment{}, domain.Conflict("booking", b.ID, "booking is "+string(b.Status))
	}
	if b.RoomFee <= 0 || b.CleaningFee < 0 || b.SecurityDeposit < 0 {
		return domain.Payment{}, domain.Invalid("room_fee", "booking amounts out of range")
	}
	if p, err := s.d.Store.GetPaymentByBooking(ctx, b.ID); err == nil {
		return p, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Payment{}, err
	}

	from, to := monthWindow(b.CheckIn)
	volume, err := s.d.Store.HostMonthlyVolume(ctx, b.HostID, from, to)
	if err != nil {
		return domain.Payment{}, err
	}
	fb, err := finance.ComputeFeeBreakdown(b, volume, corridor, s.d.Finance)
	if err != nil {
		return domain.Payment{}, err
	}
	p := newPayment(b, fb)
	p.CreatedAt = s.d.now()
	if err := s.d.Store.CreatePayment(ctx, p); err != nil {
		if domain.IsConflict(err) {
			return s.d.Store.GetPaymentByBooking(ctx, b.ID)
		}
		return domain.Payment{}, err
	}
	log.Info().Str("booking_id", b.ID).Str("payment_id", p.ID).
		Int64("guest_total", int64(fb.GuestTotal)).Str("effective_rate", fb.Commission.EffectiveRate.String()).
		Msg("payment initiated")
	return p, nil
}

// HoldFunds marks the charge as captured into escrow. Calling it again for a held payment is a no-op.
// The amounts in b must match the record created at initiation.
func (s *EscrowService) HoldFunds(ctx context.Context, paymentID, bookingID, providerReference string, b domain.FeeBreakdown) (domain.Payment, error) {
	if providerReference == "" {
		return domain.Payment{}, domain.Invalid("provider_reference", "required")
	}
	var (
		p       domain.Payment
		changed bool
	)
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		if p, err = r.LockPaymentByBooking(ctx, bookingID); err != nil {
			return err
		}
		if p.ID != paymentID {
			return domain.Invalid("payment_id", "does not belong to booking "+bookingID)
		}
		if p.Status != domain.PaymentInitiated {
			return nil
		}
		if b.RoomFee != p.RoomFee || b.SecurityDeposit != p.SecurityDeposit {
			return domain.Invalid("amount", "held amounts differ from the quoted breakdown")
		}
		now := s.d.now()
		p.ProviderReference = providerReference
		p.Status = domain.PaymentHeld
		p.RoomFeeHeld = p.RoomFee > 0
		p.DepositHeld = p.SecurityDeposit > 0
		p.HeldAt = &now
		if _, err := appendOnce(ctx, r, heldEvent(p, domain.EventRoomFeeHeld, domain.Reference(domain.RefHoldRoomFee, p.ID), p.RoomFee)); err != nil {
			return err
		}
		if p.DepositHeld {
			if _, err := appendOnce(ctx, r, heldEvent(p, domain.EventDepositHeld, domain.Reference(domain.RefHoldDeposit, p.ID), p.SecurityDeposit)); err != nil {
				return err
			}
		}
		changed = true
		return r.UpdatePayment(ctx, p)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if changed {
		s.d.Notifier.Notify(ctx, notice(NoticeFundsHeld, p.BookingID, p.GuestID, "amount", amount(p.RoomFee+p.SecurityDeposit)))
	}
	return p, nil
}

// RecordActualFee stores the provider-reported processing cost next to the quote. The guest is never re-billed.
func (s *EscrowService) RecordActualFee(ctx context.Context, paymentID string, corridor domain.Corridor, providerCharge domain.Money) (domain.FeeReconciliation, error) {
	if providerCharge < 0 {
		return domain.FeeReconciliation{}, domain.Invalid("provider_charge", "must not be negative")
	}
	current, err := s.d.Store.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.FeeReconciliation{}, err
	}
	var rec domain.FeeReconciliation
	err = s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		p, err := r.LockPaymentByBooking(ctx, current.BookingID)
		if err != nil {
			return err
		}
		rec = finance.ReconcileServiceFee(p.ServiceFee, corridor, providerCharge, s.d.Finance)
		p.ActualServiceFee = rec.Actual.Total
		p.FeeVariance = rec.Variance
		p.FeeReconciled = true
		return r.UpdatePayment(ctx, p)
	})
	if err != nil {
		return domain.FeeReconciliation{}, err
	}
	if rec.Variance != 0 {
		log.Info().Str("payment_id", paymentID).Int64("variance", int64(rec.Variance)).Msg("service fee variance recorded")
	}
	return rec, nil
}

// releaseAt is when the room fee may leave escrow: grace after the later of check-in and its confirmation.
func (s *EscrowService) releaseAt(b domain.Booking) (time.Time, bool) {
	if b.CheckInConfirmedAt == nil {
		return time.Time{}, false
	}
	anchor := b.CheckInConfirmedAt.UTC()
	if b.CheckIn.After(anchor) {
		anchor = b.CheckIn.UTC()
	}
	return anchor.Add(s.d.Finance.Escrow.RoomFeeReleaseGrace), true
}

// ReleaseRoomFeeSplit pays the host their snapshot share and captures the commission.
// The provider transfer happens first; the flag, events and wallet credits commit only after it succeeds.
func (s *EscrowService) ReleaseRoomFeeSplit(ctx context.Context, bookingID string) (domain.Payment, error) {
	p, err := s.d.Store.GetPaymentByBooking(ctx, bookingID)
	if err != nil {
		return domain.Payment{}, err
	}
	releaseRef := domain.Reference(domain.RefReleaseRoomFee, p.ID)
	if !p.RoomFeeHeld {
		if _, ok, err := s.d.Store.FindEventByReference(ctx, releaseRef); err == nil && ok {
			return p, nil
		}
		return domain.Payment{}, domain.Conflict("payment", p.ID, "room fee is no longer held")
	}
	if p.RoomFeeFrozen {
		return domain.Payment{}, domain.Conflict("payment", p.ID, "room fee is frozen")
	}
	if _, active, err := s.d.Store.FindActiveDispute(ctx, bookingID, domain.SubjectRoomFee); err != nil {
		return domain.Payment{}, err
	} else if active {
		return domain.Payment{}, domain.Conflict("payment", p.ID, "room fee dispute in progress")
	}
	b, err := s.d.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Payment{}, err
	}
	at, ok := s.releaseAt(b)
	if !ok {
		return domain.Payment{}, domain.Invalid("check_in", "check-in not confirmed")
	}
	if s.d.now().Before(at) {
		return domain.Payment{}, domain.Invalid("check_in", "release grace period has not elapsed")
	}

	host, platform := p.Commission.HostPayout, p.Commission.CommissionAmount
	hostLeg := leg{kind: legTransfer, ref: releaseRef, amount: host, event: domain.EventRoomFeeReleased, from: domain.PartyEscrow, to: domain.PartyHost}
	providerID, _, err := s.send(ctx, p, hostLeg)
	if err != nil {
		return domain.Payment{}, err
	}

	commissionRef := domain.Reference(domain.RefCommission, p.ID)
	err = s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		cur, err := r.LockPaymentByBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !cur.RoomFeeHeld {
			p = cur
			return nil
		}
		if cur.RoomFeeFrozen {
			// a dispute froze the bucket after the transfer went out
			return errFrozenAfterTransfer
		}
		if err := cur.ClearRoomFee(0, host, platform); err != nil {
			return err
		}
		if _, err := appendOnce(ctx, r, hostLeg.record(cur, providerID)); err != nil {
			return err
		}
		if _, err := appendOnce(ctx, r, localEvent(cur, domain.EventCommissionCaptured, commissionRef, platform, domain.PartyEscrow, domain.PartyPlatform, "")); err != nil {
			return err
		}
		if err := applyPaidOut(ctx, r, entry{s.hostOwner(cur), cur.Currency, host, domain.SourceEscrowRelease, releaseRef}); err != nil {
			return err
		}
		if _, err := applyCredit(ctx, r, entry{s.d.platform(), cur.Currency, platform, domain.SourceCommission, commissionRef}); err != nil {
			return err
		}
		p = cur
		return r.UpdatePayment(ctx, cur)
	})
	if err != nil {
		if errors.Is(err, errFrozenAfterTransfer) {
			s.markReview(ctx, bookingID, releaseRef+": "+err.Error())
		}
		return domain.Payment{}, &domain.TransferError{Op: "release", Reference: releaseRef, ReviewRequired: true, Err: err}
	}
	s.wallets.invalidate(ctx, s.hostOwner(p), s.d.platform())
	s.d.Notifier.Notify(ctx, notice(NoticePayoutReleased, p.BookingID, p.HostID, "amount", amount(host)))
	log.Info().Str("booking_id", bookingID).Str("payment_id", p.ID).Int64("host", int64(host)).Int64("platform", int64(platform)).Msg("room fee released")
	return p, nil
}

// ReturnSecurityDeposit refunds the full deposit once the post-checkout grace has passed undisputed.
func (s *EscrowService) ReturnSecurityDeposit(ctx context.Context, bookingID string) (domain.Payment, error) {
	p, err := s.d.Store.GetPaymentByBooking(ctx, bookingID)
	if err != nil {
		return domain.Payment{}, err
	}
	ref := domain.Reference(domain.RefDepositReturn, p.ID)
	if !p.DepositHeld {
		if _, ok, err := s.d.Store.FindEventByReference(ctx, ref); err == nil && ok {
			return p, nil
		}
		return domain.Payment{}, domain.Conflict("payment", p.ID, "security deposit is no longer held")
	}
	if p.DepositFrozen {
		return domain.Payment{}, domain.Conflict("payment", p.ID, "security deposit is frozen")
	}
	if _, active, err := s.d.Store.FindActiveDispute(ctx, bookingID, domain.SubjectSecurityDeposit); err != nil {
		return domain.Payment{}, err
	} else if active {
		return domain.Payment{}, domain.Conflict("payment", p.ID, "deposit dispute in progress")
	}
	if s.d.now().Before(p.CheckOut.Add(s.d.Finance.Escrow.DepositReturnGrace)) {
		return domain.Payment{}, domain.Invalid("check_out", "deposit return grace period has not elapsed")
	}

	refund := leg{kind: legRefund, ref: ref, amount: p.SecurityDeposit, event: domain.EventDepositReturned, from: domain.PartyEscrow, to: domain.PartyGuest}
	providerID, _, err := s.send(ctx, p, refund)
	if err != nil {
		return domain.Payment{}, err
	}
	err = s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		cur, err := r.LockPaymentByBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !cur.DepositHeld {
			p = cur
			return nil
		}
		if err := cur.ClearDeposit(cur.SecurityDeposit, 0); err != nil {
			return err
		}
		if _, err := appendOnce(ctx, r, refund.record(cur, providerID)); err != nil {
			return err
		}
		p = cur
		return r.UpdatePayment(ctx, cur)
	})
	if err != nil {
		return domain.Payment{}, &domain.TransferError{Op: "deposit_return", Reference: ref, ReviewRequired: true, Err: err}
	}
	s.d.Notifier.Notify(ctx, notice(NoticeDepositReturned, p.BookingID, p.GuestID, "amount", amount(p.SecurityDeposit)))
	log.Info().Str("booking_id", bookingID).Str("payment_id", p.ID).Msg("security deposit returned")
	return p, nil
}

// RefundRoomFeeToCustomer settles a room-fee dispute: amount goes back to the guest and the
// remainder is split by the charge-time snapshot. The local split commits first; the external
// legs follow and are resumable.
func (s *EscrowService) RefundRoomFeeToCustomer(ctx context.Context, bookingID, disputeID string, amt domain.Money) (domain.Payment, error) {
	if disputeID == "" {
		return domain.Payment{}, domain.Invalid("dispute_id", "required")
	}
	commitRef := domain.Reference(domain.RefDisputeCommit, disputeID)
	commissionRef := domain.Reference(domain.RefDisputeCommission, disputeID)
	p, err := s.commit(ctx, bookingID, commitRef, func(ctx context.Context, r domain.Repository, p *domain.Payment) error {
		if !p.RoomFeeHeld {
			return domain.Conflict("payment", p.ID, "room fee is no longer held")
		}
		if amt < 0 || amt > p.RoomFee {
			return domain.Invalid("amount", "refund exceeds the held room fee")
		}
		host, platform := p.Commission.Split(p.RoomFee - amt)
		if err := p.ClearRoomFee(amt, host, platform); err != nil {
			return err
		}
		if _, err := appendOnce(ctx, r, localEvent(*p, domain.EventCommissionCaptured, commissionRef, platform, domain.PartyEscrow, domain.PartyPlatform, "dispute "+disputeID)); err != nil {
			return err
		}
		_, err := applyCredit(ctx, r, entry{s.d.platform(), p.Currency, platform, domain.SourceDisputeSettlement, commissionRef})
		return err
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if p.RoomFeeToGuest != amt {
		return p, domain.Conflict("payment", p.ID, "room fee was settled with a different amount")
	}
	s.wallets.invalidate(ctx, s.d.platform())
	hostRef := domain.Reference(domain.RefDisputeHost, disputeID)
	return p, s.runLegs(ctx, p,
		leg{kind: legRefund, ref: domain.Reference(domain.RefDisputeGuest, disputeID), amount: p.RoomFeeToGuest,
			event: domain.EventRoomFeeRefunded, from: domain.PartyEscrow, to: domain.PartyGuest, note: "dispute " + disputeID},
		leg{kind: legTransfer, ref: hostRef, amount: p.RoomFeeToHost,
			event: domain.EventRoomFeeReleased, from: domain.PartyEscrow, to: domain.PartyHost, note: "dispute " + disputeID,
			payout: &entry{s.hostOwner(p), p.Currency, p.RoomFeeToHost, domain.SourceDisputeSettlement, hostRef}},
	)
}

// PayRealtorFromDeposit settles a deposit dispute: amount goes to the host and the rest back to the guest.
func (s *EscrowService) PayRealtorFromDeposit(ctx context.Context, bookingID, disputeID string, amt domain.Money) (domain.Payment, error) {
	if disputeID == "" {
		return domain.Payment{}, domain.Invalid("dispute_id", "required")
	}
	commitRef := domain.Reference(domain.RefDisputeCommit, disputeID)
	p, err := s.commit(ctx, bookingID, commitRef, func(_ context.Context, _ domain.Repository, p *domain.Payment) error {
		if !p.DepositHeld {
			return domain.Conflict("payment", p.ID, "security deposit is no longer held")
		}
		if amt < 0 || amt > p.SecurityDeposit {
			return domain.Invalid("amount", "payout exceeds the held deposit")
		}
		return p.ClearDeposit(p.SecurityDeposit-amt, amt)
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if p.DepositToHost != amt {
		return p, domain.Conflict("payment", p.ID, "deposit was settled with a different amount")
	}
	hostRef := domain.Reference(domain.RefDisputeHost, disputeID)
	return p, s.runLegs(ctx, p,
		leg{kind: legTransfer, ref: hostRef, amount: p.DepositToHost,
			event: domain.EventDepositPaidToHost, from: domain.PartyEscrow, to: domain.PartyHost, note: "dispute " + disputeID,
			payout: &entry{s.hostOwner(p), p.Currency, p.DepositToHost, domain.SourceDisputeSettlement, hostRef}},
		leg{kind: legRefund, ref: domain.Reference(domain.RefDisputeGuest, disputeID), amount: p.DepositToGuest,
			event: domain.EventDepositReturned, from: domain.PartyEscrow, to: domain.PartyGuest, note: "dispute " + disputeID},
	)
}

// commit applies fn to the locked payment and writes a SETTLEMENT_COMMITTED marker under ref.
// When the marker already exists the current payment is returned unchanged.
func (s *EscrowService) commit(ctx context.Context, bookingID, ref string, fn func(context.Context, domain.Repository, *domain.Payment) error) (domain.Payment, error) {
	var p domain.Payment
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		if p, err = r.LockPaymentByBooking(ctx, bookingID); err != nil {
			return err
		}
		if _, done, err := r.FindEventByReference(ctx, ref); err != nil || done {
			return err
		}
		if p.Status == domain.PaymentInitiated {
			return domain.Conflict("payment", p.ID, "funds are not held")
		}
		if err := fn(ctx, r, &p); err != nil {
			return err
		}
		if err := r.AppendEvent(ctx, localEvent(p, domain.EventSettlementCommit, ref, 0, domain.PartyEscrow, domain.PartyEscrow, "")); err != nil {
			return err
		}
		return r.UpdatePayment(ctx, p)
	})
	return p, err
}

// Cancel executes the cancellation policy. Both buckets are frozen and the split is committed
// in one unit of work; the guest refund, host transfer and deposit refund follow as resumable legs.
// Calling Cancel again after a failed leg picks up where it stopped.
func (s *EscrowService) Cancel(ctx context.Context, bookingID string) (finance.RefundBreakdown, error) {
	b, err := s.d.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return finance.RefundBreakdown{}, err
	}
	current, err := s.d.Store.GetPaymentByBooking(ctx, bookingID)
	if err != nil {
		return finance.RefundBreakdown{}, err
	}
	commitRef := domain.Reference(domain.RefCancelCommit, current.ID)
	platformRef := domain.Reference(domain.RefCancelPlatform, current.ID)

	var tier string
	p, err := s.commit(ctx, bookingID, commitRef, func(ctx context.Context, r domain.Repository, p *domain.Payment) error {
		if !p.RoomFeeHeld || (p.SecurityDeposit > 0 && !p.DepositHeld) {
			return domain.Conflict("payment", p.ID, "escrow already released")
		}
		if p.RoomFeeFrozen || p.DepositFrozen {
			return domain.Conflict("payment", p.ID, "escrow is frozen by a dispute")
		}
		out, err := finance.CalculateCancellationRefund(b, p.Commission, s.d.now(), s.d.Finance)
		if err != nil {
			return err
		}
		tier = out.Tier
		p.RoomFeeFrozen, p.DepositFrozen = true, p.DepositHeld
		if _, err := appendOnce(ctx, r, localEvent(*p, domain.EventEscrowFrozen, domain.Reference(domain.RefFreezeRoomFee, p.ID), p.RoomFee, domain.PartyEscrow, domain.PartyEscrow, "cancellation")); err != nil {
			return err
		}
		if p.DepositHeld {
			if _, err := appendOnce(ctx, r, localEvent(*p, domain.EventEscrowFrozen, domain.Reference(domain.RefFreezeDeposit, p.ID), p.SecurityDeposit, domain.PartyEscrow, domain.PartyEscrow, "cancellation")); err != nil {
				return err
			}
			if err := p.ClearDeposit(out.DepositRefund, 0); err != nil {
				return err
			}
		}
		if err := p.ClearRoomFee(out.GuestRoomRefund, out.HostPortion, out.PlatformPortion); err != nil {
			return err
		}
		if _, err := appendOnce(ctx, r, localEvent(*p, domain.EventCommissionCaptured, platformRef, out.PlatformPortion, domain.PartyEscrow, domain.PartyPlatform, "cancellation "+out.Tier)); err != nil {
			return err
		}
		_, err = applyCredit(ctx, r, entry{s.d.platform(), p.Currency, out.PlatformPortion, domain.SourceCancellation, platformRef})
		return err
	})
	if err != nil {
		return finance.RefundBreakdown{}, err
	}
	if tier == "" {
		if e, ok, _ := s.d.Store.FindEventByReference(ctx, platformRef); ok {
			tier = strings.TrimPrefix(e.Note, "cancellation ")
		}
	}
	s.wallets.invalidate(ctx, s.d.platform())

	hostRef := domain.Reference(domain.RefCancelHost, p.ID)
	err = s.runLegs(ctx, p,
		leg{kind: legRefund, ref: domain.Reference(domain.RefCancelGuest, p.ID), amount: p.RoomFeeToGuest,
			event: domain.EventRoomFeeRefunded, from: domain.PartyEscrow, to: domain.PartyGuest, note: "cancellation"},
		leg{kind: legTransfer, ref: hostRef, amount: p.RoomFeeToHost,
			event: domain.EventRoomFeeReleased, from: domain.PartyEscrow, to: domain.PartyHost, note: "cancellation",
			payout: &entry{s.hostOwner(p), p.Currency, p.RoomFeeToHost, domain.SourceCancellation, hostRef}},
		leg{kind: legRefund, ref: domain.Reference(domain.RefCancelDeposit, p.ID), amount: p.DepositToGuest,
			event: domain.EventDepositReturned, from: domain.PartyEscrow, to: domain.PartyGuest, note: "cancellation"},
	)
	if err != nil {
		if te, ok := domain.AsTransfer(err); ok && te.ReviewRequired {
			s.markReview(ctx, bookingID, err.Error())
		}
		return refundFromPayment(p, tier), err
	}
	s.d.Notifier.Notify(ctx, notice(NoticeBookingCancelled, p.BookingID, p.GuestID, "refund", amount(p.RoomFeeToGuest+p.DepositToGuest)))
	s.d.Notifier.Notify(ctx, notice(NoticeBookingCancelled, p.BookingID, p.HostID, "payout", amount(p.RoomFeeToHost)))
	log.Info().Str("booking_id", bookingID).Str("payment_id", p.ID).Str("tier", tier).Msg("booking cancelled")
	return refundFromPayment(p, tier), nil
}

// markReview flags the payment for an operator. Failures here are logged; the caller already has an error to return.
func (s *EscrowService) markReview(ctx context.Context, bookingID, detail string) {
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		p, err := r.LockPaymentByBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		p.ReviewRequired = true
		p.ReviewDetail = detail
		return r.UpdatePayment(ctx, p)
	})
	if err != nil {
		log.Error().Err(err).Str("booking_id", bookingID).Msg("could not mark payment for review")
	}
}
