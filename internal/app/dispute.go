package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

// DisputeService runs the dispute state machine. Money only moves through EscrowService.
type DisputeService struct {
	d      Deps
	escrow *EscrowService
}

func NewDisputeService(d Deps, escrow *EscrowService) *DisputeService {
	return &DisputeService{d: d.withDefaults(), escrow: escrow}
}

func transition(d *domain.Dispute, to domain.DisputeStatus) error {
	if !domain.CanTransition(d.Status, to) {
		return domain.Conflict("dispute", d.ID, "cannot move from "+string(d.Status)+" to "+string(to))
	}
	observability.ObserveDisputeTransition(string(d.Status), string(to))
	d.Status = to
	return nil
}

// OpenRoomFeeDispute is raised by the guest between check-in and the end of the room-fee window.
func (s *DisputeService) OpenRoomFeeDispute(ctx context.Context, bookingID, guestID string, cat domain.DisputeCategory, note string) (domain.Dispute, error) {
	b, err := s.d.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if b.GuestID != guestID {
		return domain.Dispute{}, domain.Invalid("guest_id", "only the booking's guest can dispute the room fee")
	}
	if b.Status == domain.BookingCancelled {
		return domain.Dispute{}, domain.Conflict("booking", b.ID, "booking is cancelled")
	}
	now := s.d.now()
	if now.Before(b.CheckIn) || !now.Before(b.CheckIn.Add(s.d.Finance.Disputes.RoomFeeWindow)) {
		return domain.Dispute{}, domain.Invalid("opened_at", "room fee dispute window is closed")
	}
	p, err := s.d.Store.GetPaymentByBooking(ctx, bookingID)
	if err != nil {
		return domain.Dispute{}, err
	}
	capAmount, settlements, err := finance.PrecomputeRoomFeeSettlements(p.RoomFee, cat, p.Commission, s.d.Finance)
	if err != nil {
		return domain.Dispute{}, err
	}
	d := domain.Dispute{
		ID: uuid.NewString(), BookingID: b.ID, PaymentID: p.ID,
		Subject: domain.SubjectRoomFee, Category: cat, Status: domain.DisputeAwaitingResponse,
		OpenedBy: guestID, Responder: b.HostID, Note: note,
		ClaimedAmount: capAmount, CapAmount: capAmount, Settlements: settlements,
		ClaimOutcome:     finance.ClaimOutcome(domain.SubjectRoomFee),
		ResponseDeadline: now.Add(s.d.Finance.Disputes.ResponseWindow),
		CreatedAt:        now,
	}
	return s.open(ctx, d, b.HostID)
}

// OpenDepositDispute is raised by the host between checkout and the end of the deposit window.
// The claim is capped at the deposit.
func (s *DisputeService) OpenDepositDispute(ctx context.Context, bookingID, hostID string, cat domain.DisputeCategory, claimed domain.Money, note string) (domain.Dispute, error) {
	b, err := s.d.Bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if b.HostID != hostID {
		return domain.Dispute{}, domain.Invalid("host_id", "only the booking's host can claim against the deposit")
	}
	now := s.d.now()
	if now.Before(b.CheckOut) || !now.Before(b.CheckOut.Add(s.d.Finance.Disputes.DepositWindow)) {
		return domain.Dispute{}, domain.Invalid("opened_at", "deposit dispute window is closed")
	}
	p, err := s.d.Store.GetPaymentByBooking(ctx, bookingID)
	if err != nil {
		return domain.Dispute{}, err
	}
	claim, settlements, err := finance.PrecomputeDepositSettlements(p.SecurityDeposit, claimed, cat, s.d.Finance)
	if err != nil {
		return domain.Dispute{}, err
	}
	d := domain.Dispute{
		ID: uuid.NewString(), BookingID: b.ID, PaymentID: p.ID,
		Subject: domain.SubjectSecurityDeposit, Category: cat, Status: domain.DisputeAwaitingResponse,
		OpenedBy: hostID, Responder: b.GuestID, Note: note,
		ClaimedAmount: claim, CapAmount: p.SecurityDeposit, Settlements: settlements,
		ClaimOutcome:     finance.ClaimOutcome(domain.SubjectSecurityDeposit),
		ResponseDeadline: now.Add(s.d.Finance.Disputes.ResponseWindow),
		CreatedAt:        now,
	}
	return s.open(ctx, d, b.GuestID)
}

// open freezes the disputed bucket and stores the dispute in one unit of work.
func (s *DisputeService) open(ctx context.Context, d domain.Dispute, counterparty string) (domain.Dispute, error) {
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		p, err := r.LockPaymentByBooking(ctx, d.BookingID)
		if err != nil {
			return err
		}
		if _, active, err := r.FindActiveDispute(ctx, d.BookingID, d.Subject); err != nil {
			return err
		} else if active {
			return domain.Conflict("dispute", d.BookingID, "an active "+string(d.Subject)+" dispute already exists")
		}
		var (
			held, frozen bool
			amt          domain.Money
			ref          string
		)
		if d.Subject == domain.SubjectRoomFee {
			held, frozen, amt = p.RoomFeeHeld, p.RoomFeeFrozen, p.RoomFee
			ref = domain.Reference(domain.RefFreezeRoomFee, d.ID)
			p.RoomFeeFrozen = true
		} else {
			held, frozen, amt = p.DepositHeld, p.DepositFrozen, p.SecurityDeposit
			ref = domain.Reference(domain.RefFreezeDeposit, d.ID)
			p.DepositFrozen = true
		}
		if !held {
			return domain.Conflict("payment", p.ID, "nothing held for "+string(d.Subject))
		}
		if frozen {
			return domain.Conflict("payment", p.ID, string(d.Subject)+" is already frozen")
		}
		if err := r.CreateDispute(ctx, d); err != nil {
			return err
		}
		if err := r.AppendEvent(ctx, localEvent(p, domain.EventEscrowFrozen, ref, amt, domain.PartyEscrow, domain.PartyEscrow, "dispute "+d.ID)); err != nil {
			return err
		}
		return r.UpdatePayment(ctx, p)
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	observability.ObserveDisputeTransition("NONE", string(d.Status))
	s.d.Notifier.Notify(ctx, notice(NoticeDisputeOpened, d.BookingID, counterparty,
		"dispute_id", d.ID, "category", string(d.Category), "deadline", d.ResponseDeadline.Format("2006-01-02T15:04:05Z07:00")))
	log.Info().Str("dispute_id", d.ID).Str("booking_id", d.BookingID).Str("subject", string(d.Subject)).Msg("dispute opened")
	return d, nil
}

// Respond is the counterparty's single answer. ACCEPT executes the claim, REJECT escalates to an admin.
func (s *DisputeService) Respond(ctx context.Context, disputeID, responderID string, resp domain.DisputeResponse) (domain.Dispute, error) {
	if resp != domain.ResponseAccept && resp != domain.ResponseReject {
		return domain.Dispute{}, domain.Invalid("response", "must be ACCEPT or REJECT")
	}
	d, err := s.d.Store.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.Responder != responderID {
		return domain.Dispute{}, domain.Invalid("responder_id", "not the counterparty of this dispute")
	}
	if d.Status != domain.DisputeAwaitingResponse {
		return domain.Dispute{}, domain.Conflict("dispute", d.ID, "dispute is "+string(d.Status))
	}
	if !s.d.now().Before(d.ResponseDeadline) {
		return domain.Dispute{}, domain.Conflict("dispute", d.ID, "response window has closed")
	}

	if resp == domain.ResponseAccept {
		return s.settle(ctx, d.ID, d.ClaimOutcome, func(d *domain.Dispute) error {
			if d.Status != domain.DisputeAwaitingResponse {
				return domain.Conflict("dispute", d.ID, "dispute is "+string(d.Status))
			}
			d.Response, d.DecidedBy = resp, responderID
			return nil
		})
	}
	d, err = s.update(ctx, d.ID, func(d *domain.Dispute) error {
		if d.Status != domain.DisputeAwaitingResponse {
			return domain.Conflict("dispute", d.ID, "dispute is "+string(d.Status))
		}
		d.Response = resp
		return transition(d, domain.DisputeEscalated)
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	s.d.Notifier.Notify(ctx, notice(NoticeDisputeEscalated, d.BookingID, AdminRecipient, "dispute_id", d.ID))
	return d, nil
}

// Adjudicate applies an admin decision to an escalated dispute. Amounts come only from the precomputed table.
func (s *DisputeService) Adjudicate(ctx context.Context, disputeID, adminID string, outcome domain.DisputeOutcome, note string) (domain.Dispute, error) {
	if adminID == "" {
		return domain.Dispute{}, domain.Invalid("admin_id", "required")
	}
	d, err := s.d.Store.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	allowed := false
	for _, o := range finance.AdminOutcomes(d.Subject) {
		allowed = allowed || o == outcome
	}
	if !allowed {
		return domain.Dispute{}, domain.Invalid("outcome", string(outcome)+" does not apply to "+string(d.Subject))
	}
	return s.settle(ctx, d.ID, outcome, func(d *domain.Dispute) error {
		if d.Status != domain.DisputeEscalated {
			return domain.Conflict("dispute", d.ID, "only escalated disputes can be adjudicated")
		}
		d.DecidedBy, d.AdminNote = adminID, note
		return nil
	})
}

// RetrySettlement re-runs the settlement legs of a dispute an operator has looked at, or of one
// left in SETTLING for longer than SettlementStaleAfter. Legs already recorded are not sent again.
func (s *DisputeService) RetrySettlement(ctx context.Context, disputeID, adminID string) (domain.Dispute, error) {
	if adminID == "" {
		return domain.Dispute{}, domain.Invalid("admin_id", "required")
	}
	d, err := s.d.Store.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.Resolution == nil || (d.Status != domain.DisputeReviewRequired && !s.stuck(d)) {
		return domain.Dispute{}, domain.Conflict("dispute", d.ID, "dispute is "+string(d.Status))
	}
	log.Info().Str("dispute_id", d.ID).Str("admin_id", adminID).Str("status", string(d.Status)).Msg("retrying dispute settlement")
	return s.execute(ctx, d)
}

// stuck reports whether a settlement has stopped making progress.
func (s *DisputeService) stuck(d domain.Dispute) bool {
	return d.Status == domain.DisputeSettling &&
		!s.d.now().Before(d.UpdatedAt.Add(s.d.Finance.Disputes.SettlementStaleAfter))
}

// ParkStuckSettlement hands a dispute that has sat in SETTLING past SettlementStaleAfter to an admin.
// Its legs may be partly sent; RetrySettlement finishes them.
func (s *DisputeService) ParkStuckSettlement(ctx context.Context, disputeID string) (domain.Dispute, error) {
	const detail = "settlement did not finish"
	d, err := s.update(ctx, disputeID, func(d *domain.Dispute) error {
		if d.Status != domain.DisputeSettling {
			return domain.Conflict("dispute", d.ID, "dispute is "+string(d.Status))
		}
		if !s.stuck(*d) {
			return domain.Invalid("updated_at", "settlement still in progress")
		}
		d.FailureDetail = detail
		return transition(d, domain.DisputeReviewRequired)
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	log.Warn().Str("dispute_id", d.ID).Str("booking_id", d.BookingID).Msg("stuck dispute settlement parked for review")
	s.escrow.markReview(ctx, d.BookingID, "dispute "+d.ID+": "+detail)
	s.d.Notifier.Notify(ctx, notice(NoticeSettlementPending, d.BookingID, AdminRecipient, "dispute_id", d.ID))
	return d, nil
}

// EscalateStale moves an unanswered dispute to an admin once its response deadline has passed.
func (s *DisputeService) EscalateStale(ctx context.Context, disputeID string) (domain.Dispute, error) {
	now := s.d.now()
	d, err := s.update(ctx, disputeID, func(d *domain.Dispute) error {
		if d.Status != domain.DisputeAwaitingResponse {
			return domain.Conflict("dispute", d.ID, "dispute is "+string(d.Status))
		}
		if now.Before(d.ResponseDeadline) {
			return domain.Invalid("response_deadline", "response window still open")
		}
		return transition(d, domain.DisputeEscalated)
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	s.d.Notifier.Notify(ctx, notice(NoticeDisputeEscalated, d.BookingID, AdminRecipient, "dispute_id", d.ID, "reason", "no response"))
	return d, nil
}

func (s *DisputeService) update(ctx context.Context, id string, fn func(*domain.Dispute) error) (domain.Dispute, error) {
	var d domain.Dispute
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		var err error
		if d, err = r.LockDispute(ctx, id); err != nil {
			return err
		}
		if err := fn(&d); err != nil {
			return err
		}
		return r.UpdateDispute(ctx, d)
	})
	return d, err
}

// settle records the chosen outcome, moves the dispute to SETTLING and executes it.
func (s *DisputeService) settle(ctx context.Context, id string, outcome domain.DisputeOutcome, guard func(*domain.Dispute) error) (domain.Dispute, error) {
	d, err := s.update(ctx, id, func(d *domain.Dispute) error {
		if err := guard(d); err != nil {
			return err
		}
		st, ok := d.SettlementFor(outcome)
		if !ok {
			return domain.Invalid("outcome", "no settlement computed for "+string(outcome))
		}
		if !finance.WithinCap(*d, st) {
			return domain.Invalid("outcome", "settlement exceeds the category cap")
		}
		d.Outcome, d.Resolution = outcome, &st
		return transition(d, domain.DisputeSettling)
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	return s.execute(ctx, d)
}

// execute drives the escrow settlement. A failure parks the dispute in REVIEW_REQUIRED with the
// error persisted; success resolves it.
func (s *DisputeService) execute(ctx context.Context, d domain.Dispute) (domain.Dispute, error) {
	var err error
	switch d.Subject {
	case domain.SubjectRoomFee:
		_, err = s.escrow.RefundRoomFeeToCustomer(ctx, d.BookingID, d.ID, d.Resolution.GuestAmount)
	default:
		_, err = s.escrow.PayRealtorFromDeposit(ctx, d.BookingID, d.ID, d.Resolution.HostAmount)
	}
	if err != nil {
		return s.park(ctx, d, err)
	}

	now := s.d.now()
	resolved, err := s.update(ctx, d.ID, func(d *domain.Dispute) error {
		if err := transition(d, domain.DisputeResolved); err != nil {
			return err
		}
		d.FailureDetail = ""
		d.ResolvedAt = &now
		return nil
	})
	if err != nil {
		// every leg is recorded, so a retry only has to resolve the dispute
		return s.park(ctx, d, errors.Join(errors.New("resolving settled dispute"), err))
	}
	d = resolved
	s.clearReview(ctx, d)
	for _, who := range []string{d.OpenedBy, d.Responder} {
		s.d.Notifier.Notify(ctx, notice(NoticeDisputeResolved, d.BookingID, who,
			"dispute_id", d.ID, "outcome", string(d.Outcome),
			"guest_amount", amount(d.Resolution.GuestAmount), "host_amount", amount(d.Resolution.HostAmount)))
	}
	log.Info().Str("dispute_id", d.ID).Str("outcome", string(d.Outcome)).Msg("dispute resolved")
	return d, nil
}

// park moves a SETTLING dispute to REVIEW_REQUIRED with cause persisted. When even that write
// fails the row stays in SETTLING and the stuck-settlement sweep parks it later.
func (s *DisputeService) park(ctx context.Context, d domain.Dispute, cause error) (domain.Dispute, error) {
	log.Error().Err(cause).Str("dispute_id", d.ID).Str("booking_id", d.BookingID).Msg("dispute settlement needs review")
	parked, err := s.update(ctx, d.ID, func(d *domain.Dispute) error {
		d.FailureDetail = cause.Error()
		return transition(d, domain.DisputeReviewRequired)
	})
	if err != nil {
		log.Error().Err(err).Str("dispute_id", d.ID).Msg("could not park dispute for review")
		parked = d
	}
	s.escrow.markReview(ctx, d.BookingID, "dispute "+d.ID+": "+cause.Error())
	s.d.Notifier.Notify(ctx, notice(NoticeSettlementPending, d.BookingID, AdminRecipient, "dispute_id", d.ID))
	return parked, &domain.TransferError{Op: "dispute_settlement", Reference: d.ID, ReviewRequired: true, Err: cause}
}

// clearReview drops the payment's review marker when it was raised by this dispute.
func (s *DisputeService) clearReview(ctx context.Context, d domain.Dispute) {
	prefix := "dispute " + d.ID + ":"
	err := s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		p, err := r.LockPaymentByBooking(ctx, d.BookingID)
		if err != nil || !p.ReviewRequired || !strings.HasPrefix(p.ReviewDetail, prefix) {
			return err
		}
		p.ReviewRequired, p.ReviewDetail = false, ""
		return r.UpdatePayment(ctx, p)
	})
	if err != nil {
		log.Warn().Err(err).Str("dispute_id", d.ID).Msg("could not clear payment review marker")
	}
}
