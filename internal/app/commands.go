package app

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/domain"
)

type legKind int

const (
	legTransfer legKind = iota // escrow -> host payout account
	legRefund                  // escrow -> guest's original charge
)

// leg is one external money movement and the audit record written after it succeeds.
type leg struct {
	kind   legKind
	ref    string
	amount domain.Money
	event  domain.EventType
	from   domain.Party
	to     domain.Party
	note   string
	payout *entry // host journal lines applied with the event
}

func asTransferError(op, ref string, err error) *domain.TransferError {
	if te, ok := domain.AsTransfer(err); ok {
		return &domain.TransferError{Op: op, Reference: ref, Retryable: te.Retryable, ReviewRequired: te.ReviewRequired, Err: te.Err}
	}
	// context cancellation and unknown errors are treated as ambiguous
	return &domain.TransferError{Op: op, Reference: ref, ReviewRequired: true, Err: err}
}

func transferOutcome(te *domain.TransferError) string {
	switch {
	case te == nil:
		return "ok"
	case te.Retryable:
		return "retryable"
	case te.ReviewRequired:
		return "ambiguous"
	default:
		return "rejected"
	}
}

// send moves the money for l unless its reference is already in the audit log.
// It returns the provider id and whether the provider was actually called.
func (s *EscrowService) send(ctx context.Context, p domain.Payment, l leg) (string, bool, error) {
	if l.amount <= 0 {
		return "", false, nil
	}
	if e, ok, err := s.d.Store.FindEventByReference(ctx, l.ref); err != nil {
		return "", false, err
	} else if ok {
		return e.ProviderTransferID, false, nil
	}

	var (
		res  domain.TransferResult
		err  error
		kind = "transfer"
	)
	switch l.kind {
	case legRefund:
		kind = "refund"
		res, err = s.d.Provider.ProcessRefund(ctx, domain.RefundRequest{
			TransactionReference: p.ProviderReference, Amount: l.amount, Currency: p.Currency, Reference: l.ref,
		})
	default:
		res, err = s.d.Provider.InitiateTransfer(ctx, domain.TransferRequest{
			Amount: l.amount, Currency: p.Currency, Recipient: p.HostPayoutAccount, Reference: l.ref,
		})
	}
	if err != nil {
		te := asTransferError(string(l.event), l.ref, err)
		observability.ObserveTransfer(kind, transferOutcome(te))
		log.Warn().Err(err).Str("payment_id", p.ID).Str("reference", l.ref).Msg("provider call failed")
		return "", true, te
	}
	observability.ObserveTransfer(kind, "ok")
	return res.ProviderID, true, nil
}

func (l leg) record(p domain.Payment, providerID string) domain.EscrowEvent {
	return domain.EscrowEvent{
		ID: uuid.NewString(), BookingID: p.BookingID, PaymentID: p.ID, Type: l.event,
		Amount: l.amount, From: l.from, To: l.to, Reference: l.ref, ProviderTransferID: providerID, Note: l.note,
	}
}

// appendOnce writes e unless its reference is already recorded.
func appendOnce(ctx context.Context, r domain.Repository, e domain.EscrowEvent) (bool, error) {
	if _, ok, err := r.FindEventByReference(ctx, e.Reference); err != nil || ok {
		return false, err
	}
	return true, r.AppendEvent(ctx, e)
}

// runLegs performs each leg in order and records it on success. It stops at the first failure;
// completed legs stay recorded so a later call resumes where this one stopped.
func (s *EscrowService) runLegs(ctx context.Context, p domain.Payment, legs ...leg) error {
	for _, l := range legs {
		providerID, called, err := s.send(ctx, p, l)
		if err != nil {
			return err
		}
		if !called {
			continue
		}
		err = s.d.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
			fresh, err := appendOnce(ctx, r, l.record(p, providerID))
			if err != nil || !fresh || l.payout == nil {
				return err
			}
			return applyPaidOut(ctx, r, *l.payout)
		})
		if err != nil {
			// the provider already moved the money; only an operator can reconcile this
			return &domain.TransferError{Op: string(l.event), Reference: l.ref, ReviewRequired: true, Err: errors.Join(errors.New("recording completed transfer"), err)}
		}
		if l.payout != nil {
			s.wallets.invalidate(ctx, l.payout.owner)
		}
	}
	return nil
}
