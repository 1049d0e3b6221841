package provider

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"staybook_escrow/internal/domain"
)

// Sandbox accepts every transfer and refund without moving money. It honors idempotency
// by reference so repeated calls return the same id.
type Sandbox struct {
	mu   sync.Mutex
	seen map[string]string
}

var _ domain.PaymentProvider = (*Sandbox)(nil)

func NewSandbox() *Sandbox { return &Sandbox{seen: map[string]string{}} }

func (s *Sandbox) record(prefix, ref string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.seen[ref]; ok {
		return id
	}
	id := prefix + ref
	s.seen[ref] = id
	return id
}

func (s *Sandbox) InitiateTransfer(_ context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	id := s.record("sbx_tr_", req.Reference)
	log.Info().Str("reference", req.Reference).Str("recipient", req.Recipient).Int64("amount", int64(req.Amount)).
		Msg("sandbox transfer")
	return domain.TransferResult{ProviderID: id}, nil
}

func (s *Sandbox) ProcessRefund(_ context.Context, req domain.RefundRequest) (domain.TransferResult, error) {
	id := s.record("sbx_re_", req.Reference)
	log.Info().Str("reference", req.Reference).Str("charge", req.TransactionReference).Int64("amount", int64(req.Amount)).
		Msg("sandbox refund")
	return domain.TransferResult{ProviderID: id}, nil
}
