package app

import (
	"context"

	"staybook_escrow/internal/domain"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Balance serves the wallet read path through the cache. Writes invalidate the key.
func (s *WalletService) Balance(ctx context.Context, owner domain.WalletOwner) (domain.Wallet, error) {
	if err := validOwner(owner); err != nil {
		return domain.Wallet{}, err
	}
	key := balanceKey(owner)
	var w domain.Wallet
	if ok, _ := s.d.Cache.Get(ctx, key, &w); ok {
		return w, nil
	}
	w, err := s.d.Store.GetWallet(ctx, owner)
	if err != nil {
		return domain.Wallet{}, err
	}
	_ = s.d.Cache.Set(ctx, key, w, int(s.d.CacheTTL.Seconds()))
	return w, nil
}

// ListTransactions is scoped to the owner's wallet; a cursor from another wallet yields an empty page.
func (s *WalletService) ListTransactions(ctx context.Context, owner domain.WalletOwner, pg domain.PageQuery) (domain.TransactionsPage, error) {
	if err := validOwner(owner); err != nil {
		return domain.TransactionsPage{}, err
	}
	if pg.Limit <= 0 {
		pg.Limit = defaultPageLimit
	}
	if pg.Limit > maxPageLimit {
		pg.Limit = maxPageLimit
	}
	w, err := s.d.Store.GetWallet(ctx, owner)
	if err != nil {
		return domain.TransactionsPage{}, err
	}
	page, err := s.d.Store.ListWalletTransactions(ctx, w.ID, pg)
	if err != nil {
		return domain.TransactionsPage{}, err
	}
	return copyTransactionsPage(page), nil
}

// ListEvents returns the escrow audit log for a booking, oldest first.
func (s *EscrowService) ListEvents(ctx context.Context, bookingID string) ([]domain.EscrowEvent, error) {
	if bookingID == "" {
		return nil, domain.Invalid("booking_id", "required")
	}
	return s.d.Store.ListEvents(ctx, bookingID)
}

func copyTransactionsPage(in domain.TransactionsPage) domain.TransactionsPage {
	out := domain.TransactionsPage{NextCursor: in.NextCursor}
	if n := len(in.Items); n > 0 {
		out.Items = make([]domain.WalletTransaction, n)
		copy(out.Items, in.Items)
	}
	return out
}
