package memory

import (
	"context"
	"time"

	"staybook_escrow/internal/domain"
)

var _ domain.Store = (*Store)(nil)

func (s *Store) CreatePayment(ctx context.Context, p domain.Payment) error {
	return s.with(func(r *repo) error { return r.CreatePayment(ctx, p) })
}

func (s *Store) GetPayment(ctx context.Context, id string) (out domain.Payment, err error) {
	err = s.with(func(r *repo) error { out, err = r.GetPayment(ctx, id); return err })
	return out, err
}

func (s *Store) GetPaymentByBooking(ctx context.Context, bookingID string) (out domain.Payment, err error) {
	err = s.with(func(r *repo) error { out, err = r.GetPaymentByBooking(ctx, bookingID); return err })
	return out, err
}

func (s *Store) LockPaymentByBooking(ctx context.Context, bookingID string) (domain.Payment, error) {
	return s.GetPaymentByBooking(ctx, bookingID)
}

func (s *Store) UpdatePayment(ctx context.Context, p domain.Payment) error {
	return s.with(func(r *repo) error { return r.UpdatePayment(ctx, p) })
}

func (s *Store) HostMonthlyVolume(ctx context.Context, hostID string, from, to time.Time) (out domain.Money, err error) {
	err = s.with(func(r *repo) error { out, err = r.HostMonthlyVolume(ctx, hostID, from, to); return err })
	return out, err
}

func (s *Store) ListReleaseCandidates(ctx context.Context, before time.Time, after domain.SweepCursor, limit int) (out []domain.Payment, err error) {
	err = s.with(func(r *repo) error { out, err = r.ListReleaseCandidates(ctx, before, after, limit); return err })
	return out, err
}

func (s *Store) ListDepositReturnCandidates(ctx context.Context, before time.Time, after domain.SweepCursor, limit int) (out []domain.Payment, err error) {
	err = s.with(func(r *repo) error { out, err = r.ListDepositReturnCandidates(ctx, before, after, limit); return err })
	return out, err
}

func (s *Store) AppendEvent(ctx context.Context, e domain.EscrowEvent) error {
	return s.with(func(r *repo) error { return r.AppendEvent(ctx, e) })
}

func (s *Store) FindEventByReference(ctx context.Context, ref string) (out domain.EscrowEvent, ok bool, err error) {
	err = s.with(func(r *repo) error { out, ok, err = r.FindEventByReference(ctx, ref); return err })
	return out, ok, err
}

func (s *Store) ListEvents(ctx context.Context, bookingID string) (out []domain.EscrowEvent, err error) {
	err = s.with(func(r *repo) error { out, err = r.ListEvents(ctx, bookingID); return err })
	return out, err
}

func (s *Store) CreateDispute(ctx context.Context, d domain.Dispute) error {
	return s.with(func(r *repo) error { return r.CreateDispute(ctx, d) })
}

func (s *Store) GetDispute(ctx context.Context, id string) (out domain.Dispute, err error) {
	err = s.with(func(r *repo) error { out, err = r.GetDispute(ctx, id); return err })
	return out, err
}

func (s *Store) LockDispute(ctx context.Context, id string) (domain.Dispute, error) {
	return s.GetDispute(ctx, id)
}

func (s *Store) UpdateDispute(ctx context.Context, d domain.Dispute) error {
	return s.with(func(r *repo) error { return r.UpdateDispute(ctx, d) })
}

func (s *Store) FindActiveDispute(ctx context.Context, bookingID string, subject domain.DisputeSubject) (out domain.Dispute, ok bool, err error) {
	err = s.with(func(r *repo) error { out, ok, err = r.FindActiveDispute(ctx, bookingID, subject); return err })
	return out, ok, err
}

func (s *Store) ListStaleDisputes(ctx context.Context, before time.Time, after domain.SweepCursor, limit int) (out []domain.Dispute, err error) {
	err = s.with(func(r *repo) error { out, err = r.ListStaleDisputes(ctx, before, after, limit); return err })
	return out, err
}

func (s *Store) ListStuckSettlements(ctx context.Context, before time.Time, after domain.SweepCursor, limit int) (out []domain.Dispute, err error) {
	err = s.with(func(r *repo) error { out, err = r.ListStuckSettlements(ctx, before, after, limit); return err })
	return out, err
}

func (s *Store) LockWallet(ctx context.Context, owner domain.WalletOwner, currency string) (out domain.Wallet, err error) {
	err = s.with(func(r *repo) error { out, err = r.LockWallet(ctx, owner, currency); return err })
	return out, err
}

func (s *Store) LockWalletByID(ctx context.Context, id string) (out domain.Wallet, err error) {
	err = s.with(func(r *repo) error { out, err = r.LockWalletByID(ctx, id); return err })
	return out, err
}

func (s *Store) GetWallet(ctx context.Context, owner domain.WalletOwner) (out domain.Wallet, err error) {
	err = s.with(func(r *repo) error { out, err = r.GetWallet(ctx, owner); return err })
	return out, err
}

func (s *Store) UpdateWallet(ctx context.Context, w domain.Wallet) error {
	return s.with(func(r *repo) error { return r.UpdateWallet(ctx, w) })
}

func (s *Store) AppendWalletTransaction(ctx context.Context, tx domain.WalletTransaction) error {
	return s.with(func(r *repo) error { return r.AppendWalletTransaction(ctx, tx) })
}

func (s *Store) FindWalletTransaction(ctx context.Context, walletID, ref string) (out domain.WalletTransaction, ok bool, err error) {
	err = s.with(func(r *repo) error { out, ok, err = r.FindWalletTransaction(ctx, walletID, ref); return err })
	return out, ok, err
}

func (s *Store) LockWalletTransaction(ctx context.Context, id string) (out domain.WalletTransaction, err error) {
	err = s.with(func(r *repo) error { out, err = r.LockWalletTransaction(ctx, id); return err })
	return out, err
}

func (s *Store) UpdateWalletTransaction(ctx context.Context, tx domain.WalletTransaction) error {
	return s.with(func(r *repo) error { return r.UpdateWalletTransaction(ctx, tx) })
}

func (s *Store) ListWalletTransactions(ctx context.Context, walletID string, pg domain.PageQuery) (out domain.TransactionsPage, err error) {
	err = s.with(func(r *repo) error { out, err = r.ListWalletTransactions(ctx, walletID, pg); return err })
	return out, err
}
