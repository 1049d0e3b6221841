// Package memory is a process-local domain.Store used for development and tests.
// InTx serializes units of work and applies them to a copy of the state, swapping it in on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"staybook_escrow/internal/domain"
)

type walletKey struct {
	owner    domain.WalletOwner
	currency string
}

type state struct {
	payments  map[string]domain.Payment
	byBooking map[string]string
	events    []domain.EscrowEvent
	eventRefs map[string]int
	disputes  map[string]domain.Dispute
	wallets   map[string]domain.Wallet
	walletIDs map[walletKey]string
	txs       map[string]domain.WalletTransaction
	txOrder   map[string][]string // wallet id -> tx ids, oldest first
	txRefs    map[string]string   // wallet id + reference -> tx id
}

func newState() *state {
	return &state{
		payments:  map[string]domain.Payment{},
		byBooking: map[string]string{},
		eventRefs: map[string]int{},
		disputes:  map[string]domain.Dispute{},
		wallets:   map[string]domain.Wallet{},
		walletIDs: map[walletKey]string{},
		txs:       map[string]domain.WalletTransaction{},
		txOrder:   map[string][]string{},
		txRefs:    map[string]string{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.byBooking {
		c.byBooking[k] = v
	}
	c.events = append([]domain.EscrowEvent(nil), s.events...)
	for k, v := range s.eventRefs {
		c.eventRefs[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = copyDispute(v)
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.walletIDs {
		c.walletIDs[k] = v
	}
	for k, v := range s.txs {
		c.txs[k] = v
	}
	for k, v := range s.txOrder {
		c.txOrder[k] = append([]string(nil), v...)
	}
	for k, v := range s.txRefs {
		c.txRefs[k] = v
	}
	return c
}

func copyDispute(d domain.Dispute) domain.Dispute {
	d.Settlements = append([]domain.Settlement(nil), d.Settlements...)
	if d.Resolution != nil {
		r := *d.Resolution
		d.Resolution = &r
	}
	return d
}

// Store guards the live state. Calls outside InTx each take the lock for their own duration.
type Store struct {
	mu    sync.Mutex
	st    *state
	clock domain.Clock
}

func New(clock domain.Clock) *Store {
	return &Store{st: newState(), clock: clock}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r domain.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(ctx, &repo{st: work, clock: s.clock}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// with runs a single call against the live state.
func (s *Store) with(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.st, clock: s.clock})
}

// repo implements domain.Repository over one state value. It is not safe for concurrent use.
type repo struct {
	st    *state
	clock domain.Clock
}

func (r *repo) now() time.Time { return r.clock.Now().UTC() }

// Payments

func (r *repo) CreatePayment(_ context.Context, p domain.Payment) error {
	if _, ok := r.st.byBooking[p.BookingID]; ok {
		return domain.Conflict("payment", p.BookingID, "booking already has a payment")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	p.UpdatedAt = p.CreatedAt
	r.st.payments[p.ID] = p
	r.st.byBooking[p.BookingID] = p.ID
	return nil
}

func (r *repo) GetPayment(_ context.Context, id string) (domain.Payment, error) {
	p, ok := r.st.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *repo) GetPaymentByBooking(ctx context.Context, bookingID string) (domain.Payment, error) {
	id, ok := r.st.byBooking[bookingID]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return r.GetPayment(ctx, id)
}

func (r *repo) LockPaymentByBooking(ctx context.Context, bookingID string) (domain.Payment, error) {
	return r.GetPaymentByBooking(ctx, bookingID)
}

func (r *repo) UpdatePayment(_ context.Context, p domain.Payment) error {
	if _, ok := r.st.payments[p.ID]; !ok {
		return domain.ErrNotFound
	}
	p.UpdatedAt = r.now()
	r.st.payments[p.ID] = p
	return nil
}

func (r *repo) HostMonthlyVolume(_ context.Context, hostID string, from, to time.Time) (domain.Money, error) {
	var sum domain.Money
	for _, p := range r.st.payments {
		if p.HostID != hostID || p.Status == domain.PaymentInitiated {
			continue
		}
		if !p.CheckIn.Before(from) && p.CheckIn.Before(to) {
			sum += p.RoomFee
		}
	}
	return sum, nil
}

func (r *repo) ListReleaseCandidates(_ context.Context, checkInBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Payment, error) {
	return r.filterPayments(after, limit, checkInKey, func(p domain.Payment) bool {
		return p.RoomFeeHeld && !p.RoomFeeFrozen && !p.ReviewRequired && p.CheckIn.Before(checkInBefore)
	}), nil
}

func (r *repo) ListDepositReturnCandidates(_ context.Context, checkOutBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Payment, error) {
	return r.filterPayments(after, limit, checkOutKey, func(p domain.Payment) bool {
		return p.DepositHeld && !p.DepositFrozen && !p.ReviewRequired && p.CheckOut.Before(checkOutBefore)
	}), nil
}

func checkInKey(p domain.Payment) time.Time  { return p.CheckIn }
func checkOutKey(p domain.Payment) time.Time { return p.CheckOut }

// filterPayments returns up to limit matching payments past the cursor, ordered by (key, id).
func (r *repo) filterPayments(after domain.SweepCursor, limit int, key func(domain.Payment) time.Time, keep func(domain.Payment) bool) []domain.Payment {
	var out []domain.Payment
	for _, p := range r.st.payments {
		if keep(p) && after.Precedes(key(p), p.ID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ki, kj := key(out[i]), key(out[j]); !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Escrow events

func (r *repo) AppendEvent(_ context.Context, e domain.EscrowEvent) error {
	if _, ok := r.st.eventRefs[e.Reference]; ok {
		return domain.Conflict("escrow_event", e.Reference, "reference already recorded")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	r.st.eventRefs[e.Reference] = len(r.st.events)
	r.st.events = append(r.st.events, e)
	return nil
}

func (r *repo) FindEventByReference(_ context.Context, reference string) (domain.EscrowEvent, bool, error) {
	i, ok := r.st.eventRefs[reference]
	if !ok {
		return domain.EscrowEvent{}, false, nil
	}
	return r.st.events[i], true, nil
}

func (r *repo) ListEvents(_ context.Context, bookingID string) ([]domain.EscrowEvent, error) {
	var out []domain.EscrowEvent
	for _, e := range r.st.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Disputes

func (r *repo) CreateDispute(_ context.Context, d domain.Dispute) error {
	if _, ok := r.st.disputes[d.ID]; ok {
		return domain.Conflict("dispute", d.ID, "already exists")
	}
	for _, x := range r.st.disputes {
		if x.BookingID == d.BookingID && x.Subject == d.Subject && !x.Terminal() {
			return domain.Conflict("dispute", x.ID, "an active dispute already exists for this subject")
		}
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.now()
	}
	d.UpdatedAt = d.CreatedAt
	r.st.disputes[d.ID] = copyDispute(d)
	return nil
}

func (r *repo) GetDispute(_ context.Context, id string) (domain.Dispute, error) {
	d, ok := r.st.disputes[id]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	return copyDispute(d), nil
}

func (r *repo) LockDispute(ctx context.Context, id string) (domain.Dispute, error) {
	return r.GetDispute(ctx, id)
}

func (r *repo) UpdateDispute(_ context.Context, d domain.Dispute) error {
	if _, ok := r.st.disputes[d.ID]; !ok {
		return domain.ErrNotFound
	}
	d.UpdatedAt = r.now()
	r.st.disputes[d.ID] = copyDispute(d)
	return nil
}

func (r *repo) FindActiveDispute(_ context.Context, bookingID string, subject domain.DisputeSubject) (domain.Dispute, bool, error) {
	for _, d := range r.st.disputes {
		if d.BookingID == bookingID && d.Subject == subject && !d.Terminal() {
			return copyDispute(d), true, nil
		}
	}
	return domain.Dispute{}, false, nil
}

func (r *repo) ListStaleDisputes(_ context.Context, deadlineBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Dispute, error) {
	return r.filterDisputes(after, limit, func(d domain.Dispute) time.Time { return d.ResponseDeadline }, func(d domain.Dispute) bool {
		return d.Status == domain.DisputeAwaitingResponse && d.ResponseDeadline.Before(deadlineBefore)
	}), nil
}

func (r *repo) ListStuckSettlements(_ context.Context, updatedBefore time.Time, after domain.SweepCursor, limit int) ([]domain.Dispute, error) {
	return r.filterDisputes(after, limit, func(d domain.Dispute) time.Time { return d.UpdatedAt }, func(d domain.Dispute) bool {
		return d.Status == domain.DisputeSettling && d.UpdatedAt.Before(updatedBefore)
	}), nil
}

func (r *repo) filterDisputes(after domain.SweepCursor, limit int, key func(domain.Dispute) time.Time, keep func(domain.Dispute) bool) []domain.Dispute {
	var out []domain.Dispute
	for _, d := range r.st.disputes {
		if keep(d) && after.Precedes(key(d), d.ID) {
			out = append(out, copyDispute(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if ki, kj := key(out[i]), key(out[j]); !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Wallets

func (r *repo) LockWallet(_ context.Context, owner domain.WalletOwner, currency string) (domain.Wallet, error) {
	k := walletKey{owner: owner, currency: currency}
	if id, ok := r.st.walletIDs[k]; ok {
		return r.st.wallets[id], nil
	}
	now := r.now()
	w := domain.Wallet{
		ID:        domain.Reference("wallet", string(owner.Type), owner.ID, currency),
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.st.wallets[w.ID] = w
	r.st.walletIDs[k] = w.ID
	return w, nil
}

func (r *repo) LockWalletByID(_ context.Context, id string) (domain.Wallet, error) {
	w, ok := r.st.wallets[id]
	if !ok {
		return domain.Wallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (r *repo) GetWallet(_ context.Context, owner domain.WalletOwner) (domain.Wallet, error) {
	for k, id := range r.st.walletIDs {
		if k.owner == owner {
			return r.st.wallets[id], nil
		}
	}
	return domain.Wallet{}, domain.ErrNotFound
}

func (r *repo) UpdateWallet(_ context.Context, w domain.Wallet) error {
	if _, ok := r.st.wallets[w.ID]; !ok {
		return domain.ErrNotFound
	}
	w.UpdatedAt = r.now()
	r.st.wallets[w.ID] = w
	return nil
}

func (r *repo) AppendWalletTransaction(_ context.Context, tx domain.WalletTransaction) error {
	refKey := tx.WalletID + "|" + tx.Reference
	if _, ok := r.st.txRefs[refKey]; ok {
		return domain.Conflict("wallet_transaction", tx.Reference, "reference already recorded for wallet")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = r.now()
	}
	tx.UpdatedAt = tx.CreatedAt
	r.st.txs[tx.ID] = tx
	r.st.txRefs[refKey] = tx.ID
	r.st.txOrder[tx.WalletID] = append(r.st.txOrder[tx.WalletID], tx.ID)
	return nil
}

func (r *repo) FindWalletTransaction(_ context.Context, walletID, reference string) (domain.WalletTransaction, bool, error) {
	id, ok := r.st.txRefs[walletID+"|"+reference]
	if !ok {
		return domain.WalletTransaction{}, false, nil
	}
	return r.st.txs[id], true, nil
}

func (r *repo) LockWalletTransaction(_ context.Context, id string) (domain.WalletTransaction, error) {
	tx, ok := r.st.txs[id]
	if !ok {
		return domain.WalletTransaction{}, domain.ErrNotFound
	}
	return tx, nil
}

func (r *repo) UpdateWalletTransaction(_ context.Context, tx domain.WalletTransaction) error {
	if _, ok := r.st.txs[tx.ID]; !ok {
		return domain.ErrNotFound
	}
	tx.UpdatedAt = r.now()
	r.st.txs[tx.ID] = tx
	return nil
}

// ListWalletTransactions returns newest first. The cursor is the id of the last item of the previous page.
func (r *repo) ListWalletTransactions(_ context.Context, walletID string, pg domain.PageQuery) (domain.TransactionsPage, error) {
	ids := r.st.txOrder[walletID]
	start := len(ids) - 1
	if pg.Cursor != nil {
		start = -1
		for i := len(ids) - 1; i >= 0; i-- {
			if ids[i] == *pg.Cursor {
				start = i - 1
				break
			}
		}
	}
	var out domain.TransactionsPage
	for i := start; i >= 0 && len(out.Items) < pg.Limit; i-- {
		out.Items = append(out.Items, r.st.txs[ids[i]])
	}
	if n := len(out.Items); n > 0 && n == pg.Limit && start-n >= 0 {
		next := out.Items[n-1].ID
		out.NextCursor = &next
	}
	return out, nil
}
