package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"staybook_escrow/internal/app"
	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
	"staybook_escrow/internal/storage/memory"
)

// ---- fakes ----

type stubClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stubClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeProvider struct {
	mu            sync.Mutex
	transfers     []domain.TransferRequest
	refunds       []domain.RefundRequest
	failTransfers error
	failRefunds   error
}

func (f *fakeProvider) InitiateTransfer(_ context.Context, req domain.TransferRequest) (domain.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTransfers != nil {
		return domain.TransferResult{}, f.failTransfers
	}
	f.transfers = append(f.transfers, req)
	return domain.TransferResult{ProviderID: "tr_" + req.Reference}, nil
}

func (f *fakeProvider) ProcessRefund(_ context.Context, req domain.RefundRequest) (domain.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefunds != nil {
		return domain.TransferResult{}, f.failRefunds
	}
	f.refunds = append(f.refunds, req)
	return domain.TransferResult{ProviderID: "re_" + req.Reference}, nil
}

func (f *fakeProvider) setFailTransfers(err error) {
	f.mu.Lock()
	f.failTransfers = err
	f.mu.Unlock()
}

// paidTo sums the transfers sent to one payout account.
func (f *fakeProvider) paidTo(recipient string) domain.Money {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sum domain.Money
	for _, tr := range f.transfers {
		if tr.Recipient == recipient {
			sum += tr.Amount
		}
	}
	return sum
}

func (f *fakeProvider) counts() (transfers, refunds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers), len(f.refunds)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, x domain.Notification) {
	n.mu.Lock()
	n.sent = append(n.sent, x)
	n.mu.Unlock()
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, x := range n.sent {
		out[i] = x.Kind
	}
	return out
}

type fakeCache struct {
	mu    sync.Mutex
	store map[string]any
	hits  int
}

func (c *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if d, ok := dst.(*domain.Wallet); ok {
		*d = v.(domain.Wallet)
	}
	c.hits++
	return true, nil
}

func (c *fakeCache) Set(_ context.Context, key string, v any, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

// faultyStore wraps the memory store and fails dispute writes rejected by failDispute.
type faultyStore struct {
	*memory.Store
	mu          sync.Mutex
	failDispute func(domain.Dispute) error
}

func (s *faultyStore) setFailDispute(fn func(domain.Dispute) error) {
	s.mu.Lock()
	s.failDispute = fn
	s.mu.Unlock()
}

func (s *faultyStore) checkDispute(d domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDispute == nil {
		return nil
	}
	return s.failDispute(d)
}

func (s *faultyStore) InTx(ctx context.Context, fn func(ctx context.Context, r domain.Repository) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		return fn(ctx, faultyRepo{Repository: r, s: s})
	})
}

type faultyRepo struct {
	domain.Repository
	s *faultyStore
}

func (r faultyRepo) UpdateDispute(ctx context.Context, d domain.Dispute) error {
	if err := r.s.checkDispute(d); err != nil {
		return err
	}
	return r.Repository.UpdateDispute(ctx, d)
}

var errStoreDown = errors.New("store unavailable")

var errProviderDown = &domain.TransferError{Op: "transfer", Retryable: true, Err: errors.New("provider unavailable")}

// ---- fixture ----

var (
	checkIn   = time.Date(2026, 7, 10, 15, 0, 0, 0, time.UTC)
	checkOut  = checkIn.Add(72 * time.Hour)
	confirmed = checkIn.Add(time.Hour)
)

const platformID = "platform"

type env struct {
	deps     app.Deps
	store    *memory.Store
	faulty   *faultyStore
	bookings *memory.Bookings
	provider *fakeProvider
	clock    *stubClock
	notifier *recordingNotifier
	cache    *fakeCache
	wallets  *app.WalletService
	escrow   *app.EscrowService
	disputes *app.DisputeService
	sweeper  *app.Sweeper
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		provider: &fakeProvider{},
		clock:    &stubClock{t: checkIn.Add(-72 * time.Hour)},
		notifier: &recordingNotifier{},
		cache:    &fakeCache{},
	}
	e.store = memory.New(e.clock)
	e.faulty = &faultyStore{Store: e.store}
	e.bookings = memory.NewBookings()
	d := app.Deps{
		Store: e.faulty, Bookings: e.bookings, Provider: e.provider, Notifier: e.notifier,
		Cache: e.cache, Clock: e.clock, Finance: finance.Defaults(),
		PlatformWalletID: platformID, CacheTTL: time.Minute,
	}
	e.wallets = app.NewWalletService(d)
	e.escrow = app.NewEscrowService(d, e.wallets)
	e.disputes = app.NewDisputeService(d, e.escrow)
	e.sweeper = app.NewSweeper(d, e.escrow, e.disputes, 4, 50)
	e.deps = d
	return e
}

func (e *env) booking(id string) domain.Booking {
	b := domain.Booking{
		ID: id, GuestID: "guest-" + id, HostID: "host-1", HostPayoutAccount: "acct_host_1",
		PropertyID: "prop-1", Status: domain.BookingConfirmed,
		CheckIn: checkIn, CheckOut: checkOut, CheckInConfirmedAt: &confirmed,
		RoomFee: 100_000, CleaningFee: 4_000, SecurityDeposit: 50_000, Currency: "USD",
	}
	e.bookings.Put(b)
	return b
}

// held books, charges and holds funds for a new booking.
func (e *env) held(t *testing.T, id string) domain.Payment {
	t.Helper()
	return e.hold(t, e.booking(id))
}

// hold charges and holds funds for b.
func (e *env) hold(t *testing.T, b domain.Booking) domain.Payment {
	t.Helper()
	ctx := context.Background()
	e.bookings.Put(b)
	p, err := e.escrow.InitiatePayment(ctx, b.ID, domain.CorridorLocal)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	p, err = e.escrow.HoldFunds(ctx, p.ID, b.ID, "ch_"+b.ID, domain.FeeBreakdown{RoomFee: p.RoomFee, SecurityDeposit: p.SecurityDeposit})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	return p
}

func (e *env) balance(t *testing.T, typ domain.OwnerType, id string) domain.Money {
	t.Helper()
	w, err := e.wallets.Balance(context.Background(), domain.WalletOwner{Type: typ, ID: id})
	if errors.Is(err, domain.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return w.Available
}

// hostEarned sums the credits journaled for host-1. Each one must be matched by a
// DIRECT_PAYOUT debit, leaving nothing withdrawable.
func (e *env) hostEarned(t *testing.T) domain.Money {
	t.Helper()
	owner := domain.WalletOwner{Type: domain.OwnerHost, ID: "host-1"}
	page, err := e.wallets.ListTransactions(context.Background(), owner, domain.PageQuery{Limit: 200})
	if errors.Is(err, domain.ErrNotFound) {
		return 0
	}
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var credited, paid domain.Money
	for _, tx := range page.Items {
		switch {
		case tx.Type == domain.TxCredit:
			credited += tx.Amount
		case tx.Source == domain.SourceDirectPayout:
			paid += tx.Amount
		}
	}
	if credited != paid {
		t.Fatalf("host journal: credited %d, paid out %d", credited, paid)
	}
	if bal := e.balance(t, domain.OwnerHost, "host-1"); bal != 0 {
		t.Fatalf("host wallet holds %d already transferred to the payout account", bal)
	}
	return credited
}

func (e *env) payment(t *testing.T, bookingID string) domain.Payment {
	t.Helper()
	p, err := e.store.GetPaymentByBooking(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	return p
}

func (e *env) eventCount(t *testing.T, bookingID string, typ domain.EventType) int {
	t.Helper()
	evs, err := e.escrow.ListEvents(context.Background(), bookingID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
