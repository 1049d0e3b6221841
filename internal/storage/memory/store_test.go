package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newStore() *memory.Store {
	return memory.New(fixedClock{t: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)})
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		if err := r.CreatePayment(ctx, domain.Payment{ID: "p1", BookingID: "b1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPayment(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, r domain.Repository) error {
		return r.CreatePayment(ctx, domain.Payment{ID: "p1", BookingID: "b1"})
	}))
	p, err := s.GetPaymentByBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
}

func TestAppendEvent_ReferenceIsUnique(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	e := domain.EscrowEvent{ID: "e1", BookingID: "b1", Reference: "release-room:p1"}
	require.NoError(t, s.AppendEvent(ctx, e))

	e.ID = "e2"
	assert.True(t, domain.IsConflict(s.AppendEvent(ctx, e)))

	found, ok, err := s.FindEventByReference(ctx, "release-room:p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "e1", found.ID)
}

func TestCreateDispute_OneActivePerSubject(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	d := domain.Dispute{ID: "d1", BookingID: "b1", Subject: domain.SubjectRoomFee, Status: domain.DisputeAwaitingResponse}
	require.NoError(t, s.CreateDispute(ctx, d))

	d.ID = "d2"
	assert.True(t, domain.IsConflict(s.CreateDispute(ctx, d)))

	d.ID, d.Subject = "d3", domain.SubjectSecurityDeposit
	assert.NoError(t, s.CreateDispute(ctx, d))
}

func TestDisputeSettlementsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	d := domain.Dispute{ID: "d1", BookingID: "b1", Settlements: []domain.Settlement{{GuestAmount: 10}}}
	require.NoError(t, s.CreateDispute(ctx, d))
	d.Settlements[0].GuestAmount = 99

	got, err := s.GetDispute(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(10), got.Settlements[0].GuestAmount)
}

func TestLockWallet_GetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	owner := domain.WalletOwner{Type: domain.OwnerHost, ID: "h1"}
	w1, err := s.LockWallet(ctx, owner, "USD")
	require.NoError(t, err)
	w2, err := s.LockWallet(ctx, owner, "USD")
	require.NoError(t, err)
	assert.Equal(t, w1.ID, w2.ID)

	got, err := s.GetWallet(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, w1.ID, got.ID)
}

func TestListWalletTransactions_Pages(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendWalletTransaction(ctx, domain.WalletTransaction{
			ID: fmt.Sprintf("t%d", i), WalletID: "w1", Reference: fmt.Sprintf("r%d", i), Amount: domain.Money(i),
		}))
	}

	page, err := s.ListWalletTransactions(ctx, "w1", domain.PageQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "t4", page.Items[0].ID)
	require.NotNil(t, page.NextCursor)

	page, err = s.ListWalletTransactions(ctx, "w1", domain.PageQuery{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, "t2", page.Items[0].ID)

	page, err = s.ListWalletTransactions(ctx, "w1", domain.PageQuery{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "t0", page.Items[0].ID)
	assert.Nil(t, page.NextCursor)
}

func TestReleaseCandidates_SkipFrozenAndCleared(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	in := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreatePayment(ctx, domain.Payment{ID: "p1", BookingID: "b1", RoomFeeHeld: true, CheckIn: in}))
	require.NoError(t, s.CreatePayment(ctx, domain.Payment{ID: "p2", BookingID: "b2", RoomFeeHeld: true, RoomFeeFrozen: true, CheckIn: in}))
	require.NoError(t, s.CreatePayment(ctx, domain.Payment{ID: "p3", BookingID: "b3", CheckIn: in}))
	require.NoError(t, s.CreatePayment(ctx, domain.Payment{ID: "p4", BookingID: "b4", RoomFeeHeld: true, ReviewRequired: true, CheckIn: in}))

	out, err := s.ListReleaseCandidates(ctx, in.Add(time.Hour), domain.SweepCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].ID)
}

func TestReleaseCandidates_KeysetPages(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	in := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreatePayment(ctx, domain.Payment{ID: "p2", BookingID: "b2", RoomFeeHeld: true, CheckIn: in}))
	require.NoError(t, s.CreatePayment(ctx, domain.Payment{ID: "p1", BookingID: "b1", RoomFeeHeld: true, CheckIn: in}))
	require.NoError(t, s.CreatePayment(ctx, domain.Payment{ID: "p0", BookingID: "b0", RoomFeeHeld: true, CheckIn: in.Add(time.Hour)}))

	var seen []string
	var after domain.SweepCursor
	for {
		page, err := s.ListReleaseCandidates(ctx, in.Add(2*time.Hour), after, 1)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].ID)
		after = domain.SweepCursor{At: page[0].CheckIn, ID: page[0].ID}
	}
	assert.Equal(t, []string{"p1", "p2", "p0"}, seen)
}

func TestStuckSettlements_OnlyOldSettlingRows(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	updated := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	for _, d := range []domain.Dispute{
		{ID: "d1", BookingID: "b1", Subject: domain.SubjectRoomFee, Status: domain.DisputeSettling},
		{ID: "d2", BookingID: "b2", Subject: domain.SubjectRoomFee, Status: domain.DisputeAwaitingResponse},
	} {
		require.NoError(t, s.CreateDispute(ctx, d))
	}

	out, err := s.ListStuckSettlements(ctx, updated.Add(time.Hour), domain.SweepCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d1", out[0].ID)

	out, err = s.ListStuckSettlements(ctx, updated, domain.SweepCursor{}, 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}
