package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook_escrow/internal/app"
	"staybook_escrow/internal/domain"
)

func openRoomFee(t *testing.T, e *env, cat domain.DisputeCategory) domain.Dispute {
	t.Helper()
	e.clock.Set(checkIn.Add(2 * time.Hour))
	d, err := e.disputes.OpenRoomFeeDispute(context.Background(), "b1", "guest-b1", cat, "no hot water")
	require.NoError(t, err)
	return d
}

func TestOpenRoomFeeDispute_FreezesAndPrecomputes(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategoryMinorInconvenience)

	assert.Equal(t, domain.DisputeAwaitingResponse, d.Status)
	assert.Equal(t, domain.Money(30_000), d.CapAmount)
	assert.Len(t, d.Settlements, 3)
	assert.Equal(t, checkIn.Add(50*time.Hour), d.ResponseDeadline)
	assert.True(t, e.payment(t, "b1").RoomFeeFrozen)
	assert.Equal(t, 1, e.eventCount(t, "b1", domain.EventEscrowFrozen))
	assert.Contains(t, e.notifier.kinds(), "dispute.opened")
}

func TestOpenRoomFeeDispute_Window(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	ctx := context.Background()

	e.clock.Set(checkIn.Add(-time.Minute))
	_, err := e.disputes.OpenRoomFeeDispute(ctx, "b1", "guest-b1", domain.CategorySafetyHazard, "")
	assert.True(t, domain.IsValidation(err))

	e.clock.Set(checkIn.Add(24 * time.Hour))
	_, err = e.disputes.OpenRoomFeeDispute(ctx, "b1", "guest-b1", domain.CategorySafetyHazard, "")
	assert.True(t, domain.IsValidation(err))

	e.clock.Set(checkIn.Add(2 * time.Hour))
	_, err = e.disputes.OpenRoomFeeDispute(ctx, "b1", "someone-else", domain.CategorySafetyHazard, "")
	assert.True(t, domain.IsValidation(err))
}

func TestSecondActiveDisputeConflicts(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	openRoomFee(t, e, domain.CategoryCleanliness)

	_, err := e.disputes.OpenRoomFeeDispute(context.Background(), "b1", "guest-b1", domain.CategoryNoAccess, "")
	assert.True(t, domain.IsConflict(err))
}

func TestActiveDisputeBlocksRelease(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	openRoomFee(t, e, domain.CategoryCleanliness)

	e.clock.Set(confirmed.Add(30 * time.Hour))
	_, err := e.escrow.ReleaseRoomFeeSplit(context.Background(), "b1")
	assert.True(t, domain.IsConflict(err))
	transfers, _ := e.provider.counts()
	assert.Zero(t, transfers)
}

func TestAccept_ExecutesCappedRefund(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategoryMinorInconvenience)

	got, err := e.disputes.Respond(context.Background(), d.ID, "host-1", domain.ResponseAccept)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, got.Status)
	assert.Equal(t, domain.OutcomeRefundFull, got.Outcome)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, domain.Money(30_000), got.Resolution.GuestAmount)

	p := e.payment(t, "b1")
	assert.False(t, p.RoomFeeFrozen, "a settled bucket is no longer frozen")
	assert.Equal(t, domain.Money(30_000), p.RoomFeeToGuest)
	// remaining 70,000 split at the 12% snapshot rate
	assert.Equal(t, domain.Money(61_600), p.RoomFeeToHost)
	assert.Equal(t, domain.Money(8_400), p.RoomFeeToPlatform)
	assert.Equal(t, domain.Money(61_600), e.hostEarned(t))
	assert.Equal(t, domain.Money(8_400), e.balance(t, domain.OwnerPlatform, platformID))

	_, err = e.disputes.Respond(context.Background(), d.ID, "host-1", domain.ResponseAccept)
	assert.True(t, domain.IsConflict(err))
}

func TestReject_EscalatesThenAdminDecides(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategorySafetyHazard)

	_, err := e.disputes.Respond(ctx, d.ID, "guest-b1", domain.ResponseReject)
	assert.True(t, domain.IsValidation(err), "the opener cannot answer their own dispute")

	esc, err := e.disputes.Respond(ctx, d.ID, "host-1", domain.ResponseReject)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeEscalated, esc.Status)

	_, err = e.disputes.Adjudicate(ctx, d.ID, "admin-1", domain.OutcomeRealtorWins, "")
	assert.True(t, domain.IsValidation(err))

	res, err := e.disputes.Adjudicate(ctx, d.ID, "admin-1", domain.OutcomeRefundPartial, "photos confirm")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, res.Status)
	assert.Equal(t, "admin-1", res.DecidedBy)
	assert.Equal(t, domain.Money(50_000), e.payment(t, "b1").RoomFeeToGuest)
}

func TestAdjudicate_RequiresEscalation(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategorySafetyHazard)

	_, err := e.disputes.Adjudicate(context.Background(), d.ID, "admin-1", domain.OutcomeRefundNone, "")
	assert.True(t, domain.IsConflict(err))
}

func TestSettlementFailure_RequiresReviewThenRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategoryMinorInconvenience)

	e.provider.setFailTransfers(errProviderDown)
	got, err := e.disputes.Respond(ctx, d.ID, "host-1", domain.ResponseAccept)
	te, ok := domain.AsTransfer(err)
	require.True(t, ok)
	assert.True(t, te.ReviewRequired)
	assert.Equal(t, domain.DisputeReviewRequired, got.Status)

	stored, err := e.store.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeReviewRequired, stored.Status)
	assert.NotEmpty(t, stored.FailureDetail)
	assert.True(t, e.payment(t, "b1").ReviewRequired)

	_, err = e.disputes.RetrySettlement(ctx, d.ID, "")
	assert.True(t, domain.IsValidation(err))

	e.provider.setFailTransfers(nil)
	done, err := e.disputes.RetrySettlement(ctx, d.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, done.Status)
	assert.Empty(t, done.FailureDetail)
	assert.False(t, e.payment(t, "b1").ReviewRequired)

	transfers, refunds := e.provider.counts()
	assert.Equal(t, 1, transfers)
	assert.Equal(t, 1, refunds, "guest refund is not sent twice")
	assert.Equal(t, domain.Money(61_600), e.hostEarned(t))
}

func failResolve(d domain.Dispute) error {
	if d.Status == domain.DisputeResolved {
		return errStoreDown
	}
	return nil
}

func TestSettlement_FailedResolveParksForReview(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategoryMinorInconvenience)

	e.faulty.setFailDispute(failResolve)
	got, err := e.disputes.Respond(ctx, d.ID, "host-1", domain.ResponseAccept)
	te, ok := domain.AsTransfer(err)
	require.True(t, ok)
	assert.True(t, te.ReviewRequired)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, domain.DisputeReviewRequired, got.Status)

	stored, err := e.store.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeReviewRequired, stored.Status)
	assert.Contains(t, stored.FailureDetail, "resolving settled dispute")

	e.faulty.setFailDispute(nil)
	done, err := e.disputes.RetrySettlement(ctx, d.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, done.Status)
	transfers, refunds := e.provider.counts()
	assert.Equal(t, 1, transfers)
	assert.Equal(t, 1, refunds)
	assert.Equal(t, domain.Money(61_600), e.hostEarned(t))
	_, active, err := e.store.FindActiveDispute(ctx, "b1", domain.SubjectRoomFee)
	require.NoError(t, err)
	assert.False(t, active)
}

// strandSettlement leaves the dispute in SETTLING with every leg sent, as after a crash
// between the legs and the final write.
func strandSettlement(t *testing.T, e *env) domain.Dispute {
	t.Helper()
	ctx := context.Background()
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategoryMinorInconvenience)
	e.faulty.setFailDispute(func(d domain.Dispute) error {
		if d.Status == domain.DisputeResolved || d.Status == domain.DisputeReviewRequired {
			return errStoreDown
		}
		return nil
	})
	_, err := e.disputes.Respond(ctx, d.ID, "host-1", domain.ResponseAccept)
	require.Error(t, err)
	e.faulty.setFailDispute(nil)
	stored, err := e.store.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeSettling, stored.Status)
	return stored
}

func TestRetrySettlement_StuckSettling(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := strandSettlement(t, e)

	_, err := e.disputes.RetrySettlement(ctx, d.ID, "admin-1")
	assert.True(t, domain.IsConflict(err), "a fresh SETTLING row may still be running")

	e.clock.Set(d.UpdatedAt.Add(e.deps.Finance.Disputes.SettlementStaleAfter))
	done, err := e.disputes.RetrySettlement(ctx, d.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, done.Status)
	transfers, refunds := e.provider.counts()
	assert.Equal(t, 1, transfers)
	assert.Equal(t, 1, refunds)
}

func TestParkStuckSettlement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := strandSettlement(t, e)

	_, err := e.disputes.ParkStuckSettlement(ctx, d.ID)
	assert.True(t, domain.IsValidation(err))

	e.clock.Set(d.UpdatedAt.Add(time.Hour))
	parked, err := e.disputes.ParkStuckSettlement(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeReviewRequired, parked.Status)
	assert.Equal(t, "settlement did not finish", parked.FailureDetail)
	assert.True(t, e.payment(t, "b1").ReviewRequired)
	assert.Contains(t, e.notifier.kinds(), app.NoticeSettlementPending)

	_, err = e.disputes.ParkStuckSettlement(ctx, d.ID)
	assert.True(t, domain.IsConflict(err))

	done, err := e.disputes.RetrySettlement(ctx, d.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, done.Status)
	assert.False(t, e.payment(t, "b1").ReviewRequired)
}

func TestDepositDispute_ClaimCappedToDeposit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.held(t, "b1")
	e.clock.Set(checkOut.Add(time.Hour))

	d, err := e.disputes.OpenDepositDispute(ctx, "b1", "host-1", domain.CategoryPropertyDamage, 80_000, "broken table")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(50_000), d.ClaimedAmount)
	assert.Equal(t, domain.Money(50_000), d.CapAmount)

	e.clock.Set(checkOut.Add(5 * time.Hour))
	_, err = e.escrow.ReturnSecurityDeposit(ctx, "b1")
	assert.True(t, domain.IsConflict(err), "deposit stays frozen while disputed")

	res, err := e.disputes.Respond(ctx, d.ID, "guest-b1", domain.ResponseAccept)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRealtorWins, res.Outcome)

	p := e.payment(t, "b1")
	assert.Equal(t, domain.Money(50_000), p.DepositToHost)
	assert.Zero(t, p.DepositToGuest)
	assert.Equal(t, domain.Money(50_000), e.hostEarned(t))
	_, refunds := e.provider.counts()
	assert.Zero(t, refunds)
}

func TestDepositDispute_Window(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	e.clock.Set(checkOut.Add(4 * time.Hour))

	_, err := e.disputes.OpenDepositDispute(context.Background(), "b1", "host-1", domain.CategoryMissingItems, 10_000, "")
	assert.True(t, domain.IsValidation(err))
}

func TestResponseAfterDeadlineConflicts(t *testing.T) {
	e := newEnv(t)
	e.held(t, "b1")
	d := openRoomFee(t, e, domain.CategoryCleanliness)

	e.clock.Set(d.ResponseDeadline)
	_, err := e.disputes.Respond(context.Background(), d.ID, "host-1", domain.ResponseAccept)
	assert.True(t, domain.IsConflict(err))
}
