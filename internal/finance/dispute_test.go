package finance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

func settlementFor(t *testing.T, list []domain.Settlement, o domain.DisputeOutcome) domain.Settlement {
	t.Helper()
	d := domain.Dispute{Settlements: list}
	s, ok := d.SettlementFor(o)
	require.True(t, ok, "missing outcome %s", o)
	return s
}

func TestRoomFeeSettlements_MinorInconvenience(t *testing.T) {
	snap := snapshot("0.1", 100_000)
	capAmount, list, err := finance.PrecomputeRoomFeeSettlements(100_000, domain.CategoryMinorInconvenience, snap, finance.Defaults())
	require.NoError(t, err)
	assert.Equal(t, domain.Money(30_000), capAmount)

	full := settlementFor(t, list, domain.OutcomeRefundFull)
	assert.Equal(t, domain.Money(30_000), full.GuestAmount)
	assert.Equal(t, domain.Money(63_000), full.HostAmount)
	assert.Equal(t, domain.Money(7_000), full.PlatformAmount)

	none := settlementFor(t, list, domain.OutcomeRefundNone)
	assert.Zero(t, none.GuestAmount)
	assert.Equal(t, snap.HostPayout, none.HostAmount)
	assert.Equal(t, snap.CommissionAmount, none.PlatformAmount)

	for _, s := range list {
		assert.LessOrEqual(t, s.GuestAmount, capAmount)
	}
}

func TestRoomFeeSettlements_SevereCategory(t *testing.T) {
	snap := snapshot("0.12", 80_000)
	capAmount, list, err := finance.PrecomputeRoomFeeSettlements(80_000, domain.CategorySafetyHazard, snap, finance.Defaults())
	require.NoError(t, err)
	assert.Equal(t, domain.Money(80_000), capAmount)

	full := settlementFor(t, list, domain.OutcomeRefundFull)
	assert.Equal(t, domain.Money(80_000), full.GuestAmount)
	assert.Zero(t, full.HostAmount)
	assert.Zero(t, full.PlatformAmount)

	partial := settlementFor(t, list, domain.OutcomeRefundPartial)
	assert.Equal(t, domain.Money(40_000), partial.GuestAmount)
}

func TestRoomFeeSettlements_RejectsWrongSubject(t *testing.T) {
	_, _, err := finance.PrecomputeRoomFeeSettlements(100_000, domain.CategoryPropertyDamage, snapshot("0.1", 100_000), finance.Defaults())
	assert.True(t, domain.IsValidation(err))
}

func TestDepositSettlements_ClaimCappedToDeposit(t *testing.T) {
	claim, list, err := finance.PrecomputeDepositSettlements(50_000, 80_000, domain.CategoryPropertyDamage, finance.Defaults())
	require.NoError(t, err)
	assert.Equal(t, domain.Money(50_000), claim)

	win := settlementFor(t, list, domain.OutcomeRealtorWins)
	assert.Zero(t, win.GuestAmount)
	assert.Equal(t, domain.Money(50_000), win.HostAmount)

	lose := settlementFor(t, list, domain.OutcomeGuestWins)
	assert.Equal(t, domain.Money(50_000), lose.GuestAmount)
	assert.Zero(t, lose.HostAmount)

	split := settlementFor(t, list, domain.OutcomeSplit)
	assert.Equal(t, domain.Money(25_000), split.HostAmount)
	assert.Equal(t, domain.Money(25_000), split.GuestAmount)
}

func TestDepositSettlements_RemainderReturnedToGuest(t *testing.T) {
	_, list, err := finance.PrecomputeDepositSettlements(50_000, 20_000, domain.CategoryMissingItems, finance.Defaults())
	require.NoError(t, err)
	win := settlementFor(t, list, domain.OutcomeRealtorWins)
	assert.Equal(t, domain.Money(20_000), win.HostAmount)
	assert.Equal(t, domain.Money(30_000), win.GuestAmount)
}

func TestDepositSettlements_RejectsNonPositiveClaim(t *testing.T) {
	_, _, err := finance.PrecomputeDepositSettlements(50_000, 0, domain.CategoryMissingItems, finance.Defaults())
	assert.True(t, domain.IsValidation(err))
}

func TestWithinCap(t *testing.T) {
	room := domain.Dispute{Subject: domain.SubjectRoomFee, CapAmount: 30_000}
	assert.True(t, finance.WithinCap(room, domain.Settlement{GuestAmount: 30_000}))
	assert.False(t, finance.WithinCap(room, domain.Settlement{GuestAmount: 30_001}))

	dep := domain.Dispute{Subject: domain.SubjectSecurityDeposit, CapAmount: 50_000, ClaimedAmount: 20_000}
	assert.True(t, finance.WithinCap(dep, domain.Settlement{HostAmount: 20_000}))
	assert.False(t, finance.WithinCap(dep, domain.Settlement{HostAmount: 20_001}))
}
