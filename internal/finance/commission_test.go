package finance_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeCommissionSnapshot_Tiers(t *testing.T) {
	cfg := finance.Defaults()
	cases := []struct {
		name     string
		roomFee  domain.Money
		wantRate string
	}{
		{"smallest tier", 10_000, "0.15"},
		{"tier boundary belongs to next tier", 50_000, "0.12"},
		{"middle tier", 100_000, "0.12"},
		{"open-ended tier", 1_000_000, "0.10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap, err := finance.ComputeCommissionSnapshot(tc.roomFee, 0, cfg)
			require.NoError(t, err)
			assert.True(t, snap.BaseRate.Equal(dec(tc.wantRate)), "base rate %s", snap.BaseRate)
			assert.True(t, snap.EffectiveRate.Equal(snap.BaseRate))
			assert.Equal(t, tc.roomFee, snap.CommissionAmount+snap.HostPayout)
		})
	}
}

func TestComputeCommissionSnapshot_VolumeDiscount(t *testing.T) {
	cfg := finance.Defaults()

	snap, err := finance.ComputeCommissionSnapshot(100_000, 5_500_000, cfg)
	require.NoError(t, err)
	assert.True(t, snap.VolumeReduction.Equal(dec("0.02")))
	assert.True(t, snap.EffectiveRate.Equal(dec("0.10")))
	assert.Equal(t, domain.Money(10_000), snap.CommissionAmount)
	assert.Equal(t, domain.Money(90_000), snap.HostPayout)

	// below the first threshold there is no reduction
	snap, err = finance.ComputeCommissionSnapshot(100_000, 999_999, cfg)
	require.NoError(t, err)
	assert.True(t, snap.VolumeReduction.IsZero())
}

func TestComputeCommissionSnapshot_ReductionCappedAndClamped(t *testing.T) {
	cfg := finance.Defaults()
	cfg.Commission.Tiers = []finance.CommissionTier{{MinRoomFee: 0, BaseRate: dec("0.02")}}
	cfg.Commission.VolumeDiscounts = []finance.VolumeDiscount{{MinMonthlyVolume: 1, Reduction: dec("0.50")}}
	cfg.Commission.MaxVolumeReduction = dec("0.05")

	snap, err := finance.ComputeCommissionSnapshot(100_000, 10, cfg)
	require.NoError(t, err)
	assert.True(t, snap.VolumeReduction.Equal(dec("0.05")), "reduction is capped")
	assert.True(t, snap.EffectiveRate.IsZero(), "effective rate never goes below zero")
	assert.Equal(t, domain.Money(0), snap.CommissionAmount)
	assert.Equal(t, domain.Money(100_000), snap.HostPayout)
}

func TestComputeCommissionSnapshot_RejectsNegative(t *testing.T) {
	_, err := finance.ComputeCommissionSnapshot(-1, 0, finance.Defaults())
	assert.True(t, domain.IsValidation(err))
}

func TestCommissionSnapshot_RoundsHalfAwayFromZero(t *testing.T) {
	cfg := finance.Defaults()
	// 15% of 10,005 = 1,500.75
	snap, err := finance.ComputeCommissionSnapshot(10_005, 0, cfg)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(1_501), snap.CommissionAmount)
	assert.Equal(t, domain.Money(8_504), snap.HostPayout)
}
