package finance_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

func TestComputeGuestServiceFee_Corridors(t *testing.T) {
	cfg := finance.Defaults()

	local := finance.ComputeGuestServiceFee(100_000, domain.CorridorLocal, domain.FeeQuoted, cfg)
	assert.Equal(t, domain.Money(8_000), local.PlatformFee)
	assert.Equal(t, domain.Money(2_930), local.ProcessingFee)
	assert.Equal(t, domain.Money(10_930), local.Total)
	assert.Equal(t, domain.FeeQuoted, local.Mode)

	intl := finance.ComputeGuestServiceFee(100_000, domain.CorridorInternational, domain.FeeQuoted, cfg)
	assert.Equal(t, domain.Money(3_930), intl.ProcessingFee)
	assert.Greater(t, intl.Total, local.Total)
}

func TestComputeGuestServiceFee_CapOnlyAboveTrigger(t *testing.T) {
	cfg := finance.Defaults()
	cfg.ServiceFee.Platform = finance.FeeComponent{Rate: dec("0.10"), Cap: 20_000, CapTrigger: 300_000}

	// at the trigger the cap is not active yet: 10% of 300,000
	at := finance.ComputeGuestServiceFee(300_000, domain.CorridorLocal, domain.FeeQuoted, cfg)
	assert.Equal(t, domain.Money(30_000), at.PlatformFee)

	above := finance.ComputeGuestServiceFee(300_001, domain.CorridorLocal, domain.FeeQuoted, cfg)
	assert.Equal(t, domain.Money(20_000), above.PlatformFee)
}

func TestComputeGuestServiceFee_ZeroSubtotal(t *testing.T) {
	fee := finance.ComputeGuestServiceFee(0, domain.CorridorLocal, domain.FeeQuoted, finance.Defaults())
	assert.Equal(t, domain.Money(0), fee.Total)
}

func TestReconcileServiceFee_RecordsVarianceOnly(t *testing.T) {
	cfg := finance.Defaults()
	quoted := finance.ComputeGuestServiceFee(100_000, domain.CorridorLocal, domain.FeeQuoted, cfg)

	rec := finance.ReconcileServiceFee(quoted, domain.CorridorInternational, 4_100, cfg)
	assert.Equal(t, quoted, rec.Quoted, "quote is untouched")
	assert.Equal(t, domain.FeeActual, rec.Actual.Mode)
	assert.Equal(t, domain.Money(4_100), rec.Actual.ProcessingFee)
	assert.Equal(t, rec.Actual.Total-quoted.Total, rec.Variance)
	assert.Equal(t, domain.Money(1_170), rec.Variance)

	// without a reported charge the configured corridor rate is used
	rec = finance.ReconcileServiceFee(quoted, domain.CorridorLocal, 0, cfg)
	assert.Equal(t, domain.Money(0), rec.Variance)
}

func TestComputeFeeBreakdown(t *testing.T) {
	b := domain.Booking{
		ID: "b-1", RoomFee: 100_000, CleaningFee: 5_000, SecurityDeposit: 50_000,
		CheckIn: time.Now().Add(72 * time.Hour), CheckOut: time.Now().Add(96 * time.Hour), Currency: "USD",
	}
	fb, err := finance.ComputeFeeBreakdown(b, 0, domain.CorridorLocal, finance.Defaults())
	require.NoError(t, err)
	assert.Equal(t, domain.Money(105_000), fb.ServiceFee.Subtotal)
	assert.Equal(t, b.RoomFee+b.CleaningFee+b.SecurityDeposit+fb.ServiceFee.Total, fb.GuestTotal)
	assert.Equal(t, b.RoomFee, fb.Commission.CommissionAmount+fb.Commission.HostPayout)
}
