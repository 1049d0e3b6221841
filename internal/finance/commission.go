package finance

import (
	"github.com/shopspring/decimal"

	"staybook_escrow/internal/domain"
)

func (c CommissionConfig) tierFor(roomFee domain.Money) (CommissionTier, bool) {
	for _, t := range c.Tiers {
		if roomFee >= t.MinRoomFee && (t.MaxRoomFee == 0 || roomFee < t.MaxRoomFee) {
			return t, true
		}
	}
	return CommissionTier{}, false
}

// volumeReduction picks the highest threshold not above volume, capped at MaxVolumeReduction.
func (c CommissionConfig) volumeReduction(volume domain.Money) decimal.Decimal {
	reduction := decimal.Zero
	for _, v := range c.VolumeDiscounts {
		if volume < v.MinMonthlyVolume {
			break
		}
		reduction = v.Reduction
	}
	if reduction.GreaterThan(c.MaxVolumeReduction) {
		reduction = c.MaxVolumeReduction
	}
	return reduction
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(zero) {
		return zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}

// ComputeCommissionSnapshot returns the platform take for a room fee given the host's monthly volume.
func ComputeCommissionSnapshot(roomFee, monthlyVolume domain.Money, cfg Config) (domain.CommissionSnapshot, error) {
	if roomFee < 0 {
		return domain.CommissionSnapshot{}, domain.Invalid("room_fee", "must not be negative")
	}
	tier, ok := cfg.Commission.tierFor(roomFee)
	if !ok {
		return domain.CommissionSnapshot{}, &domain.ConfigurationError{Problems: []string{"no commission tier covers the room fee"}}
	}
	reduction := cfg.Commission.volumeReduction(monthlyVolume)
	effective := clampUnit(tier.BaseRate.Sub(reduction))
	commission := roomFee.ApplyRate(effective)
	return domain.CommissionSnapshot{
		BaseRate:         tier.BaseRate,
		VolumeReduction:  reduction,
		EffectiveRate:    effective,
		CommissionAmount: commission,
		HostPayout:       roomFee - commission,
	}, nil
}
