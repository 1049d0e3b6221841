package finance

import (
	"time"

	"staybook_escrow/internal/domain"
)

// RefundBreakdown is the cancellation split. GuestRoomRefund+HostPortion+PlatformPortion == room fee.
type RefundBreakdown struct {
	Tier              string
	UntilCheckIn      time.Duration
	GuestRoomRefund   domain.Money
	HostPortion       domain.Money
	PlatformPortion   domain.Money
	DepositRefund     domain.Money
	ServiceFeeRefund  domain.Money
	CleaningFeeRefund domain.Money
}

func (c RefundConfig) tierFor(hours float64) RefundTier {
	for _, t := range c.Tiers {
		if hours >= float64(t.MinHoursBeforeCheckIn) {
			return t
		}
	}
	return c.Tiers[len(c.Tiers)-1]
}

// CalculateCancellationRefund is a pure function of (booking, snapshot, now).
// The deposit always goes back in full; service and cleaning fees never do.
func CalculateCancellationRefund(b domain.Booking, snap domain.CommissionSnapshot, now time.Time, cfg Config) (RefundBreakdown, error) {
	if !now.Before(b.CheckOut) {
		return RefundBreakdown{}, domain.Invalid("now", "booking can no longer be cancelled after checkout")
	}
	if len(cfg.Refunds.Tiers) == 0 {
		return RefundBreakdown{}, &domain.ConfigurationError{Problems: []string{"refunds: no tiers"}}
	}
	until := b.CheckIn.Sub(now)
	tier := cfg.Refunds.tierFor(until.Hours())
	out := RefundBreakdown{
		Tier:          tier.Name,
		UntilCheckIn:  until,
		DepositRefund: b.SecurityDeposit,
	}
	fee := b.RoomFee
	if tier.FollowCommission {
		out.HostPortion, out.PlatformPortion = snap.Split(fee)
		return out, nil
	}
	out.GuestRoomRefund = fee.ApplyRate(tier.GuestShare)
	out.HostPortion = fee.ApplyRate(tier.HostShare)
	if out.GuestRoomRefund+out.HostPortion > fee {
		out.HostPortion = fee - out.GuestRoomRefund
	}
	out.PlatformPortion = fee - out.GuestRoomRefund - out.HostPortion
	return out, nil
}
