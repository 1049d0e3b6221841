package finance

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"staybook_escrow/internal/domain"
)

// Health is the system indicator downgraded when a lenient load falls back to defaults.
type Health struct {
	Healthy bool
	Reason  string
}

// file* types mirror the YAML document. Rates are strings so they parse as exact decimals.
type fileConfig struct {
	Commission struct {
		Tiers []struct {
			Min  int64  `yaml:"min_room_fee"`
			Max  int64  `yaml:"max_room_fee"`
			Rate string `yaml:"base_rate"`
		} `yaml:"tiers"`
		VolumeDiscounts []struct {
			Min       int64  `yaml:"min_monthly_volume"`
			Reduction string `yaml:"reduction"`
		} `yaml:"volume_discounts"`
		MaxVolumeReduction string `yaml:"max_volume_reduction"`
	} `yaml:"commission"`
	ServiceFee struct {
		Platform                fileFeeComponent `yaml:"platform"`
		ProcessingLocal         fileFeeComponent `yaml:"processing_local"`
		ProcessingInternational fileFeeComponent `yaml:"processing_international"`
	} `yaml:"service_fee"`
	Refunds []struct {
		Name             string `yaml:"name"`
		MinHours         int    `yaml:"min_hours_before_check_in"`
		Guest            string `yaml:"guest"`
		Host             string `yaml:"host"`
		Platform         string `yaml:"platform"`
		FollowCommission bool   `yaml:"follow_commission"`
	} `yaml:"refund_tiers"`
	Disputes struct {
		RoomFeeWindow        string `yaml:"room_fee_window"`
		DepositWindow        string `yaml:"deposit_window"`
		ResponseWindow       string `yaml:"response_window"`
		SettlementStaleAfter string `yaml:"settlement_stale_after"`
		Categories           map[string]struct {
			Subject     string `yaml:"subject"`
			CapRate     string `yaml:"cap_rate"`
			PartialRate string `yaml:"partial_rate"`
		} `yaml:"categories"`
	} `yaml:"disputes"`
	Escrow struct {
		RoomFeeReleaseGrace string `yaml:"room_fee_release_grace"`
		DepositReturnGrace  string `yaml:"deposit_return_grace"`
	} `yaml:"escrow"`
}

type fileFeeComponent struct {
	Rate       string `yaml:"rate"`
	Fixed      int64  `yaml:"fixed"`
	Cap        int64  `yaml:"cap"`
	CapTrigger int64  `yaml:"cap_trigger"`
}

// parser collects conversion problems instead of stopping at the first one.
type parser struct{ problems []string }

func (p *parser) rate(field, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s: %q is not a decimal", field, s))
	}
	return d
}

func (p *parser) dur(field, s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		p.problems = append(p.problems, fmt.Sprintf("%s: %q is not a duration", field, s))
	}
	return d
}

// optDur is dur with a fallback for fields older files leave out.
func (p *parser) optDur(field, s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	return p.dur(field, s)
}

func (p *parser) fee(field string, f fileFeeComponent) FeeComponent {
	return FeeComponent{
		Rate:       p.rate(field+".rate", f.Rate),
		Fixed:      domain.Money(f.Fixed),
		Cap:        domain.Money(f.Cap),
		CapTrigger: domain.Money(f.CapTrigger),
	}
}

// Parse decodes and validates a YAML finance document.
func Parse(raw []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, &domain.ConfigurationError{Problems: []string{"yaml: " + err.Error()}}
	}
	p := &parser{}
	var c Config
	for i, t := range fc.Commission.Tiers {
		c.Commission.Tiers = append(c.Commission.Tiers, CommissionTier{
			MinRoomFee: domain.Money(t.Min),
			MaxRoomFee: domain.Money(t.Max),
			BaseRate:   p.rate(fmt.Sprintf("commission.tiers[%d]", i), t.Rate),
		})
	}
	for i, v := range fc.Commission.VolumeDiscounts {
		c.Commission.VolumeDiscounts = append(c.Commission.VolumeDiscounts, VolumeDiscount{
			MinMonthlyVolume: domain.Money(v.Min),
			Reduction:        p.rate(fmt.Sprintf("commission.volume_discounts[%d]", i), v.Reduction),
		})
	}
	c.Commission.MaxVolumeReduction = p.rate("commission.max_volume_reduction", fc.Commission.MaxVolumeReduction)
	c.ServiceFee = ServiceFeeConfig{
		Platform:                p.fee("service_fee.platform", fc.ServiceFee.Platform),
		ProcessingLocal:         p.fee("service_fee.processing_local", fc.ServiceFee.ProcessingLocal),
		ProcessingInternational: p.fee("service_fee.processing_international", fc.ServiceFee.ProcessingInternational),
	}
	for _, t := range fc.Refunds {
		c.Refunds.Tiers = append(c.Refunds.Tiers, RefundTier{
			Name:                  t.Name,
			MinHoursBeforeCheckIn: t.MinHours,
			GuestShare:            p.rate("refund_tiers."+t.Name+".guest", t.Guest),
			HostShare:             p.rate("refund_tiers."+t.Name+".host", t.Host),
			PlatformShare:         p.rate("refund_tiers."+t.Name+".platform", t.Platform),
			FollowCommission:      t.FollowCommission,
		})
	}
	c.Disputes = DisputeConfig{
		RoomFeeWindow:  p.dur("disputes.room_fee_window", fc.Disputes.RoomFeeWindow),
		DepositWindow:  p.dur("disputes.deposit_window", fc.Disputes.DepositWindow),
		ResponseWindow: p.dur("disputes.response_window", fc.Disputes.ResponseWindow),
		SettlementStaleAfter: p.optDur("disputes.settlement_stale_after", fc.Disputes.SettlementStaleAfter,
			Defaults().Disputes.SettlementStaleAfter),
		Categories: map[domain.DisputeCategory]CategoryRule{},
	}
	for name, r := range fc.Disputes.Categories {
		c.Disputes.Categories[domain.DisputeCategory(name)] = CategoryRule{
			Subject:     domain.DisputeSubject(r.Subject),
			CapRate:     p.rate("disputes.categories."+name+".cap_rate", r.CapRate),
			PartialRate: p.rate("disputes.categories."+name+".partial_rate", r.PartialRate),
		}
	}
	c.Escrow = EscrowConfig{
		RoomFeeReleaseGrace: p.dur("escrow.room_fee_release_grace", fc.Escrow.RoomFeeReleaseGrace),
		DepositReturnGrace:  p.dur("escrow.deposit_return_grace", fc.Escrow.DepositReturnGrace),
	}
	if len(p.problems) > 0 {
		return Config{}, &domain.ConfigurationError{Problems: p.problems}
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the finance document at path. An empty path means Defaults.
// In strict mode a bad document is returned as an error; otherwise Defaults are used
// and the returned Health is downgraded.
func Load(path string, strict bool) (Config, Health, error) {
	if path == "" {
		return Defaults(), Health{Healthy: true}, nil
	}
	raw, err := os.ReadFile(path)
	if err == nil {
		var c Config
		if c, err = Parse(raw); err == nil {
			return c, Health{Healthy: true}, nil
		}
	}
	if strict {
		return Config{}, Health{Healthy: false, Reason: err.Error()}, fmt.Errorf("load finance config %s: %w", path, err)
	}
	log.Error().Err(err).Str("path", path).Msg("finance config rejected, using last-known-good defaults")
	return Defaults(), Health{Healthy: false, Reason: err.Error()}, nil
}
