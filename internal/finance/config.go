// Package finance holds the pure money calculations: commission, guest service fee,
// cancellation refunds and dispute settlements. Every function takes the finance
// Config explicitly and has no side effects.
package finance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"staybook_escrow/internal/domain"
)

// Config is loaded once, validated, and then treated as immutable.
type Config struct {
	Commission CommissionConfig
	ServiceFee ServiceFeeConfig
	Refunds    RefundConfig
	Disputes   DisputeConfig
	Escrow     EscrowConfig
}

// CommissionTier covers room fees in [MinRoomFee, MaxRoomFee). MaxRoomFee 0 means unbounded.
type CommissionTier struct {
	MinRoomFee domain.Money
	MaxRoomFee domain.Money
	BaseRate   decimal.Decimal
}

type VolumeDiscount struct {
	MinMonthlyVolume domain.Money
	Reduction        decimal.Decimal
}

type CommissionConfig struct {
	Tiers              []CommissionTier
	VolumeDiscounts    []VolumeDiscount
	MaxVolumeReduction decimal.Decimal
}

// FeeComponent is rate*subtotal + Fixed. Cap only applies when subtotal > CapTrigger; Cap 0 disables it.
type FeeComponent struct {
	Rate       decimal.Decimal
	Fixed      domain.Money
	Cap        domain.Money
	CapTrigger domain.Money
}

type ServiceFeeConfig struct {
	Platform                FeeComponent
	ProcessingLocal         FeeComponent
	ProcessingInternational FeeComponent
}

// RefundTier applies when hours until check-in >= MinHoursBeforeCheckIn.
// FollowCommission tiers refund nothing and split the room fee by the commission snapshot.
type RefundTier struct {
	Name                  string
	MinHoursBeforeCheckIn int
	GuestShare            decimal.Decimal
	HostShare             decimal.Decimal
	PlatformShare         decimal.Decimal
	FollowCommission      bool
}

// RefundConfig tiers are ordered by MinHoursBeforeCheckIn, descending.
type RefundConfig struct {
	Tiers []RefundTier
}

type CategoryRule struct {
	Subject     domain.DisputeSubject
	CapRate     decimal.Decimal
	PartialRate decimal.Decimal
}

type DisputeConfig struct {
	RoomFeeWindow        time.Duration
	DepositWindow        time.Duration
	ResponseWindow       time.Duration
	// SettlementStaleAfter is how long a dispute may sit in SETTLING before it is handed to an admin.
	SettlementStaleAfter time.Duration
	Categories           map[domain.DisputeCategory]CategoryRule
}

type EscrowConfig struct {
	RoomFeeReleaseGrace time.Duration
	DepositReturnGrace  time.Duration
}

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
)

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Defaults is the last-known-good configuration.
func Defaults() Config {
	return Config{
		Commission: CommissionConfig{
			Tiers: []CommissionTier{
				{MinRoomFee: 0, MaxRoomFee: 50_000, BaseRate: rate("0.15")},
				{MinRoomFee: 50_000, MaxRoomFee: 200_000, BaseRate: rate("0.12")},
				{MinRoomFee: 200_000, MaxRoomFee: 0, BaseRate: rate("0.10")},
			},
			VolumeDiscounts: []VolumeDiscount{
				{MinMonthlyVolume: 1_000_000, Reduction: rate("0.01")},
				{MinMonthlyVolume: 5_000_000, Reduction: rate("0.02")},
				{MinMonthlyVolume: 10_000_000, Reduction: rate("0.03")},
			},
			MaxVolumeReduction: rate("0.03"),
		},
		ServiceFee: ServiceFeeConfig{
			Platform:                FeeComponent{Rate: rate("0.08"), Cap: 50_000, CapTrigger: 500_000},
			ProcessingLocal:         FeeComponent{Rate: rate("0.029"), Fixed: 30},
			ProcessingInternational: FeeComponent{Rate: rate("0.039"), Fixed: 30},
		},
		Refunds: RefundConfig{Tiers: []RefundTier{
			{Name: "EARLY", MinHoursBeforeCheckIn: 24, GuestShare: rate("0.90"), HostShare: rate("0.07"), PlatformShare: rate("0.03")},
			{Name: "LATE", MinHoursBeforeCheckIn: 0, FollowCommission: true},
		}},
		Disputes: DisputeConfig{
			RoomFeeWindow:        24 * time.Hour,
			DepositWindow:        4 * time.Hour,
			ResponseWindow:       48 * time.Hour,
			SettlementStaleAfter: 15 * time.Minute,
			Categories: map[domain.DisputeCategory]CategoryRule{
				domain.CategorySafetyHazard:        {Subject: domain.SubjectRoomFee, CapRate: one, PartialRate: rate("0.5")},
				domain.CategoryNotAsDescribed:      {Subject: domain.SubjectRoomFee, CapRate: one, PartialRate: rate("0.5")},
				domain.CategoryNoAccess:            {Subject: domain.SubjectRoomFee, CapRate: one, PartialRate: rate("0.5")},
				domain.CategoryMinorInconvenience:  {Subject: domain.SubjectRoomFee, CapRate: rate("0.3"), PartialRate: rate("0.3")},
				domain.CategoryCleanliness:         {Subject: domain.SubjectRoomFee, CapRate: rate("0.3"), PartialRate: rate("0.3")},
				domain.CategoryPropertyDamage:      {Subject: domain.SubjectSecurityDeposit, CapRate: one, PartialRate: rate("0.5")},
				domain.CategoryMissingItems:        {Subject: domain.SubjectSecurityDeposit, CapRate: one, PartialRate: rate("0.5")},
				domain.CategoryExcessiveCleaning:   {Subject: domain.SubjectSecurityDeposit, CapRate: one, PartialRate: rate("0.5")},
				domain.CategoryHouseRulesViolation: {Subject: domain.SubjectSecurityDeposit, CapRate: one, PartialRate: rate("0.5")},
			},
		},
		Escrow: EscrowConfig{
			RoomFeeReleaseGrace: 24 * time.Hour,
			DepositReturnGrace:  4 * time.Hour,
		},
	}
}

func inUnit(d decimal.Decimal) bool { return !d.LessThan(zero) && !d.GreaterThan(one) }

// Validate returns a *domain.ConfigurationError listing every problem, or nil.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	tiers := c.Commission.Tiers
	if len(tiers) == 0 {
		add("commission: no tiers")
	}
	for i, t := range tiers {
		if !inUnit(t.BaseRate) {
			add("commission tier %d: base rate %s outside [0,1]", i, t.BaseRate)
		}
		if i == 0 && t.MinRoomFee != 0 {
			add("commission tier 0: must start at 0")
		}
		last := i == len(tiers)-1
		if !last && t.MaxRoomFee <= t.MinRoomFee {
			add("commission tier %d: max %d must exceed min %d", i, t.MaxRoomFee, t.MinRoomFee)
		}
		if last && t.MaxRoomFee != 0 {
			add("commission tier %d: last tier must be unbounded", i)
		}
		if !last && tiers[i+1].MinRoomFee != t.MaxRoomFee {
			add("commission tier %d: not contiguous with tier %d", i, i+1)
		}
	}
	for i, v := range c.Commission.VolumeDiscounts {
		if i > 0 && v.MinMonthlyVolume <= c.Commission.VolumeDiscounts[i-1].MinMonthlyVolume {
			add("volume discount %d: thresholds must increase", i)
		}
		if !inUnit(v.Reduction) {
			add("volume discount %d: reduction %s outside [0,1]", i, v.Reduction)
		}
	}
	if !inUnit(c.Commission.MaxVolumeReduction) {
		add("commission: max volume reduction outside [0,1]")
	}

	for name, fc := range map[string]FeeComponent{
		"platform":                 c.ServiceFee.Platform,
		"processing_local":         c.ServiceFee.ProcessingLocal,
		"processing_international": c.ServiceFee.ProcessingInternational,
	} {
		if !inUnit(fc.Rate) || fc.Fixed < 0 || fc.Cap < 0 || fc.CapTrigger < 0 {
			add("service fee %s: negative or out-of-range values", name)
		}
	}

	rt := c.Refunds.Tiers
	if len(rt) == 0 {
		add("refunds: no tiers")
	}
	for i, t := range rt {
		if i > 0 && t.MinHoursBeforeCheckIn >= rt[i-1].MinHoursBeforeCheckIn {
			add("refund tier %s: hours must decrease", t.Name)
		}
		if i == len(rt)-1 && t.MinHoursBeforeCheckIn != 0 {
			add("refund tier %s: last tier must start at 0 hours", t.Name)
		}
		if t.FollowCommission {
			continue
		}
		if !inUnit(t.GuestShare) || !inUnit(t.HostShare) || !inUnit(t.PlatformShare) {
			add("refund tier %s: share outside [0,1]", t.Name)
		}
		if !t.GuestShare.Add(t.HostShare).Add(t.PlatformShare).Equal(one) {
			add("refund tier %s: shares must sum to 1", t.Name)
		}
	}

	d := c.Disputes
	if d.RoomFeeWindow <= 0 || d.DepositWindow <= 0 || d.ResponseWindow <= 0 || d.SettlementStaleAfter <= 0 {
		add("disputes: windows must be positive")
	}
	if len(d.Categories) == 0 {
		add("disputes: no categories")
	}
	for cat, r := range d.Categories {
		if r.Subject != domain.SubjectRoomFee && r.Subject != domain.SubjectSecurityDeposit {
			add("dispute category %s: unknown subject %q", cat, r.Subject)
		}
		if !inUnit(r.CapRate) || !inUnit(r.PartialRate) {
			add("dispute category %s: rate outside [0,1]", cat)
		}
		if r.Subject == domain.SubjectRoomFee && r.PartialRate.GreaterThan(r.CapRate) {
			add("dispute category %s: partial rate exceeds cap", cat)
		}
		// a deposit claim is capped by the deposit itself
		if r.Subject == domain.SubjectSecurityDeposit && !r.CapRate.Equal(one) {
			add("dispute category %s: deposit cap rate must be 1", cat)
		}
	}

	if c.Escrow.RoomFeeReleaseGrace < d.RoomFeeWindow {
		add("escrow: room fee release grace shorter than the room fee dispute window")
	}
	if c.Escrow.DepositReturnGrace < d.DepositWindow {
		add("escrow: deposit return grace shorter than the deposit dispute window")
	}

	if len(problems) > 0 {
		return &domain.ConfigurationError{Problems: problems}
	}
	return nil
}
