package finance

import "staybook_escrow/internal/domain"

// Rule returns the category rule and checks it belongs to subject.
func (c DisputeConfig) Rule(cat domain.DisputeCategory, subject domain.DisputeSubject) (CategoryRule, error) {
	r, ok := c.Categories[cat]
	if !ok {
		return CategoryRule{}, domain.Invalid("category", "unknown dispute category "+string(cat))
	}
	if r.Subject != subject {
		return CategoryRule{}, domain.Invalid("category", string(cat)+" does not apply to "+string(subject))
	}
	return r, nil
}

// ClaimOutcome is what an ACCEPT response executes.
func ClaimOutcome(subject domain.DisputeSubject) domain.DisputeOutcome {
	if subject == domain.SubjectSecurityDeposit {
		return domain.OutcomeRealtorWins
	}
	return domain.OutcomeRefundFull
}

// AdminOutcomes lists what an admin may pick for a subject.
func AdminOutcomes(subject domain.DisputeSubject) []domain.DisputeOutcome {
	if subject == domain.SubjectSecurityDeposit {
		return []domain.DisputeOutcome{domain.OutcomeRealtorWins, domain.OutcomeGuestWins, domain.OutcomeSplit}
	}
	return []domain.DisputeOutcome{domain.OutcomeRefundFull, domain.OutcomeRefundPartial, domain.OutcomeRefundNone}
}

func roomSettlement(o domain.DisputeOutcome, roomFee, guest domain.Money, snap domain.CommissionSnapshot) domain.Settlement {
	host, platform := snap.Split(roomFee - guest)
	return domain.Settlement{Outcome: o, GuestAmount: guest, HostAmount: host, PlatformAmount: platform}
}

// PrecomputeRoomFeeSettlements returns the guest refund cap and every outcome for a room-fee dispute.
// Whatever remains after the guest refund is split by the charge-time snapshot.
func PrecomputeRoomFeeSettlements(roomFee domain.Money, cat domain.DisputeCategory, snap domain.CommissionSnapshot, cfg Config) (domain.Money, []domain.Settlement, error) {
	rule, err := cfg.Disputes.Rule(cat, domain.SubjectRoomFee)
	if err != nil {
		return 0, nil, err
	}
	if roomFee <= 0 {
		return 0, nil, domain.Invalid("room_fee", "nothing held to dispute")
	}
	capAmount := domain.MinMoney(roomFee.ApplyRate(rule.CapRate), roomFee)
	partial := domain.MinMoney(roomFee.ApplyRate(rule.PartialRate), capAmount)
	return capAmount, []domain.Settlement{
		roomSettlement(domain.OutcomeRefundFull, roomFee, capAmount, snap),
		roomSettlement(domain.OutcomeRefundPartial, roomFee, partial, snap),
		roomSettlement(domain.OutcomeRefundNone, roomFee, 0, snap),
	}, nil
}

// PrecomputeDepositSettlements caps the host's claim at the deposit and returns every outcome.
// The cap for deposit disputes is the deposit itself.
func PrecomputeDepositSettlements(deposit, claimed domain.Money, cat domain.DisputeCategory, cfg Config) (domain.Money, []domain.Settlement, error) {
	rule, err := cfg.Disputes.Rule(cat, domain.SubjectSecurityDeposit)
	if err != nil {
		return 0, nil, err
	}
	if deposit <= 0 {
		return 0, nil, domain.Invalid("deposit", "nothing held to dispute")
	}
	if claimed <= 0 {
		return 0, nil, domain.Invalid("claimed_amount", "must be positive")
	}
	claim := domain.MinMoney(claimed, deposit)
	split := claim.ApplyRate(rule.PartialRate)
	return claim, []domain.Settlement{
		{Outcome: domain.OutcomeRealtorWins, HostAmount: claim, GuestAmount: deposit - claim},
		{Outcome: domain.OutcomeGuestWins, GuestAmount: deposit},
		{Outcome: domain.OutcomeSplit, HostAmount: split, GuestAmount: deposit - split},
	}, nil
}

// WithinCap reports whether a settlement respects the dispute's cap.
func WithinCap(d domain.Dispute, s domain.Settlement) bool {
	if d.Subject == domain.SubjectSecurityDeposit {
		return s.HostAmount <= d.CapAmount && s.HostAmount <= d.ClaimedAmount
	}
	return s.GuestAmount <= d.CapAmount
}
