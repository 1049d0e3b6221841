package finance

import "staybook_escrow/internal/domain"

func (f FeeComponent) apply(subtotal domain.Money) domain.Money {
	if subtotal <= 0 {
		return 0
	}
	fee := subtotal.ApplyRate(f.Rate) + f.Fixed
	if f.Cap > 0 && subtotal > f.CapTrigger && fee > f.Cap {
		fee = f.Cap
	}
	return fee
}

func (c ServiceFeeConfig) processing(corridor domain.Corridor) FeeComponent {
	if corridor == domain.CorridorInternational {
		return c.ProcessingInternational
	}
	return c.ProcessingLocal
}

// ComputeGuestServiceFee prices the guest-facing service fee on subtotal (room + cleaning).
func ComputeGuestServiceFee(subtotal domain.Money, corridor domain.Corridor, mode domain.FeeMode, cfg Config) domain.ServiceFeeBreakdown {
	platform := cfg.ServiceFee.Platform.apply(subtotal)
	processing := cfg.ServiceFee.processing(corridor).apply(subtotal)
	return domain.ServiceFeeBreakdown{
		Mode:          mode,
		Corridor:      corridor,
		Subtotal:      subtotal,
		PlatformFee:   platform,
		ProcessingFee: processing,
		Total:         platform + processing,
	}
}

// ReconcileServiceFee recomputes the fee once the provider reports the real corridor and charge.
// A non-positive charge means the provider did not report one and the configured rate is used.
func ReconcileServiceFee(quoted domain.ServiceFeeBreakdown, actualCorridor domain.Corridor, providerCharge domain.Money, cfg Config) domain.FeeReconciliation {
	actual := ComputeGuestServiceFee(quoted.Subtotal, actualCorridor, domain.FeeActual, cfg)
	if providerCharge > 0 {
		actual.ProcessingFee = providerCharge
		actual.Total = actual.PlatformFee + providerCharge
	}
	return domain.FeeReconciliation{
		Quoted:                   quoted,
		Actual:                   actual,
		ProviderProcessingCharge: providerCharge,
		Variance:                 actual.Total - quoted.Total,
	}
}

// ComputeFeeBreakdown assembles the full charge for a booking at quote time.
func ComputeFeeBreakdown(b domain.Booking, monthlyVolume domain.Money, corridor domain.Corridor, cfg Config) (domain.FeeBreakdown, error) {
	if b.RoomFee < 0 || b.CleaningFee < 0 || b.SecurityDeposit < 0 {
		return domain.FeeBreakdown{}, domain.Invalid("booking", "amounts must not be negative")
	}
	snap, err := ComputeCommissionSnapshot(b.RoomFee, monthlyVolume, cfg)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}
	svc := ComputeGuestServiceFee(b.RoomFee+b.CleaningFee, corridor, domain.FeeQuoted, cfg)
	return domain.FeeBreakdown{
		RoomFee:         b.RoomFee,
		CleaningFee:     b.CleaningFee,
		SecurityDeposit: b.SecurityDeposit,
		ServiceFee:      svc,
		Commission:      snap,
		GuestTotal:      b.RoomFee + b.CleaningFee + b.SecurityDeposit + svc.Total,
	}, nil
}
