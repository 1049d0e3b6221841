package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentInitiated         PaymentStatus = "INITIATED"
	PaymentHeld              PaymentStatus = "HELD"
	PaymentPartiallyReleased PaymentStatus = "PARTIALLY_RELEASED"
	PaymentSettled           PaymentStatus = "SETTLED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPartiallyReleased || s == PaymentSettled || s == PaymentRefunded
}

type Corridor string

const (
	CorridorLocal         Corridor = "LOCAL"
	CorridorInternational Corridor = "INTERNATIONAL"
)

type FeeMode string

const (
	FeeQuoted FeeMode = "QUOTED"
	FeeActual FeeMode = "ACTUAL"
)

// CommissionSnapshot is the take-rate captured at charge time and reused unchanged at settlement.
type CommissionSnapshot struct {
	BaseRate         decimal.Decimal
	VolumeReduction  decimal.Decimal
	EffectiveRate    decimal.Decimal
	CommissionAmount Money
	HostPayout       Money
}

// Split divides amount by the snapshot's effective rate. platform+host == amount.
func (c CommissionSnapshot) Split(amount Money) (host, platform Money) {
	platform = amount.ApplyRate(c.EffectiveRate)
	if platform > amount {
		platform = amount
	}
	return amount - platform, platform
}

type ServiceFeeBreakdown struct {
	Mode          FeeMode
	Corridor      Corridor
	Subtotal      Money
	PlatformFee   Money
	ProcessingFee Money
	Total         Money
}

// FeeReconciliation records the gap between the quoted and the provider-reported fee.
// It is informational; the guest is never re-billed.
type FeeReconciliation struct {
	Quoted                   ServiceFeeBreakdown
	Actual                   ServiceFeeBreakdown
	ProviderProcessingCharge Money
	Variance                 Money
}

type FeeBreakdown struct {
	RoomFee         Money
	CleaningFee     Money
	SecurityDeposit Money
	ServiceFee      ServiceFeeBreakdown
	Commission      CommissionSnapshot
	GuestTotal      Money
}

// Payment is the escrow record for one booking.
type Payment struct {
	ID                string
	BookingID         string
	GuestID           string
	HostID            string
	HostPayoutAccount string
	Currency          string
	ProviderReference string

	RoomFee         Money
	CleaningFee     Money
	SecurityDeposit Money
	ServiceFee      ServiceFeeBreakdown
	Commission      CommissionSnapshot

	ActualServiceFee Money
	FeeVariance      Money
	FeeReconciled    bool

	Status        PaymentStatus
	RoomFeeHeld   bool
	DepositHeld   bool
	RoomFeeFrozen bool
	DepositFrozen bool

	RoomFeeToGuest    Money
	RoomFeeToHost     Money
	RoomFeeToPlatform Money
	DepositToGuest    Money
	DepositToHost     Money

	ReviewRequired bool
	ReviewDetail   string

	CheckIn   time.Time
	CheckOut  time.Time
	HeldAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClearRoomFee records the room-fee split and clears the held and frozen flags. Neither comes back;
// the ESCROW_FROZEN events keep the history.
func (p *Payment) ClearRoomFee(guest, host, platform Money) error {
	if !p.RoomFeeHeld {
		return Conflict("payment", p.ID, "room fee already released")
	}
	if guest < 0 || host < 0 || platform < 0 || guest+host+platform != p.RoomFee {
		return Invalid("amount", "room fee split does not add up to the held room fee")
	}
	p.RoomFeeHeld, p.RoomFeeFrozen = false, false
	p.RoomFeeToGuest, p.RoomFeeToHost, p.RoomFeeToPlatform = guest, host, platform
	p.settleIfDone()
	return nil
}

// ClearDeposit records the deposit split and clears the held and frozen flags.
func (p *Payment) ClearDeposit(guest, host Money) error {
	if !p.DepositHeld {
		return Conflict("payment", p.ID, "security deposit already released")
	}
	if guest < 0 || host < 0 || guest+host != p.SecurityDeposit {
		return Invalid("amount", "deposit split does not add up to the held deposit")
	}
	p.DepositHeld, p.DepositFrozen = false, false
	p.DepositToGuest, p.DepositToHost = guest, host
	p.settleIfDone()
	return nil
}

func (p *Payment) settleIfDone() {
	if p.RoomFeeHeld || p.DepositHeld {
		return
	}
	switch {
	case p.RoomFee > 0 && p.RoomFeeToGuest == p.RoomFee:
		p.Status = PaymentRefunded
	case p.RoomFeeToGuest == 0:
		p.Status = PaymentSettled
	default:
		p.Status = PaymentPartiallyReleased
	}
}
