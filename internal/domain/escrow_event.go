package domain

import (
	"strings"
	"time"
)

type EventType string

const (
	EventRoomFeeHeld        EventType = "ROOM_FEE_HELD"
	EventDepositHeld        EventType = "DEPOSIT_HELD"
	EventRoomFeeReleased    EventType = "ROOM_FEE_RELEASED"
	EventCommissionCaptured EventType = "COMMISSION_CAPTURED"
	EventRoomFeeRefunded    EventType = "ROOM_FEE_REFUNDED"
	EventDepositReturned    EventType = "DEPOSIT_RETURNED"
	EventDepositPaidToHost  EventType = "DEPOSIT_PAID_TO_HOST"
	EventEscrowFrozen       EventType = "ESCROW_FROZEN"
	EventSettlementCommit   EventType = "SETTLEMENT_COMMITTED"
)

type Party string

const (
	PartyGuest    Party = "GUEST"
	PartyHost     Party = "HOST"
	PartyPlatform Party = "PLATFORM"
	PartyEscrow   Party = "ESCROW"
)

// EscrowEvent is an immutable audit record. Reference is unique across the log.
type EscrowEvent struct {
	ID                 string
	BookingID          string
	PaymentID          string
	Type               EventType
	Amount             Money
	From               Party
	To                 Party
	Reference          string
	ProviderTransferID string
	Note               string
	CreatedAt          time.Time
}

// Idempotency reference kinds. A reference is kind + ":" + stable ids, never a timestamp.
const (
	RefHoldRoomFee       = "hold-room"
	RefHoldDeposit       = "hold-deposit"
	RefReleaseRoomFee    = "release-room"
	RefCommission        = "commission"
	RefDepositReturn     = "deposit-return"
	RefFreezeRoomFee     = "freeze-room"
	RefFreezeDeposit     = "freeze-deposit"
	RefDisputeCommit     = "dispute-commit"
	RefDisputeGuest      = "dispute-guest"
	RefDisputeHost       = "dispute-host"
	RefDisputeCommission = "dispute-commission"
	RefCancelCommit      = "cancel-commit"
	RefCancelGuest       = "cancel-guest"
	RefCancelHost        = "cancel-host"
	RefCancelPlatform    = "cancel-platform"
	RefCancelDeposit     = "cancel-deposit"
	RefWithdrawal        = "withdrawal"
	RefDirectPayout      = "direct-payout"
)

// Reference builds a deterministic idempotency reference from stable identifiers.
func Reference(kind string, ids ...string) string {
	return kind + ":" + strings.Join(ids, ":")
}
