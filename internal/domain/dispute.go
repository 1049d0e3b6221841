package domain

import "time"

type DisputeSubject string

const (
	SubjectRoomFee         DisputeSubject = "ROOM_FEE"
	SubjectSecurityDeposit DisputeSubject = "SECURITY_DEPOSIT"
)

type DisputeCategory string

const (
	// room fee, guest-initiated
	CategorySafetyHazard       DisputeCategory = "SAFETY_HAZARD"
	CategoryNotAsDescribed     DisputeCategory = "NOT_AS_DESCRIBED"
	CategoryNoAccess           DisputeCategory = "NO_ACCESS"
	CategoryMinorInconvenience DisputeCategory = "MINOR_INCONVENIENCE"
	CategoryCleanliness        DisputeCategory = "CLEANLINESS"

	// security deposit, host-initiated
	CategoryPropertyDamage      DisputeCategory = "PROPERTY_DAMAGE"
	CategoryMissingItems        DisputeCategory = "MISSING_ITEMS"
	CategoryExcessiveCleaning   DisputeCategory = "EXCESSIVE_CLEANING"
	CategoryHouseRulesViolation DisputeCategory = "HOUSE_RULES_VIOLATION"
)

type DisputeStatus string

const (
	DisputeAwaitingResponse DisputeStatus = "AWAITING_RESPONSE"
	DisputeEscalated        DisputeStatus = "ESCALATED"
	DisputeSettling         DisputeStatus = "SETTLING"
	DisputeReviewRequired   DisputeStatus = "REVIEW_REQUIRED"
	DisputeResolved         DisputeStatus = "RESOLVED"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeAwaitingResponse: {DisputeSettling, DisputeEscalated},
	DisputeEscalated:        {DisputeSettling},
	DisputeSettling:         {DisputeResolved, DisputeReviewRequired},
	DisputeReviewRequired:   {DisputeResolved, DisputeReviewRequired},
}

// CanTransition reports whether a dispute may move from one status to another.
func CanTransition(from, to DisputeStatus) bool {
	for _, s := range disputeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type DisputeOutcome string

const (
	OutcomeRefundFull    DisputeOutcome = "REFUND_FULL"
	OutcomeRefundPartial DisputeOutcome = "REFUND_PARTIAL"
	OutcomeRefundNone    DisputeOutcome = "REFUND_NONE"
	OutcomeRealtorWins   DisputeOutcome = "REALTOR_WINS"
	OutcomeGuestWins     DisputeOutcome = "GUEST_WINS"
	OutcomeSplit         DisputeOutcome = "SPLIT"
)

type DisputeResponse string

const (
	ResponseAccept DisputeResponse = "ACCEPT"
	ResponseReject DisputeResponse = "REJECT"
)

// Settlement is one precomputed outcome. Guest+Host+Platform equals the disputed bucket.
type Settlement struct {
	Outcome        DisputeOutcome `json:"outcome"`
	GuestAmount    Money          `json:"guest_amount"`
	HostAmount     Money          `json:"host_amount"`
	PlatformAmount Money          `json:"platform_amount"`
}

type Dispute struct {
	ID        string
	BookingID string
	PaymentID string
	Subject   DisputeSubject
	Category  DisputeCategory
	Status    DisputeStatus

	OpenedBy  string
	Responder string
	Note      string

	ClaimedAmount Money
	CapAmount     Money
	Settlements   []Settlement
	ClaimOutcome  DisputeOutcome

	Response   DisputeResponse
	Outcome    DisputeOutcome
	DecidedBy  string
	AdminNote  string
	Resolution *Settlement

	FailureDetail string

	ResponseDeadline time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ResolvedAt       *time.Time
}

func (d Dispute) Terminal() bool { return d.Status == DisputeResolved }

// SettlementFor returns the precomputed settlement for an outcome.
func (d Dispute) SettlementFor(o DisputeOutcome) (Settlement, bool) {
	for _, s := range d.Settlements {
		if s.Outcome == o {
			return s, true
		}
	}
	return Settlement{}, false
}
