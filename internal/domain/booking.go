package domain

import "time"

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingActive    BookingStatus = "ACTIVE"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// Booking is the read model supplied by the booking service. Amounts are already validated.
type Booking struct {
	ID                 string
	GuestID            string
	HostID             string
	HostPayoutAccount  string
	PropertyID         string
	Status             BookingStatus
	CheckIn            time.Time
	CheckOut           time.Time
	CheckInConfirmedAt *time.Time
	RoomFee            Money
	CleaningFee        Money
	SecurityDeposit    Money
	Currency           string
}
