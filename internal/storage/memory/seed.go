package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"staybook_escrow/internal/domain"
)

type seedBooking struct {
	ID                string    `yaml:"id"`
	GuestID           string    `yaml:"guest_id"`
	HostID            string    `yaml:"host_id"`
	HostPayoutAccount string    `yaml:"host_payout_account"`
	PropertyID        string    `yaml:"property_id"`
	Status            string    `yaml:"status"`
	CheckIn           time.Time `yaml:"check_in"`
	CheckOut          time.Time `yaml:"check_out"`
	RoomFee           int64     `yaml:"room_fee"`
	CleaningFee       int64     `yaml:"cleaning_fee"`
	SecurityDeposit   int64     `yaml:"security_deposit"`
	Currency          string    `yaml:"currency"`
}

// ParseBookings decodes a YAML list of bookings for local development.
func ParseBookings(raw []byte) ([]domain.Booking, error) {
	var in []seedBooking
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("parse bookings: %w", err)
	}
	out := make([]domain.Booking, 0, len(in))
	for i, s := range in {
		if s.ID == "" || s.HostID == "" || s.Currency == "" {
			return nil, fmt.Errorf("booking %d: id, host_id and currency are required", i)
		}
		status := domain.BookingStatus(s.Status)
		if status == "" {
			status = domain.BookingConfirmed
		}
		out = append(out, domain.Booking{
			ID: s.ID, GuestID: s.GuestID, HostID: s.HostID, HostPayoutAccount: s.HostPayoutAccount,
			PropertyID: s.PropertyID, Status: status, CheckIn: s.CheckIn.UTC(), CheckOut: s.CheckOut.UTC(),
			RoomFee: domain.Money(s.RoomFee), CleaningFee: domain.Money(s.CleaningFee),
			SecurityDeposit: domain.Money(s.SecurityDeposit), Currency: s.Currency,
		})
	}
	return out, nil
}

// LoadBookings reads path into a booking read model. An empty path gives an empty one.
func LoadBookings(path string) (*Bookings, error) {
	if path == "" {
		return NewBookings(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	bs, err := ParseBookings(raw)
	if err != nil {
		return nil, err
	}
	return NewBookings(bs...), nil
}
