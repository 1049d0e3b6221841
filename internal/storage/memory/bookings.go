package memory

import (
	"context"
	"sync"

	"staybook_escrow/internal/domain"
)

// Bookings is an in-process booking read model.
type Bookings struct {
	mu   sync.RWMutex
	byID map[string]domain.Booking
}

func NewBookings(bs ...domain.Booking) *Bookings {
	b := &Bookings{byID: map[string]domain.Booking{}}
	for _, x := range bs {
		b.byID[x.ID] = x
	}
	return b
}

func (b *Bookings) Put(x domain.Booking) {
	b.mu.Lock()
	b.byID[x.ID] = x
	b.mu.Unlock()
}

func (b *Bookings) GetBooking(_ context.Context, id string) (domain.Booking, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	x, ok := b.byID[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return x, nil
}
