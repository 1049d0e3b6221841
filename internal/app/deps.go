package app

import (
	"context"
	"time"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

// Deps is everything the services need. Finance is immutable once loaded.
type Deps struct {
	Store    domain.Store
	Bookings domain.BookingReader
	Provider domain.PaymentProvider
	Notifier domain.Notifier
	Cache    domain.Cache
	Clock    domain.Clock
	Finance  finance.Config

	// PlatformWalletID owns commission and cancellation portions.
	PlatformWalletID string
	CacheTTL         time.Duration
}

func (d Deps) platform() domain.WalletOwner {
	return domain.WalletOwner{Type: domain.OwnerPlatform, ID: d.PlatformWalletID}
}

func (d Deps) now() time.Time { return d.Clock.Now().UTC() }

type noopNotifier struct{}

func (noopNotifier) Notify(_ context.Context, _ domain.Notification) {}

type noopCache struct{}

func (noopCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (noopCache) Set(context.Context, string, any, int) error    { return nil }
func (noopCache) Del(context.Context, string) error              { return nil }

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Cache == nil {
		d.Cache = noopCache{}
	}
	if d.PlatformWalletID == "" {
		d.PlatformWalletID = "platform"
	}
	return d
}
