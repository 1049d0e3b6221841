// Package wire builds the service graph shared by the API and the sweeper.
package wire

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"

	"staybook_escrow/internal/adapters/notify"
	"staybook_escrow/internal/adapters/observability"
	"staybook_escrow/internal/adapters/provider"
	redisad "staybook_escrow/internal/adapters/redis"
	"staybook_escrow/internal/app"
	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
	"staybook_escrow/internal/shared"
	"staybook_escrow/internal/storage/memory"
	mysqlstore "staybook_escrow/internal/storage/mysql"
)

type System struct {
	Deps     app.Deps
	Escrow   *app.EscrowService
	Disputes *app.DisputeService
	Wallets  *app.WalletService
	Sweeper  *app.Sweeper

	FinanceHealth finance.Health
	Checks        map[string]func(context.Context) error

	dispatcher *notify.Dispatcher
	closers    []func() error
}

// Build opens every backing dependency named by cfg. Close releases them.
func Build(ctx context.Context, cfg shared.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fin, health, err := finance.Load(cfg.FinancePath, cfg.FinanceStrict)
	observability.SetFinanceConfigHealthy(health.Healthy)
	if err != nil {
		return nil, err
	}

	sys := &System{FinanceHealth: health, Checks: map[string]func(context.Context) error{}}
	clock := clockz.RealClock
	d := app.Deps{Clock: clock, Finance: fin, PlatformWalletID: cfg.PlatformWalletID, CacheTTL: cfg.CacheTTL}

	switch cfg.StoreDriver {
	case shared.DriverMemory:
		bookings, err := memory.LoadBookings(cfg.SeedBookingsPath)
		if err != nil {
			return nil, fmt.Errorf("seed bookings: %w", err)
		}
		d.Store = memory.New(clock)
		d.Bookings = bookings
		log.Warn().Msg("using the in-memory store; state is lost on exit")
	default:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("sql.Open: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db.Ping: %w", err)
		}
		log.Info().Msg("database connection ok")
		d.Store = mysqlstore.New(db, clock)
		d.Bookings = mysqlstore.NewBookings(db)
		sys.Checks["mysql"] = db.PingContext
		sys.closers = append(sys.closers, db.Close)
	}

	if cfg.RedisAddr != "" {
		c := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		d.Cache = c
		sys.Checks["redis"] = c.Ping
		sys.closers = append(sys.closers, c.Close)
	}

	if cfg.ProviderBase != "" {
		pc, err := provider.New(cfg.ProviderBase, cfg.ProviderKey, cfg.ProviderRPS)
		if err != nil {
			sys.Close()
			return nil, fmt.Errorf("provider client: %w", err)
		}
		d.Provider = pc
	} else {
		log.Warn().Msg("PROVIDER_BASE_URL not set, using the sandbox provider")
		d.Provider = provider.NewSandbox()
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.NotifyWebhookURL != "" {
		sender = notify.WebhookSender{URL: cfg.NotifyWebhookURL}
	}
	sys.dispatcher = notify.NewDispatcher(sender, cfg.NotifyMaxInFlight, 10*time.Second)
	d.Notifier = sys.dispatcher

	sys.Deps = d
	sys.Wallets = app.NewWalletService(d)
	sys.Escrow = app.NewEscrowService(d, sys.Wallets)
	sys.Disputes = app.NewDisputeService(d, sys.Escrow)
	sys.Sweeper = app.NewSweeper(d, sys.Escrow, sys.Disputes, cfg.SweepWorkers, cfg.SweepBatch)
	return sys, nil
}

// Close waits for in-flight notifications, then closes connections in reverse order.
func (s *System) Close() {
	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

var _ domain.Notifier = (*notify.Dispatcher)(nil)
