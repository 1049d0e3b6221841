package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	HTTPTimeout time.Duration
	MetricsAddr string

	StoreDriver      string
	MySQLDSN         string
	SeedBookingsPath string
	RedisAddr        string
	RedisDB          int
	RedisPass        string
	CacheTTL         time.Duration

	ProviderBase string
	ProviderKey  string
	ProviderRPS  int

	FinancePath   string
	FinanceStrict bool

	SweepWorkers  int
	SweepBatch    int
	SweepInterval time.Duration

	PlatformWalletID string

	NotifyWebhookURL  string
	NotifyMaxInFlight int
}

const (
	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

func Load() Config {
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		HTTPTimeout: dur("HTTP_TIMEOUT", 15*time.Second),
		MetricsAddr: env("METRICS_ADDR", ""),

		StoreDriver:      strings.ToLower(env("STORE_DRIVER", DriverMySQL)),
		MySQLDSN:         env("MYSQL_DSN", "root:root@tcp(localhost:3306)/staybook?parseTime=true&charset=utf8mb4&loc=UTC"),
		SeedBookingsPath: env("SEED_BOOKINGS_PATH", ""),
		RedisAddr:        env("REDIS_ADDR", ""),
		RedisPass:        env("REDIS_PASSWORD", ""),
		RedisDB:          atoi("REDIS_DB", 0),
		CacheTTL:         time.Duration(atoi("CACHE_TTL_SECONDS", 30)) * time.Second,

		ProviderBase: env("PROVIDER_BASE_URL", ""),
		ProviderKey:  env("PROVIDER_API_KEY", ""),
		ProviderRPS:  atoi("PROVIDER_RPS", 5),

		FinancePath:   env("FINANCE_CONFIG_PATH", ""),
		FinanceStrict: env("FINANCE_CONFIG_STRICT", "false") == "true",

		SweepWorkers:  atoi("SWEEP_WORKERS", 4),
		SweepBatch:    atoi("SWEEP_BATCH", 100),
		SweepInterval: dur("SWEEP_INTERVAL", 0),

		PlatformWalletID: env("PLATFORM_WALLET_ID", "platform"),

		NotifyWebhookURL:  env("NOTIFY_WEBHOOK_URL", ""),
		NotifyMaxInFlight: atoi("NOTIFY_MAX_IN_FLIGHT", 16),
	}
	if c.ProviderBase != "" && c.ProviderKey == "" {
		log.Warn().Msg("PROVIDER_API_KEY is empty")
	}
	return c
}

// Validate rejects settings the binaries cannot start with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMySQL, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q: want mysql or memory", c.StoreDriver)
	}
	if c.StoreDriver == DriverMySQL && c.MySQLDSN == "" {
		return fmt.Errorf("MYSQL_DSN is required for the mysql driver")
	}
	if c.SweepWorkers <= 0 || c.SweepBatch <= 0 {
		return fmt.Errorf("SWEEP_WORKERS and SWEEP_BATCH must be positive")
	}
	if c.ProviderRPS <= 0 {
		return fmt.Errorf("PROVIDER_RPS must be positive")
	}
	if c.PlatformWalletID == "" {
		return fmt.Errorf("PLATFORM_WALLET_ID is required")
	}
	return nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoi(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not an integer, using default")
	}
	return def
}

func dur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not a duration, using default")
	}
	return def
}
