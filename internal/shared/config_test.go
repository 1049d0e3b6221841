package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SWEEP_INTERVAL", "")
	c := Load()
	assert.Equal(t, DriverMySQL, c.StoreDriver)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, 15*time.Second, c.HTTPTimeout)
	assert.Equal(t, "platform", c.PlatformWalletID)
	assert.Zero(t, c.SweepInterval)
	require.NoError(t, c.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("SWEEP_WORKERS", "2")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("CACHE_TTL_SECONDS", "90")
	t.Setenv("FINANCE_CONFIG_STRICT", "true")
	t.Setenv("PROVIDER_RPS", "nope")
	c := Load()
	assert.Equal(t, DriverMemory, c.StoreDriver)
	assert.Equal(t, 2, c.SweepWorkers)
	assert.Equal(t, time.Minute, c.SweepInterval)
	assert.Equal(t, 90*time.Second, c.CacheTTL)
	assert.True(t, c.FinanceStrict)
	assert.Equal(t, 5, c.ProviderRPS)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	assert.Error(t, Load().Validate())

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SWEEP_BATCH", "0")
	assert.Error(t, Load().Validate())
}
