package finance_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook_escrow/internal/domain"
	"staybook_escrow/internal/finance"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, finance.Defaults().Validate())
}

func TestParse_SampleDocumentMatchesDefaults(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "config", "finance.yaml"))
	require.NoError(t, err)

	cfg, err := finance.Parse(raw)
	require.NoError(t, err)

	def := finance.Defaults()
	require.Len(t, cfg.Commission.Tiers, len(def.Commission.Tiers))
	for i := range def.Commission.Tiers {
		assert.True(t, def.Commission.Tiers[i].BaseRate.Equal(cfg.Commission.Tiers[i].BaseRate))
	}
	assert.Equal(t, def.Disputes.DepositWindow, cfg.Disputes.DepositWindow)
	assert.Equal(t, def.Disputes.SettlementStaleAfter, cfg.Disputes.SettlementStaleAfter)
	assert.Len(t, cfg.Disputes.Categories, len(def.Disputes.Categories))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const gap = `
commission:
  tiers:
    - { min_room_fee: 0, max_room_fee: 50000, base_rate: "0.15" }
    - { min_room_fee: 60000, max_room_fee: 0, base_rate: "0.10" }
  max_volume_reduction: "0"
`

func TestParse_RejectsNonContiguousTiers(t *testing.T) {
	_, err := finance.Parse([]byte(gap))
	var ce *domain.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.True(t, hasProblem(ce.Problems, "not contiguous"))
}

func TestValidate_RejectsGraceShorterThanWindow(t *testing.T) {
	cfg := finance.Defaults()
	cfg.Escrow.DepositReturnGrace = cfg.Disputes.DepositWindow / 2
	var ce *domain.ConfigurationError
	require.True(t, errors.As(cfg.Validate(), &ce))
	assert.True(t, hasProblem(ce.Problems, "deposit return grace"))
}

func TestValidate_RejectsDepositCapBelowOne(t *testing.T) {
	cfg := finance.Defaults()
	rule := cfg.Disputes.Categories[domain.CategoryPropertyDamage]
	rule.CapRate = dec("0.5")
	cfg.Disputes.Categories[domain.CategoryPropertyDamage] = rule
	var ce *domain.ConfigurationError
	require.True(t, errors.As(cfg.Validate(), &ce))
	assert.True(t, hasProblem(ce.Problems, "deposit cap rate must be 1"))
}

func TestValidate_RejectsRefundSharesNotSummingToOne(t *testing.T) {
	cfg := finance.Defaults()
	cfg.Refunds.Tiers[0].GuestShare = dec("0.95")
	assert.Error(t, cfg.Validate())
}

func TestParse_ReportsBadDecimal(t *testing.T) {
	_, err := finance.Parse([]byte(`commission: { max_volume_reduction: "three percent" }`))
	var ce *domain.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.True(t, hasProblem(ce.Problems, "not a decimal"))
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, health, err := finance.Load("", true)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Len(t, cfg.Commission.Tiers, 3)
}

func TestLoad_StrictFailsOnBadDocument(t *testing.T) {
	_, health, err := finance.Load(writeConfig(t, gap), true)
	require.Error(t, err)
	assert.False(t, health.Healthy)
}

func TestLoad_LenientFallsBackAndDegrades(t *testing.T) {
	cfg, health, err := finance.Load(writeConfig(t, gap), false)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
	assert.NotEmpty(t, health.Reason)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_LenientMissingFile(t *testing.T) {
	_, health, err := finance.Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)
	assert.False(t, health.Healthy)
}

func hasProblem(problems []string, fragment string) bool {
	for _, p := range problems {
		if strings.Contains(p, fragment) {
			return true
		}
	}
	return false
}
