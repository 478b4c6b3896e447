package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  method: gap_open
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "09:30", cfg.Session.EntryWindowStart)
	assert.Equal(t, "11:00", cfg.Session.EntryWindowEnd)
	assert.Equal(t, 10, cfg.Watchlist.TopN)
	assert.True(t, cfg.Universe.UseReferenceData)
	assert.Equal(t, "sma", cfg.Features.Baseline200)
	assert.Equal(t, 0.5, cfg.Strategy.ScaleFraction)
	assert.Equal(t, 10000, cfg.Inference.NBootstrap)
	assert.True(t, cfg.Strategy.Setups["a"].Enabled)
}

func TestLoad_RespectsExplicitFalse(t *testing.T) {
	path := writeConfig(t, `
universe:
  use_reference_data: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Universe.UseReferenceData)
}

func TestLoad_RejectsUnknownWatchlistMethod(t *testing.T) {
	path := writeConfig(t, `
watchlist:
  method: quantum_gap
`)
	_, err := Load(path)
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "config_error", cerr.Code())
}

func TestLoad_ZeroFeeScenarioPreserved(t *testing.T) {
	// The gap-through-stop end-to-end scenario requires explicit 0 slippage
	// and 0 fees to remain 0, not silently defaulted back up.
	path := writeConfig(t, `
fills:
  slippage_bps: 0
  spread_cents: 0
  fees_per_trade: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Fills.FeesPerTrade)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	require.Error(t, err)
}
