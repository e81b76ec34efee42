package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.DefaultProvider)
	assert.True(t, cfg.Budget.PerOp.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 3, cfg.Router.MaxFallback)
}

func TestLoadJSONOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"root": "/tmp/scout-test",
		"default_provider": "gemini",
		"budget": {"per_op": "2.50", "per_day": "20", "per_month": "200"},
		"poll": {"initial_s": 3, "mid_s": 15, "late_s": 30}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/scout-test", cfg.Root)
	assert.Equal(t, "gemini", cfg.DefaultProvider)
	assert.True(t, cfg.Budget.PerOp.Equal(decimal.RequireFromString("2.50")))
	assert.Equal(t, 3, cfg.Poll.InitialSeconds)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"root: /tmp/scout-yaml\ndefault_provider: grok\npoll:\n  initial_s: 4\n  mid_s: 8\n  late_s: 16\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/scout-yaml", cfg.Root)
	assert.Equal(t, "grok", cfg.DefaultProvider)
	assert.Equal(t, 4, cfg.Poll.InitialSeconds)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default_provider": "skynet"}`), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "skynet")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCOUT_ROOT", "/tmp/scout-env")
	t.Setenv("SCOUT_DEFAULT_PROVIDER", "anthropic")
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/scout-env", cfg.Root)
	assert.Equal(t, "anthropic", cfg.DefaultProvider)
	assert.Equal(t, "gem-key", cfg.Providers.Gemini.APIKey)
}

func TestEnvDoesNotOverrideExplicitKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"providers": {"openai": {"api_key": "file-key"}}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.Providers.OpenAI.APIKey)
}

func TestBudgetClampsToHardCaps(t *testing.T) {
	b := BudgetConfig{
		PerOp:    decimal.NewFromInt(9999),
		PerDay:   decimal.NewFromInt(9999),
		PerMonth: decimal.NewFromInt(9999),
	}
	require.NoError(t, b.Validate())
	assert.True(t, b.PerOp.Equal(HardCapPerOp))
	assert.True(t, b.PerDay.Equal(HardCapPerDay))
	assert.True(t, b.PerMonth.Equal(HardCapPerMonth))
}

func TestBudgetRejectsNonPositive(t *testing.T) {
	b := BudgetConfig{PerOp: decimal.Zero, PerDay: decimal.NewFromInt(1), PerMonth: decimal.NewFromInt(1)}
	assert.Error(t, b.Validate())
}

func TestRouterValidateRanges(t *testing.T) {
	r := RouterConfig{Explore: 1.5}
	assert.Error(t, r.Validate())

	r = RouterConfig{Explore: 0.1}
	require.NoError(t, r.Validate())
	assert.Equal(t, 3, r.MaxFallback, "zero fallback falls back to default")
	assert.NotZero(t, r.WeightQuality, "all-zero weights reset to defaults")
}

func TestPollIntervalAdaptiveSchedule(t *testing.T) {
	p := DefaultPollConfig()

	assert.Equal(t, 5*time.Second, p.Interval(30*time.Second))
	assert.Equal(t, 10*time.Second, p.Interval(3*time.Minute))
	assert.Equal(t, 20*time.Second, p.Interval(time.Hour))

	p.LateSeconds = 600
	assert.Equal(t, time.Minute, p.Interval(time.Hour), "poll interval caps at 60s")
}

func TestPollValidateFillsDefaults(t *testing.T) {
	p := PollConfig{InitialSeconds: 1, MidSeconds: 2, LateSeconds: 3}
	require.NoError(t, p.Validate())
	assert.Equal(t, 60, p.LeaseSeconds)
	assert.Equal(t, 1, p.Workers)
	assert.Equal(t, 10, p.MaxConcurrentProcessing)
	assert.Equal(t, 120, p.MaxRuntimeMinutes)

	bad := PollConfig{}
	assert.Error(t, bad.Validate())
}

func TestConfiguredProviders(t *testing.T) {
	p := DefaultProvidersConfig()
	assert.Empty(t, p.Configured())

	p.Grok.APIKey = "xai-123"
	p.OpenAI.APIKey = "sk-123"
	assert.Equal(t, []string{"openai", "grok"}, p.Configured())
}
