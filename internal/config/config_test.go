package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 6, cfg.Window.Size)
	assert.Equal(t, 0.5, cfg.Scoring.Threshold)
	assert.Equal(t, CooldownPerSession, cfg.Selector.CooldownScope)
	assert.Equal(t, 0.25, cfg.Plan.MaxEditRatio)
}

func TestValidate_Weights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		weights map[string]float64
		wantErr bool
	}{
		{
			name: "valid_sum_to_one",
			weights: map[string]float64{
				MetricNgramRepetition: 0.5,
				MetricClicheRate:      0.5,
			},
		},
		{
			name: "sum_below_one",
			weights: map[string]float64{
				MetricNgramRepetition: 0.4,
				MetricClicheRate:      0.4,
			},
			wantErr: true,
		},
		{
			name: "negative_weight",
			weights: map[string]float64{
				MetricNgramRepetition: 1.2,
				MetricClicheRate:      -0.2,
			},
			wantErr: true,
		},
		{
			name:    "empty_weights",
			weights: map[string]float64{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			cfg.Scoring.Weights = tt.weights

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_Ranges(t *testing.T) {
	t.Parallel()

	mutations := map[string]func(*Config){
		"zero_window":        func(c *Config) { c.Window.Size = 0 },
		"zero_ngram":         func(c *Config) { c.Window.NgramSize = 0 },
		"threshold_above":    func(c *Config) { c.Scoring.Threshold = 1.5 },
		"threshold_negative": func(c *Config) { c.Scoring.Threshold = -0.1 },
		"floor_out_of_range": func(c *Config) { c.Selector.SimilarityFloor = 1.5 },
		"zero_max_etudes":    func(c *Config) { c.Selector.MaxEtudes = 0 },
		"bad_scope":          func(c *Config) { c.Selector.CooldownScope = "sometimes" },
		"ratio_zero":         func(c *Config) { c.Plan.MaxEditRatio = 0 },
		"ratio_above_one":    func(c *Config) { c.Plan.MaxEditRatio = 1.01 },
		"min_above_max":      func(c *Config) { c.Plan.MinEditRatio = 0.5; c.Plan.MaxEditRatio = 0.25 },
		"bad_backend":        func(c *Config) { c.Store.Backend = "postgres" },
		"zero_timeout":       func(c *Config) { c.Store.LookupTimeout = 0 },
		"negative_retries":   func(c *Config) { c.Store.MaxRetries = -1 },
		"bad_policy_mode":    func(c *Config) { c.Policy.Domains = map[string]string{"legal": "loud"} },
		"bad_port":           func(c *Config) { c.Server.Port = 0 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Scoring.Threshold, cfg.Scoring.Threshold)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
window:
  size: 10
  idle_timeout: 5m
scoring:
  threshold: 0.7
selector:
  cooldown_scope: global
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Window.Size)
	assert.Equal(t, 5*time.Minute, cfg.Window.IdleTimeout)
	assert.Equal(t, 0.7, cfg.Scoring.Threshold)
	assert.Equal(t, CooldownGlobal, cfg.Selector.CooldownScope)
	// Untouched values keep defaults.
	assert.Equal(t, Default().Plan.MaxEditRatio, cfg.Plan.MaxEditRatio)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring:\n  threshold: 0.7\n"), 0o600))

	t.Setenv("SOAPLINT_SCORING_THRESHOLD", "0.9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Scoring.Threshold)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring:\n  threshold: 0.7\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoad_InvalidConfigIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring:\n  threshold: 3.0\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
