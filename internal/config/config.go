// Package config provides configuration loading for soaplintd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. The resulting Config is immutable after Load and validated
// once; components receive it explicitly rather than reading globals.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/soaplintd/internal/logging"
)

// Metric names recognized in Scoring.Weights.
const (
	MetricNgramRepetition        = "ngram_repetition"
	MetricDistributionSimilarity = "distribution_similarity"
	MetricGestureRepetition      = "gesture_repetition"
	MetricClicheRate             = "cliche_rate"
)

// Cooldown scopes for etude reuse tracking.
const (
	CooldownPerSession = "per_session"
	CooldownGlobal     = "global"
)

// Lint modes assignable per domain in the policy map.
const (
	ModeFull   = "full"
	ModeRhythm = "rhythm"
	ModeOff    = "off"
)

// Store backends.
const (
	BackendMemory  = "memory"
	BackendChromem = "chromem"
)

// weightSumEpsilon is the tolerance for the weights-sum-to-one check.
const weightSumEpsilon = 1e-6

// ErrInvalidConfig indicates malformed configuration. It is fatal: the
// engine must not begin processing sessions with an invalid config.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete soaplintd configuration.
type Config struct {
	Window   WindowConfig   `koanf:"window"`
	Scoring  ScoringConfig  `koanf:"scoring"`
	Selector SelectorConfig `koanf:"selector"`
	Plan     PlanConfig     `koanf:"plan"`
	Store    StoreConfig    `koanf:"store"`
	Policy   PolicyConfig   `koanf:"policy"`
	Server   ServerConfig   `koanf:"server"`
	Logging  logging.Config `koanf:"logging"`
}

// WindowConfig holds sliding-window metric collector configuration.
type WindowConfig struct {
	// Size is the maximum number of utterances kept per session (K).
	Size int `koanf:"size"`

	// NgramSize is the n used for n-gram repetition detection.
	NgramSize int `koanf:"ngram_size"`

	// Cliches is the list of phrases flagged as clichés.
	Cliches []string `koanf:"cliches"`

	// GestureMarkers is the discourse-marker list used for gesture
	// repetition detection (e.g. "indeed", "truly", "of course").
	GestureMarkers []string `koanf:"gesture_markers"`

	// IdleTimeout evicts a session's window after this much inactivity.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// ScoringConfig holds soapiness scorer configuration.
type ScoringConfig struct {
	// Weights maps metric name to its contribution weight.
	// Weights must be non-negative and sum to 1.
	Weights map[string]float64 `koanf:"weights"`

	// Threshold triggers plan building when the score exceeds it.
	Threshold float64 `koanf:"threshold"`
}

// SelectorConfig holds etude selector configuration.
type SelectorConfig struct {
	// SimilarityFloor is the minimum cosine similarity for a candidate.
	SimilarityFloor float64 `koanf:"similarity_floor"`

	// MaxEtudes caps how many etudes a single plan may inject.
	MaxEtudes int `koanf:"max_etudes"`

	// CooldownScope is "per_session" or "global".
	CooldownScope string `koanf:"cooldown_scope"`
}

// PlanConfig holds plan builder configuration.
type PlanConfig struct {
	// MaxEditRatio is the default changed-token fraction bound.
	MaxEditRatio float64 `koanf:"max_edit_ratio"`

	// MinEditRatio is the floor used when the ratio is tightened.
	MinEditRatio float64 `koanf:"min_edit_ratio"`

	// DominanceShare tightens MaxEditRatio when a single metric
	// contributes at least this share of the triggering score.
	DominanceShare float64 `koanf:"dominance_share"`

	// VoiceWeight and TemperatureCap are style constraints passed
	// through to the downstream rewriter.
	VoiceWeight    float64 `koanf:"voice_weight"`
	TemperatureCap float64 `koanf:"temperature_cap"`

	// HeuristicLocks enables heuristic fact extraction when the caller
	// supplies no locks.
	HeuristicLocks bool `koanf:"heuristic_locks"`
}

// StoreConfig holds etude store configuration.
type StoreConfig struct {
	// Backend selects the store implementation: "memory" or "chromem".
	Backend string `koanf:"backend"`

	// Path is the etude JSONL file loaded at startup.
	Path string `koanf:"path"`

	// ChromemPath is the persistence directory for the chromem backend.
	ChromemPath string `koanf:"chromem_path"`

	// LookupTimeout bounds a single similarity lookup.
	LookupTimeout time.Duration `koanf:"lookup_timeout"`

	// MaxRetries is the number of lookup retries before degrading.
	MaxRetries int `koanf:"max_retries"`

	// WatchReload reloads the etude file when it changes on disk.
	WatchReload bool `koanf:"watch_reload"`
}

// PolicyConfig maps task domains to lint modes.
type PolicyConfig struct {
	// Domains maps a domain name to "full", "rhythm" or "off".
	// Unlisted domains default to "full".
	Domains map[string]string `koanf:"domains"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimit is the per-client request rate (requests/second).
	// Zero disables rate limiting.
	RateLimit float64 `koanf:"rate_limit"`
}

// Default returns a Config populated with documented defaults.
//
// The metric weights mirror the tuning the linter shipped with:
// n-gram repetition 0.40, distribution similarity 0.25, gesture
// repetition 0.20, cliché rate 0.15.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Size:      6,
			NgramSize: 3,
			GestureMarkers: []string{
				"indeed", "truly", "of course", "in fact", "clearly",
				"as we know", "needless to say", "at the end of the day",
			},
			IdleTimeout: 30 * time.Minute,
		},
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				MetricNgramRepetition:        0.40,
				MetricDistributionSimilarity: 0.25,
				MetricGestureRepetition:      0.20,
				MetricClicheRate:             0.15,
			},
			Threshold: 0.5,
		},
		Selector: SelectorConfig{
			SimilarityFloor: 0.35,
			MaxEtudes:       2,
			CooldownScope:   CooldownPerSession,
		},
		Plan: PlanConfig{
			MaxEditRatio:   0.25,
			MinEditRatio:   0.05,
			DominanceShare: 0.5,
			VoiceWeight:    0.9,
			TemperatureCap: 0.8,
			HeuristicLocks: true,
		},
		Store: StoreConfig{
			Backend:       BackendMemory,
			LookupTimeout: 2 * time.Second,
			MaxRetries:    3,
		},
		Logging: *logging.NewDefaultConfig(),
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9180,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
		},
	}
}

// Validate validates the configuration.
//
// Returns an error wrapping ErrInvalidConfig if any option is malformed:
// non-normalized weights, negative weights, out-of-range threshold or
// ratios, negative cooldowns, unknown scopes or modes.
func (c *Config) Validate() error {
	if c.Window.Size < 1 {
		return fmt.Errorf("%w: window size must be >= 1, got %d", ErrInvalidConfig, c.Window.Size)
	}
	if c.Window.NgramSize < 1 {
		return fmt.Errorf("%w: ngram size must be >= 1, got %d", ErrInvalidConfig, c.Window.NgramSize)
	}
	if c.Window.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalidConfig)
	}

	if len(c.Scoring.Weights) == 0 {
		return fmt.Errorf("%w: scoring weights are required", ErrInvalidConfig)
	}
	var sum float64
	for name, w := range c.Scoring.Weights {
		if w < 0 {
			return fmt.Errorf("%w: weight %q is negative (%f)", ErrInvalidConfig, name, w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumEpsilon {
		return fmt.Errorf("%w: weights must sum to 1, got %f", ErrInvalidConfig, sum)
	}
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be in [0,1], got %f", ErrInvalidConfig, c.Scoring.Threshold)
	}

	if c.Selector.SimilarityFloor < -1 || c.Selector.SimilarityFloor > 1 {
		return fmt.Errorf("%w: similarity floor must be in [-1,1], got %f", ErrInvalidConfig, c.Selector.SimilarityFloor)
	}
	if c.Selector.MaxEtudes < 1 {
		return fmt.Errorf("%w: max etudes must be >= 1, got %d", ErrInvalidConfig, c.Selector.MaxEtudes)
	}
	switch c.Selector.CooldownScope {
	case CooldownPerSession, CooldownGlobal:
	default:
		return fmt.Errorf("%w: cooldown scope must be %q or %q, got %q",
			ErrInvalidConfig, CooldownPerSession, CooldownGlobal, c.Selector.CooldownScope)
	}

	if c.Plan.MaxEditRatio <= 0 || c.Plan.MaxEditRatio > 1 {
		return fmt.Errorf("%w: max edit ratio must be in (0,1], got %f", ErrInvalidConfig, c.Plan.MaxEditRatio)
	}
	if c.Plan.MinEditRatio <= 0 || c.Plan.MinEditRatio > c.Plan.MaxEditRatio {
		return fmt.Errorf("%w: min edit ratio must be in (0,max_edit_ratio], got %f", ErrInvalidConfig, c.Plan.MinEditRatio)
	}
	if c.Plan.DominanceShare < 0 || c.Plan.DominanceShare > 1 {
		return fmt.Errorf("%w: dominance share must be in [0,1], got %f", ErrInvalidConfig, c.Plan.DominanceShare)
	}
	if c.Plan.VoiceWeight < 0 || c.Plan.VoiceWeight > 1 {
		return fmt.Errorf("%w: voice weight must be in [0,1], got %f", ErrInvalidConfig, c.Plan.VoiceWeight)
	}
	if c.Plan.TemperatureCap <= 0 {
		return fmt.Errorf("%w: temperature cap must be positive", ErrInvalidConfig)
	}

	switch c.Store.Backend {
	case BackendMemory, BackendChromem:
	default:
		return fmt.Errorf("%w: store backend must be %q or %q, got %q",
			ErrInvalidConfig, BackendMemory, BackendChromem, c.Store.Backend)
	}
	if c.Store.LookupTimeout <= 0 {
		return fmt.Errorf("%w: store lookup timeout must be positive", ErrInvalidConfig)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("%w: store max retries must be >= 0, got %d", ErrInvalidConfig, c.Store.MaxRetries)
	}

	for domain, mode := range c.Policy.Domains {
		switch mode {
		case ModeFull, ModeRhythm, ModeOff:
		default:
			return fmt.Errorf("%w: domain %q has unknown lint mode %q", ErrInvalidConfig, domain, mode)
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port must be 1-65535, got %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must be >= 0, got %f", ErrInvalidConfig, c.Server.RateLimit)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}
