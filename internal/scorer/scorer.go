// Package scorer combines per-turn repetition metrics into one
// soapiness score.
package scorer

import (
	"sort"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
	"github.com/fyrsmithlabs/soaplintd/internal/window"
)

// Score is the aggregated soapiness result for one turn. Ephemeral,
// recomputed per turn.
type Score struct {
	// Value is the weighted sum of the metric values, in [0,1].
	Value float64 `json:"value"`

	// Breakdown maps metric name to its contribution (weight * value),
	// so callers can explain why a turn triggered.
	Breakdown map[string]float64 `json:"component_breakdown"`

	// Triggered is true when Value exceeds the configured threshold.
	Triggered bool `json:"triggered"`

	// LowConfidence carries the collector's sparse-window flag.
	LowConfidence bool `json:"low_confidence"`
}

// DominantShare returns the largest single contribution as a fraction
// of the total value, and the metric responsible. Returns 0 and "" for
// a zero score.
func (s Score) DominantShare() (float64, string) {
	if s.Value == 0 {
		return 0, ""
	}

	// Deterministic winner under ties: iterate names in sorted order.
	names := make([]string, 0, len(s.Breakdown))
	for name := range s.Breakdown {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		best     float64
		bestName string
	)
	for _, name := range names {
		if c := s.Breakdown[name]; c > best {
			best = c
			bestName = name
		}
	}
	return best / s.Value, bestName
}

// Scorer aggregates metric vectors with a fixed, validated weight set.
// Pure and deterministic: identical inputs always yield identical
// scores.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a Scorer. The weights are assumed validated by
// config.Validate (non-negative, summing to 1).
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the weighted sum of the vector's metric values.
//
// Metrics without a configured weight contribute nothing; configured
// weights for metrics the vector does not carry are treated as a zero
// metric value. Since weights sum to 1 and every metric is in [0,1],
// the value is in [0,1] by construction.
func (s *Scorer) Score(vector window.MetricVector) Score {
	values := vector.Values()

	// Sum in sorted metric order. Map iteration order varies, and float
	// addition is not associative, so an unordered sum could differ in
	// the last bit between runs.
	names := make([]string, 0, len(s.cfg.Weights))
	for name := range s.cfg.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	breakdown := make(map[string]float64, len(names))
	var value float64
	for _, name := range names {
		contribution := s.cfg.Weights[name] * values[name]
		breakdown[name] = contribution
		value += contribution
	}

	return Score{
		Value:         value,
		Breakdown:     breakdown,
		Triggered:     value > s.cfg.Threshold,
		LowConfidence: vector.LowConfidence,
	}
}
