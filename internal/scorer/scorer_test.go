package scorer

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
	"github.com/fyrsmithlabs/soaplintd/internal/window"
)

func defaultScoring() config.ScoringConfig {
	return config.ScoringConfig{
		Weights: map[string]float64{
			config.MetricNgramRepetition:        0.40,
			config.MetricDistributionSimilarity: 0.25,
			config.MetricGestureRepetition:      0.20,
			config.MetricClicheRate:             0.15,
		},
		Threshold: 0.5,
	}
}

func TestScore_ExactWeightedSum(t *testing.T) {
	t.Parallel()

	s := New(defaultScoring())

	vector := window.MetricVector{
		NgramRepetition:        0.8,
		DistributionSimilarity: 0.6,
		GestureRepetition:      0.5,
		ClicheRate:             1.0,
	}

	got := s.Score(vector)
	want := 0.40*0.8 + 0.25*0.6 + 0.20*0.5 + 0.15*1.0

	assert.InDelta(t, want, got.Value, 1e-12)
	assert.True(t, got.Triggered)

	assert.InDelta(t, 0.40*0.8, got.Breakdown[config.MetricNgramRepetition], 1e-12)
	assert.InDelta(t, 0.25*0.6, got.Breakdown[config.MetricDistributionSimilarity], 1e-12)
	assert.InDelta(t, 0.20*0.5, got.Breakdown[config.MetricGestureRepetition], 1e-12)
	assert.InDelta(t, 0.15*1.0, got.Breakdown[config.MetricClicheRate], 1e-12)
}

func TestScore_ValueInUnitInterval(t *testing.T) {
	t.Parallel()

	s := New(defaultScoring())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		vector := window.MetricVector{
			NgramRepetition:        rng.Float64(),
			DistributionSimilarity: rng.Float64(),
			GestureRepetition:      rng.Float64(),
			ClicheRate:             rng.Float64(),
		}
		got := s.Score(vector)
		assert.GreaterOrEqual(t, got.Value, 0.0)
		assert.LessOrEqual(t, got.Value, 1.0)
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	s := New(defaultScoring())
	vector := window.MetricVector{
		NgramRepetition:        0.31,
		DistributionSimilarity: 0.77,
		GestureRepetition:      0.12,
		ClicheRate:             0.5,
	}

	first := s.Score(vector)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(vector))
	}

	// Bit-exact across independently built weight maps: the sum must
	// not depend on map insertion or iteration order.
	reversed := config.ScoringConfig{
		Weights: map[string]float64{
			config.MetricClicheRate:             0.15,
			config.MetricGestureRepetition:      0.20,
			config.MetricDistributionSimilarity: 0.25,
			config.MetricNgramRepetition:        0.40,
		},
		Threshold: 0.5,
	}
	assert.Equal(t, first.Value, New(reversed).Score(vector).Value)
}

func TestScore_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	cfg := defaultScoring()
	cfg.Threshold = 0.5
	s := New(cfg)

	// All metrics at 0.5 gives exactly 0.5: not triggered (strictly
	// greater than).
	exact := s.Score(window.MetricVector{
		NgramRepetition:        0.5,
		DistributionSimilarity: 0.5,
		GestureRepetition:      0.5,
		ClicheRate:             0.5,
	})
	assert.InDelta(t, 0.5, exact.Value, 1e-12)
	assert.False(t, exact.Triggered)

	above := s.Score(window.MetricVector{
		NgramRepetition:        0.51,
		DistributionSimilarity: 0.51,
		GestureRepetition:      0.51,
		ClicheRate:             0.51,
	})
	assert.True(t, above.Triggered)
}

func TestScore_ZeroVector(t *testing.T) {
	t.Parallel()

	s := New(defaultScoring())

	got := s.Score(window.MetricVector{LowConfidence: true})
	assert.Zero(t, got.Value)
	assert.False(t, got.Triggered)
	assert.True(t, got.LowConfidence)
}

func TestDominantShare(t *testing.T) {
	t.Parallel()

	s := New(defaultScoring())

	got := s.Score(window.MetricVector{NgramRepetition: 1.0})
	share, name := got.DominantShare()
	assert.InDelta(t, 1.0, share, 1e-12)
	assert.Equal(t, config.MetricNgramRepetition, name)

	balanced := s.Score(window.MetricVector{
		NgramRepetition:        0.5,
		DistributionSimilarity: 0.8,
	})
	share, name = balanced.DominantShare()
	require.Equal(t, config.MetricDistributionSimilarity, name)
	assert.Less(t, share, 1.0)

	zero := Score{}
	share, name = zero.DominantShare()
	assert.Zero(t, share)
	assert.Empty(t, name)
}
