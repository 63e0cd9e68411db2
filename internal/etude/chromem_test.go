package etude

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChromemTestStore(t *testing.T, etudes []Etude) *ChromemStore {
	t.Helper()

	store, err := NewChromemStore(ChromemConfig{Path: t.TempDir()}, etudes, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestChromemStore_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewChromemStore(ChromemConfig{}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestChromemStore_Nearest(t *testing.T) {
	t.Parallel()

	store := newChromemTestStore(t, testEtudes())

	candidates, err := store.Nearest(context.Background(), []float32{1, 0}, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	// Identical embedding ranks first with similarity ~1.
	assert.Equal(t, "et-1", candidates[0].ID)
	assert.InDelta(t, 1.0, candidates[0].Similarity, 1e-3)

	for _, c := range candidates {
		assert.NotEmpty(t, c.PatternDescriptor)
		assert.GreaterOrEqual(t, c.CooldownTurns, 0)
	}
}

func TestChromemStore_NearestFloorFilters(t *testing.T) {
	t.Parallel()

	store := newChromemTestStore(t, testEtudes())

	candidates, err := store.Nearest(context.Background(), []float32{1, 0}, 0.99)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.GreaterOrEqual(t, c.Similarity, 0.99)
	}
}

func TestChromemStore_EmptyEmbedding(t *testing.T) {
	t.Parallel()

	store := newChromemTestStore(t, testEtudes())

	_, err := store.Nearest(context.Background(), nil, 0.0)
	assert.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestChromemStore_EmptyIndex(t *testing.T) {
	t.Parallel()

	store := newChromemTestStore(t, nil)

	candidates, err := store.Nearest(context.Background(), []float32{1, 0}, 0.0)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestChromemStore_ClaimRoundTrip(t *testing.T) {
	t.Parallel()

	store := newChromemTestStore(t, testEtudes())
	ctx := context.Background()

	claimed, err := store.TryClaim(ctx, "et-1", "session-a", 4)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Within the cooldown window the claim must fail.
	claimed, err = store.TryClaim(ctx, "et-1", "session-a", 6)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Other scopes are unaffected.
	claimed, err = store.TryClaim(ctx, "et-1", "session-b", 6)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestChromemStore_TagsSurviveRoundTrip(t *testing.T) {
	t.Parallel()

	store := newChromemTestStore(t, []Etude{{
		ID:                "et-tagged",
		PatternDescriptor: "anapestic runs",
		Embedding:         []float32{0, 1},
		Tags:              []string{"rhythm", "syntactic"},
		CooldownTurns:     3,
	}})

	candidates, err := store.Nearest(context.Background(), []float32{0, 1}, 0.0)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].HasTag("rhythm"))
	assert.True(t, candidates[0].HasTag("syntactic"))
}
