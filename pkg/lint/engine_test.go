package lint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
	"github.com/fyrsmithlabs/soaplintd/internal/etude"
	"github.com/fyrsmithlabs/soaplintd/internal/policy"
)

// repetitiveText triggers on the second identical turn: full n-gram
// repetition, full distribution similarity and a repeated discourse
// marker put the score at 0.85 before any cliché contribution.
const repetitiveText = "Indeed the rain fell hard and indeed the rain fell hard again"

func testConfig() config.Config {
	cfg := *config.Default()
	cfg.Store.MaxRetries = 0
	return cfg
}

func testStore(t *testing.T, etudes ...etude.Etude) *etude.MemoryStore {
	t.Helper()
	if etudes == nil {
		etudes = []etude.Etude{{
			ID:                "et-1",
			PatternDescriptor: "sonnet volta",
			Embedding:         []float32{1, 0},
			Tags:              []string{"structure"},
			CooldownTurns:     10,
		}}
	}
	return etude.NewMemoryStore(etudes, zap.NewNop())
}

func process(t *testing.T, e *Engine, req Request) *Result {
	t.Helper()
	res, err := e.Process(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestProcess_FirstTurnLowConfidence(t *testing.T) {
	t.Parallel()

	e := New(testConfig(), testStore(t), zap.NewNop())
	res := process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: repetitiveText})

	assert.True(t, res.Metrics.LowConfidence)
	assert.Zero(t, res.Score.Value)
	assert.False(t, res.Score.Triggered)
	assert.Nil(t, res.Plan)
}

func TestProcess_TriggeredTurnBuildsPlan(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Window.Cliches = []string{"the rain fell hard"}

	e := New(cfg, testStore(t), zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: repetitiveText})

	res := process(t, e, Request{
		SessionID: "s1",
		TurnIndex: 2,
		Text:      repetitiveText,
		Embedding: []float32{1, 0},
		FactLocks: []string{"47"},
	})

	require.True(t, res.Score.Triggered)
	assert.Greater(t, res.Score.Value, 0.5)
	require.NotNil(t, res.Plan)
	assert.False(t, res.Degraded)

	assert.Contains(t, res.Plan.Remove, "the rain fell hard")
	assert.Equal(t, []string{"47"}, res.Plan.Locks)
	require.Len(t, res.Plan.Inject, 1)
	assert.Equal(t, "et-1", res.Plan.Inject[0].EtudeID)
	assert.Equal(t, "sonnet volta", res.Plan.Inject[0].PatternDescriptor)
	assert.Equal(t, 0.9, res.Plan.StyleConstraints.VoiceWeight)
}

func TestProcess_HeuristicLockBlocksOverlappingRemoval(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Window.Cliches = []string{"took 47 days"}

	text := "indeed it took 47 days and indeed it took 47 days again"
	e := New(cfg, testStore(t), zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: text})

	res := process(t, e, Request{
		SessionID: "s1",
		TurnIndex: 2,
		Text:      text,
		Embedding: []float32{1, 0},
	})

	require.True(t, res.Score.Triggered)
	require.NotNil(t, res.Plan)

	// No explicit locks: the extractor pins "47", which sits inside the
	// cliché span, so the removal must be dropped.
	assert.Contains(t, res.Plan.Locks, "47")
	assert.Empty(t, res.Plan.Remove)
}

func TestProcess_CooldownDegradesSecondTrigger(t *testing.T) {
	t.Parallel()

	e := New(testConfig(), testStore(t), zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: repetitiveText})

	first := process(t, e, Request{
		SessionID: "s1", TurnIndex: 2, Text: repetitiveText, Embedding: []float32{1, 0},
	})
	require.NotNil(t, first.Plan)
	require.Len(t, first.Plan.Inject, 1)

	// The only etude is cooling down; the turn still triggers and the
	// score stays populated, but no plan is produced.
	second := process(t, e, Request{
		SessionID: "s1", TurnIndex: 3, Text: repetitiveText, Embedding: []float32{1, 0},
	})
	require.True(t, second.Score.Triggered)
	assert.Greater(t, second.Score.Value, 0.5)
	assert.True(t, second.Degraded)
	assert.Nil(t, second.Plan)
}

func TestProcess_OffModeSkipsScoring(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Policy.Domains = map[string]string{"technical_docs": config.ModeOff}

	e := New(cfg, testStore(t), zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: repetitiveText, Domain: "technical_docs"})

	res := process(t, e, Request{
		SessionID: "s1", TurnIndex: 2, Text: repetitiveText, Domain: "technical_docs",
	})

	assert.Equal(t, policy.ModeOff, res.Mode)
	assert.False(t, res.Score.Triggered)
	assert.Zero(t, res.Score.Value)
	assert.Nil(t, res.Plan)

	// The window is still maintained while linting is off.
	assert.Len(t, e.Window("s1"), 2)
}

func TestProcess_RhythmModeFiltersEtudes(t *testing.T) {
	t.Parallel()

	store := testStore(t,
		etude.Etude{
			ID:                "et-imagery",
			PatternDescriptor: "extended metaphor",
			Embedding:         []float32{1, 0},
			Tags:              []string{"imagery"},
			CooldownTurns:     10,
		},
		etude.Etude{
			ID:                "et-meter",
			PatternDescriptor: "anapestic runs",
			Embedding:         []float32{1, 0.5},
			Tags:              []string{"rhythm"},
			CooldownTurns:     10,
		},
	)

	cfg := testConfig()
	cfg.Policy.Domains = map[string]string{"poetry": config.ModeRhythm}

	e := New(cfg, store, zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: repetitiveText, Domain: "poetry"})

	res := process(t, e, Request{
		SessionID: "s1", TurnIndex: 2, Text: repetitiveText,
		Embedding: []float32{1, 0}, Domain: "poetry",
	})

	require.True(t, res.Score.Triggered)
	require.NotNil(t, res.Plan)
	require.Len(t, res.Plan.Inject, 1)
	assert.Equal(t, "et-meter", res.Plan.Inject[0].EtudeID,
		"rhythm mode must skip the more similar non-rhythm etude")
}

func TestProcess_MissingEmbeddingDegrades(t *testing.T) {
	t.Parallel()

	e := New(testConfig(), testStore(t), zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: repetitiveText})

	res := process(t, e, Request{SessionID: "s1", TurnIndex: 2, Text: repetitiveText})

	require.True(t, res.Score.Triggered)
	assert.True(t, res.Degraded)
	assert.Nil(t, res.Plan)
}

type brokenStore struct{}

func (brokenStore) Nearest(context.Context, []float32, float64) ([]etude.Candidate, error) {
	return nil, errors.New("index offline")
}
func (brokenStore) TryClaim(context.Context, string, string, int) (bool, error) {
	return false, errors.New("index offline")
}
func (brokenStore) Close() error { return nil }

func TestProcess_StoreUnavailableDegrades(t *testing.T) {
	t.Parallel()

	e := New(testConfig(), brokenStore{}, zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: repetitiveText})

	res := process(t, e, Request{
		SessionID: "s1", TurnIndex: 2, Text: repetitiveText, Embedding: []float32{1, 0},
	})

	require.True(t, res.Score.Triggered)
	assert.True(t, res.Degraded)
	assert.Nil(t, res.Plan, "a store outage must not produce a plan")
	assert.NotZero(t, res.Score.Value, "diagnostics survive the outage")
}

func TestProcess_RejectsOutOfOrderTurns(t *testing.T) {
	t.Parallel()

	e := New(testConfig(), testStore(t), zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 5, Text: "hello there"})

	_, err := e.Process(context.Background(), Request{SessionID: "s1", TurnIndex: 5, Text: "again"})
	assert.ErrorIs(t, err, ErrOutOfOrderTurn, "replayed turn index")

	_, err = e.Process(context.Background(), Request{SessionID: "s1", TurnIndex: 3, Text: "again"})
	assert.ErrorIs(t, err, ErrOutOfOrderTurn, "stale turn index")

	// Other sessions are unaffected.
	process(t, e, Request{SessionID: "s2", TurnIndex: 1, Text: "hello there"})
}

func TestProcess_ValidatesRequests(t *testing.T) {
	t.Parallel()

	e := New(testConfig(), testStore(t), zap.NewNop())

	_, err := e.Process(context.Background(), Request{TurnIndex: 1, Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.Process(context.Background(), Request{SessionID: "s1", TurnIndex: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.Process(context.Background(), Request{SessionID: "s1", TurnIndex: -1, Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEndSession_ResetsOrderingState(t *testing.T) {
	t.Parallel()

	e := New(testConfig(), testStore(t), zap.NewNop())
	process(t, e, Request{SessionID: "s1", TurnIndex: 9, Text: "hello there"})

	e.EndSession("s1")

	res := process(t, e, Request{SessionID: "s1", TurnIndex: 1, Text: "hello there"})
	assert.True(t, res.Metrics.LowConfidence, "window must restart after EndSession")
}

// Two sessions triggering at once under a global cooldown: exactly one
// wins the contested etude, the other falls through to the alternate.
func TestProcess_GlobalCooldownConcurrentSessions(t *testing.T) {
	t.Parallel()

	store := testStore(t,
		etude.Etude{
			ID:                "et-hot",
			PatternDescriptor: "sonnet volta",
			Embedding:         []float32{1, 0},
			CooldownTurns:     10,
		},
		etude.Etude{
			ID:                "et-alt",
			PatternDescriptor: "anapestic runs",
			Embedding:         []float32{1, 0.5},
			CooldownTurns:     10,
		},
	)

	cfg := testConfig()
	cfg.Selector.CooldownScope = config.CooldownGlobal
	cfg.Selector.MaxEtudes = 1

	e := New(cfg, store, zap.NewNop())
	process(t, e, Request{SessionID: "a", TurnIndex: 1, Text: repetitiveText})
	process(t, e, Request{SessionID: "b", TurnIndex: 1, Text: repetitiveText})

	results := make([]*Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, sid := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, sid string) {
			defer wg.Done()
			results[i], errs[i] = e.Process(context.Background(), Request{
				SessionID: sid, TurnIndex: 2, Text: repetitiveText, Embedding: []float32{1, 0},
			})
		}(i, sid)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got := make(map[string]int)
	for _, res := range results {
		require.NotNil(t, res.Plan)
		require.Len(t, res.Plan.Inject, 1)
		got[res.Plan.Inject[0].EtudeID]++
	}
	assert.Equal(t, 1, got["et-hot"], "exactly one session claims the contested etude")
	assert.Equal(t, 1, got["et-alt"])
}
