// Package lint is the public entry point: it wires the sliding-window
// collector, the soapiness scorer, etude selection and plan synthesis
// into a single per-turn pipeline.
package lint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
	"github.com/fyrsmithlabs/soaplintd/internal/etude"
	"github.com/fyrsmithlabs/soaplintd/internal/facts"
	"github.com/fyrsmithlabs/soaplintd/internal/logging"
	"github.com/fyrsmithlabs/soaplintd/internal/plan"
	"github.com/fyrsmithlabs/soaplintd/internal/policy"
	"github.com/fyrsmithlabs/soaplintd/internal/scorer"
	"github.com/fyrsmithlabs/soaplintd/internal/selector"
	"github.com/fyrsmithlabs/soaplintd/internal/window"
)

var tracer = otel.Tracer("soaplintd.lint")

var (
	// ErrInvalidRequest is returned for requests missing a session id or
	// turn text.
	ErrInvalidRequest = errors.New("invalid lint request")

	// ErrOutOfOrderTurn is returned when a turn index does not advance
	// the session. Turns are processed strictly in order; replays and
	// reordering are the caller's bug to surface, not to mask.
	ErrOutOfOrderTurn = errors.New("out-of-order turn")
)

// Outcome labels for the per-turn counter.
const (
	outcomeClean    = "clean"
	outcomePlan     = "plan_built"
	outcomeNoEtude  = "no_etude"
	outcomeDegraded = "store_degraded"
	outcomeOff      = "off"
)

// Request is one utterance to lint.
type Request struct {
	// SessionID scopes the sliding window and cooldown bookkeeping.
	SessionID string `json:"session_id"`

	// TurnIndex must strictly increase within a session.
	TurnIndex int `json:"turn_index"`

	// Text is the utterance to analyze.
	Text string `json:"text"`

	// Embedding is the precomputed embedding of Text, used for etude
	// retrieval. Optional: without it a triggered turn degrades to a
	// plan with no etude injections.
	Embedding []float32 `json:"embedding,omitempty"`

	// FactLocks are caller-supplied spans that must survive a rewrite.
	// When empty and heuristic locks are enabled, the engine extracts
	// its own.
	FactLocks []string `json:"fact_locks,omitempty"`

	// Domain selects the policy mode. Empty means full linting.
	Domain string `json:"domain,omitempty"`
}

// Result is the verdict for one turn.
type Result struct {
	SessionID string `json:"session_id"`
	TurnIndex int    `json:"turn_index"`

	// Mode is the policy mode the turn was processed under.
	Mode policy.Mode `json:"mode"`

	// Score is the aggregated soapiness verdict. Zero-valued when the
	// policy mode is off.
	Score scorer.Score `json:"score"`

	// Metrics is the raw per-turn signal vector.
	Metrics window.MetricVector `json:"metrics"`

	// Plan is non-nil only when the turn triggered and etude selection
	// succeeded. Degraded turns carry no plan.
	Plan *plan.RewritePlan `json:"plan,omitempty"`

	// Degraded is set when the turn triggered but etude selection could
	// not complete; scores and metrics are still populated.
	Degraded bool `json:"degraded,omitempty"`
}

// Engine processes turns. Turns of distinct sessions run concurrently;
// turns of one session are serialized and must arrive in order.
type Engine struct {
	cfg       config.Config
	collector *window.Collector
	scorer    *scorer.Scorer
	selector  *selector.Selector
	builder   *plan.Builder
	router    *policy.Router
	logger    *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	mu       sync.Mutex
	lastTurn int
	started  bool
}

// New wires an Engine over the given etude store. The store's lifetime
// belongs to the caller.
func New(cfg config.Config, store etude.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	builder := plan.NewBuilder(cfg.Plan, logger)
	builder.OnConflict(LockConflicts.Inc)

	return &Engine{
		cfg:       cfg,
		collector: window.NewCollector(cfg.Window, logger),
		scorer:    scorer.New(cfg.Scoring),
		selector:  selector.New(store, cfg.Selector, cfg.Store, logger),
		builder:   builder,
		router:    policy.NewRouter(cfg.Policy, logger),
		logger:    logger,
		sessions:  make(map[string]*sessionState),
	}
}

// Process lints one turn: record it in the session window, score it,
// and when the score crosses the threshold, select etudes and build a
// rewrite plan.
//
// Store failures and empty candidate sets never fail the turn; they
// degrade it (Result.Degraded, no plan). The only errors are malformed
// requests, ordering violations and context cancellation.
func (e *Engine) Process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { PlanDuration.Observe(time.Since(start).Seconds()) }()

	if req.SessionID == "" || req.Text == "" {
		return nil, fmt.Errorf("%w: session id and text are required", ErrInvalidRequest)
	}
	if req.TurnIndex < 0 {
		return nil, fmt.Errorf("%w: negative turn index %d", ErrInvalidRequest, req.TurnIndex)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx = logging.WithSession(ctx, req.SessionID, req.TurnIndex)
	ctx, span := tracer.Start(ctx, "lint.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Int("turn_index", req.TurnIndex),
	)

	sess := e.session(req.SessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.started && req.TurnIndex <= sess.lastTurn {
		return nil, fmt.Errorf("%w: turn %d after turn %d in session %s",
			ErrOutOfOrderTurn, req.TurnIndex, sess.lastTurn, req.SessionID)
	}
	sess.started = true
	sess.lastTurn = req.TurnIndex

	mode := e.router.Route(req.Domain)
	span.SetAttributes(attribute.String("mode", string(mode)))

	// The window is maintained in every mode so that re-enabling a
	// domain mid-session scores against real history.
	vector := e.collector.Observe(window.Utterance{
		SessionID: req.SessionID,
		TurnIndex: req.TurnIndex,
		Text:      req.Text,
		Timestamp: start,
	})
	ActiveSessions.Set(float64(e.collector.ActiveSessions()))

	result := &Result{
		SessionID: req.SessionID,
		TurnIndex: req.TurnIndex,
		Mode:      mode,
		Metrics:   vector,
	}

	if mode == policy.ModeOff {
		TurnsTotal.WithLabelValues(outcomeOff).Inc()
		return result, nil
	}

	score := e.scorer.Score(vector)
	result.Score = score
	SoapinessScore.Observe(score.Value)
	span.SetAttributes(
		attribute.Float64("soapiness", score.Value),
		attribute.Bool("triggered", score.Triggered),
	)

	if !score.Triggered {
		TurnsTotal.WithLabelValues(outcomeClean).Inc()
		return result, nil
	}

	e.logger.Info("turn triggered",
		append(logging.Fields(ctx),
			zap.Float64("soapiness", score.Value),
			zap.Any("breakdown", score.Breakdown))...)

	var tagFilter string
	if mode == policy.ModeRhythm {
		tagFilter = policy.RhythmTag
	}

	selections, err := e.selector.Select(ctx, req.Embedding,
		req.SessionID, req.TurnIndex, e.cfg.Selector.MaxEtudes, tagFilter)
	switch {
	case err == nil:
	case errors.Is(err, etude.ErrNoEligibleEtude):
		result.Degraded = true
		TurnsTotal.WithLabelValues(outcomeNoEtude).Inc()
		e.logger.Info("no eligible etude, soapiness reported without a plan",
			logging.Fields(ctx)...)
		return result, nil
	case errors.Is(err, etude.ErrStoreUnavailable):
		result.Degraded = true
		TurnsTotal.WithLabelValues(outcomeDegraded).Inc()
		e.logger.Warn("etude store unavailable, soapiness reported without a plan",
			append(logging.Fields(ctx), zap.Error(err))...)
		return result, nil
	default:
		return nil, err
	}

	locks := req.FactLocks
	if len(locks) == 0 && e.cfg.Plan.HeuristicLocks {
		locks = facts.Extract(req.Text)
	}

	result.Plan = e.builder.Build(score, selections, req.Text, locks, vector.ClicheSpans)
	EtudesInjected.Add(float64(len(selections)))
	TurnsTotal.WithLabelValues(outcomePlan).Inc()

	e.logger.Info("rewrite plan built",
		append(logging.Fields(ctx),
			zap.String("plan_id", result.Plan.ID),
			zap.Int("injections", len(selections)),
			zap.Int("removals", len(result.Plan.Remove)),
			zap.Bool("degraded", result.Degraded))...)

	return result, nil
}

// EndSession drops the session's window and ordering state. Idempotent.
func (e *Engine) EndSession(sessionID string) {
	e.collector.Remove(sessionID)

	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	ActiveSessions.Set(float64(e.collector.ActiveSessions()))
}

// Sweep evicts idle sessions and returns how many were removed.
func (e *Engine) Sweep() int {
	removed := e.collector.Sweep()

	if removed > 0 {
		e.mu.Lock()
		for id := range e.sessions {
			if len(e.collector.Window(id)) == 0 {
				delete(e.sessions, id)
			}
		}
		e.mu.Unlock()
	}

	ActiveSessions.Set(float64(e.collector.ActiveSessions()))
	return removed
}

// ActiveSessions returns the number of live session windows.
func (e *Engine) ActiveSessions() int {
	return e.collector.ActiveSessions()
}

// Window exposes the session's current window, most recent last. For
// diagnostics.
func (e *Engine) Window(sessionID string) []window.Utterance {
	return e.collector.Window(sessionID)
}

func (e *Engine) session(id string) *sessionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess, ok := e.sessions[id]
	if !ok {
		sess = &sessionState{}
		e.sessions[id] = sess
	}
	return sess
}
