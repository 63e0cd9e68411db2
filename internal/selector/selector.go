// Package selector picks etudes for a triggered turn: similarity
// retrieval, cooldown eligibility, deterministic ranking, atomic
// claiming.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
	"github.com/fyrsmithlabs/soaplintd/internal/etude"
	"github.com/fyrsmithlabs/soaplintd/internal/logging"
)

var tracer = otel.Tracer("soaplintd.selector")

// Selection is one picked etude, in rank order.
type Selection struct {
	EtudeID           string   `json:"etude_id"`
	PatternDescriptor string   `json:"pattern_descriptor"`
	Tags              []string `json:"tags,omitempty"`
	Similarity        float64  `json:"similarity"`
}

// Selector queries the etude store and claims the best candidates.
type Selector struct {
	store  etude.Store
	cfg    config.SelectorConfig
	lookup config.StoreConfig
	logger *zap.Logger
}

// New creates a Selector over the given store.
func New(store etude.Store, cfg config.SelectorConfig, lookup config.StoreConfig, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		store:  store,
		cfg:    cfg,
		lookup: lookup,
		logger: logger,
	}
}

// Select returns up to k etudes for the session's current turn, ranked
// by similarity descending, then fewer historical uses, then id.
//
// tagFilter, when non-empty, restricts candidates to etudes carrying
// that tag (the policy router's rhythm-only mode).
//
// Each returned etude has been atomically claimed: its cooldown now runs
// from this turn. Returns etude.ErrNoEligibleEtude when nothing
// qualifies and etude.ErrStoreUnavailable when the lookup keeps failing
// after retries; callers degrade to a no-plan result for both.
func (s *Selector) Select(ctx context.Context, embedding []float32, sessionID string, turn, k int, tagFilter string) ([]Selection, error) {
	ctx, span := tracer.Start(ctx, "selector.select")
	defer span.End()
	span.SetAttributes(attribute.Int("turn", turn))

	if len(embedding) == 0 {
		// No turn embedding means no relevance signal; degrade the
		// same way as an empty candidate set.
		return nil, etude.ErrNoEligibleEtude
	}
	if k > s.cfg.MaxEtudes {
		k = s.cfg.MaxEtudes
	}
	if k < 1 {
		k = 1
	}

	candidates, err := s.nearestWithRetry(ctx, embedding)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	if tagFilter != "" {
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.HasTag(tagFilter) {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	rank(candidates)

	scope := s.scopeKey(sessionID)
	var picked []Selection
	for _, c := range candidates {
		if len(picked) == k {
			break
		}
		claimed, err := s.store.TryClaim(ctx, c.ID, scope, turn)
		if err != nil {
			// A candidate vanishing mid-selection (concurrent reload)
			// is not fatal; move to the next ranked candidate.
			if errors.Is(err, etude.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("claiming etude %s: %w", c.ID, err)
		}
		if !claimed {
			continue // cooling down, possibly claimed by a concurrent session
		}
		picked = append(picked, Selection{
			EtudeID:           c.ID,
			PatternDescriptor: c.PatternDescriptor,
			Tags:              c.Tags,
			Similarity:        c.Similarity,
		})
	}

	if len(picked) == 0 {
		return nil, etude.ErrNoEligibleEtude
	}

	s.logger.Debug("etudes selected",
		append(logging.Fields(ctx),
			zap.Int("picked", len(picked)),
			zap.Int("candidates", len(candidates)))...)

	return picked, nil
}

// nearestWithRetry performs the store lookup, the engine's only
// suspension point, under a per-attempt timeout with exponential
// backoff. After the retry budget is spent the failure surfaces as
// ErrStoreUnavailable.
func (s *Selector) nearestWithRetry(ctx context.Context, embedding []float32) ([]etude.Candidate, error) {
	operation := func() ([]etude.Candidate, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, s.lookup.LookupTimeout)
		defer cancel()

		candidates, err := s.store.Nearest(attemptCtx, embedding, s.cfg.SimilarityFloor)
		if err != nil {
			if errors.Is(err, etude.ErrEmptyEmbedding) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return candidates, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 50 * time.Millisecond

	candidates, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(s.lookup.MaxRetries+1)),
	)
	if err != nil {
		s.logger.Warn("etude store lookup failed",
			append(logging.Fields(ctx), zap.Error(err))...)
		return nil, fmt.Errorf("%w: %w", etude.ErrStoreUnavailable, err)
	}
	return candidates, nil
}

// scopeKey maps the configured cooldown scope to a ledger key.
func (s *Selector) scopeKey(sessionID string) string {
	if s.cfg.CooldownScope == config.CooldownGlobal {
		return etude.GlobalScope
	}
	return sessionID
}

// rank orders candidates by similarity descending, then total uses
// ascending (diversity), then id ascending for full determinism.
func rank(candidates []etude.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		if candidates[i].Uses != candidates[j].Uses {
			return candidates[i].Uses < candidates[j].Uses
		}
		return candidates[i].ID < candidates[j].ID
	})
}
