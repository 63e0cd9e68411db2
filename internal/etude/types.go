// Package etude provides the style-etude store: similarity lookup over
// mined pattern descriptors plus atomic cooldown tracking.
//
// Etudes are produced by an offline extractor and are read-only here
// except for their cooldown state. An etude never stores complete
// natural-language sentences, only an abstracted description of form.
package etude

import (
	"context"
	"errors"
	"math"
)

// Sentinel errors for store operations.
var (
	// ErrNoEligibleEtude is returned when no etude passes the
	// eligibility and relevance filters.
	ErrNoEligibleEtude = errors.New("no eligible etude")

	// ErrStoreUnavailable indicates the similarity lookup failed or
	// timed out. Callers degrade to a no-plan result.
	ErrStoreUnavailable = errors.New("etude store unavailable")

	// ErrNotFound is returned when an etude id is unknown.
	ErrNotFound = errors.New("etude not found")

	// ErrEmptyEmbedding indicates a lookup with no query embedding.
	ErrEmptyEmbedding = errors.New("empty query embedding")
)

// Etude is a mined style pattern: an abstracted syntactic or rhythmic
// shape used as a rewrite hint.
type Etude struct {
	// ID is the unique etude identifier.
	ID string `json:"id"`

	// PatternDescriptor describes the abstract form (never a full
	// sentence), e.g. "three short clauses, long punch line".
	PatternDescriptor string `json:"pattern_descriptor"`

	// Embedding is the precomputed vector for relevance filtering.
	Embedding []float32 `json:"embedding"`

	// Tags carry the pattern categories (lexical, syntactic, rhythm)
	// and optional domain tags.
	Tags []string `json:"tags"`

	// CooldownTurns is the minimum number of turns between uses.
	CooldownTurns int `json:"cooldown_turns"`

	// LastUsedAt is the turn of the last recorded use in the global
	// scope, nil if never used. Persisted state seeds the global
	// cooldown scope. Diagnostic only: eligibility is decided by the
	// ledger for the configured scope at claim time, so under
	// per-session cooldowns this field does not track the deciding
	// scope.
	LastUsedAt *int `json:"last_used_at"`
}

// HasTag reports whether the etude carries the given tag.
func (e *Etude) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Candidate is an etude returned from a similarity lookup.
type Candidate struct {
	Etude

	// Similarity is the cosine similarity to the query embedding.
	Similarity float64

	// Uses is the total historical use count, for diversity ranking.
	Uses int
}

// Store is the narrow capability interface the linting core depends on.
//
// Implementations may be in-process or remote; Nearest is the only
// operation expected to block, and it must honor context cancellation.
type Store interface {
	// Nearest returns candidates whose cosine similarity to the query
	// embedding is at least floor, in no particular order.
	Nearest(ctx context.Context, embedding []float32, floor float64) ([]Candidate, error)

	// TryClaim atomically checks cooldown eligibility for the given
	// scope and, if eligible, records a use at turn. Exactly one claim
	// per cooldown window succeeds; losing claims leave the recorded
	// state untouched. Returns false when the etude is cooling down,
	// ErrNotFound for unknown ids.
	TryClaim(ctx context.Context, etudeID, scope string, turn int) (bool, error)

	// Close releases store resources.
	Close() error
}

// cosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-magnitude inputs.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	magA = math.Sqrt(magA)
	magB = math.Sqrt(magB)
	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (magA * magB)
}
