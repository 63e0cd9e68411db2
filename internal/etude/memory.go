package etude

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var memoryTracer = otel.Tracer("soaplintd.etude.memory")

// MemoryStore is an in-process Store performing exact cosine scans.
//
// Etude dictionaries are small (hundreds of descriptors), so a linear
// scan stays well under a millisecond and needs no index. The store is
// safe for concurrent use; Reload swaps the etude set atomically and is
// used by the file watcher.
type MemoryStore struct {
	mu     sync.RWMutex
	etudes []Etude
	ledger *Ledger
	logger *zap.Logger
}

// NewMemoryStore creates a MemoryStore over the given etudes.
func NewMemoryStore(etudes []Etude, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cp := make([]Etude, len(etudes))
	copy(cp, etudes)
	return &MemoryStore{
		etudes: cp,
		ledger: NewLedger(cp),
		logger: logger,
	}
}

// Nearest returns candidates at or above the similarity floor.
func (s *MemoryStore) Nearest(ctx context.Context, embedding []float32, floor float64) ([]Candidate, error) {
	ctx, span := memoryTracer.Start(ctx, "etude.nearest")
	defer span.End()

	if len(embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []Candidate
	for i := range s.etudes {
		sim := cosineSimilarity(embedding, s.etudes[i].Embedding)
		if sim < floor {
			continue
		}
		cand := Candidate{
			Etude:      s.etudes[i],
			Similarity: sim,
			Uses:       s.ledger.Uses(s.etudes[i].ID),
		}
		// Global-scope diagnostic; see Etude.LastUsedAt.
		cand.LastUsedAt = s.ledger.LastUsed(s.etudes[i].ID, GlobalScope)
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// TryClaim atomically claims an etude for the given scope and turn.
func (s *MemoryStore) TryClaim(_ context.Context, etudeID, scope string, turn int) (bool, error) {
	return s.ledger.TryClaim(etudeID, scope, turn)
}

// Ledger exposes the cooldown ledger for diagnostics and tests.
func (s *MemoryStore) Ledger() *Ledger {
	return s.ledger
}

// Len returns the number of stored etudes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.etudes)
}

// Reload replaces the etude set, preserving cooldown state for
// surviving ids.
func (s *MemoryStore) Reload(etudes []Etude) {
	cp := make([]Etude, len(etudes))
	copy(cp, etudes)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.etudes = cp
	s.ledger.Reseed(cp)
	s.logger.Info("etude store reloaded", zap.Int("etudes", len(cp)))
}

// Close releases store resources. MemoryStore holds none.
func (s *MemoryStore) Close() error {
	return nil
}
