package etude

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("soaplintd.etude.chromem")

const etudeCollection = "etudes"

// ChromemConfig holds configuration for the chromem-go backed store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ChromemStore implements Store on top of chromem-go, an embeddable
// vector database with persistence and no external service.
//
// Embeddings are precomputed by the offline extractor; the store never
// computes one itself. Cooldown state lives in the ledger, not in the
// vector index, because it mutates on every selection.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	ledger     *Ledger
	logger     *zap.Logger
}

// NewChromemStore creates a persistent store at cfg.Path and indexes the
// given etudes.
func NewChromemStore(cfg ChromemConfig, etudes []Etude, logger *zap.Logger) (*ChromemStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("chromem path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	collection, err := db.GetOrCreateCollection(etudeCollection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", etudeCollection, err)
	}

	s := &ChromemStore{
		db:         db,
		collection: collection,
		ledger:     NewLedger(etudes),
		logger:     logger,
	}

	for i := range etudes {
		if err := s.addEtude(context.Background(), &etudes[i]); err != nil {
			return nil, fmt.Errorf("indexing etude %s: %w", etudes[i].ID, err)
		}
	}

	logger.Info("chromem etude store initialized",
		zap.String("path", cfg.Path),
		zap.Int("etudes", collection.Count()))

	return s, nil
}

// rejectEmbedding is the chromem embedding func: all embeddings are
// precomputed upstream, so any attempt to embed here is a bug.
func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding computation is external to the etude store")
}

func (s *ChromemStore) addEtude(ctx context.Context, e *Etude) error {
	return s.collection.AddDocument(ctx, chromem.Document{
		ID:        e.ID,
		Content:   e.PatternDescriptor,
		Embedding: e.Embedding,
		Metadata: map[string]string{
			"tags":           strings.Join(e.Tags, ","),
			"cooldown_turns": strconv.Itoa(e.CooldownTurns),
		},
	})
}

// Nearest returns candidates at or above the similarity floor.
func (s *ChromemStore) Nearest(ctx context.Context, embedding []float32, floor float64) ([]Candidate, error) {
	ctx, span := chromemTracer.Start(ctx, "etude.nearest")
	defer span.End()

	if len(embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, count, nil, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying etudes: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(results)))

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < floor {
			continue
		}
		cand := Candidate{
			Etude:      resultToEtude(r),
			Similarity: sim,
			Uses:       s.ledger.Uses(r.ID),
		}
		// Global-scope diagnostic; see Etude.LastUsedAt.
		cand.LastUsedAt = s.ledger.LastUsed(r.ID, GlobalScope)
		candidates = append(candidates, cand)
	}

	return candidates, nil
}

func resultToEtude(r chromem.Result) Etude {
	cooldown, _ := strconv.Atoi(r.Metadata["cooldown_turns"])
	var tags []string
	if raw := r.Metadata["tags"]; raw != "" {
		tags = strings.Split(raw, ",")
	}
	return Etude{
		ID:                r.ID,
		PatternDescriptor: r.Content,
		Embedding:         r.Embedding,
		Tags:              tags,
		CooldownTurns:     cooldown,
	}
}

// TryClaim atomically claims an etude for the given scope and turn.
func (s *ChromemStore) TryClaim(_ context.Context, etudeID, scope string, turn int) (bool, error) {
	return s.ledger.TryClaim(etudeID, scope, turn)
}

// Ledger exposes the cooldown ledger for diagnostics and tests.
func (s *ChromemStore) Ledger() *Ledger {
	return s.ledger
}

// Close releases store resources. chromem persists on write, so there
// is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}
