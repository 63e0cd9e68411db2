// Package plan assembles the constrained rewrite plan handed to the
// downstream rewriter.
package plan

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
	"github.com/fyrsmithlabs/soaplintd/internal/scorer"
	"github.com/fyrsmithlabs/soaplintd/internal/selector"
	"github.com/fyrsmithlabs/soaplintd/internal/window"
)

// Mode distinguishes a minimal edit from a no-op.
type Mode string

const (
	// ModeMicro requests a minimal edit guided by the plan.
	ModeMicro Mode = "micro"

	// ModeNone means no intervention is required.
	ModeNone Mode = "none"
)

// Injection references one etude the rewriter should use as a formal
// guide, in rank order.
type Injection struct {
	EtudeID           string `json:"etude_id"`
	PatternDescriptor string `json:"pattern_descriptor"`
}

// StyleConstraints are pass-through knobs for the rewriter.
type StyleConstraints struct {
	VoiceWeight    float64 `json:"voice_weight"`
	TemperatureCap float64 `json:"temperature_cap"`
}

// RewritePlan is the immutable output of a triggered turn.
//
// Invariants, enforced at construction:
//   - no element of Remove overlaps any element of Locks;
//   - MaxEditRatio is in (0,1] and documents the changed-token bound
//     the rewriter must respect.
//
// The plan is owned by the caller once returned and is never persisted
// here.
type RewritePlan struct {
	ID   string `json:"id"`
	Mode Mode   `json:"mode"`

	// Locks are fact spans or statements that must not change.
	Locks []string `json:"locks"`

	// Remove lists spans to delete, already filtered against Locks.
	Remove []string `json:"remove"`

	// Inject lists etude references in rank order.
	Inject []Injection `json:"inject"`

	// MaxEditRatio bounds the fraction of tokens the rewriter may
	// change.
	MaxEditRatio float64 `json:"max_edit_ratio"`

	StyleConstraints StyleConstraints `json:"style_constraints"`

	CreatedAt time.Time `json:"created_at"`
}

// Builder assembles rewrite plans.
type Builder struct {
	cfg    config.PlanConfig
	logger *zap.Logger

	// onConflict is invoked when a removal is dropped for overlapping a
	// lock, for observability hooks. May be nil.
	onConflict func()
}

// NewBuilder creates a Builder.
func NewBuilder(cfg config.PlanConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// OnConflict registers a callback fired once per dropped removal.
func (b *Builder) OnConflict(fn func()) {
	b.onConflict = fn
}

// Build assembles a plan for a triggered turn.
//
// locks come from the caller (or the heuristic fact extractor); removal
// candidates are the collector's cliché spans in the current turn text.
// A removal overlapping any lock occurrence is dropped - locks take
// precedence - and the conflict is logged and counted.
func (b *Builder) Build(score scorer.Score, selected []selector.Selection, turnText string, locks []string, clicheSpans []window.Span) *RewritePlan {
	lockSpans := resolveSpans(turnText, locks)

	var remove []string
	for _, span := range clicheSpans {
		if conflicting := overlapsAny(span, lockSpans); conflicting != "" {
			if b.onConflict != nil {
				b.onConflict()
			}
			b.logger.Warn("removal dropped: overlaps lock",
				zap.String("removal", span.Text),
				zap.String("lock", conflicting))
			continue
		}
		if !contains(remove, span.Text) {
			remove = append(remove, span.Text)
		}
	}

	inject := make([]Injection, 0, len(selected))
	for _, sel := range selected {
		inject = append(inject, Injection{
			EtudeID:           sel.EtudeID,
			PatternDescriptor: sel.PatternDescriptor,
		})
	}

	return &RewritePlan{
		ID:           uuid.New().String(),
		Mode:         ModeMicro,
		Locks:        append([]string(nil), locks...),
		Remove:       remove,
		Inject:       inject,
		MaxEditRatio: b.editRatio(score),
		StyleConstraints: StyleConstraints{
			VoiceWeight:    b.cfg.VoiceWeight,
			TemperatureCap: b.cfg.TemperatureCap,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// editRatio tightens the default bound when the trigger was driven
// mostly by a single metric: a narrow cause needs a narrow edit.
func (b *Builder) editRatio(score scorer.Score) float64 {
	share, metric := score.DominantShare()
	if share < b.cfg.DominanceShare {
		return b.cfg.MaxEditRatio
	}

	ratio := b.cfg.MaxEditRatio / 2
	if ratio < b.cfg.MinEditRatio {
		ratio = b.cfg.MinEditRatio
	}
	b.logger.Debug("edit ratio tightened",
		zap.String("dominant_metric", metric),
		zap.Float64("share", share),
		zap.Float64("ratio", ratio))
	return ratio
}

// resolveSpans finds every occurrence of each lock string in text.
// Lock statements not literally present produce no spans; they cannot
// collide with a removal and pass through to the plan verbatim.
func resolveSpans(text string, locks []string) []window.Span {
	var spans []window.Span
	for _, lock := range locks {
		spans = append(spans, occurrences(text, lock)...)
	}
	return spans
}

func occurrences(text, needle string) []window.Span {
	if needle == "" {
		return nil
	}
	var spans []window.Span
	for offset := 0; ; {
		idx := indexFold(text[offset:], needle)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(needle)
		spans = append(spans, window.Span{Start: start, End: end, Text: text[start:end]})
		offset = end
	}
	return spans
}

// indexFold is a case-insensitive strings.Index for ASCII-dominant
// text; lock strings come from the same turn and usually match case
// exactly.
func indexFold(haystack, needle string) int {
	h := []byte(haystack)
	n := []byte(needle)
	for i := range h {
		if lower(h[i]) == lower(n[0]) && hasPrefixFold(h[i:], n) {
			return i
		}
	}
	return -1
}

func hasPrefixFold(s, prefix []byte) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := range prefix {
		if lower(s[i]) != lower(prefix[i]) {
			return false
		}
	}
	return true
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// overlapsAny returns the text of the first lock span intersecting
// span, or "".
func overlapsAny(span window.Span, lockSpans []window.Span) string {
	for _, lock := range lockSpans {
		if span.Overlaps(lock) {
			return lock.Text
		}
	}
	return ""
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
