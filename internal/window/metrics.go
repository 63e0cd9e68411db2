// Package window maintains per-session sliding windows of recent
// utterances and computes the raw repetition signals the soapiness
// scorer aggregates.
package window

import (
	"math"
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
)

// Span marks a half-open byte range [Start,End) in the current turn.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Overlaps reports whether two spans intersect.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// MetricVector holds the per-turn signals, each normalized to [0,1] and
// oriented so that higher means more formulaic.
type MetricVector struct {
	SessionID string `json:"session_id"`
	TurnIndex int    `json:"turn_index"`

	// NgramRepetition is the fraction of the current turn's n-grams
	// already seen earlier in the window.
	NgramRepetition float64 `json:"ngram_repetition"`

	// DistributionSimilarity measures how closely the current turn's
	// token distribution tracks the window aggregate. It is derived
	// from the Jensen-Shannon divergence (1 - JSD/ln2), inverted so
	// that convergent, repetitive phrasing scores high.
	DistributionSimilarity float64 `json:"distribution_similarity"`

	// GestureRepetition is the fraction of the current turn's discourse
	// markers that already appeared earlier in the window.
	GestureRepetition float64 `json:"gesture_repetition"`

	// ClicheRate is the normalized cliché signal; ClicheHits is the raw
	// occurrence count across the window.
	ClicheRate float64 `json:"cliche_rate"`
	ClicheHits int     `json:"cliche_hits"`

	// ClicheSpans are the cliché occurrences within the current turn,
	// candidates for removal in a rewrite plan.
	ClicheSpans []Span `json:"cliche_spans,omitempty"`

	// LowConfidence is set on the first turn of a session, when the
	// repetition metrics are undefined and reported as 0.
	LowConfidence bool `json:"low_confidence,omitempty"`

	// WindowLen is the window size after this turn was recorded.
	WindowLen int `json:"window_len"`
}

// Values returns the metric values keyed by their config names, the form
// the scorer consumes.
func (v MetricVector) Values() map[string]float64 {
	return map[string]float64{
		config.MetricNgramRepetition:        v.NgramRepetition,
		config.MetricDistributionSimilarity: v.DistributionSimilarity,
		config.MetricGestureRepetition:      v.GestureRepetition,
		config.MetricClicheRate:             v.ClicheRate,
	}
}

// clichePerHit is the contribution of one cliché occurrence to the
// normalized rate; two hits saturate the signal.
const clichePerHit = 0.5

// tokenize lowercases and splits on anything that is not a letter or
// digit. It deliberately matches the whitespace-level tokenization the
// offline extractor uses, so n-gram statistics line up between mining
// and linting.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ngrams returns the n-grams of tokens joined by a space. Returns nil
// when the turn is shorter than n.
func ngrams(tokens []string, n int) []string {
	if n < 1 || len(tokens) < n {
		return nil
	}
	grams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		grams = append(grams, strings.Join(tokens[i:i+n], " "))
	}
	return grams
}

// ngramRepetition is the fraction of current-turn n-grams present in the
// prior turns of the window.
func ngramRepetition(prior [][]string, current []string, n int) float64 {
	grams := ngrams(current, n)
	if len(grams) == 0 {
		return 0
	}

	seen := make(map[string]struct{})
	for _, turn := range prior {
		for _, g := range ngrams(turn, n) {
			seen[g] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return 0
	}

	repeated := 0
	for _, g := range grams {
		if _, ok := seen[g]; ok {
			repeated++
		}
	}
	return float64(repeated) / float64(len(grams))
}

// distributionSimilarity computes 1 - JSD(P,Q)/ln2 between the current
// turn's token distribution and the prior window aggregate. Returns 0
// when either side is empty.
func distributionSimilarity(prior [][]string, current []string) float64 {
	if len(current) == 0 || len(prior) == 0 {
		return 0
	}

	p := frequencies(current)
	q := frequencies(flatten(prior))
	if len(q) == 0 {
		return 0
	}

	jsd := jensenShannon(p, q)
	sim := 1 - jsd/math.Ln2
	return clamp01(sim)
}

func frequencies(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return nil
	}
	freq := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}
	total := float64(len(tokens))
	for tok := range freq {
		freq[tok] /= total
	}
	return freq
}

func flatten(turns [][]string) []string {
	var all []string
	for _, t := range turns {
		all = append(all, t...)
	}
	return all
}

// jensenShannon computes the Jensen-Shannon divergence (natural log,
// bounded by ln2) between two distributions.
func jensenShannon(p, q map[string]float64) float64 {
	mixture := make(map[string]float64, len(p)+len(q))
	for tok, prob := range p {
		mixture[tok] += prob / 2
	}
	for tok, prob := range q {
		mixture[tok] += prob / 2
	}

	var jsd float64
	for tok, prob := range p {
		if prob > 0 {
			jsd += prob / 2 * math.Log(prob/mixture[tok])
		}
	}
	for tok, prob := range q {
		if prob > 0 {
			jsd += prob / 2 * math.Log(prob/mixture[tok])
		}
	}
	if jsd < 0 {
		jsd = 0 // floating-point noise
	}
	return jsd
}

// markersIn returns the configured discourse markers present in text.
func markersIn(text string, markers []string) map[string]struct{} {
	lower := strings.ToLower(text)
	found := make(map[string]struct{})
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			found[m] = struct{}{}
		}
	}
	return found
}

// gestureRepetition is the fraction of the current turn's markers that
// appeared in at least one prior turn.
func gestureRepetition(priorTexts []string, currentText string, markers []string) float64 {
	current := markersIn(currentText, markers)
	if len(current) == 0 {
		return 0
	}

	seen := make(map[string]struct{})
	for _, text := range priorTexts {
		for m := range markersIn(text, markers) {
			seen[m] = struct{}{}
		}
	}

	repeated := 0
	for m := range current {
		if _, ok := seen[m]; ok {
			repeated++
		}
	}
	return float64(repeated) / float64(len(current))
}

// clicheOccurrences finds all non-overlapping occurrences of phrase in
// text, case-insensitively, returning spans in the original text.
//
// The fold is done byte-wise over the original text rather than on a
// lowered copy: strings.ToLower can change byte lengths (U+023A lowers
// from 2 to 3 bytes), which would drift the offsets out of the text
// they index.
func clicheOccurrences(text, phrase string) []Span {
	if phrase == "" {
		return nil
	}

	var spans []Span
	for offset := 0; ; {
		idx := indexFold(text[offset:], phrase)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(phrase)
		spans = append(spans, Span{Start: start, End: end, Text: text[start:end]})
		offset = end
	}
	return spans
}

// indexFold is a case-insensitive strings.Index folding ASCII letters
// only; cliché phrases are configured in ASCII.
func indexFold(haystack, needle string) int {
	h := []byte(haystack)
	n := []byte(needle)
	if len(n) == 0 || len(n) > len(h) {
		return -1
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if lowerByte(h[i]) == lowerByte(n[0]) && hasPrefixFold(h[i:], n) {
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
		if lowerByte(s[i]) != lowerByte(prefix[i]) {
			return false
		}
	}
	return true
}

func lowerByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
