// Package facts extracts lockable factual content from a turn and
// verifies a rewrite preserved it.
package facts

import (
	"regexp"
	"strings"
)

// Patterns for content that carries factual weight: numbers (counts,
// dates, amounts), capitalized entities, and quoted material.
var (
	numberPattern = regexp.MustCompile(`\b\d+[\d,.]*\b`)
	entityPattern = regexp.MustCompile(`\b[A-Z][a-z]+\b`)
	quotePattern  = regexp.MustCompile(`"[^"]+"|'[^']+'`)
)

// sentence-initial words and common proper-looking function words that
// capitalization alone should not promote to facts.
var entityStopwords = map[string]struct{}{
	"The": {}, "A": {}, "An": {}, "And": {}, "But": {}, "Or": {},
	"In": {}, "On": {}, "At": {}, "To": {}, "Of": {}, "For": {},
	"It": {}, "He": {}, "She": {}, "They": {}, "We": {}, "You": {},
	"I": {}, "This": {}, "That": {}, "These": {}, "Those": {},
	"As": {}, "So": {}, "If": {}, "When": {}, "Then": {}, "There": {},
	"Her": {}, "His": {}, "Its": {}, "My": {}, "Your": {}, "Their": {},
}

// Extract returns heuristic fact locks for text, deduplicated, in
// first-appearance order. It is intentionally conservative: missing a
// fact only loosens the rewrite, while a spurious lock merely pins a
// phrase that did not need pinning.
func Extract(text string) []string {
	var locks []string
	seen := make(map[string]struct{})

	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			return
		}
		if _, dup := seen[candidate]; dup {
			return
		}
		seen[candidate] = struct{}{}
		locks = append(locks, candidate)
	}

	for _, m := range numberPattern.FindAllString(text, -1) {
		// Trailing punctuation the character class over-matches.
		add(strings.TrimRight(m, ",."))
	}
	for _, m := range entityPattern.FindAllString(text, -1) {
		if _, stop := entityStopwords[m]; stop {
			continue
		}
		add(m)
	}
	for _, m := range quotePattern.FindAllString(text, -1) {
		add(strings.Trim(m, `"'`))
	}

	return locks
}

// Verify reports which locks are missing from rewritten. Matching is
// case-insensitive substring containment; an empty result means every
// lock survived.
func Verify(locks []string, rewritten string) []string {
	lowered := strings.ToLower(rewritten)

	var missing []string
	for _, lock := range locks {
		if lock == "" {
			continue
		}
		if !strings.Contains(lowered, strings.ToLower(lock)) {
			missing = append(missing, lock)
		}
	}
	return missing
}
