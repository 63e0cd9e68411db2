package etude

import (
	"sync"
)

// GlobalScope is the cooldown scope key used when cooldowns are shared
// across sessions. Per-session scoping passes the session id instead.
const GlobalScope = "global"

// usage tracks cooldown state for one etude. Each etude carries its own
// mutex so concurrent sessions claiming different etudes never contend.
type usage struct {
	mu            sync.Mutex
	cooldownTurns int
	lastUsed      map[string]int // scope -> turn of last use
	uses          int
}

// Ledger tracks per-etude cooldown state with atomic claims.
//
// The outer lock only guards the etude map; claim decisions take the
// per-etude lock, so two sessions racing for the same etude serialize on
// that etude alone (scenario: global cooldown, concurrent sessions -
// exactly one claim succeeds).
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*usage
}

// NewLedger creates a ledger seeded with the given etudes. An etude's
// persisted LastUsedAt seeds the global scope.
func NewLedger(etudes []Etude) *Ledger {
	l := &Ledger{entries: make(map[string]*usage, len(etudes))}
	for _, e := range etudes {
		u := &usage{
			cooldownTurns: e.CooldownTurns,
			lastUsed:      make(map[string]int, 2),
		}
		if e.LastUsedAt != nil {
			u.lastUsed[GlobalScope] = *e.LastUsedAt
			u.uses = 1
		}
		l.entries[e.ID] = u
	}
	return l
}

// Eligible reports whether the etude may be used at turn under the given
// scope: never used, or turn - last_used_at >= cooldown_turns.
func (l *Ledger) Eligible(etudeID, scope string, turn int) (bool, error) {
	u, err := l.entry(etudeID)
	if err != nil {
		return false, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return u.eligibleLocked(scope, turn), nil
}

// TryClaim atomically checks eligibility and records a use at turn.
//
// Exactly one claim per (etude, scope, cooldown window) succeeds: a
// second claim at the same turn observes the etude ineligible. The
// write itself is idempotent, so the losing claim has no additional
// effect on cooldown state.
func (l *Ledger) TryClaim(etudeID, scope string, turn int) (bool, error) {
	u, err := l.entry(etudeID)
	if err != nil {
		return false, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.eligibleLocked(scope, turn) {
		return false, nil
	}

	u.lastUsed[scope] = turn
	u.uses++
	return true, nil
}

// Uses returns the total historical use count for an etude.
func (l *Ledger) Uses(etudeID string) int {
	u, err := l.entry(etudeID)
	if err != nil {
		return 0
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uses
}

// LastUsed returns the turn of the last use in scope, or nil.
func (l *Ledger) LastUsed(etudeID, scope string) *int {
	u, err := l.entry(etudeID)
	if err != nil {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if last, ok := u.lastUsed[scope]; ok {
		v := last
		return &v
	}
	return nil
}

// Reseed replaces the tracked etude set, preserving state for ids that
// survive the reload.
func (l *Ledger) Reseed(etudes []Etude) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := make(map[string]*usage, len(etudes))
	for _, e := range etudes {
		if existing, ok := l.entries[e.ID]; ok {
			existing.mu.Lock()
			existing.cooldownTurns = e.CooldownTurns
			existing.mu.Unlock()
			fresh[e.ID] = existing
			continue
		}
		u := &usage{
			cooldownTurns: e.CooldownTurns,
			lastUsed:      make(map[string]int, 2),
		}
		if e.LastUsedAt != nil {
			u.lastUsed[GlobalScope] = *e.LastUsedAt
			u.uses = 1
		}
		fresh[e.ID] = u
	}
	l.entries = fresh
}

func (l *Ledger) entry(etudeID string) (*usage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	u, ok := l.entries[etudeID]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// eligibleLocked implements the cooldown rule. Caller holds u.mu.
func (u *usage) eligibleLocked(scope string, turn int) bool {
	last, ok := u.lastUsed[scope]
	if !ok {
		return true
	}
	return turn-last >= u.cooldownTurns
}
