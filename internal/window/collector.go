package window

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// Utterance is one recorded model output. Immutable once observed.
type Utterance struct {
	SessionID string    `json:"session_id"`
	TurnIndex int       `json:"turn_index"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// session holds one session's window state. Utterances and their token
// slices stay index-aligned.
type session struct {
	utterances []Utterance
	tokens     [][]string
	lastSeen   time.Time
}

// Collector maintains the per-session sliding windows and computes the
// per-turn metric vector. Safe for concurrent use across sessions; the
// caller serializes turns within one session.
type Collector struct {
	mu       sync.Mutex
	cfg      config.WindowConfig
	sessions map[string]*session
	logger   *zap.Logger
}

// NewCollector creates a Collector with the given window configuration.
func NewCollector(cfg config.WindowConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		cfg:      cfg,
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

// Observe appends the utterance to its session's window, evicting the
// oldest entry beyond capacity, and returns the metric vector for this
// turn. The only side effect is the window mutation.
func (c *Collector) Observe(utt Utterance) MetricVector {
	if utt.Timestamp.IsZero() {
		utt.Timestamp = timeNow()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.sessionLocked(utt.SessionID)

	priorTokens := sess.tokens
	priorTexts := make([]string, len(sess.utterances))
	for i := range sess.utterances {
		priorTexts[i] = sess.utterances[i].Text
	}

	currentTokens := tokenize(utt.Text)
	vector := MetricVector{
		SessionID:     utt.SessionID,
		TurnIndex:     utt.TurnIndex,
		LowConfidence: len(sess.utterances) == 0,
	}

	if !vector.LowConfidence {
		vector.NgramRepetition = ngramRepetition(priorTokens, currentTokens, c.cfg.NgramSize)
		vector.DistributionSimilarity = distributionSimilarity(priorTokens, currentTokens)
		vector.GestureRepetition = gestureRepetition(priorTexts, utt.Text, c.cfg.GestureMarkers)
	}

	// Cliché hits count occurrences across the whole window including
	// this turn; spans cover the current turn only, for removal.
	hits := 0
	for _, phrase := range c.cfg.Cliches {
		spans := clicheOccurrences(utt.Text, phrase)
		vector.ClicheSpans = append(vector.ClicheSpans, spans...)
		hits += len(spans)
		for _, text := range priorTexts {
			hits += len(clicheOccurrences(text, phrase))
		}
	}
	vector.ClicheHits = hits
	vector.ClicheRate = math.Min(1, clichePerHit*float64(hits))

	sess.utterances = append(sess.utterances, utt)
	sess.tokens = append(sess.tokens, currentTokens)
	if len(sess.utterances) > c.cfg.Size {
		excess := len(sess.utterances) - c.cfg.Size
		sess.utterances = sess.utterances[excess:]
		sess.tokens = sess.tokens[excess:]
	}
	sess.lastSeen = timeNow()
	vector.WindowLen = len(sess.utterances)

	return vector
}

// Window returns a copy of a session's current window, oldest first.
func (c *Collector) Window(sessionID string) []Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok || c.expiredLocked(sess) {
		return nil
	}
	cp := make([]Utterance, len(sess.utterances))
	copy(cp, sess.utterances)
	return cp
}

// Remove drops a session's window, for explicit session termination.
func (c *Collector) Remove(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
}

// Sweep evicts all idle sessions and returns how many were removed.
// Intended for a periodic reaper; access-time expiry happens lazily
// regardless.
func (c *Collector) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, sess := range c.sessions {
		if c.expiredLocked(sess) {
			delete(c.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("idle sessions evicted", zap.Int("removed", removed))
	}
	return removed
}

// ActiveSessions returns the number of tracked sessions.
func (c *Collector) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// sessionLocked returns the live session state, replacing it when the
// idle timeout has elapsed. Caller holds c.mu.
func (c *Collector) sessionLocked(sessionID string) *session {
	sess, ok := c.sessions[sessionID]
	if ok && !c.expiredLocked(sess) {
		return sess
	}
	if ok {
		c.logger.Debug("idle session window reset", zap.String("session_id", sessionID))
	}
	sess = &session{lastSeen: timeNow()}
	c.sessions[sessionID] = sess
	return sess
}

func (c *Collector) expiredLocked(sess *session) bool {
	return c.cfg.IdleTimeout > 0 && timeNow().Sub(sess.lastSeen) > c.cfg.IdleTimeout
}
