// Package policy routes task domains to lint modes.
package policy

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/soaplintd/internal/config"
)

// Mode is the lint treatment applied to a turn.
type Mode string

const (
	// ModeFull applies every metric and can trigger a full plan.
	ModeFull Mode = Mode(config.ModeFull)

	// ModeRhythm restricts etude retrieval to rhythm-tagged patterns.
	ModeRhythm Mode = Mode(config.ModeRhythm)

	// ModeOff records the window but never scores or plans.
	ModeOff Mode = Mode(config.ModeOff)
)

// RhythmTag is the etude tag rhythm-only domains are restricted to.
const RhythmTag = "rhythm"

// Router maps a request's declared domain to a Mode. Unknown and empty
// domains get full treatment: over-linting is recoverable,
// under-linting is not.
type Router struct {
	domains map[string]Mode
	logger  *zap.Logger
}

// NewRouter builds a Router from validated configuration.
func NewRouter(cfg config.PolicyConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	domains := make(map[string]Mode, len(cfg.Domains))
	for domain, mode := range cfg.Domains {
		domains[domain] = Mode(mode)
	}
	return &Router{domains: domains, logger: logger}
}

// Route returns the mode for domain.
func (r *Router) Route(domain string) Mode {
	if domain == "" {
		return ModeFull
	}
	mode, ok := r.domains[domain]
	if !ok {
		r.logger.Debug("unknown domain, defaulting to full lint",
			zap.String("domain", domain))
		return ModeFull
	}
	return mode
}
