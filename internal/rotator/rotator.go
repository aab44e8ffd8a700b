// Package rotator chooses which active session a request should use
// next, according to a pluggable strategy.
package rotator

import (
	"math/rand"
	"sync"
	"time"

	"brdrotate/internal/health"
	"brdrotate/internal/registry"
)

// Strategy picks the next session out of a candidate list. Implementations
// are not expected to be safe for concurrent use by themselves — Select
// below serializes access to whichever Strategy is configured.
type Strategy interface {
	Next(candidates []*registry.Session) *registry.Session
	Name() string
}

// roundRobin cycles through candidates in the order the registry returned
// them, independent of health.
type roundRobin struct {
	idx int
}

// NewRoundRobin builds a round-robin Strategy.
func NewRoundRobin() Strategy { return &roundRobin{} }

func (r *roundRobin) Name() string { return "round_robin" }

func (r *roundRobin) Next(candidates []*registry.Session) *registry.Session {
	if len(candidates) == 0 {
		return nil
	}
	s := candidates[r.idx%len(candidates)]
	r.idx++
	return s
}

// random picks a uniformly random candidate.
type random struct{}

// NewRandom builds a random Strategy.
func NewRandom() Strategy { return &random{} }

func (random) Name() string { return "random" }

func (random) Next(candidates []*registry.Session) *registry.Session {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

// weighted picks a candidate with probability proportional to its health
// score, favoring sessions that have fewer requests and higher success
// rates so load spreads out and unhealthy sessions get starved naturally.
type weighted struct {
	tracker *health.Tracker
}

// NewWeighted builds a health-weighted Strategy.
func NewWeighted(tracker *health.Tracker) Strategy {
	return &weighted{tracker: tracker}
}

func (w *weighted) Name() string { return "weighted" }

// score multiplies the success rate against the usage score rather than
// averaging them, so a session that is both heavily used and imperfectly
// healthy is de-prioritized much faster than either factor alone would
// suggest: success_weight * usage_weight, matching the upstream rotator's
// _weighted_select.
func (w *weighted) score(s *registry.Session, now time.Time) float64 {
	m := w.tracker.Get(s.ID)
	successWeight := m.SuccessRate() / 100.0

	// Fewer requests so far -> higher weight, so load spreads across the
	// pool instead of piling onto whichever session got picked first.
	usageWeight := 1.0 / (1.0 + float64(s.RequestsCount))

	return successWeight * usageWeight
}

func (w *weighted) Next(candidates []*registry.Session) *registry.Session {
	if len(candidates) == 0 {
		return nil
	}
	now := time.Now()
	total := 0.0
	scores := make([]float64, len(candidates))
	for i, s := range candidates {
		scores[i] = w.score(s, now)
		total += scores[i]
	}
	if total <= 0 {
		// All weights are zero: pick deterministically rather than at
		// random, so the outcome doesn't depend on an unseeded draw.
		return candidates[0]
	}

	target := rand.Float64() * total
	cumulative := 0.0
	for i, sc := range scores {
		cumulative += sc
		if target <= cumulative {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// Rotator wraps a Strategy with the healthy-first, least-used-fallback
// selection rule every strategy must honor, and serializes access since
// most Strategy implementations keep small mutable state (e.g. round
// robin's cursor).
type Rotator struct {
	mu       sync.Mutex
	strategy Strategy
	tracker  *health.Tracker
	logger   Warner
}

// Warner is the minimal logging capability the Rotator needs: a warning
// when it falls back to a least-used session because nothing in the pool
// currently looks healthy.
type Warner interface {
	Warnf(format string, args ...interface{})
}

// noopWarner discards warnings; used when the caller doesn't wire a logger.
type noopWarner struct{}

func (noopWarner) Warnf(string, ...interface{}) {}

// New builds a Rotator around the given strategy and health tracker. A
// nil logger disables the fallback warning.
func New(strategy Strategy, tracker *health.Tracker, logger Warner) *Rotator {
	if logger == nil {
		logger = noopWarner{}
	}
	return &Rotator{strategy: strategy, tracker: tracker, logger: logger}
}

// Select filters candidates down to the healthy ones and asks the
// strategy to pick among them. If none of the candidates are healthy, it
// logs a warning and falls back to the least-used candidate (fewest
// requests; ties go to the earliest in the list) instead of failing the
// request outright.
func (r *Rotator) Select(candidates []*registry.Session) *registry.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(candidates) == 0 {
		return nil
	}

	now := time.Now()
	healthy := make([]*registry.Session, 0, len(candidates))
	for _, s := range candidates {
		if r.tracker.IsHealthy(s.ID, now) {
			healthy = append(healthy, s)
		}
	}

	if len(healthy) > 0 {
		return r.strategy.Next(healthy)
	}

	r.logger.Warnf("rotator: no healthy sessions among %d candidates, falling back to least-used", len(candidates))
	return leastUsed(candidates)
}

func leastUsed(candidates []*registry.Session) *registry.Session {
	best := candidates[0]
	for _, s := range candidates[1:] {
		if s.RequestsCount < best.RequestsCount {
			best = s
		}
	}
	return best
}

// Name returns the configured strategy's name.
func (r *Rotator) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy.Name()
}
