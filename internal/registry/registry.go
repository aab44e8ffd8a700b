// Package registry manages the pool of active proxy sessions: creating
// new ones up to a capacity, expiring stale ones, and blacklisting
// sessions that have turned unhealthy.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Clock abstracts time.Now so tests can control the passage of time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the real wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

const (
	// DefaultMaxRequestsPerSession caps how many requests a single
	// session may serve before it is retired, matching the upstream
	// provider's own per-session request ceiling for sticky sessions.
	DefaultMaxRequestsPerSession = 100
	// DefaultMaxSessionDuration caps how long a session may live.
	DefaultMaxSessionDuration = time.Hour
	// DefaultBlacklistTTL is how long a blacklisted session id is kept
	// out of rotation before it is eligible again.
	DefaultBlacklistTTL = 30 * time.Minute
)

// Session is a single lease against the upstream proxy, identified by a
// session id embedded into the proxy username.
type Session struct {
	ID            string
	CreatedAt     time.Time
	LastUsedAt    time.Time
	RequestsCount uint32

	MaxRequests        uint32
	MaxDuration        time.Duration
}

// IsExpired reports whether the session has exceeded its request budget
// or its maximum lifetime as of now.
func (s *Session) IsExpired(now time.Time) bool {
	if s.RequestsCount >= s.MaxRequests {
		return true
	}
	return now.Sub(s.CreatedAt) >= s.MaxDuration
}

// Use records one more request against the session.
func (s *Session) Use(now time.Time) {
	s.RequestsCount++
	s.LastUsedAt = now
}

// AgeMinutes reports how many whole minutes old the session is, as of now.
func (s *Session) AgeMinutes(now time.Time) int {
	return int(now.Sub(s.CreatedAt) / time.Minute)
}

// Registry owns the active session set plus a temporary blacklist of
// session ids that recently turned unhealthy.
type Registry struct {
	mu sync.Mutex

	clock Clock

	maxSessions int
	maxRequests uint32
	maxDuration time.Duration
	blacklistTTL time.Duration

	sessions map[string]*Session
	order    []string // insertion order, for round-robin iteration

	blacklisted map[string]time.Time // session id -> expiry

	// requestsSinceRotation is informational bookkeeping only: it counts
	// requests served since the last time a brand-new session was minted
	// into the pool, and is never reset by anything other than that event.
	requestsSinceRotation uint64

	metricsGC SessionMetricsGC
}

// SessionMetricsGC is the minimal capability the registry needs to purge
// per-session health metrics once a session has been gone long enough,
// without importing the health package's concrete Tracker type.
// *health.Tracker satisfies this interface.
type SessionMetricsGC interface {
	GC(olderThan time.Time, keep map[string]struct{})
}

// Options configures a new Registry. Zero values fall back to the
// package defaults.
type Options struct {
	MaxSessions  int
	MaxRequests  uint32
	MaxDuration  time.Duration
	BlacklistTTL time.Duration
	Clock        Clock

	// MetricsGC, if set, is purged of stale session entries (outside the
	// active set, untouched for longer than BlacklistTTL) on every
	// CleanupExpired pass.
	MetricsGC SessionMetricsGC
}

// New builds a Registry with the given capacity and lifetime limits.
func New(opts Options) *Registry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 10
	}
	if opts.MaxRequests == 0 {
		opts.MaxRequests = DefaultMaxRequestsPerSession
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = DefaultMaxSessionDuration
	}
	if opts.BlacklistTTL == 0 {
		opts.BlacklistTTL = DefaultBlacklistTTL
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	return &Registry{
		clock:        opts.Clock,
		maxSessions:  opts.MaxSessions,
		maxRequests:  opts.MaxRequests,
		maxDuration:  opts.MaxDuration,
		blacklistTTL: opts.BlacklistTTL,
		sessions:     make(map[string]*Session),
		blacklisted:  make(map[string]time.Time),
		metricsGC:    opts.MetricsGC,
	}
}

// generateSessionID produces a short, unique, non-guessable label.
// It is not a security credential — the upstream proxy trusts the
// account credentials, not the session id — so a fast non-cryptographic
// derivation is enough as long as collisions across concurrent calls
// stay vanishingly unlikely.
func generateSessionID(now time.Time, counter uint64) string {
	seed := fmt.Sprintf("%d-%d", now.UnixNano(), counter)
	sum := sha256.Sum256([]byte(seed))
	return "scraper-" + hex.EncodeToString(sum[:])[:16]
}

var idCounter uint64
var idCounterMu sync.Mutex

func nextCounter() uint64 {
	idCounterMu.Lock()
	defer idCounterMu.Unlock()
	idCounter++
	return idCounter
}

// EnsureCapacity creates new sessions until the active set reaches
// maxSessions, skipping ids that are currently blacklisted.
func (r *Registry) EnsureCapacity() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureCapacityLocked()
}

// maxIDCollisionAttempts bounds how many consecutive blacklist collisions
// a single EnsureCapacity pass will tolerate before giving up for that
// pass, rather than spinning forever under the registry's mutex.
const maxIDCollisionAttempts = 8

func (r *Registry) ensureCapacityLocked() {
	now := r.clock.Now()
	collisions := 0
	for len(r.sessions) < r.maxSessions {
		id := generateSessionID(now, nextCounter())
		if r.isBlacklistedLocked(id, now) {
			collisions++
			if collisions >= maxIDCollisionAttempts {
				break
			}
			continue
		}
		collisions = 0
		r.sessions[id] = &Session{
			ID:          id,
			CreatedAt:   now,
			LastUsedAt:  now,
			MaxRequests: r.maxRequests,
			MaxDuration: r.maxDuration,
		}
		r.order = append(r.order, id)
		r.requestsSinceRotation = 0
	}
}

// Acquire ensures the pool is at capacity and returns the full current
// set of active sessions for a rotation strategy to choose from.
func (r *Registry) Acquire() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupExpiredLocked()
	r.ensureCapacityLocked()

	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// MarkUsed records a request against a session.
func (r *Registry) MarkUsed(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.Use(r.clock.Now())
		r.requestsSinceRotation++
	}
}

// CleanupExpired removes sessions that have exceeded their request
// budget or lifetime, and drops blacklist entries whose TTL has passed.
func (r *Registry) CleanupExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupExpiredLocked()
}

func (r *Registry) cleanupExpiredLocked() {
	now := r.clock.Now()
	kept := r.order[:0]
	for _, id := range r.order {
		s, ok := r.sessions[id]
		if !ok {
			continue
		}
		if s.IsExpired(now) {
			delete(r.sessions, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept

	for id, expiry := range r.blacklisted {
		if now.After(expiry) {
			delete(r.blacklisted, id)
		}
	}

	if r.metricsGC != nil {
		keep := make(map[string]struct{}, len(r.sessions))
		for id := range r.sessions {
			keep[id] = struct{}{}
		}
		r.metricsGC.GC(now.Add(-r.blacklistTTL), keep)
	}
}

// Blacklist immediately retires a session and keeps its id out of
// rotation for the registry's blacklist TTL.
func (r *Registry) Blacklist(sessionID string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	delete(r.sessions, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.blacklisted[sessionID] = now.Add(r.blacklistTTL)
}

func (r *Registry) isBlacklistedLocked(sessionID string, now time.Time) bool {
	expiry, ok := r.blacklisted[sessionID]
	if !ok {
		return false
	}
	return now.Before(expiry)
}

// IsBlacklisted reports whether a session id is currently blacklisted.
func (r *Registry) IsBlacklisted(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isBlacklistedLocked(sessionID, r.clock.Now())
}

// SessionSummary is a redacted view of a session for status reporting.
type SessionSummary struct {
	ShortID           string `json:"id"`
	CreatedMinutesAgo int    `json:"created_minutes_ago"`
	RequestsCount     uint32 `json:"requests_count"`
}

// Stats is the pool-wide statistics snapshot.
type Stats struct {
	ActiveSessions        int              `json:"active_sessions"`
	BlacklistedSessions   int              `json:"blacklisted_sessions"`
	MaxSessions           int              `json:"max_sessions"`
	RequestsSinceRotation uint64           `json:"requests_since_rotation"`
	SessionDetails        []SessionSummary `json:"session_details"`
}

// Snapshot returns the current pool statistics, matching the shape a
// status/debug endpoint should expose.
func (r *Registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()

	details := make([]SessionSummary, 0, len(r.order))
	for _, id := range r.order {
		s, ok := r.sessions[id]
		if !ok {
			continue
		}
		shortID := id
		if len(shortID) > 8 {
			shortID = shortID[:8] + "..."
		}
		details = append(details, SessionSummary{
			ShortID:           shortID,
			CreatedMinutesAgo: s.AgeMinutes(now),
			RequestsCount:     s.RequestsCount,
		})
	}

	return Stats{
		ActiveSessions:        len(r.sessions),
		BlacklistedSessions:   len(r.blacklisted),
		MaxSessions:           r.maxSessions,
		RequestsSinceRotation: r.requestsSinceRotation,
		SessionDetails:        details,
	}
}
