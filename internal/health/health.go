// Package health tracks per-session request outcomes and decides when a
// session has become unhealthy enough to retire.
package health

import (
	"strconv"
	"sync"
	"time"
)

// FailureKind is the classification a request outcome falls into once it
// has finished.
type FailureKind int

const (
	// FailureNone marks a successful request; it is never stored as a
	// failure kind but is returned by classification helpers that need a
	// zero value distinct from the real failure kinds below.
	FailureNone FailureKind = iota
	FailureBlocked
	FailureRateLimited
	FailureServerError
	FailureHTTPError
	FailureTimeout
	FailureConnectionError
	FailureUnknown
)

func (k FailureKind) String() string {
	switch k {
	case FailureBlocked:
		return "blocked"
	case FailureRateLimited:
		return "rate_limited"
	case FailureServerError:
		return "server_error"
	case FailureHTTPError:
		return "http_error"
	case FailureTimeout:
		return "timeout"
	case FailureConnectionError:
		return "connection_error"
	case FailureUnknown:
		return "unknown_error"
	default:
		return "none"
	}
}

const responseTimeWindow = 100

// Metrics is the running health picture for one session.
type Metrics struct {
	RequestsSent            int64
	SuccessfulRequests       int64
	FailedRequests           int64
	BlockedRequests          int64
	RateLimitedRequests      int64
	TimeoutRequests          int64
	ConnectionErrorRequests  int64
	HTTPErrorRequests        int64
	LastUsed                 time.Time
	LastSuccess              time.Time
	LastFailure              time.Time
	AverageResponseTime      time.Duration

	responseTimes []time.Duration
}

// SuccessRate returns the percentage (0-100) of requests that succeeded.
// A session with no requests yet is reported as fully healthy.
func (m *Metrics) SuccessRate() float64 {
	if m.RequestsSent == 0 {
		return 100.0
	}
	return float64(m.SuccessfulRequests) / float64(m.RequestsSent) * 100.0
}

// IsHealthy reports whether the session is still fit for use: its success
// rate must be at least 80%, and either it has succeeded recently (within
// 5 minutes) or it simply hasn't been used enough yet to judge.
func (m *Metrics) IsHealthy(now time.Time) bool {
	if m.SuccessRate() < 80.0 {
		return false
	}
	if m.RequestsSent < 5 {
		return true
	}
	return now.Sub(m.LastSuccess) < 5*time.Minute
}

func (m *Metrics) recordResponseTime(d time.Duration) {
	m.responseTimes = append(m.responseTimes, d)
	if len(m.responseTimes) > responseTimeWindow {
		m.responseTimes = m.responseTimes[len(m.responseTimes)-responseTimeWindow:]
	}
	var sum time.Duration
	for _, rt := range m.responseTimes {
		sum += rt
	}
	m.AverageResponseTime = sum / time.Duration(len(m.responseTimes))
}

// Blacklister is called once a session's health crosses the retirement
// threshold. Implemented by the session registry.
type Blacklister interface {
	Blacklist(sessionID string, reason string)
}

// Tracker owns the Metrics for every known session id.
type Tracker struct {
	mu      sync.Mutex
	metrics map[string]*Metrics
	retire  Blacklister
}

// NewTracker builds a Tracker that calls back into retire once a session's
// metrics cross the blacklist threshold.
func NewTracker(retire Blacklister) *Tracker {
	return &Tracker{
		metrics: make(map[string]*Metrics),
		retire:  retire,
	}
}

func (t *Tracker) entry(sessionID string) *Metrics {
	m, ok := t.metrics[sessionID]
	if !ok {
		m = &Metrics{}
		t.metrics[sessionID] = m
	}
	return m
}

// RecordSuccess records a successful request and its response time.
func (t *Tracker) RecordSuccess(sessionID string, responseTime time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.entry(sessionID)
	m.RequestsSent++
	m.SuccessfulRequests++
	m.LastUsed = now
	m.LastSuccess = now
	m.recordResponseTime(responseTime)
}

// RecordFailure records a failed request of the given kind. If the
// session has now served more than 10 requests and its success rate is
// below 50%, the registered Blacklister is invoked synchronously.
func (t *Tracker) RecordFailure(sessionID string, kind FailureKind, now time.Time) {
	t.mu.Lock()
	m := t.entry(sessionID)
	m.RequestsSent++
	m.FailedRequests++
	m.LastUsed = now
	m.LastFailure = now
	switch kind {
	case FailureBlocked:
		m.BlockedRequests++
	case FailureRateLimited:
		m.RateLimitedRequests++
	case FailureTimeout:
		m.TimeoutRequests++
	case FailureConnectionError:
		m.ConnectionErrorRequests++
	case FailureHTTPError, FailureServerError:
		m.HTTPErrorRequests++
	}
	shouldBlacklist := m.RequestsSent > 10 && m.SuccessRate() < 50.0
	t.mu.Unlock()

	if shouldBlacklist && t.retire != nil {
		t.retire.Blacklist(sessionID, "success rate below 50% over "+strconv.FormatInt(m.RequestsSent, 10)+" requests")
	}
}

// Get returns a copy of a session's metrics. The zero value is returned
// for sessions that have never recorded an outcome.
func (t *Tracker) Get(sessionID string) Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.metrics[sessionID]
	if !ok {
		return Metrics{}
	}
	return *m
}

// IsHealthy reports whether a session is currently healthy.
func (t *Tracker) IsHealthy(sessionID string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.metrics[sessionID]
	if !ok {
		return true
	}
	return m.IsHealthy(now)
}

// Forget drops a session's metrics, e.g. once the session has been
// retired from the registry.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.metrics, sessionID)
}

// GC purges metrics for sessions that are not in keep (the registry's
// currently active set) and whose last recorded activity is older than
// olderThan, so a session's metrics don't outlive the session by more
// than the registry's cleanup cadence allows. Intended to be driven by
// the same cleanup cycle that retires expired sessions and blacklist
// entries.
func (t *Tracker) GC(olderThan time.Time, keep map[string]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, m := range t.metrics {
		if _, ok := keep[id]; ok {
			continue
		}
		if m.LastUsed.Before(olderThan) {
			delete(t.metrics, id)
		}
	}
}
