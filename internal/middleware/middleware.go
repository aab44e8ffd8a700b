// Package middleware wires a proxy configuration, session registry,
// health tracker and rotation strategy into the request/response hooks a
// downloader calls on every request.
package middleware

import (
	"strings"
	"time"

	"brdrotate/internal/fingerprint"
	"brdrotate/internal/health"
	"brdrotate/internal/proxyconfig"
	"brdrotate/internal/registry"
	"brdrotate/internal/rotator"
)

// RequestMeta is the typed bag of proxy-related state a downloader
// attaches to a request and carries through to the response/exception
// hooks. It mirrors the meta keys a Scrapy-style middleware would stash
// on request.meta, but as a concrete struct instead of a dynamic map.
type RequestMeta struct {
	Proxy               string
	ProxySessionID      string
	ProxyCreatedAt       time.Time
	ProxyRequestsCount   uint32
	BrightdataEnabled    bool
	RequestStartTime     time.Time
	BrightdataRetryCount int

	// SkipProxy, when set by the caller, makes OnRequest skip proxying for
	// this request entirely (see shouldSkip).
	SkipProxy bool
}

// Decision is the outcome of OnRequest: either proceed with the request
// (optionally through the proxy) or skip proxying for it.
type Decision int

const (
	DecisionProceed Decision = iota
	DecisionSkip
)

// Outcome classifies what happened to a completed request, mirroring the
// error taxonomy: successful, or one of the named failure kinds.
type Outcome struct {
	Kind    health.FailureKind
	Retry   bool
	NewMeta *RequestMeta
}

var skipPathSuffixes = []string{"robots.txt", "favicon.ico", "sitemap.xml"}

func shouldSkip(rawURL string, meta *RequestMeta) bool {
	if meta != nil && meta.SkipProxy {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, suffix := range skipPathSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// Config tunes the middleware's behavior independent of the upstream
// proxy credentials (those live in proxyconfig.Config).
type Config struct {
	MaxRetries int
}

// Warner is the minimal logging capability the Middleware needs: a
// warning when OnRequest can't acquire a session to route through.
type Warner interface {
	Warnf(format string, args ...interface{})
}

// noopWarner discards warnings; used when the caller doesn't wire a logger.
type noopWarner struct{}

func (noopWarner) Warnf(string, ...interface{}) {}

// Middleware is the façade a downloader integrates against. Its fields are
// set once at construction and never mutated afterward; the concurrency
// safety for everything that does change (sessions, health counters)
// lives in registry.Registry and health.Tracker.
type Middleware struct {
	proxyCfg *proxyconfig.Config
	registry *registry.Registry
	tracker  *health.Tracker
	rotator  *rotator.Rotator
	profiles *fingerprint.Pool
	cfg      Config
	logger   Warner

	enabled bool
}

// New builds a Middleware. enabled corresponds to the USE_PROXIES
// setting — when false, OnRequest always returns DecisionSkip and the
// middleware becomes a no-op pass-through. A nil logger disables the
// no-session-available warning.
func New(proxyCfg *proxyconfig.Config, reg *registry.Registry, tracker *health.Tracker, rot *rotator.Rotator, profiles *fingerprint.Pool, cfg Config, enabled bool, logger Warner) *Middleware {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = noopWarner{}
	}
	return &Middleware{
		proxyCfg: proxyCfg,
		registry: reg,
		tracker:  tracker,
		rotator:  rot,
		profiles: profiles,
		cfg:      cfg,
		logger:   logger,
		enabled:  enabled,
	}
}

// OnRequest decides whether to route the request through the proxy and,
// if so, attaches a session and browser profile headers to it.
func (m *Middleware) OnRequest(rawURL string, meta *RequestMeta) (Decision, *RequestMeta, map[string]string) {
	now := time.Now()
	if meta == nil {
		meta = &RequestMeta{}
	}
	meta.RequestStartTime = now

	if !m.enabled || shouldSkip(rawURL, meta) {
		meta.BrightdataEnabled = false
		return DecisionSkip, meta, nil
	}

	candidates := m.registry.Acquire()
	session := m.rotator.Select(candidates)
	if session == nil {
		m.logger.Warnf("middleware: no session available for %s, skipping proxy", rawURL)
		meta.BrightdataEnabled = false
		return DecisionSkip, meta, nil
	}

	m.registry.MarkUsed(session.ID)

	out := *meta
	out.Proxy = m.proxyCfg.ProxyURL(session.ID).String()
	out.ProxySessionID = session.ID
	out.ProxyCreatedAt = session.CreatedAt
	out.ProxyRequestsCount = session.RequestsCount
	out.BrightdataEnabled = true

	headers := fingerprint.SessionHeaders(m.profiles.ProfileFor(session.ID))
	return DecisionProceed, &out, headers
}

// OnResponse classifies a completed response and decides whether it
// warrants a retry with a different session. Calling OnResponse twice
// with the same meta is a no-op the second time: the first call clears
// BrightdataEnabled so the outcome isn't recorded into the health
// tracker twice.
func (m *Middleware) OnResponse(statusCode int, meta *RequestMeta) Outcome {
	now := time.Now()
	if meta == nil || !meta.BrightdataEnabled {
		return Outcome{Kind: health.FailureNone}
	}
	meta.BrightdataEnabled = false

	if isSuccessStatus(statusCode) {
		m.tracker.RecordSuccess(meta.ProxySessionID, now.Sub(meta.RequestStartTime), now)
		return Outcome{Kind: health.FailureNone}
	}

	kind := classifyResponseError(statusCode)
	m.tracker.RecordFailure(meta.ProxySessionID, kind, now)

	if m.shouldRetry(statusCode, meta) {
		newMeta := m.retryMeta(meta)
		return Outcome{Kind: kind, Retry: true, NewMeta: newMeta}
	}
	return Outcome{Kind: kind}
}

// OnException classifies a transport-level failure (timeout, connection
// refused, DNS failure, ...) and decides whether to retry. Only timeouts
// and connection errors are retried; unknown errors are recorded and
// passed through.
func (m *Middleware) OnException(exceptionKind string, meta *RequestMeta) Outcome {
	now := time.Now()
	if meta == nil || !meta.BrightdataEnabled {
		return Outcome{Kind: health.FailureNone}
	}
	meta.BrightdataEnabled = false

	kind := classifyException(exceptionKind)
	m.tracker.RecordFailure(meta.ProxySessionID, kind, now)

	retryable := kind == health.FailureTimeout || kind == health.FailureConnectionError
	if retryable && meta.BrightdataRetryCount < m.cfg.MaxRetries {
		newMeta := m.retryMeta(meta)
		return Outcome{Kind: kind, Retry: true, NewMeta: newMeta}
	}
	return Outcome{Kind: kind}
}

func isSuccessStatus(status int) bool {
	return (status >= 200 && status < 400) || status == 404
}

func classifyResponseError(status int) health.FailureKind {
	switch {
	case status == 403:
		return health.FailureBlocked
	case status == 429:
		return health.FailureRateLimited
	case status >= 500:
		return health.FailureServerError
	default:
		return health.FailureHTTPError
	}
}

func classifyException(exceptionKind string) health.FailureKind {
	switch exceptionKind {
	case "timeout":
		return health.FailureTimeout
	case "dns_error", "connection_refused", "connection_error":
		return health.FailureConnectionError
	default:
		return health.FailureUnknown
	}
}

var retryableStatuses = map[int]bool{403: true, 429: true, 502: true, 503: true, 504: true}

func (m *Middleware) shouldRetry(status int, meta *RequestMeta) bool {
	return meta.BrightdataRetryCount < m.cfg.MaxRetries && retryableStatuses[status]
}

// retryMeta strips the proxy assignment from a copy of meta and bumps the
// retry counter, so the next OnRequest call picks a fresh session.
func (m *Middleware) retryMeta(meta *RequestMeta) *RequestMeta {
	next := *meta
	next.Proxy = ""
	next.ProxySessionID = ""
	next.ProxyCreatedAt = time.Time{}
	next.ProxyRequestsCount = 0
	next.BrightdataRetryCount = meta.BrightdataRetryCount + 1
	return &next
}

// Stats is the aggregate statistics block exposed over metrics/statsfeed.
type Stats struct {
	Config   proxyconfig.Stats `json:"config"`
	Sessions registry.Stats    `json:"sessions"`
}

// Stats returns the current aggregate statistics.
func (m *Middleware) Stats() Stats {
	return Stats{
		Config:   m.proxyCfg.Describe(),
		Sessions: m.registry.Snapshot(),
	}
}

// ProxyURLString is a small helper exposed for callers that only need to
// build a proxy URL without building a full request (e.g. health-check
// probes) — avoids forcing every caller through OnRequest.
func ProxyURLString(cfg *proxyconfig.Config, sessionID string) string {
	u := cfg.ProxyURL(sessionID)
	if u == nil {
		return ""
	}
	return u.String()
}
