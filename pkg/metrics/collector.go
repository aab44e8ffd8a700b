// Package metrics exposes Prometheus-compatible counters and gauges for
// the proxy rotation subsystem: session pool occupancy, request outcomes
// by failure kind, response latency, and the rolling success rate.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brightdata"

// Collector holds every metric this subsystem exports.
type Collector struct {
	SessionsActive      prometheus.Gauge
	SessionsBlacklisted prometheus.Gauge

	RequestsTotal    *prometheus.CounterVec // labeled by outcome
	ResponseTime     prometheus.Histogram
	SessionLatency   *prometheus.HistogramVec // labeled by session id prefix

	SuccessRate prometheus.Gauge

	mu           sync.Mutex
	startTime    time.Time
	requestCount int64
	successCount int64
}

// NewCollector builds and registers every metric against the given
// registerer (pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid collisions between runs).
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of proxy sessions currently in the active pool.",
		}),
		SessionsBlacklisted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_blacklisted",
			Help:      "Number of session ids currently serving out their blacklist TTL.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests routed through the proxy, labeled by outcome.",
		}, []string{"outcome"}),
		ResponseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_time_seconds",
			Help:      "Response time for proxied requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		SessionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_latency_seconds",
			Help:      "Response time for proxied requests, labeled by session id prefix.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"session"}),
		SuccessRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success_rate",
			Help:      "Overall percentage of requests that succeeded since startup.",
		}),
		startTime: time.Now(),
	}

	if reg != nil {
		reg.MustRegister(
			c.SessionsActive,
			c.SessionsBlacklisted,
			c.RequestsTotal,
			c.ResponseTime,
			c.SessionLatency,
			c.SuccessRate,
		)
	}
	return c
}

// RecordRequest records one request's outcome and response time.
// outcome should be "success" or one of the health.FailureKind names.
func (c *Collector) RecordRequest(outcome string, sessionID string, d time.Duration) {
	c.RequestsTotal.WithLabelValues(outcome).Inc()
	c.ResponseTime.Observe(d.Seconds())

	sessionLabel := sessionID
	if len(sessionLabel) > 8 {
		sessionLabel = sessionLabel[:8]
	}
	c.SessionLatency.WithLabelValues(sessionLabel).Observe(d.Seconds())

	c.mu.Lock()
	c.requestCount++
	if outcome == "success" {
		c.successCount++
	}
	rate := 100.0
	if c.requestCount > 0 {
		rate = float64(c.successCount) / float64(c.requestCount) * 100.0
	}
	c.mu.Unlock()

	c.SuccessRate.Set(rate)
}

// SetSessionCounts updates the pool-occupancy gauges.
func (c *Collector) SetSessionCounts(active, blacklisted int) {
	c.SessionsActive.Set(float64(active))
	c.SessionsBlacklisted.Set(float64(blacklisted))
}

// Snapshot is a JSON-friendly view of the running totals, for the
// JSONHandler status endpoint and other debug endpoints that don't want
// to parse the Prometheus text format.
type Snapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	RequestsTotal int64   `json:"requests_total"`
	SuccessRate   float64 `json:"success_rate"`
}

// GetSnapshot returns the current running totals.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	rate := 100.0
	if c.requestCount > 0 {
		rate = float64(c.successCount) / float64(c.requestCount) * 100.0
	}
	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		RequestsTotal: c.requestCount,
		SuccessRate:   rate,
	}
}

// Handler returns the standard Prometheus scrape handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

// JSONHandler serves the Snapshot as JSON, for callers that want a quick
// status check without a Prometheus scraper.
func (c *Collector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.GetSnapshot())
	}
}
