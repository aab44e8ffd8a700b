// Command rotorctl is a runnable entrypoint for the proxy rotation
// subsystem: it loads configuration, wires the session registry, health
// tracker, rotation strategy and middleware together, then drives a
// synthetic request loop against them so the library can be exercised
// and inspected (metrics + live stats feed) without a real downloader
// attached.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"brdrotate/internal/config"
	"brdrotate/internal/fingerprint"
	"brdrotate/internal/health"
	"brdrotate/internal/middleware"
	"brdrotate/internal/registry"
	"brdrotate/internal/rotator"
	"brdrotate/internal/statsfeed"
	pkgconfig "brdrotate/pkg/config"
	"brdrotate/pkg/logger"
	"brdrotate/pkg/metrics"
)

func main() {
	var (
		addr        = flag.String("addr", ":8090", "address to serve metrics and the live stats feed on")
		ratePerSec  = flag.Float64("rate", 5.0, "synthetic requests per second to drive through the middleware")
		strategy    = flag.String("strategy", "", "rotation strategy override: round_robin, weighted, or random (defaults to config/env)")
		overlayPath = flag.String("overlay", "", "optional YAML file to hot-reload rotation settings from")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
	)
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotorctl: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *strategy != "" {
		cfg.Settings.RotationStrategy = *strategy
	}

	if *overlayPath != "" {
		reloader := pkgconfig.NewReloader(*overlayPath)
		reloader.SetLogger(reloaderLogAdapter{log})
		reloader.OnChange(func(o *pkgconfig.Overlay) {
			cfg.ApplyOverlay(o)
			log.Infof("applied overlay from %s", *overlayPath)
		})
		if err := reloader.Start(); err != nil {
			log.Warnf("overlay watcher failed to start, continuing with env-only settings: %v", err)
		} else {
			cfg.ApplyOverlay(reloader.Overlay())
			defer reloader.Stop()
		}
	}

	var tracker *health.Tracker
	reg := registry.New(registry.Options{
		MaxSessions:  cfg.Settings.MaxSessions,
		BlacklistTTL: cfg.Settings.BlacklistTTL,
		MetricsGC:    trackerMetricsGC{&tracker},
	})

	var bl health.Blacklister = registryBlacklister{reg}
	tracker = health.NewTracker(bl)

	strat := selectStrategy(cfg.Settings.RotationStrategy, tracker)
	rot := rotator.New(strat, tracker, log)

	profiles := fingerprint.NewPool()

	mw := middleware.New(cfg.Proxy, reg, tracker, rot, profiles, middleware.Config{MaxRetries: cfg.Settings.MaxRetries}, cfg.Enabled(), log)

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	feed := statsfeed.NewFeed(middlewareStatsSource{mw}, cfg.Settings.RotationInterval/10)
	feed.Start()
	defer feed.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/status", collector.JSONHandler())
	mux.HandleFunc("/ws/stats", feed.ServeHTTP)

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Infof("serving metrics and stats feed on %s", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runSyntheticLoad(ctx, mw, collector, reg, *ratePerSec, log)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("error during http shutdown: %v", err)
	}
}

// reloaderLogAdapter bridges pkg/logger.Logger's zap-field API to the
// simpler Info/Error(msg, ...interface{}) shape pkg/config.Reloader wants,
// so the two packages don't have to agree on a logging interface.
type reloaderLogAdapter struct {
	log *logger.Logger
}

func (a reloaderLogAdapter) Info(msg string, fields ...interface{}) {
	a.log.Infof("%s %v", msg, fields)
}

func (a reloaderLogAdapter) Error(msg string, fields ...interface{}) {
	a.log.Errorf("%s %v", msg, fields)
}

func selectStrategy(name string, tracker *health.Tracker) rotator.Strategy {
	switch name {
	case "weighted":
		return rotator.NewWeighted(tracker)
	case "random":
		return rotator.NewRandom()
	default:
		return rotator.NewRoundRobin()
	}
}

// registryBlacklister adapts *registry.Registry to health.Blacklister so
// the health tracker can retire a session without importing registry
// directly.
type registryBlacklister struct {
	reg *registry.Registry
}

func (b registryBlacklister) Blacklist(sessionID, reason string) {
	b.reg.Blacklist(sessionID, reason)
}

// trackerMetricsGC adapts a not-yet-constructed *health.Tracker to
// registry.SessionMetricsGC: the registry and tracker each need a handle
// to the other, so this forwards through a pointer that's filled in once
// the tracker exists.
type trackerMetricsGC struct {
	tracker **health.Tracker
}

func (t trackerMetricsGC) GC(olderThan time.Time, keep map[string]struct{}) {
	if *t.tracker != nil {
		(*t.tracker).GC(olderThan, keep)
	}
}

// middlewareStatsSource adapts *middleware.Middleware to
// statsfeed.StatsSource.
type middlewareStatsSource struct {
	mw *middleware.Middleware
}

func (s middlewareStatsSource) Stats() interface{} {
	return s.mw.Stats()
}

// syntheticStatuses models one simulated request's result, drawn with
// weighted odds so the demo loop exercises retries and blacklisting
// without a live downloader.
var syntheticStatuses = []struct {
	status int
	weight int
}{
	{200, 85},
	{403, 5},
	{429, 4},
	{500, 3},
	{502, 3},
}

func drawStatus() int {
	total := 0
	for _, s := range syntheticStatuses {
		total += s.weight
	}
	n := rand.Intn(total)
	for _, s := range syntheticStatuses {
		if n < s.weight {
			return s.status
		}
		n -= s.weight
	}
	return 200
}

// runSyntheticLoad drives requests through the middleware at the given
// rate until ctx is cancelled, recording outcomes into the metrics
// collector and periodically syncing the registry's occupancy gauges.
func runSyntheticLoad(ctx context.Context, mw *middleware.Middleware, collector *metrics.Collector, reg *registry.Registry, ratePerSec float64, log *logger.Logger) {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	limiter := rate.NewLimiter(rate.Limit(ratePerSec), 1)

	gaugeTicker := time.NewTicker(2 * time.Second)
	defer gaugeTicker.Stop()

	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	var retryMeta *middleware.RequestMeta
	for {
		select {
		case <-ctx.Done():
			return
		case <-gaugeTicker.C:
			stats := reg.Snapshot()
			collector.SetSessionCounts(stats.ActiveSessions, stats.BlacklistedSessions)
		case <-cleanupTicker.C:
			reg.CleanupExpired()
		default:
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		decision, meta, _ := mw.OnRequest("https://example.com/listing", retryMeta)
		retryMeta = nil
		if decision != middleware.DecisionProceed {
			continue
		}

		status := drawStatus()
		elapsed := time.Duration(50+rand.Intn(200)) * time.Millisecond
		time.Sleep(time.Millisecond) // keep the loop from starving other goroutines under -race

		outcome := mw.OnResponse(status, meta)
		outcomeLabel := "success"
		if outcome.Kind != health.FailureNone {
			outcomeLabel = outcome.Kind.String()
		}
		collector.RecordRequest(outcomeLabel, meta.ProxySessionID, elapsed)

		if outcome.Retry && outcome.NewMeta != nil {
			log.Debugf("retrying request after %s on session %s", outcome.Kind, meta.ProxySessionID)
			retryMeta = outcome.NewMeta
		}
	}
}
