package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestUpdatesSuccessRate(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("success", "scraper-abc123", 50*time.Millisecond)
	c.RecordRequest("success", "scraper-abc123", 50*time.Millisecond)
	c.RecordRequest("blocked", "scraper-abc123", 50*time.Millisecond)

	snap := c.GetSnapshot()
	if snap.RequestsTotal != 3 {
		t.Fatalf("expected 3 requests recorded, got %d", snap.RequestsTotal)
	}
	want := 200.0 / 3.0
	if diff := snap.SuccessRate - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("unexpected success rate: got %v want ~%v", snap.SuccessRate, want)
	}
	if got := testutil.ToFloat64(c.SuccessRate); got != snap.SuccessRate {
		t.Fatalf("gauge out of sync with snapshot: gauge=%v snapshot=%v", got, snap.SuccessRate)
	}
}

func TestSetSessionCountsUpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.SetSessionCounts(7, 2)

	if v := testutil.ToFloat64(c.SessionsActive); v != 7 {
		t.Fatalf("expected active gauge 7, got %v", v)
	}
	if v := testutil.ToFloat64(c.SessionsBlacklisted); v != 2 {
		t.Fatalf("expected blacklisted gauge 2, got %v", v)
	}
}

func TestRequestsTotalLabeledByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRequest("success", "s1", time.Millisecond)
	c.RecordRequest("blocked", "s1", time.Millisecond)
	c.RecordRequest("blocked", "s1", time.Millisecond)

	if got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("blocked")); got != 2 {
		t.Fatalf("expected 2 blocked requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 success request, got %v", got)
	}
}
