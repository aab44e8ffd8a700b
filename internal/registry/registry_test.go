package registry

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(maxSessions int, clock *fakeClock) *Registry {
	return New(Options{
		MaxSessions:  maxSessions,
		MaxRequests:  5,
		MaxDuration:  time.Hour,
		BlacklistTTL: 30 * time.Minute,
		Clock:        clock,
	})
}

func TestAcquireFillsToCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(3, clock)

	sessions := r.Acquire()
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	seen := map[string]bool{}
	for _, s := range sessions {
		if seen[s.ID] {
			t.Fatalf("duplicate session id %s", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestSessionExpiresAfterMaxRequests(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(1, clock)

	sessions := r.Acquire()
	id := sessions[0].ID
	for i := 0; i < 5; i++ {
		r.MarkUsed(id)
	}

	r.CleanupExpired()
	stats := r.Snapshot()
	if stats.ActiveSessions != 0 {
		t.Fatalf("expected session to expire after hitting max requests, active=%d", stats.ActiveSessions)
	}
}

func TestSessionExpiresAfterMaxDuration(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(1, clock)
	r.Acquire()

	clock.Advance(2 * time.Hour)
	r.CleanupExpired()

	stats := r.Snapshot()
	if stats.ActiveSessions != 0 {
		t.Fatalf("expected session to expire after max duration, active=%d", stats.ActiveSessions)
	}
}

func TestBlacklistRemovesSessionAndBlocksReuse(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(1, clock)
	sessions := r.Acquire()
	id := sessions[0].ID

	r.Blacklist(id, "test")

	if !r.IsBlacklisted(id) {
		t.Fatal("expected session to be blacklisted")
	}
	stats := r.Snapshot()
	if stats.ActiveSessions != 0 {
		t.Fatalf("expected blacklisted session to be removed from active set, active=%d", stats.ActiveSessions)
	}
	if stats.BlacklistedSessions != 1 {
		t.Fatalf("expected 1 blacklisted entry, got %d", stats.BlacklistedSessions)
	}
}

func TestBlacklistExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(1, clock)
	sessions := r.Acquire()
	id := sessions[0].ID
	r.Blacklist(id, "test")

	clock.Advance(31 * time.Minute)
	r.CleanupExpired()

	if r.IsBlacklisted(id) {
		t.Fatal("expected blacklist entry to expire after TTL")
	}
}

func TestSnapshotReportsShortIDsAndAge(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(1, clock)
	r.Acquire()

	clock.Advance(3 * time.Minute)
	stats := r.Snapshot()
	if len(stats.SessionDetails) != 1 {
		t.Fatalf("expected 1 session detail, got %d", len(stats.SessionDetails))
	}
	detail := stats.SessionDetails[0]
	if len(detail.ShortID) == 0 {
		t.Fatal("expected a non-empty short id")
	}
	if detail.CreatedMinutesAgo != 3 {
		t.Fatalf("expected age of 3 minutes, got %d", detail.CreatedMinutesAgo)
	}
}

type fakeMetricsGC struct {
	calls      int
	olderThan  time.Time
	lastKeep   map[string]struct{}
}

func (f *fakeMetricsGC) GC(olderThan time.Time, keep map[string]struct{}) {
	f.calls++
	f.olderThan = olderThan
	f.lastKeep = keep
}

func TestCleanupExpiredDrivesMetricsGC(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	gc := &fakeMetricsGC{}
	r := New(Options{
		MaxSessions:  1,
		MaxRequests:  5,
		MaxDuration:  time.Hour,
		BlacklistTTL: 30 * time.Minute,
		Clock:        clock,
		MetricsGC:    gc,
	})
	sessions := r.Acquire()
	id := sessions[0].ID

	r.CleanupExpired()
	if gc.calls == 0 {
		t.Fatal("expected CleanupExpired to drive the metrics GC")
	}
	if _, ok := gc.lastKeep[id]; !ok {
		t.Fatalf("expected the active session %s to be in the keep set", id)
	}
}

func TestRequestsSinceRotationResetsOnNewSession(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(1, clock)
	sessions := r.Acquire()
	id := sessions[0].ID

	r.MarkUsed(id)
	r.MarkUsed(id)
	if got := r.Snapshot().RequestsSinceRotation; got != 2 {
		t.Fatalf("expected 2 requests since rotation, got %d", got)
	}

	r.Blacklist(id, "test")
	r.Acquire() // mints a replacement session, resetting the counter

	if got := r.Snapshot().RequestsSinceRotation; got != 0 {
		t.Fatalf("expected counter to reset after a new session was minted, got %d", got)
	}
}

func TestAcquireRefillsAfterExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	r := newTestRegistry(2, clock)
	first := r.Acquire()
	if len(first) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(first))
	}

	r.Blacklist(first[0].ID, "test")
	second := r.Acquire()
	if len(second) != 2 {
		t.Fatalf("expected registry to refill back to capacity, got %d", len(second))
	}
}
