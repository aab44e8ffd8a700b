package rotator

import (
	"testing"
	"time"

	"brdrotate/internal/health"
	"brdrotate/internal/registry"
)

type recordingWarner struct {
	messages []string
}

func (w *recordingWarner) Warnf(format string, args ...interface{}) {
	w.messages = append(w.messages, format)
}

func sessions(ids ...string) []*registry.Session {
	now := time.Now()
	out := make([]*registry.Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, &registry.Session{ID: id, CreatedAt: now, MaxRequests: 100, MaxDuration: time.Hour})
	}
	return out
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	strategy := NewRoundRobin()
	candidates := sessions("a", "b", "c")

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, strategy.Next(candidates).ID)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("at %d: got %s want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRandomAlwaysReturnsACandidate(t *testing.T) {
	strategy := NewRandom()
	candidates := sessions("a", "b", "c")
	ids := map[string]bool{"a": true, "b": true, "c": true}
	for i := 0; i < 20; i++ {
		s := strategy.Next(candidates)
		if !ids[s.ID] {
			t.Fatalf("unexpected session id %s", s.ID)
		}
	}
}

func TestSelectFiltersOutUnhealthySessions(t *testing.T) {
	tracker := health.NewTracker(nil)
	now := time.Now()
	tracker.RecordSuccess("a", time.Millisecond, now)
	for i := 0; i < 10; i++ {
		tracker.RecordFailure("b", health.FailureBlocked, now)
	}

	r := New(NewRoundRobin(), tracker, nil)
	candidates := sessions("a", "b")

	for i := 0; i < 5; i++ {
		if s := r.Select(candidates); s.ID != "a" {
			t.Fatalf("expected only the healthy session to be selected, got %s", s.ID)
		}
	}
}

func TestSelectFallsBackToLeastUsedAndWarnsWhenNoneHealthy(t *testing.T) {
	tracker := health.NewTracker(nil)
	now := time.Now()
	for _, id := range []string{"a", "b"} {
		for i := 0; i < 10; i++ {
			tracker.RecordFailure(id, health.FailureBlocked, now)
		}
	}

	warner := &recordingWarner{}
	r := New(NewRoundRobin(), tracker, warner)

	candidates := sessions("a", "b")
	candidates[0].RequestsCount = 5
	candidates[1].RequestsCount = 2

	s := r.Select(candidates)
	if s.ID != "b" {
		t.Fatalf("expected least-used session b, got %s", s.ID)
	}
	if len(warner.messages) == 0 {
		t.Fatal("expected a warning to be logged on fallback")
	}
}

func TestWeightedFavorsHealthierSessions(t *testing.T) {
	tracker := health.NewTracker(nil)
	now := time.Now()
	for i := 0; i < 20; i++ {
		tracker.RecordSuccess("good", time.Millisecond, now)
	}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			tracker.RecordSuccess("bad", time.Millisecond, now)
		} else {
			tracker.RecordFailure("bad", health.FailureBlocked, now)
		}
	}

	strategy := NewWeighted(tracker)
	candidates := sessions("good", "bad")

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		counts[strategy.Next(candidates).ID]++
	}
	if counts["good"] <= counts["bad"] {
		t.Fatalf("expected the healthier session to be picked more often, got %v", counts)
	}
}

func TestWeightedPicksFirstCandidateDeterministicallyWhenAllWeightsAreZero(t *testing.T) {
	tracker := health.NewTracker(nil)
	now := time.Now()
	// Every candidate has a 0% success rate, so every score is zero.
	for _, id := range []string{"a", "b", "c"} {
		tracker.RecordFailure(id, health.FailureBlocked, now)
	}

	strategy := NewWeighted(tracker)
	candidates := sessions("a", "b", "c")

	for i := 0; i < 10; i++ {
		if s := strategy.Next(candidates); s.ID != "a" {
			t.Fatalf("expected deterministic fallback to the first candidate, got %s", s.ID)
		}
	}
}

func TestSelectEmptyCandidatesReturnsNil(t *testing.T) {
	tracker := health.NewTracker(nil)
	r := New(NewRoundRobin(), tracker, nil)
	if s := r.Select(nil); s != nil {
		t.Fatalf("expected nil for empty candidate list, got %v", s)
	}
}
