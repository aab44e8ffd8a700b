package fingerprint

import "testing"

func TestProfileForIsDeterministic(t *testing.T) {
	pool := NewPool()
	a := pool.ProfileFor("scraper-abc123")
	b := pool.ProfileFor("scraper-abc123")
	if a.Name != b.Name {
		t.Fatalf("expected same session to map to the same profile, got %s and %s", a.Name, b.Name)
	}
}

func TestProfileForDistributesAcrossCatalog(t *testing.T) {
	pool := NewPool()
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		sessionID := "scraper-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
		p := pool.ProfileFor(sessionID)
		seen[p.Name] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected session ids to spread across more than one profile, got %d", len(seen))
	}
}

func TestHeadersIncludeClientHintsOnlyForChromeFamily(t *testing.T) {
	pool := NewPool()
	for _, p := range pool.All() {
		h := p.Headers()
		if h["User-Agent"] != p.UserAgent {
			t.Fatalf("User-Agent header mismatch for %s", p.Name)
		}
		if p.SecChUa == "" {
			if _, ok := h["Sec-CH-UA"]; ok {
				t.Fatalf("%s: did not expect Sec-CH-UA header", p.Name)
			}
		} else if h["Sec-CH-UA"] != p.SecChUa {
			t.Fatalf("%s: Sec-CH-UA header mismatch", p.Name)
		}
	}
}

func TestRandomReturnsCatalogMember(t *testing.T) {
	pool := NewPool()
	names := map[string]bool{}
	for _, p := range pool.All() {
		names[p.Name] = true
	}
	for i := 0; i < 20; i++ {
		if p := pool.Random(); !names[p.Name] {
			t.Fatalf("Random returned profile not in catalog: %s", p.Name)
		}
	}
}

func TestStatsCountsByBrowserAndPlatform(t *testing.T) {
	pool := NewPool()
	stats := pool.Stats()

	total := 0
	for _, count := range stats {
		total += count
	}
	if total != pool.Size() {
		t.Fatalf("expected stats to account for every catalog entry, got %d want %d", total, pool.Size())
	}
	if stats["chrome/windows"] < 2 {
		t.Fatalf("expected at least 2 chrome/windows profiles, got %d", stats["chrome/windows"])
	}
}

func TestSessionHeadersExtendsBaselineHeaders(t *testing.T) {
	pool := NewPool()
	p := pool.ProfileFor("scraper-abc123")
	h := SessionHeaders(p)

	for key, want := range map[string]string{
		"DNT":                       "1",
		"Connection":                "keep-alive",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Cache-Control":             "max-age=0",
	} {
		if got := h[key]; got != want {
			t.Fatalf("expected %s=%s, got %q", key, want, got)
		}
	}
	if h["User-Agent"] != p.UserAgent {
		t.Fatal("expected SessionHeaders to retain the baseline User-Agent header")
	}
}
