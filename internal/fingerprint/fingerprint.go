// Package fingerprint provides a fixed catalog of realistic browser
// profiles (User-Agent plus the headers a real browser would send
// alongside it) and deterministically maps a proxy session to one of
// them so a session's fingerprint stays stable across requests.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// Profile is a complete, internally-consistent set of headers a request
// should carry to look like it came from one real browser.
type Profile struct {
	Name           string
	BrowserName    string
	BrowserVersion string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	Accept         string
	Platform       string

	// Chrome/Edge-family Client Hints. Empty for browsers that don't emit
	// them (Firefox, Safari).
	SecChUa                string
	SecChUaMobile          string
	SecChUaPlatform        string
	SecChUaPlatformVersion string
}

// Headers renders the profile's baseline four headers: User-Agent,
// Accept, Accept-Language, Accept-Encoding, plus Client Hints for
// Chrome/Edge-family profiles. Callers that attach a profile to an
// outgoing request want the fuller set SessionHeaders builds on top of
// this.
func (p Profile) Headers() map[string]string {
	h := map[string]string{
		"User-Agent":      p.UserAgent,
		"Accept":          p.Accept,
		"Accept-Language": p.AcceptLanguage,
		"Accept-Encoding": p.AcceptEncoding,
	}
	if p.SecChUa != "" {
		h["Sec-CH-UA"] = p.SecChUa
		h["Sec-CH-UA-Mobile"] = p.SecChUaMobile
		h["Sec-CH-UA-Platform"] = p.SecChUaPlatform
		h["Sec-CH-UA-Platform-Version"] = p.SecChUaPlatformVersion
	}
	return h
}

// SessionHeaders extends a profile's baseline headers with the
// navigation-request headers a real browser sends on every top-level
// document fetch, so a session looks consistent beyond just its
// User-Agent: DNT, keep-alive, the Sec-Fetch-* triad, and a
// no-cache-but-not-hostile Cache-Control.
func SessionHeaders(p Profile) map[string]string {
	h := p.Headers()
	h["DNT"] = "1"
	h["Connection"] = "keep-alive"
	h["Upgrade-Insecure-Requests"] = "1"
	h["Sec-Fetch-Dest"] = "document"
	h["Sec-Fetch-Mode"] = "navigate"
	h["Sec-Fetch-Site"] = "none"
	h["Cache-Control"] = "max-age=0"
	return h
}

const defaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// catalog is the fixed set of realistic browser profiles this module
// rotates through. The UA strings are real, currently-deployed browser
// signatures; the Client Hints headers are the values Chrome/Edge would
// send alongside them.
var catalog = []Profile{
	{
		Name:                   "chrome-120-windows",
		BrowserName:            "chrome",
		BrowserVersion:         "120",
		UserAgent:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage:         "en-US,en;q=0.9",
		AcceptEncoding:         "gzip, deflate, br",
		Accept:                 defaultAccept,
		Platform:               "windows",
		SecChUa:                `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		SecChUaMobile:          "?0",
		SecChUaPlatform:        `"Windows"`,
		SecChUaPlatformVersion: `"15.0.0"`,
	},
	{
		Name:                   "chrome-119-windows",
		BrowserName:            "chrome",
		BrowserVersion:         "119",
		UserAgent:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		AcceptLanguage:         "en-US,en;q=0.9",
		AcceptEncoding:         "gzip, deflate, br",
		Accept:                 defaultAccept,
		Platform:               "windows",
		SecChUa:                `"Not_A Brand";v="8", "Chromium";v="119", "Google Chrome";v="119"`,
		SecChUaMobile:          "?0",
		SecChUaPlatform:        `"Windows"`,
		SecChUaPlatformVersion: `"15.0.0"`,
	},
	{
		Name:                   "chrome-120-macos",
		BrowserName:            "chrome",
		BrowserVersion:         "120",
		UserAgent:              "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage:         "en-US,en;q=0.9",
		AcceptEncoding:         "gzip, deflate, br",
		Accept:                 defaultAccept,
		Platform:               "macos",
		SecChUa:                `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		SecChUaMobile:          "?0",
		SecChUaPlatform:        `"macOS"`,
		SecChUaPlatformVersion: `"14.2.0"`,
	},
	{
		Name:           "safari-17-macos",
		BrowserName:    "safari",
		BrowserVersion: "17",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		Accept:         defaultAccept,
		Platform:       "macos",
	},
	{
		Name:           "firefox-121-windows",
		BrowserName:    "firefox",
		BrowserVersion: "121",
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		AcceptLanguage: "en-US,en;q=0.5",
		AcceptEncoding: "gzip, deflate, br",
		Accept:         defaultAccept,
		Platform:       "windows",
	},
	{
		Name:           "firefox-121-macos",
		BrowserName:    "firefox",
		BrowserVersion: "121",
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
		AcceptLanguage: "en-US,en;q=0.5",
		AcceptEncoding: "gzip, deflate, br",
		Accept:         defaultAccept,
		Platform:       "macos",
	},
	{
		Name:                   "chrome-120-linux",
		BrowserName:            "chrome",
		BrowserVersion:         "120",
		UserAgent:              "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage:         "en-US,en;q=0.9",
		AcceptEncoding:         "gzip, deflate, br",
		Accept:                 defaultAccept,
		Platform:               "linux",
		SecChUa:                `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
		SecChUaMobile:          "?0",
		SecChUaPlatform:        `"Linux"`,
		SecChUaPlatformVersion: `"6.5.0"`,
	},
	{
		Name:                   "edge-120-windows",
		BrowserName:            "edge",
		BrowserVersion:         "120",
		UserAgent:              "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
		AcceptLanguage:         "en-US,en;q=0.9",
		AcceptEncoding:         "gzip, deflate, br",
		Accept:                 defaultAccept,
		Platform:               "windows",
		SecChUa:                `"Not_A Brand";v="8", "Chromium";v="120", "Microsoft Edge";v="120"`,
		SecChUaMobile:          "?0",
		SecChUaPlatform:        `"Windows"`,
		SecChUaPlatformVersion: `"15.0.0"`,
	},
}

// Pool hands out browser profiles, keeping a session pinned to one
// profile for its lifetime.
type Pool struct {
	profiles []Profile
}

// NewPool builds a profile pool over the built-in catalog.
func NewPool() *Pool {
	return &Pool{profiles: catalog}
}

// Size returns the number of profiles in the catalog.
func (p *Pool) Size() int {
	return len(p.profiles)
}

// ProfileFor deterministically maps a session id to a profile using
// FNV-1a. The same session id always yields the same profile, and the
// mapping needs no persisted state to stay stable across restarts.
func (p *Pool) ProfileFor(sessionID string) Profile {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	idx := int(h.Sum32()) % len(p.profiles)
	if idx < 0 {
		idx += len(p.profiles)
	}
	return p.profiles[idx]
}

// Random returns a uniformly random profile, for callers that don't need
// session affinity (e.g. a cold-start default before any session exists).
func (p *Pool) Random() Profile {
	return p.profiles[rand.Intn(len(p.profiles))]
}

// All returns the full catalog.
func (p *Pool) All() []Profile {
	out := make([]Profile, len(p.profiles))
	copy(out, p.profiles)
	return out
}

// Stats reports how many catalog entries exist per browser/platform
// combination, keyed as "<family>/<platform>".
func (p *Pool) Stats() map[string]int {
	out := make(map[string]int, len(p.profiles))
	for _, prof := range p.profiles {
		key := fmt.Sprintf("%s/%s", prof.BrowserName, prof.Platform)
		out[key]++
	}
	return out
}
