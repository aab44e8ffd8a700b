// Package config loads the downloader's proxy-rotation settings from the
// environment, with BRIGHTDATA_* variables carrying the upstream
// credentials and a handful of MAX_*/ROTATION_*/TIMEOUT variables tuning
// the rotation behavior.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"brdrotate/internal/proxyconfig"
	pkgconfig "brdrotate/pkg/config"
)

// Settings is everything OnRequest/OnResponse/OnException need beyond the
// upstream credentials themselves.
type Settings struct {
	UseProxies       bool          `yaml:"use_proxies"`
	MaxSessions      int           `yaml:"max_sessions"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RotationStrategy string        `yaml:"rotation_strategy"`
	BlacklistTTL     time.Duration `yaml:"blacklist_ttl"`
}

// DefaultSettings mirrors the proxy manager's documented defaults.
func DefaultSettings() Settings {
	return Settings{
		UseProxies:       false,
		MaxSessions:      10,
		RotationInterval: 5 * time.Minute,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RotationStrategy: "weighted",
		BlacklistTTL:     30 * time.Minute,
	}
}

// Config is the fully-resolved configuration: the upstream proxy endpoint
// (nil when the BRIGHTDATA_* credentials are absent or invalid; set
// whenever they are valid, even with USE_PROXIES off) plus the rotation
// settings.
type Config struct {
	Proxy    *proxyconfig.Config
	Settings Settings
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvString(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvDurationSeconds(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}

// Load builds a Config purely from environment variables. It never
// returns an error for a missing proxy configuration — USE_PROXIES=false
// (the default) is a perfectly valid, proxy-less configuration. An error
// is only returned when USE_PROXIES=true but the upstream credentials
// are incomplete or malformed.
func Load() (*Config, error) {
	settings := DefaultSettings()
	settings.UseProxies = getenvBool("USE_PROXIES", settings.UseProxies)
	settings.MaxSessions = getenvInt("MAX_SESSIONS", settings.MaxSessions)
	settings.RotationInterval = getenvDurationSeconds("ROTATION_INTERVAL", settings.RotationInterval)
	settings.Timeout = getenvDurationSeconds("TIMEOUT", settings.Timeout)
	settings.MaxRetries = getenvInt("MAX_RETRIES", settings.MaxRetries)
	if v := os.Getenv("ROTATION_STRATEGY"); v != "" {
		settings.RotationStrategy = v
	}

	cfg := &Config{Settings: settings}

	username := os.Getenv("BRIGHTDATA_USERNAME")
	password := os.Getenv("BRIGHTDATA_PASSWORD")
	endpoint := getenvString("BRIGHTDATA_ENDPOINT", "brd.superproxy.io")
	port := getenvInt("BRIGHTDATA_PORT", 33335)
	zone := getenvString("BRIGHTDATA_ZONE", "residential")
	country := getenvString("BRIGHTDATA_COUNTRY", "DE")

	if username == "" && password == "" {
		if settings.UseProxies {
			return nil, fmt.Errorf("config: USE_PROXIES is true but no BRIGHTDATA_* credentials are set")
		}
		return cfg, nil
	}

	proxy, err := proxyconfig.New(username, password, endpoint, port, zone, country)
	if err != nil {
		if settings.UseProxies {
			return nil, fmt.Errorf("config: %w", err)
		}
		return cfg, nil
	}
	cfg.Proxy = proxy
	return cfg, nil
}

// Enabled reports whether this configuration should actually route
// requests through the proxy: USE_PROXIES must be set and a valid
// upstream configuration must be present.
func (c *Config) Enabled() bool {
	return c.Settings.UseProxies && c.Proxy != nil
}

// ApplyOverlay merges a hot-reloaded YAML overlay into the settings.
// Zero fields in the overlay are treated as "not set" and leave the
// current value untouched, so a partial overlay file only tunes the
// fields it names.
func (c *Config) ApplyOverlay(o *pkgconfig.Overlay) {
	if o == nil {
		return
	}
	if o.MaxSessions != 0 {
		c.Settings.MaxSessions = o.MaxSessions
	}
	if o.RotationInterval != 0 {
		c.Settings.RotationInterval = time.Duration(o.RotationInterval) * time.Second
	}
	if o.Timeout != 0 {
		c.Settings.Timeout = time.Duration(o.Timeout) * time.Second
	}
	if o.MaxRetries != 0 {
		c.Settings.MaxRetries = o.MaxRetries
	}
	if o.RotationStrategy != "" {
		c.Settings.RotationStrategy = o.RotationStrategy
	}
	if o.BlacklistTTL != 0 {
		c.Settings.BlacklistTTL = time.Duration(o.BlacklistTTL) * time.Second
	}
}
