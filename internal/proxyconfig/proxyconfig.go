// Package proxyconfig describes the upstream residential proxy endpoint
// and builds per-session proxy URLs against it.
package proxyconfig

import (
	"errors"
	"fmt"
	"net/url"
)

// Config holds the credentials and endpoint for a single upstream proxy
// provider (zone-based residential proxy, BrightData-style).
type Config struct {
	Username string
	Password string
	Endpoint string
	Port     int
	Zone     string
	Country  string
}

// New validates and builds a Config. All six fields are required —
// failing construction is the one fatal configuration error this package
// raises. Callers that want a provider default for zone/country (e.g.
// BrightData's "residential"/"DE") must supply it themselves; this
// package never substitutes one silently.
func New(username, password, endpoint string, port int, zone, country string) (*Config, error) {
	if username == "" || password == "" || endpoint == "" || zone == "" || country == "" {
		return nil, errors.New("proxyconfig: username, password, endpoint, zone and country are all required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("proxyconfig: invalid port %d", port)
	}
	return &Config{
		Username: username,
		Password: password,
		Endpoint: endpoint,
		Port:     port,
		Zone:     zone,
		Country:  country,
	}, nil
}

// sessionUsername embeds the zone, country and session id in the proxy username,
// following the zone-proxy convention of suffixing the customer username
// with routing directives the upstream parses out.
func (c *Config) sessionUsername(sessionID string) string {
	u := c.Username
	if c.Zone != "" {
		u = fmt.Sprintf("%s-zone-%s", u, c.Zone)
	}
	if c.Country != "" {
		u = fmt.Sprintf("%s-country-%s", u, c.Country)
	}
	if sessionID != "" {
		u = fmt.Sprintf("%s-session-%s", u, sessionID)
	}
	return u
}

// ProxyURL builds the authenticated proxy URL a transport should dial for
// the given session id. An empty sessionID yields a session-less URL.
func (c *Config) ProxyURL(sessionID string) *url.URL {
	return &url.URL{
		Scheme: "http",
		User:   url.UserPassword(c.sessionUsername(sessionID), c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Endpoint, c.Port),
	}
}

// Stats is a snapshot of the configuration suitable for status endpoints.
// It deliberately omits the password.
type Stats struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Port     int    `json:"port"`
	Zone     string `json:"zone,omitempty"`
	Country  string `json:"country"`
}

// Describe returns a redacted snapshot of the configuration.
func (c *Config) Describe() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Enabled:  true,
		Endpoint: c.Endpoint,
		Port:     c.Port,
		Zone:     c.Zone,
		Country:  c.Country,
	}
}
