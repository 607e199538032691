// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the oncpvpn session configuration from a TOML
// file overlaid by CLI flags, grounded on the same
// file-then-flags-then-validate shape used elsewhere in the retrieval
// pack for service configuration loading.
package config

import "time"

// Config is the fully resolved configuration for one VPN session.
type Config struct {
	// Host and Port address the gateway.
	Host string
	Port int

	// Realm preselects the frmLogin realm SELECT, if the gateway
	// presents one. AuthGroup is loaded from the file and flags, but
	// oncpvpn does not read it.
	Realm     string
	AuthGroup string

	Username string

	// ProxyURL, if set, marks the session as proxied, which affects
	// PeerResolver's sticky-reuse eligibility. No proxy dialer is
	// wired: the HTTPS transport still connects directly to the gateway.
	ProxyURL string

	// DynDNS mirrors the gateway's "dynamic DNS" advertisement; combined
	// with ProxyURL it decides whether PeerResolver reuses its sticky
	// peer address across reconnects.
	DynDNS bool

	// TnccHelperPath, if set, enables the TNCC endpoint-compliance
	// pre-auth handshake using the helper binary at this path.
	TnccHelperPath string

	// TokenKind selects a one-time-token generator for challenge forms:
	// "", "totp", "hotp", or "vendor". TokenSecret is the shared secret
	// for totp/hotp.
	TokenKind   string
	TokenSecret string

	// ReconnectInterval is the initial sleep between reconnect attempts;
	// ReconnectStep is added to it after every failed attempt, capped at
	// esp.ReconnectIntervalMax; ReconnectTimeout bounds total wall time
	// spent retrying.
	ReconnectInterval time.Duration
	ReconnectStep     time.Duration
	ReconnectTimeout  time.Duration

	// InsecureSkipVerify disables TLS certificate verification against
	// the gateway. Only meant for lab testing against a self-signed
	// gateway.
	InsecureSkipVerify bool

	// LogLevel is one of "debug", "info", "err".
	LogLevel string
}

// Default returns the baseline configuration applied before a TOML
// file or CLI flags are overlaid.
func Default() *Config {
	return &Config{
		Port:              443,
		ReconnectInterval: 1 * time.Second,
		ReconnectStep:     1 * time.Second,
		ReconnectTimeout:  5 * time.Minute,
		LogLevel:          "info",
	}
}
