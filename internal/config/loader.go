// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bassosimone/oncp"
)

// fileConfig mirrors Config but with pointer fields, so that decoding
// an absent TOML file leaves every field nil and overlayFile can tell
// "set in the file" apart from "zero value".
type fileConfig struct {
	Host               *string `toml:"host"`
	Port               *int    `toml:"port"`
	Realm              *string `toml:"realm"`
	AuthGroup          *string `toml:"auth_group"`
	Username           *string `toml:"username"`
	ProxyURL           *string `toml:"proxy_url"`
	DynDNS             *bool   `toml:"dyndns"`
	TnccHelperPath     *string `toml:"tncc_helper_path"`
	TokenKind          *string `toml:"token_kind"`
	TokenSecret        *string `toml:"token_secret"`
	ReconnectInterval  *string `toml:"reconnect_interval"`
	ReconnectStep      *string `toml:"reconnect_step"`
	ReconnectTimeout   *string `toml:"reconnect_timeout"`
	InsecureSkipVerify *bool   `toml:"insecure_skip_verify"`
	LogLevel           *string `toml:"log_level"`
}

// FlagOverrides holds CLI flag values that, when set, take precedence
// over both the built-in default and the TOML file. A nil pointer
// means "flag not passed".
type FlagOverrides struct {
	Host               *string
	Port               *int
	Realm              *string
	AuthGroup          *string
	Username           *string
	ProxyURL           *string
	DynDNS             *bool
	TnccHelperPath     *string
	TokenKind          *string
	TokenSecret        *string
	InsecureSkipVerify *bool
	LogLevel           *string
}

// LoaderOptions controls one Load call.
type LoaderOptions struct {
	// FilePath is the optional TOML config file path. An empty path or
	// a missing file is not an error: Load falls back to defaults.
	FilePath string

	// Flags carries CLI overrides, applied after the file.
	Flags FlagOverrides
}

// Load resolves a [*Config] from built-in defaults, an optional TOML
// file, and CLI flag overrides, in that precedence order, then
// validates the result.
func Load(opts LoaderOptions) (*Config, error) {
	cfg := Default()

	if opts.FilePath != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(opts.FilePath, &fc); err != nil {
			if !os.IsNotExist(err) {
				return nil, oncp.NewError(oncp.KindInvalidArg, "config.Load", err)
			}
		} else {
			if err := overlayFile(cfg, &fc); err != nil {
				return nil, err
			}
		}
	}

	overlayFlags(cfg, &opts.Flags)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseFlags registers the oncpvpn flag set on fs and returns the
// resulting FlagOverrides alongside the resolved config file path.
// Passing a *flag.FlagSet rather than using flag.CommandLine directly
// keeps Load testable without mutating global flag state.
func ParseFlags(fs *flag.FlagSet, args []string) (filePath string, overrides FlagOverrides, err error) {
	fs.StringVar(&filePath, "config", "", "path to TOML config file")

	host := fs.String("host", "", "gateway hostname")
	port := fs.Int("port", 0, "gateway port (0 = unset)")
	realm := fs.String("realm", "", "authentication realm")
	authGroup := fs.String("group", "", "authentication group")
	username := fs.String("username", "", "login username")
	proxyURL := fs.String("proxy", "", "HTTP CONNECT proxy URL")
	dynDNS := fs.Bool("dyndns", false, "gateway advertises dynamic DNS")
	tnccHelper := fs.String("tncc-helper", "", "path to TNCC helper binary")
	tokenKind := fs.String("token-kind", "", "one-time token generator: totp, hotp, vendor")
	tokenSecret := fs.String("token-secret", "", "one-time token shared secret")
	insecure := fs.Bool("insecure", false, "skip TLS certificate verification")
	logLevel := fs.String("log-level", "", "debug, info, or err")

	if err := fs.Parse(args); err != nil {
		return "", FlagOverrides{}, oncp.NewError(oncp.KindInvalidArg, "config.ParseFlags", err)
	}

	overrides = FlagOverrides{}
	setIfFlagged(fs, "host", host, &overrides.Host)
	setIfFlagged(fs, "port", port, &overrides.Port)
	setIfFlagged(fs, "realm", realm, &overrides.Realm)
	setIfFlagged(fs, "group", authGroup, &overrides.AuthGroup)
	setIfFlagged(fs, "username", username, &overrides.Username)
	setIfFlagged(fs, "proxy", proxyURL, &overrides.ProxyURL)
	setIfFlagged(fs, "dyndns", dynDNS, &overrides.DynDNS)
	setIfFlagged(fs, "tncc-helper", tnccHelper, &overrides.TnccHelperPath)
	setIfFlagged(fs, "token-kind", tokenKind, &overrides.TokenKind)
	setIfFlagged(fs, "token-secret", tokenSecret, &overrides.TokenSecret)
	setIfFlagged(fs, "insecure", insecure, &overrides.InsecureSkipVerify)
	setIfFlagged(fs, "log-level", logLevel, &overrides.LogLevel)
	return filePath, overrides, nil
}

// setIfFlagged copies *value into *dest only when name was explicitly
// passed on the command line, so an unset flag never clobbers a value
// the TOML file already supplied.
func setIfFlagged[T any](fs *flag.FlagSet, name string, value *T, dest **T) {
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			*dest = value
		}
	})
}

func overlayFile(cfg *Config, fc *fileConfig) error {
	if fc.Host != nil {
		cfg.Host = *fc.Host
	}
	if fc.Port != nil {
		cfg.Port = *fc.Port
	}
	if fc.Realm != nil {
		cfg.Realm = *fc.Realm
	}
	if fc.AuthGroup != nil {
		cfg.AuthGroup = *fc.AuthGroup
	}
	if fc.Username != nil {
		cfg.Username = *fc.Username
	}
	if fc.ProxyURL != nil {
		cfg.ProxyURL = *fc.ProxyURL
	}
	if fc.DynDNS != nil {
		cfg.DynDNS = *fc.DynDNS
	}
	if fc.TnccHelperPath != nil {
		cfg.TnccHelperPath = *fc.TnccHelperPath
	}
	if fc.TokenKind != nil {
		cfg.TokenKind = *fc.TokenKind
	}
	if fc.TokenSecret != nil {
		cfg.TokenSecret = *fc.TokenSecret
	}
	if fc.InsecureSkipVerify != nil {
		cfg.InsecureSkipVerify = *fc.InsecureSkipVerify
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	var err error
	if cfg.ReconnectInterval, err = overlayDuration(fc.ReconnectInterval, cfg.ReconnectInterval); err != nil {
		return err
	}
	if cfg.ReconnectStep, err = overlayDuration(fc.ReconnectStep, cfg.ReconnectStep); err != nil {
		return err
	}
	if cfg.ReconnectTimeout, err = overlayDuration(fc.ReconnectTimeout, cfg.ReconnectTimeout); err != nil {
		return err
	}
	return nil
}

func overlayDuration(raw *string, fallback time.Duration) (time.Duration, error) {
	if raw == nil {
		return fallback, nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return 0, oncp.NewError(oncp.KindInvalidArg, "config.overlayDuration", err)
	}
	return d, nil
}

func overlayFlags(cfg *Config, f *FlagOverrides) {
	if f.Host != nil {
		cfg.Host = *f.Host
	}
	if f.Port != nil {
		cfg.Port = *f.Port
	}
	if f.Realm != nil {
		cfg.Realm = *f.Realm
	}
	if f.AuthGroup != nil {
		cfg.AuthGroup = *f.AuthGroup
	}
	if f.Username != nil {
		cfg.Username = *f.Username
	}
	if f.ProxyURL != nil {
		cfg.ProxyURL = *f.ProxyURL
	}
	if f.DynDNS != nil {
		cfg.DynDNS = *f.DynDNS
	}
	if f.TnccHelperPath != nil {
		cfg.TnccHelperPath = *f.TnccHelperPath
	}
	if f.TokenKind != nil {
		cfg.TokenKind = *f.TokenKind
	}
	if f.TokenSecret != nil {
		cfg.TokenSecret = *f.TokenSecret
	}
	if f.InsecureSkipVerify != nil {
		cfg.InsecureSkipVerify = *f.InsecureSkipVerify
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
}

func validate(cfg *Config) error {
	if cfg.Host == "" {
		return oncp.NewError(oncp.KindInvalidArg, "config.validate", fmt.Errorf("host is required"))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return oncp.NewError(oncp.KindInvalidArg, "config.validate", fmt.Errorf("port %d out of range", cfg.Port))
	}
	switch cfg.TokenKind {
	case "", "totp", "hotp", "vendor":
	default:
		return oncp.NewError(oncp.KindInvalidArg, "config.validate", fmt.Errorf("unknown token kind %q", cfg.TokenKind))
	}
	if (cfg.TokenKind == "totp" || cfg.TokenKind == "hotp") && cfg.TokenSecret == "" {
		return oncp.NewError(oncp.KindInvalidArg, "config.validate", fmt.Errorf("token kind %q requires a token secret", cfg.TokenKind))
	}
	switch cfg.LogLevel {
	case "debug", "info", "err":
	default:
		return oncp.NewError(oncp.KindInvalidArg, "config.validate", fmt.Errorf("unknown log level %q", cfg.LogLevel))
	}
	return nil
}
