// SPDX-License-Identifier: GPL-3.0-or-later

// Command oncpvpn authenticates against a Juniper/Pulse Oncp gateway
// and runs the resulting ESP datapath session until cancelled.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bassosimone/oncp"
	"github.com/bassosimone/oncp/internal/authctl"
	"github.com/bassosimone/oncp/internal/cliprompt"
	"github.com/bassosimone/oncp/internal/config"
	"github.com/bassosimone/oncp/internal/esp"
	"github.com/bassosimone/oncp/internal/secretstore"
	"github.com/bassosimone/oncp/internal/tncc"
	"github.com/bassosimone/oncp/internal/token"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("oncpvpn", flag.ContinueOnError)
	filePath, overrides, err := config.ParseFlags(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(config.LoaderOptions{FilePath: filePath, Flags: overrides})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := oncp.NewCmdChannel(func(stats oncp.Stats) {
		logger.Info("stats",
			"bytes_in", stats.BytesIn, "bytes_out", stats.BytesOut,
			"packets_in", stats.PacketsIn, "packets_out", stats.PacketsOut,
			"reconnects", stats.Reconnects)
	})
	go watchSignals(ctx, cmd)

	if err := sessionLoop(ctx, cfg, cmd, logger); err != nil {
		logger.Error("session ended", "err", err)
		return 1
	}
	return 0
}

// watchSignals translates the process context's cancellation (from
// signal.NotifyContext) into a CmdCancel on cmd, so every
// CancellableIO-aware component in the session tree observes one
// consistent shutdown signal.
func watchSignals(ctx context.Context, cmd *oncp.CmdChannel) {
	<-ctx.Done()
	cmd.Send(context.Background(), oncp.CmdCancel, oncp.Stats{})
}

func sessionLoop(ctx context.Context, cfg *config.Config, cmd *oncp.CmdChannel, logger oncp.SLogger) error {
	gen, err := buildTokenGenerator(cfg)
	if err != nil {
		return err
	}

	session := esp.NewSession()
	session.Activate()

	connect := func(ctx context.Context) error {
		return authenticateAndEstablish(ctx, cfg, cmd, logger, gen, session)
	}

	return esp.Reconnect(ctx, cmd, connect, cfg.ReconnectInterval, cfg.ReconnectStep, cfg.ReconnectTimeout)
}

// authenticateAndEstablish drives one full login attempt and, on
// success, provisions the ESP session with freshly generated keys. A
// real gateway negotiates these keys as part of its CSTP/ESP header
// exchange; generating them locally here stands in for that exchange,
// which this client does not implement.
func authenticateAndEstablish(ctx context.Context, cfg *config.Config, cmd *oncp.CmdChannel, logger oncp.SLogger, gen token.Generator, session *esp.Session) error {
	oncpCfg := oncp.NewConfig()
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	transport := oncp.NewHttpsTransport(oncpCfg, cfg.Host, cfg.Port, tlsConfig, cmd, logger)
	defer transport.Close()
	transport.Resolver.DynDNS = cfg.DynDNS
	transport.Resolver.HasProxy = cfg.ProxyURL != ""

	var helper authctl.Tncc
	if cfg.TnccHelperPath != "" {
		helper = tncc.NewAgent(cfg.TnccHelperPath, cfg.Host, logger)
	}

	prompter := cliprompt.NewTerminal(cfg.Username, cfg.Realm)
	if secrets, err := secretstore.Open("oncpvpn"); err == nil {
		cached, found, findErr := secrets.Find(cfg.Host, cfg.Username)
		if findErr != nil {
			oncp.LogErr(logger, "secretstore lookup failed", findErr)
		}
		if !found {
			cached = ""
		}
		prompter.WithPasswordCache(cached, func(password string) {
			if err := secrets.Add(cfg.Host, cfg.Username, password); err != nil {
				oncp.LogErr(logger, "secretstore save failed", err)
			}
		})
	}
	controller := authctl.NewController(transport, prompter, helper, gen, logger)

	if _, err := controller.Run(ctx, "/"); err != nil {
		return err
	}
	logger.Info("authenticated", "host", cfg.Host)

	cipherKind, hmacKind := esp.CipherAES256, esp.HMACSHA1
	inSPI, inEnc, inHMAC, err := esp.RandomKeys(cipherKind, hmacKind)
	if err != nil {
		return err
	}
	outSPI, outEnc, outHMAC, err := esp.RandomKeys(cipherKind, hmacKind)
	if err != nil {
		return err
	}
	in, err := esp.NewDirection(inSPI, cipherKind, hmacKind, inEnc, inHMAC)
	if err != nil {
		return err
	}
	out, err := esp.NewDirection(outSPI, cipherKind, hmacKind, outEnc, outHMAC)
	if err != nil {
		return err
	}
	if err := session.SetKeys(in, out); err != nil {
		return err
	}
	session.Establish()
	logger.Info("esp session established", "state", session.State().String())
	return nil
}

func buildTokenGenerator(cfg *config.Config) (token.Generator, error) {
	switch cfg.TokenKind {
	case "":
		return nil, nil
	case "totp":
		return &token.TOTPGenerator{Secret: cfg.TokenSecret, TimeNow: time.Now}, nil
	case "hotp":
		return &token.HOTPGenerator{Secret: cfg.TokenSecret}, nil
	case "vendor":
		return nil, oncp.NewError(oncp.KindUnsupported, "buildTokenGenerator",
			fmt.Errorf("vendor token generators are not built into this client"))
	default:
		return nil, oncp.NewError(oncp.KindInvalidArg, "buildTokenGenerator",
			fmt.Errorf("unknown token kind %q", cfg.TokenKind))
	}
}

func newLogger(level string) *slog.Logger {
	var slevel slog.Level
	switch level {
	case "debug":
		slevel = slog.LevelDebug
	case "err":
		slevel = slog.LevelError
	default:
		slevel = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slevel})
	return slog.New(handler)
}
