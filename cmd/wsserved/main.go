// Command wsserved runs a standalone RFC 6455 WebSocket server. It wires
// up a [websocket.Listener] and drives the cooperative accept/cycle loop
// described in spec section 2 and section 5; the only application logic
// it adds is logging every lifecycle event, so it can serve as a smoke
// test and a reference driver for [websocket] embedders.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	intlog "github.com/wingbeat/wsserver/internal/logger"
	"github.com/wingbeat/wsserver/pkg/websocket"
)

const (
	defaultTickInterval = 40 * time.Millisecond // Spec section 5: "~40 ms" between ticks.
	defaultPingAfter    = 60 * time.Second      // Spec section 5: ping after 60s idle.
	defaultTimeoutAfter = 120 * time.Second     // Spec section 5: drop after 120s idle.
	pingSweepTicks      = 250                   // Run doPings roughly every few hundred ticks.
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "wsserved",
		Usage:   "server-side RFC 6455 WebSocket engine",
		Version: version(bi),
		Flags:   flags(configFile()),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func version(bi *debug.BuildInfo) string {
	if bi == nil {
		return ""
	}
	return bi.Main.Version
}

// configFile returns the path to an optional TOML config file, read from
// the WSSERVED_CONFIG_FILE environment variable. It's simply absent when
// unset: toml.TOML treats a missing/empty path as "no value from this
// source", which is fine alongside the env-var and flag-default sources
// already in the chain.
func configFile() altsrc.StringSourcer {
	return altsrc.StringSourcer(os.Getenv("WSSERVED_CONFIG_FILE"))
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := initLog(cmd.Bool("pretty-log"))
	ctx = intlog.InContext(ctx, logger)

	tlsCfg, err := loadTLSConfig(cmd.String("tls-cert-file"), cmd.String("tls-key-file"))
	if err != nil {
		return fmt.Errorf("loading TLS config: %w", err)
	}

	maxIn := uint64(cmd.Int("max-message-bytes")) //nolint:gosec // Validated non-negative by the flag.
	if maxIn == 0 {
		maxIn = ^uint64(0)
	}

	ln := websocket.NewListener(
		cmd.String("bind-address"),
		cmd.Int("port"),
		tlsCfg,
		cmd.StringSlice("subprotocol"),
		cmd.String("server-name"),
		maxIn,
		^uint64(0),
		logger,
	)

	obs := &loggingObserver{logger: logger}
	ln.Subscribe(obs)

	if err := ln.Open(); err != nil {
		return fmt.Errorf("opening listener: %w", err)
	}
	defer func() { _ = ln.Close() }()

	driveForever(ctx, ln, obs, cmd.Duration("tick-interval"), cmd.Duration("ping-after"), cmd.Duration("timeout-after"))
	return nil
}

// driveForever implements the cooperative driver loop from spec section 2
// and section 5: each tick, accept at most one new connection, cycle every
// tracked connection once, then (periodically) run doPings. It returns
// when ctx is canceled.
func driveForever(ctx context.Context, ln *websocket.Listener, obs *loggingObserver, tick, pingAfter, timeoutAfter time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c, err := ln.Accept(); err != nil {
			intlog.FromContext(ctx).Error().Err(err).Msg("accept failed")
		} else if c != nil {
			obs.track(c)
		}

		for _, c := range obs.snapshot() {
			c.Cycle()
			if c.GetReadyState() == websocket.StateClosed {
				obs.untrack(c)
			}
		}

		ticks++
		if ticks >= pingSweepTicks {
			ticks = 0
			doPings(obs, pingAfter, timeoutAfter)
		}
	}
}

// doPings implements spec section 5's keepalive pass: ping connections
// idle for pingAfter, and drop connections idle for timeoutAfter.
func doPings(obs *loggingObserver, pingAfter, timeoutAfter time.Duration) {
	for _, c := range obs.snapshot() {
		if c.GetReadyState() != websocket.StateOpen {
			continue
		}
		switch {
		case c.Idle(timeoutAfter):
			c.Disconnect(websocket.StatusGoingAway, "idle timeout")
		case c.Idle(pingAfter):
			c.Ping()
		}
	}
}

func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// initLog configures zerolog's global logger: JSON by default, or a
// human-readable console writer with --pretty-log for local development.
func initLog(pretty bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	logger := zerolog.New(w).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}
