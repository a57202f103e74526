// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Nyanstream renders a looping colored ASCII cat animation and streams
// it to one or more consumers.
//
// Three modes, mutually exclusive:
//
//	nyanstream              render to the local terminal
//	nyanstream --telnet     serve telnet clients
//	nyanstream --http       serve a web page plus websocket clients
//
// All connected consumers share one animation clock, so every client
// sees the same moment of the loop regardless of transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nyanstream/nyanstream/lib/clock"
	"github.com/nyanstream/nyanstream/lib/config"
	"github.com/nyanstream/nyanstream/lib/version"
	"github.com/nyanstream/nyanstream/local"
	"github.com/nyanstream/nyanstream/stream"
	"github.com/nyanstream/nyanstream/telnet"
	"github.com/nyanstream/nyanstream/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		telnetMode  bool
		httpMode    bool
		noCounter   bool
		noClear     bool
		frames      uint64
		port        int
		tick        time.Duration
		configPath  string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("nyanstream", pflag.ContinueOnError)
	flagSet.BoolVarP(&telnetMode, "telnet", "t", false, "serve telnet clients")
	flagSet.BoolVarP(&httpMode, "http", "H", false, "serve HTTP and websocket clients")
	flagSet.BoolVarP(&noCounter, "no-counter", "n", false, "hide the elapsed counter")
	flagSet.BoolVarP(&noClear, "no-clear", "e", false, "do not clear the screen before frames")
	flagSet.Uint64VarP(&frames, "frames", "f", 0, "stop each session after this many frames (0 = unlimited)")
	flagSet.IntVarP(&port, "port", "p", 0, "listen port (overrides the configured address)")
	flagSet.DurationVar(&tick, "tick", 0, "animation tick interval (overrides the configured value)")
	flagSet.StringVar(&configPath, "config", "", "path to YAML config (default: $"+config.EnvVar+")")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("nyanstream")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if tick != 0 {
		if tick < 0 {
			return fmt.Errorf("invalid tick interval %s", tick)
		}
		cfg.TickInterval = config.Duration(tick)
	}

	logger := newLogger(logLevel, telnetMode || httpMode)

	// Interrupt and terminate request cooperative shutdown: the
	// clock stops, each adapter flushes and closes its connections.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := stream.NewManager(stream.Config{
		Clock:        clock.Real(),
		TickInterval: time.Duration(cfg.TickInterval),
		ShowCounter:  !noCounter,
		StopWhenIdle: !telnetMode && !httpMode,
		Logger:       logger,
	})

	switch {
	case telnetMode:
		server := telnet.NewServer(telnet.ServerConfig{
			Address:            overridePort(cfg.TelnetAddress, port),
			Manager:            manager,
			FrameLimit:         frames,
			NegotiationTimeout: time.Duration(cfg.NegotiationTimeout),
			WriteTimeout:       time.Duration(cfg.WriteTimeout),
			ClearScreen:        !noClear,
			Logger:             logger,
		})
		return serveWithManager(ctx, manager, server.Serve)

	case httpMode:
		server := web.NewServer(web.ServerConfig{
			Address:      overridePort(cfg.HTTPAddress, port),
			Manager:      manager,
			FrameLimit:   frames,
			WriteTimeout: time.Duration(cfg.WriteTimeout),
			Logger:       logger,
		})
		return serveWithManager(ctx, manager, server.Serve)

	default:
		return local.Run(ctx, local.Config{
			Manager:     manager,
			FrameLimit:  frames,
			ClearScreen: !noClear,
			Logger:      logger,
		})
	}
}

// serveWithManager runs the tick loop alongside a transport server and
// ties their lifetimes together: a fatal server error (failed bind)
// stops the clock, and shutdown waits for both.
func serveWithManager(ctx context.Context, manager *stream.Manager, serve func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	managerDone := make(chan error, 1)
	go func() { managerDone <- manager.Run(ctx) }()

	err := serve(ctx)
	cancel()
	<-managerDone
	return err
}

// newLogger builds the process logger. Local mode keeps the terminal
// clean by defaulting to warnings; server modes default to info.
func newLogger(level string, serverMode bool) *slog.Logger {
	fallback := slog.LevelWarn
	if serverMode {
		fallback = slog.LevelInfo
	}

	parsed := fallback
	if level != "" {
		if err := parsed.UnmarshalText([]byte(level)); err != nil {
			parsed = fallback
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parsed}))
}

// overridePort replaces the port of a host:port address when the
// --port flag is given.
func overridePort(address string, port int) string {
	if port == 0 {
		return address
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
