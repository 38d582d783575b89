// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/peerproxy/internal/refcore"
	"github.com/bureau-foundation/peerproxy/lib/config"
	"github.com/bureau-foundation/peerproxy/lib/version"
	"github.com/bureau-foundation/peerproxy/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath      string
		rosterPath      string
		socketPath      string
		webSocketListen string
		verbose         bool
		showVersion     bool
	)

	flagSet := pflag.NewFlagSet("peerproxy-core", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to peerproxy.yaml (default: $PEERPROXY_CONFIG)")
	flagSet.StringVar(&rosterPath, "roster", "", "JSONC roster of simulated instances (overrides core.roster)")
	flagSet.StringVar(&socketPath, "socket", "", "unix socket to listen on (overrides core.socket_path)")
	flagSet.StringVar(&webSocketListen, "websocket", "", "address to serve WebSocket front ends on (overrides core.websocket_listen)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("peerproxy-core")
		return nil
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if rosterPath != "" {
		cfg.Core.Roster = rosterPath
	}
	if socketPath != "" {
		cfg.Core.SocketPath = socketPath
	}
	if webSocketListen != "" {
		cfg.Core.WebSocketListen = webSocketListen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logging.NewLogger(verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if cfg.Core.Roster == "" {
		return fmt.Errorf("no roster configured; pass --roster or set core.roster")
	}
	roster, err := refcore.LoadRoster(cfg.Core.Roster)
	if err != nil {
		return err
	}

	listeners, err := openListeners(cfg.Core, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core := refcore.New(roster, refcore.Options{Logger: logger})
	logger.Info("reference core starting",
		"version", version.Current().Version,
		"roster", cfg.Core.Roster,
		"instances", len(roster.Instances),
	)
	err = core.Serve(ctx, listeners...)
	logger.Info("reference core stopped")
	return err
}

// openListeners opens the unix socket and, when configured, the
// WebSocket endpoint. On error every listener already opened is closed.
func openListeners(core config.CoreConfig, logger *slog.Logger) ([]transport.Listener, error) {
	unixListener, err := transport.NewNetListener("unix", core.SocketPath, transport.NetListenerOptions{
		AllowedUIDs: core.AllowedUIDs,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	listeners := []transport.Listener{unixListener}

	if core.WebSocketListen != "" {
		webSocketListener, err := transport.NewWebSocketListener(core.WebSocketListen, transport.WebSocketListenerOptions{
			AllowedOrigins: core.WebSocketAllowedOrigins,
			Logger:         logger,
		})
		if err != nil {
			unixListener.Close()
			return nil, err
		}
		listeners = append(listeners, webSocketListener)
	}
	return listeners, nil
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `peerproxy-core - Reference core for the peerproxy front end

USAGE
    peerproxy-core [flags]

FLAGS
%s
EXAMPLES
    # Serve the instances in roster.jsonc on the default socket
    peerproxy-core --roster roster.jsonc

    # Also accept WebSocket front ends
    peerproxy-core --roster roster.jsonc --websocket 127.0.0.1:8643
`, flagSet.FlagUsages())
}
