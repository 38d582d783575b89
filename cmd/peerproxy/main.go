// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/peerproxy/background"
	"github.com/bureau-foundation/peerproxy/bridge"
	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/lib/config"
	"github.com/bureau-foundation/peerproxy/lib/version"
	"github.com/bureau-foundation/peerproxy/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// command is one peerproxy subcommand.
type command struct {
	name    string
	args    string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []*command{
	{name: "version", summary: "Print the CLI and core versions", run: runVersion},
	{name: "start", args: "<path>", summary: "Start getting access through an instance", run: runStart},
	{name: "stop", summary: "Stop the active getter session", run: runStop},
	{name: "consent", args: "<path> <action>", summary: "Change local consent toward an instance", run: runConsent},
	{name: "watch", summary: "Print core updates and derived consent until interrupted", run: runWatch},
}

// environment carries what every subcommand needs once flags and
// configuration are resolved.
type environment struct {
	config *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func run(args []string) error {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("peerproxy", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", "", "path to peerproxy.yaml (default: $PEERPROXY_CONFIG)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("peerproxy")
		return nil
	}

	remaining := flagSet.Args()
	if len(remaining) == 0 {
		printUsage(flagSet)
		return errors.New("subcommand required")
	}
	selected := findCommand(remaining[0])
	if selected == nil {
		return fmt.Errorf("unknown command %q\n\nRun 'peerproxy --help' for usage.", remaining[0])
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.Logging.NewLogger(verbose)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	env := &environment{config: cfg, logger: logger, stdout: os.Stdout, stderr: os.Stderr}
	return selected.run(ctx, env, remaining[1:])
}

func findCommand(name string) *command {
	for _, candidate := range commands {
		if candidate.name == name {
			return candidate
		}
	}
	return nil
}

// dialer returns the transport.Dialer for the configured transport.
func (e *environment) dialer() transport.Dialer {
	if e.config.Core.Transport == config.TransportWebSocket {
		return &transport.WebSocketDialer{URL: e.config.Core.WebSocketURL}
	}
	return &transport.NetDialer{Network: "unix", Address: e.config.Core.SocketPath}
}

// newConnector builds a connector from the connector section of the
// configuration. The caller runs it.
func (e *environment) newConnector() (*bridge.Connector, error) {
	requestTimeout, err := e.config.Connector.RequestTimeoutDuration()
	if err != nil {
		return nil, err
	}
	minBackoff, maxBackoff, err := e.config.Connector.BackoffRange()
	if err != nil {
		return nil, err
	}
	return bridge.NewConnector(e.dialer(), bridge.Options{
		Logger:         e.logger,
		RequestTimeout: requestTimeout,
		MinBackoff:     minBackoff,
		MaxBackoff:     maxBackoff,
		Version:        version.Current().Version,
	}), nil
}

// newFrontEnd wires a background.Context around a new connector that
// reports to the terminal. The caller runs the connector.
func (e *environment) newFrontEnd() (*background.Context, error) {
	connector, err := e.newConnector()
	if err != nil {
		return nil, err
	}
	return background.New(background.Config{
		Connector:     connector,
		Host:          terminalHost{out: e.stdout},
		Authenticator: terminalAuthenticator{},
		Notifier: consent.NotifierFunc(func(message string) {
			fmt.Fprintf(e.stderr, "notice: %s\n", message)
		}),
		Logger: e.logger,
	})
}

// attach runs a front end until ctx is done and waits until the core's
// greeting has been applied to its consent table. The returned function
// closes the front end and waits for the connector to exit.
func (e *environment) attach(ctx context.Context) (*background.Context, func(), error) {
	frontEnd, err := e.newFrontEnd()
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		frontEnd.Connector.Run(ctx)
	}()
	shutdown := func() {
		cancel()
		<-done
		frontEnd.Close()
	}

	if err := waitConnected(ctx, frontEnd.Connector, e.config); err != nil {
		shutdown()
		return nil, nil, err
	}
	// The core sends its records right after the handshake, ahead of
	// any response, and updates are handled in arrival order. Once a
	// round trip completes the table holds them.
	if _, err := frontEnd.Core.GetVersion(ctx); err != nil {
		shutdown()
		return nil, nil, fmt.Errorf("syncing with core: %w", err)
	}
	return frontEnd, shutdown, nil
}

// waitConnected bounds the first connection by the request timeout so
// a one-shot command does not retry forever against a missing core.
func waitConnected(ctx context.Context, connector *bridge.Connector, cfg *config.Config) error {
	timeout, err := cfg.Connector.RequestTimeoutDuration()
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := connector.WaitConnected(ctx); err != nil {
		return fmt.Errorf("connecting to core (%s transport): %w", cfg.Core.Transport, err)
	}
	return nil
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `peerproxy - Command-line front end for a peerproxy core

USAGE
    peerproxy [flags] <command> [args]

COMMANDS
`)
	writer := tabwriter.NewWriter(os.Stderr, 0, 0, 2, ' ', 0)
	for _, entry := range commands {
		fmt.Fprintf(writer, "    %s %s\t%s\n", entry.name, entry.args, entry.summary)
	}
	writer.Flush()
	fmt.Fprintf(os.Stderr, `
FLAGS
%s
CONSENT ACTIONS
    %s

EXAMPLES
    # Ask alice's laptop for access, then use it
    peerproxy consent social/me/alice/laptop request
    peerproxy start social/me/alice/laptop

    # Follow what the core reports
    peerproxy watch
`, flagSet.FlagUsages(), actionList())
}
