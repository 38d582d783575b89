// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/peerproxy/lib/clock"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/lib/netutil"
	"github.com/bureau-foundation/peerproxy/transport"
	"github.com/bureau-foundation/peerproxy/wire"
)

const (
	defaultMinBackoff       = 500 * time.Millisecond
	defaultMaxBackoff       = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// Options configures a Connector. Zero values select defaults.
type Options struct {
	// Clock drives request timeouts and reconnect backoff. Default:
	// clock.Real().
	Clock clock.Clock

	// Logger receives connection lifecycle events. Default:
	// slog.Default().
	Logger *slog.Logger

	// RequestTimeout bounds how long a command waits for its response.
	// Zero disables the timeout; connection loss still settles the
	// command.
	RequestTimeout time.Duration

	// MinBackoff and MaxBackoff bound the delay between reconnect
	// attempts. Default: 500ms and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// HandshakeTimeout bounds the wait for the core's hello. Default:
	// 10s.
	HandshakeTimeout time.Duration

	// Version is sent in the front end's hello.
	Version string
}

// Connector is the front end's connection to the core. Create with
// NewConnector and drive with Run.
type Connector struct {
	dialer     transport.Dialer
	options    Options
	clock      clock.Clock
	logger     *slog.Logger
	dispatcher *dispatcher
	router     *Router

	// sendMu serializes command registration and writes, and guards
	// conn and session.
	sendMu  sync.Mutex
	conn    transport.Conn
	session string

	connected     atomic.Bool
	coreVersion   atomic.Value // string
	onceConnected chan struct{}
	connectOnce   sync.Once
}

// NewConnector creates a Connector that reaches the core through
// dialer. Nothing is dialed until Run.
func NewConnector(dialer transport.Dialer, options Options) *Connector {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.MinBackoff <= 0 {
		options.MinBackoff = defaultMinBackoff
	}
	if options.MaxBackoff <= 0 {
		options.MaxBackoff = defaultMaxBackoff
	}
	if options.MaxBackoff < options.MinBackoff {
		options.MaxBackoff = options.MinBackoff
	}
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Connector{
		dialer:        dialer,
		options:       options,
		clock:         options.Clock,
		logger:        options.Logger,
		dispatcher:    newDispatcher(options.Clock, options.Logger),
		router:        NewRouter(options.Logger),
		onceConnected: make(chan struct{}),
	}
}

// OnceConnected is closed after the first successful handshake. It is
// never reopened: a later disconnect does not reset it.
func (c *Connector) OnceConnected() <-chan struct{} { return c.onceConnected }

// WaitConnected blocks until OnceConnected is closed or ctx is done.
func (c *Connector) WaitConnected(ctx context.Context) error {
	select {
	case <-c.onceConnected:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for first connection to core: %w", ctx.Err())
	}
}

// IsConnected reports whether a handshaken connection is live right
// now.
func (c *Connector) IsConnected() bool { return c.connected.Load() }

// CoreVersion returns the version the core reported in its most recent
// hello, or "" before the first handshake.
func (c *Connector) CoreVersion() string {
	version, _ := c.coreVersion.Load().(string)
	return version
}

// Router returns the update router. OnUpdate is shorthand for
// Router().Register.
func (c *Connector) Router() *Router { return c.router }

// OnUpdate registers handler for updateType.
func (c *Connector) OnUpdate(updateType wire.UpdateType, handler UpdateHandler) *Registration {
	return c.router.Register(updateType, handler)
}

// Send issues a command and returns its Future. payload is CBOR-encoded;
// nil sends no payload. If no connection is live, or ctx is already
// done, the Future is settled before Send returns.
func (c *Connector) Send(ctx context.Context, commandType wire.CommandType, payload any) *Future {
	if err := ctx.Err(); err != nil {
		return failedFuture(commandType, err)
	}
	encoded, err := codec.MarshalRaw(payload)
	if err != nil {
		return failedFuture(commandType, &Error{
			Kind:    wire.ErrorInvalidPayload,
			Command: commandType,
			Message: err.Error(),
		})
	}

	// sendMu is held from registration through the write. Commands
	// reach the wire in the order their correlation IDs were
	// allocated, which is the order Send was called, and the response
	// to a command can never arrive before its Future is registered.
	// Holding it also keeps the connection from being swapped by a
	// reconnect between the nil check and the write.
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.conn == nil {
		return failedFuture(commandType, connectionLost(commandType, "not connected to core"))
	}

	future := c.dispatcher.register(commandType, c.options.RequestTimeout)
	command := &wire.Command{ID: future.ID(), Type: commandType, Payload: encoded}
	if err := c.conn.Send(command); err != nil {
		c.logger.Warn("writing command failed",
			"command", commandType,
			"correlation_id", future.ID(),
			"session", c.session,
			"error", err,
		)
		c.dispatcher.fail(future.ID(), connectionLost(commandType, err.Error()))
		// The reader notices the close and tears down the session.
		c.conn.Close()
		return future
	}
	c.logger.Debug("command sent",
		"command", commandType,
		"correlation_id", future.ID(),
		"session", c.session,
	)
	return future
}

// Call sends a command and waits for its result, decoding it into
// result (which may be nil). If ctx ends first the command is
// abandoned: its Future settles with ctx's error and a late response
// is dropped.
func (c *Connector) Call(ctx context.Context, commandType wire.CommandType, payload, result any) error {
	future := c.Send(ctx, commandType, payload)
	select {
	case <-future.Done():
	case <-ctx.Done():
		c.dispatcher.fail(future.ID(), ctx.Err())
	}
	return future.Decode(context.Background(), result)
}

// Run connects to the core and keeps the connection up until ctx is
// done, then returns ctx's error. Commands pending when a connection
// drops are settled with ErrConnectionLost.
func (c *Connector) Run(ctx context.Context) error {
	backoff := c.options.MinBackoff
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, coreHello, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("connecting to core failed, retrying",
				"error", err,
				"backoff", backoff,
			)
			if !c.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, c.options.MaxBackoff)
			continue
		}
		backoff = c.options.MinBackoff

		c.serve(ctx, conn, coreHello)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.sleep(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func (c *Connector) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(d):
		return true
	}
}

// connect dials and performs the hello exchange.
func (c *Connector) connect(ctx context.Context) (transport.Conn, *wire.Hello, error) {
	conn, err := c.dialer.DialContext(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing core: %w", err)
	}

	session := uuid.NewString()
	if err := conn.Send(&wire.Hello{Role: wire.RoleFrontEnd, Version: c.options.Version, Session: session}); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("sending hello: %w", err)
	}

	// Receive has no deadline of its own; closing the connection is the
	// only way to interrupt it.
	timer := c.clock.AfterFunc(c.options.HandshakeTimeout, func() { conn.Close() })
	stopWatch := context.AfterFunc(ctx, func() { conn.Close() })
	message, err := conn.Receive()
	timedOut := !timer.Stop()
	stopWatch()
	if err != nil {
		conn.Close()
		if timedOut {
			return nil, nil, fmt.Errorf("core did not answer hello within %s", c.options.HandshakeTimeout)
		}
		return nil, nil, fmt.Errorf("waiting for core hello: %w", err)
	}

	hello, ok := message.(*wire.Hello)
	if !ok || hello.Role != wire.RoleCore {
		conn.Close()
		return nil, nil, fmt.Errorf("core opened with %T instead of a core hello", message)
	}
	if hello.Session == "" {
		hello.Session = session
	}
	return conn, hello, nil
}

// serve installs conn as the live connection and reads from it until
// it fails or ctx is done.
func (c *Connector) serve(ctx context.Context, conn transport.Conn, hello *wire.Hello) {
	c.sendMu.Lock()
	c.conn = conn
	c.session = hello.Session
	c.sendMu.Unlock()

	c.coreVersion.Store(hello.Version)
	c.connected.Store(true)
	c.connectOnce.Do(func() { close(c.onceConnected) })

	logger := c.logger.With("session", hello.Session)
	logger.Info("connected to core", "core_version", hello.Version)

	stopWatch := context.AfterFunc(ctx, func() { conn.Close() })
	err := c.readLoop(conn, logger)
	stopWatch()

	// Clear conn before failing pending commands: any Send that
	// registered before this point is covered by failAll, and any Send
	// after it sees no connection.
	c.sendMu.Lock()
	c.conn = nil
	c.session = ""
	c.sendMu.Unlock()
	c.connected.Store(false)
	conn.Close()

	failed := c.dispatcher.failAll("connection to core lost")
	switch {
	case ctx.Err() != nil:
		logger.Info("disconnected from core", "failed_commands", failed)
	case netutil.IsExpectedCloseError(err):
		logger.Warn("core closed the connection", "failed_commands", failed)
	default:
		logger.Warn("connection to core lost", "error", err, "failed_commands", failed)
	}
}

func (c *Connector) readLoop(conn transport.Conn, logger *slog.Logger) error {
	for {
		message, err := conn.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				logger.Warn("discarding malformed message from core", "error", err)
				continue
			}
			return err
		}

		switch m := message.(type) {
		case *wire.Response:
			c.dispatcher.resolve(m)
		case *wire.Update:
			c.router.Dispatch(m)
		default:
			logger.Warn("discarding unexpected message from core", "message_type", fmt.Sprintf("%T", message))
		}
	}
}
