// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coreapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/peerproxy/lib/clock"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/lib/netutil"
	"github.com/bureau-foundation/peerproxy/transport"
	"github.com/bureau-foundation/peerproxy/wire"
)

// HandlerFunc processes one command. The returned value, if non-nil,
// is CBOR-encoded as the response result.
type HandlerFunc func(ctx context.Context, payload codec.RawMessage) (any, error)

// ConnectHook runs once for each front end after the handshake and
// before its first command is read. send delivers an update to that
// front end only. Hooks must not call Publish or SessionCount.
type ConnectHook func(send func(updateType wire.UpdateType, payload any) error)

// helloTimeout is how long a new connection may take to send its
// hello.
const helloTimeout = 10 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	// Version is reported to every front end in the core's hello.
	Version string

	// Clock bounds how long a new connection may take to send its
	// hello. Default: clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Server serves the core side of the bridge protocol. Each front end
// gets its own goroutine, which performs the hello handshake and then
// reads commands and writes their responses until the connection ends.
// Updates go to every front end through Publish, from any goroutine.
//
// A Server holds no consent state of its own. The command handlers
// and connect hooks registered by the embedding core decide what each
// command does and what a new front end is told.
type Server struct {
	version   string
	handlers  map[wire.CommandType]HandlerFunc
	onConnect []ConnectHook
	clock     clock.Clock
	logger    *slog.Logger

	// mu guards sessions. It is also held across each handshake, which
	// orders a new session's greeting before any published update.
	mu       sync.Mutex
	sessions map[*session]struct{}

	// activeSessions tracks connection goroutines for shutdown.
	activeSessions sync.WaitGroup
}

type session struct {
	id   string
	conn transport.Conn
}

// NewServer creates a server. Register commands with Handle and hooks
// with OnConnect before calling Serve.
func NewServer(options ServerOptions) *Server {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Server{
		version:  options.Version,
		handlers: make(map[wire.CommandType]HandlerFunc),
		clock:    options.Clock,
		logger:   options.Logger,
		sessions: make(map[*session]struct{}),
	}
}

// Handle registers the handler for commandType. Panics if called twice
// for the same type.
func (s *Server) Handle(commandType wire.CommandType, handler HandlerFunc) {
	if _, exists := s.handlers[commandType]; exists {
		panic(fmt.Sprintf("coreapi.Server: duplicate handler for command %q", commandType))
	}
	s.handlers[commandType] = handler
}

// OnConnect adds a hook run for every new front end. Register hooks
// before calling Serve.
func (s *Server) OnConnect(hook ConnectHook) {
	s.onConnect = append(s.onConnect, hook)
}

// Serve accepts front ends on listener until ctx is cancelled, then
// closes the listener and every connection and waits for their
// goroutines to finish.
func (s *Server) Serve(ctx context.Context, listener transport.Listener) error {
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("core server listening", "address", listener.Address())

	var serveErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = fmt.Errorf("accepting front end: %w", err)
			}
			break
		}

		s.activeSessions.Add(1)
		go func() {
			defer s.activeSessions.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	listener.Close()
	s.closeSessions()
	s.activeSessions.Wait()
	return serveErr
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for session := range s.sessions {
		session.conn.Close()
	}
}

// SessionCount returns the number of handshaken front ends.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) handleConnection(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	current, hello, err := s.handshake(conn)
	if err != nil {
		s.logger.Warn("front end handshake failed", "error", err)
		return
	}
	defer func() {
		s.mu.Lock()
		delete(s.sessions, current)
		s.mu.Unlock()
	}()

	logger := s.logger.With("session", current.id)
	logger.Info("front end connected", "frontend_version", hello.Version)

	// Close the connection on shutdown so Receive returns.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		message, err := conn.Receive()
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				logger.Warn("discarding malformed message", "error", err)
				continue
			}
			if !netutil.IsExpectedCloseError(err) && ctx.Err() == nil {
				logger.Warn("front end connection failed", "error", err)
			} else {
				logger.Info("front end disconnected")
			}
			return
		}

		// Commands from one front end run one at a time, so responses
		// leave in the order the commands arrived. A slow handler
		// stalls only its own front end.
		command, ok := message.(*wire.Command)
		if !ok {
			logger.Warn("discarding unexpected message", "message_type", fmt.Sprintf("%T", message))
			continue
		}
		response := s.dispatch(ctx, logger, command)
		if err := conn.Send(response); err != nil {
			logger.Debug("writing response failed",
				"correlation_id", command.ID,
				"error", err,
			)
			return
		}
	}
}

// handshake waits for the front end's hello, answers it, runs the
// connect hooks, and registers the session. All of that happens under
// s.mu, so Publish never sends an update ahead of the hello or the
// hooks' updates.
func (s *Server) handshake(conn transport.Conn) (*session, *wire.Hello, error) {
	// Receive has no deadline of its own; closing the connection is
	// the only way to abandon a front end that never says hello.
	timer := s.clock.AfterFunc(helloTimeout, func() { conn.Close() })
	message, err := conn.Receive()
	timer.Stop()
	if err != nil {
		return nil, nil, fmt.Errorf("waiting for hello: %w", err)
	}
	hello, ok := message.(*wire.Hello)
	if !ok || hello.Role != wire.RoleFrontEnd {
		return nil, nil, fmt.Errorf("connection opened with %T instead of a front-end hello", message)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := conn.Send(&wire.Hello{Role: wire.RoleCore, Version: s.version, Session: hello.Session}); err != nil {
		return nil, nil, fmt.Errorf("sending hello: %w", err)
	}
	current := &session{id: hello.Session, conn: conn}
	s.sessions[current] = struct{}{}

	send := func(updateType wire.UpdateType, payload any) error {
		encoded, err := codec.MarshalRaw(payload)
		if err != nil {
			return fmt.Errorf("encoding %s update: %w", updateType, err)
		}
		return conn.Send(&wire.Update{Type: updateType, Payload: encoded})
	}
	for _, hook := range s.onConnect {
		hook(send)
	}
	return current, hello, nil
}

// dispatch runs the handler for command and builds its response.
func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, command *wire.Command) *wire.Response {
	response := &wire.Response{ID: command.ID}

	handler, exists := s.handlers[command.Type]
	if !exists {
		response.Error = &wire.ErrorInfo{
			Kind:    wire.ErrorUnknownCommand,
			Message: fmt.Sprintf("unknown command %q", command.Type),
		}
		return response
	}

	result, err := handler(ctx, command.Payload)
	if err != nil {
		logger.Debug("command failed",
			"command", command.Type,
			"correlation_id", command.ID,
			"error", err,
		)
		response.Error = errorInfo(err)
		return response
	}

	if result != nil {
		encoded, err := codec.MarshalRaw(result)
		if err != nil {
			response.Error = &wire.ErrorInfo{
				Kind:    wire.ErrorRemote,
				Message: fmt.Sprintf("internal: marshaling result: %v", err),
			}
			return response
		}
		response.Result = encoded
	}
	return response
}

// Publish sends an update to every connected front end and returns how
// many received it. A front end whose connection fails is
// disconnected.
//
// The writes happen outside s.mu, so a front end that stops reading
// delays this Publish until its transport gives up on the write, but
// never blocks new handshakes. Two concurrent Publish calls may reach
// different front ends in different orders; a core that needs a total
// order publishes from one goroutine.
func (s *Server) Publish(updateType wire.UpdateType, payload any) (int, error) {
	encoded, err := codec.MarshalRaw(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding %s update: %w", updateType, err)
	}
	update := &wire.Update{Type: updateType, Payload: encoded}

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	delivered := 0
	for _, session := range sessions {
		if err := session.conn.Send(update); err != nil {
			s.logger.Warn("publishing update failed",
				"session", session.id,
				"update_type", updateType,
				"error", err,
			)
			session.conn.Close()
			continue
		}
		delivered++
	}
	return delivered, nil
}
