// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/peerproxy/wire"
)

// Compile-time interface checks.
var (
	_ Conn     = (*WebSocketConn)(nil)
	_ Dialer   = (*WebSocketDialer)(nil)
	_ Listener = (*WebSocketListener)(nil)
)

// maxWebSocketMessage bounds a single inbound envelope.
const maxWebSocketMessage = 1024 * 1024

// WebSocketConn carries one CBOR envelope per binary message.
type WebSocketConn struct {
	conn *websocket.Conn

	// writeMu serializes data frames. gorilla permits one concurrent
	// writer, and the connector and server both send from several
	// goroutines.
	writeMu sync.Mutex
}

func newWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	conn.SetReadLimit(maxWebSocketMessage)
	return &WebSocketConn{conn: conn}
}

// Send writes one message as a binary frame.
func (c *WebSocketConn) Send(message wire.Message) error {
	data, err := wire.MarshalMessage(message)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("writing websocket message: %w", err)
	}
	return nil
}

// Receive reads the next frame. Frames are self-contained, so a frame
// that fails to decode is reported as ErrMalformed and the connection
// stays usable.
func (c *WebSocketConn) Receive() (wire.Message, error) {
	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, normalizeWebSocketError(err)
	}
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", ErrMalformed, messageType)
	}
	message, err := wire.UnmarshalMessage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return message, nil
}

// Close sends a normal-closure frame and closes the connection. It
// does not wait for writeMu: gorilla allows WriteControl alongside
// other writers, and Close must be able to interrupt a Send stuck on a
// slow peer.
func (c *WebSocketConn) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// normalizeWebSocketError maps orderly closes to net.ErrClosed so
// callers can treat every transport's shutdown the same way.
func normalizeWebSocketError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("websocket closed: %w", net.ErrClosed)
	}
	return err
}

// WebSocketDialer connects to a core's WebSocket endpoint.
type WebSocketDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Header is sent with the upgrade request (e.g. Origin).
	Header http.Header

	// HandshakeTimeout bounds the HTTP upgrade. Zero uses 10 seconds.
	HandshakeTimeout time.Duration
}

// DialContext performs the WebSocket upgrade.
func (d *WebSocketDialer) DialContext(ctx context.Context) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, response, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("websocket upgrade to %s: %s: %w", d.URL, response.Status, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", d.URL, err)
	}
	return newWebSocketConn(conn), nil
}

// WebSocketListener serves WebSocket upgrades on a TCP address and
// hands each upgraded connection to Accept.
type WebSocketListener struct {
	listener net.Listener
	server   *http.Server
	path     string
	upgrader websocket.Upgrader
	logger   *slog.Logger

	accepted  chan Conn
	closed    chan struct{}
	closeOnce sync.Once
}

// WebSocketListenerOptions configures NewWebSocketListener.
type WebSocketListenerOptions struct {
	// Path is the HTTP path serving upgrades. Default: /core.
	Path string

	// AllowedOrigins lists Origin header values accepted in addition
	// to same-origin requests. Browser extension front ends connect
	// with their extension origin.
	AllowedOrigins []string

	// Logger receives upgrade failures. Nil uses slog.Default().
	Logger *slog.Logger
}

// NewWebSocketListener binds address and starts serving upgrades in
// the background.
func NewWebSocketListener(address string, options WebSocketListenerOptions) (*WebSocketListener, error) {
	path := options.Path
	if path == "" {
		path = "/core"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}

	l := &WebSocketListener{
		listener: listener,
		path:     path,
		logger:   logger,
		accepted: make(chan Conn),
		closed:   make(chan struct{}),
	}
	l.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(options.AllowedOrigins),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := l.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("websocket listener stopped", "error", err)
		}
	}()
	return l, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	allowedSet := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		allowedSet[origin] = true
	}
	return func(request *http.Request) bool {
		origin := request.Header.Get("Origin")
		if origin == "" || allowedSet[origin] {
			return true
		}
		// Same-origin requests: Origin host matches Host.
		return origin == "http://"+request.Host || origin == "https://"+request.Host
	}
}

func (l *WebSocketListener) handleUpgrade(writer http.ResponseWriter, request *http.Request) {
	conn, err := l.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		l.logger.Debug("websocket upgrade failed",
			"remote_addr", request.RemoteAddr,
			"error", err,
		)
		return
	}

	select {
	case l.accepted <- newWebSocketConn(conn):
	case <-l.closed:
		conn.Close()
	}
}

// Accept returns the next upgraded connection.
func (l *WebSocketListener) Accept() (Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Address returns the ws:// URL front ends should dial.
func (l *WebSocketListener) Address() string {
	return "ws://" + l.listener.Addr().String() + l.path
}

// Close stops serving upgrades.
func (l *WebSocketListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.server.Close()
	})
	return err
}
