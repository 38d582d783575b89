// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/wire"
)

// Compile-time interface checks.
var (
	_ Conn     = (*StreamConn)(nil)
	_ Dialer   = (*NetDialer)(nil)
	_ Listener = (*NetListener)(nil)
)

// writeTimeout bounds a single envelope write. A core that stops
// reading is treated as gone.
const writeTimeout = 10 * time.Second

// StreamConn carries CBOR envelopes over a byte stream.
type StreamConn struct {
	conn    net.Conn
	decoder *codec.Decoder

	writeMu sync.Mutex
	encoder *codec.Encoder
}

// NewStreamConn wraps an established net.Conn.
func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{
		conn:    conn,
		decoder: codec.NewDecoder(conn),
		encoder: codec.NewEncoder(conn),
	}
}

// Send encodes and writes one message.
func (c *StreamConn) Send(message wire.Message) error {
	envelope, err := wire.Encode(message)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.encoder.Encode(envelope); err != nil {
		return fmt.Errorf("writing envelope: %w", err)
	}
	return nil
}

// Receive reads and decodes the next message. A CBOR syntax error
// cannot be skipped on a stream, so it is returned as a fatal error;
// a well-formed envelope with an invalid shape wraps ErrMalformed.
func (c *StreamConn) Receive() (wire.Message, error) {
	var envelope wire.Envelope
	if err := c.decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("reading envelope: %w", err)
	}
	message, err := wire.Decode(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return message, nil
}

// Close closes the underlying connection.
func (c *StreamConn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the peer's address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// NetDialer connects to a core over a unix or TCP socket.
type NetDialer struct {
	// Network is "unix" or "tcp".
	Network string

	// Address is the socket path or host:port.
	Address string

	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// DialContext opens a stream connection to the core.
func (d *NetDialer) DialContext(ctx context.Context) (Conn, error) {
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, d.Network, d.Address)
	if err != nil {
		return nil, err
	}
	return NewStreamConn(conn), nil
}

// NetListener accepts front ends on a unix or TCP socket.
type NetListener struct {
	listener    net.Listener
	network     string
	socketPath  string
	allowedUIDs map[uint32]bool
	logger      *slog.Logger
}

// NetListenerOptions configures NewNetListener.
type NetListenerOptions struct {
	// AllowedUIDs lists the local users allowed to connect to a unix
	// socket. Empty allows only the current process's UID. Ignored for
	// TCP and on platforms without SO_PEERCRED.
	AllowedUIDs []uint32

	// Logger receives rejected-peer warnings. Nil uses slog.Default().
	Logger *slog.Logger
}

// NewNetListener listens on network/address. For unix sockets, any
// stale socket file is removed and the parent directory is created.
func NewNetListener(network, address string, options NetListenerOptions) (*NetListener, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &NetListener{
		network:     network,
		allowedUIDs: make(map[uint32]bool),
		logger:      logger,
	}
	if len(options.AllowedUIDs) == 0 {
		l.allowedUIDs[uint32(os.Getuid())] = true
	}
	for _, uid := range options.AllowedUIDs {
		l.allowedUIDs[uid] = true
	}

	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(address), 0o700); err != nil {
			return nil, fmt.Errorf("creating socket directory for %s: %w", address, err)
		}
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", address, err)
		}
		l.socketPath = address
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	l.listener = listener
	return l, nil
}

// Accept returns the next authorized front-end connection. Peers that
// fail the UID check are closed and skipped.
func (l *NetListener) Accept() (Conn, error) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.network != "unix" {
			return NewStreamConn(conn), nil
		}

		uid, err := peerUID(conn)
		if errors.Is(err, errPeerCredentialsUnsupported) {
			return NewStreamConn(conn), nil
		}
		if err != nil {
			l.logger.Warn("rejecting connection: reading peer credentials failed", "error", err)
			conn.Close()
			continue
		}
		if !l.allowedUIDs[uid] {
			l.logger.Warn("rejecting connection from unauthorized uid", "uid", uid)
			conn.Close()
			continue
		}
		return NewStreamConn(conn), nil
	}
}

// Address returns the listening address.
func (l *NetListener) Address() string {
	return l.listener.Addr().String()
}

// Close stops the listener and removes the unix socket file.
func (l *NetListener) Close() error {
	err := l.listener.Close()
	if l.socketPath != "" {
		os.Remove(l.socketPath)
	}
	return err
}
