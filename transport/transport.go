// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"

	"github.com/bureau-foundation/peerproxy/wire"
)

// ErrMalformed wraps errors for messages that arrived complete but did
// not decode into a valid wire.Message.
var ErrMalformed = errors.New("transport: malformed message")

// Conn is one live channel between a front end and a core.
type Conn interface {
	// Send writes one message. Safe for concurrent use; messages are
	// written in the order Send calls acquire the connection.
	Send(message wire.Message) error

	// Receive blocks until the next message arrives. Errors wrapping
	// ErrMalformed leave the connection usable; any other error means
	// the connection is closed.
	Receive() (wire.Message, error)

	// Close tears down the connection and unblocks Receive.
	Close() error
}

// Dialer opens connections to one core.
type Dialer interface {
	// DialContext connects to the core. The returned Conn has not
	// exchanged a handshake yet.
	DialContext(ctx context.Context) (Conn, error)
}

// Listener accepts front-end connections on the core side.
type Listener interface {
	// Accept blocks until a front end connects or the listener is
	// closed, in which case it returns net.ErrClosed.
	Accept() (Conn, error)

	// Address returns a human-readable address for logs and for
	// configuring front ends.
	Address() string

	// Close stops accepting. Connections already returned by Accept
	// are not affected.
	Close() error
}
