// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/bureau-foundation/peerproxy/wire"
)

// Compile-time interface checks.
var (
	_ Conn     = (*memoryConn)(nil)
	_ Dialer   = (*memoryDialer)(nil)
	_ Listener = (*memoryListener)(nil)
)

// ErrRefused is returned by a MemoryNetwork dialer while refusing.
var ErrRefused = errors.New("transport: connection refused")

// pipeBuffer is how many messages one direction of a pipe holds before
// Send blocks.
const pipeBuffer = 256

// Pipe returns two connected in-process Conns. Messages pass through
// wire.Encode/Decode so shape validation matches the socket transports.
// Closing either end closes both.
func Pipe() (Conn, Conn) {
	aToB := make(chan wire.Envelope, pipeBuffer)
	bToA := make(chan wire.Envelope, pipeBuffer)
	shared := &pipeState{closed: make(chan struct{})}
	return &memoryConn{inbox: bToA, outbox: aToB, state: shared},
		&memoryConn{inbox: aToB, outbox: bToA, state: shared}
}

type pipeState struct {
	closed    chan struct{}
	closeOnce sync.Once
}

type memoryConn struct {
	inbox  <-chan wire.Envelope
	outbox chan<- wire.Envelope
	state  *pipeState

	sendMu sync.Mutex
}

func (c *memoryConn) Send(message wire.Message) error {
	envelope, err := wire.Encode(message)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.state.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.outbox <- envelope:
		return nil
	case <-c.state.closed:
		return io.ErrClosedPipe
	}
}

func (c *memoryConn) Receive() (wire.Message, error) {
	// Messages sent before Close are still delivered.
	select {
	case envelope := <-c.inbox:
		return decodeEnvelope(envelope)
	default:
	}
	select {
	case envelope := <-c.inbox:
		return decodeEnvelope(envelope)
	case <-c.state.closed:
		return nil, io.EOF
	}
}

func decodeEnvelope(envelope wire.Envelope) (wire.Message, error) {
	message, err := wire.Decode(envelope)
	if err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return message, nil
}

func (c *memoryConn) Close() error {
	c.state.closeOnce.Do(func() { close(c.state.closed) })
	return nil
}

// MemoryNetwork connects dialers to a listener in-process. The
// controls (SetRefusing, Sever) simulate a core that is down or a
// channel that drops.
type MemoryNetwork struct {
	mu       sync.Mutex
	refusing bool
	live     []Conn
	dials    int

	pending chan Conn
	closed  chan struct{}
	once    sync.Once
}

// NewMemoryNetwork returns a network with no live connections.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		pending: make(chan Conn),
		closed:  make(chan struct{}),
	}
}

// Dialer returns a Dialer whose connections arrive at Listener().
func (n *MemoryNetwork) Dialer() Dialer { return &memoryDialer{network: n} }

// Listener returns the network's single listener.
func (n *MemoryNetwork) Listener() Listener { return &memoryListener{network: n} }

// SetRefusing makes subsequent dials fail with ErrRefused.
func (n *MemoryNetwork) SetRefusing(refusing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refusing = refusing
}

// Sever closes every live connection and returns how many there were.
func (n *MemoryNetwork) Sever() int {
	n.mu.Lock()
	live := n.live
	n.live = nil
	n.mu.Unlock()

	for _, conn := range live {
		conn.Close()
	}
	return len(live)
}

// Dials returns how many dial attempts have been made, refused or not.
func (n *MemoryNetwork) Dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials
}

type memoryDialer struct {
	network *MemoryNetwork
}

func (d *memoryDialer) DialContext(ctx context.Context) (Conn, error) {
	n := d.network
	n.mu.Lock()
	n.dials++
	refusing := n.refusing
	n.mu.Unlock()
	if refusing {
		return nil, ErrRefused
	}

	local, remote := Pipe()
	select {
	case n.pending <- remote:
	case <-n.closed:
		return nil, ErrRefused
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	n.mu.Lock()
	n.live = append(n.live, local)
	n.mu.Unlock()
	return local, nil
}

type memoryListener struct {
	network *MemoryNetwork
}

func (l *memoryListener) Accept() (Conn, error) {
	select {
	case conn := <-l.network.pending:
		return conn, nil
	case <-l.network.closed:
		return nil, net.ErrClosed
	}
}

func (l *memoryListener) Address() string { return "memory" }

func (l *memoryListener) Close() error {
	l.network.once.Do(func() { close(l.network.closed) })
	return nil
}
