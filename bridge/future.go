// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/wire"
)

// Future is the eventual outcome of one command. It settles exactly
// once; later settlement attempts are ignored.
//
// Several parties race to settle a Future: the reader goroutine with
// the core's response, the request timer, and the connector failing
// every pending command when the connection drops. Whichever comes
// first wins, and the losers' outcomes are dropped without error. A
// response that arrives after its timeout is therefore logged by the
// dispatcher as an unknown correlation ID instead of overwriting the
// timeout the caller already saw.
//
// The result stays encoded until a caller decodes it, because only the
// caller knows the concrete type the command returns.
type Future struct {
	id      uint64
	command wire.CommandType

	// once guards result and err, which are written only inside it.
	// Readers wait on done, whose close publishes both.
	once   sync.Once
	done   chan struct{}
	result codec.RawMessage
	err    error
}

func newFuture(id uint64, command wire.CommandType) *Future {
	return &Future{id: id, command: command, done: make(chan struct{})}
}

// failedFuture returns a Future already settled with err. Its ID is
// zero: the command never reached the wire. Send returns one instead of
// an error so callers have a single path for every outcome.
func failedFuture(command wire.CommandType, err error) *Future {
	future := newFuture(0, command)
	future.settle(nil, err)
	return future
}

// settle records the outcome. Returns false if the Future had already
// settled.
func (f *Future) settle(result codec.RawMessage, err error) bool {
	settled := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// ID returns the correlation ID, or zero if the command was never
// sent.
func (f *Future) ID() uint64 { return f.id }

// Command returns the command type this Future answers.
func (f *Future) Command() wire.CommandType { return f.command }

// Done is closed once the Future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the Future settles or ctx is done. Abandoning the
// wait does not cancel the command: the core may already be acting on
// it, and the protocol has no way to take a command back. The Future
// still settles later, and other waiters see that outcome.
func (f *Future) Wait(ctx context.Context) (codec.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s (correlation_id=%d): %w", f.command, f.id, ctx.Err())
	}
}

// Decode waits for the Future and decodes a successful result into v.
// A nil v or an empty result skips decoding.
func (f *Future) Decode(ctx context.Context, v any) error {
	result, err := f.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil || len(result) == 0 {
		return nil
	}
	if err := codec.Unmarshal(result, v); err != nil {
		return fmt.Errorf("decoding %s result: %w", f.command, err)
	}
	return nil
}

// Err returns the settlement error, or nil if the Future succeeded or
// has not settled yet.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
