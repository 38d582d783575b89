// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/peerproxy/lib/clock"
	"github.com/bureau-foundation/peerproxy/wire"
)

// dispatcher owns correlation IDs and the pending-command table.
type dispatcher struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	next    uint64
	pending map[uint64]*pendingCommand
}

type pendingCommand struct {
	future *Future
	timer  *clock.Timer
}

func newDispatcher(clk clock.Clock, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		clock:   clk,
		logger:  logger,
		pending: make(map[uint64]*pendingCommand),
	}
}

// register allocates the next correlation ID and records a pending
// Future for it. A positive timeout arms a timer that settles the
// Future with ErrTimeout and forgets the ID.
func (d *dispatcher) register(command wire.CommandType, timeout time.Duration) *Future {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.next++
	id := d.next
	if _, exists := d.pending[id]; exists {
		panic(fmt.Sprintf("bridge: correlation id %d is already pending", id))
	}

	future := newFuture(id, command)
	entry := &pendingCommand{future: future}
	if timeout > 0 {
		entry.timer = d.clock.AfterFunc(timeout, func() {
			d.fail(id, &Error{
				Kind:    wire.ErrorTimeout,
				Command: command,
				Message: fmt.Sprintf("no response within %s", timeout),
			})
		})
	}
	d.pending[id] = entry
	return future
}

// take removes and returns the pending entry for id, stopping its
// timer.
func (d *dispatcher) take(id uint64) *pendingCommand {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

// resolve settles the Future matching response. Returns false if no
// command with that ID is pending.
func (d *dispatcher) resolve(response *wire.Response) bool {
	entry := d.take(response.ID)
	if entry == nil {
		d.logger.Debug("dropping response for unknown correlation id",
			"correlation_id", response.ID,
		)
		return false
	}
	if response.Error != nil {
		entry.future.settle(nil, errorFromResponse(entry.future.command, response.Error))
	} else {
		entry.future.settle(response.Result, nil)
	}
	return true
}

// fail settles the pending Future for id with err. A no-op if the ID is
// no longer pending.
func (d *dispatcher) fail(id uint64, err error) bool {
	entry := d.take(id)
	if entry == nil {
		return false
	}
	return entry.future.settle(nil, err)
}

// failAll settles every pending Future with a connection-lost error
// and returns how many there were.
func (d *dispatcher) failAll(message string) int {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[uint64]*pendingCommand)
	d.mu.Unlock()

	for _, entry := range pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.future.settle(nil, connectionLost(entry.future.command, message))
	}
	return len(pending)
}

func (d *dispatcher) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
