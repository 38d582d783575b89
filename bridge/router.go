// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/peerproxy/wire"
)

// UpdateHandler handles one update. A returned error is logged; it
// does not stop later handlers.
type UpdateHandler func(update *wire.Update) error

// Registration is the handle returned by [Router.Register]. Close it
// to stop receiving updates.
type Registration struct {
	router     *Router
	updateType wire.UpdateType
	handler    UpdateHandler
	closeOnce  sync.Once
}

// Close unregisters the handler. Safe to call more than once.
func (r *Registration) Close() {
	r.closeOnce.Do(func() { r.router.unregister(r) })
}

// UpdateType returns the update type this registration listens for.
func (r *Registration) UpdateType() wire.UpdateType { return r.updateType }

// Router fans updates out to the handlers registered for their type.
type Router struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[wire.UpdateType][]*Registration
}

// NewRouter creates an empty router. A nil logger uses slog.Default().
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: make(map[wire.UpdateType][]*Registration),
	}
}

// Register appends handler to the list for updateType. Handlers run in
// registration order.
func (r *Router) Register(updateType wire.UpdateType, handler UpdateHandler) *Registration {
	registration := &Registration{router: r, updateType: updateType, handler: handler}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[updateType] = append(r.handlers[updateType], registration)
	return registration
}

// Unregister removes a registration. Equivalent to registration.Close().
func (r *Router) Unregister(registration *Registration) {
	registration.Close()
}

func (r *Router) unregister(registration *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handlers[registration.updateType]
	kept := make([]*Registration, 0, len(current))
	for _, existing := range current {
		if existing != registration {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(r.handlers, registration.updateType)
		return
	}
	r.handlers[registration.updateType] = kept
}

// HandlerCount returns the number of handlers registered for
// updateType.
func (r *Router) HandlerCount(updateType wire.UpdateType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[updateType])
}

// Dispatch invokes every handler registered for update.Type when the
// call starts. Registrations added or removed by a handler take effect
// from the next Dispatch. Returns the number of handlers invoked.
func (r *Router) Dispatch(update *wire.Update) int {
	r.mu.Lock()
	snapshot := r.handlers[update.Type]
	r.mu.Unlock()

	if len(snapshot) == 0 {
		r.logger.Debug("no handlers for update", "update_type", update.Type)
		return 0
	}
	for index, registration := range snapshot {
		if err := r.invoke(registration, update); err != nil {
			r.logger.Error("update handler failed",
				"update_type", update.Type,
				"handler_index", index,
				"error", err,
			)
		}
	}
	return len(snapshot)
}

func (r *Router) invoke(registration *Registration, update *wire.Update) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	return registration.handler(update)
}
