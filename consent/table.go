// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Core is the part of the core's command surface the table drives.
type Core interface {
	Start(ctx context.Context, path Path) (Endpoint, error)
	Stop(ctx context.Context) error
	ModifyConsent(ctx context.Context, path Path, action Action) error
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(message string)

// Notify calls f(message).
func (f NotifierFunc) Notify(message string) { f(message) }

// Entry is a snapshot of one instance's consent state.
type Entry struct {
	Path   Path
	Name   string
	Record Record

	// Endpoint is set while Record.Getting is true.
	Endpoint Endpoint
}

// TableOptions configures NewTable.
type TableOptions struct {
	// Notifier receives user-visible failures. Nil discards them.
	Notifier Notifier

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Table holds the consent records for every known remote instance.
type Table struct {
	core     Core
	ready    <-chan struct{}
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[Path]*Entry
	// starting is the path of a start command in flight.
	starting *Path
	// background tracks commands sent on behalf of update handlers.
	background sync.WaitGroup
}

// NewTable creates an empty table. Operations that talk to the core
// first wait for ready to be closed (the connector's OnceConnected).
func NewTable(core Core, ready <-chan struct{}, options TableOptions) *Table {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := options.Notifier
	if notifier == nil {
		notifier = NotifierFunc(func(string) {})
	}
	return &Table{
		core:     core,
		ready:    ready,
		notifier: notifier,
		logger:   logger,
		entries:  make(map[Path]*Entry),
	}
}

func (t *Table) waitReady(ctx context.Context) error {
	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for core connection: %w", ctx.Err())
	}
}

// entryLocked returns the entry for path, creating it if needed.
// Caller must hold t.mu.
func (t *Table) entryLocked(path Path) *Entry {
	entry, ok := t.entries[path]
	if !ok {
		entry = &Entry{Path: path, Name: path.UserID}
		t.entries[path] = entry
	}
	return entry
}

// gettingLocked returns the entry with an active getter session, or
// nil. Caller must hold t.mu.
func (t *Table) gettingLocked() *Entry {
	for _, entry := range t.entries {
		if entry.Record.Getting {
			return entry
		}
	}
	return nil
}

// Do applies a user action to the record for path and sends it to the
// core. The local change is visible before Do returns; if the core
// rejects it and the record has not changed since, it is undone.
//
// Do waits for the core connection first, bounded by ctx.
func (t *Table) Do(ctx context.Context, path Path, action Action) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if err := t.waitReady(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	entry := t.entryLocked(path)
	previous := entry.Record
	next, err := previous.Apply(action)
	if err != nil {
		t.mu.Unlock()
		err.(*PreconditionError).Path = path
		return err
	}
	entry.Record = next
	stopGetting := previous.Getting && !next.Getting
	if stopGetting {
		entry.Endpoint = Endpoint{}
	}
	t.mu.Unlock()

	t.logger.Info("consent action applied",
		"path", path.String(),
		"action", action.String(),
	)

	if stopGetting {
		t.logger.Info("mutual consent lost, stopping getter session", "path", path.String())
		if err := t.core.Stop(ctx); err != nil {
			t.logger.Warn("stopping getter session failed", "path", path.String(), "error", err)
		}
	}

	if err := t.core.ModifyConsent(ctx, path, action); err != nil {
		t.rollback(path, action, previous, next)
		return fmt.Errorf("sending %s for %s: %w", action, path, err)
	}
	return nil
}

// rollback restores previous if the record still holds the optimistic
// value. Session flags keep their current value: a stopped session is
// not restarted.
func (t *Table) rollback(path Path, action Action, previous, optimistic Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[path]
	if !ok || entry.Record != optimistic {
		t.logger.Warn("core rejected consent action; record changed since, not rolling back",
			"path", path.String(),
			"action", action.String(),
		)
		return
	}
	restored := previous
	restored.Getting = optimistic.Getting
	restored.Giving = optimistic.Giving
	entry.Record = restored
	t.logger.Warn("core rejected consent action; rolled back",
		"path", path.String(),
		"action", action.String(),
	)
}

// Start begins a getter session through path. It requires mutual
// consent and no other active or starting session. On failure the
// record is unchanged and the user is told which peer could not be
// reached.
func (t *Table) Start(ctx context.Context, path Path) (Endpoint, error) {
	if err := path.Validate(); err != nil {
		return Endpoint{}, err
	}
	if err := t.waitReady(ctx); err != nil {
		return Endpoint{}, err
	}

	t.mu.Lock()
	entry, ok := t.entries[path]
	var reason string
	switch {
	case !ok:
		reason = "unknown instance"
	case t.starting != nil:
		reason = fmt.Sprintf("start through %s already in progress", t.starting)
	default:
		reason = entry.Record.canStart()
		if reason == "" {
			if other := t.gettingLocked(); other != nil {
				reason = fmt.Sprintf("already getting access from %s", other.Path)
			}
		}
	}
	if reason != "" {
		t.mu.Unlock()
		return Endpoint{}, &PreconditionError{Operation: "start", Path: path, Reason: reason}
	}
	startingPath := path
	t.starting = &startingPath
	name := entry.Name
	t.mu.Unlock()

	endpoint, err := t.core.Start(ctx, path)

	t.mu.Lock()
	t.starting = nil
	if err != nil {
		t.mu.Unlock()
		t.logger.Error("starting getter session failed", "path", path.String(), "error", err)
		t.notifier.Notify("Unable to get access from " + name)
		return Endpoint{}, fmt.Errorf("starting session through %s: %w", path, err)
	}

	entry = t.entryLocked(path)
	entry.Record.Getting = true
	entry.Endpoint = endpoint
	// Consent may have been withdrawn while the start was in flight.
	lost := !entry.Record.MutualGetterConsent()
	if lost {
		entry.Record.Getting = false
		entry.Endpoint = Endpoint{}
	}
	t.mu.Unlock()

	if lost {
		t.logger.Warn("consent withdrawn during start, stopping session", "path", path.String())
		if stopErr := t.core.Stop(ctx); stopErr != nil {
			t.logger.Warn("stopping getter session failed", "path", path.String(), "error", stopErr)
		}
		return Endpoint{}, &PreconditionError{Operation: "start", Path: path, Reason: "consent withdrawn during start"}
	}

	t.logger.Info("getter session started",
		"path", path.String(),
		"endpoint", endpoint.String(),
	)
	return endpoint, nil
}

// Stop ends the active getter session. It is a precondition error if
// no session is active. Getting is cleared before the core confirms;
// the core reports the definitive end with a stop_getting update.
func (t *Table) Stop(ctx context.Context) error {
	if err := t.waitReady(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	entry := t.gettingLocked()
	if entry == nil {
		t.mu.Unlock()
		return &PreconditionError{Operation: "stop", Reason: "no active getter session"}
	}
	path := entry.Path
	entry.Record.Getting = false
	entry.Endpoint = Endpoint{}
	t.mu.Unlock()

	if err := t.core.Stop(ctx); err != nil {
		return fmt.Errorf("stopping session through %s: %w", path, err)
	}
	t.logger.Info("getter session stopped", "path", path.String())
	return nil
}

// ApplyRemote replaces the remote halves of the record for path with
// the core's view. If the remote withdrew its offer while we are
// getting through it, the session is stopped.
func (t *Table) ApplyRemote(path Path, name string, offering, requesting bool) {
	t.mu.Lock()
	entry := t.entryLocked(path)
	if name != "" {
		entry.Name = name
	}
	previous := entry.Record
	entry.Record = previous.withRemote(offering, requesting)
	stop := previous.Getting && !entry.Record.MutualGetterConsent()
	if stop {
		entry.Record.Getting = false
		entry.Endpoint = Endpoint{}
	}
	t.mu.Unlock()

	t.logger.Debug("remote consent updated",
		"path", path.String(),
		"remote_offering", offering,
		"remote_requesting", requesting,
	)
	if stop {
		t.logger.Info("remote withdrew offer, stopping getter session", "path", path.String())
		t.stopInBackground(path)
	}
}

// Restore replaces the whole record for path with the core's copy. The
// core sends one for every instance when a front end attaches, so a
// front end started after earlier consent changes sees them. An
// endpoint is kept only while the restored record is still getting.
func (t *Table) Restore(path Path, name string, record Record) {
	t.mu.Lock()
	entry := t.entryLocked(path)
	if name != "" {
		entry.Name = name
	}
	entry.Record = record
	if !record.Getting {
		entry.Endpoint = Endpoint{}
	}
	t.mu.Unlock()

	t.logger.Debug("consent record restored",
		"path", path.String(),
		"local_requesting", record.LocalRequesting,
		"local_offering", record.LocalOffering,
		"getting", record.Getting,
	)
}

func (t *Table) stopInBackground(path Path) {
	t.background.Add(1)
	go func() {
		defer t.background.Done()
		// Wait for the connection, but not forever: a stop for a
		// session that never reached the core has nothing to stop.
		select {
		case <-t.ready:
		default:
			return
		}
		if err := t.core.Stop(context.Background()); err != nil {
			t.logger.Warn("stopping getter session failed", "path", path.String(), "error", err)
		}
	}()
}

// SessionStopped records that the core ended our getter session
// through path on its own.
func (t *Table) SessionStopped(path Path) {
	t.mu.Lock()
	entry, ok := t.entries[path]
	wasGetting := ok && entry.Record.Getting
	if ok {
		entry.Record.Getting = false
		entry.Endpoint = Endpoint{}
	}
	t.mu.Unlock()

	if wasGetting {
		t.logger.Info("core stopped getter session", "path", path.String())
	}
}

// GivingStarted records that the remote at path is proxying through us.
func (t *Table) GivingStarted(path Path) {
	t.mu.Lock()
	entry := t.entryLocked(path)
	if !entry.Record.LocalOffering {
		t.logger.Warn("core reports giving without a local offer", "path", path.String())
	}
	entry.Record.Giving = true
	t.mu.Unlock()

	t.logger.Info("giving session started", "path", path.String())
}

// GivingStopped records the end of a giving session.
func (t *Table) GivingStopped(path Path) {
	t.mu.Lock()
	if entry, ok := t.entries[path]; ok {
		entry.Record.Giving = false
	}
	t.mu.Unlock()

	t.logger.Info("giving session stopped", "path", path.String())
}

// Remove forgets path. The core stops any session with a departed
// instance itself.
func (t *Table) Remove(path Path) {
	t.mu.Lock()
	_, ok := t.entries[path]
	delete(t.entries, path)
	t.mu.Unlock()

	if ok {
		t.logger.Info("instance removed", "path", path.String())
	}
}

// Get returns the entry for path.
func (t *Table) Get(path Path) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Entries returns a snapshot of every entry, ordered by path.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	entries := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		entries = append(entries, *entry)
	}
	t.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path.String() < entries[j].Path.String()
	})
	return entries
}

// Getting returns the path of the active getter session.
func (t *Table) Getting() (Path, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry := t.gettingLocked(); entry != nil {
		return entry.Path, true
	}
	return Path{}, false
}

// Wait blocks until commands sent on behalf of update handlers have
// finished.
func (t *Table) Wait() {
	t.background.Wait()
}
