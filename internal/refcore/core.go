// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package refcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/coreapi"
	"github.com/bureau-foundation/peerproxy/lib/clock"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/lib/version"
	"github.com/bureau-foundation/peerproxy/transport"
	"github.com/bureau-foundation/peerproxy/wire"
)

// Options configures a Core.
type Options struct {
	// ProxyAddress is the address reported in getter endpoints.
	// Default: 127.0.0.1.
	ProxyAddress string

	// FirstProxyPort is the port of the first getter endpoint; each
	// session gets the next port. Default: 9999.
	FirstProxyPort int

	// Clock is handed to the protocol server. Default: clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

type instance struct {
	path   consent.Path
	name   string
	record consent.Record
}

// pendingUpdate is an update computed under the lock and published
// after it is released.
type pendingUpdate struct {
	updateType wire.UpdateType
	payload    any
}

// Core is the reference core.
type Core struct {
	server *coreapi.Server
	logger *slog.Logger

	proxyAddress string

	mu          sync.Mutex
	instances   map[consent.Path]*instance
	order       []consent.Path
	getting     *consent.Path
	nextPort    int
	credentials map[string]coreapi.Credentials
}

// New creates a core serving the instances in roster.
func New(roster *Roster, options Options) *Core {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.ProxyAddress == "" {
		options.ProxyAddress = "127.0.0.1"
	}
	if options.FirstProxyPort == 0 {
		options.FirstProxyPort = 9999
	}

	server := coreapi.NewServer(coreapi.ServerOptions{
		Version: version.Current().Version,
		Clock:   options.Clock,
		Logger:  logger,
	})
	c := &Core{
		server:       server,
		logger:       logger,
		proxyAddress: options.ProxyAddress,
		instances:    make(map[consent.Path]*instance),
		nextPort:     options.FirstProxyPort,
		credentials:  make(map[string]coreapi.Credentials),
	}
	for _, entry := range roster.Instances {
		path := roster.Path(entry)
		name := entry.Name
		if name == "" {
			name = entry.UserID
		}
		c.instances[path] = &instance{
			path: path,
			name: name,
			record: consent.Record{
				RemoteOffering:   entry.AutoOffer,
				RemoteRequesting: entry.AutoRequest,
			},
		}
		c.order = append(c.order, path)
	}

	c.server.Handle(wire.CommandStart, c.handleStart)
	c.server.Handle(wire.CommandStop, c.handleStop)
	c.server.Handle(wire.CommandModifyConsent, c.handleModifyConsent)
	c.server.Handle(wire.CommandGetVersion, c.handleGetVersion)
	c.server.Handle(wire.CommandGetCredentials, c.handleGetCredentials)
	c.server.Handle(wire.CommandCredentials, c.handleCredentials)
	c.server.OnConnect(c.sendRoster)
	return c
}

// Serve serves front ends on every listener until ctx is cancelled.
func (c *Core) Serve(ctx context.Context, listeners ...transport.Listener) error {
	if len(listeners) == 0 {
		return errors.New("refcore: no listeners")
	}
	errs := make(chan error, len(listeners))
	for _, listener := range listeners {
		go func() {
			errs <- c.server.Serve(ctx, listener)
		}()
	}
	var collected []error
	for range listeners {
		if err := <-errs; err != nil {
			collected = append(collected, err)
		}
	}
	return errors.Join(collected...)
}

// sendRoster tells a newly connected front end the whole consent
// record of every instance.
func (c *Core) sendRoster(send func(wire.UpdateType, any) error) {
	c.mu.Lock()
	payloads := make([]coreapi.InstanceConsent, 0, len(c.order))
	for _, path := range c.order {
		payload := c.instances[path].consentPayload()
		record := c.instances[path].record
		payload.Record = &record
		payloads = append(payloads, payload)
	}
	c.mu.Unlock()

	for _, payload := range payloads {
		if err := send(wire.UpdateInstanceConsent, payload); err != nil {
			c.logger.Warn("sending roster failed", "error", err)
			return
		}
	}
}

func (i *instance) consentPayload() coreapi.InstanceConsent {
	return coreapi.InstanceConsent{
		Path:             i.path,
		Name:             i.name,
		RemoteOffering:   i.record.RemoteOffering,
		RemoteRequesting: i.record.RemoteRequesting,
	}
}

func (c *Core) publish(updates []pendingUpdate) {
	for _, update := range updates {
		if _, err := c.server.Publish(update.updateType, update.payload); err != nil {
			c.logger.Error("publishing update failed", "update_type", update.updateType, "error", err)
		}
	}
}

// instanceLocked returns the instance at path or an error naming it.
func (c *Core) instanceLocked(path consent.Path) (*instance, error) {
	found, ok := c.instances[path]
	if !ok {
		return nil, coreapi.Errorf(wire.ErrorRemote, "unknown instance %s", path)
	}
	return found, nil
}

func (c *Core) handleStart(ctx context.Context, payload codec.RawMessage) (any, error) {
	var request coreapi.StartRequest
	if err := coreapi.DecodePayload(payload, &request); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target, err := c.instanceLocked(request.Path)
	if err != nil {
		return nil, err
	}
	if c.getting != nil {
		return nil, &consent.PreconditionError{
			Operation: "start",
			Path:      request.Path,
			Reason:    fmt.Sprintf("already getting access from %s", c.getting),
		}
	}
	if !target.record.MutualGetterConsent() {
		return nil, &consent.PreconditionError{
			Operation: "start",
			Path:      request.Path,
			Reason:    "no mutual consent",
		}
	}

	path := request.Path
	c.getting = &path
	target.record.Getting = true
	endpoint := consent.Endpoint{Address: c.proxyAddress, Port: c.nextPort}
	c.nextPort++

	c.logger.Info("getter session started", "path", path.String(), "endpoint", endpoint.String())
	return endpoint, nil
}

func (c *Core) handleStop(ctx context.Context, payload codec.RawMessage) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.getting == nil {
		return nil, nil
	}
	path := *c.getting
	c.getting = nil
	if target, ok := c.instances[path]; ok {
		target.record.Getting = false
	}
	c.logger.Info("getter session stopped", "path", path.String())
	return nil, nil
}

func (c *Core) handleModifyConsent(ctx context.Context, payload codec.RawMessage) (any, error) {
	var command coreapi.ConsentCommand
	if err := coreapi.DecodePayload(payload, &command); err != nil {
		return nil, err
	}

	c.mu.Lock()
	target, err := c.instanceLocked(command.Path)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	next, err := target.record.Apply(command.Action)
	if err != nil {
		c.mu.Unlock()
		precondition := err.(*consent.PreconditionError)
		precondition.Path = command.Path
		return nil, precondition
	}
	updates := c.transitionLocked(target, next)
	c.mu.Unlock()

	c.logger.Info("consent action applied",
		"path", command.Path.String(),
		"action", command.Action.String(),
	)
	c.publish(updates)
	return nil, nil
}

// transitionLocked installs next as the record of target and returns
// the updates the simulated peer produces in reaction.
func (c *Core) transitionLocked(target *instance, next consent.Record) []pendingUpdate {
	previous := target.record
	target.record = next
	event := coreapi.SessionEvent{Path: target.path}

	var updates []pendingUpdate
	if previous.Getting && !next.Getting && c.getting != nil && *c.getting == target.path {
		c.getting = nil
	}
	switch {
	case !previous.Giving && next.MutualGiverConsent():
		target.record.Giving = true
		updates = append(updates, pendingUpdate{wire.UpdateStartGiving, event})
	case previous.Giving && !next.MutualGiverConsent():
		target.record.Giving = false
		updates = append(updates, pendingUpdate{wire.UpdateStopGiving, event})
	}
	return updates
}

// SetRemote changes what the simulated peer at path offers and
// requests, and tells every front end. Withdrawing an offer ends a
// getter session through path.
func (c *Core) SetRemote(path consent.Path, offering, requesting bool) error {
	c.mu.Lock()
	target, err := c.instanceLocked(path)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	next := target.record
	next.RemoteOffering = offering
	next.RemoteRequesting = requesting
	if !offering {
		next.OfferIgnored = false
	}
	if !requesting {
		next.RequestIgnored = false
	}
	var updates []pendingUpdate
	if next.Getting && !next.MutualGetterConsent() {
		next.Getting = false
		updates = append(updates, pendingUpdate{wire.UpdateStopGetting, coreapi.SessionEvent{Path: path}})
	}
	updates = append(c.transitionLocked(target, next), updates...)
	updates = append([]pendingUpdate{{wire.UpdateInstanceConsent, target.consentPayload()}}, updates...)
	c.mu.Unlock()

	c.publish(updates)
	return nil
}

// RemoveInstance drops path from the roster and tells every front end.
func (c *Core) RemoveInstance(path consent.Path) error {
	c.mu.Lock()
	if _, err := c.instanceLocked(path); err != nil {
		c.mu.Unlock()
		return err
	}
	delete(c.instances, path)
	for index, existing := range c.order {
		if existing == path {
			c.order = append(c.order[:index], c.order[index+1:]...)
			break
		}
	}
	if c.getting != nil && *c.getting == path {
		c.getting = nil
	}
	c.mu.Unlock()

	c.publish([]pendingUpdate{{wire.UpdateInstanceRemoved, coreapi.SessionEvent{Path: path}}})
	return nil
}

// Launch asks every front end to show itself.
func (c *Core) Launch() {
	c.publish([]pendingUpdate{{wire.UpdateLaunchUproxy, nil}})
}

// ReportError sends a core_error update to every front end.
func (c *Core) ReportError(message string) {
	c.publish([]pendingUpdate{{wire.UpdateCoreError, coreapi.CoreError{Message: message}}})
}

// Record returns the core's copy of the consent record for path.
func (c *Core) Record(path consent.Path) (consent.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target, ok := c.instances[path]
	if !ok {
		return consent.Record{}, false
	}
	return target.record, true
}

// SessionCount returns the number of connected front ends.
func (c *Core) SessionCount() int {
	return c.server.SessionCount()
}

func (c *Core) handleGetVersion(ctx context.Context, payload codec.RawMessage) (any, error) {
	build := version.Current()
	return coreapi.VersionInfo{Version: build.Version, Commit: build.Commit}, nil
}

// handleGetCredentials answers from the cache. With nothing cached it
// asks the front ends to log in and reports the command as failed; the
// caller retries once a credentials command has arrived.
func (c *Core) handleGetCredentials(ctx context.Context, payload codec.RawMessage) (any, error) {
	var request coreapi.CredentialsRequest
	if err := coreapi.DecodePayload(payload, &request); err != nil {
		return nil, err
	}

	c.mu.Lock()
	credentials, ok := c.credentials[request.Network]
	c.mu.Unlock()
	if ok {
		return credentials, nil
	}

	c.publish([]pendingUpdate{{wire.UpdateGetCredentials, request}})
	return nil, coreapi.Errorf(wire.ErrorRemote, "no credentials for network %q; login requested", request.Network)
}

func (c *Core) handleCredentials(ctx context.Context, payload codec.RawMessage) (any, error) {
	var credentials coreapi.Credentials
	if err := coreapi.DecodePayload(payload, &credentials); err != nil {
		return nil, err
	}
	if credentials.Network == "" {
		return nil, coreapi.Errorf(wire.ErrorInvalidPayload, "credentials without network")
	}

	c.mu.Lock()
	c.credentials[credentials.Network] = credentials
	c.mu.Unlock()

	c.logger.Info("credentials received", "network", credentials.Network)
	return nil, nil
}
