// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/peerproxy/bridge"
	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/coreapi"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/wire"
)

// Host is the environment the front end runs in.
type Host interface {
	// BringToFront shows the front end's window.
	BringToFront()
}

// Authenticator logs the user in to a network on the core's behalf.
type Authenticator interface {
	Login(ctx context.Context, network string) (coreapi.Credentials, error)
}

// coreErrorNotification is shown for core_error updates.
const coreErrorNotification = "Something went wrong in the background service. Check its log for details."

// Config holds the collaborators of a Context.
type Config struct {
	Connector     *bridge.Connector
	Host          Host
	Authenticator Authenticator

	// Notifier shows user-visible messages. Nil discards them.
	Notifier consent.Notifier

	// PromoListener receives promo IDs from host pages. Optional.
	PromoListener func(id string)

	Logger *slog.Logger
}

// Context is the front end's background state.
type Context struct {
	Connector *bridge.Connector
	Core      *coreapi.Client
	Consent   *consent.Table

	host          Host
	authenticator Authenticator
	notifier      consent.Notifier
	promoListener func(string)
	logger        *slog.Logger

	registrations []*bridge.Registration

	// work tracks login goroutines started by update handlers.
	work   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a Context. The connector should not be running yet, so no
// update arrives before its handler is registered.
func New(config Config) (*Context, error) {
	if config.Connector == nil {
		return nil, errors.New("background: Connector is required")
	}
	if config.Host == nil {
		return nil, errors.New("background: Host is required")
	}
	if config.Authenticator == nil {
		return nil, errors.New("background: Authenticator is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = consent.NotifierFunc(func(string) {})
	}

	core := coreapi.NewClient(config.Connector)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		Connector: config.Connector,
		Core:      core,
		Consent: consent.NewTable(core, config.Connector.OnceConnected(), consent.TableOptions{
			Notifier: notifier,
			Logger:   logger,
		}),
		host:          config.Host,
		authenticator: config.Authenticator,
		notifier:      notifier,
		promoListener: config.PromoListener,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}

	c.on(wire.UpdateLaunchUproxy, c.handleLaunch)
	c.on(wire.UpdateGetCredentials, c.handleGetCredentials)
	c.on(wire.UpdateInstanceConsent, c.handleInstanceConsent)
	c.on(wire.UpdateStartGiving, c.sessionHandler(c.Consent.GivingStarted))
	c.on(wire.UpdateStopGiving, c.sessionHandler(c.Consent.GivingStopped))
	c.on(wire.UpdateStopGetting, c.sessionHandler(c.Consent.SessionStopped))
	c.on(wire.UpdateInstanceRemoved, c.sessionHandler(c.Consent.Remove))
	c.on(wire.UpdateCoreError, c.handleCoreError)
	return c, nil
}

func (c *Context) on(updateType wire.UpdateType, handler bridge.UpdateHandler) {
	c.registrations = append(c.registrations, c.Connector.OnUpdate(updateType, handler))
}

// Close unregisters every update handler, cancels logins in progress,
// and waits for background work.
func (c *Context) Close() {
	for _, registration := range c.registrations {
		registration.Close()
	}
	c.registrations = nil
	c.cancel()
	c.work.Wait()
	c.Consent.Wait()
}

func (c *Context) handleLaunch(*wire.Update) error {
	c.host.BringToFront()
	return nil
}

// handleGetCredentials logs in on a separate goroutine: the login and
// the credentials command both wait on things the reader goroutine
// must stay free to deliver.
func (c *Context) handleGetCredentials(update *wire.Update) error {
	var request coreapi.CredentialsRequest
	if err := decodeUpdate(update, &request); err != nil {
		return err
	}

	c.work.Add(1)
	go func() {
		defer c.work.Done()
		credentials, err := c.authenticator.Login(c.ctx, request.Network)
		if err != nil {
			c.logger.Error("login failed", "network", request.Network, "error", err)
			return
		}
		if credentials.Network == "" {
			credentials.Network = request.Network
		}
		if err := c.Core.SendCredentials(c.ctx, credentials); err != nil {
			c.logger.Error("sending credentials to core failed", "network", request.Network, "error", err)
		}
	}()
	return nil
}

func (c *Context) handleInstanceConsent(update *wire.Update) error {
	var payload coreapi.InstanceConsent
	if err := decodeUpdate(update, &payload); err != nil {
		return err
	}
	if payload.Record != nil {
		c.Consent.Restore(payload.Path, payload.Name, *payload.Record)
		return nil
	}
	c.Consent.ApplyRemote(payload.Path, payload.Name, payload.RemoteOffering, payload.RemoteRequesting)
	return nil
}

func (c *Context) sessionHandler(apply func(consent.Path)) bridge.UpdateHandler {
	return func(update *wire.Update) error {
		var event coreapi.SessionEvent
		if err := decodeUpdate(update, &event); err != nil {
			return err
		}
		apply(event.Path)
		return nil
	}
}

func (c *Context) handleCoreError(update *wire.Update) error {
	var payload coreapi.CoreError
	if err := decodeUpdate(update, &payload); err != nil {
		return err
	}
	c.logger.Error("core reported an error", "message", payload.Message)
	c.notifier.Notify(coreErrorNotification)
	return nil
}

func decodeUpdate(update *wire.Update, v any) error {
	if len(update.Payload) == 0 {
		return fmt.Errorf("%s update has no payload", update.Type)
	}
	if err := codec.Unmarshal(update.Payload, v); err != nil {
		return fmt.Errorf("decoding %s update: %w", update.Type, err)
	}
	return nil
}
