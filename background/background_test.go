// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/peerproxy/bridge"
	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/coreapi"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/lib/testutil"
	"github.com/bureau-foundation/peerproxy/transport"
	"github.com/bureau-foundation/peerproxy/wire"
)

const testTimeout = 5 * time.Second

var alice = consent.Path{
	Network:    consent.Network{Name: "social", LocalUserID: "me"},
	UserID:     "alice",
	InstanceID: "alice-laptop",
}

type fakeHost struct {
	fronted chan struct{}
}

func (h *fakeHost) BringToFront() { h.fronted <- struct{}{} }

type fakeAuthenticator struct{}

func (fakeAuthenticator) Login(ctx context.Context, network string) (coreapi.Credentials, error) {
	if network == "broken" {
		return coreapi.Credentials{}, errors.New("login window closed")
	}
	return coreapi.Credentials{Token: "token-for-" + network}, nil
}

type notifications struct {
	messages chan string
}

func (n *notifications) Notify(message string) { n.messages <- message }

type harness struct {
	ctx           *Context
	server        *coreapi.Server
	host          *fakeHost
	notifications *notifications
	credentials   chan coreapi.Credentials
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		server:        coreapi.NewServer(coreapi.ServerOptions{Version: "test-core", Logger: logger}),
		host:          &fakeHost{fronted: make(chan struct{}, 4)},
		notifications: &notifications{messages: make(chan string, 4)},
		credentials:   make(chan coreapi.Credentials, 4),
	}

	h.server.Handle(wire.CommandCredentials, func(ctx context.Context, payload codec.RawMessage) (any, error) {
		var credentials coreapi.Credentials
		if err := coreapi.DecodePayload(payload, &credentials); err != nil {
			return nil, err
		}
		h.credentials <- credentials
		return nil, nil
	})
	h.server.Handle(wire.CommandModifyConsent, func(ctx context.Context, payload codec.RawMessage) (any, error) {
		return nil, nil
	})
	h.server.Handle(wire.CommandStart, func(ctx context.Context, payload codec.RawMessage) (any, error) {
		return consent.Endpoint{Address: "127.0.0.1", Port: 9999}, nil
	})

	network := transport.NewMemoryNetwork()
	connector := bridge.NewConnector(network.Dialer(), bridge.Options{
		Logger:     logger,
		MinBackoff: time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
	})
	var err error
	h.ctx, err = New(Config{
		Connector:     connector,
		Host:          h.host,
		Authenticator: fakeAuthenticator{},
		Notifier:      h.notifications,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	connectorDone := make(chan struct{})
	go func() {
		h.server.Serve(runCtx, network.Listener())
		close(serverDone)
	}()
	go func() {
		connector.Run(runCtx)
		close(connectorDone)
	}()
	t.Cleanup(func() {
		h.ctx.Close()
		cancel()
		testutil.RequireClosed(t, serverDone, testTimeout)
		testutil.RequireClosed(t, connectorDone, testTimeout)
	})

	testutil.RequireClosed(t, connector.OnceConnected(), testTimeout)
	return h
}

func (h *harness) publish(t *testing.T, updateType wire.UpdateType, payload any) {
	t.Helper()
	delivered, err := h.server.Publish(updateType, payload)
	if err != nil {
		t.Fatalf("Publish(%s): %v", updateType, err)
	}
	if delivered != 1 {
		t.Fatalf("Publish(%s) delivered to %d front ends, want 1", updateType, delivered)
	}
}

func TestLaunchUpdateBringsHostToFront(t *testing.T) {
	h := newHarness(t)
	h.publish(t, wire.UpdateLaunchUproxy, nil)
	testutil.RequireReceive(t, h.host.fronted, testTimeout, "BringToFront not called")
}

func TestGetCredentialsLogsInAndAnswers(t *testing.T) {
	h := newHarness(t)
	h.publish(t, wire.UpdateGetCredentials, coreapi.CredentialsRequest{Network: "social"})

	credentials := testutil.RequireReceive(t, h.credentials, testTimeout, "credentials never reached the core")
	if credentials.Network != "social" || credentials.Token != "token-for-social" {
		t.Fatalf("credentials = %+v", credentials)
	}
}

func TestConsentUpdatesDriveTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.publish(t, wire.UpdateInstanceConsent, coreapi.InstanceConsent{
		Path:           alice,
		Name:           "Alice",
		RemoteOffering: true,
	})
	// Updates are processed in order, so a launch published after the
	// consent update arriving proves the consent update was applied.
	h.publish(t, wire.UpdateLaunchUproxy, nil)
	testutil.RequireReceive(t, h.host.fronted, testTimeout)

	entry, ok := h.ctx.Consent.Get(alice)
	if !ok || !entry.Record.RemoteOffering || entry.Name != "Alice" {
		t.Fatalf("entry = %+v, %v", entry, ok)
	}

	if err := h.ctx.Consent.Do(ctx, alice, consent.ActionRequest); err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := h.ctx.Consent.Start(ctx, alice); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.publish(t, wire.UpdateStopGetting, coreapi.SessionEvent{Path: alice})
	h.publish(t, wire.UpdateLaunchUproxy, nil)
	testutil.RequireReceive(t, h.host.fronted, testTimeout)
	if _, getting := h.ctx.Consent.Getting(); getting {
		t.Fatal("still getting after stop_getting")
	}

	h.publish(t, wire.UpdateInstanceRemoved, coreapi.SessionEvent{Path: alice})
	h.publish(t, wire.UpdateLaunchUproxy, nil)
	testutil.RequireReceive(t, h.host.fronted, testTimeout)
	if _, ok := h.ctx.Consent.Get(alice); ok {
		t.Fatal("entry still present after instance_removed")
	}
}

func TestCoreErrorNotifies(t *testing.T) {
	h := newHarness(t)
	h.publish(t, wire.UpdateCoreError, coreapi.CoreError{Message: "disk full"})
	message := testutil.RequireReceive(t, h.notifications.messages, testTimeout)
	if message != coreErrorNotification {
		t.Fatalf("notification = %q", message)
	}
}

func TestCloseReleasesRegistrations(t *testing.T) {
	h := newHarness(t)
	router := h.ctx.Connector.Router()
	if router.HandlerCount(wire.UpdateInstanceConsent) != 1 {
		t.Fatalf("HandlerCount = %d before Close", router.HandlerCount(wire.UpdateInstanceConsent))
	}
	h.ctx.Close()
	for _, updateType := range []wire.UpdateType{
		wire.UpdateLaunchUproxy, wire.UpdateGetCredentials, wire.UpdateInstanceConsent,
		wire.UpdateStartGiving, wire.UpdateStopGiving, wire.UpdateStopGetting,
		wire.UpdateInstanceRemoved, wire.UpdateCoreError,
	} {
		if count := router.HandlerCount(updateType); count != 0 {
			t.Fatalf("%s still has %d handlers after Close", updateType, count)
		}
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New accepted an empty config")
	}
}
