// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coreapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/peerproxy/bridge"
	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/lib/clock"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/lib/testutil"
	"github.com/bureau-foundation/peerproxy/transport"
	"github.com/bureau-foundation/peerproxy/wire"
)

const testTimeout = 5 * time.Second

var testPath = consent.Path{
	Network:    consent.Network{Name: "social", LocalUserID: "me"},
	UserID:     "alice",
	InstanceID: "alice-laptop",
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startPair runs server on a memory network and returns a connected
// Connector and its Client.
func startPair(t *testing.T, server *Server) (*bridge.Connector, *Client) {
	t.Helper()
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())

	serverDone := make(chan struct{})
	go func() {
		server.Serve(ctx, network.Listener())
		close(serverDone)
	}()

	connector := bridge.NewConnector(network.Dialer(), bridge.Options{
		Logger:     discardLogger(),
		MinBackoff: time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
	})
	connectorDone := make(chan struct{})
	go func() {
		connector.Run(ctx)
		close(connectorDone)
	}()

	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, serverDone, testTimeout, "server did not stop")
		testutil.RequireClosed(t, connectorDone, testTimeout, "connector did not stop")
	})
	testutil.RequireClosed(t, connector.OnceConnected(), testTimeout)
	return connector, NewClient(connector)
}

func TestClientServerRoundTrip(t *testing.T) {
	server := NewServer(ServerOptions{Version: "core-1.0", Logger: discardLogger()})

	var gotConsent ConsentCommand
	server.Handle(wire.CommandModifyConsent, func(ctx context.Context, payload codec.RawMessage) (any, error) {
		return nil, DecodePayload(payload, &gotConsent)
	})
	server.Handle(wire.CommandStart, func(ctx context.Context, payload codec.RawMessage) (any, error) {
		var request StartRequest
		if err := DecodePayload(payload, &request); err != nil {
			return nil, err
		}
		if request.Path != testPath {
			return nil, Errorf(wire.ErrorRemote, "unknown instance %s", request.Path)
		}
		return consent.Endpoint{Address: "127.0.0.1", Port: 9999}, nil
	})
	server.Handle(wire.CommandGetVersion, func(context.Context, codec.RawMessage) (any, error) {
		return VersionInfo{Version: "core-1.0"}, nil
	})

	_, client := startPair(t, server)
	ctx := context.Background()

	if err := client.ModifyConsent(ctx, testPath, consent.ActionOffer); err != nil {
		t.Fatalf("ModifyConsent: %v", err)
	}
	if gotConsent.Path != testPath || gotConsent.Action != consent.ActionOffer {
		t.Fatalf("server saw %+v", gotConsent)
	}

	endpoint, err := client.Start(ctx, testPath)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if endpoint.Port != 9999 {
		t.Fatalf("endpoint = %+v", endpoint)
	}

	other := testPath
	other.InstanceID = "elsewhere"
	if _, err := client.Start(ctx, other); !errors.Is(err, bridge.ErrRemote) {
		t.Fatalf("Start of unknown instance = %v, want ErrRemote", err)
	}

	info, err := client.GetVersion(ctx)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if info.Version != "core-1.0" {
		t.Fatalf("version = %q", info.Version)
	}
}

func TestServerErrorKinds(t *testing.T) {
	server := NewServer(ServerOptions{Version: "core", Logger: discardLogger()})
	server.Handle(wire.CommandModifyConsent, func(ctx context.Context, payload codec.RawMessage) (any, error) {
		var command ConsentCommand
		if err := DecodePayload(payload, &command); err != nil {
			return nil, err
		}
		return nil, &consent.PreconditionError{Operation: command.Action.String(), Path: command.Path, Reason: "nope"}
	})
	connector, client := startPair(t, server)
	ctx := context.Background()

	if err := client.ModifyConsent(ctx, testPath, consent.ActionRequest); !errors.Is(err, bridge.ErrPrecondition) {
		t.Fatalf("precondition failure = %v, want ErrPrecondition", err)
	}
	if err := client.Stop(ctx); !errors.Is(err, bridge.ErrUnknownCommand) {
		t.Fatalf("unhandled command = %v, want ErrUnknownCommand", err)
	}
	if err := connector.Call(ctx, wire.CommandModifyConsent, nil, nil); !errors.Is(err, bridge.ErrInvalidPayload) {
		t.Fatalf("missing payload = %v, want ErrInvalidPayload", err)
	}
}

func TestPublishReachesHandlers(t *testing.T) {
	server := NewServer(ServerOptions{Version: "core", Logger: discardLogger()})
	connector, _ := startPair(t, server)

	received := make(chan InstanceConsent, 1)
	connector.OnUpdate(wire.UpdateInstanceConsent, func(update *wire.Update) error {
		var payload InstanceConsent
		if err := codec.Unmarshal(update.Payload, &payload); err != nil {
			return err
		}
		received <- payload
		return nil
	})

	delivered, err := server.Publish(wire.UpdateInstanceConsent, InstanceConsent{
		Path:           testPath,
		Name:           "Alice",
		RemoteOffering: true,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("Publish delivered to %d sessions, want 1", delivered)
	}

	got := testutil.RequireReceive(t, received, testTimeout)
	if got.Path != testPath || !got.RemoteOffering || got.Name != "Alice" {
		t.Fatalf("update payload = %+v", got)
	}
}

func TestHandlePanicsOnDuplicate(t *testing.T) {
	server := NewServer(ServerOptions{Version: "core", Logger: discardLogger()})
	handler := func(context.Context, codec.RawMessage) (any, error) { return nil, nil }
	server.Handle(wire.CommandStop, handler)

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Handle did not panic")
		}
	}()
	server.Handle(wire.CommandStop, handler)
}

func TestServerDropsFrontEndWithoutHello(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	server := NewServer(ServerOptions{Version: "core", Clock: fake, Logger: discardLogger()})
	network := transport.NewMemoryNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan struct{})
	go func() {
		server.Serve(ctx, network.Listener())
		close(serverDone)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, serverDone, testTimeout, "server did not stop")
	})

	silent, err := network.Dialer().DialContext(ctx)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	defer silent.Close()

	fake.WaitForTimers(1)
	fake.Advance(helloTimeout - time.Second)
	if fake.PendingCount() != 1 {
		t.Fatal("hello deadline fired early")
	}

	received := make(chan error, 1)
	go func() {
		_, err := silent.Receive()
		received <- err
	}()
	fake.Advance(time.Second)
	if err := testutil.RequireReceive(t, received, testTimeout, "server kept a silent front end"); err == nil {
		t.Fatal("silent front end received a message instead of being dropped")
	}
	if server.SessionCount() != 0 {
		t.Fatalf("SessionCount = %d, want 0", server.SessionCount())
	}
}
