// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package refcore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/peerproxy/background"
	"github.com/bureau-foundation/peerproxy/bridge"
	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/coreapi"
	"github.com/bureau-foundation/peerproxy/lib/testutil"
	"github.com/bureau-foundation/peerproxy/transport"
)

const testTimeout = 5 * time.Second

type frontHost struct {
	fronted chan struct{}
}

func (h *frontHost) BringToFront() { h.fronted <- struct{}{} }

type staticAuthenticator struct{}

func (staticAuthenticator) Login(ctx context.Context, network string) (coreapi.Credentials, error) {
	return coreapi.Credentials{Network: network, Token: "secret"}, nil
}

type endToEnd struct {
	core       *Core
	frontEnd   *background.Context
	host       *frontHost
	roster     *Roster
	socketPath string
}

// startEndToEnd runs a reference core on a unix socket and a front end
// connected to it.
func startEndToEnd(t *testing.T) *endToEnd {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	roster, err := ParseRoster([]byte(exampleRoster))
	if err != nil {
		t.Fatalf("ParseRoster: %v", err)
	}
	core := New(roster, Options{Logger: logger})

	socketPath := filepath.Join(testutil.SocketDir(t), "core.sock")
	listener, err := transport.NewNetListener("unix", socketPath, transport.NetListenerOptions{Logger: logger})
	if err != nil {
		t.Fatalf("NewNetListener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	coreDone := make(chan struct{})
	go func() {
		core.Serve(ctx, listener)
		close(coreDone)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, coreDone, testTimeout, "core did not stop")
	})

	host := &frontHost{fronted: make(chan struct{}, 8)}
	frontEnd := attachFrontEnd(t, socketPath, host)
	e := &endToEnd{core: core, frontEnd: frontEnd, host: host, roster: roster, socketPath: socketPath}
	e.sync(t)
	return e
}

// attachFrontEnd connects a front end to the core at socketPath and
// returns once it is connected. It is stopped before the core when the
// test ends.
func attachFrontEnd(t *testing.T, socketPath string, host *frontHost) *background.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if host == nil {
		host = &frontHost{fronted: make(chan struct{}, 8)}
	}

	connector := bridge.NewConnector(&transport.NetDialer{Network: "unix", Address: socketPath}, bridge.Options{
		Logger:         logger,
		RequestTimeout: testTimeout,
		MinBackoff:     time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	})
	frontEnd, err := background.New(background.Config{
		Connector:     connector,
		Host:          host,
		Authenticator: staticAuthenticator{},
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("background.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connectorDone := make(chan struct{})
	go func() {
		connector.Run(ctx)
		close(connectorDone)
	}()
	t.Cleanup(func() {
		frontEnd.Close()
		cancel()
		testutil.RequireClosed(t, connectorDone, testTimeout, "connector did not stop")
	})

	testutil.RequireClosed(t, connector.OnceConnected(), testTimeout)
	return frontEnd
}

// sync waits until the front end has processed every update the core
// published so far.
func (e *endToEnd) sync(t *testing.T) {
	t.Helper()
	e.core.Launch()
	testutil.RequireReceive(t, e.host.fronted, testTimeout, "front end did not process updates")
}

func (e *endToEnd) path(index int) consent.Path {
	return e.roster.Path(e.roster.Instances[index])
}

func TestRosterReachesFrontEnd(t *testing.T) {
	e := startEndToEnd(t)
	if count := e.core.SessionCount(); count != 1 {
		t.Fatalf("SessionCount = %d, want 1", count)
	}

	alice, ok := e.frontEnd.Consent.Get(e.path(0))
	if !ok || !alice.Record.RemoteOffering || alice.Name != "Alice" {
		t.Fatalf("alice = %+v, %v", alice, ok)
	}
	bob, ok := e.frontEnd.Consent.Get(e.path(1))
	if !ok || !bob.Record.RemoteRequesting || bob.Record.RemoteOffering {
		t.Fatalf("bob = %+v, %v", bob, ok)
	}
}

func TestReconnectRestoresLocalConsent(t *testing.T) {
	e := startEndToEnd(t)
	ctx := context.Background()
	alice := e.path(0)

	if err := e.frontEnd.Consent.Do(ctx, alice, consent.ActionRequest); err != nil {
		t.Fatalf("request: %v", err)
	}

	// A second front end attaching to the same core starts from the
	// core's records, not from an empty table.
	second := attachFrontEnd(t, e.socketPath, nil)
	// The core's records precede any response on the connection.
	if _, err := second.Core.GetVersion(ctx); err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	entry, ok := second.Consent.Get(alice)
	if !ok || !entry.Record.LocalRequesting || !entry.Record.RemoteOffering || entry.Name != "Alice" {
		t.Fatalf("alice on a new front end = %+v, %v", entry, ok)
	}
	if _, err := second.Consent.Start(ctx, alice); err != nil {
		t.Fatalf("start from the new front end: %v", err)
	}
	if count := e.core.SessionCount(); count != 2 {
		t.Fatalf("SessionCount = %d, want 2", count)
	}
}

func TestGetterSessionLifecycle(t *testing.T) {
	e := startEndToEnd(t)
	ctx := context.Background()
	alice := e.path(0)

	if err := e.frontEnd.Consent.Do(ctx, alice, consent.ActionRequest); err != nil {
		t.Fatalf("request: %v", err)
	}
	endpoint, err := e.frontEnd.Consent.Start(ctx, alice)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if endpoint.Address != "127.0.0.1" || endpoint.Port != 9999 {
		t.Fatalf("endpoint = %+v", endpoint)
	}
	if record, _ := e.core.Record(alice); !record.Getting {
		t.Fatal("core does not record the getter session")
	}

	// Alice withdraws her offer: the front end stops the session.
	if err := e.core.SetRemote(alice, false, false); err != nil {
		t.Fatalf("SetRemote: %v", err)
	}
	e.sync(t)
	e.frontEnd.Consent.Wait()
	if _, getting := e.frontEnd.Consent.Getting(); getting {
		t.Fatal("front end still getting after the offer was withdrawn")
	}
	if record, _ := e.core.Record(alice); record.Getting {
		t.Fatal("core still getting after the offer was withdrawn")
	}
	if err := e.frontEnd.Consent.Stop(ctx); !errors.Is(err, consent.ErrPrecondition) {
		t.Fatalf("stop with no session = %v, want ErrPrecondition", err)
	}
}

func TestOfferToRequestingPeerStartsGiving(t *testing.T) {
	e := startEndToEnd(t)
	ctx := context.Background()
	bob := e.path(1)

	if err := e.frontEnd.Consent.Do(ctx, bob, consent.ActionOffer); err != nil {
		t.Fatalf("offer: %v", err)
	}
	e.sync(t)
	entry, _ := e.frontEnd.Consent.Get(bob)
	if !entry.Record.Giving {
		t.Fatalf("bob record = %+v, want giving", entry.Record)
	}

	if err := e.frontEnd.Consent.Do(ctx, bob, consent.ActionCancelOffer); err != nil {
		t.Fatalf("cancel offer: %v", err)
	}
	e.sync(t)
	entry, _ = e.frontEnd.Consent.Get(bob)
	if entry.Record.Giving || entry.Record.LocalOffering {
		t.Fatalf("bob record = %+v after cancelling the offer", entry.Record)
	}
}

func TestCorePreconditionMatchesFrontEnd(t *testing.T) {
	e := startEndToEnd(t)
	ctx := context.Background()

	// Bypass the table's local check to reach the core's.
	_, err := e.frontEnd.Core.Start(ctx, e.path(1))
	if !errors.Is(err, bridge.ErrPrecondition) {
		t.Fatalf("core start without consent = %v, want ErrPrecondition", err)
	}
	err = e.frontEnd.Core.ModifyConsent(ctx, e.path(0), consent.ActionCancelRequest)
	if !errors.Is(err, bridge.ErrPrecondition) {
		t.Fatalf("core cancel_request when not requesting = %v, want ErrPrecondition", err)
	}
}

func TestCredentialsFlow(t *testing.T) {
	e := startEndToEnd(t)
	ctx := context.Background()

	// Nothing cached: the core asks the front end to log in.
	if _, err := e.frontEnd.Core.GetCredentials(ctx, "social"); !errors.Is(err, bridge.ErrRemote) {
		t.Fatalf("first GetCredentials = %v, want ErrRemote", err)
	}

	deadline := time.Now().Add(testTimeout)
	for {
		credentials, err := e.frontEnd.Core.GetCredentials(ctx, "social")
		if err == nil {
			if credentials.Token != "secret" {
				t.Fatalf("credentials = %+v", credentials)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("credentials never cached: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetVersion(t *testing.T) {
	e := startEndToEnd(t)
	info, err := e.frontEnd.Core.GetVersion(context.Background())
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if info.Version == "" {
		t.Fatal("empty version")
	}
	if e.frontEnd.Connector.CoreVersion() != info.Version {
		t.Fatalf("hello version %q != get_version %q", e.frontEnd.Connector.CoreVersion(), info.Version)
	}
}

func TestRemoveInstance(t *testing.T) {
	e := startEndToEnd(t)
	if err := e.core.RemoveInstance(e.path(0)); err != nil {
		t.Fatalf("RemoveInstance: %v", err)
	}
	e.sync(t)
	if _, ok := e.frontEnd.Consent.Get(e.path(0)); ok {
		t.Fatal("front end kept a removed instance")
	}
	if err := e.core.RemoveInstance(e.path(0)); err == nil {
		t.Fatal("removing an unknown instance succeeded")
	}
}
