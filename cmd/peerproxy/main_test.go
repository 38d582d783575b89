// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/coreapi"
	"github.com/bureau-foundation/peerproxy/internal/refcore"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/lib/config"
	"github.com/bureau-foundation/peerproxy/lib/testutil"
	"github.com/bureau-foundation/peerproxy/transport"
)

const testTimeout = 5 * time.Second

const testRoster = `{
  "network": {"name": "social", "local_user_id": "me"},
  "instances": [
    {"user_id": "alice", "instance_id": "laptop", "name": "Alice", "auto_offer": true},
    {"user_id": "bob", "instance_id": "phone", "auto_request": true},
  ],
}`

// startCore serves a reference core on a unix socket and returns it
// with a configuration pointing at it.
func startCore(t *testing.T) (*refcore.Core, *config.Config) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	roster, err := refcore.ParseRoster([]byte(testRoster))
	if err != nil {
		t.Fatalf("ParseRoster: %v", err)
	}
	core := refcore.New(roster, refcore.Options{Logger: logger})

	socketPath := filepath.Join(testutil.SocketDir(t), "core.sock")
	listener, err := transport.NewNetListener("unix", socketPath, transport.NetListenerOptions{Logger: logger})
	if err != nil {
		t.Fatalf("NewNetListener: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		core.Serve(ctx, listener)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, testTimeout, "core did not stop")
	})

	cfg := config.Default()
	cfg.Core.SocketPath = socketPath
	cfg.Connector.RequestTimeout = "5s"
	cfg.Connector.ReconnectMinBackoff = "1ms"
	cfg.Connector.ReconnectMaxBackoff = "10ms"
	return core, cfg
}

// invoke runs one subcommand the way a separate peerproxy process
// would, returning what it wrote to stdout and stderr.
func invoke(t *testing.T, cfg *config.Config, name string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	env := &environment{
		config: cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout: &stdout,
		stderr: &stderr,
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	err := findCommand(name).run(ctx, env, args)
	return stdout.String(), stderr.String(), err
}

func TestFindCommand(t *testing.T) {
	for _, name := range []string{"version", "start", "stop", "consent", "watch"} {
		if findCommand(name) == nil {
			t.Errorf("command %q is not registered", name)
		}
	}
	if findCommand("bogus") != nil {
		t.Fatal("findCommand returned a command for an unknown name")
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run([]string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), `unknown command "bogus"`) {
		t.Fatalf("run(bogus) = %v", err)
	}
}

func TestDialerFollowsTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Core.SocketPath = "/tmp/core.sock"
	env := &environment{config: cfg}
	if dialer, ok := env.dialer().(*transport.NetDialer); !ok || dialer.Address != "/tmp/core.sock" {
		t.Fatalf("unix transport dialer = %#v", env.dialer())
	}

	cfg.Core.Transport = config.TransportWebSocket
	if dialer, ok := env.dialer().(*transport.WebSocketDialer); !ok || dialer.URL != cfg.Core.WebSocketURL {
		t.Fatalf("websocket transport dialer = %#v", env.dialer())
	}
}

func TestRenderPayload(t *testing.T) {
	path, err := consent.ParsePath("social/me/alice/laptop")
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	payload, err := codec.MarshalRaw(coreapi.SessionEvent{Path: path})
	if err != nil {
		t.Fatalf("MarshalRaw: %v", err)
	}
	rendered := renderPayload(payload)
	if !strings.Contains(rendered, `"user_id":"alice"`) {
		t.Fatalf("renderPayload = %s", rendered)
	}
	if renderPayload(nil) != "-" {
		t.Fatalf("renderPayload(nil) = %q", renderPayload(nil))
	}
}

func TestDescribeEntry(t *testing.T) {
	entry := consent.Entry{
		Name:   "Alice",
		Record: consent.Record{LocalRequesting: true, RemoteOffering: true, Getting: true},
	}
	got := describeEntry(entry)
	if !strings.HasSuffix(got, ": requesting offered getting") {
		t.Fatalf("describeEntry = %q", got)
	}
	if got := describeEntry(consent.Entry{Name: "Bob"}); !strings.HasSuffix(got, ": none") {
		t.Fatalf("describeEntry of an empty record = %q", got)
	}
}

func TestStartRequiresLocalConsent(t *testing.T) {
	core, cfg := startCore(t)
	const alice = "social/me/alice/laptop"

	// Alice offers, but nobody has asked for access yet.
	if _, _, err := invoke(t, cfg, "start", alice); !errors.Is(err, consent.ErrPrecondition) {
		t.Fatalf("start before request = %v, want ErrPrecondition", err)
	}

	stdout, _, err := invoke(t, cfg, "consent", alice, "request")
	if err != nil {
		t.Fatalf("consent request: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(stdout), ": requesting offered") {
		t.Fatalf("consent output = %q", stdout)
	}

	// A later invocation picks up the request from the core.
	stdout, stderr, err := invoke(t, cfg, "start", alice)
	if err != nil {
		t.Fatalf("start: %v (stderr %q)", err, stderr)
	}
	if !strings.Contains(stdout, "getting access through "+alice+" at 127.0.0.1:9999") {
		t.Fatalf("start output = %q", stdout)
	}
	path, err := consent.ParsePath(alice)
	if err != nil {
		t.Fatalf("ParsePath: %v", err)
	}
	if record, _ := core.Record(path); !record.Getting {
		t.Fatalf("core record after start = %+v", record)
	}

	if _, _, err := invoke(t, cfg, "start", "social/me/bob/phone"); !errors.Is(err, consent.ErrPrecondition) {
		t.Fatalf("start through bob = %v, want ErrPrecondition", err)
	}

	stdout, _, err = invoke(t, cfg, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(stdout, "stopped getting access through "+alice) {
		t.Fatalf("stop output = %q", stdout)
	}
	if record, _ := core.Record(path); record.Getting {
		t.Fatalf("core record after stop = %+v", record)
	}
	if _, _, err := invoke(t, cfg, "stop"); !errors.Is(err, consent.ErrPrecondition) {
		t.Fatalf("second stop = %v, want ErrPrecondition", err)
	}
}

func TestConsentRejectsIllegalAction(t *testing.T) {
	_, cfg := startCore(t)

	// Bob is not offering, so there is no offer to ignore.
	_, _, err := invoke(t, cfg, "consent", "social/me/bob/phone", "ignore_offer")
	if !errors.Is(err, consent.ErrPrecondition) {
		t.Fatalf("ignore_offer without an offer = %v, want ErrPrecondition", err)
	}
}
