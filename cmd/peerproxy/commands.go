// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/coreapi"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/lib/version"
	"github.com/bureau-foundation/peerproxy/wire"
)

// tokenVariable supplies the credentials watch hands to the core when
// it asks for a login.
const tokenVariable = "PEERPROXY_TOKEN"

func requireArgs(name string, args []string, count int, usage string) error {
	if len(args) != count {
		return fmt.Errorf("usage: peerproxy %s %s", name, usage)
	}
	return nil
}

func runVersion(ctx context.Context, env *environment, args []string) error {
	if err := requireArgs("version", args, 0, ""); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "peerproxy %s\n", version.Full())

	frontEnd, shutdown, err := env.attach(ctx)
	if err != nil {
		return err
	}
	defer shutdown()
	info, err := frontEnd.Core.GetVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "core %s (%s)\n", info.Version, info.Commit)
	return nil
}

func runStart(ctx context.Context, env *environment, args []string) error {
	if err := requireArgs("start", args, 1, "<path>"); err != nil {
		return err
	}
	path, err := consent.ParsePath(args[0])
	if err != nil {
		return err
	}

	frontEnd, shutdown, err := env.attach(ctx)
	if err != nil {
		return err
	}
	defer shutdown()
	endpoint, err := frontEnd.Consent.Start(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "getting access through %s at %s\n", path, endpoint)
	return nil
}

func runStop(ctx context.Context, env *environment, args []string) error {
	if err := requireArgs("stop", args, 0, ""); err != nil {
		return err
	}
	frontEnd, shutdown, err := env.attach(ctx)
	if err != nil {
		return err
	}
	defer shutdown()
	path, _ := frontEnd.Consent.Getting()
	if err := frontEnd.Consent.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "stopped getting access through %s\n", path)
	return nil
}

func runConsent(ctx context.Context, env *environment, args []string) error {
	if err := requireArgs("consent", args, 2, "<path> <action>"); err != nil {
		return err
	}
	path, err := consent.ParsePath(args[0])
	if err != nil {
		return err
	}
	action, err := consent.ParseAction(args[1])
	if err != nil {
		return fmt.Errorf("%w (want one of: %s)", err, actionList())
	}

	frontEnd, shutdown, err := env.attach(ctx)
	if err != nil {
		return err
	}
	defer shutdown()
	if err := frontEnd.Consent.Do(ctx, path, action); err != nil {
		return err
	}
	if entry, ok := frontEnd.Consent.Get(path); ok {
		fmt.Fprintln(env.stdout, describeEntry(entry))
	}
	return nil
}

func actionList() string {
	var names []string
	for _, action := range consent.Actions() {
		names = append(names, action.String())
	}
	return strings.Join(names, ", ")
}

// terminalHost stands in for the window a graphical front end would
// raise.
type terminalHost struct {
	out io.Writer
}

func (h terminalHost) BringToFront() {
	fmt.Fprintln(h.out, "core asked to show the front end")
}

// terminalAuthenticator logs in with a token from the environment, or
// prompts for one when stdin is a terminal.
type terminalAuthenticator struct{}

func (terminalAuthenticator) Login(ctx context.Context, network string) (coreapi.Credentials, error) {
	token := os.Getenv(tokenVariable)
	if token == "" {
		prompted, err := promptToken(network)
		if err != nil {
			return coreapi.Credentials{}, err
		}
		token = prompted
	}
	return coreapi.Credentials{Network: network, Token: token}, nil
}

func promptToken(network string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("core requested a login to %s; set %s", network, tokenVariable)
	}
	fmt.Fprintf(os.Stderr, "Token for %s: ", network)
	token, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	if len(token) == 0 {
		return "", fmt.Errorf("empty token for %s", network)
	}
	return string(token), nil
}

var watchedUpdates = []wire.UpdateType{
	wire.UpdateLaunchUproxy,
	wire.UpdateGetCredentials,
	wire.UpdateInstanceConsent,
	wire.UpdateStartGiving,
	wire.UpdateStopGiving,
	wire.UpdateStopGetting,
	wire.UpdateCoreError,
	wire.UpdateInstanceRemoved,
}

func runWatch(ctx context.Context, env *environment, args []string) error {
	if err := requireArgs("watch", args, 0, ""); err != nil {
		return err
	}
	frontEnd, err := env.newFrontEnd()
	if err != nil {
		return err
	}
	defer frontEnd.Close()

	// Registered after the front end's own handlers, so the table
	// already reflects each update when it is printed.
	for _, updateType := range watchedUpdates {
		registration := frontEnd.Connector.OnUpdate(updateType, func(update *wire.Update) error {
			printUpdate(env.stdout, frontEnd.Consent, update)
			return nil
		})
		defer registration.Close()
	}

	err = frontEnd.Connector.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printUpdate(out io.Writer, table *consent.Table, update *wire.Update) {
	fmt.Fprintf(out, "%s %s\n", update.Type, renderPayload(update.Payload))

	var event coreapi.SessionEvent
	if codec.Unmarshal(update.Payload, &event) != nil || event.Path.Validate() != nil {
		return
	}
	if entry, ok := table.Get(event.Path); ok {
		fmt.Fprintf(out, "    %s\n", describeEntry(entry))
	}
}

// renderPayload shows a CBOR payload as JSON, falling back to CBOR
// diagnostic notation for values JSON cannot hold.
func renderPayload(payload codec.RawMessage) string {
	if len(payload) == 0 {
		return "-"
	}
	var value any
	if err := codec.Unmarshal(payload, &value); err == nil {
		if rendered, err := json.Marshal(value); err == nil {
			return string(rendered)
		}
	}
	diagnosed, err := codec.Diagnose(payload)
	if err != nil {
		return fmt.Sprintf("<undecodable %d bytes>", len(payload))
	}
	return diagnosed
}

func describeEntry(entry consent.Entry) string {
	record := entry.Record
	var flags []string
	for _, flag := range []struct {
		set  bool
		name string
	}{
		{record.LocalRequesting, "requesting"},
		{record.RemoteOffering, "offered"},
		{record.OfferIgnored, "offer-ignored"},
		{record.LocalOffering, "offering"},
		{record.RemoteRequesting, "requested"},
		{record.RequestIgnored, "request-ignored"},
		{record.Getting, "getting"},
		{record.Giving, "giving"},
	} {
		if flag.set {
			flags = append(flags, flag.name)
		}
	}
	if len(flags) == 0 {
		flags = append(flags, "none")
	}
	return fmt.Sprintf("%s (%s): %s", entry.Name, entry.Path, strings.Join(flags, " "))
}
