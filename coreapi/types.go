// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coreapi

import "github.com/bureau-foundation/peerproxy/consent"

// StartRequest is the payload of a start command.
type StartRequest struct {
	Path consent.Path `cbor:"path"`
}

// ConsentCommand is the payload of a modify_consent command.
type ConsentCommand struct {
	Path   consent.Path   `cbor:"path"`
	Action consent.Action `cbor:"action"`
}

// VersionInfo is the result of get_version.
type VersionInfo struct {
	Version string `cbor:"version"`
	Commit  string `cbor:"commit,omitempty"`
}

// CredentialsRequest names the network whose credentials are wanted.
// It is both the get_credentials command payload and the
// get_credentials update payload.
type CredentialsRequest struct {
	Network string `cbor:"network"`
}

// Credentials is an access token for a network.
type Credentials struct {
	Network string `cbor:"network"`
	Token   string `cbor:"token"`
}

// InstanceConsent carries the core's view of the remote halves of one
// instance's consent record. The updates a core sends right after the
// handshake also set Record, the core's whole copy, which replaces the
// front end's record outright.
type InstanceConsent struct {
	Path             consent.Path    `cbor:"path"`
	Name             string          `cbor:"name,omitempty"`
	RemoteOffering   bool            `cbor:"remote_offering"`
	RemoteRequesting bool            `cbor:"remote_requesting"`
	Record           *consent.Record `cbor:"record,omitempty"`
}

// SessionEvent is the payload of start_giving, stop_giving,
// stop_getting, and instance_removed.
type SessionEvent struct {
	Path consent.Path `cbor:"path"`
}

// CoreError is the payload of a core_error update.
type CoreError struct {
	Message string `cbor:"message"`
}
