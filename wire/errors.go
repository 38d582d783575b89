// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "fmt"

// ErrorKind classifies a failed command. Kinds survive the trip across
// the wire so callers can branch on them.
type ErrorKind string

const (
	// ErrorConnectionLost: the channel went away before a response.
	// Produced locally by the connector, never sent by a core.
	ErrorConnectionLost ErrorKind = "connection_lost"

	// ErrorTimeout: no response within the connector's deadline.
	// Produced locally.
	ErrorTimeout ErrorKind = "timeout"

	// ErrorRemote: the core tried and failed (start failure,
	// credential failure).
	ErrorRemote ErrorKind = "remote"

	// ErrorPrecondition: the command was illegal in the current state.
	ErrorPrecondition ErrorKind = "precondition"

	// ErrorUnknownCommand: the core has no handler for the type.
	ErrorUnknownCommand ErrorKind = "unknown_command"

	// ErrorInvalidPayload: the payload did not decode.
	ErrorInvalidPayload ErrorKind = "invalid_payload"
)

// ErrorInfo is the failure half of a Response.
type ErrorInfo struct {
	Kind    ErrorKind `cbor:"kind"`
	Message string    `cbor:"message"`
}

func (e *ErrorInfo) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
