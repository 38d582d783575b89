// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"

	"github.com/bureau-foundation/peerproxy/wire"
)

// Error is the failure of a single command. Kind is preserved from the
// core's response when the core rejected the command, or set locally
// for connection loss and timeouts.
type Error struct {
	Kind    wire.ErrorKind
	Command wire.CommandType
	Message string
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Command != "" {
		prefix = fmt.Sprintf("%s: %s", e.Command, e.Kind)
	}
	if e.Message == "" {
		return prefix
	}
	return prefix + ": " + e.Message
}

// Is reports whether target is an *Error of the same Kind, so the
// sentinels below match any error of their kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConnectionLost = &Error{Kind: wire.ErrorConnectionLost}
	ErrTimeout        = &Error{Kind: wire.ErrorTimeout}
	ErrRemote         = &Error{Kind: wire.ErrorRemote}
	ErrPrecondition   = &Error{Kind: wire.ErrorPrecondition}
	ErrUnknownCommand = &Error{Kind: wire.ErrorUnknownCommand}
	ErrInvalidPayload = &Error{Kind: wire.ErrorInvalidPayload}
)

func connectionLost(command wire.CommandType, message string) *Error {
	return &Error{Kind: wire.ErrorConnectionLost, Command: command, Message: message}
}

func errorFromResponse(command wire.CommandType, info *wire.ErrorInfo) *Error {
	kind := info.Kind
	if kind == "" {
		kind = wire.ErrorRemote
	}
	return &Error{Kind: kind, Command: command, Message: info.Message}
}
