// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coreapi

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/peerproxy/consent"
	"github.com/bureau-foundation/peerproxy/lib/codec"
	"github.com/bureau-foundation/peerproxy/wire"
)

// Error is a handler failure with an explicit kind.
type Error struct {
	Kind    wire.ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf returns an *Error of the given kind.
func Errorf(kind wire.ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// errorInfo converts a handler error to its wire form.
func errorInfo(err error) *wire.ErrorInfo {
	var coreError *Error
	switch {
	case errors.As(err, &coreError):
		return &wire.ErrorInfo{Kind: coreError.Kind, Message: coreError.Message}
	case errors.Is(err, consent.ErrPrecondition):
		return &wire.ErrorInfo{Kind: wire.ErrorPrecondition, Message: err.Error()}
	default:
		return &wire.ErrorInfo{Kind: wire.ErrorRemote, Message: err.Error()}
	}
}

// DecodePayload decodes a command payload into v, reporting a missing
// or undecodable payload as invalid_payload.
func DecodePayload(payload codec.RawMessage, v any) error {
	if len(payload) == 0 {
		return Errorf(wire.ErrorInvalidPayload, "missing payload")
	}
	if err := codec.Unmarshal(payload, v); err != nil {
		return Errorf(wire.ErrorInvalidPayload, "%v", err)
	}
	return nil
}
