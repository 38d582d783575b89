// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"

	"github.com/bureau-foundation/peerproxy/lib/codec"
)

// Kind discriminates envelopes.
type Kind string

const (
	KindCommand  Kind = "command"
	KindResponse Kind = "response"
	KindUpdate   Kind = "update"
	KindHello    Kind = "hello"
)

// CommandType identifies an operation the front end asks the core to
// perform.
type CommandType string

const (
	// CommandStart begins getting access through a remote instance.
	// Payload: coreapi.StartRequest. Result: consent.Endpoint.
	CommandStart CommandType = "start"

	// CommandStop ends the active getting session. No payload.
	CommandStop CommandType = "stop"

	// CommandModifyConsent applies a consent action for a path.
	// Payload: coreapi.ConsentCommand.
	CommandModifyConsent CommandType = "modify_consent"

	// CommandGetVersion asks for the core's version. Result:
	// coreapi.VersionInfo.
	CommandGetVersion CommandType = "get_version"

	// CommandGetCredentials asks the core for the cached credentials of
	// a network. Payload: coreapi.CredentialsRequest. Result:
	// coreapi.Credentials.
	CommandGetCredentials CommandType = "get_credentials"

	// CommandCredentials hands the core credentials it asked for with
	// an UpdateGetCredentials. Payload: coreapi.Credentials.
	CommandCredentials CommandType = "credentials"
)

// UpdateType identifies an unsolicited notification from the core.
type UpdateType string

const (
	// UpdateLaunchUproxy asks the front end to bring its UI to the
	// front. No payload.
	UpdateLaunchUproxy UpdateType = "launch_uproxy"

	// UpdateGetCredentials asks the front end to log the user in to a
	// network. Payload: coreapi.CredentialsRequest.
	UpdateGetCredentials UpdateType = "get_credentials"

	// UpdateInstanceConsent carries the remote halves of a consent
	// record, or the whole record when sent right after the handshake.
	// Payload: coreapi.InstanceConsent.
	UpdateInstanceConsent UpdateType = "instance_consent"

	// UpdateStartGiving reports that a remote instance started getting
	// access through us. Payload: coreapi.SessionEvent.
	UpdateStartGiving UpdateType = "start_giving"

	// UpdateStopGiving reports that the giving session ended.
	// Payload: coreapi.SessionEvent.
	UpdateStopGiving UpdateType = "stop_giving"

	// UpdateStopGetting reports that the core tore down our getting
	// session on its own (remote went away, network failure).
	// Payload: coreapi.SessionEvent.
	UpdateStopGetting UpdateType = "stop_getting"

	// UpdateCoreError reports a core-side failure not tied to any
	// command. Payload: coreapi.CoreError.
	UpdateCoreError UpdateType = "core_error"

	// UpdateInstanceRemoved reports that an instance left the roster.
	// Payload: coreapi.SessionEvent.
	UpdateInstanceRemoved UpdateType = "instance_removed"
)

// Roles carried in Hello.
const (
	RoleFrontEnd = "frontend"
	RoleCore     = "core"
)

// Message is implemented by Command, Response, Update, and Hello.
type Message interface {
	kind() Kind
}

// Command is a request from the front end to the core.
type Command struct {
	ID      uint64
	Type    CommandType
	Payload codec.RawMessage
}

// Response answers exactly one Command. Error is nil on success.
type Response struct {
	ID     uint64
	Result codec.RawMessage
	Error  *ErrorInfo
}

// Update is an unsolicited notification from the core.
type Update struct {
	Type    UpdateType
	Payload codec.RawMessage
}

// Hello opens every connection.
type Hello struct {
	Role    string
	Version string
	// Session identifies the connection in logs on both sides.
	Session string
}

func (*Command) kind() Kind  { return KindCommand }
func (*Response) kind() Kind { return KindResponse }
func (*Update) kind() Kind   { return KindUpdate }
func (*Hello) kind() Kind    { return KindHello }

// Envelope is the serialized form of every message.
type Envelope struct {
	Kind    Kind             `cbor:"kind"`
	ID      uint64           `cbor:"id,omitempty"`
	Type    string           `cbor:"type,omitempty"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
	Error   *ErrorInfo       `cbor:"error,omitempty"`
	Role    string           `cbor:"role,omitempty"`
	Version string           `cbor:"version,omitempty"`
	Session string           `cbor:"session,omitempty"`
}

// Encode converts a message to its envelope.
func Encode(message Message) (Envelope, error) {
	switch m := message.(type) {
	case *Command:
		if m.ID == 0 {
			return Envelope{}, fmt.Errorf("wire: command %q has no correlation id", m.Type)
		}
		return Envelope{Kind: KindCommand, ID: m.ID, Type: string(m.Type), Payload: m.Payload}, nil
	case *Response:
		if m.ID == 0 {
			return Envelope{}, fmt.Errorf("wire: response has no correlation id")
		}
		return Envelope{Kind: KindResponse, ID: m.ID, Payload: m.Result, Error: m.Error}, nil
	case *Update:
		return Envelope{Kind: KindUpdate, Type: string(m.Type), Payload: m.Payload}, nil
	case *Hello:
		return Envelope{Kind: KindHello, Role: m.Role, Version: m.Version, Session: m.Session}, nil
	case nil:
		return Envelope{}, fmt.Errorf("wire: nil message")
	default:
		return Envelope{}, fmt.Errorf("wire: unsupported message type %T", message)
	}
}

// Decode validates an envelope and returns the concrete message.
func Decode(envelope Envelope) (Message, error) {
	switch envelope.Kind {
	case KindCommand:
		if envelope.ID == 0 {
			return nil, fmt.Errorf("wire: command envelope without correlation id")
		}
		if envelope.Type == "" {
			return nil, fmt.Errorf("wire: command envelope %d without type", envelope.ID)
		}
		return &Command{ID: envelope.ID, Type: CommandType(envelope.Type), Payload: envelope.Payload}, nil
	case KindResponse:
		if envelope.ID == 0 {
			return nil, fmt.Errorf("wire: response envelope without correlation id")
		}
		return &Response{ID: envelope.ID, Result: envelope.Payload, Error: envelope.Error}, nil
	case KindUpdate:
		if envelope.ID != 0 {
			return nil, fmt.Errorf("wire: update envelope %q carries correlation id %d", envelope.Type, envelope.ID)
		}
		if envelope.Type == "" {
			return nil, fmt.Errorf("wire: update envelope without type")
		}
		return &Update{Type: UpdateType(envelope.Type), Payload: envelope.Payload}, nil
	case KindHello:
		if envelope.Role == "" {
			return nil, fmt.Errorf("wire: hello envelope without role")
		}
		return &Hello{Role: envelope.Role, Version: envelope.Version, Session: envelope.Session}, nil
	default:
		return nil, fmt.Errorf("wire: unknown envelope kind %q", envelope.Kind)
	}
}

// MarshalMessage encodes a message to CBOR bytes.
func MarshalMessage(message Message) ([]byte, error) {
	envelope, err := Encode(message)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(envelope)
}

// UnmarshalMessage decodes CBOR bytes into a message.
func UnmarshalMessage(data []byte) (Message, error) {
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("wire: decoding envelope: %w", err)
	}
	return Decode(envelope)
}
