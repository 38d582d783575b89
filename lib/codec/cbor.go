// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. The same command or update
// always produces the same bytes, so tests can compare encoded
// payloads directly.
var encMode cbor.EncMode

// decMode is the CBOR decoder used for everything read off a
// transport. Unknown fields are ignored, so a core that adds payload
// fields keeps working with an older front end.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// consent.Action implements encoding.TextMarshaler and travels as
	// its name ("request", "cancel_offer"). Without this setting it
	// would encode as its integer value, and reordering the Go
	// constants would silently change the wire protocol.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// The protocol never uses non-string map keys. When the target
		// is any, the decoder must pick a concrete map type, and the
		// CBOR default of map[any]any cannot be passed to
		// encoding/json. The CLI decodes unknown update payloads into
		// any and re-renders them as JSON, so it needs map[string]any.
		// Struct targets are unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Mirrors the TextMarshaler setting above, so an action name
		// decodes back into the same consent.Action.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
		// A protocol message is at most a few kilobytes. These limits
		// sit far above anything a well-behaved peer sends and stop a
		// corrupt one from making the decoder allocate without bound.
		// The WebSocket transport also caps frame size, but CBOR on a
		// unix socket is self-delimiting and has no frame to cap, so
		// on that transport these are the only bound.
		MaxArrayElements: 65536,
		MaxMapPairs:      65536,
		MaxNestedLevels:  32,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. It is a type alias so other
// packages import only lib/codec, never fxamacker/cbor directly, and
// cannot end up with an encoder configured differently from encMode.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. A type alias for the same reason
// as Encoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value. It implements
// cbor.Marshaler and cbor.Unmarshaler, so an envelope field of this
// type is copied verbatim rather than decoded. Command and update
// payloads use it: the envelope is decoded once by the transport, and
// the payload only when a handler knows its concrete type.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w using Core
// Deterministic Encoding.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r with the same
// options and limits as Unmarshal. The stream transport reads one
// envelope per Decode call.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// MarshalRaw encodes v and returns it as a RawMessage. A nil v yields a
// nil RawMessage so optional payloads stay absent on the wire.
func MarshalRaw(v any) (RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	return RawMessage(data), nil
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for data.
// The CLI uses it to print payloads of update types it does not know.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
