// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by the
// core and the front end.
//
// Everything that crosses the bridge between the two processes is CBOR:
// the message envelopes (commands, responses, updates, handshakes) and
// the payloads they carry. Host-page requests and the reference core's
// roster file are JSON and do not go through this package.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical message always produces the same bytes. Payloads are
// carried as [RawMessage] inside envelopes and decoded by whoever owns
// the concrete type, which keeps the transport ignorant of the catalog.
//
// For buffer-oriented operations (payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (unix and TCP transports):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Wire types use `cbor` struct tags. Types that are also rendered as
// JSON by the CLI use `json` tags only; fxamacker/cbor reads them as a
// fallback. Never put both tags on one field.
package codec
