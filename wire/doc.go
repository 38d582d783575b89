// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the messages exchanged between the front end and
// the core.
//
// Four message kinds travel over a channel, each a concrete type
// implementing [Message]:
//
//   - [Command]: front end → core. Carries a correlation ID assigned by
//     the sender and a typed payload.
//   - [Response]: core → front end. Carries the ID of exactly one
//     Command and either a result or an [ErrorInfo].
//   - [Update]: core → front end. Unsolicited; never carries an ID.
//   - [Hello]: both directions, once per connection, before anything
//     else. The front end does not consider the channel ready until the
//     core's Hello arrives.
//
// On the wire every message is an [Envelope]. [Encode] and [Decode]
// convert between the two, and Decode is the only place an envelope's
// shape is inspected: a response without an ID, an update with one, or
// an unknown kind is rejected there, so the rest of the code switches on
// concrete types and the response and update paths can never cross.
//
// Payloads stay as [codec.RawMessage] until the catalog owner (package
// coreapi) decodes them into concrete structs.
package wire
