// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge connects the front end to the core: it turns a raw,
// possibly-disconnected [transport.Conn] into request/response
// commands plus a stream of push updates.
//
// [Connector] owns the connection. Run dials the core, performs the
// hello handshake, and reads until the connection drops, then redials
// with exponential backoff forever. [Connector.OnceConnected] is closed
// after the first successful handshake and stays closed across later
// reconnects; consent actions wait on it before issuing commands.
//
// [Connector.Send] assigns a fresh correlation ID, records the command
// in the pending table, and writes it. Registration and write happen
// under one lock, so commands reach the transport in call order. The
// returned [Future] settles exactly once: with the matching response,
// with a request timeout, or with ErrConnectionLost when the connection
// drops first. Commands are never replayed after a reconnect. Sending
// while disconnected fails immediately rather than queueing.
//
// Responses whose correlation ID is unknown (never issued, already
// settled, or timed out) are dropped and logged at Debug level.
//
// Updates are dispatched by a [Router] on the reader goroutine, one at
// a time, to every handler registered for the update type in
// registration order. A handler that panics or returns an error is
// logged and does not stop the handlers after it. Handlers run on the
// reader goroutine: a handler must not wait on a Future, because the
// response it waits for can only be read after the handler returns.
// Spawn a goroutine for that kind of work.
//
// Failures carry a [wire.ErrorKind] in an [*Error]. Compare with
// errors.Is against ErrConnectionLost, ErrTimeout, ErrRemote, or
// ErrPrecondition.
package bridge
