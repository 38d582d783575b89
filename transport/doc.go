// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the duplex channels between the front end
// and the core.
//
// A [Conn] moves [wire.Message] values in both directions. Send is safe
// for concurrent use and preserves call order; Receive is called from a
// single reader goroutine. Messages are decoded once, inside Receive,
// so callers never see raw envelopes. A message that arrives intact but
// has an invalid shape is reported with [ErrMalformed]; the connection
// is still usable and the caller decides whether to continue reading.
// Any other Receive error means the connection is gone.
//
// The front end reaches the core through a [Dialer]; the core accepts
// front ends through a [Listener]. Three implementations ship:
//
//   - [NetDialer] and [NetListener]: CBOR values streamed over a unix
//     or TCP socket. CBOR is self-delimiting, so no framing is added.
//     On Linux the unix listener checks SO_PEERCRED against an allowed
//     UID list.
//   - [WebSocketDialer] and [WebSocketListener]: one CBOR envelope per
//     binary WebSocket message, for front ends hosted in a browser.
//   - [MemoryNetwork]: in-process pipes with controls for refusing
//     dials and severing live connections. Tests use it to exercise
//     reconnection without sockets.
package transport
