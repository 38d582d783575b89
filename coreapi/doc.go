// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package coreapi defines the typed command and update payloads
// exchanged between the front end and the core, a typed [Client] over
// the command surface, and a [Server] for writing cores in Go.
//
// Every payload is CBOR. Command payload and result types are listed
// next to the command constants in package wire.
//
// The Server accepts front ends from a [transport.Listener]. Each
// connection opens with a hello exchange; after that, commands from
// one front end are handled in arrival order and answered with a
// response carrying the same correlation ID. Handler errors are
// reported with their [wire.ErrorKind]: return an [*Error] to choose
// the kind, otherwise consent precondition failures map to
// precondition and everything else to remote. [Server.Publish]
// broadcasts an update to every connected front end.
package coreapi
