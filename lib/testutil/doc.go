// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern so individual tests never call time.After directly; they are
// the only place real wall-clock timeouts appear in the test suite.
// [SocketDir] returns a short directory for unix sockets (sun_path is
// limited to 108 bytes, which t.TempDir() can exceed).
//
// All helpers call t.Fatalf on failure.
package testutil
