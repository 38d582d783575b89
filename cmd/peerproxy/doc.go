// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// peerproxy is the command-line front end for a peerproxy core. Each
// invocation connects to the core over the configured transport (unix
// socket or WebSocket), loads the core's consent records into a fresh
// front-end context, runs its command through that context's consent
// table, and exits. Local precondition failures are reported without
// contacting the core, and notices meant for the user go to stderr. The watch subcommand instead stays connected
// and prints every update the core pushes along with the consent state
// the front end derives from it.
//
// Consent paths are written network/local_user/user/instance, the same
// form the core and front end use in their logs.
package main
