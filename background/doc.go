// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package background assembles the front end's long-lived state: the
// connection to the core, the typed core client, and the consent
// table, wired to the core's updates.
//
// [New] builds a [Context] explicitly from its collaborators; there is
// no package-level state. The Context owns its update registrations
// and releases them in Close.
//
// Host pages talk to the front end with small JSON messages. They are
// decoded once by [ParseHostRequest] into a [HostRequest] variant and
// answered by [Context.HandleHostRequest].
package background
