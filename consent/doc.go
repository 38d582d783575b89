// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package consent tracks, per remote instance, whether the local user
// and the remote peer agree to proxy through one another.
//
// A [Record] holds both roles. As a getter, the local user requests
// access and the remote peer offers it; as a giver, the local user
// offers and the remote requests. Each side can also ignore the other's
// request or offer, which suppresses prompting without withdrawing
// anything. [Record.Apply] is the pure transition function for the
// eight user actions; it returns a [*PreconditionError] and the
// unchanged record when an action is illegal in the current state.
//
// [Table] holds one Record per [Path] and talks to the core through
// the [Core] interface. User actions are applied optimistically and
// then sent to the core as a modify_consent command. If the core
// rejects the command and nothing else has changed the record since,
// the local change is rolled back; otherwise the next consent update
// from the core reconciles it.
//
// A getter session starts only with mutual consent: the remote is
// offering and the local user is requesting. Only one getter session
// exists at a time. Losing mutual consent while getting stops the
// session, whether the local user cancelled the request or the remote
// peer withdrew the offer.
//
// The core keeps its own copy of every record. When a front end
// attaches, the core sends each one whole and [Table.Restore] adopts
// it; afterwards only the remote halves arrive, through
// [Table.ApplyRemote].
//
// Table methods called from update handlers (ApplyRemote, Restore,
// SessionStopped, GivingStarted, GivingStopped, Remove) never wait for
// the core: any command they need is sent from a new goroutine.
package consent
