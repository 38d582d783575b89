// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The connector schedules two kinds of timers: per-command response
// deadlines (AfterFunc) and reconnect backoff waits (After). Both go
// through a [Clock] so tests can drive them with [Fake] instead of
// sleeping:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	connector := bridge.NewConnector(dialer, bridge.Options{Clock: fake})
//	// ... send a command ...
//	fake.WaitForTimers(1)
//	fake.Advance(time.Minute) // the command's deadline fires
package clock
