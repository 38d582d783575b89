// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock starting at initial. Time only moves when
// Advance is called. After and AfterFunc register waiters that fire
// once an Advance carries the clock to their deadline.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use. AfterFunc callbacks run synchronously inside Advance,
// in deadline order, so a callback must not call Advance itself.
//
// Request timeouts and reconnect backoff are registered from the
// connector's own goroutines, so a test cannot know when a timer
// exists. WaitForTimers closes that gap: wait for the expected number
// of waiters, then Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter

	// changed is signalled whenever a waiter is added, for
	// WaitForTimers.
	changed *sync.Cond
}

// waiter is one pending After or AfterFunc.
type waiter struct {
	deadline time.Time

	// channel receives the fire time for After. Nil for AfterFunc.
	channel chan time.Time

	// callback runs inside Advance for AfterFunc. Nil for After.
	callback func()

	// done is set once the waiter fires or its Timer is stopped, so
	// overlapping Advance calls and a racing Stop cannot both win.
	done bool
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a waiter that fires once the clock reaches now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &waiter{deadline: c.current.Add(d), channel: channel})
	c.changed.Broadcast()
	return channel
}

// AfterFunc registers f to run once the clock reaches now+d. If d <= 0,
// f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	entry := &waiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, entry)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if entry.done {
			return false
		}
		entry.done = true
		return true
	}}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline has been reached, in deadline order. Callbacks and channel
// sends happen after the lock is released, so a callback may register
// new timers or stop others.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current

	var due, remaining []*waiter
	for _, entry := range c.waiters {
		switch {
		case entry.done:
		case !entry.deadline.After(target):
			entry.done = true
			due = append(due, entry)
		default:
			remaining = append(remaining, entry)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, entry := range due {
		if entry.callback != nil {
			entry.callback()
			continue
		}
		entry.channel <- target
	}
}

// WaitForTimers blocks until at least n waiters are pending. Use it to
// avoid racing a goroutine that is about to register a timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered, unfired, unstopped
// waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	count := 0
	for _, entry := range c.waiters {
		if !entry.done {
			count++
		}
	}
	return count
}
