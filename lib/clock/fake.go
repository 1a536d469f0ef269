// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only when Advance is called.
// It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance or Sleep on the same clock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingTimer
	changed *sync.Cond
}

type pendingTimer struct {
	at time.Time

	// Exactly one of channel and callback is set.
	channel  chan time.Time
	callback func()

	// Non-zero for tickers, which are rescheduled after firing.
	every time.Duration

	active bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot channel timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.addLocked(&pendingTimer{at: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc registers f to run during the Advance that crosses d. A
// non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stop:  func() bool { return false },
			reset: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	entry := &pendingTimer{at: c.now.Add(d), callback: f}
	c.addLocked(entry)
	c.mu.Unlock()

	return &Timer{
		stop: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.removeLocked(entry)
		},
		reset: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := c.removeLocked(entry)
			entry.at = c.now.Add(d)
			c.addLocked(entry)
			return wasActive
		},
	}
}

// NewTicker registers a repeating channel timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	channel := make(chan time.Time, 1)

	c.mu.Lock()
	entry := &pendingTimer{at: c.now.Add(d), channel: channel, every: d}
	c.addLocked(entry)
	c.mu.Unlock()

	return &Ticker{
		C: channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.removeLocked(entry)
		},
		reset: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.removeLocked(entry)
			entry.every = d
			entry.at = c.now.Add(d)
			c.addLocked(entry)
		},
	}
}

// Sleep blocks until the clock is advanced past d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is at or before the new time, earliest first. Channel
// deliveries never block. A ticker spanning several intervals fires
// once per interval, subject to its one-slot buffer.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		entry := c.popDue(target)
		if entry == nil {
			return
		}
		if entry.callback != nil {
			entry.callback()
			continue
		}
		select {
		case entry.channel <- entry.at:
		default:
		}
	}
}

// popDue removes and returns the earliest timer due at or before
// target, rescheduling tickers. Returns nil when nothing is due.
func (c *FakeClock) popDue(target time.Time) *pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 || c.pending[0].at.After(target) {
		return nil
	}
	entry := c.pending[0]
	c.pending = c.pending[1:]
	entry.active = false

	if entry.every > 0 {
		next := *entry
		entry.at = entry.at.Add(entry.every)
		c.addLocked(entry)
		return &next
	}
	return entry
}

// WaitForTimers blocks until at least n timers are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered timers that have not
// fired or been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// addLocked inserts entry keeping pending sorted by deadline. Entries
// with equal deadlines keep registration order.
func (c *FakeClock) addLocked(entry *pendingTimer) {
	position, _ := slices.BinarySearchFunc(c.pending, entry.at, func(existing *pendingTimer, at time.Time) int {
		if existing.at.After(at) {
			return 1
		}
		return -1
	})
	c.pending = slices.Insert(c.pending, position, entry)
	entry.active = true
	c.changed.Broadcast()
}

func (c *FakeClock) removeLocked(entry *pendingTimer) bool {
	if !entry.active {
		return false
	}
	index := slices.Index(c.pending, entry)
	if index >= 0 {
		c.pending = slices.Delete(c.pending, index, index+1)
	}
	entry.active = false
	return true
}
