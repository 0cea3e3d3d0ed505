package clock

import (
	"sync"
	"time"
)

// FakeClock only moves when Advance is called. Callbacks run on the
// goroutine calling Advance, in deadline order, with no lock held, so a
// callback may schedule further timers.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	callback func()
	done     bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	timer := &fakeTimer{clock: c, deadline: c.current.Add(d), callback: f}
	if d <= 0 {
		timer.done = true
		c.mu.Unlock()
		f()
		return timer
	}
	c.waiters = append(c.waiters, timer)
	c.mu.Unlock()
	return timer
}

// Advance moves the clock forward by d, firing every timer whose
// deadline falls inside the advanced span.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDue(target)
		if next == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		c.mu.Unlock()
		next.callback()
	}
}

// Set jumps to t without firing timers. Used to position tests at an
// exact wall-clock instant.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, w := range c.waiters {
		if !w.done {
			count++
		}
	}
	return count
}

// popDue removes and returns the earliest live timer due at or before
// target. Caller holds c.mu.
func (c *FakeClock) popDue(target time.Time) *fakeTimer {
	index := -1
	for i, w := range c.waiters {
		if w.done || w.deadline.After(target) {
			continue
		}
		if index == -1 || w.deadline.Before(c.waiters[index].deadline) {
			index = i
		}
	}
	live := c.waiters[:0]
	var due *fakeTimer
	for i, w := range c.waiters {
		if i == index {
			due = w
			w.done = true
			continue
		}
		if !w.done {
			live = append(live, w)
		}
	}
	c.waiters = live
	return due
}
