// Package fakeclock provides a manually advanced clock for timer-driven tests.
package fakeclock

import (
	"sort"
	"sync"
	"time"
)

type timer struct {
	id      int
	when    time.Duration
	f       func()
	stopped bool
}

// Clock starts at zero and only moves when Advance is called.
// Timers fire synchronously on the goroutine calling Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int
	timers []*timer
}

func New() *Clock {
	return &Clock{}
}

func (c *Clock) AfterFunc(d time.Duration, f func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	t := &timer{id: c.nextID, when: c.now + d, f: f}
	c.timers = append(c.timers, t)

	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.stopped {
			return false
		}
		t.stopped = true
		c.remove(t)
		return true
	}
}

func (c *Clock) remove(t *timer) {
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d and fires every timer that became due,
// in deadline order. Timers scheduled by fired callbacks also fire if they
// fall within the window.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool {
			if c.timers[i].when == c.timers[j].when {
				return c.timers[i].id < c.timers[j].id
			}
			return c.timers[i].when < c.timers[j].when
		})
		if len(c.timers) == 0 || c.timers[0].when > target {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		t.stopped = true
		c.now = t.when
		c.mu.Unlock()

		t.f()
	}
}

// Now is the time elapsed since the clock was created.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the delays, relative to now, of the timers not fired yet.
func (c *Clock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.when-c.now)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
