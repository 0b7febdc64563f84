package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced [Clock].
// Callbacks registered with AfterFunc run synchronously inside
// Advance, in deadline order, on the goroutine calling Advance.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	callback func()
	stopped  bool
	fired    bool
}

// Fake creates a [FakeClock] starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, timer)
	return timer
}

// Pending returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			count++
		}
	}
	return count
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is reached. Timers armed by a callback fire within the same
// call if their deadline is also reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		expired := c.collect(target)
		if len(expired) == 0 {
			return
		}
		for _, w := range expired {
			w.callback()
		}
	}
}

func (c *FakeClock) collect(target time.Time) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expired, remaining []*fakeTimer
	for _, w := range c.waiters {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			w.fired = true
			expired = append(expired, w)
		default:
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].deadline.Before(expired[j].deadline)
	})
	return expired
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
