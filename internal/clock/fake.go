package clock

import (
	"sync"
	"time"
)

// Fake returns a FakeClock starting at initial. Time stands still until
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests.
//
// Advance walks time forward one deadline at a time: before a waiter
// fires, Now() reports that waiter's deadline, so a callback that
// re-arms itself observes the same time it would under a real clock.
// Callbacks run synchronously in the goroutine calling Advance. Do not
// call Advance from inside a callback.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
	nextSeq uint64
}

type fakeWaiter struct {
	deadline time.Time
	seq      uint64 // registration order, breaks deadline ties

	channel  chan time.Time // After and tickers
	callback func()         // AfterFunc
	interval time.Duration  // non-zero for tickers

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock passes d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.addLocked(&fakeWaiter{deadline: c.current.Add(d), channel: ch})
	return ch
}

// AfterFunc schedules f. If d <= 0, f runs before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.addLocked(w)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// NewTicker returns a ticker firing every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &fakeWaiter{deadline: c.current.Add(d), channel: ch, interval: d}
	c.addLocked(w)

	return &Ticker{C: ch, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
	}}
}

// Advance moves the clock forward by d, firing every waiter whose
// deadline falls inside the window in deadline order. Waiters armed by
// callbacks during the advance fire too if they land inside the window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		w, at, ok := c.popNext(target)
		if !ok {
			break
		}
		if w.callback != nil {
			w.callback()
			continue
		}
		select {
		case w.channel <- at:
		default:
		}
	}

	c.mu.Lock()
	if c.current.Before(target) {
		c.current = target
	}
	c.mu.Unlock()
}

// PendingCount returns the number of armed, unfired waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

func (c *FakeClock) addLocked(w *fakeWaiter) {
	w.seq = c.nextSeq
	c.nextSeq++
	c.waiters = append(c.waiters, w)
}

// popNext removes the earliest waiter due at or before target and moves
// the clock to its deadline. Tickers are rescheduled instead of removed.
func (c *FakeClock) popNext(target time.Time) (*fakeWaiter, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	best := -1
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		live = append(live, w)
		if w.deadline.After(target) {
			continue
		}
		if best < 0 || earlier(w, live[best]) {
			best = len(live) - 1
		}
	}
	c.waiters = live
	if best < 0 {
		return nil, time.Time{}, false
	}

	w := c.waiters[best]
	at := w.deadline
	if at.After(c.current) {
		c.current = at
	}
	if w.interval > 0 {
		w.deadline = w.deadline.Add(w.interval)
		w.seq = c.nextSeq
		c.nextSeq++
	} else {
		w.fired = true
		c.waiters = append(c.waiters[:best], c.waiters[best+1:]...)
	}
	return w, at, true
}

func earlier(a, b *fakeWaiter) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.seq < b.seq
}
