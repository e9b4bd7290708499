// Package clock provides the time source used by every timer in the
// experiment core.
//
// Production code takes a Clock instead of calling time.Now or
// time.AfterFunc directly. Real() is backed by the time package; Fake()
// only moves when Advance is called, and fires AfterFunc callbacks
// synchronously in deadline order so break and watchdog races can be
// replayed exactly in tests.
package clock

import "time"

// Clock abstracts the time operations the experiment needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The returned Timer cancels
	// the pending call. Real clocks run f in its own goroutine; the fake
	// clock runs it inside Advance.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It reports whether the call
// stopped the timer; false means it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C. C has capacity 1, so a slow
// reader drops ticks instead of queueing them.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }
