package clock

import "time"

// Handle is a cancellable timer slot carrying a generation number.
//
// Every Arm supersedes the previous one and bumps the generation. The
// callback receives the generation it was armed with and must hand it
// back to Claim before acting: a timer that was cancelled or re-armed
// after it already started firing fails the Claim and must do nothing.
//
// Handle is not safe for concurrent use. The owner serializes Arm,
// Cancel and Claim behind its own lock, which is what makes the
// generation check race-free.
type Handle struct {
	clock Clock
	gen   uint64
	timer *Timer
}

// NewHandle returns an idle Handle scheduling on c.
func NewHandle(c Clock) *Handle {
	return &Handle{clock: c}
}

// Arm cancels any pending timer and schedules fire after d. It returns
// the generation passed to fire.
func (h *Handle) Arm(d time.Duration, fire func(gen uint64)) uint64 {
	h.Cancel()
	gen := h.gen
	h.timer = h.clock.AfterFunc(d, func() { fire(gen) })
	return gen
}

// Cancel stops the pending timer, if any, and invalidates its
// generation. Cancelling an idle handle is a no-op apart from the bump.
func (h *Handle) Cancel() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.gen++
}

// Claim reports whether gen is the live generation of a pending timer.
// A successful claim consumes the timer: the handle becomes idle and a
// second claim with the same generation fails.
func (h *Handle) Claim(gen uint64) bool {
	if h.timer == nil || gen != h.gen {
		return false
	}
	h.timer = nil
	h.gen++
	return true
}

// Pending reports whether a timer is armed and not yet claimed.
func (h *Handle) Pending() bool { return h.timer != nil }

// Generation returns the current generation.
func (h *Handle) Generation() uint64 { return h.gen }
