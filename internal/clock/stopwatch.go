package clock

import "time"

// Stopwatch accumulates running time across pause/resume cycles.
// Elapsed never decreases and does not advance while paused or after
// Stop. Not safe for concurrent use.
type Stopwatch struct {
	clock Clock
	state watchState
	since time.Time     // start of the current running segment
	total time.Duration // closed running segments
}

type watchState int

const (
	watchIdle watchState = iota
	watchRunning
	watchPaused
	watchStopped
)

// NewStopwatch returns an idle stopwatch on c.
func NewStopwatch(c Clock) *Stopwatch {
	return &Stopwatch{clock: c}
}

// Start begins timing. No-op unless idle.
func (s *Stopwatch) Start() {
	if s.state != watchIdle {
		return
	}
	s.since = s.clock.Now()
	s.state = watchRunning
}

// Pause freezes the stopwatch. No-op unless running.
func (s *Stopwatch) Pause() {
	if s.state != watchRunning {
		return
	}
	s.total += s.clock.Now().Sub(s.since)
	s.state = watchPaused
}

// Resume continues after Pause. No-op unless paused.
func (s *Stopwatch) Resume() {
	if s.state != watchPaused {
		return
	}
	s.since = s.clock.Now()
	s.state = watchRunning
}

// Stop freezes the stopwatch for good.
func (s *Stopwatch) Stop() {
	if s.state == watchRunning {
		s.total += s.clock.Now().Sub(s.since)
	}
	s.state = watchStopped
}

// Restore seeds the accumulated total, used when resuming a saved
// session. The stopwatch is left paused.
func (s *Stopwatch) Restore(total time.Duration) {
	s.total = total
	s.state = watchPaused
}

// Elapsed returns the accumulated running time.
func (s *Stopwatch) Elapsed() time.Duration {
	if s.state == watchRunning {
		return s.total + s.clock.Now().Sub(s.since)
	}
	return s.total
}

// Running reports whether the stopwatch is advancing.
func (s *Stopwatch) Running() bool { return s.state == watchRunning }

// Stopped reports whether Stop has been called.
func (s *Stopwatch) Stopped() bool { return s.state == watchStopped }
