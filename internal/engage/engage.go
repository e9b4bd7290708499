// Package engage implements the focus and idle watchdogs that can end a
// session.
package engage

import (
	"time"

	"github.com/abhisek/crosstask/internal/clock"
)

// Config holds the watchdog timings.
type Config struct {
	FocusTimeout  time.Duration // countdown after focus is lost
	IdleThreshold time.Duration // inactivity before the idle countdown starts
	IdleCountdown time.Duration // grace period once idle
	PollInterval  time.Duration // idle check cadence
}

// DefaultConfig returns the standard watchdog timings.
func DefaultConfig() Config {
	return Config{
		FocusTimeout:  15 * time.Second,
		IdleThreshold: 30 * time.Second,
		IdleCountdown: 5 * time.Second,
		PollInterval:  time.Second,
	}
}

// SignalKind identifies which watchdog timer fired.
type SignalKind int

const (
	SignalFocus SignalKind = iota
	SignalPoll
	SignalIdle
)

// Signal is delivered to the owner's dispatcher when a timer fires. The
// owner takes its lock and passes the signal back to Handle.
type Signal struct {
	Kind SignalKind
	Gen  uint64
}

// Reason explains why a session was blocked.
type Reason string

const (
	ReasonFocusLost Reason = "focus-lost"
	ReasonIdle      Reason = "idle"
)

// OutcomeKind is the effect of a handled signal.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeIdleWarning
	OutcomeBlocked
)

// Outcome is what the owner must do after Handle.
type Outcome struct {
	Kind   OutcomeKind
	Reason Reason
}

// Status is a snapshot of the watchdogs for display.
type Status struct {
	Armed          bool
	FocusLost      bool
	FocusRemaining time.Duration
	IdleWarning    bool
	IdleRemaining  time.Duration
	LastActivity   time.Time
}

// Monitor owns the three watchdog timers. It is not safe for concurrent
// use; the owner serializes every call, including Handle from the
// dispatcher.
type Monitor struct {
	cfg      Config
	clock    clock.Clock
	dispatch func(Signal)

	focus *clock.Handle
	poll  *clock.Handle
	idle  *clock.Handle

	armed         bool
	lastActivity  time.Time
	focusDeadline time.Time
	idleDeadline  time.Time
}

// New returns a disarmed Monitor. dispatch is called from the clock and
// must route the signal back to Handle under the owner's lock.
func New(c clock.Clock, cfg Config, dispatch func(Signal)) *Monitor {
	def := DefaultConfig()
	if cfg.FocusTimeout <= 0 {
		cfg.FocusTimeout = def.FocusTimeout
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = def.IdleThreshold
	}
	if cfg.IdleCountdown <= 0 {
		cfg.IdleCountdown = def.IdleCountdown
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Monitor{
		cfg:      cfg,
		clock:    c,
		dispatch: dispatch,
		focus:    clock.NewHandle(c),
		poll:     clock.NewHandle(c),
		idle:     clock.NewHandle(c),
	}
}

// Config returns the effective timings.
func (m *Monitor) Config() Config { return m.cfg }

// Arm starts watching. Activity is measured from now. Arming an armed
// monitor is a no-op.
func (m *Monitor) Arm() {
	if m.armed {
		return
	}
	m.armed = true
	m.lastActivity = m.clock.Now()
	m.schedulePoll()
}

// Disarm stops every timer. Safe to call repeatedly.
func (m *Monitor) Disarm() {
	m.armed = false
	m.focus.Cancel()
	m.poll.Cancel()
	m.idle.Cancel()
}

// Armed reports whether the watchdogs are running.
func (m *Monitor) Armed() bool { return m.armed }

// Blur starts the focus countdown. A blur while the countdown is already
// running does not restart it. It reports whether a countdown started.
func (m *Monitor) Blur() bool {
	if !m.armed || m.focus.Pending() {
		return false
	}
	m.focusDeadline = m.clock.Now().Add(m.cfg.FocusTimeout)
	m.focus.Arm(m.cfg.FocusTimeout, func(gen uint64) {
		m.dispatch(Signal{Kind: SignalFocus, Gen: gen})
	})
	return true
}

// Focus cancels a running focus countdown and reports whether one was
// running.
func (m *Monitor) Focus() bool {
	if !m.focus.Pending() {
		return false
	}
	m.focus.Cancel()
	return true
}

// Activity records user input. During the idle countdown it cancels the
// countdown and reports true.
func (m *Monitor) Activity() bool {
	m.lastActivity = m.clock.Now()
	if !m.armed || !m.idle.Pending() {
		return false
	}
	m.idle.Cancel()
	m.schedulePoll()
	return true
}

// Acknowledge is the explicit "still here" answer to an idle warning.
func (m *Monitor) Acknowledge() bool { return m.Activity() }

// Handle processes a fired timer. Stale signals return OutcomeNone.
func (m *Monitor) Handle(sig Signal) Outcome {
	if !m.armed {
		return Outcome{}
	}
	switch sig.Kind {
	case SignalFocus:
		if !m.focus.Claim(sig.Gen) {
			return Outcome{}
		}
		m.Disarm()
		return Outcome{Kind: OutcomeBlocked, Reason: ReasonFocusLost}

	case SignalPoll:
		if !m.poll.Claim(sig.Gen) {
			return Outcome{}
		}
		if m.clock.Now().Sub(m.lastActivity) < m.cfg.IdleThreshold {
			m.schedulePoll()
			return Outcome{}
		}
		m.idleDeadline = m.clock.Now().Add(m.cfg.IdleCountdown)
		m.idle.Arm(m.cfg.IdleCountdown, func(gen uint64) {
			m.dispatch(Signal{Kind: SignalIdle, Gen: gen})
		})
		return Outcome{Kind: OutcomeIdleWarning, Reason: ReasonIdle}

	case SignalIdle:
		if !m.idle.Claim(sig.Gen) {
			return Outcome{}
		}
		m.Disarm()
		return Outcome{Kind: OutcomeBlocked, Reason: ReasonIdle}
	}
	return Outcome{}
}

// Status reports the watchdog state.
func (m *Monitor) Status() Status {
	now := m.clock.Now()
	st := Status{Armed: m.armed, LastActivity: m.lastActivity}
	if m.focus.Pending() {
		st.FocusLost = true
		st.FocusRemaining = max(m.focusDeadline.Sub(now), 0)
	}
	if m.idle.Pending() {
		st.IdleWarning = true
		st.IdleRemaining = max(m.idleDeadline.Sub(now), 0)
	}
	return st
}

func (m *Monitor) schedulePoll() {
	m.poll.Arm(m.cfg.PollInterval, func(gen uint64) {
		m.dispatch(Signal{Kind: SignalPoll, Gen: gen})
	})
}
