// Package breaks runs the forced pause between tasks.
//
// A Controller owns a single timer slot. Starting a break while another
// is pending supersedes it: the old timer is cancelled before the new one
// is armed, and the generation check in clock.Handle guarantees that a
// superseded expiry which already started firing is discarded.
package breaks

import (
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/task"
)

// DefaultDuration is the length of a break.
const DefaultDuration = 3 * time.Second

// ErrNotActive is returned when a break-only operation is called
// outside a break.
var ErrNotActive = errors.New("no break in progress")

// Plan describes a break that just started.
type Plan struct {
	Anchor      task.ID // the task whose completion started the break
	Default     task.ID
	Deadline    time.Time
	Generation  uint64
	Superseded  bool
	CarriedOver time.Duration // pause time spent in the superseded break
}

// Result describes a break that ran to its deadline.
type Result struct {
	Anchor      task.ID
	Destination task.ID
	Default     task.ID
	Manual      bool
	Paused      time.Duration
}

// Controller schedules break expiry. Like clock.Handle it is not safe for
// concurrent use: the owner calls it under its own lock, and fire must
// take that lock before calling Expire.
type Controller struct {
	clock    clock.Clock
	duration time.Duration
	handle   *clock.Handle
	fire     func(gen uint64)

	active     bool
	anchor     task.ID
	def        task.ID
	dest       task.ID
	manual     bool
	pauseStart time.Time
	deadline   time.Time
}

// New returns a Controller. fire is called from the clock when a break
// deadline passes and must dispatch to Expire under the owner's lock.
func New(c clock.Clock, duration time.Duration, fire func(gen uint64)) *Controller {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Controller{
		clock:    c,
		duration: duration,
		handle:   clock.NewHandle(c),
		fire:     fire,
	}
}

// DefaultDestination picks where a break lands after completing anchor:
// the next level of the same family, then the first open task of the
// other families in order, then any open task at all.
func DefaultDestination(anchor task.ID, completed task.Set) (task.ID, bool) {
	if next, ok := anchor.Next(); ok && !completed.Has(next) {
		return next, true
	}
	var others []task.Family
	for _, f := range task.Families() {
		if f != anchor.Family {
			others = append(others, f)
		}
	}
	if id, ok := task.FirstOpen(others, completed); ok {
		return id, true
	}
	return task.FirstOpen(task.Families(), completed)
}

// Start begins a break anchored on the just-completed task. A pending
// break is cancelled first; the pause already spent in it is returned in
// Plan.CarriedOver.
func (c *Controller) Start(anchor task.ID, completed task.Set) Plan {
	now := c.clock.Now()
	var plan Plan
	if c.active {
		plan.Superseded = true
		plan.CarriedOver = now.Sub(c.pauseStart)
	}
	c.handle.Cancel()

	def, _ := DefaultDestination(anchor, completed)
	c.active = true
	c.anchor = anchor
	c.def = def
	c.dest = def
	c.manual = false
	c.pauseStart = now
	c.deadline = now.Add(c.duration)

	plan.Anchor = anchor
	plan.Default = def
	plan.Deadline = c.deadline
	plan.Generation = c.handle.Arm(c.duration, c.fire)
	return plan
}

// SetDestination overrides where the break lands. The latest call before
// the deadline wins. Completed and locked tasks are refused.
func (c *Controller) SetDestination(id task.ID, completed task.Set) error {
	if !c.active {
		return ErrNotActive
	}
	if !id.Valid() {
		return fmt.Errorf("destination %q: not a task", id)
	}
	if completed.Has(id) {
		return fmt.Errorf("destination %s: already completed", id)
	}
	if !task.Unlocked(id, completed) {
		return fmt.Errorf("destination %s: locked", id)
	}
	c.dest = id
	c.manual = id != c.def
	return nil
}

// Expire ends the break if gen is the live timer generation. It returns
// false for stale or cancelled timers, in which case the caller must do
// nothing.
func (c *Controller) Expire(gen uint64) (Result, bool) {
	if !c.active || !c.handle.Claim(gen) {
		return Result{}, false
	}
	c.active = false
	return Result{
		Anchor:      c.anchor,
		Destination: c.dest,
		Default:     c.def,
		Manual:      c.manual,
		Paused:      c.clock.Now().Sub(c.pauseStart),
	}, true
}

// Cancel abandons the current break without advancing and returns the
// pause time spent in it. Safe to call when idle.
func (c *Controller) Cancel() time.Duration {
	c.handle.Cancel()
	if !c.active {
		return 0
	}
	c.active = false
	return c.clock.Now().Sub(c.pauseStart)
}

// Active reports whether a break is in progress.
func (c *Controller) Active() bool { return c.active }

// Destination returns the current landing task and whether it was chosen
// manually.
func (c *Controller) Destination() (task.ID, bool) { return c.dest, c.manual }

// Default returns the computed default destination.
func (c *Controller) Default() task.ID { return c.def }

// Remaining returns the time left in the break, zero when idle.
func (c *Controller) Remaining() time.Duration {
	if !c.active {
		return 0
	}
	return max(c.deadline.Sub(c.clock.Now()), 0)
}

// Elapsed returns the time spent in the current break.
func (c *Controller) Elapsed() time.Duration {
	if !c.active {
		return 0
	}
	return c.clock.Now().Sub(c.pauseStart)
}

// Duration returns the configured break length.
func (c *Controller) Duration() time.Duration { return c.duration }
