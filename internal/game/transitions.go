package game

import (
	"errors"
	"fmt"

	"github.com/abhisek/crosstask/internal/task"
)

// ErrClosed is returned by every command after Close.
var ErrClosed = errors.New("game: machine closed")

// transitions lists the allowed phase changes. Self-loops are implicit
// where a command keeps the phase (switching tasks, superseding a break).
var transitions = map[Phase][]Phase{
	PhaseClosed:         {PhaseLanding, PhaseBlocked},
	PhaseLanding:        {PhasePracticeChoice, PhaseTaskActive, PhaseBlocked},
	PhasePracticeChoice: {PhaseTaskActive, PhaseBlocked},
	PhaseTaskActive:     {PhaseBreak, PhaseComplete, PhasePracticeChoice, PhaseBlocked},
	PhaseBreak:          {PhaseTaskActive, PhaseBreak, PhaseComplete, PhasePracticeChoice, PhaseBlocked},
	PhaseComplete:       {PhasePracticeChoice},
	PhaseBlocked:        {},
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError describes a command the current state refuses.
// Front-ends ignore it; it is returned for inspection and logging.
type InvalidTransitionError struct {
	Op     string
	Phase  Phase
	Task   task.ID
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Task.IsZero() {
		return fmt.Sprintf("game: %s rejected in %s: %s", e.Op, e.Phase, e.Reason)
	}
	return fmt.Sprintf("game: %s %s rejected in %s: %s", e.Op, e.Task, e.Phase, e.Reason)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
