package task

import "fmt"

// Status is a task's state relative to the participant.
type Status int

const (
	StatusLocked    Status = iota // previous level in the family not completed
	StatusAvailable               // unlocked, not completed, not on screen
	StatusActive                  // the current task
	StatusCompleted               // completed; never leaves this state
)

// Icon returns the display icon for a status.
func (s Status) Icon() string {
	switch s {
	case StatusLocked:
		return "🔒"
	case StatusAvailable:
		return "🔓"
	case StatusActive:
		return "▶"
	case StatusCompleted:
		return "✅"
	default:
		return "?"
	}
}

// Label returns the display label for a status.
func (s Status) Label() string {
	switch s {
	case StatusLocked:
		return "Locked"
	case StatusAvailable:
		return "Available"
	case StatusActive:
		return "Active"
	case StatusCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the status as its lower-case label.
func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusLocked:
		return []byte("locked"), nil
	case StatusAvailable:
		return []byte("available"), nil
	case StatusActive:
		return []byte("active"), nil
	case StatusCompleted:
		return []byte("completed"), nil
	default:
		return []byte("unknown"), nil
	}
}

// UnmarshalText decodes a label written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "locked":
		*s = StatusLocked
	case "available":
		*s = StatusAvailable
	case "active":
		*s = StatusActive
	case "completed":
		*s = StatusCompleted
	default:
		return fmt.Errorf("unknown task status %q", b)
	}
	return nil
}

// Unlocked reports whether id may be worked on given the completed set:
// level 1 always, level n+1 once level n is completed.
func Unlocked(id ID, completed Set) bool {
	prev, ok := id.Prev()
	if !ok {
		return true
	}
	return completed.Has(prev)
}

// StatusOf derives the status of id. current is the task on screen, or
// the zero ID.
func StatusOf(id ID, completed Set, current ID) Status {
	switch {
	case completed.Has(id):
		return StatusCompleted
	case !Unlocked(id, completed):
		return StatusLocked
	case id == current:
		return StatusActive
	default:
		return StatusAvailable
	}
}

// Statuses returns the status of all nine tasks in All() order.
func Statuses(completed Set, current ID) map[ID]Status {
	out := make(map[ID]Status, Total)
	for _, id := range All() {
		out[id] = StatusOf(id, completed, current)
	}
	return out
}

// FirstOpen returns the first task in the given families, in order,
// that is unlocked and not completed.
func FirstOpen(families []Family, completed Set) (ID, bool) {
	for _, f := range families {
		for _, id := range f.Tasks() {
			if !completed.Has(id) && Unlocked(id, completed) {
				return id, true
			}
		}
	}
	return ID{}, false
}

// Progress returns the completed fraction of the game.
func Progress(completed Set) float64 {
	n := 0
	for _, id := range All() {
		if completed.Has(id) {
			n++
		}
	}
	return float64(n) / float64(Total)
}
