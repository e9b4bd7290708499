package recorder

import "fmt"

// PersistenceError is a failed write to the store. The entry stays
// queued and is retried.
type PersistenceError struct {
	Op      string // "events" or "snapshot"
	Entries int
	Attempt int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%d entries, attempt %d): %v", e.Op, e.Entries, e.Attempt, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
