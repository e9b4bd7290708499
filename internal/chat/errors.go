package chat

import "fmt"

// ServiceError is a failed call to the reply service: transport, status
// or decoding. The prompt that triggered it stays charged.
type ServiceError struct {
	Backend string
	Status  int // HTTP status when the service answered, else 0
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s reply service: status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s reply service: %v", e.Backend, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
