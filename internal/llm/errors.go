package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed provider call.
type Kind int

const (
	KindUnavailable Kind = iota // transport failure or a 5xx
	KindRateLimited             // 429
	KindRejected                // any other 4xx: bad key, bad request
	KindInvalid                 // reply did not match the schema
	KindTruncated               // reply cut off at MaxTokens
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate limited"
	case KindRejected:
		return "rejected"
	case KindInvalid:
		return "invalid reply"
	case KindTruncated:
		return "truncated reply"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a failed provider call.
type Error struct {
	Kind     Kind
	Provider string
	Status   int             // HTTP status, 0 when the request never got one
	Content  json.RawMessage // the reply, for KindInvalid and KindTruncated
	Err      error
}

func (e *Error) Error() string {
	msg := e.Provider + ": " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a second attempt can succeed. An invalid
// reply is retryable because sampling may produce a valid one.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUnavailable, KindRateLimited, KindInvalid:
		return true
	}
	return false
}

// KindOf returns the Kind of err. ok is false when err carries no *Error.
func KindOf(err error) (kind Kind, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// classify maps an SDK failure with HTTP status to an *Error.
func classify(provider string, status int, err error) *Error {
	e := &Error{Provider: provider, Status: status, Err: err}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == 0 || status >= 500:
		e.Kind = KindUnavailable
	default:
		e.Kind = KindRejected
	}
	return e
}
