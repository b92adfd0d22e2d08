package portal

import (
	"fmt"
	"strings"
)

// TransportError is a network or HTTP level failure. The session is left in
// the state it was in before the call so the same operation can be retried.
type TransportError struct {
	Op     string
	Url    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transport %s: %s", e.Op, e.Url, e.Err.Error())
	}
	return fmt.Sprintf("%s: transport %s: unexpected status %d", e.Op, e.Url, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedPageError means a response is missing the hidden form fields a
// portal page always carries.
type MalformedPageError struct {
	Op      string
	Missing []string
}

func (e *MalformedPageError) Error() string {
	return fmt.Sprintf("%s: malformed page: missing %s", e.Op, strings.Join(e.Missing, ", "))
}

// AuthenticationError means the portal rejected the credentials.
type AuthenticationError struct {
	District string
	Reason   string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("authenticate with %s: credentials rejected", e.District)
	}
	return fmt.Sprintf("authenticate with %s: %s", e.District, e.Reason)
}

// InvalidStateError means an operation was called in a state it is not legal in.
type InvalidStateError struct {
	Op     string
	State  State
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: invalid in state %s: %s", e.Op, e.State, e.Reason)
	}
	return fmt.Sprintf("%s: invalid in state %s", e.Op, e.State)
}

// ParseError means an expected element was absent from a page that was
// otherwise fetched successfully.
type ParseError struct {
	Op     string
	Entity string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse %s: %s", e.Op, e.Entity, e.Reason)
}

// NewParseError is shorthand for drivers.
func NewParseError(op, entity, format string, args ...any) *ParseError {
	return &ParseError{
		Op:     op,
		Entity: entity,
		Reason: fmt.Sprintf(format, args...),
	}
}
