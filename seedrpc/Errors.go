package seedrpc

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds carried in the wire error envelope. Each kind maps 1:1
// to a typed error so callers can branch on session protocol errors
// across the HTTP boundary.
const (
	kindDuplicateSession = "duplicate_session"
	kindUnknownSession   = "unknown_session"
	kindBadRequest       = "bad_request"
	kindInternal         = "internal"
)

// SessionError implements errors unique to the session protocol
type SessionError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *SessionError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

var errDuplicateSession error = errors.New("caller already checked in")

var errUnknownSession error = errors.New("no session for caller")

// NewDuplicateSession returns the error reported when a caller checks
// in under a name that already has a live session.
func NewDuplicateSession(op string) error {
	return &SessionError{Op: op, Err: errDuplicateSession}
}

// NewUnknownSession returns the error reported when a call names a
// caller with no live session.
func NewUnknownSession(op string) error {
	return &SessionError{Op: op, Err: errUnknownSession}
}

// IsDuplicateSession returns whether or not an error reports that a
// caller tried to check in while already holding a live session.
func IsDuplicateSession(err error) bool {
	if sessionErr, ok := err.(*SessionError); ok {
		err = sessionErr.Err
	}
	return err == errDuplicateSession
}

// IsUnknownSession returns whether or not an error reports that no
// live session exists for a caller.
func IsUnknownSession(err error) bool {
	if sessionErr, ok := err.(*SessionError); ok {
		err = sessionErr.Err
	}
	return err == errUnknownSession
}

// errorEnvelope is the JSON body of every failed call
type errorEnvelope struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// envelope wraps a learner-side error for transport
func envelope(err error) errorEnvelope {
	return errorEnvelope{Error: err.Error(), Kind: kindOf(err)}
}

func kindOf(err error) string {
	switch {
	case IsDuplicateSession(err):
		return kindDuplicateSession
	case IsUnknownSession(err):
		return kindUnknownSession
	default:
		return kindInternal
	}
}

// statusOf maps a learner-side error to the HTTP status of the failed
// call
func statusOf(err error) int {
	switch {
	case IsDuplicateSession(err):
		return http.StatusConflict
	case IsUnknownSession(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// asError reconstructs the typed error an envelope describes, so that
// client-side code can branch with the same Is* predicates the learner
// uses.
func (e errorEnvelope) asError(op string) error {
	switch e.Kind {
	case kindDuplicateSession:
		return &SessionError{Op: op, Err: errDuplicateSession}

	case kindUnknownSession:
		return &SessionError{Op: op, Err: errUnknownSession}
	}
	return fmt.Errorf("%v: %v", op, e.Error)
}
