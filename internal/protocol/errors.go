package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the frame-level failure taxonomy. Handlers wrap these
// with fmt.Errorf("%w") so callers can classify with errors.Is.
var (
	// ErrUnknownMessageKind indicates the discriminant value is not part of
	// the enumerated vocabulary. Unknown kinds are a hard decode failure,
	// never ignored.
	ErrUnknownMessageKind = errors.New("unknown message kind")

	// ErrNotAuthenticated indicates a non-auth frame arrived on a socket
	// that has not completed the auth handshake.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrDuplicateTempID indicates a second send with a tempId that is
	// still pending resolution on the same socket.
	ErrDuplicateTempID = errors.New("duplicate tempId")
)

// DecodeError wraps any failure to turn a raw frame into a typed message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AuthError reports a failed auth handshake. Expired covers tokens that
// parsed but are no longer valid; everything else is malformed or revoked.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("auth failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError reports a frame that decoded but violates a field
// contract, e.g. empty content or an unknown receiver.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError reports a durable-store failure while handling a send.
// It is surfaced to the sender as an error frame, never silently dropped.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
