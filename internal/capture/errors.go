package capture

import (
	"errors"
	"fmt"
)

// ErrorKind classifies capture failures.
type ErrorKind string

const (
	KindInvalidArgument      ErrorKind = "invalid_argument"
	KindInvalidEvent         ErrorKind = "invalid_event"
	KindUnsupportedSignature ErrorKind = "unsupported_signature"
	KindSynthesis            ErrorKind = "synthesis"
	KindAttach               ErrorKind = "attach"
	KindDetach               ErrorKind = "detach"
	KindDuplicateID          ErrorKind = "duplicate_id"
	KindNotFound             ErrorKind = "not_found"
)

// Sentinels for errors.Is. Matching is by kind only.
var (
	ErrInvalidArgument      = &Error{Kind: KindInvalidArgument}
	ErrInvalidEvent         = &Error{Kind: KindInvalidEvent}
	ErrUnsupportedSignature = &Error{Kind: KindUnsupportedSignature}
	ErrSynthesis            = &Error{Kind: KindSynthesis}
	ErrAttach               = &Error{Kind: KindAttach}
	ErrDetach               = &Error{Kind: KindDetach}
	ErrDuplicateID          = &Error{Kind: KindDuplicateID}
	ErrNotFound             = &Error{Kind: KindNotFound}
)

// Error is returned by every failing capture operation.
type Error struct {
	Kind    ErrorKind
	EventID string
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.EventID != "" {
		msg = fmt.Sprintf("event %q [%s]: %s", e.EventID, e.Kind, msg)
	} else {
		msg = fmt.Sprintf("[%s]: %s", e.Kind, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a capture error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, id, message string, err error) *Error {
	return &Error{Kind: kind, EventID: id, Message: message, Err: err}
}

// KindOf returns the kind of a capture error, or "" for any other error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
