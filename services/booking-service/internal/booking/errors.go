package booking

import "errors"

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnauthorized      Kind = "unauthorized"
	KindRemoteUnavailable Kind = "remote_unavailable"
	KindValidation        Kind = "validation"
	KindInternal          Kind = "internal"
)

// Error is returned by every Orchestrator operation. Message is safe to show
// to the caller; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and, when the target has one, message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrServiceNotFound     = &Error{Kind: KindNotFound, Message: "service not found"}
	ErrAppointmentNotFound = &Error{Kind: KindNotFound, Message: "appointment not found"}
	ErrSlotUnavailable     = &Error{Kind: KindConflict, Message: "slot no longer available"}
	ErrInvalidTransition   = &Error{Kind: KindConflict, Message: "appointment cannot change to that status"}
	ErrRemoteUnavailable   = &Error{Kind: KindRemoteUnavailable, Message: "failed to check availability"}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized, Message: "authentication required"}
)

func wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Err: err}
}

func validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the kind of a booking error, or KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the caller-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
