// Package service holds the reservation workflow, the payment event
// handlers and the billing ledger engine.  Handlers and consumers talk to
// it; it talks to storage, the broker and the collaborator ports through
// small interfaces.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service error.  The HTTP layer maps each kind onto a
// status code; consumers use it to decide between ack and reject.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindInvalidTransition   Kind = "invalid_state_transition"
	KindRPCTimeout          Kind = "rpc_timeout"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindInternal            Kind = "internal"
)

// Error is the error type returned by every exported service method.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, service.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Message == ""
}

// Kind sentinels for errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrRPCTimeout          = &Error{Kind: KindRPCTimeout}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrForbidden           = &Error{Kind: KindForbidden}
)

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(what string, id any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func conflict(msg string, details any) *Error {
	return &Error{Kind: KindConflict, Message: msg, Details: details}
}

func forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: msg, Err: err}
}

func internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// invalidTransition reports an action that the current status does not allow.
func invalidTransition(from, action any) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot %v a reservation in status %v", action, from),
		Details: map[string]any{"current": from, "requested": action},
	}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
