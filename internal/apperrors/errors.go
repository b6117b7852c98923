// Package apperrors defines the error taxonomy shared by the scheduling core.
// Callers branch on the Kind with errors.Is against the exported sentinels.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the edge of the core.
type Kind string

const (
	KindInvalidRange        Kind = "invalid_range"
	KindInvalidInput        Kind = "invalid_input"
	KindSlotUnavailable     Kind = "slot_unavailable"
	KindNotFound            Kind = "not_found"
	KindGateway             Kind = "gateway"
	KindPersistence         Kind = "persistence"
	KindPartialCancellation Kind = "partial_cancellation"
	KindUnauthorized        Kind = "unauthorized"
	KindInternal            Kind = "internal"
)

// Error carries a Kind, the failing operation and the underlying cause.
// Partial is set when an earlier step already committed to another store, so
// the operator has something to reconcile.
type Error struct {
	Kind    Kind
	Op      string
	Partial bool
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Partial {
		msg += " (partial: reconciliation required)"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

var (
	ErrInvalidRange        = &Error{Kind: KindInvalidRange}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrSlotUnavailable     = &Error{Kind: KindSlotUnavailable}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrGateway             = &Error{Kind: KindGateway}
	ErrPersistence         = &Error{Kind: KindPersistence}
	ErrPartialCancellation = &Error{Kind: KindPartialCancellation}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
)

// New builds an error of the given kind with a formatted cause.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapPartial is Wrap for failures after an earlier step committed elsewhere.
func WrapPartial(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Partial: true, Err: err}
}

// KindOf returns the outermost Kind in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsPartial reports whether any error in the chain is marked Partial.
func IsPartial(err error) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Partial {
			return true
		}
		err = e.Err
	}
	return false
}
