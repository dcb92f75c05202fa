// Package service holds the seat lock manager, the order lifecycle, the
// settlement transaction and the notification dispatcher.  Business
// failures are reported as *Error values whose Kind maps to an HTTP status
// at the API boundary; any other error is an infrastructure fault.
package service

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindValidation   Kind = "VALIDATION_ERROR"
)

// Machine readable conflict codes.
const (
	CodeSeatLocked      = "SEAT_LOCKED"
	CodeSeatUnavailable = "SEAT_UNAVAILABLE"
	CodeSeatSold        = "SEAT_SOLD"
	CodeSeatNotHeld     = "SEAT_NOT_HELD"
	CodeAlreadyPaid     = "ALREADY_PAID"
	CodeOrderClosed     = "ORDER_CLOSED"
	CodeOrderExpired    = "ORDER_EXPIRED"
	CodeInvalidStatus   = "INVALID_STATUS"
	CodeCapacity        = "CAPACITY"
	CodeMissingVars     = "MISSING_VARIABLES"
	CodeAlreadySent     = "ALREADY_SENT"
)

// Error is a business failure.  SeatIDs lists the seats responsible for a
// seat conflict so the client can re-render just those.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	SeatIDs []string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is lets errors.Is(err, ErrConflict) match any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// Kind sentinels for errors.Is.
var (
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrAlreadyPaid  = &Error{Kind: KindConflict, Code: CodeAlreadyPaid}
)

func notFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func conflict(code, msg string, seatIDs ...string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg, SeatIDs: seatIDs}
}

func validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// AsError unwraps err into a business *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
