// Package apperr defines the error taxonomy shared by the store adapter, the
// directory services and the reservation engine, and maps it onto HTTP.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for callers that must decide how to react to it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindStore:
		return "store_error"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
// Code distinguishes errors of the same Kind (e.g. the three conflicts).
type Error struct {
	Kind Kind
	Code string
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Msg
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values by Kind and Code so that sentinels compare
// equal to copies carrying a different Op or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

var (
	ErrDoctorNotFound      = &Error{Kind: KindNotFound, Code: "doctor_not_found", Msg: "Doctor not found."}
	ErrPatientNotFound     = &Error{Kind: KindNotFound, Code: "patient_not_found", Msg: "Patient not found."}
	ErrReservationNotFound = &Error{Kind: KindNotFound, Code: "reservation_not_found", Msg: "Reservation not found."}

	ErrAlreadyReserved        = &Error{Kind: KindConflict, Code: "already_reserved", Msg: "selected time slot already reserved"}
	ErrOutsideWorkingHours    = &Error{Kind: KindConflict, Code: "outside_working_hours", Msg: "selected time slot is not available"}
	ErrConcurrentModification = &Error{Kind: KindConflict, Code: "concurrent_modification", Msg: "time slot has been modified by another request, please retry"}
)

// NotFound returns a copy of a not-found sentinel naming the missing id,
// e.g. "Doctor with id d1 not found.".
func NotFound(sentinel *Error, id string) *Error {
	entity := strings.TrimSuffix(sentinel.Msg, " not found.")
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Msg: fmt.Sprintf("%s with id %s not found.", entity, id)}
}

// Validation reports a missing or malformed required field.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: "validation", Msg: msg}
}

// Store normalizes an error raised by the key-value store. A nil err yields
// nil; errors already classified pass through untouched.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	msg := "store command failed"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "store call timed out"
	} else if errors.Is(err, context.Canceled) {
		msg = "store call cancelled"
	}
	return &Error{Kind: KindStore, Code: "store_error", Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// CodeOf returns the machine-readable code of err.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "internal_error"
}

// HTTPStatus maps err onto the status codes of the HTTP surface.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
