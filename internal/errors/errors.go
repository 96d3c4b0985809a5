package errors

import (
	stderr "errors"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeLocked     ErrorType = "LOCKED"
	ErrorTypeNoChanges  ErrorType = "NO_CHANGES"
	ErrorTypeCorrupt    ErrorType = "CORRUPT"
	ErrorTypeInternal   ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Is matches another *Error of the same type and message, so package level
// sentinels keep working after Wrap copies them.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.err = err
	return &c
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

// Locked reports a target held open by another program.
func Locked(message string) *Error {
	return &Error{
		Type:    ErrorTypeLocked,
		Message: message,
		Code:    http.StatusLocked,
	}
}

func NoChanges(message string) *Error {
	return &Error{
		Type:    ErrorTypeNoChanges,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func Corrupt(message string) *Error {
	return &Error{
		Type:    ErrorTypeCorrupt,
		Message: message,
		Code:    http.StatusUnprocessableEntity,
	}
}

func Internal(message string) *Error {
	return &Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Code:    http.StatusInternalServerError,
	}
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderr.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is is a shortcut to the standard library errors.Is.
func Is(err, target error) bool {
	return stderr.Is(err, target)
}

// TypeOf returns the taxonomy type of err, INTERNAL when untyped.
func TypeOf(err error) ErrorType {
	if e, ok := As(err); ok {
		return e.Type
	}
	return ErrorTypeInternal
}
