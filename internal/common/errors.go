package common

import (
	"errors"
	"net/http"
)

// AppError is an error that knows how it is rendered to API clients: a
// stable machine code, a human message and the HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// NewAppError constructs an AppError wrapping err, which may be nil.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Code + ": " + e.Err.Error()
	default:
		return e.Message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches an AppError with the same code and message, so sentinels still
// match after WithDetails or Wrap produced a copy.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if e == nil || !ok || other == nil {
		return false
	}
	return e.Code == other.Code && e.Message == other.Message
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details any) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Details = details
	return &clone
}

// Wrap returns a copy of e with cause attached.
func (e *AppError) Wrap(cause error) *AppError {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Err = cause
	return &clone
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr == nil {
		return nil, false
	}
	return appErr, true
}

// WriteAppError renders err when it is an AppError and reports whether it did.
func WriteAppError(w http.ResponseWriter, err error) bool {
	appErr, ok := AsAppError(err)
	if !ok {
		return false
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
	return true
}
