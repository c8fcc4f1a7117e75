package tgauth

import (
	"errors"
	"net/http"
)

// Error is a login failure carrying the HTTP status it maps to.
type Error struct {
	Status  int
	Message string // safe to show to the user
	Err     error  // underlying cause, logged only
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status for err; unknown errors are 500.
func StatusOf(err error) int {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Internal server error"
}

func badRequest(msg string, err error) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg, Err: err}
}

func tooManyRequests(msg string, err error) *Error {
	return &Error{Status: http.StatusTooManyRequests, Message: msg, Err: err}
}

func internal(msg string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: msg, Err: err}
}
