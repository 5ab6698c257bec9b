// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds for the domain layer.
var (
	ErrNotFound    = errors.New("resource not found")
	ErrForbidden   = errors.New("forbidden")
	ErrValidation  = errors.New("validation failed")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Error carries a human-readable reason tagged with one of the sentinel kinds.
type Error struct {
	kind error
	msg  string
}

// Errorf builds an error of the given kind whose message is the formatted reason.
func Errorf(kind error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// Status describes how an error is rendered on the wire.
type Status struct {
	Code   int
	Name   string
	Detail string
}

// Classify maps an error to its status code, stable code name and client-facing message.
func Classify(err error) Status {
	switch {
	case errors.Is(err, ErrNotFound):
		return Status{Code: http.StatusNotFound, Name: "NOT_FOUND", Detail: err.Error()}
	case errors.Is(err, ErrForbidden):
		return Status{Code: http.StatusForbidden, Name: "AUTHORIZATION_FORBIDDEN", Detail: err.Error()}
	case errors.Is(err, ErrValidation):
		return Status{Code: http.StatusBadRequest, Name: "VALIDATION_ERROR", Detail: err.Error()}
	case errors.Is(err, ErrRateLimited):
		return Status{Code: http.StatusTooManyRequests, Name: "RATE_LIMIT", Detail: err.Error()}
	default:
		return Status{Code: http.StatusInternalServerError, Name: "INTERNAL", Detail: "internal error"}
	}
}

// RespondError maps domain errors to a JSON error body.
func RespondError(w http.ResponseWriter, err error, requestID string) {
	st := Classify(err)
	JSON(w, st.Code, ErrorBody{
		Error:     ErrorDetail{Code: st.Name, Message: st.Detail},
		RequestID: requestID,
	})
}
