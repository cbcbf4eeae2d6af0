// Package apierr implements the error taxonomy of spec.md §7. Request
// handlers catch at the outermost boundary and return a
// {"error": message} body; they do not log the error. Worker loops
// catch at the job boundary, log, and transition the task to Failed.
// Nothing here is retried silently.
package apierr

import (
	"errors"
	"net/http"
)

// Kind is one of the taxonomy entries in spec.md §7.
type Kind int

const (
	KindBadRequest Kind = iota
	KindNotFound
	KindUnauthorized
	KindConflict
	KindStorageError
	KindIngestionError
)

// Error carries a Kind alongside the human-readable message a request
// handler or worker surfaces to its caller.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status maps a Kind to the HTTP status request handlers respond with.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindStorageError:
		return http.StatusInternalServerError
	case KindIngestionError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// BadRequest reports a missing or malformed parameter.
func BadRequest(message string) *Error { return newErr(KindBadRequest, message, nil) }

// NotFound reports a run/task/source-table absent from the database.
func NotFound(message string) *Error { return newErr(KindNotFound, message, nil) }

// Unauthorized reports a caller lacking the role or stage-slot ownership.
func Unauthorized(message string) *Error { return newErr(KindUnauthorized, message, nil) }

// Conflict reports a task not in a runnable state.
func Conflict(message string) *Error { return newErr(KindConflict, message, nil) }

// Storage wraps a database failure.
func Storage(cause error) *Error { return newErr(KindStorageError, "storage error", cause) }

// Ingestion wraps a file I/O or parse failure.
func Ingestion(message string, cause error) *Error {
	return newErr(KindIngestionError, message, cause)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
