// Package apperror defines the gateway's error taxonomy and the mapping
// from each kind to an HTTP status code.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a category of failure handled uniformly across components.
type Kind string

const (
	InvalidCredentials     Kind = "invalid_credentials"
	Forbidden              Kind = "forbidden"
	NotFound               Kind = "not_found"
	Conflict               Kind = "conflict"
	Timeout                Kind = "timeout"
	SessionClusterMismatch Kind = "session_cluster_mismatch"
	ServiceUnavailable     Kind = "service_unavailable"
	Internal               Kind = "internal"
)

// statusByKind mirrors spec.md §7.
var statusByKind = map[Kind]int{
	InvalidCredentials:     http.StatusUnauthorized,
	Forbidden:              http.StatusBadRequest,
	NotFound:               http.StatusNotFound,
	Conflict:               http.StatusConflict,
	Timeout:                http.StatusOK,
	SessionClusterMismatch: http.StatusBadRequest,
	ServiceUnavailable:     http.StatusServiceUnavailable,
	Internal:               http.StatusInternalServerError,
}

// Error is a typed application error carrying a Kind and a client-facing message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for e's kind, defaulting to 500.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error of the given kind with a client-facing message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind that carries an underlying cause
// (logged, never exposed to the client).
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// StatusFor returns the HTTP status for err, defaulting to 500 for untyped errors.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}
