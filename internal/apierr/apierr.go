// Package apierr defines the error kinds of the crawl engine (not error
// types) and translates them into the HTTP error envelope.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the way the job-lifecycle state machine reasons
// about failure, independent of Go's type system.
var (
	// ErrBadInput: invalid URL, private/internal host, wrong method, or a
	// malformed request body. Surfaced synchronously; the job is never created.
	ErrBadInput = errors.New("bad input")

	// ErrNotFound: the resource doesn't exist, or exists but is owned by a
	// different user. GetByID must treat both identically.
	ErrNotFound = errors.New("not found")

	// ErrTransientFetch: timeouts, 5xx, connection resets while fetching a
	// page. Recorded on the Page row as error; the URL is not re-queued.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrTransientStorage: a relational or KV write failed but is retryable.
	// If retries are exhausted the worker emits worker_error and exits
	// without decrementing progress incorrectly.
	ErrTransientStorage = errors.New("transient storage failure")

	// ErrInvariant: a logical invariant would be violated (e.g. completion
	// raced by two workers). The single-winner primitive prevents this from
	// ever reaching a caller in practice; this exists for the loser's no-op path.
	ErrInvariant = errors.New("invariant violation")

	// ErrJobFatal: the job cannot proceed at all (seed unfetchable and queue
	// empties, or finalization cannot run). The job transitions to failed.
	ErrJobFatal = errors.New("job fatal error")

	// ErrCancelled: the job was cancelled out of running; workers and the
	// SSE gateway observe this and exit without treating it as a failure.
	ErrCancelled = errors.New("job cancelled")
)

// Error wraps a Kind with a user-facing message and optional internal detail.
// It implements huma.StatusError so handlers can return it directly.
type Error struct {
	Status  int
	Kind    error
	Message string
	Detail  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// GetStatus satisfies huma.StatusError.
func (e *Error) GetStatus() int {
	return e.Status
}

// BadInput builds a 400 error wrapping ErrBadInput.
func BadInput(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Kind: ErrBadInput, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a 404 error wrapping ErrNotFound. Used identically whether
// the resource is absent or owned by a different user.
func NotFound(resource string) *Error {
	return &Error{Status: http.StatusNotFound, Kind: ErrNotFound, Message: resource + " not found"}
}

// TransientFetch builds an error wrapping ErrTransientFetch, carrying the
// underlying fetch error as Detail for event-log/logging purposes.
func TransientFetch(detail string) *Error {
	return &Error{Status: http.StatusBadGateway, Kind: ErrTransientFetch, Message: "fetch failed", Detail: detail}
}

// TransientStorage builds an error wrapping ErrTransientStorage.
func TransientStorage(detail string) *Error {
	return &Error{Status: http.StatusServiceUnavailable, Kind: ErrTransientStorage, Message: "storage operation failed", Detail: detail}
}

// Invariant builds an error wrapping ErrInvariant.
func Invariant(detail string) *Error {
	return &Error{Status: http.StatusConflict, Kind: ErrInvariant, Message: "invariant violation", Detail: detail}
}

// JobFatal builds an error wrapping ErrJobFatal, the message becoming the
// job's status_message.
func JobFatal(format string, args ...any) *Error {
	return &Error{Status: http.StatusUnprocessableEntity, Kind: ErrJobFatal, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected error as a 500, preserving Detail for logs
// but never leaking it into the user-facing Message.
func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Kind: err, Message: "internal error", Detail: err.Error()}
}

// Is reports whether err is (or wraps) the given sentinel Kind.
func Is(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Envelope is the wire shape of every non-2xx HTTP response (spec §6.1).
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ToEnvelope renders err (ideally an *Error, but any error is handled) into
// the response envelope clients parse.
func ToEnvelope(err error) (int, Envelope) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status, Envelope{Success: false, Error: apiErr.Message, Details: apiErr.Detail}
	}
	return http.StatusInternalServerError, Envelope{Success: false, Error: "internal error"}
}
