package errors

import (
	stderrors "errors"
	"net/http"
)

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTPError with the given code and message.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

// Helper for common errors
var (
	ErrUnauthorized = func(msg string) *HTTPError { return NewHTTPError(http.StatusUnauthorized, msg) }
	ErrBadRequest   = func(msg string) *HTTPError { return NewHTTPError(http.StatusBadRequest, msg) }
)

var (
	// ErrNotFound is returned when a restaurant, table, reservation or call session is absent.
	ErrNotFound = stderrors.New("not found")
	// ErrSlotConflict is returned when a slot lock for the same table and slot is already held.
	ErrSlotConflict = stderrors.New("slot already locked")
	// ErrInvalidTransition is returned for reservation status changes the lifecycle does not allow.
	ErrInvalidTransition = stderrors.New("invalid status transition")
	// ErrUpstream wraps failures of the speech, understanding and dialogue services.
	ErrUpstream = stderrors.New("upstream service failure")
)

// StatusFor maps an error onto the HTTP status the admin surface reports.
func StatusFor(err error) int {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.As(err, &httpErr):
		return httpErr.Code
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrInvalidTransition), stderrors.Is(err, ErrSlotConflict):
		return http.StatusConflict
	case stderrors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
