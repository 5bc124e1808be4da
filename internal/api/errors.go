package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Failure classes. Every error returned by this package wraps exactly one.
var (
	ErrNetwork      = errors.New("network failure")
	ErrUnauthorized = errors.New("unauthorized")
	ErrServer       = errors.New("server error")
	ErrMalformed    = errors.New("malformed response")
)

// statusError maps a non-2xx status to ErrUnauthorized or ErrServer.
func statusError(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%w: status %d", ErrUnauthorized, status)
	}
	msg := serverMessage(body)
	if msg != "" {
		return fmt.Errorf("%w: status %d: %s", ErrServer, status, msg)
	}
	return fmt.Errorf("%w: status %d", ErrServer, status)
}

// Message turns an error from this package into text fit for the user.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Request cancelled."
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Please log in again."
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return "Network error. Check your connection and try again."
	case errors.Is(err, ErrMalformed):
		return "Unexpected response from server. Please try again."
	case errors.Is(err, ErrServer):
		return "Server error. Please try again later."
	default:
		return "Something went wrong. Please try again."
	}
}
