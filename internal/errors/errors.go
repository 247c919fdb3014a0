package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the session keeper
var (
	// Transport errors
	ErrTransport     = errors.New("transport failure")
	ErrRouteNotFound = errors.New("route not found")

	// Authentication errors
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrSessionExpired      = errors.New("session expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrNoCredentials       = errors.New("no credentials")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Validation errors
	ErrValidation = errors.New("validation failed")

	// Storage errors
	ErrStorage = errors.New("storage failure")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// APIError is a non-2xx response from the session service or a resource endpoint.
// The server supplied message is kept verbatim.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// Is maps the status code onto the error taxonomy so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRouteNotFound:
		return e.IsRouting()
	}
	return false
}

// IsRouting reports whether the response says the route itself is unavailable,
// as opposed to a business error from a route that exists.
func (e *APIError) IsRouting() bool {
	switch e.Status {
	case http.StatusNotFound:
		// A bare 404 from a router carries no API error body.
		return e.Code == "" && e.Message == "" || e.Code == "route_not_found"
	case http.StatusMethodNotAllowed, http.StatusNotImplemented,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf returns the server supplied message carried by err, or err.Error().
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
