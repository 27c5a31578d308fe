// Package types provides shared types and errors for the application.
package types

import (
	"errors"
	"net/http"
	"strconv"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser pool errors
	ErrBrowserPoolExhausted = errors.New("browser pool exhausted: no browsers available")
	ErrBrowserPoolClosed    = errors.New("browser pool is closed")
	ErrBrowserPoolTimeout   = errors.New("timeout waiting for browser from pool")
	ErrBrowserUnhealthy     = errors.New("browser is unhealthy")

	// Request errors
	ErrURLRequired = errors.New("url is required")
	ErrInvalidURL  = errors.New("invalid URL")

	// Scrape errors
	ErrNavigationTimeout = errors.New("resolver site did not load in time")
	ErrResultsTimeout    = errors.New("results did not appear in time")
	ErrElementMissing    = errors.New("expected page element not found")
	ErrResultsMissing    = errors.New("results container not found in page")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// ErrorKind is the closed set of failure classes a resolve request can end in.
type ErrorKind string

// Error kinds. Nothing outside this list is ever reported to clients.
const (
	KindValidation        ErrorKind = "validation"
	KindPoolExhausted     ErrorKind = "pool_exhausted"
	KindNavigationTimeout ErrorKind = "navigation_timeout"
	KindExtraction        ErrorKind = "extraction"
	KindUnknown           ErrorKind = "unknown"
)

// HTTPStatus maps the kind to the status code returned by the API.
func (k ErrorKind) HTTPStatus() int {
	if k == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ScrapeError is the error returned by the resolver and scraper.
// It implements the error interface and supports error unwrapping.
type ScrapeError struct {
	Kind    ErrorKind
	Message string // Human-readable message, returned to the client as-is
	Err     error  // Underlying error (for unwrapping)
}

// Error implements the error interface.
func (e *ScrapeError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewValidationError creates an error for a rejected request parameter.
func NewValidationError(message string, err error) *ScrapeError {
	return &ScrapeError{
		Kind:    KindValidation,
		Message: message,
		Err:     err,
	}
}

// NewPoolExhaustedError creates an error for a pool that could not lend a browser.
func NewPoolExhaustedError(err error) *ScrapeError {
	msg := "browser pool unavailable"
	if err != nil {
		msg += ": " + err.Error()
	}
	return &ScrapeError{
		Kind:    KindPoolExhausted,
		Message: msg,
		Err:     err,
	}
}

// NewNavigationTimeoutError creates an error for a page or selector wait that ran out of time.
func NewNavigationTimeoutError(message string, err error) *ScrapeError {
	return &ScrapeError{
		Kind:    KindNavigationTimeout,
		Message: message,
		Err:     err,
	}
}

// NewExtractionError creates an error for page markup that does not match the site contract.
func NewExtractionError(message string, err error) *ScrapeError {
	return &ScrapeError{
		Kind:    KindExtraction,
		Message: message,
		Err:     err,
	}
}

// NewUnknownScrapeError wraps any other failure.
func NewUnknownScrapeError(err error) *ScrapeError {
	msg := "scrape failed"
	if err != nil {
		msg = err.Error()
	}
	return &ScrapeError{
		Kind:    KindUnknown,
		Message: msg,
		Err:     err,
	}
}

// KindOf returns the kind of err. Errors that are not a *ScrapeError are
// classified by their sentinel, falling back to KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}

	switch {
	case errors.Is(err, ErrURLRequired), errors.Is(err, ErrInvalidURL):
		return KindValidation
	case errors.Is(err, ErrBrowserPoolClosed),
		errors.Is(err, ErrBrowserPoolTimeout),
		errors.Is(err, ErrBrowserPoolExhausted):
		return KindPoolExhausted
	case errors.Is(err, ErrNavigationTimeout), errors.Is(err, ErrResultsTimeout):
		return KindNavigationTimeout
	case errors.Is(err, ErrElementMissing), errors.Is(err, ErrResultsMissing):
		return KindExtraction
	default:
		return KindUnknown
	}
}

// PoolError provides detailed information about browser pool failures.
type PoolError struct {
	Operation string // The operation that failed
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewPoolLaunchError creates an error for a browser that failed to start.
func NewPoolLaunchError(index int, err error) *PoolError {
	return &PoolError{
		Operation: "launch",
		Message:   "failed to launch browser " + strconv.Itoa(index) + ": " + err.Error(),
		Err:       err,
	}
}
