package origin

import (
	"errors"
	"fmt"
)

// Common errors returned by the origin client.
var (
	// ErrMissingCredential is returned when neither the caller nor the
	// configuration supplies an API key. It is a client error (401).
	ErrMissingCredential = errors.New("missing api key")

	// ErrUnreachable is returned on network-level failures: timeouts,
	// DNS errors, connection resets.
	ErrUnreachable = errors.New("upstream unreachable")

	// ErrInvalidBody is returned when a 2xx upstream body is not JSON.
	ErrInvalidBody = errors.New("upstream returned invalid json")
)

// RejectedError is a non-2xx upstream response. It is passed through to the
// caller verbatim and never cached.
type RejectedError struct {
	StatusCode int
	StatusText string
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected request (status %d): %s", e.StatusCode, e.StatusText)
}

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassBody represents unparseable 2xx bodies.
	ErrorClassBody ErrorClass = "body"
)

// classifyStatus maps a non-2xx status code to its error class.
func classifyStatus(statusCode int) ErrorClass {
	if statusCode >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}
