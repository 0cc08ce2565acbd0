// Package provider defines the shared error taxonomy for all external
// service clients (speech-to-text, text-to-speech, chat completion).
//
// Every client wraps failures in a [ServiceError] so that callers can make
// routing decisions (fall back, surface, abandon) based on the failure class
// rather than on provider-specific error strings. The taxonomy is
// deliberately small: authentication, rate limiting, transport, and
// protocol (unexpected response shape).
package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a [ServiceError].
type ErrorKind string

const (
	// KindAuth indicates the provider rejected the credentials
	// (HTTP 401/403 or an SDK-level authentication failure).
	KindAuth ErrorKind = "auth"

	// KindRateLimit indicates the provider throttled the request (HTTP 429).
	KindRateLimit ErrorKind = "rate_limit"

	// KindTransport indicates the provider could not be reached or the
	// request timed out before a response arrived.
	KindTransport ErrorKind = "transport"

	// KindProtocol indicates the provider answered with a payload the
	// client could not interpret.
	KindProtocol ErrorKind = "protocol"
)

// ServiceError is the uniform error type returned by provider clients.
// Provider is a short client name ("openai-stt", "elevenlabs", ...), Kind
// classifies the failure, and Err is the underlying cause.
type ServiceError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error { return e.Err }

// NewError wraps err as a [ServiceError] for the named provider.
func NewError(providerName string, kind ErrorKind, err error) *ServiceError {
	return &ServiceError{Provider: providerName, Kind: kind, Err: err}
}

// Errorf is shorthand for NewError with a formatted cause.
func Errorf(providerName string, kind ErrorKind, format string, args ...any) *ServiceError {
	return &ServiceError{Provider: providerName, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the [ErrorKind] from err. Errors that are not a
// [ServiceError] are treated as transport failures, which is the safest
// default for routing decisions.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransport
}

// KindForStatus maps an HTTP status code to an [ErrorKind].
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindTransport
	default:
		return KindProtocol
	}
}
