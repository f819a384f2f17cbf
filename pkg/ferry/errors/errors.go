// Package errors provides error types and error codes for the upload
// lifecycle. This is a leaf package with no internal dependencies, designed
// to be imported by the lock, provider, store and ferry packages without
// causing circular imports.
//
// Import graph: errors <- lock/provider/store <- ferry <- api
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred.
type ErrorCode int

const (
	// ErrValidation indicates the upload request is malformed (empty content,
	// bad size, invalid purpose). Never retried.
	ErrValidation ErrorCode = iota + 1

	// ErrQuotaExceeded indicates the user's byte ceiling or per-file ceiling
	// would be exceeded. Never retried automatically.
	ErrQuotaExceeded

	// ErrLockTimeout indicates the fingerprint lock could not be acquired
	// within the caller's wait bound. Retryable by the caller.
	ErrLockTimeout

	// ErrProviderTransient indicates a transient provider failure (network
	// error, 5xx, 429). Retried internally with backoff.
	ErrProviderTransient

	// ErrProviderRejected indicates the provider rejected the request
	// terminally (401, 400, 413). Never retried.
	ErrProviderRejected

	// ErrProviderUnavailable indicates no provider could serve the request:
	// retries exhausted, or no provider qualifies for auto routing.
	ErrProviderUnavailable

	// ErrCircuitOpen indicates the provider's circuit breaker is open and the
	// call was refused without touching the provider. Distinct from a live
	// provider failure so operators can tell "down" from "deliberately not
	// calling".
	ErrCircuitOpen

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound

	// ErrInternal indicates an unexpected internal fault (store unavailable,
	// broken invariant). Logged with full context, surfaced generically.
	ErrInternal
)

// String returns the stable machine-readable code for the error.
func (e ErrorCode) String() string {
	switch e {
	case ErrValidation:
		return "Validation"
	case ErrQuotaExceeded:
		return "QuotaExceeded"
	case ErrLockTimeout:
		return "LockTimeout"
	case ErrProviderTransient:
		return "ProviderTransient"
	case ErrProviderRejected:
		return "ProviderRejected"
	case ErrProviderUnavailable:
		return "ProviderUnavailable"
	case ErrCircuitOpen:
		return "CircuitOpen"
	case ErrNotFound:
		return "NotFound"
	case ErrInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", e)
	}
}

// FerryError represents an upload lifecycle error with a stable code and an
// explicit retryable flag, so client code never pattern-matches on text.
type FerryError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Err       error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *FerryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *FerryError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewValidationError creates a Validation error.
func NewValidationError(message string) *FerryError {
	return &FerryError{Code: ErrValidation, Message: message}
}

// NewQuotaExceededError creates a QuotaExceeded error.
func NewQuotaExceededError(userID string, requested, remaining int64) *FerryError {
	return &FerryError{
		Code:    ErrQuotaExceeded,
		Message: fmt.Sprintf("quota exceeded for user %s: requested %d bytes, %d remaining", userID, requested, remaining),
	}
}

// NewPerFileLimitError creates a QuotaExceeded error for a per-file ceiling
// violation.
func NewPerFileLimitError(size, limit int64) *FerryError {
	return &FerryError{
		Code:    ErrQuotaExceeded,
		Message: fmt.Sprintf("file size %d exceeds per-file limit %d", size, limit),
	}
}

// NewLockTimeoutError creates a LockTimeout error.
func NewLockTimeoutError(key string) *FerryError {
	return &FerryError{
		Code:      ErrLockTimeout,
		Message:   fmt.Sprintf("timed out waiting for lock on %s", key),
		Retryable: true,
	}
}

// NewProviderTransientError creates a retryable provider error.
func NewProviderTransientError(providerID string, err error) *FerryError {
	return &FerryError{
		Code:      ErrProviderTransient,
		Message:   fmt.Sprintf("provider %s transient failure", providerID),
		Retryable: true,
		Err:       err,
	}
}

// NewProviderRejectedError creates a terminal provider error.
func NewProviderRejectedError(providerID string, err error) *FerryError {
	return &FerryError{
		Code:    ErrProviderRejected,
		Message: fmt.Sprintf("provider %s rejected the request", providerID),
		Err:     err,
	}
}

// NewProviderUnavailableError creates a ProviderUnavailable error.
func NewProviderUnavailableError(message string, err error) *FerryError {
	return &FerryError{
		Code:      ErrProviderUnavailable,
		Message:   message,
		Retryable: true,
		Err:       err,
	}
}

// NewCircuitOpenError creates a CircuitOpen error.
func NewCircuitOpenError(providerID string) *FerryError {
	return &FerryError{
		Code:      ErrCircuitOpen,
		Message:   fmt.Sprintf("circuit breaker open for provider %s", providerID),
		Retryable: true,
	}
}

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(resource, id string) *FerryError {
	return &FerryError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s %s not found", resource, id),
	}
}

// NewInternalError creates an Internal error wrapping the cause.
func NewInternalError(message string, err error) *FerryError {
	return &FerryError{Code: ErrInternal, Message: message, Err: err}
}

// ============================================================================
// Error Type Checking Helpers
// ============================================================================

// CodeOf returns the error code of err, or ErrInternal if err is not a
// FerryError.
func CodeOf(err error) ErrorCode {
	var fe *FerryError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ErrInternal
}

// IsRetryable returns true if the error is marked retryable. Unknown errors
// are treated as non-retryable.
func IsRetryable(err error) bool {
	var fe *FerryError
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsCode returns true if the error is a FerryError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var fe *FerryError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsQuotaExceeded returns true for quota ceiling violations.
func IsQuotaExceeded(err error) bool { return IsCode(err, ErrQuotaExceeded) }

// IsValidation returns true for request validation failures.
func IsValidation(err error) bool { return IsCode(err, ErrValidation) }

// IsLockTimeout returns true for fingerprint lock wait timeouts.
func IsLockTimeout(err error) bool { return IsCode(err, ErrLockTimeout) }

// IsNotFound returns true for missing records.
func IsNotFound(err error) bool { return IsCode(err, ErrNotFound) }

// IsProviderUnavailable returns true when no provider could serve the call,
// including the circuit-open case.
func IsProviderUnavailable(err error) bool {
	return IsCode(err, ErrProviderUnavailable) || IsCode(err, ErrCircuitOpen)
}
