// Package provider defines the storage provider abstraction.
//
// An Adapter wraps one upstream storage backend (OpenAI Files API, an
// S3-compatible object store) behind a uniform upload/delete surface. The
// orchestrator never talks to a backend directly; it resolves an adapter
// through the Registry and calls it under that provider's circuit breaker.
package provider

import (
	"context"
	"fmt"
	"io"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// Limits describes the static constraints of one provider.
type Limits struct {
	// MaxSizeBytes is the largest single upload the provider accepts.
	MaxSizeBytes int64

	// SupportedPurposes is the provider's purpose enum. Empty means the
	// provider accepts any purpose tag.
	SupportedPurposes []string
}

// Supports reports whether purpose is accepted by the provider.
func (l Limits) Supports(purpose string) bool {
	if len(l.SupportedPurposes) == 0 {
		return true
	}
	for _, p := range l.SupportedPurposes {
		if p == purpose {
			return true
		}
	}
	return false
}

// Fits reports whether a file of the given size is within the provider's
// size limit.
func (l Limits) Fits(size int64) bool {
	return l.MaxSizeBytes == 0 || size <= l.MaxSizeBytes
}

// Adapter is one upstream storage backend.
//
// Upload streams content to the backend and returns the backend's own file
// identifier. Implementations validate purpose locally and never forward an
// invalid value upstream. Errors carry the taxonomy's retryable flag so the
// breaker and retry loop can classify them without provider knowledge.
type Adapter interface {
	// ID returns the provider identifier used in records and config.
	ID() string

	// Upload stores content and returns the provider-side file ID.
	Upload(ctx context.Context, content io.Reader, size int64, purpose string) (remoteID string, err error)

	// Delete removes the provider-side file. Deleting an already-absent
	// file is not an error.
	Delete(ctx context.Context, remoteID string) error

	// Limits returns the provider's static constraints.
	Limits() Limits
}

// ValidatePurpose rejects a purpose the adapter does not support. Shared by
// adapter implementations so the rejection reads the same everywhere.
func ValidatePurpose(providerID, purpose string, limits Limits) error {
	if purpose == "" {
		return ferrors.NewValidationError("purpose must not be empty")
	}
	if !limits.Supports(purpose) {
		return ferrors.NewProviderRejectedError(providerID,
			fmt.Errorf("purpose %q is not supported", purpose))
	}
	return nil
}
