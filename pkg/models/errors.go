package models

import "errors"

// Common errors for record and quota operations.
var (
	// Record errors
	ErrRecordNotFound  = errors.New("file record not found")
	ErrDuplicateRecord = errors.New("file record already exists")
	ErrRecordNotActive = errors.New("file record is not active")

	// Quota errors
	ErrQuotaNotFound = errors.New("quota entry not found")
	ErrQuotaExceeded = errors.New("quota exceeded")
)
