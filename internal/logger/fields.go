package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across all log statements for log aggregation and querying.
const (
	// Request correlation
	KeyRequestID = "request_id" // HTTP request ID
	KeyClientIP  = "client_ip"  // Client IP address

	// Upload lifecycle
	KeyUserID      = "user"        // Owner user identifier
	KeyFingerprint = "fingerprint" // Content fingerprint (hex SHA-256)
	KeyRecordID    = "record_id"   // Durable file record ID
	KeyRemoteID    = "remote_id"   // Provider-assigned file ID
	KeyPurpose     = "purpose"     // Upload purpose tag
	KeySize        = "size"        // Content size in bytes
	KeyStatus      = "status"      // Record lifecycle status
	KeyReason      = "reason"      // Audit reason (expired, rollback, ...)

	// Provider calls
	KeyProvider   = "provider"    // Provider ID (openai, s3, ...)
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyBreaker    = "breaker"     // Circuit breaker state

	// Locking
	KeyLockKey   = "lock_key"   // Fingerprint lock key
	KeyLockToken = "lock_token" // Lock holder token

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Stable error code
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// RequestID returns a slog.Attr for the HTTP request ID
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// UserID returns a slog.Attr for the owner user identifier
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// Fingerprint returns a slog.Attr for a content fingerprint
func Fingerprint(fp string) slog.Attr {
	return slog.String(KeyFingerprint, fp)
}

// RecordID returns a slog.Attr for a file record ID
func RecordID(id string) slog.Attr {
	return slog.String(KeyRecordID, id)
}

// RemoteID returns a slog.Attr for a provider-assigned file ID
func RemoteID(id string) slog.Attr {
	return slog.String(KeyRemoteID, id)
}

// Provider returns a slog.Attr for a provider ID
func Provider(id string) slog.Attr {
	return slog.String(KeyProvider, id)
}

// Purpose returns a slog.Attr for an upload purpose tag
func Purpose(p string) slog.Attr {
	return slog.String(KeyPurpose, p)
}

// Size returns a slog.Attr for a content size in bytes
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
