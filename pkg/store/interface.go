package store

import (
	"context"
	"time"

	"github.com/fileferry/fileferry/pkg/models"
)

// Store is the durable record store consumed by the orchestrator and the
// lifecycle sweeper. FileRecord and QuotaEntry mutations happen exclusively
// through this interface, inside the orchestrator's fingerprint-lock critical
// section or the sweeper's status transitions.
//
// Thread Safety: implementations must be safe for concurrent use by multiple
// goroutines. Multi-row mutations (CommitUpload, FinalizeDelete) run inside a
// single database transaction.
type Store interface {
	RecordStore
	QuotaStore

	// Ping verifies the store is reachable (health checks).
	Ping(ctx context.Context) error

	// Close releases the underlying database connection.
	Close() error
}

// RecordStore defines FileRecord operations.
type RecordStore interface {
	// CommitUpload atomically reserves quota for the record's owner and
	// creates the record. The quota increment is a single guarded statement
	// (consumed += size WHERE consumed + size <= ceiling); if the guard
	// fails, nothing is persisted and models.ErrQuotaExceeded is returned.
	// Assigns a UUID if the record has no ID. Returns the record ID.
	CommitUpload(ctx context.Context, record *models.FileRecord) (string, error)

	// GetRecord retrieves a record by ID.
	// Returns models.ErrRecordNotFound if it doesn't exist.
	GetRecord(ctx context.Context, id string) (*models.FileRecord, error)

	// FindActiveByFingerprint returns the active record for a fingerprint,
	// or models.ErrRecordNotFound. This is the dedup lookup: it queries the
	// durable store directly, so it can never drift from the source of truth.
	FindActiveByFingerprint(ctx context.Context, fp string) (*models.FileRecord, error)

	// AddReference increments the record's reference count and bumps its
	// accessed-at timestamp. Used on dedup hits.
	AddReference(ctx context.Context, id string) error

	// DropReference decrements the record's reference count (floored at
	// zero) and returns the updated record.
	DropReference(ctx context.Context, id string) (*models.FileRecord, error)

	// TouchAccessed bumps the record's accessed-at timestamp.
	TouchAccessed(ctx context.Context, id string, at time.Time) error

	// MarkExpired transitions an active record to expired. Returns
	// models.ErrRecordNotActive if the record is not active (guards against
	// double-expiry races).
	MarkExpired(ctx context.Context, id string) error

	// FinalizeDelete atomically marks the record deleted and releases the
	// owner's quota bytes. Accepts records in active or expired status;
	// returns models.ErrRecordNotActive otherwise (prevents double-delete).
	FinalizeDelete(ctx context.Context, record *models.FileRecord) error

	// ListExpired returns up to limit records due for reclamation: active
	// records whose expires-at is before now, plus records already marked
	// expired by an earlier sweep, ordered by expires-at ascending.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.FileRecord, error)

	// ListRecordsByOwner returns all non-deleted records owned by a user.
	ListRecordsByOwner(ctx context.Context, ownerID string) ([]*models.FileRecord, error)
}

// QuotaStore defines quota ledger operations.
type QuotaStore interface {
	// GetQuota retrieves the quota entry for a user.
	// Returns models.ErrQuotaNotFound if none exists.
	GetQuota(ctx context.Context, userID string) (*models.QuotaEntry, error)

	// EnsureQuota returns the user's quota entry, creating it from the given
	// defaults if it does not exist yet.
	EnsureQuota(ctx context.Context, userID string, byteCeiling, perFileCeiling int64) (*models.QuotaEntry, error)

	// SetQuotaCeiling updates a user's byte ceiling.
	SetQuotaCeiling(ctx context.Context, userID string, byteCeiling int64) error

	// ReserveQuota increments the user's consumed bytes with the ceiling
	// guard in the same statement. Returns models.ErrQuotaExceeded if the
	// guard rejects the update.
	ReserveQuota(ctx context.Context, userID string, size int64) error

	// ReleaseQuota decrements the user's consumed bytes and file count,
	// flooring both at zero (rollback and delete paths).
	ReleaseQuota(ctx context.Context, userID string, size int64) error
}
