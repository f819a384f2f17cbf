package ferry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/fingerprint"
	"github.com/fileferry/fileferry/pkg/metrics"
	"github.com/fileferry/fileferry/pkg/models"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// ReasonExpired marks a delete driven by retention expiry rather than a
// caller request. Expiry deletes transition the record out of active status
// under the fingerprint lock before the provider call.
const ReasonExpired = "expired"

// Delete removes a record. A record with other live references only drops a
// reference; the last reference triggers the provider delete and the atomic
// record/quota finalization, all under the fingerprint lock.
//
// reason is recorded in the audit log ("requested", "expired").
func (o *Orchestrator) Delete(ctx context.Context, recordID, reason string) error {
	record, err := o.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return ferrors.NewNotFoundError("file record", recordID)
		}
		return ferrors.NewInternalError("loading record", err)
	}
	if record.Status == models.StatusDeleted {
		return ferrors.NewNotFoundError("file record", recordID)
	}

	lockCtx, cancel := context.WithTimeout(ctx, o.lockWait(ctx))
	defer cancel()
	token, err := o.locks.Acquire(lockCtx, record.Fingerprint, o.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := o.locks.Release(record.Fingerprint, token); rerr != nil {
			logger.Error("releasing fingerprint lock",
				logger.KeyLockKey, record.Fingerprint,
				logger.KeyError, rerr,
			)
		}
	}()

	// Re-read under the lock; a concurrent delete or dedup hit may have
	// changed the refcount or status while we waited.
	record, err = o.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return ferrors.NewNotFoundError("file record", recordID)
		}
		return ferrors.NewInternalError("loading record", err)
	}
	if record.Status == models.StatusDeleted {
		return ferrors.NewNotFoundError("file record", recordID)
	}

	log := logger.With(
		logger.KeyRecordID, record.ID,
		logger.KeyFingerprint, fingerprint.Fingerprint(record.Fingerprint).Short(),
		logger.KeyProvider, record.ProviderID,
		logger.KeyReason, reason,
	)

	if record.Shared() {
		if _, err := o.store.DropReference(ctx, record.ID); err != nil {
			return ferrors.NewInternalError("dropping record reference", err)
		}
		log.Info("record reference dropped")
		return nil
	}

	// Expiry deletes leave active status only now, with the lock held.
	// A record whose lock could not be acquired stays active for the
	// cycle; one whose provider delete fails below stays expired, hidden
	// from dedup, and is retried by the next sweep.
	if reason == ReasonExpired && record.Status == models.StatusActive {
		if err := o.store.MarkExpired(ctx, record.ID); err != nil {
			return ferrors.NewInternalError("marking record expired", err)
		}
		record.Status = models.StatusExpired
	}

	if err := o.deleteRemote(ctx, record); err != nil {
		return err
	}

	if err := o.store.FinalizeDelete(ctx, record); err != nil {
		if errors.Is(err, models.ErrRecordNotActive) {
			// Lost a race with another delete after the provider call;
			// the remote file is gone either way.
			return nil
		}
		return ferrors.NewInternalError("finalizing record delete", err)
	}

	log.Info("record deleted")
	return nil
}

// deleteRemote removes the provider-side file under the provider's breaker
// with bounded retries.
func (o *Orchestrator) deleteRemote(ctx context.Context, record *models.FileRecord) error {
	adapter, err := o.registry.Get(record.ProviderID)
	if err != nil {
		return ferrors.NewInternalError(
			fmt.Sprintf("provider %s is no longer configured", record.ProviderID), err)
	}
	b, ok := o.breakerFor(record.ProviderID)
	if !ok {
		return ferrors.NewInternalError(
			fmt.Sprintf("no circuit breaker for provider %s", record.ProviderID), nil)
	}

	start := time.Now()
	err = o.withRetry(ctx, record.ProviderID, func(ctx context.Context) error {
		return b.Call(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
			defer cancel()
			return adapter.Delete(callCtx, record.RemoteID)
		})
	})
	metrics.ObserveDelete(o.metrics, record.ProviderID, time.Since(start), err)
	o.publishBreakerState(record.ProviderID, b)
	return err
}

// GetFile returns a record without bumping its accessed-at timestamp.
func (o *Orchestrator) GetFile(ctx context.Context, recordID string) (*models.FileRecord, error) {
	record, err := o.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return nil, ferrors.NewNotFoundError("file record", recordID)
		}
		return nil, ferrors.NewInternalError("loading record", err)
	}
	if record.Status == models.StatusDeleted {
		return nil, ferrors.NewNotFoundError("file record", recordID)
	}
	return record, nil
}

// TouchAccess bumps a record's accessed-at timestamp. Used by read paths
// that should count as activity without going through upload.
func (o *Orchestrator) TouchAccess(ctx context.Context, recordID string) (*models.FileRecord, error) {
	record, err := o.store.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return nil, ferrors.NewNotFoundError("file record", recordID)
		}
		return nil, ferrors.NewInternalError("loading record", err)
	}
	if record.Status == models.StatusDeleted {
		return nil, ferrors.NewNotFoundError("file record", recordID)
	}

	now := time.Now().UTC()
	if err := o.store.TouchAccessed(ctx, record.ID, now); err != nil {
		return nil, ferrors.NewInternalError("bumping accessed timestamp", err)
	}
	record.AccessedAt = now
	return record, nil
}

// Quota returns the user's quota entry, creating it with defaults on first
// sight.
func (o *Orchestrator) Quota(ctx context.Context, userID string) (*models.QuotaEntry, error) {
	quota, err := o.store.EnsureQuota(ctx, userID,
		o.cfg.DefaultByteCeiling.Int64(), o.cfg.DefaultPerFileCeiling.Int64())
	if err != nil {
		return nil, ferrors.NewInternalError("loading quota entry", err)
	}
	return quota, nil
}

// SetQuotaCeiling updates a user's byte ceiling.
func (o *Orchestrator) SetQuotaCeiling(ctx context.Context, userID string, ceiling int64) error {
	if ceiling <= 0 {
		return ferrors.NewValidationError("byte ceiling must be positive")
	}
	if _, err := o.store.EnsureQuota(ctx, userID,
		ceiling, o.cfg.DefaultPerFileCeiling.Int64()); err != nil {
		return ferrors.NewInternalError("loading quota entry", err)
	}
	if err := o.store.SetQuotaCeiling(ctx, userID, ceiling); err != nil {
		return ferrors.NewInternalError("updating quota ceiling", err)
	}
	return nil
}

// ListFiles returns the user's non-deleted records.
func (o *Orchestrator) ListFiles(ctx context.Context, userID string) ([]*models.FileRecord, error) {
	records, err := o.store.ListRecordsByOwner(ctx, userID)
	if err != nil {
		return nil, ferrors.NewInternalError("listing records", err)
	}
	return records, nil
}
