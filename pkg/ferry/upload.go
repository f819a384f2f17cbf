package ferry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/fingerprint"
	"github.com/fileferry/fileferry/pkg/metrics"
	"github.com/fileferry/fileferry/pkg/models"
	"github.com/fileferry/fileferry/pkg/provider"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// UploadRequest describes one upload. Immutable once created; it exists only
// for the duration of the Upload call.
type UploadRequest struct {
	// Content is the file content. It is consumed exactly once.
	Content io.Reader

	// Size is the declared content size in bytes. Zero means unknown; a
	// non-zero declaration that disagrees with the actual byte count is a
	// validation failure.
	Size int64

	// ContentType is an optional hint, recorded but not enforced.
	ContentType string

	// Provider is the target provider ID, or "auto" / empty for
	// priority-order resolution.
	Provider string

	// UserID identifies the owner for quota accounting.
	UserID string

	// Purpose is the provider purpose tag.
	Purpose string
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	Record *models.FileRecord

	// Deduplicated is true when the upload was satisfied by an existing
	// record without a provider call.
	Deduplicated bool
}

// Upload runs the full orchestration: validate, fingerprint, quota
// pre-check, dedup lookup, fingerprint lock, provider call under breaker and
// retry, atomic commit.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := o.validateUpload(req); err != nil {
		return nil, err
	}

	// Spool to a temp file while hashing so large content is never held in
	// memory and retries can re-read it.
	spool, fp, size, err := o.spoolContent(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	log := logger.With(
		logger.KeyUserID, req.UserID,
		logger.KeyFingerprint, fp.Short(),
		logger.KeySize, size,
		logger.KeyPurpose, req.Purpose,
	)

	// Read-only pre-flight. The authoritative check is the guarded quota
	// statement inside CommitUpload.
	if err := o.precheckQuota(ctx, req.UserID, size); err != nil {
		return nil, err
	}

	lockCtx, cancel := context.WithTimeout(ctx, o.lockWait(ctx))
	defer cancel()
	token, err := o.locks.Acquire(lockCtx, fp.String(), o.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := o.locks.Release(fp.String(), token); rerr != nil {
			log.Error("releasing fingerprint lock", logger.KeyError, rerr)
		}
	}()

	// A concurrent upload of the same content may have already committed;
	// answer from its record instead of uploading again.
	if result, ok, err := o.dedupHit(ctx, fp, log); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	adapter, err := o.registry.Resolve(req.Provider, size, req.Purpose, o.providerAvailable)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	remoteID, err := o.callUpload(ctx, adapter, spool, size, req.Purpose)
	metrics.ObserveUpload(o.metrics, adapter.ID(), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &models.FileRecord{
		Fingerprint: fp.String(),
		ProviderID:  adapter.ID(),
		RemoteID:    remoteID,
		OwnerID:     req.UserID,
		SizeBytes:   size,
		Purpose:     req.Purpose,
		RefCount:    1,
		Status:      models.StatusActive,
		AccessedAt:  now,
		ExpiresAt:   now.Add(o.cfg.Retention),
	}

	if _, err := o.store.CommitUpload(ctx, record); err != nil {
		// The remote file exists but nothing was persisted; undo the
		// provider side before surfacing the failure.
		o.rollbackRemote(adapter, remoteID, log)

		if errors.Is(err, models.ErrQuotaExceeded) {
			return nil, o.quotaExceededError(ctx, req.UserID, size)
		}
		return nil, ferrors.NewInternalError("committing upload record", err)
	}

	metrics.RecordBytes(o.metrics, adapter.ID(), size)
	log.Info("upload committed",
		logger.KeyRecordID, record.ID,
		logger.KeyProvider, adapter.ID(),
		logger.KeyRemoteID, remoteID,
	)
	return &UploadResult{Record: record}, nil
}

func (o *Orchestrator) validateUpload(req UploadRequest) error {
	if req.Content == nil {
		return ferrors.NewValidationError("content must not be empty")
	}
	if req.UserID == "" {
		return ferrors.NewValidationError("user id must not be empty")
	}
	if req.Purpose == "" {
		return ferrors.NewValidationError("purpose must not be empty")
	}
	if req.Size < 0 {
		return ferrors.NewValidationError("size must not be negative")
	}
	if req.Size > o.cfg.MaxFileSize.Int64() {
		return ferrors.NewValidationError(
			fmt.Sprintf("size %d exceeds the %d byte upload ceiling", req.Size, o.cfg.MaxFileSize.Int64()))
	}
	return nil
}

// spoolContent streams the request content into a temp file, hashing as it
// goes. The returned file is positioned at the start.
func (o *Orchestrator) spoolContent(req UploadRequest) (*os.File, fingerprint.Fingerprint, int64, error) {
	spool, err := os.CreateTemp("", "fileferry-upload-*")
	if err != nil {
		return nil, "", 0, ferrors.NewInternalError("creating spool file", err)
	}

	cleanup := func() {
		spool.Close()
		os.Remove(spool.Name())
	}

	tee := fingerprint.NewTee(io.LimitReader(req.Content, o.cfg.MaxFileSize.Int64()+1))
	if _, err := io.Copy(spool, tee); err != nil {
		cleanup()
		return nil, "", 0, ferrors.NewInternalError("spooling upload content", err)
	}

	size := tee.BytesRead()
	switch {
	case size == 0:
		cleanup()
		return nil, "", 0, ferrors.NewValidationError("content must not be empty")
	case size > o.cfg.MaxFileSize.Int64():
		cleanup()
		return nil, "", 0, ferrors.NewValidationError(
			fmt.Sprintf("content exceeds the %d byte upload ceiling", o.cfg.MaxFileSize.Int64()))
	case req.Size > 0 && size != req.Size:
		cleanup()
		return nil, "", 0, ferrors.NewValidationError(
			fmt.Sprintf("declared size %d does not match content size %d", req.Size, size))
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, "", 0, ferrors.NewInternalError("rewinding spool file", err)
	}
	return spool, tee.Sum(), size, nil
}

// precheckQuota fails fast before any provider I/O. No side effects beyond
// creating the user's quota entry on first sight.
func (o *Orchestrator) precheckQuota(ctx context.Context, userID string, size int64) error {
	quota, err := o.store.EnsureQuota(ctx, userID,
		o.cfg.DefaultByteCeiling.Int64(), o.cfg.DefaultPerFileCeiling.Int64())
	if err != nil {
		return ferrors.NewInternalError("loading quota entry", err)
	}

	if quota.PerFileCeiling > 0 && size > quota.PerFileCeiling {
		return ferrors.NewPerFileLimitError(size, quota.PerFileCeiling)
	}
	if !quota.Fits(size) {
		return ferrors.NewQuotaExceededError(userID, size, quota.Remaining())
	}
	return nil
}

// quotaExceededError rebuilds the structured quota error after the guarded
// commit statement rejected the reservation.
func (o *Orchestrator) quotaExceededError(ctx context.Context, userID string, size int64) error {
	remaining := int64(0)
	if quota, err := o.store.GetQuota(ctx, userID); err == nil {
		remaining = quota.Remaining()
	}
	return ferrors.NewQuotaExceededError(userID, size, remaining)
}

// dedupHit answers the upload from an existing active record when one exists
// for the fingerprint. Dedup is global: any owner's active record counts,
// and a hit increments the record's reference count without charging quota.
//
// Callers must hold the fingerprint lock: the reference increment mutates
// the record, and a concurrent final delete of the same fingerprint would
// otherwise hand the caller a record whose remote file is gone.
func (o *Orchestrator) dedupHit(ctx context.Context, fp fingerprint.Fingerprint, log *slog.Logger) (*UploadResult, bool, error) {
	record, err := o.store.FindActiveByFingerprint(ctx, fp.String())
	if err != nil {
		if errors.Is(err, models.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, ferrors.NewInternalError("dedup lookup", err)
	}

	if err := o.store.AddReference(ctx, record.ID); err != nil {
		// The record left active status between the lookup and the
		// increment; treat it as a miss and upload fresh.
		if errors.Is(err, models.ErrRecordNotActive) || errors.Is(err, models.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, ferrors.NewInternalError("incrementing dedup reference", err)
	}
	record.RefCount++
	record.AccessedAt = time.Now().UTC()

	metrics.RecordDedupHit(o.metrics)
	log.Info("upload deduplicated",
		logger.KeyRecordID, record.ID,
		logger.KeyProvider, record.ProviderID,
	)
	return &UploadResult{Record: record, Deduplicated: true}, true, nil
}

// callUpload runs the provider upload under the breaker with bounded
// retries. The spool file is rewound before each attempt.
func (o *Orchestrator) callUpload(ctx context.Context, adapter provider.Adapter, spool *os.File, size int64, purpose string) (string, error) {
	b, ok := o.breakerFor(adapter.ID())
	if !ok {
		return "", ferrors.NewInternalError(
			fmt.Sprintf("no circuit breaker for provider %s", adapter.ID()), nil)
	}

	var remoteID string
	err := o.withRetry(ctx, adapter.ID(), func(ctx context.Context) error {
		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			return ferrors.NewInternalError("rewinding spool file", err)
		}
		return b.Call(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
			defer cancel()

			id, err := adapter.Upload(callCtx, spool, size, purpose)
			if err != nil {
				return err
			}
			remoteID = id
			return nil
		})
	})
	o.publishBreakerState(adapter.ID(), b)
	if err != nil {
		return "", err
	}
	return remoteID, nil
}

// rollbackRemote best-effort deletes a remote file after a failed commit.
func (o *Orchestrator) rollbackRemote(adapter provider.Adapter, remoteID string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ProviderTimeout)
	defer cancel()

	if err := adapter.Delete(ctx, remoteID); err != nil {
		// The record schema's remote id is what a reconciliation sweep
		// would key on; log enough to find the orphan.
		log.Error("rolling back remote file after failed commit",
			logger.KeyProvider, adapter.ID(),
			logger.KeyRemoteID, remoteID,
			logger.KeyError, err,
		)
	}
}
