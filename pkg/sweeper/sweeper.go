// Package sweeper implements the lifecycle sweeper.
//
// The sweeper periodically scans for records past their retention window and
// reclaims them through the orchestrator's delete path, so expiry deletes
// take the same fingerprint locks, breaker protection, and atomic
// finalization as user-requested deletes.
package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/ferry"
	"github.com/fileferry/fileferry/pkg/metrics"
	"github.com/fileferry/fileferry/pkg/models"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// ReasonExpired is the audit reason recorded for sweep deletions.
const ReasonExpired = ferry.ReasonExpired

// Default sweeper settings.
const (
	DefaultInterval  = 24 * time.Hour
	DefaultBatchSize = 500
)

// Deleter is the slice of the orchestrator the sweeper drives.
type Deleter interface {
	Delete(ctx context.Context, recordID, reason string) error
}

// RecordSource is the slice of the record store the sweeper scans.
type RecordSource interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.FileRecord, error)
}

// Config contains sweeper configuration.
type Config struct {
	// Interval is how often a sweep runs.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// BatchSize caps how many records one sweep processes.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"omitempty,min=1"`

	// LockAcquireTimeout is the short per-record lock wait. A record whose
	// lock cannot be acquired within it is presumed in-flight and skipped.
	LockAcquireTimeout time.Duration `mapstructure:"lock_acquire_timeout" yaml:"lock_acquire_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LockAcquireTimeout == 0 {
		c.LockAcquireTimeout = 2 * time.Second
	}
}

// Stats is the outcome of one sweep cycle.
type Stats struct {
	Scanned int
	Deleted int
	Skipped int
	Failed  int
}

// Sweeper reclaims expired records on a fixed interval.
type Sweeper struct {
	store   RecordSource
	deleter Deleter
	metrics metrics.UploadMetrics
	cfg     Config

	// sweeping guards against overlapping cycles; a new sweep never
	// starts while a previous one is still running.
	sweeping atomic.Bool

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a sweeper. Call Start to begin the interval loop.
func New(st RecordSource, deleter Deleter, cfg Config) *Sweeper {
	cfg.ApplyDefaults()

	return &Sweeper{
		store:   st,
		deleter: deleter,
		metrics: metrics.NewUploadMetrics(),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. The first sweep happens
// after one full interval.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop terminates the sweep loop and waits for it to exit. An in-progress
// sweep finishes its current record but not the rest of its batch.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.started.Load() {
			<-s.doneCh
		}
	})
}

// Sweep runs one cycle immediately. Returns zero Stats if another sweep is
// already in progress.
func (s *Sweeper) Sweep(ctx context.Context) Stats {
	if !s.sweeping.CompareAndSwap(false, true) {
		logger.Warn("sweep already in progress, skipping cycle")
		return Stats{}
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	stats := s.sweep(ctx)

	metrics.RecordSweep(s.metrics, stats.Deleted, stats.Skipped, stats.Failed)
	logger.Info("sweep finished",
		"scanned", stats.Scanned,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		logger.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return stats
}

func (s *Sweeper) sweep(ctx context.Context) Stats {
	var stats Stats

	records, err := s.store.ListExpired(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		logger.Error("listing expired records", logger.KeyError, err)
		stats.Failed++
		return stats
	}
	stats.Scanned = len(records)

	for _, record := range records {
		select {
		case <-s.stopCh:
			return stats
		case <-ctx.Done():
			return stats
		default:
		}

		s.reclaim(ctx, record, &stats)
	}
	return stats
}

// reclaim deletes one record through the orchestrator, which flips it out of
// active status only once the fingerprint lock is held. A lock timeout means
// the record is in-flight elsewhere; it is skipped, still active, and
// retried next cycle.
func (s *Sweeper) reclaim(ctx context.Context, record *models.FileRecord, stats *Stats) {
	log := logger.With(
		logger.KeyRecordID, record.ID,
		logger.KeyProvider, record.ProviderID,
		logger.KeyReason, ReasonExpired,
	)

	err := s.deleter.Delete(ferry.WithLockWait(ctx, s.cfg.LockAcquireTimeout), record.ID, ReasonExpired)

	switch {
	case err == nil:
		log.Info("expired record reclaimed")
		stats.Deleted++
	case ferrors.IsLockTimeout(err):
		log.Debug("record locked, presumed in-flight, skipping")
		stats.Skipped++
	case ferrors.IsNotFound(err):
		// Deleted between the scan and the lock; already reclaimed.
		stats.Skipped++
	default:
		log.Error("reclaiming expired record", logger.KeyError, err)
		stats.Failed++
	}
}
