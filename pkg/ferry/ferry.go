// Package ferry implements the upload orchestrator.
//
// The orchestrator ties the subsystems together: it fingerprints incoming
// content, answers uploads from the dedup index when possible, serializes
// per-fingerprint work through the lock manager, routes provider calls
// through circuit breakers with bounded retries, and commits record and
// quota mutations atomically. All FileRecord and QuotaEntry writes in the
// system flow through Upload and Delete.
package ferry

import (
	"context"
	"time"

	"github.com/fileferry/fileferry/internal/bytesize"
	"github.com/fileferry/fileferry/pkg/breaker"
	"github.com/fileferry/fileferry/pkg/lock"
	"github.com/fileferry/fileferry/pkg/metrics"
	"github.com/fileferry/fileferry/pkg/provider"
	"github.com/fileferry/fileferry/pkg/store"
)

// Default orchestrator settings.
const (
	// DefaultMaxFileSize is the provider-agnostic hard size ceiling.
	DefaultMaxFileSize = 512 * bytesize.MB

	// DefaultRetention is how long an uploaded file lives before the
	// sweeper reclaims it.
	DefaultRetention = 720 * time.Hour // 30 days

	// DefaultProviderTimeout bounds one provider call attempt.
	DefaultProviderTimeout = 5 * time.Minute

	// DefaultByteCeiling is the quota ceiling assigned to new users.
	DefaultByteCeiling = 10 * bytesize.GB

	// DefaultPerFileCeiling is the per-file quota limit for new users.
	DefaultPerFileCeiling = 512 * bytesize.MB
)

// RetryConfig controls the provider-call retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per provider call.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts" validate:"omitempty,min=1"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = 2.0
	}
}

// Config contains orchestrator configuration.
type Config struct {
	// MaxFileSize is the hard per-upload ceiling across all providers.
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size"`

	// Retention is the lifetime of an uploaded file.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`

	// ProviderTimeout bounds each provider call attempt.
	ProviderTimeout time.Duration `mapstructure:"provider_timeout" yaml:"provider_timeout"`

	// DefaultByteCeiling is the quota ceiling for first-seen users.
	DefaultByteCeiling bytesize.ByteSize `mapstructure:"default_byte_ceiling" yaml:"default_byte_ceiling"`

	// DefaultPerFileCeiling is the per-file limit for first-seen users.
	DefaultPerFileCeiling bytesize.ByteSize `mapstructure:"default_per_file_ceiling" yaml:"default_per_file_ceiling"`

	// LockTTL and LockAcquireTimeout govern the fingerprint lock scope.
	LockTTL            time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	LockAcquireTimeout time.Duration `mapstructure:"lock_acquire_timeout" yaml:"lock_acquire_timeout"`

	// Retry controls the provider-call retry loop.
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Breaker is applied to every provider's circuit breaker.
	Breaker breaker.Config `mapstructure:"breaker" yaml:"breaker"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.ProviderTimeout == 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.DefaultByteCeiling == 0 {
		c.DefaultByteCeiling = DefaultByteCeiling
	}
	if c.DefaultPerFileCeiling == 0 {
		c.DefaultPerFileCeiling = DefaultPerFileCeiling
	}
	if c.LockTTL == 0 {
		c.LockTTL = lock.DefaultTTL
	}
	if c.LockAcquireTimeout == 0 {
		c.LockAcquireTimeout = lock.DefaultAcquireTimeout
	}
	c.Retry.ApplyDefaults()
	c.Breaker.ApplyDefaults()
}

type lockWaitKey struct{}

// WithLockWait caps the fingerprint lock wait for calls made with the
// returned context, without shortening the deadline of the work done once
// the lock is held. The sweeper uses this so a locked record is skipped
// quickly while its provider delete still gets the full call timeout.
func WithLockWait(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, lockWaitKey{}, d)
}

// lockWait returns the lock wait for ctx, falling back to the configured
// acquire timeout.
func (o *Orchestrator) lockWait(ctx context.Context) time.Duration {
	if d, ok := ctx.Value(lockWaitKey{}).(time.Duration); ok && d > 0 {
		return d
	}
	return o.cfg.LockAcquireTimeout
}

// Orchestrator coordinates uploads and deletes across providers.
type Orchestrator struct {
	store    store.Store
	locks    lock.Manager
	registry *provider.Registry
	breakers map[string]*breaker.Breaker
	metrics  metrics.UploadMetrics
	cfg      Config
}

// New creates the orchestrator. One circuit breaker is created per
// registered provider.
func New(st store.Store, locks lock.Manager, registry *provider.Registry, cfg Config) *Orchestrator {
	cfg.ApplyDefaults()

	breakers := make(map[string]*breaker.Breaker)
	for _, id := range registry.IDs() {
		breakers[id] = breaker.New(id, cfg.Breaker)
	}

	return &Orchestrator{
		store:    st,
		locks:    locks,
		registry: registry,
		breakers: breakers,
		metrics:  metrics.NewUploadMetrics(),
		cfg:      cfg,
	}
}

// BreakerStates returns the current circuit state per provider, for health
// reporting.
func (o *Orchestrator) BreakerStates() map[string]breaker.State {
	states := make(map[string]breaker.State, len(o.breakers))
	for id, b := range o.breakers {
		states[id] = b.State()
	}
	return states
}

// providerAvailable is the health gate used during auto resolution.
func (o *Orchestrator) providerAvailable(id string) bool {
	b, ok := o.breakers[id]
	return ok && b.Allow()
}

// breakerFor returns the circuit breaker for a provider. The breaker map is
// fixed at construction, so lookups are safe without synchronization.
func (o *Orchestrator) breakerFor(id string) (*breaker.Breaker, bool) {
	b, ok := o.breakers[id]
	return b, ok
}
