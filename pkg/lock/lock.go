// Package lock implements per-fingerprint mutual exclusion with TTL.
//
// The lock manager is the single-flight mechanism for the upload
// orchestrator: at most one valid (non-expired) holder exists per key at any
// time, so no two uploads or deletes of the same content ever execute their
// provider-call-plus-commit sequence concurrently.
//
// Two implementations exist: an in-process manager (default) and a
// Redis-backed manager for horizontally scaled deployments.
package lock

import (
	"context"
	"fmt"
	"time"
)

// Default lock manager settings.
const (
	// DefaultTTL bounds how long a crashed holder can block a key.
	DefaultTTL = 5 * time.Minute

	// DefaultAcquireTimeout bounds how long Acquire waits for a held key
	// when the caller's context carries no earlier deadline.
	DefaultAcquireTimeout = 30 * time.Second

	// DefaultReaperInterval is how often the in-process reaper removes
	// expired entries that have no waiters.
	DefaultReaperInterval = 1 * time.Minute
)

// Manager provides per-key mutual exclusion with TTL.
//
// Acquire on a held key blocks until the holder releases, the holder's TTL
// expires, or the context deadline passes. The lock is reentrant-unsafe by
// design: a second Acquire on a held key blocks or times out, never silently
// succeeds.
//
// Release with a token that does not match the current holder is a non-error
// no-op (the TTL may already have reassigned the lock) but is logged as a
// warning-level anomaly.
type Manager interface {
	// Acquire obtains the lock for key, returning an opaque holder token.
	// Returns a LockTimeout error when the context expires first.
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)

	// Release releases the lock if token matches the current holder.
	Release(key, token string) error

	// Close stops background maintenance. The manager must not be used
	// after Close.
	Close() error
}

// Config contains lock manager configuration.
type Config struct {
	// Backend selects the implementation: "memory" (default) or "redis".
	Backend string `mapstructure:"backend" yaml:"backend" validate:"omitempty,oneof=memory redis"`

	// TTL is how long a lock may be held before it can be reassigned.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// AcquireTimeout bounds lock waits for upload/delete requests.
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`

	// SweepAcquireTimeout is the short wait used by the lifecycle sweeper;
	// a locked record is presumed in-flight and skipped for the cycle.
	SweepAcquireTimeout time.Duration `mapstructure:"sweep_acquire_timeout" yaml:"sweep_acquire_timeout"`

	// ReaperInterval is how often expired entries are reaped (memory backend).
	ReaperInterval time.Duration `mapstructure:"reaper_interval" yaml:"reaper_interval"`

	// Redis configures the redis backend.
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.SweepAcquireTimeout == 0 {
		c.SweepAcquireTimeout = 2 * time.Second
	}
	if c.ReaperInterval == 0 {
		c.ReaperInterval = DefaultReaperInterval
	}
	c.Redis.applyDefaults()
}

// New creates the lock manager selected by cfg.Backend.
func New(cfg Config) (Manager, error) {
	cfg.ApplyDefaults()

	switch cfg.Backend {
	case "memory":
		return NewMemoryManager(cfg.ReaperInterval), nil
	case "redis":
		return NewRedisManager(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unknown lock backend: %s", cfg.Backend)
	}
}
