// Package breaker implements a per-provider circuit breaker.
//
// Each provider adapter is wrapped by one Breaker. Consecutive transient
// failures trip the breaker open; while open, calls fail immediately without
// touching the provider. After a cooldown a single probe call is admitted,
// and its outcome decides whether the circuit closes again or re-opens.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/fileferry/fileferry/internal/logger"
	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// State is the circuit state.
type State int

const (
	// StateClosed admits all calls.
	StateClosed State = iota

	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits exactly one probe call.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Default breaker settings.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
)

// Config contains circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive transient failures
	// that trips the circuit open.
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"omitempty,min=1"`

	// Cooldown is how long an open circuit waits before admitting a probe.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
}

// Breaker is a circuit breaker guarding one provider.
//
// Only retryable failures count toward the threshold: a rejection such as an
// invalid purpose says nothing about provider health, so it passes through
// without moving the failure counter in either direction.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probeBusy bool

	// generation increments on every trip. Outcomes of calls admitted
	// before the trip are stale and must not move the circuit.
	generation uint64

	// now is swappable for tests.
	now func() time.Time
}

// New creates a closed breaker for the named provider.
func New(name string, cfg Config) *Breaker {
	cfg.ApplyDefaults()

	return &Breaker{
		name:      name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Name returns the provider name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current circuit state. An open circuit whose cooldown
// has elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Allow reports whether a call would currently be admitted. It does not
// reserve the half-open probe slot; use Call for that.
func (b *Breaker) Allow() bool {
	return b.State() != StateOpen
}

// Call runs fn under the circuit.
//
// When the circuit is open it returns a CircuitOpen error without invoking
// fn. In half-open, exactly one caller wins the probe slot; the rest are
// rejected as if open. fn's error is classified with the retryable flag of
// the error taxonomy: retryable failures feed the circuit, terminal ones
// pass through untouched.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, gen, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	b.record(probe, gen, callErr)
	return callErr
}

// admit decides whether the call proceeds, reserving the probe slot when the
// circuit is half-open. probe is true when this call is the probe; gen ties
// the eventual outcome to the circuit generation that admitted it.
func (b *Breaker) admit() (probe bool, gen uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateClosed:
		return false, b.generation, nil
	case StateHalfOpen:
		if b.probeBusy {
			return false, 0, ferrors.NewCircuitOpenError(b.name)
		}
		b.probeBusy = true
		return true, b.generation, nil
	default:
		return false, 0, ferrors.NewCircuitOpenError(b.name)
	}
}

func (b *Breaker) record(probe bool, gen uint64, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		// The circuit tripped while this call was in flight. A slow
		// success from before the trip must not cut the cooldown short,
		// and a slow failure must not re-trip the new generation.
		return
	}

	if probe {
		b.probeBusy = false
	}

	if callErr == nil {
		if b.state != StateClosed || b.failures > 0 {
			logger.Info("circuit closed",
				logger.KeyProvider, b.name,
				logger.KeyBreaker, StateClosed.String(),
			)
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	if !ferrors.IsRetryable(callErr) {
		// Terminal rejections do not indicate provider health.
		return
	}

	if probe {
		// Failed probe re-opens the circuit and restarts the cooldown.
		b.trip()
		return
	}

	b.failures++
	if b.failures >= b.threshold && b.state == StateClosed {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = b.threshold
	b.probeBusy = false
	b.generation++
	logger.Warn("circuit opened",
		logger.KeyProvider, b.name,
		logger.KeyBreaker, StateOpen.String(),
	)
}
