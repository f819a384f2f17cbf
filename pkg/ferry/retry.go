package ferry

import (
	"context"
	"math/rand"
	"time"

	"github.com/fileferry/fileferry/internal/logger"
	"github.com/fileferry/fileferry/pkg/breaker"
	"github.com/fileferry/fileferry/pkg/metrics"

	ferrors "github.com/fileferry/fileferry/pkg/ferry/errors"
)

// withRetry runs fn up to the configured attempt limit, backing off
// exponentially with jitter between attempts. Only retryable errors are
// retried; a circuit-open rejection aborts immediately since later attempts
// would be rejected the same way. Exhausted retries surface as
// ProviderUnavailable so callers can tell "kept failing" from a single
// transient error.
func (o *Orchestrator) withRetry(ctx context.Context, providerID string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < o.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := o.calculateBackoff(attempt - 1)
			logger.Debug("retrying provider call",
				logger.KeyProvider, providerID,
				logger.KeyAttempt, attempt+1,
				logger.KeyMaxRetries, o.cfg.Retry.MaxAttempts,
				logger.KeyDurationMs, backoff.Milliseconds(),
			)
			select {
			case <-ctx.Done():
				return ferrors.NewProviderUnavailableError(
					"provider "+providerID+" call abandoned", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ferrors.IsCode(lastErr, ferrors.ErrCircuitOpen) {
			return lastErr
		}
		if !ferrors.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return ferrors.NewProviderUnavailableError(
		"provider "+providerID+" still failing after retries", lastErr)
}

// calculateBackoff returns the delay before retry number attempt, with up to
// 25% jitter in either direction to avoid retry storms.
func (o *Orchestrator) calculateBackoff(attempt int) time.Duration {
	backoff := float64(o.cfg.Retry.InitialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= o.cfg.Retry.BackoffMultiplier
		if backoff >= float64(o.cfg.Retry.MaxBackoff) {
			backoff = float64(o.cfg.Retry.MaxBackoff)
			break
		}
	}

	jitter := (rand.Float64() - 0.5) * 0.5 * backoff
	return time.Duration(backoff + jitter)
}

// publishBreakerState exports the circuit state after a call sequence.
func (o *Orchestrator) publishBreakerState(providerID string, b *breaker.Breaker) {
	metrics.RecordBreakerState(o.metrics, providerID, float64(b.State()))
}
