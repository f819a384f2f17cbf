package metrics

import "time"

// UploadMetrics records upload lifecycle observations. A nil UploadMetrics
// is valid and records nothing; use the package helpers at call sites.
type UploadMetrics interface {
	// ObserveUpload records one orchestrated upload with its outcome.
	ObserveUpload(provider string, duration time.Duration, err error)

	// ObserveDelete records one orchestrated delete with its outcome.
	ObserveDelete(provider string, duration time.Duration, err error)

	// RecordBytes records bytes accepted into a provider.
	RecordBytes(provider string, bytes int64)

	// RecordDedupHit records an upload satisfied from the dedup index.
	RecordDedupHit()

	// RecordBreakerState records a circuit state change.
	// state: 0 closed, 1 open, 2 half-open.
	RecordBreakerState(provider string, state float64)

	// RecordSweep records the outcome of one lifecycle sweep.
	RecordSweep(deleted, skipped, failed int)
}

// NewUploadMetrics creates a Prometheus-backed UploadMetrics instance.
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewUploadMetrics() UploadMetrics {
	if !IsEnabled() || newPrometheusUploadMetrics == nil {
		return nil
	}
	return newPrometheusUploadMetrics()
}

// newPrometheusUploadMetrics is implemented in pkg/metrics/prometheus.
// The indirection avoids an import cycle while keeping the API in one place.
var newPrometheusUploadMetrics func() UploadMetrics

// RegisterUploadMetricsConstructor registers the Prometheus constructor.
// Called by pkg/metrics/prometheus during package initialization.
func RegisterUploadMetricsConstructor(constructor func() UploadMetrics) {
	newPrometheusUploadMetrics = constructor
}

// ObserveUpload records an upload if m is non-nil.
func ObserveUpload(m UploadMetrics, provider string, duration time.Duration, err error) {
	if m != nil {
		m.ObserveUpload(provider, duration, err)
	}
}

// ObserveDelete records a delete if m is non-nil.
func ObserveDelete(m UploadMetrics, provider string, duration time.Duration, err error) {
	if m != nil {
		m.ObserveDelete(provider, duration, err)
	}
}

// RecordBytes records transferred bytes if m is non-nil.
func RecordBytes(m UploadMetrics, provider string, bytes int64) {
	if m != nil {
		m.RecordBytes(provider, bytes)
	}
}

// RecordDedupHit records a dedup hit if m is non-nil.
func RecordDedupHit(m UploadMetrics) {
	if m != nil {
		m.RecordDedupHit()
	}
}

// RecordBreakerState records a circuit state if m is non-nil.
func RecordBreakerState(m UploadMetrics, provider string, state float64) {
	if m != nil {
		m.RecordBreakerState(provider, state)
	}
}

// RecordSweep records a sweep outcome if m is non-nil.
func RecordSweep(m UploadMetrics, deleted, skipped, failed int) {
	if m != nil {
		m.RecordSweep(deleted, skipped, failed)
	}
}
