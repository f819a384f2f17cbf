// Package prometheus implements the Prometheus backing for pkg/metrics.
//
// Importing this package (for side effects) registers the constructors that
// pkg/metrics dispatches to when metrics are enabled.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fileferry/fileferry/pkg/metrics"
)

func init() {
	metrics.RegisterUploadMetricsConstructor(newUploadMetrics)
}

// uploadMetrics is the Prometheus implementation of metrics.UploadMetrics.
type uploadMetrics struct {
	uploadsTotal   *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	deletesTotal   *prometheus.CounterVec
	deleteDuration *prometheus.HistogramVec
	bytesStored    *prometheus.CounterVec
	dedupHitsTotal prometheus.Counter
	breakerState   *prometheus.GaugeVec
	sweepRecords   *prometheus.CounterVec
	sweepsTotal    prometheus.Counter
}

func newUploadMetrics() metrics.UploadMetrics {
	reg := metrics.GetRegistry()
	if reg == nil {
		return nil
	}

	return &uploadMetrics{
		uploadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileferry_uploads_total",
				Help: "Total number of orchestrated uploads by provider and status",
			},
			[]string{"provider", "status"},
		),
		uploadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fileferry_upload_duration_milliseconds",
				Help: "Duration of orchestrated uploads in milliseconds",
				Buckets: []float64{
					50,     // 50ms - dedup hits
					100,    // 100ms
					500,    // 500ms - small files
					1000,   // 1s
					5000,   // 5s - medium files
					30000,  // 30s - large files
					120000, // 2m - very large files
				},
			},
			[]string{"provider"},
		),
		deletesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileferry_deletes_total",
				Help: "Total number of orchestrated deletes by provider and status",
			},
			[]string{"provider", "status"},
		),
		deleteDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fileferry_delete_duration_milliseconds",
				Help:    "Duration of orchestrated deletes in milliseconds",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000},
			},
			[]string{"provider"},
		),
		bytesStored: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileferry_bytes_stored_total",
				Help: "Total bytes accepted into providers",
			},
			[]string{"provider"},
		),
		dedupHitsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fileferry_dedup_hits_total",
				Help: "Total uploads satisfied from the dedup index without a provider call",
			},
		),
		breakerState: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fileferry_breaker_state",
				Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
			},
			[]string{"provider"},
		),
		sweepRecords: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fileferry_sweep_records_total",
				Help: "Total records handled by the lifecycle sweeper by outcome",
			},
			[]string{"outcome"},
		),
		sweepsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fileferry_sweeps_total",
				Help: "Total lifecycle sweep cycles",
			},
		),
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *uploadMetrics) ObserveUpload(provider string, duration time.Duration, err error) {
	m.uploadsTotal.WithLabelValues(provider, statusLabel(err)).Inc()
	m.uploadDuration.WithLabelValues(provider).Observe(float64(duration.Milliseconds()))
}

func (m *uploadMetrics) ObserveDelete(provider string, duration time.Duration, err error) {
	m.deletesTotal.WithLabelValues(provider, statusLabel(err)).Inc()
	m.deleteDuration.WithLabelValues(provider).Observe(float64(duration.Milliseconds()))
}

func (m *uploadMetrics) RecordBytes(provider string, bytes int64) {
	m.bytesStored.WithLabelValues(provider).Add(float64(bytes))
}

func (m *uploadMetrics) RecordDedupHit() {
	m.dedupHitsTotal.Inc()
}

func (m *uploadMetrics) RecordBreakerState(provider string, state float64) {
	m.breakerState.WithLabelValues(provider).Set(state)
}

func (m *uploadMetrics) RecordSweep(deleted, skipped, failed int) {
	m.sweepsTotal.Inc()
	m.sweepRecords.WithLabelValues("deleted").Add(float64(deleted))
	m.sweepRecords.WithLabelValues("skipped").Add(float64(skipped))
	m.sweepRecords.WithLabelValues("failed").Add(float64(failed))
}
