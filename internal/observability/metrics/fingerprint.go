package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FingerprintMetrics contains Prometheus metrics for provider calls, detection
// ingestion, summary reconciliation and the poll scheduler.
type FingerprintMetrics struct {
	registry *prometheus.Registry

	// Provider API metrics
	providerRequestsTotal   *prometheus.CounterVec
	providerRequestDuration *prometheus.HistogramVec
	providerRetriesTotal    *prometheus.CounterVec

	// Ingestion metrics
	detectionsTotal *prometheus.CounterVec

	// Reconciliation metrics
	reconcileTotal *prometheus.CounterVec

	// Scheduler metrics
	activePollers     prometheus.Gauge
	pollCyclesTotal   *prometheus.CounterVec
	pollCycleDuration prometheus.Histogram
}

// NewFingerprintMetrics creates and registers new fingerprint metrics
func NewFingerprintMetrics(registry *prometheus.Registry) (*FingerprintMetrics, error) {
	m := &FingerprintMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FingerprintMetrics) initMetrics() {
	m.providerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fingerprint_provider_requests_total",
			Help: "Total number of fingerprint provider API calls",
		},
		[]string{"operation", "outcome"},
	)

	m.providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "fingerprint_provider_request_duration_seconds",
			Help: "Time taken by fingerprint provider API calls, including retries",
			// 10ms to ~40s covers fast reads up to slow audio uploads
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.providerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fingerprint_provider_retries_total",
			Help: "Total number of retried provider API attempts",
		},
		[]string{"operation"},
	)

	m.detectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fingerprint_detections_ingested_total",
			Help: "Detections processed by the ingestion pipeline by outcome",
		},
		[]string{"platform", "outcome"}, // outcome: inserted, duplicate, rejected_low_confidence, skipped_revoked
	)

	m.reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fingerprint_summary_reconciliations_total",
			Help: "Summaries checked by reconciliation",
		},
		[]string{"scope", "corrected"},
	)

	m.activePollers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fingerprint_active_pollers",
		Help: "Number of fingerprints with a running poll schedule",
	})

	m.pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fingerprint_poll_cycles_total",
			Help: "Completed poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	m.pollCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fingerprint_poll_cycle_duration_seconds",
		Help:    "Time taken by one retrieve-and-ingest cycle",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10),
	})
}

// Describe implements the Collector interface
func (m *FingerprintMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.providerRequestsTotal.Describe(ch)
	m.providerRequestDuration.Describe(ch)
	m.providerRetriesTotal.Describe(ch)
	m.detectionsTotal.Describe(ch)
	m.reconcileTotal.Describe(ch)
	m.activePollers.Describe(ch)
	m.pollCyclesTotal.Describe(ch)
	m.pollCycleDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *FingerprintMetrics) Collect(ch chan<- prometheus.Metric) {
	m.providerRequestsTotal.Collect(ch)
	m.providerRequestDuration.Collect(ch)
	m.providerRetriesTotal.Collect(ch)
	m.detectionsTotal.Collect(ch)
	m.reconcileTotal.Collect(ch)
	m.activePollers.Collect(ch)
	m.pollCyclesTotal.Collect(ch)
	m.pollCycleDuration.Collect(ch)
}

// RecordProviderRequest records one provider call and its total latency.
func (m *FingerprintMetrics) RecordProviderRequest(operation, outcome string, seconds float64) {
	m.providerRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.providerRequestDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordProviderRetry records one retried provider attempt.
func (m *FingerprintMetrics) RecordProviderRetry(operation string) {
	m.providerRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordDetections adds n detections with the given ingestion outcome.
func (m *FingerprintMetrics) RecordDetections(platform, outcome string, n int) {
	if n <= 0 {
		return
	}
	m.detectionsTotal.WithLabelValues(platform, outcome).Add(float64(n))
}

// RecordReconcile records one reconciled summary.
func (m *FingerprintMetrics) RecordReconcile(scope string, corrected bool) {
	label := "false"
	if corrected {
		label = "true"
	}
	m.reconcileTotal.WithLabelValues(scope, label).Inc()
}

// SetActivePollers sets the number of running poll schedules.
func (m *FingerprintMetrics) SetActivePollers(n int) {
	m.activePollers.Set(float64(n))
}

// RecordPollCycle records one completed poll cycle.
func (m *FingerprintMetrics) RecordPollCycle(outcome string, seconds float64) {
	m.pollCyclesTotal.WithLabelValues(outcome).Inc()
	m.pollCycleDuration.Observe(seconds)
}
