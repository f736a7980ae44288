// Package metrics provides constants used across metric definitions.
package metrics

// Provider operations.
const (
	OpRegister        = "register"
	OpEnableMonitor   = "enable_monitoring"
	OpDisableMonitor  = "disable_monitoring"
	OpQueryDetections = "query_detections"
)

// Outcome labels. Provider failures use their error category as the outcome.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"

	OutcomeInserted      = "inserted"
	OutcomeDuplicate     = "duplicate"
	OutcomeLowConfidence = "rejected_low_confidence"
	OutcomeRevoked       = "skipped_revoked"
)

// Histogram bucket parameters.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)
