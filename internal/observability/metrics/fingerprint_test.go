package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewFingerprintMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	t.Run("provider requests", func(t *testing.T) {
		m.RecordProviderRequest(OpQueryDetections, OutcomeSuccess, 0.2)
		m.RecordProviderRequest(OpQueryDetections, OutcomeSuccess, 0.3)
		m.RecordProviderRequest(OpRegister, "rate-limit", 1)
		m.RecordProviderRetry(OpRegister)

		assert.InDelta(t, 2.0, testutil.ToFloat64(m.providerRequestsTotal.WithLabelValues(OpQueryDetections, OutcomeSuccess)), 0.001)
		assert.InDelta(t, 1.0, testutil.ToFloat64(m.providerRequestsTotal.WithLabelValues(OpRegister, "rate-limit")), 0.001)
		assert.InDelta(t, 1.0, testutil.ToFloat64(m.providerRetriesTotal.WithLabelValues(OpRegister)), 0.001)
	})

	t.Run("detections", func(t *testing.T) {
		m.RecordDetections("youtube", OutcomeInserted, 2)
		m.RecordDetections("youtube", OutcomeLowConfidence, 1)
		m.RecordDetections("youtube", OutcomeDuplicate, 0)

		assert.InDelta(t, 2.0, testutil.ToFloat64(m.detectionsTotal.WithLabelValues("youtube", OutcomeInserted)), 0.001)
		assert.InDelta(t, 1.0, testutil.ToFloat64(m.detectionsTotal.WithLabelValues("youtube", OutcomeLowConfidence)), 0.001)
	})

	t.Run("reconcile and pollers", func(t *testing.T) {
		m.RecordReconcile("asset", true)
		m.RecordReconcile("asset", false)
		m.SetActivePollers(3)

		assert.InDelta(t, 1.0, testutil.ToFloat64(m.reconcileTotal.WithLabelValues("asset", "true")), 0.001)
		assert.InDelta(t, 3.0, testutil.ToFloat64(m.activePollers), 0.001)
	})
}

func TestNewFingerprintMetricsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewFingerprintMetrics(reg)
	require.NoError(t, err)
	_, err = NewFingerprintMetrics(reg)
	assert.Error(t, err)
}
