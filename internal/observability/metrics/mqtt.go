package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks the broker connection and detection event publishing.
type MQTTMetrics struct {
	registry *prometheus.Registry

	ConnectionStatus prometheus.Gauge
	connectedSince   prometheus.Gauge
	reconnectsTotal  prometheus.Counter

	publishTotal   *prometheus.CounterVec
	payloadBytes   prometheus.Histogram
	publishLatency prometheus.Histogram
}

// NewMQTTMetrics creates and registers the publisher metrics.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}

	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "detection_events_broker_connected",
		Help: "1 while connected to the MQTT broker, 0 otherwise",
	})
	m.connectedSince = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "detection_events_broker_connected_since_seconds",
		Help: "Unix time of the last successful broker connection",
	})
	m.reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "detection_events_broker_connections_total",
		Help: "Successful broker connections, including reconnects",
	})
	m.publishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_events_published_total",
			Help: "Detection events handed to the broker by outcome",
		},
		[]string{"outcome"},
	)
	m.payloadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_events_payload_bytes",
		Help:    "Size of published detection event payloads",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
	})
	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_events_publish_duration_seconds",
		Help:    "Time until the broker acknowledged a detection event",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateConnectionStatus records a connect or disconnect.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if !connected {
		m.ConnectionStatus.Set(0)
		return
	}
	m.ConnectionStatus.Set(1)
	m.connectedSince.SetToCurrentTime()
	m.reconnectsTotal.Inc()
}

// ObservePublish records one publish attempt. Size and latency are only
// observed for delivered events.
func (m *MQTTMetrics) ObservePublish(sizeBytes int, latency time.Duration, err error) {
	if err != nil {
		m.publishTotal.WithLabelValues(OutcomeError).Inc()
		return
	}
	m.publishTotal.WithLabelValues(OutcomeSuccess).Inc()
	m.payloadBytes.Observe(float64(sizeBytes))
	m.publishLatency.Observe(latency.Seconds())
}

// Delivered returns the counter of successfully published events.
func (m *MQTTMetrics) Delivered() prometheus.Counter {
	return m.publishTotal.WithLabelValues(OutcomeSuccess)
}

// Describe implements the prometheus.Collector interface.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	m.connectedSince.Describe(ch)
	m.reconnectsTotal.Describe(ch)
	m.publishTotal.Describe(ch)
	m.payloadBytes.Describe(ch)
	m.publishLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	m.connectedSince.Collect(ch)
	m.reconnectsTotal.Collect(ch)
	m.publishTotal.Collect(ch)
	m.payloadBytes.Collect(ch)
	m.publishLatency.Collect(ch)
}
