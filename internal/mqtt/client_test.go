package mqtt

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
	"github.com/tphakala/beatguard/internal/observability/metrics"
)

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes instead of talking to a broker.
type fakeClient struct {
	mu        sync.Mutex
	messages  []published
	connected bool
	err       error
}

func (f *fakeClient) Connect(context.Context) error { f.connected = true; return nil }
func (f *fakeClient) IsConnected() bool             { return f.connected }
func (f *fakeClient) Disconnect()                   { f.connected = false }

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic: topic, payload: payload})
	return nil
}

func testDetection() *model.Detection {
	url := "https://youtube.test/watch?v=abc"
	dur := 42.5
	return &model.Detection{
		AssetID:         "asset-1",
		OwnerID:         "owner-1",
		FingerprintID:   "fp-1",
		Platform:        "youtube",
		PlatformVideoID: "abc",
		PlatformURL:     &url,
		DetectedAt:      time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC),
		ConfidenceScore: 87,
		DurationSeconds: &dur,
	}
}

func TestPublisher_PublishDetection(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connected: true}
	p := NewPublisher(fc, "beatguard/detections/")

	require.NoError(t, p.PublishDetection(t.Context(), testDetection()))

	require.Len(t, fc.messages, 1)
	assert.Equal(t, "beatguard/detections/youtube", fc.messages[0].topic)

	var ev DetectionEventDTO
	require.NoError(t, json.Unmarshal(fc.messages[0].payload, &ev))
	assert.Equal(t, "asset-1", ev.AssetID)
	assert.Equal(t, "fp-1", ev.FingerprintID)
	assert.Equal(t, "abc", ev.PlatformVideoID)
	assert.Equal(t, "https://youtube.test/watch?v=abc", ev.PlatformURL)
	assert.Equal(t, "2024-04-30T10:00:00Z", ev.DetectedAt)
	assert.Equal(t, 87, ev.ConfidenceScore)
	require.NotNil(t, ev.DurationSeconds)
	assert.InDelta(t, 42.5, *ev.DurationSeconds, 0.001)
}

func TestDetectionEvent_OmitsAbsentFields(t *testing.T) {
	t.Parallel()

	d := testDetection()
	d.PlatformURL = nil
	d.DurationSeconds = nil

	raw, err := json.Marshal(NewDetectionEvent(d))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.NotContains(t, m, "platformUrl")
	assert.NotContains(t, m, "platformTitle")
	assert.NotContains(t, m, "durationSeconds")
	assert.Contains(t, m, "confidenceScore")
}

func TestPublisher_PropagatesClientError(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{connected: true, err: errors.NewStd("broker gone")}
	p := NewPublisher(fc, "x")

	err := p.PublishDetection(t.Context(), testDetection())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
}

func TestConfigFromSettings(t *testing.T) {
	t.Parallel()

	cfg := ConfigFromSettings(&conf.MQTTSettings{Broker: "tcp://localhost:1883", QoS: 1})

	assert.Equal(t, "tcp://localhost:1883", cfg.Broker)
	assert.Equal(t, "beatguard", cfg.ClientID)
	assert.Equal(t, "beatguard/detections", cfg.Topic)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
}

func TestNewClient_RequiresBroker(t *testing.T) {
	t.Parallel()

	_, err := NewClient(DefaultConfig(), nil, nil)

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestClient_PublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1"
	c, err := NewClient(cfg, nil, logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC))
	require.NoError(t, err)

	err = c.Publish(t.Context(), "t", []byte("x"))

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.False(t, c.IsConnected())
}

func TestClient_ConnectCooldown(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond
	c, err := NewClient(cfg, nil, logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC))
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)

	// An attempt inside the cooldown is refused without touching the network.
	cl := c.(*client)
	cl.lastConnAttempt = time.Now()

	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too recent")
}

func isLocalBrokerAvailable() bool {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// TestClient_LocalBroker exercises a real round trip against a broker on
// localhost when one is running.
func TestClient_LocalBroker(t *testing.T) {
	if testing.Short() || !isLocalBrokerAvailable() {
		t.Skip("Skipping MQTT broker test: no broker on 127.0.0.1:1883")
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(reg)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.ClientID = "beatguard-test"
	c, err := NewClient(cfg, m, logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ConnectionStatus), 0.001)

	p := NewPublisher(c, "beatguard/test")
	require.NoError(t, p.PublishDetection(ctx, testDetection()))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Delivered()), 0.001)

	p.Close()
	assert.False(t, c.IsConnected())
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.ConnectionStatus), 0.001)
}
