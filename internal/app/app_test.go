package app

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/acrcloud"
	"github.com/tphakala/beatguard/internal/buildinfo"
	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/datastore"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/fingerprint"
	"github.com/tphakala/beatguard/internal/httpclient"
	"github.com/tphakala/beatguard/internal/model"
)

const testHost = "https://acr.test"

func envelope(t *testing.T, data any) string {
	t.Helper()
	env := map[string]any{"status": map[string]any{"code": 0, "msg": "Success"}}
	if data != nil {
		env["data"] = data
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return string(b)
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		ACRCloud: conf.ACRCloudSettings{
			Host:         testHost,
			AccessKey:    "key",
			AccessSecret: "secret",
			BucketID:     "bucket-1",
			Timeout:      5 * time.Second,
		},
		Ingest: conf.IngestSettings{ConfidenceThreshold: conf.DefaultConfidenceThreshold},
		Poller: conf.PollerSettings{Interval: time.Hour, LookbackDays: 7, MaxConcurrent: 2},
		Database: conf.DatabaseSettings{
			Type:   "sqlite",
			SQLite: conf.SQLiteSettings{Path: datastore.MemoryPath},
		},
	}
}

func newTestApp(t *testing.T) (*App, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	hc := httpclient.New(&httpclient.Config{Transport: mt})

	a, err := New(t.Context(), testSettings(), buildinfo.NewContext("test", ""),
		WithProviderOptions(acrcloud.WithHTTPClient(hc)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, mt
}

func record(videoID, at string, score int) map[string]any {
	return map[string]any{
		"platform":    "youtube",
		"video_id":    videoID,
		"detected_at": at,
		"score":       score,
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.ACRCloud.AccessSecret = ""

	_, err := New(t.Context(), s, buildinfo.NewContext("test", ""))

	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

// TestMonitoringLifecycle walks an asset from registration through two
// overlapping retrievals to disabling monitoring.
func TestMonitoringLifecycle(t *testing.T) {
	t.Parallel()

	a, mt := newTestApp(t)
	ctx := t.Context()

	var enableCalls, disableCalls atomic.Int32
	mt.RegisterResponder(http.MethodPost, testHost+"/v1/audios",
		httpmock.NewStringResponder(http.StatusOK, envelope(t, map[string]any{"fingerprint_id": "fp-1"})))
	mt.RegisterResponder(http.MethodPut, testHost+"/v1/monitors",
		func(*http.Request) (*http.Response, error) {
			enableCalls.Add(1)
			return httpmock.NewStringResponse(http.StatusOK, envelope(t, nil)), nil
		})
	mt.RegisterResponder(http.MethodDelete, testHost+"/v1/monitors",
		func(*http.Request) (*http.Response, error) {
			disableCalls.Add(1)
			return httpmock.NewStringResponse(http.StatusOK, envelope(t, nil)), nil
		})

	batches := [][]any{
		{
			record("v1", "2026-01-03T10:00:00Z", 90),
			record("v2", "2026-01-04T10:00:00Z", 75),
			record("v3", "2026-01-05T10:00:00Z", 40),
		},
		{
			record("v2", "2026-01-04T10:00:00Z", 75),
		},
	}
	var queryCalls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testHost+"/v1/detections",
		func(*http.Request) (*http.Response, error) {
			n := queryCalls.Add(1)
			return httpmock.NewStringResponse(http.StatusOK, envelope(t, batches[n-1])), nil
		})

	// Register, then enable on two platforms
	fp, err := a.Fingerprints.Register(ctx, fingerprint.RegisterRequest{
		AssetID: "asset-1",
		OwnerID: "owner-1",
		Title:   "Song",
		Audio:   acrcloud.Audio{Filename: "song.mp3", Data: []byte("audio")},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateRegistered, fp.State)
	assert.Equal(t, "fp-1", fp.ProviderID())

	fp, err = a.Fingerprints.EnableMonitoring(ctx, "fp-1", []string{"youtube", "spotify"})
	require.NoError(t, err)
	assert.True(t, fp.MonitoringEnabled)
	assert.Equal(t, []string{"spotify", "youtube"}, fp.MonitoredPlatforms)

	// First retrieval: one record below the confidence threshold
	r1, err := model.NewDateRange("2026-01-01", "2026-01-08")
	require.NoError(t, err)
	res, err := a.Scheduler.PollNow(ctx, "fp-1", &r1)
	require.NoError(t, err)
	assert.Equal(t, model.IngestResult{Inserted: 2, RejectedLowConfidence: 1}, res)

	sum, err := a.Dashboard.AssetSummary(ctx, "asset-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, sum.TotalDetections)

	// Overlapping retrieval returns an already stored detection
	r2, err := model.NewDateRange("2026-01-04", "2026-01-10")
	require.NoError(t, err)
	res, err = a.Scheduler.PollNow(ctx, "fp-1", &r2)
	require.NoError(t, err)
	assert.Equal(t, model.IngestResult{Duplicate: 1}, res)

	sum, err = a.Dashboard.AssetSummary(ctx, "asset-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, sum.TotalDetections)

	corrected, err := a.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, corrected)

	// Disable, then an empty platform list is rejected without a provider call
	fp, err = a.Fingerprints.DisableMonitoring(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, fp.MonitoringEnabled)

	_, err = a.Fingerprints.EnableMonitoring(ctx, "fp-1", []string{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	assert.EqualValues(t, 1, enableCalls.Load())
	assert.EqualValues(t, 1, disableCalls.Load())

	stored, err := a.Store.GetFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, stored.MonitoringEnabled)
}
