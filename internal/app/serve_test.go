package app

import (
	"context"
	"net/http"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/acrcloud"
	"github.com/tphakala/beatguard/internal/buildinfo"
	"github.com/tphakala/beatguard/internal/fingerprint"
	"github.com/tphakala/beatguard/internal/httpclient"
)

// TestServe_PicksUpMonitoringEnabledElsewhere enables monitoring from a
// second App sharing the database, the way the monitor command does, and
// expects the serving App to start polling it.
func TestServe_PicksUpMonitoringEnabledElsewhere(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "beatguard.db")
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, testHost+"/v1/audios",
		httpmock.NewStringResponder(http.StatusOK, envelope(t, map[string]any{"fingerprint_id": "fp-1"})))
	mt.RegisterResponder(http.MethodPut, testHost+"/v1/monitors",
		httpmock.NewStringResponder(http.StatusOK, envelope(t, nil)))

	var queryCalls atomic.Int32
	mt.RegisterResponder(http.MethodGet, testHost+"/v1/detections",
		func(*http.Request) (*http.Response, error) {
			queryCalls.Add(1)
			return httpmock.NewStringResponse(http.StatusOK,
				envelope(t, []any{record("v1", "2026-01-03T10:00:00Z", 90)})), nil
		})

	open := func(opts ...Option) *App {
		s := testSettings()
		s.Database.SQLite.Path = dbPath
		s.Poller.ResyncInterval = 20 * time.Millisecond
		hc := httpclient.New(&httpclient.Config{Transport: mt})
		a, err := New(t.Context(), s, buildinfo.NewContext("test", ""),
			append(opts, WithProviderOptions(acrcloud.WithHTTPClient(hc)))...)
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close() })
		return a
	}
	server := open(WithBackgroundPolling())
	cli := open()

	_, err := cli.Fingerprints.Register(t.Context(), fingerprint.RegisterRequest{
		AssetID: "asset-a",
		OwnerID: "owner-1",
		Title:   "Song",
		Audio:   acrcloud.Audio{Filename: "song.mp3", Data: []byte("audio")},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	// Serve has resumed with nothing monitored before monitoring is enabled.
	require.Never(t, func() bool { return len(server.Scheduler.Running()) > 0 },
		100*time.Millisecond, 10*time.Millisecond)

	fp, err := cli.Fingerprints.EnableMonitoring(t.Context(), "fp-1", []string{"youtube"})
	require.NoError(t, err)
	require.True(t, fp.MonitoringEnabled)
	assert.Empty(t, cli.Scheduler.Running())

	require.Eventually(t, func() bool {
		return slices.Contains(server.Scheduler.Running(), "fp-1") && queryCalls.Load() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.Fail(t, "Serve did not return after cancellation")
	}
	assert.Empty(t, server.Scheduler.Running())
}
