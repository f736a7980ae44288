package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/model"
	"github.com/tphakala/beatguard/internal/observability"
	"github.com/tphakala/beatguard/internal/testutil"
)

var quiet = testutil.QuietLogger()

type fakeDashboard struct {
	assetErr  error
	lastLimit int
}

func (f *fakeDashboard) AssetSummary(_ context.Context, assetID string) (model.AssetSummary, error) {
	if f.assetErr != nil {
		return model.AssetSummary{}, f.assetErr
	}
	return model.AssetSummary{
		AssetID:           assetID,
		TotalDetections:   2,
		UniquePlatforms:   1,
		PlatformBreakdown: map[string]int64{"youtube": 2},
	}, nil
}

func (f *fakeDashboard) OwnerSummary(_ context.Context, ownerID string) (model.OwnerSummary, error) {
	if strings.TrimSpace(ownerID) == "" {
		return model.OwnerSummary{}, errors.Newf("owner_id is required").Category(errors.CategoryValidation).Build()
	}
	return model.OwnerSummary{OwnerID: ownerID, PlatformBreakdown: map[string]int64{}}, nil
}

func (f *fakeDashboard) RecentDetections(_ context.Context, _ string, limit int) ([]model.DetectionView, error) {
	f.lastLimit = limit
	return []model.DetectionView{{
		AssetID:         "asset-1",
		FingerprintID:   "fp-1",
		Platform:        "youtube",
		PlatformVideoID: "v1",
		DetectedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ConfidenceScore: 88,
	}}, nil
}

func newTestServer(t *testing.T, dash Dashboard, opts ...ServerOption) *Server {
	t.Helper()
	s, err := New(DefaultConfig(), dash, append([]ServerOption{WithLogger(quiet)}, opts...)...)
	require.NoError(t, err)
	return s
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{}, &fakeDashboard{})
	require.Error(t, err)

	_, err = New(DefaultConfig(), nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MetricsPath = "metrics"
	_, err = New(cfg, &fakeDashboard{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, &fakeDashboard{}), "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestGetAssetSummary(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, &fakeDashboard{}), "/api/v1/assets/asset-1/summary")

	require.Equal(t, http.StatusOK, rec.Code)
	var sum model.AssetSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "asset-1", sum.AssetID)
	assert.EqualValues(t, 2, sum.TotalDetections)
	assert.Equal(t, map[string]int64{"youtube": 2}, sum.PlatformBreakdown)
}

func TestGetAssetSummary_InternalErrorHidesDetails(t *testing.T) {
	t.Parallel()

	dash := &fakeDashboard{assetErr: errors.Newf("dial tcp 10.0.0.5:3306: refused").Category(errors.CategoryDatabase).Build()}
	rec := serve(newTestServer(t, dash), "/api/v1/assets/asset-1/summary")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp.Error, "10.0.0.5")
	assert.Len(t, resp.CorrelationID, 8)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestGetAssetSummary_NotFound(t *testing.T) {
	t.Parallel()

	dash := &fakeDashboard{assetErr: errors.Newf("asset not found").Category(errors.CategoryNotFound).Build()}
	rec := serve(newTestServer(t, dash), "/api/v1/assets/asset-1/summary")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOwnerSummary(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, &fakeDashboard{}), "/api/v1/owners/owner-1/summary")

	require.Equal(t, http.StatusOK, rec.Code)
	var sum model.OwnerSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "owner-1", sum.OwnerID)
	assert.Zero(t, sum.TotalDetections)
}

func TestGetOwnerSummary_BlankOwner(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, &fakeDashboard{}), "/api/v1/owners/%20/summary")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRecentDetections(t *testing.T) {
	t.Parallel()

	dash := &fakeDashboard{}
	s := newTestServer(t, dash)

	rec := serve(s, "/api/v1/owners/owner-1/detections?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, dash.lastLimit)

	var body struct {
		OwnerID    string                `json:"ownerId"`
		Detections []model.DetectionView `json:"detections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "owner-1", body.OwnerID)
	require.Len(t, body.Detections, 1)
	assert.Equal(t, "v1", body.Detections[0].PlatformVideoID)
	assert.Equal(t, 88, body.Detections[0].ConfidenceScore)

	rec = serve(s, "/api/v1/owners/owner-1/detections")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, dash.lastLimit)
}

func TestGetRecentDetections_InvalidLimit(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(t, &fakeDashboard{}), "/api/v1/owners/owner-1/detections?limit=ten")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadOnlyRoutes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeDashboard{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets/asset-1/summary", http.NoBody)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	m.Fingerprint.RecordDetections("youtube", "inserted", 2)

	s := newTestServer(t, &fakeDashboard{}, WithMetricsHandler(m.Handler()))
	rec := serve(s, DefaultMetricsPath)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "youtube")
}

func TestMetricsDisabled(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MetricsEnabled = false
	s, err := New(cfg, &fakeDashboard{}, WithLogger(quiet), WithMetricsHandler(m.Handler()))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, serve(s, DefaultMetricsPath).Code)
}
