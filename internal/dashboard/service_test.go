package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/ingest"
	"github.com/tphakala/beatguard/internal/model"
	"github.com/tphakala/beatguard/internal/testutil"
)

var quiet = testutil.QuietLogger()

type countingReader struct {
	mu     sync.Mutex
	calls  map[string]int
	limits []int
	err    error
}

func (r *countingReader) hit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[name]++
}

func (r *countingReader) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *countingReader) GetAssetSummary(_ context.Context, assetID string) (model.AssetSummary, error) {
	r.hit("asset")
	return model.AssetSummary{AssetID: assetID, TotalDetections: 3}, r.err
}

func (r *countingReader) GetOwnerSummary(_ context.Context, ownerID string) (model.OwnerSummary, error) {
	r.hit("owner")
	return model.OwnerSummary{OwnerID: ownerID}, r.err
}

func (r *countingReader) ListRecentDetections(_ context.Context, _ string, limit int) ([]model.Detection, error) {
	r.hit("recent")
	r.mu.Lock()
	r.limits = append(r.limits, limit)
	r.mu.Unlock()
	return nil, r.err
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{0, DefaultRecentLimit},
		{-5, DefaultRecentLimit},
		{1, 1},
		{50, 50},
		{100, 100},
		{101, MaxRecentLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampLimit(tt.in), "limit %d", tt.in)
	}
}

func TestService_CachesWithinTTL(t *testing.T) {
	t.Parallel()

	r := &countingReader{}
	s := NewService(r, time.Minute)
	ctx := t.Context()

	for range 3 {
		sum, err := s.AssetSummary(ctx, "asset-1")
		require.NoError(t, err)
		assert.EqualValues(t, 3, sum.TotalDetections)
		assert.NotNil(t, sum.PlatformBreakdown)
	}
	assert.Equal(t, 1, r.count("asset"))

	_, err := s.AssetSummary(ctx, "asset-2")
	require.NoError(t, err)
	assert.Equal(t, 2, r.count("asset"))

	s.Flush()
	_, err = s.AssetSummary(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, 3, r.count("asset"))
}

func TestService_ZeroTTLReadsThrough(t *testing.T) {
	t.Parallel()

	r := &countingReader{}
	s := NewService(r, 0)

	for range 2 {
		_, err := s.OwnerSummary(t.Context(), "owner-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 2, r.count("owner"))
}

func TestService_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	r := &countingReader{err: errors.NewStd("database is locked")}
	s := NewService(r, time.Minute)

	_, err := s.OwnerSummary(t.Context(), "owner-1")
	require.Error(t, err)

	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()

	_, err = s.OwnerSummary(t.Context(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, r.count("owner"))
}

func TestService_RecentDetectionsClampsLimit(t *testing.T) {
	t.Parallel()

	r := &countingReader{}
	s := NewService(r, 0)

	_, err := s.RecentDetections(t.Context(), "owner-1", 0)
	require.NoError(t, err)
	_, err = s.RecentDetections(t.Context(), "owner-1", 500)
	require.NoError(t, err)

	assert.Equal(t, []int{DefaultRecentLimit, MaxRecentLimit}, r.limits)
}

func TestService_BlankIDIsValidationError(t *testing.T) {
	t.Parallel()

	s := NewService(&countingReader{}, 0)

	_, err := s.AssetSummary(t.Context(), "  ")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	_, err = s.OwnerSummary(t.Context(), "")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	_, err = s.RecentDetections(t.Context(), "", 10)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestService_AgainstStore(t *testing.T) {
	t.Parallel()

	store := testutil.OpenStore(t)
	ctx := t.Context()
	testutil.RegisterAsset(t, store, "asset-1", "owner-1", "fp-1")

	p := ingest.New(store, ingest.ThresholdPolicy{Default: conf.DefaultConfidenceThreshold}, ingest.WithLogger(quiet))
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	res, err := p.Ingest(ctx, []model.Detection{
		{FingerprintID: "fp-1", Platform: "youtube", PlatformVideoID: "v1", DetectedAt: base, ConfidenceScore: 90},
		{FingerprintID: "fp-1", Platform: "tiktok", PlatformVideoID: "v2", DetectedAt: base.Add(time.Hour), ConfidenceScore: 75},
		{FingerprintID: "fp-1", Platform: "youtube", PlatformVideoID: "v3", DetectedAt: base.Add(2 * time.Hour), ConfidenceScore: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)

	s := NewService(store, 0)

	asset, err := s.AssetSummary(ctx, "asset-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, asset.TotalDetections)
	assert.EqualValues(t, 2, asset.UniquePlatforms)
	assert.Equal(t, map[string]int64{"youtube": 1, "tiktok": 1}, asset.PlatformBreakdown)
	assert.Equal(t, "fp-1", asset.FingerprintID)

	owner, err := s.OwnerSummary(ctx, "owner-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, owner.AssetCount)
	assert.EqualValues(t, 2, owner.TotalDetections)

	recent, err := s.RecentDetections(ctx, "owner-1", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "v2", recent[0].PlatformVideoID)
	assert.Equal(t, "asset-1", recent[0].AssetID)

	unknown, err := s.AssetSummary(ctx, "asset-unknown")
	require.NoError(t, err)
	assert.Zero(t, unknown.TotalDetections)
	assert.Empty(t, unknown.PlatformBreakdown)
	assert.Nil(t, unknown.LastDetectedAt)

	nobody, err := s.OwnerSummary(ctx, "owner-unknown")
	require.NoError(t, err)
	assert.Zero(t, nobody.AssetCount)
	assert.Zero(t, nobody.TotalDetections)
}
