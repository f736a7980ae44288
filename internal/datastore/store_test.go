package datastore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/beatguard/internal/datastore/entities"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(MemoryPath, logger.NewSlogLogger(nil, logger.LogLevelInfo, time.UTC), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// registered creates a registered fingerprint for assetID and returns its provider id.
func registered(t *testing.T, s *Store, assetID, ownerID string) string {
	t.Helper()
	ctx := t.Context()

	_, err := s.EnsureFingerprint(ctx, assetID, ownerID, "bucket-1")
	require.NoError(t, err)
	ok, err := s.TransitionState(ctx, assetID,
		[]model.RegistrationState{model.StateUnregistered, model.StateRegistrationFailed}, model.StateRegistering, "")
	require.NoError(t, err)
	require.True(t, ok)

	fpID := "fp-" + assetID
	require.NoError(t, s.MarkRegistered(ctx, assetID, fpID))
	return fpID
}

func strPtr(s string) *string { return &s }

func detection(fpID, platform, videoID string, score int, at time.Time) *model.Detection {
	return &model.Detection{
		FingerprintID:   fpID,
		Platform:        platform,
		PlatformVideoID: videoID,
		DetectedAt:      at,
		ConfidenceScore: score,
	}
}

var day = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func TestEnsureFingerprint(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	fp, err := s.EnsureFingerprint(ctx, "asset-a", "owner-1", "bucket-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateUnregistered, fp.State)
	assert.Nil(t, fp.FingerprintID)
	assert.False(t, fp.MonitoringEnabled)

	again, err := s.EnsureFingerprint(ctx, "asset-a", "owner-1", "bucket-1")
	require.NoError(t, err)
	assert.Equal(t, fp.AssetID, again.AssetID)

	_, err = s.EnsureFingerprint(ctx, "asset-a", "owner-2", "bucket-1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))
}

func TestGetFingerprintNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetFingerprint(t.Context(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFingerprintNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestMarkRegisteredWritesIDOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	fpID := registered(t, s, "asset-a", "owner-1")

	fp, err := s.GetFingerprint(ctx, fpID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRegistered, fp.State)
	assert.Equal(t, fpID, fp.ProviderID())

	err = s.MarkRegistered(ctx, "asset-a", "fp-other")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStateConflict)

	fp, err = s.GetFingerprintByAsset(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, fpID, fp.ProviderID(), "fingerprint id is immutable")
}

func TestTransitionStateSingleWinner(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.EnsureFingerprint(ctx, "asset-a", "owner-1", "bucket-1")
	require.NoError(t, err)

	from := []model.RegistrationState{model.StateUnregistered, model.StateRegistrationFailed}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionState(ctx, "asset-a", from, model.StateRegistering, "")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	ok, err := s.TransitionState(ctx, "asset-a", []model.RegistrationState{model.StateRegistering},
		model.StateRegistrationFailed, "provider said no")
	require.NoError(t, err)
	assert.True(t, ok)

	fp, err := s.GetFingerprintByAsset(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, model.StateRegistrationFailed, fp.State)
	assert.Equal(t, "provider said no", fp.LastError)
	assert.Nil(t, fp.FingerprintID)
}

func TestSetMonitoring(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpID := registered(t, s, "asset-a", "owner-1")

	require.NoError(t, s.SetMonitoring(ctx, fpID, true, []string{"YouTube", "spotify"}))
	fp, err := s.GetFingerprint(ctx, fpID)
	require.NoError(t, err)
	assert.True(t, fp.MonitoringEnabled)
	assert.Equal(t, []string{"spotify", "youtube"}, fp.MonitoredPlatforms)

	// Same set again within the same second
	require.NoError(t, s.SetMonitoring(ctx, fpID, true, []string{"spotify", "youtube"}))

	require.NoError(t, s.SetMonitoring(ctx, fpID, true, []string{"tiktok"}))
	fp, err = s.GetFingerprint(ctx, fpID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tiktok"}, fp.MonitoredPlatforms, "platform set is replaced, not merged")

	monitored, err := s.ListMonitoredFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, monitored, 1)
	assert.Equal(t, fpID, monitored[0].ProviderID())

	require.NoError(t, s.SetMonitoring(ctx, fpID, false, nil))
	fp, err = s.GetFingerprint(ctx, fpID)
	require.NoError(t, err)
	assert.False(t, fp.MonitoringEnabled)
	assert.Empty(t, fp.MonitoredPlatforms)

	err = s.SetMonitoring(ctx, fpID, true, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	err = s.SetMonitoring(ctx, "unknown", false, nil)
	assert.ErrorIs(t, err, ErrFingerprintNotFound)
}

func TestDeleteFingerprintRequiresMonitoringOff(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpID := registered(t, s, "asset-a", "owner-1")
	require.NoError(t, s.SetMonitoring(ctx, fpID, true, []string{"youtube"}))

	err := s.DeleteFingerprint(ctx, "asset-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMonitoringActive)

	require.NoError(t, s.SetMonitoring(ctx, fpID, false, nil))
	require.NoError(t, s.DeleteFingerprint(ctx, "asset-a"))

	_, err = s.GetFingerprintByAsset(ctx, "asset-a")
	assert.ErrorIs(t, err, ErrFingerprintNotFound)

	err = s.DeleteFingerprint(ctx, "asset-a")
	assert.ErrorIs(t, err, ErrFingerprintNotFound)
}

func TestTouchLastSynced(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpID := registered(t, s, "asset-a", "owner-1")

	summary, err := s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	assert.Nil(t, summary.LastSyncedAt)

	require.NoError(t, s.TouchLastSynced(ctx, fpID))
	summary, err = s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	require.NotNil(t, summary.LastSyncedAt)
	assert.WithinDuration(t, time.Now(), *summary.LastSyncedAt, 5*time.Second)
}

func TestInsertDetectionDedup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpID := registered(t, s, "asset-a", "owner-1")

	first := detection(fpID, "youtube", "v1", 70, day)
	first.PlatformTitle = strPtr("first title")
	inserted, err := s.InsertDetection(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same key, different confidence and metadata: the stored row wins.
	second := detection(fpID, "youtube", "v1", 99, day.Add(time.Hour))
	second.PlatformTitle = strPtr("second title")
	inserted, err = s.InsertDetection(ctx, second)
	require.NoError(t, err)
	assert.False(t, inserted)

	rows, err := s.ListRecentDetections(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 70, rows[0].ConfidenceScore)
	assert.Equal(t, "first title", *rows[0].PlatformTitle)
	assert.True(t, day.Equal(rows[0].DetectedAt))
	assert.Equal(t, "asset-a", rows[0].AssetID)

	// Different platform, same video id: a different occurrence.
	inserted, err = s.InsertDetection(ctx, detection(fpID, "tiktok", "v1", 70, day))
	require.NoError(t, err)
	assert.True(t, inserted)

	count, err := s.CountDetections(ctx, fpID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	summary, err := s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, count, summary.TotalDetections)
}

func TestInsertDetectionValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	_, err := s.InsertDetection(ctx, detection("fp-unknown", "youtube", "v1", 80, day))
	assert.ErrorIs(t, err, ErrFingerprintNotFound)

	for _, d := range []*model.Detection{
		detection("", "youtube", "v1", 80, day),
		detection("fp", "", "v1", 80, day),
		detection("fp", "youtube", "", 80, day),
	} {
		_, err := s.InsertDetection(ctx, d)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestConcurrentInsertSameKey(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpID := registered(t, s, "asset-a", "owner-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	inserted := 0
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.InsertDetection(ctx, detection(fpID, "youtube", "same", 60+i, day))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserted)
	summary, err := s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalDetections)
	assert.Equal(t, int64(1), summary.UniqueVideos)
}

func TestIncrementalSummary(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpA := registered(t, s, "asset-a", "owner-1")
	fpB := registered(t, s, "asset-b", "owner-1")

	dets := []*model.Detection{
		detection(fpA, "youtube", "v1", 90, day.Add(2*time.Hour)),
		detection(fpA, "youtube", "v2", 90, day),
		detection(fpA, "spotify", "t1", 90, day.Add(-time.Hour)),
		detection(fpB, "youtube", "v1", 90, day.Add(5*time.Hour)),
	}
	dets[0].PlatformCreator = strPtr("chan")
	dets[1].PlatformCreator = strPtr("chan")
	dets[2].PlatformCreator = strPtr("chan")
	dets[3].PlatformCreator = strPtr("other")

	for _, d := range dets {
		ok, err := s.InsertDetection(ctx, d)
		require.NoError(t, err)
		require.True(t, ok)
	}

	a, err := s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", a.OwnerID)
	assert.Equal(t, fpA, a.FingerprintID)
	assert.Equal(t, int64(3), a.TotalDetections)
	assert.Equal(t, int64(2), a.UniquePlatforms)
	assert.Equal(t, int64(3), a.UniqueVideos)
	assert.Equal(t, int64(2), a.UniqueCreators, "creators are distinct per platform")
	require.NotNil(t, a.LastDetectedAt)
	assert.True(t, day.Add(2*time.Hour).Equal(*a.LastDetectedAt), "out-of-order arrival keeps the newest")
	assert.Equal(t, map[string]int64{"youtube": 2, "spotify": 1}, a.PlatformBreakdown)

	o, err := s.GetOwnerSummary(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), o.AssetCount)
	assert.Equal(t, int64(4), o.TotalDetections)
	assert.Equal(t, int64(2), o.UniquePlatforms)
	assert.Equal(t, int64(3), o.UniqueVideos, "youtube:v1 appears under both assets")
	assert.Equal(t, int64(3), o.UniqueCreators)
	require.NotNil(t, o.LastDetectedAt)
	assert.True(t, day.Add(5*time.Hour).Equal(*o.LastDetectedAt))
	assert.Equal(t, map[string]int64{"youtube": 3, "spotify": 1}, o.PlatformBreakdown)
}

func TestZeroedSummaries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	a, err := s.GetAssetSummary(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Equal(t, "nothing-here", a.AssetID)
	assert.Zero(t, a.TotalDetections)
	assert.Nil(t, a.LastDetectedAt)
	assert.NotNil(t, a.PlatformBreakdown)

	registered(t, s, "asset-a", "owner-1")
	a, err = s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, "fp-asset-a", a.FingerprintID)
	assert.Zero(t, a.TotalDetections)

	o, err := s.GetOwnerSummary(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.AssetCount)
	assert.Zero(t, o.TotalDetections)

	o, err = s.GetOwnerSummary(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", o.OwnerID)
	assert.Zero(t, o.AssetCount)
}

func TestListRecentDetections(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpA := registered(t, s, "asset-a", "owner-1")
	fpB := registered(t, s, "asset-b", "owner-2")

	for i := range 5 {
		_, err := s.InsertDetection(ctx, detection(fpA, "youtube", fmt.Sprintf("v%d", i), 80, day.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	_, err := s.InsertDetection(ctx, detection(fpB, "youtube", "x", 80, day.Add(48*time.Hour)))
	require.NoError(t, err)

	rows, err := s.ListRecentDetections(ctx, "owner-1", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "v4", rows[0].PlatformVideoID)
	assert.Equal(t, "v3", rows[1].PlatformVideoID)
	assert.Equal(t, "v2", rows[2].PlatformVideoID)
	for _, r := range rows {
		assert.Equal(t, "owner-1", r.OwnerID)
	}
}

func TestReconcileCorrectsDrift(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpID := registered(t, s, "asset-a", "owner-1")

	d := detection(fpID, "youtube", "v1", 80, day)
	d.PlatformCreator = strPtr("chan")
	_, err := s.InsertDetection(ctx, d)
	require.NoError(t, err)
	_, err = s.InsertDetection(ctx, detection(fpID, "spotify", "t1", 80, day.Add(time.Hour)))
	require.NoError(t, err)

	// Clean state: nothing to correct.
	reports, err := s.Reconcile(ctx, "asset-a")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.False(t, r.Corrected, "%s %s", r.Scope, r.ID)
	}

	// Simulate drift from a crashed incremental path.
	require.NoError(t, s.db.Model(&entities.AssetSummaryEntity{}).Where("asset_id = ?", "asset-a").
		Updates(map[string]any{"total_detections": 17, "unique_platforms": 0}).Error)
	require.NoError(t, s.db.Where("scope = ? AND kind = ?", entities.ScopeAsset, entities.KindVideo).
		Delete(&entities.SummaryMemberEntity{}).Error)

	reports, err = s.Reconcile(ctx, "asset-a")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, entities.ScopeAsset, reports[0].Scope)
	assert.True(t, reports[0].Corrected)
	assert.Equal(t, int64(17), reports[0].Before.TotalDetections)
	assert.Equal(t, int64(2), reports[0].After.TotalDetections)
	assert.False(t, reports[1].Corrected, "owner summary was untouched")

	summary, err := s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalDetections)
	assert.Equal(t, int64(2), summary.UniquePlatforms)
	assert.Equal(t, int64(2), summary.UniqueVideos)
	assert.Equal(t, int64(1), summary.UniqueCreators)

	// Incremental updates continue correctly on top of the rebuilt members.
	ok, err := s.InsertDetection(ctx, detection(fpID, "youtube", "v1", 80, day))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.InsertDetection(ctx, detection(fpID, "youtube", "v2", 80, day))
	require.NoError(t, err)
	assert.True(t, ok)

	summary, err = s.GetAssetSummary(ctx, "asset-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalDetections)
	assert.Equal(t, int64(3), summary.UniqueVideos)
}

func TestReconcileAll(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()
	fpA := registered(t, s, "asset-a", "owner-1")
	fpB := registered(t, s, "asset-b", "owner-2")

	for i := range 3 {
		_, err := s.InsertDetection(ctx, detection(fpA, "youtube", fmt.Sprintf("a%d", i), 80, day))
		require.NoError(t, err)
		_, err = s.InsertDetection(ctx, detection(fpB, "spotify", fmt.Sprintf("b%d", i), 80, day))
		require.NoError(t, err)
	}

	require.NoError(t, s.db.Model(&entities.OwnerSummaryEntity{}).Where("owner_id = ?", "owner-2").
		Update("total_detections", 0).Error)

	reports, err := s.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Len(t, reports, 4)

	corrected := 0
	for _, r := range reports {
		if r.Corrected {
			corrected++
			assert.Equal(t, entities.ScopeOwner, r.Scope)
			assert.Equal(t, "owner-2", r.ID)
		}
	}
	assert.Equal(t, 1, corrected)

	o, err := s.GetOwnerSummary(ctx, "owner-2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), o.TotalDetections)
}
