package datastore

import (
	"context"
	"maps"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/beatguard/internal/datastore/entities"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
)

// Counters are the materialized values of one summary.
type Counters struct {
	TotalDetections int64
	UniquePlatforms int64
	UniqueVideos    int64
	UniqueCreators  int64
	LastDetectedAt  *time.Time
	Platforms       map[string]int64
}

// Equal reports whether two counter sets agree.
func (c Counters) Equal(o Counters) bool {
	if c.TotalDetections != o.TotalDetections ||
		c.UniquePlatforms != o.UniquePlatforms ||
		c.UniqueVideos != o.UniqueVideos ||
		c.UniqueCreators != o.UniqueCreators {
		return false
	}
	if (c.LastDetectedAt == nil) != (o.LastDetectedAt == nil) {
		return false
	}
	if c.LastDetectedAt != nil && !c.LastDetectedAt.Equal(*o.LastDetectedAt) {
		return false
	}
	return maps.Equal(c.Platforms, o.Platforms)
}

// ReconcileReport describes one summary checked against the raw detections.
type ReconcileReport struct {
	Scope     string // entities.ScopeAsset or entities.ScopeOwner
	ID        string
	Before    Counters
	After     Counters
	Corrected bool
}

// Reconcile recomputes the summary of assetID and of its owner from the
// stored detections, overwriting any drifted counters.
func (s *Store) Reconcile(ctx context.Context, assetID string) ([]ReconcileReport, error) {
	ownerID, err := s.ownerOfAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	var reports []ReconcileReport
	r, err := s.reconcileScope(ctx, entities.ScopeAsset, assetID, ownerID)
	if err != nil {
		return nil, err
	}
	reports = append(reports, r)

	if ownerID != "" {
		r, err = s.reconcileScope(ctx, entities.ScopeOwner, ownerID, "")
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// ReconcileAll recomputes every asset and owner summary. It stops at the
// first database error or when ctx is done.
func (s *Store) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	db := s.db.WithContext(ctx)

	type pair struct{ AssetID, OwnerID string }
	var pairs []pair
	if err := db.Model(&entities.DetectionEntity{}).Distinct("asset_id", "owner_id").Scan(&pairs).Error; err != nil {
		return nil, dbError(err, "reconcile_all", errors.PriorityMedium)
	}
	var summarized []pair
	if err := db.Model(&entities.AssetSummaryEntity{}).Select("asset_id", "owner_id").Scan(&summarized).Error; err != nil {
		return nil, dbError(err, "reconcile_all", errors.PriorityMedium)
	}

	assets := make(map[string]string)
	owners := make(map[string]struct{})
	for _, p := range append(pairs, summarized...) {
		assets[p.AssetID] = p.OwnerID
		owners[p.OwnerID] = struct{}{}
	}
	var summarizedOwners []string
	if err := db.Model(&entities.OwnerSummaryEntity{}).Pluck("owner_id", &summarizedOwners).Error; err != nil {
		return nil, dbError(err, "reconcile_all", errors.PriorityMedium)
	}
	for _, o := range summarizedOwners {
		owners[o] = struct{}{}
	}

	var reports []ReconcileReport
	for assetID, ownerID := range assets {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := s.reconcileScope(ctx, entities.ScopeAsset, assetID, ownerID)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	for ownerID := range owners {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := s.reconcileScope(ctx, entities.ScopeOwner, ownerID, "")
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}

	corrected := 0
	for i := range reports {
		if reports[i].Corrected {
			corrected++
		}
	}
	s.log.Info("reconciliation completed",
		logger.Int("summaries", len(reports)),
		logger.Int("corrected", corrected))
	return reports, nil
}

func (s *Store) ownerOfAsset(ctx context.Context, assetID string) (string, error) {
	db := s.db.WithContext(ctx)

	var owners []string
	if err := db.Model(&entities.FingerprintEntity{}).Where("asset_id = ?", assetID).Limit(1).Pluck("owner_id", &owners).Error; err != nil {
		return "", dbError(err, "owner_of_asset", errors.PriorityMedium, "asset_id", assetID)
	}
	if len(owners) == 0 {
		if err := db.Model(&entities.DetectionEntity{}).Where("asset_id = ?", assetID).Limit(1).Pluck("owner_id", &owners).Error; err != nil {
			return "", dbError(err, "owner_of_asset", errors.PriorityMedium, "asset_id", assetID)
		}
	}
	if len(owners) == 0 {
		return "", nil
	}
	return owners[0], nil
}

// reconcileScope rebuilds one summary row and its members inside a single
// transaction.
func (s *Store) reconcileScope(ctx context.Context, scope, id, ownerID string) (ReconcileReport, error) {
	report := ReconcileReport{Scope: scope, ID: id}
	key := "asset_id"
	if scope == entities.ScopeOwner {
		key = "owner_id"
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, err := readCounters(tx, scope, id)
		if err != nil {
			return err
		}
		after, members, err := recompute(tx, key, id)
		if err != nil {
			return err
		}
		report.Before, report.After = before, after
		report.Corrected = !before.Equal(after)
		if !report.Corrected {
			return nil
		}

		if err := tx.Where("scope = ? AND scope_id = ?", scope, id).Delete(&entities.SummaryMemberEntity{}).Error; err != nil {
			return dbError(err, "reconcile_members", errors.PriorityHigh, "scope", scope, "id", id)
		}
		if len(members) > 0 {
			for i := range members {
				members[i].Scope, members[i].ScopeID = scope, id
			}
			if err := tx.CreateInBatches(members, 200).Error; err != nil {
				return dbError(err, "reconcile_members", errors.PriorityHigh, "scope", scope, "id", id)
			}
		}

		ts := now()
		var row any
		if scope == entities.ScopeAsset {
			var fpID string
			var fps []string
			if err := tx.Model(&entities.DetectionEntity{}).Where("asset_id = ?", id).Order("id DESC").Limit(1).Pluck("fingerprint_id", &fps).Error; err != nil {
				return dbError(err, "reconcile_summary", errors.PriorityHigh, "scope", scope, "id", id)
			}
			if len(fps) == 1 {
				fpID = fps[0]
			}
			row = &entities.AssetSummaryEntity{
				AssetID: id, OwnerID: ownerID, FingerprintID: fpID,
				TotalDetections: after.TotalDetections, UniquePlatforms: after.UniquePlatforms,
				UniqueVideos: after.UniqueVideos, UniqueCreators: after.UniqueCreators,
				LastDetectedAt: after.LastDetectedAt, UpdatedAt: ts,
			}
		} else {
			row = &entities.OwnerSummaryEntity{
				OwnerID:         id,
				TotalDetections: after.TotalDetections, UniquePlatforms: after.UniquePlatforms,
				UniqueVideos: after.UniqueVideos, UniqueCreators: after.UniqueCreators,
				LastDetectedAt: after.LastDetectedAt, UpdatedAt: ts,
			}
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error; err != nil {
			return dbError(err, "reconcile_summary", errors.PriorityHigh, "scope", scope, "id", id)
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	if report.Corrected {
		s.log.Warn("summary drift corrected",
			logger.String("scope", scope),
			logger.String("id", id),
			logger.Int64("total_before", report.Before.TotalDetections),
			logger.Int64("total_after", report.After.TotalDetections))
	}
	return report, nil
}

// readCounters loads the materialized counters of one summary.
func readCounters(tx *gorm.DB, scope, id string) (Counters, error) {
	var c Counters
	if scope == entities.ScopeAsset {
		var row entities.AssetSummaryEntity
		if err := tx.Where("asset_id = ?", id).Limit(1).Find(&row).Error; err != nil {
			return c, dbError(err, "read_counters", errors.PriorityMedium, "scope", scope, "id", id)
		}
		c = Counters{row.TotalDetections, row.UniquePlatforms, row.UniqueVideos, row.UniqueCreators, row.LastDetectedAt, nil}
	} else {
		var row entities.OwnerSummaryEntity
		if err := tx.Where("owner_id = ?", id).Limit(1).Find(&row).Error; err != nil {
			return c, dbError(err, "read_counters", errors.PriorityMedium, "scope", scope, "id", id)
		}
		c = Counters{row.TotalDetections, row.UniquePlatforms, row.UniqueVideos, row.UniqueCreators, row.LastDetectedAt, nil}
	}

	platforms, err := platformBreakdown(tx, scope, id)
	if err != nil {
		return c, err
	}
	c.Platforms = platforms
	return c, nil
}

// recompute derives counters and summary members from the raw detections
// matching key = id. Values are grouped in SQL and qualified in Go so the
// queries stay portable between SQLite and MySQL.
func recompute(tx *gorm.DB, key, id string) (Counters, []entities.SummaryMemberEntity, error) {
	c := Counters{Platforms: map[string]int64{}}
	var members []entities.SummaryMemberEntity

	type group struct {
		Platform string
		Value    string
		Hits     int64
	}
	base := func() *gorm.DB {
		return tx.Model(&entities.DetectionEntity{}).Where(key+" = ?", id)
	}

	var platforms []group
	if err := base().Select("platform, COUNT(*) AS hits").Group("platform").Scan(&platforms).Error; err != nil {
		return c, nil, dbError(err, "recompute_platforms", errors.PriorityMedium, key, id)
	}
	for _, g := range platforms {
		c.TotalDetections += g.Hits
		c.Platforms[g.Platform] = g.Hits
		members = append(members, entities.SummaryMemberEntity{Kind: entities.KindPlatform, Value: g.Platform, Hits: g.Hits})
	}
	c.UniquePlatforms = int64(len(platforms))

	var videos []group
	if err := base().Select("platform, platform_video_id AS value, COUNT(*) AS hits").
		Group("platform, platform_video_id").Scan(&videos).Error; err != nil {
		return c, nil, dbError(err, "recompute_videos", errors.PriorityMedium, key, id)
	}
	for _, g := range videos {
		members = append(members, entities.SummaryMemberEntity{Kind: entities.KindVideo, Value: g.Platform + ":" + g.Value, Hits: g.Hits})
	}
	c.UniqueVideos = int64(len(videos))

	var creators []group
	if err := base().Select("platform, platform_creator AS value, COUNT(*) AS hits").
		Where("platform_creator IS NOT NULL AND platform_creator <> ''").
		Group("platform, platform_creator").Scan(&creators).Error; err != nil {
		return c, nil, dbError(err, "recompute_creators", errors.PriorityMedium, key, id)
	}
	for _, g := range creators {
		members = append(members, entities.SummaryMemberEntity{Kind: entities.KindCreator, Value: g.Platform + ":" + g.Value, Hits: g.Hits})
	}
	c.UniqueCreators = int64(len(creators))

	// Latest row rather than MAX() so the driver scans a typed column.
	var latest []entities.DetectionEntity
	if err := base().Order("detected_at DESC").Limit(1).Find(&latest).Error; err != nil {
		return c, nil, dbError(err, "recompute_last_detected", errors.PriorityMedium, key, id)
	}
	if len(latest) == 1 {
		t := latest[0].DetectedAt.UTC()
		c.LastDetectedAt = &t
	}
	return c, members, nil
}
