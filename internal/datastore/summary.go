package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/beatguard/internal/datastore/entities"
	"github.com/tphakala/beatguard/internal/datastore/mapper"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/model"
)

// uniqueColumns maps a member kind to the distinct counter it feeds.
var uniqueColumns = map[string]string{
	entities.KindPlatform: "unique_platforms",
	entities.KindVideo:    "unique_videos",
	entities.KindCreator:  "unique_creators",
}

// summaryMember is one distinct value a detection contributes to a summary.
type summaryMember struct {
	kind  string
	value string
}

// membersOf lists the distinct values d contributes. Videos and creators are
// qualified by platform since ids are only unique within a platform.
func membersOf(d *entities.DetectionEntity) []summaryMember {
	members := []summaryMember{
		{kind: entities.KindPlatform, value: d.Platform},
		{kind: entities.KindVideo, value: d.Platform + ":" + d.PlatformVideoID},
	}
	if d.PlatformCreator != nil && *d.PlatformCreator != "" {
		members = append(members, summaryMember{kind: entities.KindCreator, value: d.Platform + ":" + *d.PlatformCreator})
	}
	return members
}

// applyDetection adds one freshly inserted detection to its asset and owner
// summaries. Every write is an in-place increment or a conditional update so
// concurrent transactions never overwrite each other's contribution.
func applyDetection(tx *gorm.DB, d *entities.DetectionEntity) error {
	ts := now()

	asset := entities.AssetSummaryEntity{AssetID: d.AssetID, OwnerID: d.OwnerID, FingerprintID: d.FingerprintID, UpdatedAt: ts}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&asset).Error; err != nil {
		return dbError(err, "create_asset_summary", errors.PriorityHigh, "asset_id", d.AssetID)
	}
	owner := entities.OwnerSummaryEntity{OwnerID: d.OwnerID, UpdatedAt: ts}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&owner).Error; err != nil {
		return dbError(err, "create_owner_summary", errors.PriorityHigh, "owner_id", d.OwnerID)
	}

	scopes := []struct {
		scope string
		id    string
		model any
		key   string
	}{
		{entities.ScopeAsset, d.AssetID, &entities.AssetSummaryEntity{}, "asset_id"},
		{entities.ScopeOwner, d.OwnerID, &entities.OwnerSummaryEntity{}, "owner_id"},
	}

	for _, sc := range scopes {
		updates := map[string]any{
			"total_detections": gorm.Expr("total_detections + ?", 1),
			"updated_at":       ts,
		}
		for _, m := range membersOf(d) {
			isNew, err := addMember(tx, sc.scope, sc.id, m)
			if err != nil {
				return err
			}
			if isNew {
				col := uniqueColumns[m.kind]
				updates[col] = gorm.Expr(col+" + ?", 1)
			}
		}

		if err := tx.Model(sc.model).Where(sc.key+" = ?", sc.id).Updates(updates).Error; err != nil {
			return dbError(err, "increment_summary", errors.PriorityHigh, "scope", sc.scope, "id", sc.id)
		}

		// Only ever moves forward, whatever order detections arrive in.
		err := tx.Model(sc.model).
			Where(sc.key+" = ? AND (last_detected_at IS NULL OR last_detected_at < ?)", sc.id, d.DetectedAt).
			Update("last_detected_at", d.DetectedAt).Error
		if err != nil {
			return dbError(err, "update_last_detected", errors.PriorityHigh, "scope", sc.scope, "id", sc.id)
		}
	}
	return nil
}

// addMember records one occurrence of a distinct value and reports whether
// the value was new to the summary.
func addMember(tx *gorm.DB, scope, scopeID string, m summaryMember) (bool, error) {
	row := entities.SummaryMemberEntity{Scope: scope, ScopeID: scopeID, Kind: m.kind, Value: m.value, Hits: 1}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "scope_id"}, {Name: "kind"}, {Name: "value"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, dbError(res.Error, "add_summary_member", errors.PriorityHigh, "scope", scope, "kind", m.kind)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	err := tx.Model(&entities.SummaryMemberEntity{}).
		Where("scope = ? AND scope_id = ? AND kind = ? AND value = ?", scope, scopeID, m.kind, m.value).
		Update("hits", gorm.Expr("hits + ?", 1)).Error
	if err != nil {
		return false, dbError(err, "add_summary_member", errors.PriorityHigh, "scope", scope, "kind", m.kind)
	}
	return false, nil
}

// platformBreakdown returns detections per platform for one summary.
func platformBreakdown(db *gorm.DB, scope, scopeID string) (map[string]int64, error) {
	var rows []entities.SummaryMemberEntity
	err := db.Where("scope = ? AND scope_id = ? AND kind = ?", scope, scopeID, entities.KindPlatform).
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "platform_breakdown", errors.PriorityLow, "scope", scope, "id", scopeID)
	}
	out := make(map[string]int64, len(rows))
	for i := range rows {
		out[rows[i].Value] = rows[i].Hits
	}
	return out, nil
}

// GetAssetSummary returns the materialized summary for assetID. An asset
// with no fingerprint or no detections yields a zeroed summary, not an error.
func (s *Store) GetAssetSummary(ctx context.Context, assetID string) (model.AssetSummary, error) {
	db := s.db.WithContext(ctx)

	var row entities.AssetSummaryEntity
	err := db.Where("asset_id = ?", assetID).Limit(1).Find(&row).Error
	if err != nil {
		return model.AssetSummary{}, dbError(err, "get_asset_summary", errors.PriorityMedium, "asset_id", assetID)
	}
	row.AssetID = assetID

	breakdown, err := platformBreakdown(db, entities.ScopeAsset, assetID)
	if err != nil {
		return model.AssetSummary{}, err
	}
	summary := mapper.AssetSummaryToModel(&row, breakdown)

	var fps []entities.FingerprintEntity
	if err := db.Where("asset_id = ?", assetID).Limit(1).Find(&fps).Error; err != nil {
		return model.AssetSummary{}, dbError(err, "get_asset_summary", errors.PriorityMedium, "asset_id", assetID)
	}
	if len(fps) == 1 {
		fp := mapper.FingerprintToModel(&fps[0])
		summary.OwnerID = fp.OwnerID
		summary.LastSyncedAt = fp.LastSyncedAt
		if id := fp.ProviderID(); id != "" {
			summary.FingerprintID = id
		}
	}
	return summary, nil
}

// GetOwnerSummary returns the materialized summary across all of ownerID's
// assets. Unknown owners yield a zeroed summary.
func (s *Store) GetOwnerSummary(ctx context.Context, ownerID string) (model.OwnerSummary, error) {
	db := s.db.WithContext(ctx)

	var row entities.OwnerSummaryEntity
	if err := db.Where("owner_id = ?", ownerID).Limit(1).Find(&row).Error; err != nil {
		return model.OwnerSummary{}, dbError(err, "get_owner_summary", errors.PriorityMedium, "owner_id", ownerID)
	}
	row.OwnerID = ownerID

	assetCount, err := s.countOwnerAssets(db, ownerID)
	if err != nil {
		return model.OwnerSummary{}, err
	}

	breakdown, err := platformBreakdown(db, entities.ScopeOwner, ownerID)
	if err != nil {
		return model.OwnerSummary{}, err
	}
	return mapper.OwnerSummaryToModel(&row, assetCount, breakdown), nil
}

// countOwnerAssets counts protected assets plus assets that only have
// detections left after their protection was revoked.
func (s *Store) countOwnerAssets(db *gorm.DB, ownerID string) (int64, error) {
	var assets []string
	err := db.Model(&entities.FingerprintEntity{}).
		Where("owner_id = ?", ownerID).
		Distinct().
		Pluck("asset_id", &assets).Error
	if err != nil {
		return 0, dbError(err, "count_owner_assets", errors.PriorityLow, "owner_id", ownerID)
	}
	var summarized []string
	err = db.Model(&entities.AssetSummaryEntity{}).
		Where("owner_id = ?", ownerID).
		Pluck("asset_id", &summarized).Error
	if err != nil {
		return 0, dbError(err, "count_owner_assets", errors.PriorityLow, "owner_id", ownerID)
	}

	seen := make(map[string]struct{}, len(assets)+len(summarized))
	for _, a := range assets {
		seen[a] = struct{}{}
	}
	for _, a := range summarized {
		seen[a] = struct{}{}
	}
	return int64(len(seen)), nil
}
