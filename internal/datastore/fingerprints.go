package datastore

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/beatguard/internal/datastore/entities"
	"github.com/tphakala/beatguard/internal/datastore/mapper"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/model"
)

// EnsureFingerprint returns the fingerprint record for assetID, creating an
// unregistered one if none exists. An existing record owned by a different
// owner is a conflict.
func (s *Store) EnsureFingerprint(ctx context.Context, assetID, ownerID, bucketID string) (model.Fingerprint, error) {
	if assetID == "" || ownerID == "" {
		return model.Fingerprint{}, validationError("asset and owner ids are required", "asset_id", assetID)
	}

	row := entities.FingerprintEntity{
		AssetID:           assetID,
		OwnerID:           ownerID,
		BucketID:          bucketID,
		RegistrationState: string(model.StateUnregistered),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "asset_id"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return model.Fingerprint{}, dbError(err, "ensure_fingerprint", errors.PriorityHigh, "asset_id", assetID)
	}

	fp, err := s.GetFingerprintByAsset(ctx, assetID)
	if err != nil {
		return model.Fingerprint{}, err
	}
	if fp.OwnerID != ownerID {
		return model.Fingerprint{}, errors.Newf("asset %s is protected by another owner", assetID).
			Component(componentDatastore).
			Category(errors.CategoryConflict).
			Context("asset_id", assetID).
			Build()
	}
	return fp, nil
}

// GetFingerprintByAsset looks up a fingerprint record by catalog asset id.
func (s *Store) GetFingerprintByAsset(ctx context.Context, assetID string) (model.Fingerprint, error) {
	return s.getFingerprint(ctx, "asset_id", assetID)
}

// GetFingerprint looks up a fingerprint record by provider fingerprint id.
func (s *Store) GetFingerprint(ctx context.Context, fingerprintID string) (model.Fingerprint, error) {
	return s.getFingerprint(ctx, "fingerprint_id", fingerprintID)
}

func (s *Store) getFingerprint(ctx context.Context, column, value string) (model.Fingerprint, error) {
	var row entities.FingerprintEntity
	err := s.db.WithContext(ctx).Where(column+" = ?", value).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Fingerprint{}, notFoundError("get_fingerprint", column, value)
		}
		return model.Fingerprint{}, dbError(err, "get_fingerprint", errors.PriorityMedium, column, value)
	}
	return mapper.FingerprintToModel(&row), nil
}

// TransitionState moves assetID to state `to` if it is currently in one of
// `from`. It reports whether the transition happened; concurrent callers
// racing for the same transition see exactly one winner.
func (s *Store) TransitionState(ctx context.Context, assetID string, from []model.RegistrationState, to model.RegistrationState, lastError string) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	res := s.db.WithContext(ctx).Model(&entities.FingerprintEntity{}).
		Where("asset_id = ? AND registration_state IN ?", assetID, states).
		Updates(map[string]any{
			"registration_state": string(to),
			"last_error":         lastError,
			"updated_at":         now(),
		})
	if res.Error != nil {
		return false, dbError(res.Error, "transition_state", errors.PriorityHigh,
			"asset_id", assetID, "to", string(to))
	}
	return res.RowsAffected == 1, nil
}

// MarkRegistered records the provider fingerprint id and completes
// registration. The id is written only once: the row must be registering and
// have no fingerprint id yet.
func (s *Store) MarkRegistered(ctx context.Context, assetID, fingerprintID string) error {
	if fingerprintID == "" {
		return validationError("fingerprint id is required", "fingerprint_id", fingerprintID)
	}

	res := s.db.WithContext(ctx).Model(&entities.FingerprintEntity{}).
		Where("asset_id = ? AND registration_state = ? AND fingerprint_id IS NULL",
			assetID, string(model.StateRegistering)).
		Updates(map[string]any{
			"fingerprint_id":     fingerprintID,
			"registration_state": string(model.StateRegistered),
			"last_error":         "",
			"updated_at":         now(),
		})
	if res.Error != nil {
		return dbError(res.Error, "mark_registered", errors.PriorityHigh,
			"asset_id", assetID, "fingerprint_id", fingerprintID)
	}
	if res.RowsAffected == 0 {
		return errors.New(fmt.Errorf("%w: asset %s is not awaiting registration", ErrStateConflict, assetID)).
			Component(componentDatastore).
			Category(errors.CategoryState).
			Context("asset_id", assetID).
			Build()
	}
	return nil
}

// SetMonitoring stores the provider-confirmed monitoring state. Disabling
// clears the platform set so the record never claims platforms it is not
// monitoring.
func (s *Store) SetMonitoring(ctx context.Context, fingerprintID string, enabled bool, platforms []string) error {
	stored := ""
	if enabled {
		stored = mapper.JoinPlatforms(platforms)
		if stored == "" {
			return validationError("monitoring requires at least one platform", "platforms", platforms)
		}
	}

	res := s.db.WithContext(ctx).Model(&entities.FingerprintEntity{}).
		Where("fingerprint_id = ? AND registration_state = ?", fingerprintID, string(model.StateRegistered)).
		Updates(map[string]any{
			"monitoring_enabled":  enabled,
			"monitored_platforms": stored,
			"updated_at":          now(),
		})
	if res.Error != nil {
		return dbError(res.Error, "set_monitoring", errors.PriorityHigh, "fingerprint_id", fingerprintID)
	}
	if res.RowsAffected == 0 {
		// MySQL reports changed rather than matched rows, so an identical
		// update within the same second affects nothing.
		var count int64
		err := s.db.WithContext(ctx).Model(&entities.FingerprintEntity{}).
			Where("fingerprint_id = ? AND registration_state = ?", fingerprintID, string(model.StateRegistered)).
			Count(&count).Error
		if err != nil {
			return dbError(err, "set_monitoring", errors.PriorityHigh, "fingerprint_id", fingerprintID)
		}
		if count == 0 {
			return notFoundError("set_monitoring", "fingerprint_id", fingerprintID)
		}
	}
	return nil
}

// TouchLastSynced records a successful provider retrieval for fingerprintID.
func (s *Store) TouchLastSynced(ctx context.Context, fingerprintID string) error {
	err := s.db.WithContext(ctx).Model(&entities.FingerprintEntity{}).
		Where("fingerprint_id = ?", fingerprintID).
		Update("last_synced_at", now()).Error
	if err != nil {
		return dbError(err, "touch_last_synced", errors.PriorityLow, "fingerprint_id", fingerprintID)
	}
	return nil
}

// ListMonitoredFingerprints returns every fingerprint with monitoring enabled.
func (s *Store) ListMonitoredFingerprints(ctx context.Context) ([]model.Fingerprint, error) {
	var rows []entities.FingerprintEntity
	err := s.db.WithContext(ctx).
		Where("monitoring_enabled = ? AND registration_state = ?", true, string(model.StateRegistered)).
		Order("asset_id").
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "list_monitored", errors.PriorityMedium)
	}

	out := make([]model.Fingerprint, len(rows))
	for i := range rows {
		out[i] = mapper.FingerprintToModel(&rows[i])
	}
	return out, nil
}

// DeleteFingerprint removes the protection record for assetID. Monitoring
// must be disabled first. Stored detections and summaries are kept.
func (s *Store) DeleteFingerprint(ctx context.Context, assetID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entities.FingerprintEntity
		if err := tx.Where("asset_id = ?", assetID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError("delete_fingerprint", "asset_id", assetID)
			}
			return dbError(err, "delete_fingerprint", errors.PriorityMedium, "asset_id", assetID)
		}
		if row.MonitoringEnabled {
			return errors.New(fmt.Errorf("%w: disable monitoring before revoking %s", ErrMonitoringActive, assetID)).
				Component(componentDatastore).
				Category(errors.CategoryState).
				Context("asset_id", assetID).
				Build()
		}

		res := tx.Where("asset_id = ? AND monitoring_enabled = ?", assetID, false).
			Delete(&entities.FingerprintEntity{})
		if res.Error != nil {
			return dbError(res.Error, "delete_fingerprint", errors.PriorityMedium, "asset_id", assetID)
		}
		if res.RowsAffected == 0 {
			return errors.New(fmt.Errorf("%w: monitoring enabled concurrently for %s", ErrMonitoringActive, assetID)).
				Component(componentDatastore).
				Category(errors.CategoryState).
				Build()
		}
		return nil
	})
}
