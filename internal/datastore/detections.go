package datastore

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/beatguard/internal/datastore/entities"
	"github.com/tphakala/beatguard/internal/datastore/mapper"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
)

// detectionKeyColumns are the columns of idx_detections_key.
var detectionKeyColumns = []clause.Column{
	{Name: "fingerprint_id"},
	{Name: "platform"},
	{Name: "platform_video_id"},
}

const maxTxAttempts = 3

// isTransientTxError reports lock conflicts that a retried transaction can
// resolve: MySQL deadlocks and lock wait timeouts, SQLite busy errors.
func isTransientTxError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "database is locked")
}

// InsertDetection stores d unless a row with the same natural key exists.
// It reports whether a row was inserted. The existence check is the store's
// uniqueness constraint, and the summary contribution of an inserted row is
// committed in the same transaction, so concurrent callers never double
// count. An existing row is never modified.
func (s *Store) InsertDetection(ctx context.Context, d *model.Detection) (bool, error) {
	switch {
	case d.FingerprintID == "":
		return false, validationError("detection has no fingerprint id", "fingerprint_id", d.FingerprintID)
	case d.Platform == "":
		return false, validationError("detection has no platform", "platform", d.Platform)
	case d.PlatformVideoID == "":
		return false, validationError("detection has no platform video id", "platform_video_id", d.PlatformVideoID)
	}

	var inserted bool
	var err error
	for attempt := range maxTxAttempts {
		inserted, err = s.insertDetection(ctx, d)
		if err == nil || !isTransientTxError(err) || ctx.Err() != nil {
			break
		}
		s.log.Debug("retrying detection insert after lock conflict",
			logger.Int("attempt", attempt+1),
			logger.FingerprintID(d.FingerprintID),
			logger.Error(err))
	}
	return inserted, err
}

func (s *Store) insertDetection(ctx context.Context, d *model.Detection) (bool, error) {
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fp entities.FingerprintEntity
		if err := tx.Where("fingerprint_id = ?", d.FingerprintID).First(&fp).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFoundError("insert_detection", "fingerprint_id", d.FingerprintID)
			}
			return dbError(err, "insert_detection", errors.PriorityHigh, "fingerprint_id", d.FingerprintID)
		}

		row := mapper.DetectionToEntity(d, fp.AssetID, fp.OwnerID)
		row.DetectedAt = normalizeTime(row.DetectedAt)
		row.CreatedAt = now()

		res := tx.Clauses(clause.OnConflict{Columns: detectionKeyColumns, DoNothing: true}).Create(row)
		if res.Error != nil {
			return dbError(res.Error, "insert_detection", errors.PriorityHigh,
				"fingerprint_id", d.FingerprintID, "platform", d.Platform)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := applyDetection(tx, row); err != nil {
			return err
		}
		inserted = true
		d.AssetID, d.OwnerID = fp.AssetID, fp.OwnerID
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ListRecentDetections returns the owner's newest detections first.
func (s *Store) ListRecentDetections(ctx context.Context, ownerID string, limit int) ([]model.Detection, error) {
	var rows []entities.DetectionEntity
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("detected_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "list_recent_detections", errors.PriorityMedium, "owner_id", ownerID)
	}

	out := make([]model.Detection, len(rows))
	for i := range rows {
		out[i] = mapper.DetectionToModel(&rows[i])
	}
	return out, nil
}

// CountDetections returns the number of stored detections for fingerprintID.
func (s *Store) CountDetections(ctx context.Context, fingerprintID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&entities.DetectionEntity{}).
		Where("fingerprint_id = ?", fingerprintID).
		Count(&count).Error
	if err != nil {
		return 0, dbError(err, "count_detections", errors.PriorityLow, "fingerprint_id", fingerprintID)
	}
	return count, nil
}
