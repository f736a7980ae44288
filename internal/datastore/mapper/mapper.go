// Package mapper converts between persistence entities and domain models.
package mapper

import (
	"strings"
	"time"

	"github.com/tphakala/beatguard/internal/datastore/entities"
	"github.com/tphakala/beatguard/internal/model"
)

const platformSeparator = ","

// FingerprintToModel converts a FingerprintEntity to the domain Fingerprint.
func FingerprintToModel(e *entities.FingerprintEntity) model.Fingerprint {
	return model.Fingerprint{
		AssetID:            e.AssetID,
		OwnerID:            e.OwnerID,
		BucketID:           e.BucketID,
		FingerprintID:      e.FingerprintID,
		State:              model.RegistrationState(e.RegistrationState),
		MonitoringEnabled:  e.MonitoringEnabled,
		MonitoredPlatforms: SplitPlatforms(e.MonitoredPlatforms),
		LastError:          e.LastError,
		LastSyncedAt:       utcPtr(e.LastSyncedAt),
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// JoinPlatforms encodes a normalized platform set for storage.
func JoinPlatforms(platforms []string) string {
	return strings.Join(model.NormalizePlatforms(platforms), platformSeparator)
}

// SplitPlatforms decodes a stored platform set.
func SplitPlatforms(s string) []string {
	if s == "" {
		return nil
	}
	return model.NormalizePlatforms(strings.Split(s, platformSeparator))
}

// DetectionToEntity converts a domain Detection into a row owned by the
// given asset and owner.
func DetectionToEntity(d *model.Detection, assetID, ownerID string) *entities.DetectionEntity {
	return &entities.DetectionEntity{
		FingerprintID:   d.FingerprintID,
		Platform:        d.Platform,
		PlatformVideoID: d.PlatformVideoID,
		AssetID:         assetID,
		OwnerID:         ownerID,
		PlatformURL:     d.PlatformURL,
		PlatformTitle:   d.PlatformTitle,
		PlatformCreator: d.PlatformCreator,
		DetectedAt:      d.DetectedAt,
		ConfidenceScore: d.ConfidenceScore,
		DurationSeconds: d.DurationSeconds,
	}
}

// DetectionToModel converts a stored row back to the domain Detection.
func DetectionToModel(e *entities.DetectionEntity) model.Detection {
	return model.Detection{
		FingerprintID:   e.FingerprintID,
		Platform:        e.Platform,
		PlatformVideoID: e.PlatformVideoID,
		PlatformURL:     e.PlatformURL,
		PlatformTitle:   e.PlatformTitle,
		PlatformCreator: e.PlatformCreator,
		DetectedAt:      e.DetectedAt.UTC(),
		ConfidenceScore: e.ConfidenceScore,
		DurationSeconds: e.DurationSeconds,
		AssetID:         e.AssetID,
		OwnerID:         e.OwnerID,
	}
}

// AssetSummaryToModel converts a summary row. breakdown may be nil.
func AssetSummaryToModel(e *entities.AssetSummaryEntity, breakdown map[string]int64) model.AssetSummary {
	if breakdown == nil {
		breakdown = map[string]int64{}
	}
	return model.AssetSummary{
		AssetID:           e.AssetID,
		OwnerID:           e.OwnerID,
		FingerprintID:     e.FingerprintID,
		TotalDetections:   e.TotalDetections,
		UniquePlatforms:   e.UniquePlatforms,
		UniqueVideos:      e.UniqueVideos,
		UniqueCreators:    e.UniqueCreators,
		LastDetectedAt:    utcPtr(e.LastDetectedAt),
		PlatformBreakdown: breakdown,
	}
}

// OwnerSummaryToModel converts an owner summary row. breakdown may be nil.
func OwnerSummaryToModel(e *entities.OwnerSummaryEntity, assetCount int64, breakdown map[string]int64) model.OwnerSummary {
	if breakdown == nil {
		breakdown = map[string]int64{}
	}
	return model.OwnerSummary{
		OwnerID:           e.OwnerID,
		AssetCount:        assetCount,
		TotalDetections:   e.TotalDetections,
		UniquePlatforms:   e.UniquePlatforms,
		UniqueVideos:      e.UniqueVideos,
		UniqueCreators:    e.UniqueCreators,
		LastDetectedAt:    utcPtr(e.LastDetectedAt),
		PlatformBreakdown: breakdown,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
