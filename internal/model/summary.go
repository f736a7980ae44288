package model

import "time"

// AssetSummary is the materialized roll-up of one asset's detections.
type AssetSummary struct {
	AssetID           string           `json:"assetId"`
	OwnerID           string           `json:"ownerId,omitempty"`
	FingerprintID     string           `json:"fingerprintId,omitempty"`
	TotalDetections   int64            `json:"totalDetections"`
	UniquePlatforms   int64            `json:"uniquePlatforms"`
	UniqueVideos      int64            `json:"uniqueVideos"`
	UniqueCreators    int64            `json:"uniqueCreators"`
	LastDetectedAt    *time.Time       `json:"lastDetectedAt"`
	PlatformBreakdown map[string]int64 `json:"platformBreakdown"`
	LastSyncedAt      *time.Time       `json:"lastSyncedAt"`
}

// OwnerSummary rolls up every asset of one catalog owner. Distinct counts
// are taken across all of the owner's assets.
type OwnerSummary struct {
	OwnerID           string           `json:"ownerId"`
	AssetCount        int64            `json:"assetCount"`
	TotalDetections   int64            `json:"totalDetections"`
	UniquePlatforms   int64            `json:"uniquePlatforms"`
	UniqueVideos      int64            `json:"uniqueVideos"`
	UniqueCreators    int64            `json:"uniqueCreators"`
	LastDetectedAt    *time.Time       `json:"lastDetectedAt"`
	PlatformBreakdown map[string]int64 `json:"platformBreakdown"`
}

// DetectionView is the dashboard projection of a stored detection.
type DetectionView struct {
	AssetID         string    `json:"assetId"`
	FingerprintID   string    `json:"fingerprintId"`
	Platform        string    `json:"platform"`
	PlatformVideoID string    `json:"platformVideoId"`
	PlatformURL     *string   `json:"platformUrl"`
	PlatformTitle   *string   `json:"platformTitle"`
	PlatformCreator *string   `json:"platformCreator"`
	DetectedAt      time.Time `json:"detectedAt"`
	ConfidenceScore int       `json:"confidenceScore"`
	DurationSeconds *float64  `json:"durationSeconds"`
}

// View converts a detection into its dashboard projection.
func (d *Detection) View() DetectionView {
	return DetectionView{
		AssetID:         d.AssetID,
		FingerprintID:   d.FingerprintID,
		Platform:        d.Platform,
		PlatformVideoID: d.PlatformVideoID,
		PlatformURL:     d.PlatformURL,
		PlatformTitle:   d.PlatformTitle,
		PlatformCreator: d.PlatformCreator,
		DetectedAt:      d.DetectedAt,
		ConfidenceScore: d.ConfidenceScore,
		DurationSeconds: d.DurationSeconds,
	}
}
