package entities

import "time"

// DetectionEntity is the GORM model for the 'detections' table.
// idx_detections_key is the natural-key uniqueness constraint that makes
// insert-if-absent race-safe across concurrent pollers.
type DetectionEntity struct {
	ID              uint      `gorm:"primaryKey"`
	FingerprintID   string    `gorm:"uniqueIndex:idx_detections_key,priority:1;size:128;not null"`
	Platform        string    `gorm:"uniqueIndex:idx_detections_key,priority:2;size:64;not null"`
	PlatformVideoID string    `gorm:"uniqueIndex:idx_detections_key,priority:3;size:255;not null"`
	AssetID         string    `gorm:"index:idx_detections_asset;size:64;not null"`
	OwnerID         string    `gorm:"index:idx_detections_owner_detected,priority:1;size:64;not null"`
	PlatformURL     *string   `gorm:"size:2048"`
	PlatformTitle   *string   `gorm:"size:1024"`
	PlatformCreator *string   `gorm:"size:255"`
	DetectedAt      time.Time `gorm:"index:idx_detections_owner_detected,priority:2;not null"`
	ConfidenceScore int       `gorm:"not null"`
	DurationSeconds *float64
	CreatedAt       time.Time
}

// TableName returns the table name.
func (DetectionEntity) TableName() string {
	return "detections"
}
