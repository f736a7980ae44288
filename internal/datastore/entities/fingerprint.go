// Package entities contains GORM models that map directly to database tables.
// These are persistence-layer structures separate from the domain model.
package entities

import "time"

// FingerprintEntity is the GORM model for the 'fingerprints' table.
type FingerprintEntity struct {
	ID                 uint       `gorm:"primaryKey"`
	AssetID            string     `gorm:"uniqueIndex;size:64;not null"`
	OwnerID            string     `gorm:"index;size:64;not null"`
	BucketID           string     `gorm:"size:64;not null"`
	FingerprintID      *string    `gorm:"uniqueIndex;size:128"` // NULL until registered
	RegistrationState  string     `gorm:"size:32;not null;default:unregistered"`
	MonitoringEnabled  bool       `gorm:"index;not null;default:false"`
	MonitoredPlatforms string     `gorm:"size:512"` // comma-separated, sorted
	LastError          string     `gorm:"size:1024"`
	LastSyncedAt       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName returns the table name.
func (FingerprintEntity) TableName() string {
	return "fingerprints"
}
