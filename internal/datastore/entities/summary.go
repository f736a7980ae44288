package entities

import "time"

// AssetSummaryEntity is the GORM model for the 'asset_summaries' table.
type AssetSummaryEntity struct {
	AssetID         string `gorm:"primaryKey;size:64"`
	OwnerID         string `gorm:"index;size:64;not null"`
	FingerprintID   string `gorm:"size:128"`
	TotalDetections int64  `gorm:"not null;default:0"`
	UniquePlatforms int64  `gorm:"not null;default:0"`
	UniqueVideos    int64  `gorm:"not null;default:0"`
	UniqueCreators  int64  `gorm:"not null;default:0"`
	LastDetectedAt  *time.Time
	UpdatedAt       time.Time
}

// TableName returns the table name.
func (AssetSummaryEntity) TableName() string {
	return "asset_summaries"
}

// OwnerSummaryEntity is the GORM model for the 'owner_summaries' table.
type OwnerSummaryEntity struct {
	OwnerID         string `gorm:"primaryKey;size:64"`
	TotalDetections int64  `gorm:"not null;default:0"`
	UniquePlatforms int64  `gorm:"not null;default:0"`
	UniqueVideos    int64  `gorm:"not null;default:0"`
	UniqueCreators  int64  `gorm:"not null;default:0"`
	LastDetectedAt  *time.Time
	UpdatedAt       time.Time
}

// TableName returns the table name.
func (OwnerSummaryEntity) TableName() string {
	return "owner_summaries"
}

// Summary member scopes and kinds.
const (
	ScopeAsset = "asset"
	ScopeOwner = "owner"

	KindPlatform = "platform"
	KindVideo    = "video"
	KindCreator  = "creator"
)

// SummaryMemberEntity records one distinct value counted by a summary, e.g.
// a platform seen for an asset. Its unique key lets distinct counters be
// maintained with insert-if-absent instead of a scan.
type SummaryMemberEntity struct {
	ID      uint   `gorm:"primaryKey"`
	Scope   string `gorm:"uniqueIndex:idx_summary_members_key,priority:1;size:8;not null"`
	ScopeID string `gorm:"uniqueIndex:idx_summary_members_key,priority:2;size:64;not null"`
	Kind    string `gorm:"uniqueIndex:idx_summary_members_key,priority:3;size:16;not null"`
	Value   string `gorm:"uniqueIndex:idx_summary_members_key,priority:4;size:320;not null"`
	Hits    int64  `gorm:"not null;default:0"`
}

// TableName returns the table name.
func (SummaryMemberEntity) TableName() string {
	return "summary_members"
}
