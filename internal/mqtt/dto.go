package mqtt

import (
	"time"

	"github.com/tphakala/beatguard/internal/model"
)

// DetectionEventDTO is the payload published for each newly stored
// detection. Field names are part of the topic's contract.
type DetectionEventDTO struct {
	AssetID         string   `json:"assetId"`
	OwnerID         string   `json:"ownerId,omitempty"`
	FingerprintID   string   `json:"fingerprintId"`
	Platform        string   `json:"platform"`
	PlatformVideoID string   `json:"platformVideoId"`
	PlatformURL     string   `json:"platformUrl,omitempty"`
	PlatformTitle   string   `json:"platformTitle,omitempty"`
	PlatformCreator string   `json:"platformCreator,omitempty"`
	DetectedAt      string   `json:"detectedAt"` // RFC 3339, UTC
	ConfidenceScore int      `json:"confidenceScore"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
}

// NewDetectionEvent converts a stored detection into its wire form.
func NewDetectionEvent(d *model.Detection) DetectionEventDTO {
	return DetectionEventDTO{
		AssetID:         d.AssetID,
		OwnerID:         d.OwnerID,
		FingerprintID:   d.FingerprintID,
		Platform:        d.Platform,
		PlatformVideoID: d.PlatformVideoID,
		PlatformURL:     deref(d.PlatformURL),
		PlatformTitle:   deref(d.PlatformTitle),
		PlatformCreator: deref(d.PlatformCreator),
		DetectedAt:      d.DetectedAt.UTC().Format(time.RFC3339),
		ConfidenceScore: d.ConfidenceScore,
		DurationSeconds: d.DurationSeconds,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
