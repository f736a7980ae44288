package model

import (
	"fmt"
	"time"
)

// DateLayout is the provider's calendar date format.
const DateLayout = "2006-01-02"

// Detection is one observed occurrence of fingerprinted audio on an external
// platform. (FingerprintID, Platform, PlatformVideoID) is its natural key.
// Optional platform-supplied fields are nil when the provider omits them.
type Detection struct {
	FingerprintID   string
	Platform        string
	PlatformVideoID string
	PlatformURL     *string
	PlatformTitle   *string
	PlatformCreator *string
	DetectedAt      time.Time // provider-reported, not ingestion time
	ConfidenceScore int       // 0-100
	DurationSeconds *float64

	// Populated when read back from the store
	AssetID string
	OwnerID string
}

// Key identifies the real-world occurrence a detection describes.
type Key struct {
	FingerprintID   string
	Platform        string
	PlatformVideoID string
}

// Key returns the detection's natural key.
func (d *Detection) Key() Key {
	return Key{FingerprintID: d.FingerprintID, Platform: d.Platform, PlatformVideoID: d.PlatformVideoID}
}

// DateRange is a half-open [From, To) interval of calendar days.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange parses two YYYY-MM-DD dates into a validated range.
func NewDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", from, err)
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: %w", to, err)
	}
	r := DateRange{From: f, To: t}
	return r, r.Validate()
}

// LastDays returns the range covering the n calendar days up to and including now's day.
func LastDays(now time.Time, n int) DateRange {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return DateRange{From: today.AddDate(0, 0, -(n - 1)), To: today.AddDate(0, 0, 1)}
}

// Validate requires From to be strictly before To at day granularity.
func (r DateRange) Validate() error {
	if r.StartDate() >= r.EndDate() {
		return fmt.Errorf("empty date range [%s, %s)", r.StartDate(), r.EndDate())
	}
	return nil
}

// StartDate formats From as YYYY-MM-DD.
func (r DateRange) StartDate() string { return r.From.Format(DateLayout) }

// EndDate formats To as YYYY-MM-DD.
func (r DateRange) EndDate() string { return r.To.Format(DateLayout) }

// IngestResult counts the outcomes of one ingest call. Duplicates,
// low-confidence rejections and detections for a fingerprint revoked in the
// meantime are normal outcomes, not errors.
type IngestResult struct {
	Inserted              int `json:"inserted"`
	Duplicate             int `json:"duplicate"`
	RejectedLowConfidence int `json:"rejectedLowConfidence"`
	SkippedRevoked        int `json:"skippedRevoked,omitempty"`
}

// Add accumulates other into r.
func (r *IngestResult) Add(other IngestResult) {
	r.Inserted += other.Inserted
	r.Duplicate += other.Duplicate
	r.RejectedLowConfidence += other.RejectedLowConfidence
	r.SkippedRevoked += other.SkippedRevoked
}
