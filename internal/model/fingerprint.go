// Package model holds the canonical domain types shared by the provider client,
// the ingestion pipeline, the datastore and the dashboard.
package model

import (
	"slices"
	"strings"
	"time"
)

// RegistrationState tracks a fingerprint through provider registration.
type RegistrationState string

const (
	StateUnregistered       RegistrationState = "unregistered"
	StateRegistering        RegistrationState = "registering"
	StateRegistered         RegistrationState = "registered"
	StateRegistrationFailed RegistrationState = "registration_failed"
)

// Fingerprint is one protected audio asset and its provider registration.
//
// MonitoringEnabled implies State == StateRegistered and a non-empty
// MonitoredPlatforms set.
type Fingerprint struct {
	AssetID            string
	OwnerID            string
	BucketID           string
	FingerprintID      *string // set once on successful registration, immutable afterwards
	State              RegistrationState
	MonitoringEnabled  bool
	MonitoredPlatforms []string // sorted, lower-case, unique
	LastError          string
	LastSyncedAt       *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProviderID returns the provider fingerprint id or "" when unregistered.
func (f *Fingerprint) ProviderID() string {
	if f.FingerprintID == nil {
		return ""
	}
	return *f.FingerprintID
}

// NormalizePlatforms lower-cases, trims, de-duplicates and sorts platform tags.
// Empty tags are dropped.
func NormalizePlatforms(platforms []string) []string {
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		p = NormalizePlatform(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// NormalizePlatform canonicalizes a single platform tag.
func NormalizePlatform(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
