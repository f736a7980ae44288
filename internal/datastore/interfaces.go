package datastore

import (
	"context"

	"github.com/tphakala/beatguard/internal/model"
)

// Interface is the complete persistence surface used by the fingerprint
// service, the ingestion pipeline, the poller and the dashboard. Each of
// those packages declares the narrower subset it needs.
type Interface interface {
	// Fingerprint lifecycle
	EnsureFingerprint(ctx context.Context, assetID, ownerID, bucketID string) (model.Fingerprint, error)
	GetFingerprintByAsset(ctx context.Context, assetID string) (model.Fingerprint, error)
	GetFingerprint(ctx context.Context, fingerprintID string) (model.Fingerprint, error)
	TransitionState(ctx context.Context, assetID string, from []model.RegistrationState, to model.RegistrationState, lastError string) (bool, error)
	MarkRegistered(ctx context.Context, assetID, fingerprintID string) error
	SetMonitoring(ctx context.Context, fingerprintID string, enabled bool, platforms []string) error
	TouchLastSynced(ctx context.Context, fingerprintID string) error
	ListMonitoredFingerprints(ctx context.Context) ([]model.Fingerprint, error)
	DeleteFingerprint(ctx context.Context, assetID string) error

	// Detections
	InsertDetection(ctx context.Context, d *model.Detection) (bool, error)
	ListRecentDetections(ctx context.Context, ownerID string, limit int) ([]model.Detection, error)
	CountDetections(ctx context.Context, fingerprintID string) (int64, error)

	// Summaries
	GetAssetSummary(ctx context.Context, assetID string) (model.AssetSummary, error)
	GetOwnerSummary(ctx context.Context, ownerID string) (model.OwnerSummary, error)
	Reconcile(ctx context.Context, assetID string) ([]ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]ReconcileReport, error)

	Close() error
}

var _ Interface = (*Store)(nil)
