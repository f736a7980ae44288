// Package fingerprint drives an asset through provider registration and
// toggles monitoring. Local state only changes after the provider has
// confirmed the corresponding call.
package fingerprint

import (
	"context"
	"fmt"

	"github.com/tphakala/beatguard/internal/acrcloud"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
)

const componentFingerprint = "fingerprint"

// Errors returned for requests the current state does not allow.
var (
	ErrNotRegistered          = errors.NewStd("fingerprint is not registered")
	ErrAlreadyRegistered      = errors.NewStd("asset is already registered")
	ErrRegistrationInProgress = errors.NewStd("registration already in progress")
	ErrNoPlatforms            = errors.NewStd("at least one platform is required")
)

// Provider is the subset of the fingerprinting provider the service calls.
type Provider interface {
	Register(ctx context.Context, bucketID string, audio acrcloud.Audio, meta acrcloud.Metadata) (acrcloud.Registration, error)
	EnableMonitoring(ctx context.Context, bucketID, fingerprintID string, platforms []string) error
	DisableMonitoring(ctx context.Context, bucketID, fingerprintID string) error
}

// Store is the fingerprint persistence the service needs.
type Store interface {
	EnsureFingerprint(ctx context.Context, assetID, ownerID, bucketID string) (model.Fingerprint, error)
	GetFingerprintByAsset(ctx context.Context, assetID string) (model.Fingerprint, error)
	GetFingerprint(ctx context.Context, fingerprintID string) (model.Fingerprint, error)
	TransitionState(ctx context.Context, assetID string, from []model.RegistrationState, to model.RegistrationState, lastError string) (bool, error)
	MarkRegistered(ctx context.Context, assetID, fingerprintID string) error
	SetMonitoring(ctx context.Context, fingerprintID string, enabled bool, platforms []string) error
	DeleteFingerprint(ctx context.Context, assetID string) error
}

// Scheduler runs the background retrieval cycle of monitored fingerprints.
type Scheduler interface {
	Start(fp model.Fingerprint)
	Stop(fingerprintID string)
}

// RegisterRequest describes an asset to protect.
type RegisterRequest struct {
	AssetID string
	OwnerID string
	Title   string
	Artist  string
	Album   string
	Audio   acrcloud.Audio
}

// Service coordinates the provider, the store and the poll scheduler.
type Service struct {
	store     Store
	provider  Provider
	bucketID  string
	scheduler Scheduler
	log       logger.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithScheduler starts and stops pollers as monitoring is toggled.
func WithScheduler(s Scheduler) Option {
	return func(svc *Service) { svc.scheduler = s }
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) { svc.log = l }
}

// NewService creates a service that registers new assets into bucketID.
func NewService(store Store, provider Provider, bucketID string, opts ...Option) *Service {
	s := &Service{store: store, provider: provider, bucketID: bucketID}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module(componentFingerprint)
	}
	return s
}

// Get returns the fingerprint record of assetID.
func (s *Service) Get(ctx context.Context, assetID string) (model.Fingerprint, error) {
	return s.store.GetFingerprintByAsset(ctx, assetID)
}

// Register uploads the asset's audio and records the provider fingerprint
// id. A failed registration can be retried; concurrent registrations of the
// same asset see one winner and ErrRegistrationInProgress for the rest.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (model.Fingerprint, error) {
	fp, err := s.store.EnsureFingerprint(ctx, req.AssetID, req.OwnerID, s.bucketID)
	if err != nil {
		return model.Fingerprint{}, err
	}
	log := s.log.WithContext(ctx).With(logger.AssetID(req.AssetID))

	switch fp.State {
	case model.StateRegistered:
		return fp, stateError(ErrAlreadyRegistered, req.AssetID, fp.State)
	case model.StateRegistering:
		return fp, stateError(ErrRegistrationInProgress, req.AssetID, fp.State)
	}

	ok, err := s.store.TransitionState(ctx, req.AssetID,
		[]model.RegistrationState{model.StateUnregistered, model.StateRegistrationFailed},
		model.StateRegistering, "")
	if err != nil {
		return fp, err
	}
	if !ok {
		return fp, stateError(ErrRegistrationInProgress, req.AssetID, model.StateRegistering)
	}

	bucket := fp.BucketID
	if bucket == "" {
		bucket = s.bucketID
	}
	reg, err := s.provider.Register(ctx, bucket, req.Audio, acrcloud.Metadata{
		Title:    req.Title,
		Artist:   req.Artist,
		Album:    req.Album,
		CustomID: req.AssetID,
	})
	if err != nil {
		s.failRegistration(ctx, req.AssetID, err)
		log.Warn("registration failed", logger.Error(err))
		return fp, err
	}

	// The provider now holds the fingerprint; record it even if the caller
	// has gone away.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.MarkRegistered(persistCtx, req.AssetID, reg.FingerprintID); err != nil {
		s.failRegistration(persistCtx, req.AssetID, err)
		log.Error("provider registration could not be recorded",
			logger.FingerprintID(reg.FingerprintID),
			logger.Error(err))
		return fp, err
	}

	log.Info("asset registered", logger.FingerprintID(reg.FingerprintID))
	return s.store.GetFingerprintByAsset(persistCtx, req.AssetID)
}

func (s *Service) failRegistration(ctx context.Context, assetID string, cause error) {
	_, err := s.store.TransitionState(context.WithoutCancel(ctx), assetID,
		[]model.RegistrationState{model.StateRegistering}, model.StateRegistrationFailed, cause.Error())
	if err != nil {
		s.log.WithContext(ctx).Error("could not record registration failure",
			logger.AssetID(assetID),
			logger.Error(err))
	}
}

// EnableMonitoring replaces the monitored platform set of a registered
// fingerprint. The platform list is normalized and must not be empty. The
// provider is called first; the local record is updated only after it
// confirms.
func (s *Service) EnableMonitoring(ctx context.Context, fingerprintID string, platforms []string) (model.Fingerprint, error) {
	normalized := model.NormalizePlatforms(platforms)
	if len(normalized) == 0 {
		return model.Fingerprint{}, errors.New(fmt.Errorf("%w: enable monitoring", ErrNoPlatforms)).
			Component(componentFingerprint).
			Category(errors.CategoryValidation).
			Context("fingerprint_id", fingerprintID).
			Build()
	}

	fp, err := s.store.GetFingerprint(ctx, fingerprintID)
	if err != nil {
		return model.Fingerprint{}, err
	}
	if fp.State != model.StateRegistered {
		return fp, stateError(ErrNotRegistered, fp.AssetID, fp.State)
	}

	if err := s.provider.EnableMonitoring(ctx, s.bucketOf(fp), fingerprintID, normalized); err != nil {
		return fp, err
	}

	if err := s.store.SetMonitoring(context.WithoutCancel(ctx), fingerprintID, true, normalized); err != nil {
		s.restoreProvider(ctx, fp)
		return fp, err
	}

	updated, err := s.store.GetFingerprint(context.WithoutCancel(ctx), fingerprintID)
	if err != nil {
		return fp, err
	}
	if s.scheduler != nil {
		s.scheduler.Start(updated)
	}

	s.log.WithContext(ctx).Info("monitoring enabled",
		logger.AssetID(fp.AssetID),
		logger.FingerprintID(fingerprintID),
		logger.Strings("platforms", normalized))
	return updated, nil
}

// DisableMonitoring stops monitoring a fingerprint. Disabling a fingerprint
// that is not monitored is a no-op.
func (s *Service) DisableMonitoring(ctx context.Context, fingerprintID string) (model.Fingerprint, error) {
	fp, err := s.store.GetFingerprint(ctx, fingerprintID)
	if err != nil {
		return model.Fingerprint{}, err
	}
	if !fp.MonitoringEnabled {
		if s.scheduler != nil {
			s.scheduler.Stop(fingerprintID)
		}
		return fp, nil
	}

	if err := s.provider.DisableMonitoring(ctx, s.bucketOf(fp), fingerprintID); err != nil {
		return fp, err
	}

	if err := s.store.SetMonitoring(context.WithoutCancel(ctx), fingerprintID, false, nil); err != nil {
		s.restoreProvider(ctx, fp)
		return fp, err
	}
	if s.scheduler != nil {
		s.scheduler.Stop(fingerprintID)
	}

	s.log.WithContext(ctx).Info("monitoring disabled",
		logger.AssetID(fp.AssetID),
		logger.FingerprintID(fingerprintID))
	return s.store.GetFingerprint(context.WithoutCancel(ctx), fingerprintID)
}

// restoreProvider puts the provider back to the state the local record
// still describes after a failed local write.
func (s *Service) restoreProvider(ctx context.Context, before model.Fingerprint) {
	ctx = context.WithoutCancel(ctx)
	fpID := before.ProviderID()

	var err error
	if before.MonitoringEnabled {
		err = s.provider.EnableMonitoring(ctx, s.bucketOf(before), fpID, before.MonitoredPlatforms)
	} else {
		err = s.provider.DisableMonitoring(ctx, s.bucketOf(before), fpID)
	}
	if err != nil {
		s.log.WithContext(ctx).Error("provider and local monitoring state diverged",
			logger.FingerprintID(fpID),
			logger.Bool("local_enabled", before.MonitoringEnabled),
			logger.Error(err))
	}
}

// Revoke deletes an asset's protection record. Monitoring must be disabled
// first. Stored detections and summaries remain.
func (s *Service) Revoke(ctx context.Context, assetID string) error {
	fp, err := s.store.GetFingerprintByAsset(ctx, assetID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFingerprint(ctx, assetID); err != nil {
		return err
	}
	if s.scheduler != nil && fp.FingerprintID != nil {
		s.scheduler.Stop(*fp.FingerprintID)
	}
	s.log.WithContext(ctx).Info("protection revoked", logger.AssetID(assetID))
	return nil
}

func (s *Service) bucketOf(fp model.Fingerprint) string {
	if fp.BucketID != "" {
		return fp.BucketID
	}
	return s.bucketID
}

func stateError(sentinel error, assetID string, state model.RegistrationState) error {
	return errors.New(fmt.Errorf("%w: asset %s is %s", sentinel, assetID, state)).
		Component(componentFingerprint).
		Category(errors.CategoryState).
		Context("asset_id", assetID).
		Context("state", string(state)).
		Build()
}
