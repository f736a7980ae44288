// Package dashboard serves read-only detection summaries and recent
// detections for the asset and owner views.
package dashboard

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/model"
)

const componentDashboard = "dashboard"

// Limits for the recent detections listing.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Reader is the store subset the dashboard reads from.
type Reader interface {
	GetAssetSummary(ctx context.Context, assetID string) (model.AssetSummary, error)
	GetOwnerSummary(ctx context.Context, ownerID string) (model.OwnerSummary, error)
	ListRecentDetections(ctx context.Context, ownerID string, limit int) ([]model.Detection, error)
}

// Service answers dashboard queries, optionally through a short-lived cache.
// Unknown assets and owners yield zeroed summaries.
type Service struct {
	reader Reader
	cache  *cache.Cache
}

// NewService creates a dashboard service. A positive ttl caches results for
// that long; zero reads through to the store on every call.
func NewService(reader Reader, ttl time.Duration) *Service {
	s := &Service{reader: reader}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// AssetSummary returns the detection summary of assetID.
func (s *Service) AssetSummary(ctx context.Context, assetID string) (model.AssetSummary, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return model.AssetSummary{}, missingID("asset_id")
	}
	return cached(s, "asset:"+assetID, func() (model.AssetSummary, error) {
		sum, err := s.reader.GetAssetSummary(ctx, assetID)
		if sum.PlatformBreakdown == nil {
			sum.PlatformBreakdown = map[string]int64{}
		}
		return sum, err
	})
}

// OwnerSummary returns the detection summary across all of ownerID's assets.
func (s *Service) OwnerSummary(ctx context.Context, ownerID string) (model.OwnerSummary, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return model.OwnerSummary{}, missingID("owner_id")
	}
	return cached(s, "owner:"+ownerID, func() (model.OwnerSummary, error) {
		sum, err := s.reader.GetOwnerSummary(ctx, ownerID)
		if sum.PlatformBreakdown == nil {
			sum.PlatformBreakdown = map[string]int64{}
		}
		return sum, err
	})
}

// RecentDetections returns ownerID's newest detections. The limit is
// clamped to [1, MaxRecentLimit]; zero or less selects DefaultRecentLimit.
func (s *Service) RecentDetections(ctx context.Context, ownerID string, limit int) ([]model.DetectionView, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, missingID("owner_id")
	}
	limit = ClampLimit(limit)

	key := "recent:" + ownerID + ":" + strconv.Itoa(limit)
	return cached(s, key, func() ([]model.DetectionView, error) {
		ds, err := s.reader.ListRecentDetections(ctx, ownerID, limit)
		if err != nil {
			return nil, err
		}
		views := make([]model.DetectionView, len(ds))
		for i := range ds {
			views[i] = ds[i].View()
		}
		return views, nil
	})
}

// Flush drops every cached result.
func (s *Service) Flush() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

// ClampLimit applies the recent detections paging rules.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

func cached[T any](s *Service, key string, load func() (T, error)) (T, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.(T), nil
		}
	}
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	if s.cache != nil {
		s.cache.SetDefault(key, v)
	}
	return v, nil
}

func missingID(field string) error {
	return errors.Newf("%s is required", field).
		Component(componentDashboard).
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}
