// Package ingest persists normalized detections exactly once. Records below
// the confidence threshold are dropped before they reach the store; the rest
// go through the store's insert-if-absent, which also applies the summary
// contribution of each new row.
package ingest

import (
	"context"

	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
	"github.com/tphakala/beatguard/internal/observability/metrics"
)

const componentIngest = "ingest"

// Store is the persistence the pipeline needs.
type Store interface {
	InsertDetection(ctx context.Context, d *model.Detection) (bool, error)
}

// Publisher is notified of each newly stored detection.
type Publisher interface {
	PublishDetection(ctx context.Context, d *model.Detection) error
}

// Recorder receives ingest outcome counts.
type Recorder interface {
	RecordDetections(platform, outcome string, n int)
}

// ThresholdPolicy decides which confidence scores are real matches.
type ThresholdPolicy struct {
	Default     int
	PerPlatform map[string]int
}

// PolicyFromSettings builds a policy from loaded settings. Platform keys are
// normalized so that overrides match canonical detection platforms.
func PolicyFromSettings(s *conf.IngestSettings) ThresholdPolicy {
	p := ThresholdPolicy{Default: s.ConfidenceThreshold, PerPlatform: make(map[string]int, len(s.PlatformThresholds))}
	for platform, threshold := range s.PlatformThresholds {
		p.PerPlatform[model.NormalizePlatform(platform)] = threshold
	}
	return p
}

// Threshold returns the minimum accepted score on platform.
func (p ThresholdPolicy) Threshold(platform string) int {
	if t, ok := p.PerPlatform[platform]; ok {
		return t
	}
	return p.Default
}

// Accepts reports whether d meets its platform's threshold.
func (p ThresholdPolicy) Accepts(d *model.Detection) bool {
	return d.ConfidenceScore >= p.Threshold(d.Platform)
}

// Pipeline ingests detection batches. Safe for concurrent use; concurrent
// batches with overlapping keys are resolved by the store.
type Pipeline struct {
	store     Store
	policy    ThresholdPolicy
	publisher Publisher
	metrics   Recorder
	log       logger.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithPublisher publishes each inserted detection. Publish failures are
// logged and do not fail the ingest.
func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithMetrics records outcome counts per platform.
func WithMetrics(r Recorder) Option {
	return func(pl *Pipeline) { pl.metrics = r }
}

// WithLogger sets the pipeline logger.
func WithLogger(l logger.Logger) Option {
	return func(pl *Pipeline) { pl.log = l }
}

// New creates a pipeline.
func New(store Store, policy ThresholdPolicy, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, policy: policy}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Global().Module(componentIngest)
	}
	return p
}

type platformCounts map[string]*model.IngestResult

func (c platformCounts) of(platform string) *model.IngestResult {
	r, ok := c[platform]
	if !ok {
		r = &model.IngestResult{}
		c[platform] = r
	}
	return r
}

// Ingest stores every detection that passes the threshold and is not
// already known. Duplicates and low-confidence records are counted, not
// errors, and so are detections whose fingerprint no longer exists because
// protection was revoked while they were being retrieved. Any other store
// failure stops the batch; the returned result then counts what was
// processed before it, and a later replay of the batch is safe.
func (p *Pipeline) Ingest(ctx context.Context, detections []model.Detection) (model.IngestResult, error) {
	var result model.IngestResult
	counts := make(platformCounts)
	defer p.record(counts)

	for i := range detections {
		d := &detections[i]

		if !p.policy.Accepts(d) {
			result.RejectedLowConfidence++
			counts.of(d.Platform).RejectedLowConfidence++
			continue
		}

		inserted, err := p.store.InsertDetection(ctx, d)
		if err != nil && errors.IsNotFound(err) {
			if result.SkippedRevoked == 0 {
				p.log.WithContext(ctx).Warn("fingerprint revoked, skipping its detections",
					logger.FingerprintID(d.FingerprintID),
					logger.String("platform", d.Platform))
			}
			result.SkippedRevoked++
			counts.of(d.Platform).SkippedRevoked++
			continue
		}
		if err != nil {
			p.log.WithContext(ctx).Error("detection insert failed",
				logger.FingerprintID(d.FingerprintID),
				logger.String("platform", d.Platform),
				logger.String("platform_video_id", d.PlatformVideoID),
				logger.Int("inserted", result.Inserted),
				logger.Int("duplicate", result.Duplicate),
				logger.Error(err))
			return result, errors.New(err).
				Component(componentIngest).
				Context("fingerprint_id", d.FingerprintID).
				Context("processed", i).
				Context("batch_size", len(detections)).
				Build()
		}

		if !inserted {
			result.Duplicate++
			counts.of(d.Platform).Duplicate++
			continue
		}
		result.Inserted++
		counts.of(d.Platform).Inserted++
		p.publish(ctx, d)
	}

	p.log.WithContext(ctx).Debug("batch ingested",
		logger.Int("received", len(detections)),
		logger.Int("inserted", result.Inserted),
		logger.Int("duplicate", result.Duplicate),
		logger.Int("rejected_low_confidence", result.RejectedLowConfidence),
		logger.Int("skipped_revoked", result.SkippedRevoked))
	return result, nil
}

func (p *Pipeline) publish(ctx context.Context, d *model.Detection) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishDetection(ctx, d); err != nil {
		p.log.WithContext(ctx).Warn("detection event not published",
			logger.FingerprintID(d.FingerprintID),
			logger.String("platform_video_id", d.PlatformVideoID),
			logger.Error(err))
	}
}

func (p *Pipeline) record(counts platformCounts) {
	if p.metrics == nil {
		return
	}
	for platform, r := range counts {
		p.metrics.RecordDetections(platform, metrics.OutcomeInserted, r.Inserted)
		p.metrics.RecordDetections(platform, metrics.OutcomeDuplicate, r.Duplicate)
		p.metrics.RecordDetections(platform, metrics.OutcomeLowConfidence, r.RejectedLowConfidence)
		p.metrics.RecordDetections(platform, metrics.OutcomeRevoked, r.SkippedRevoked)
	}
}
