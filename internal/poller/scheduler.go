// Package poller runs the background retrieval-and-ingestion cycle, one
// schedule per monitored fingerprint. Fingerprints are polled independently:
// a failing fingerprint is logged and retried on its next tick without
// affecting the others.
package poller

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
	"github.com/tphakala/beatguard/internal/observability/metrics"
)

const componentPoller = "poller"

const defaultCycleTimeout = 10 * time.Minute

// Retriever fetches normalized detections for one fingerprint.
type Retriever interface {
	QueryDetections(ctx context.Context, bucketID, fingerprintID string, r model.DateRange) ([]model.Detection, error)
}

// Ingester persists a batch of detections.
type Ingester interface {
	Ingest(ctx context.Context, detections []model.Detection) (model.IngestResult, error)
}

// Store is the fingerprint persistence the scheduler needs.
type Store interface {
	GetFingerprint(ctx context.Context, fingerprintID string) (model.Fingerprint, error)
	ListMonitoredFingerprints(ctx context.Context) ([]model.Fingerprint, error)
	TouchLastSynced(ctx context.Context, fingerprintID string) error
}

// Recorder receives scheduler metrics.
type Recorder interface {
	SetActivePollers(n int)
	RecordPollCycle(outcome string, seconds float64)
}

// Config controls the schedule.
type Config struct {
	Interval      time.Duration
	LookbackDays  int
	MaxConcurrent int
	CycleTimeout  time.Duration // bounds retrieval plus ingestion of one cycle
	BucketID      string        // used when a fingerprint record carries none
}

// ConfigFromSettings converts loaded settings into a scheduler Config.
func ConfigFromSettings(s *conf.PollerSettings, bucketID string) Config {
	return Config{
		Interval:      s.Interval,
		LookbackDays:  s.LookbackDays,
		MaxConcurrent: s.MaxConcurrent,
		CycleTimeout:  s.CycleTimeout,
		BucketID:      bucketID,
	}
}

type poller struct {
	fingerprintID string
	cancel        context.CancelFunc
}

// Scheduler owns the per-fingerprint poll loops.
type Scheduler struct {
	cfg       Config
	retriever Retriever
	ingester  Ingester
	store     Store
	metrics   Recorder
	log       logger.Logger
	now       func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.Mutex
	pollers map[string]*poller
	closed  bool
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithMetrics records cycle outcomes and the number of active pollers.
func WithMetrics(r Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithClock overrides the time source used for lookback ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. No poll loop runs until Start or Resume.
func New(cfg Config, retriever Retriever, ingester Ingester, store Store, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.LookbackDays < 1 {
		cfg.LookbackDays = 7
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = defaultCycleTimeout
	}

	s := &Scheduler{
		cfg:       cfg,
		retriever: retriever,
		ingester:  ingester,
		store:     store,
		now:       time.Now,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		pollers:   make(map[string]*poller),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Global().Module(componentPoller)
	}
	return s
}

// Start begins polling fp on the configured interval, with an immediate
// first cycle. Starting a fingerprint that is already polled is a no-op.
func (s *Scheduler) Start(fp model.Fingerprint) {
	id := fp.ProviderID()
	if id == "" {
		s.log.Warn("not polling unregistered fingerprint", logger.AssetID(fp.AssetID))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, running := s.pollers[id]; running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{fingerprintID: id, cancel: cancel}
	s.pollers[id] = p
	s.setActive()

	s.wg.Add(1)
	go s.run(ctx, p)

	s.log.Info("poller started",
		logger.FingerprintID(id),
		logger.Duration("interval", s.cfg.Interval))
}

// Stop ends polling of fingerprintID. A retrieval in flight is cancelled;
// detections it already returned are still ingested. No further cycle starts.
func (s *Scheduler) Stop(fingerprintID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pollers[fingerprintID]
	if !ok {
		return
	}
	p.cancel()
	delete(s.pollers, fingerprintID)
	s.setActive()
	s.log.Info("poller stopped", logger.FingerprintID(fingerprintID))
}

// StopAll stops every poller and waits for in-flight ingestion to finish.
// The scheduler accepts no new pollers afterwards.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.closed = true
	for id, p := range s.pollers {
		p.cancel()
		delete(s.pollers, id)
	}
	s.setActive()
	s.mu.Unlock()

	s.wg.Wait()
}

// Running returns the fingerprint ids currently being polled, sorted.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pollers))
	for id := range s.pollers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Resume starts a poller for every fingerprint stored with monitoring
// enabled. It returns the number of fingerprints found.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	fps, err := s.store.ListMonitoredFingerprints(ctx)
	if err != nil {
		return 0, err
	}
	for i := range fps {
		s.Start(fps[i])
	}
	return len(fps), nil
}

// Sync aligns the running pollers with the stored monitoring flags. It
// starts a poller for each monitored fingerprint that has none and stops
// pollers whose fingerprint is no longer monitored. Monitoring changed by
// another process reaches this scheduler only through Sync.
func (s *Scheduler) Sync(ctx context.Context) (started, stopped int, err error) {
	fps, err := s.store.ListMonitoredFingerprints(ctx)
	if err != nil {
		return 0, 0, err
	}

	running := s.Running()
	monitored := make(map[string]struct{}, len(fps))
	for i := range fps {
		id := fps[i].ProviderID()
		monitored[id] = struct{}{}
		if _, found := slices.BinarySearch(running, id); found {
			continue
		}
		s.Start(fps[i])
		if s.isRunning(id) {
			started++
		}
	}
	for _, id := range running {
		if _, ok := monitored[id]; !ok {
			s.Stop(id)
			stopped++
		}
	}
	return started, stopped, nil
}

func (s *Scheduler) isRunning(fingerprintID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pollers[fingerprintID]
	return ok
}

// setActive must be called with s.mu held.
func (s *Scheduler) setActive() {
	if s.metrics != nil {
		s.metrics.SetActivePollers(len(s.pollers))
	}
}

func (s *Scheduler) run(ctx context.Context, p *poller) {
	defer s.wg.Done()

	s.tick(ctx, p.fingerprintID)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, p.fingerprintID)
		}
	}
}

// tick runs one scheduled cycle. Cancellation of loopCtx aborts retrieval;
// whatever was retrieved before that is ingested detached from loopCtx.
func (s *Scheduler) tick(loopCtx context.Context, fingerprintID string) {
	if err := s.sem.Acquire(loopCtx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)
	if loopCtx.Err() != nil {
		return
	}

	ctx := logger.WithTraceID(loopCtx, uuid.NewString())
	log := s.log.WithContext(ctx).With(logger.FingerprintID(fingerprintID))

	fp, err := s.store.GetFingerprint(ctx, fingerprintID)
	if err != nil {
		if loopCtx.Err() != nil {
			return
		}
		log.Warn("poll skipped, fingerprint lookup failed", logger.Error(err))
		s.recordCycle(metrics.OutcomeError, 0)
		return
	}
	if !fp.MonitoringEnabled {
		log.Info("poll skipped, monitoring is disabled")
		s.Stop(fingerprintID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	res, err := s.cycle(ctx, fp, model.LastDays(s.now(), s.cfg.LookbackDays))
	switch {
	case err != nil && loopCtx.Err() != nil:
		log.Info("poller stopped during cycle", logger.Error(err))
	case err != nil:
		log.Warn("poll cycle failed, retrying next interval", logger.Error(err))
	case loopCtx.Err() != nil:
		log.Info("poller stopped during cycle, fetched detections were ingested",
			logger.Int("inserted", res.Inserted))
	}
}

// PollNow runs one cycle for fingerprintID immediately, over r or the
// configured lookback when r is nil. The retrieval honours ctx; detections
// already retrieved are ingested even if ctx is cancelled afterwards.
func (s *Scheduler) PollNow(ctx context.Context, fingerprintID string, r *model.DateRange) (model.IngestResult, error) {
	fp, err := s.store.GetFingerprint(ctx, fingerprintID)
	if err != nil {
		return model.IngestResult{}, err
	}
	if fp.State != model.StateRegistered {
		return model.IngestResult{}, errors.Newf("fingerprint %s is not registered", fingerprintID).
			Component(componentPoller).
			Category(errors.CategoryState).
			Context("fingerprint_id", fingerprintID).
			Build()
	}

	rng := model.LastDays(s.now(), s.cfg.LookbackDays)
	if r != nil {
		rng = *r
	}
	ctx = logger.WithTraceID(ctx, uuid.NewString())
	return s.cycle(ctx, fp, rng)
}

// PollAll runs one cycle for every monitored fingerprint with bounded
// concurrency. Per-fingerprint failures do not stop the others; they are
// joined into the returned error.
func (s *Scheduler) PollAll(ctx context.Context) (model.IngestResult, error) {
	fps, err := s.store.ListMonitoredFingerprints(ctx)
	if err != nil {
		return model.IngestResult{}, err
	}

	var (
		mu    sync.Mutex
		total model.IngestResult
		errs  []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for i := range fps {
		fp := fps[i]
		g.Go(func() error {
			cctx := logger.WithTraceID(gctx, uuid.NewString())
			res, err := s.cycle(cctx, fp, model.LastDays(s.now(), s.cfg.LookbackDays))
			mu.Lock()
			defer mu.Unlock()
			total.Add(res)
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return total, errors.Join(errs...)
}

// cycle retrieves detections for fp over r and ingests them. Ingestion runs
// detached from ctx cancellation, bounded by the cycle timeout.
func (s *Scheduler) cycle(ctx context.Context, fp model.Fingerprint, r model.DateRange) (model.IngestResult, error) {
	start := time.Now()
	fpID := fp.ProviderID()
	log := s.log.WithContext(ctx).With(logger.FingerprintID(fpID))

	bucket := fp.BucketID
	if bucket == "" {
		bucket = s.cfg.BucketID
	}

	detections, err := s.retriever.QueryDetections(ctx, bucket, fpID, r)
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.IsCategory(err, errors.CategoryCancellation) {
			outcome = metrics.OutcomeCancelled
		}
		s.recordCycle(outcome, time.Since(start).Seconds())
		return model.IngestResult{}, err
	}

	ingestCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CycleTimeout)
	defer cancel()

	res, err := s.ingester.Ingest(ingestCtx, detections)
	if err != nil {
		s.recordCycle(metrics.OutcomeError, time.Since(start).Seconds())
		return res, err
	}

	if err := s.store.TouchLastSynced(ingestCtx, fpID); err != nil {
		log.Warn("could not record sync time", logger.Error(err))
	}
	s.recordCycle(metrics.OutcomeSuccess, time.Since(start).Seconds())

	log.Info("poll cycle complete",
		logger.String("start_date", r.StartDate()),
		logger.String("end_date", r.EndDate()),
		logger.Int("retrieved", len(detections)),
		logger.Int("inserted", res.Inserted),
		logger.Int("duplicate", res.Duplicate),
		logger.Int("rejected_low_confidence", res.RejectedLowConfidence),
		logger.Int("skipped_revoked", res.SkippedRevoked),
		logger.Duration("duration", time.Since(start)))
	return res, nil
}

func (s *Scheduler) recordCycle(outcome string, seconds float64) {
	if s.metrics != nil {
		s.metrics.RecordPollCycle(outcome, seconds)
	}
}
