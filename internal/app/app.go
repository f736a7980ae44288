// Package app wires the configured components into a running service.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/beatguard/internal/acrcloud"
	"github.com/tphakala/beatguard/internal/api"
	"github.com/tphakala/beatguard/internal/buildinfo"
	"github.com/tphakala/beatguard/internal/conf"
	"github.com/tphakala/beatguard/internal/dashboard"
	"github.com/tphakala/beatguard/internal/datastore"
	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/fingerprint"
	"github.com/tphakala/beatguard/internal/ingest"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/mqtt"
	"github.com/tphakala/beatguard/internal/observability"
	"github.com/tphakala/beatguard/internal/poller"
)

const componentApp = "app"

// App holds the wired components. Build it with New and release it with
// Close.
type App struct {
	Settings     *conf.Settings
	Build        *buildinfo.Context
	Metrics      *observability.Metrics
	Store        datastore.Interface
	Provider     *acrcloud.Client
	Pipeline     *ingest.Pipeline
	Scheduler    *poller.Scheduler
	Fingerprints *fingerprint.Service
	Dashboard    *dashboard.Service

	publisher *mqtt.Publisher
	log       logger.Logger
}

type options struct {
	background bool
	provider   []acrcloud.Option
}

// Option customizes New.
type Option func(*options)

// WithBackgroundPolling lets monitoring changes start and stop poll loops.
// One-shot commands leave it off so that enabling monitoring does not
// trigger a retrieval.
func WithBackgroundPolling() Option {
	return func(o *options) { o.background = true }
}

// WithProviderOptions passes extra options to the provider client.
func WithProviderOptions(opts ...acrcloud.Option) Option {
	return func(o *options) { o.provider = append(o.provider, opts...) }
}

// New opens the store, builds the provider client and connects the
// optional MQTT publisher. A broker that cannot be reached is logged and
// publishing is skipped; every other failure is returned.
func New(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.Global().Module(componentApp)

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).Component(componentApp).Category(errors.CategoryConfiguration).Build()
	}

	providerOpts := append([]acrcloud.Option{
		acrcloud.WithMetrics(m.Fingerprint),
		acrcloud.WithLogger(logger.Global().Module("acrcloud")),
	}, o.provider...)
	provider, err := acrcloud.New(acrcloud.ConfigFromSettings(&settings.ACRCloud), providerOpts...)
	if err != nil {
		return nil, err
	}

	store, err := datastore.Open(&settings.Database, logger.Global().Module("datastore"))
	if err != nil {
		provider.Close()
		return nil, err
	}

	a := &App{
		Settings: settings,
		Build:    build,
		Metrics:  m,
		Store:    store,
		Provider: provider,
		log:      log,
	}

	pipelineOpts := []ingest.Option{
		ingest.WithMetrics(m.Fingerprint),
		ingest.WithLogger(logger.Global().Module("ingest")),
	}
	if settings.MQTT.Enabled {
		if pub := a.connectMQTT(ctx); pub != nil {
			a.publisher = pub
			pipelineOpts = append(pipelineOpts, ingest.WithPublisher(pub))
		}
	}
	a.Pipeline = ingest.New(store, ingest.PolicyFromSettings(&settings.Ingest), pipelineOpts...)

	a.Scheduler = poller.New(poller.ConfigFromSettings(&settings.Poller, settings.ACRCloud.BucketID),
		provider, a.Pipeline, store,
		poller.WithMetrics(m.Fingerprint),
		poller.WithLogger(logger.Global().Module("poller")))

	fpOpts := []fingerprint.Option{fingerprint.WithLogger(logger.Global().Module("fingerprint"))}
	if o.background {
		fpOpts = append(fpOpts, fingerprint.WithScheduler(a.Scheduler))
	}
	a.Fingerprints = fingerprint.NewService(store, provider, settings.ACRCloud.BucketID, fpOpts...)

	a.Dashboard = dashboard.NewService(store, settings.WebServer.CacheTTL)
	return a, nil
}

func (a *App) connectMQTT(ctx context.Context) *mqtt.Publisher {
	cfg := mqtt.ConfigFromSettings(&a.Settings.MQTT)
	client, err := mqtt.NewClient(cfg, a.Metrics.MQTT, logger.Global().Module("mqtt"))
	if err != nil {
		a.log.Warn("MQTT disabled, invalid configuration", logger.Error(err))
		return nil
	}
	if err := client.Connect(ctx); err != nil {
		a.log.Warn("MQTT broker unreachable, detections will not be published",
			logger.String("broker", cfg.Broker),
			logger.Error(err))
		return nil
	}
	return mqtt.NewPublisher(client, cfg.Topic)
}

// Serve resumes polling of every monitored fingerprint, starts the dashboard
// server, the monitoring resync and the reconciliation loop, and blocks
// until ctx is cancelled. Retrievals in flight are cancelled; detections
// already retrieved are ingested before Serve returns.
func (a *App) Serve(ctx context.Context) error {
	n, err := a.Scheduler.Resume(ctx)
	if err != nil {
		return err
	}
	a.log.Info("polling resumed",
		logger.Int("fingerprints", n),
		logger.Duration("interval", a.Settings.Poller.Interval),
		logger.String("version", a.Build.Version()),
		logger.String("instance_id", a.Build.InstanceID()))

	var server *api.Server
	if a.Settings.WebServer.Enabled {
		server, err = api.New(api.ConfigFromSettings(a.Settings), a.Dashboard,
			api.WithLogger(api.GetLogger()),
			api.WithMetricsHandler(a.Metrics.Handler()))
		if err != nil {
			a.Scheduler.StopAll()
			return err
		}
		server.Start()
	}

	var wg sync.WaitGroup
	if interval := a.Settings.Poller.ResyncInterval; interval > 0 {
		wg.Go(func() { a.resyncLoop(ctx, interval) })
	}
	if interval := a.Settings.Aggregation.ReconcileInterval; interval > 0 {
		wg.Go(func() { a.reconcileLoop(ctx, interval) })
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	var shutdownErr error
	if server != nil {
		shutdownErr = server.Shutdown(ctx)
	}
	a.Scheduler.StopAll()
	wg.Wait()
	return shutdownErr
}

// resyncLoop picks up monitoring enabled or disabled by other processes,
// such as the monitor command.
func (a *App) resyncLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			started, stopped, err := a.Scheduler.Sync(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("monitoring resync failed", logger.Error(err))
				}
				continue
			}
			if started > 0 || stopped > 0 {
				a.log.Info("monitoring resynced",
					logger.Int("started", started),
					logger.Int("stopped", stopped))
			}
		}
	}
}

func (a *App) reconcileLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Reconcile(ctx, ""); err != nil {
				a.log.Warn("reconciliation failed", logger.Error(err))
			}
		}
	}
}

// Reconcile recomputes summaries from the stored detections, for one asset
// and its owner or for every summary when assetID is empty. It returns the
// number of corrected summaries.
func (a *App) Reconcile(ctx context.Context, assetID string) (int, error) {
	var (
		reports []datastore.ReconcileReport
		err     error
	)
	if assetID == "" {
		reports, err = a.Store.ReconcileAll(ctx)
	} else {
		reports, err = a.Store.Reconcile(ctx, assetID)
	}
	if err != nil {
		return 0, err
	}

	corrected := 0
	for i := range reports {
		r := &reports[i]
		a.Metrics.Fingerprint.RecordReconcile(r.Scope, r.Corrected)
		if r.Corrected {
			corrected++
			a.log.Warn("summary drift corrected",
				logger.String("scope", r.Scope),
				logger.String("id", r.ID),
				logger.Int64("before_total", r.Before.TotalDetections),
				logger.Int64("after_total", r.After.TotalDetections))
		}
	}
	if corrected > 0 {
		a.Dashboard.Flush()
	}
	a.log.Info("reconciliation complete",
		logger.Int("checked", len(reports)),
		logger.Int("corrected", corrected))
	return corrected, nil
}

// Close stops pollers, disconnects MQTT, releases provider connections and
// closes the store.
func (a *App) Close() error {
	a.Scheduler.StopAll()
	if a.publisher != nil {
		a.publisher.Close()
	}
	a.Provider.Close()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
