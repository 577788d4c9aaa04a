// Package app builds the long-lived services of a harvest run from
// configuration and owns their shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/batch"
	"github.com/JakeFAU/publication-harvester/internal/browser"
	"github.com/JakeFAU/publication-harvester/internal/config"
	"github.com/JakeFAU/publication-harvester/internal/extract"
	"github.com/JakeFAU/publication-harvester/internal/harvest"
	"github.com/JakeFAU/publication-harvester/internal/listing"
	"github.com/JakeFAU/publication-harvester/internal/metrics"
	"github.com/JakeFAU/publication-harvester/internal/persist"
	"github.com/JakeFAU/publication-harvester/internal/ratelimit"
	"github.com/JakeFAU/publication-harvester/internal/telemetry"
)

// App holds the pipeline and every resource it depends on.
type App struct {
	logger   *zap.Logger
	pipeline *harvest.Pipeline
	closers  []func()
}

// Option customizes construction.
type Option func(*options)

type options struct {
	opener browser.Opener
}

// WithOpener replaces the configured browser engine.
func WithOpener(o browser.Opener) Option {
	return func(opts *options) { opts.opener = o }
}

// New wires the pipeline described by cfg. Optional integrations are only
// contacted when configured, and any failure to reach them is fatal.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			ProjectID:   cfg.Tracing.ProjectID,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("flush traces", zap.Error(err))
			}
		})
	}

	opener := o.opener
	if opener == nil {
		opener = newOpener(cfg, logger)
	}

	lister, err := listing.New(listing.Config{
		BaseURL:      cfg.BaseURL,
		ReadyTimeout: cfg.Listing.ReadyTimeout,
	}, opener, logger.Named("listing"))
	if err != nil {
		return nil, err
	}
	extractor := extract.New(extract.Config{ReadyTimeout: cfg.Detail.ReadyTimeout}, logger.Named("extract"))
	// Detail workers always run headless; only the listing session is visible.
	bcfg := batch.Config{
		Workers:  cfg.Workers,
		Delay:    cfg.Delay(),
		Headless: true,
	}
	if cfg.RateLimit.RPS > 0 {
		bcfg.Limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
	}
	orchestrator := batch.New(bcfg, opener, extractor, logger.Named("batch"))

	sinks, err := a.buildSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	writer, err := persist.NewWriter(logger.Named("persist"), sinks...)
	if err != nil {
		return nil, err
	}

	var pipelineOpts []harvest.Option
	if cfg.Postgres.DSN != "" {
		store, err := persist.NewPostgresStore(ctx, persist.PostgresConfig{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres export: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info("postgres export enabled", zap.String("table", cfg.Postgres.Table))
		pipelineOpts = append(pipelineOpts, harvest.WithStore(store))
	}
	if cfg.PubSub.Topic != "" {
		notifier, err := a.buildNotifier(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, harvest.WithNotifier(notifier))
	}
	if cfg.Metrics.Addr != "" {
		stop, err := metrics.Serve(ctx, cfg.Metrics.Addr, logger.Named("metrics"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, stop)
	}

	a.pipeline = harvest.New(lister, orchestrator, writer, logger.Named("harvest"), pipelineOpts...)
	return a, nil
}

func newOpener(cfg config.Config, logger *zap.Logger) browser.Opener {
	bcfg := browser.Config{
		UserAgent:       cfg.Browser.UserAgent,
		PageLoadTimeout: cfg.Browser.PageLoadTimeout,
		ConsentTimeout:  cfg.Browser.ConsentTimeout,
	}
	if cfg.Browser.Engine == config.EngineStatic {
		logger.Info("using static engine; pages are fetched without JavaScript")
		return browser.NewStaticOpener(bcfg, logger.Named("static"))
	}
	return browser.NewChromedpOpener(bcfg, logger.Named("chromedp"))
}

func (a *App) buildSinks(ctx context.Context, cfg config.Config) ([]persist.Sink, error) {
	local, err := persist.NewLocalSink(cfg.OutDir)
	if err != nil {
		return nil, err
	}
	sinks := []persist.Sink{local}
	if cfg.GCS.Bucket == "" {
		return sinks, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close storage client", zap.Error(err))
		}
	})
	gcsSink, err := persist.NewGCSSink(client, cfg.GCS.Bucket, cfg.GCS.Prefix)
	if err != nil {
		return nil, err
	}
	a.logger.Info("gcs mirror enabled", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
	return append(sinks, gcsSink), nil
}

func (a *App) buildNotifier(ctx context.Context, cfg config.PubSubConfig) (*persist.PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	notifier, err := persist.NewPubSubNotifier(ctx, client, cfg.Topic)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, notifier.Close)
	a.logger.Info("run notifications enabled", zap.String("topic", cfg.Topic))
	return notifier, nil
}

// Run executes one harvest with the wired pipeline.
func (a *App) Run(ctx context.Context, opts harvest.Options) (persist.RunSummary, error) {
	return a.pipeline.Run(ctx, opts)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
