// Package harvest runs the two-stage crawl: listing stubs first, then
// detail enrichment, then merge and persistence.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/batch"
	"github.com/JakeFAU/publication-harvester/internal/clock/system"
	"github.com/JakeFAU/publication-harvester/internal/persist"
	"github.com/JakeFAU/publication-harvester/internal/publication"
	"github.com/JakeFAU/publication-harvester/internal/telemetry"
)

// ErrNoListings reports that stage 1 found nothing; no artifact is written.
var ErrNoListings = errors.New("no publications found on listing pages")

// Lister collects listing stubs.
type Lister interface {
	CollectLinks(ctx context.Context, maxPages int, headless bool) ([]publication.Stub, error)
}

// DetailRunner enriches stubs.
type DetailRunner interface {
	Run(ctx context.Context, stubs []publication.Stub) batch.Report
}

// ArtifactWriter persists the two JSON artifacts.
type ArtifactWriter interface {
	WriteLinks(ctx context.Context, stubs []publication.Stub) ([]string, error)
	WritePublications(ctx context.Context, records []publication.Record) ([]string, error)
}

// RecordStore exports merged records.
type RecordStore interface {
	SavePublications(ctx context.Context, runID string, records []publication.Record, at time.Time) error
}

// Notifier announces a finished run.
type Notifier interface {
	Notify(ctx context.Context, summary persist.RunSummary) error
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// Options parameterize one run.
type Options struct {
	RunID           string
	MaxPages        int
	ListingHeadless bool
}

// Pipeline wires the stages together.
type Pipeline struct {
	lister   Lister
	details  DetailRunner
	writer   ArtifactWriter
	store    RecordStore
	notifier Notifier
	clock    Clock
	logger   *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithStore exports merged records after they are written.
func WithStore(store RecordStore) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithNotifier publishes the run summary at the end of a run.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New builds a Pipeline.
func New(lister Lister, details DetailRunner, writer ArtifactWriter, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		lister:  lister,
		details: details,
		writer:  writer,
		clock:   system.New(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes both stages. Item and worker faults in stage 2 are logged
// and leave the stub in place; listing and persistence faults end the run.
func (p *Pipeline) Run(ctx context.Context, opts Options) (persist.RunSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "harvest.run", "run_id", opts.RunID)
	summary, err := p.run(ctx, opts)
	if errors.Is(err, ErrNoListings) {
		telemetry.EndSpan(span, nil)
	} else {
		telemetry.EndSpan(span, err)
	}
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, opts Options) (persist.RunSummary, error) {
	summary := persist.RunSummary{RunID: opts.RunID, StartedAt: p.clock.Now()}

	p.logger.Info("stage 1: collecting links", zap.Int("max_pages", opts.MaxPages))
	stubs, err := p.lister.CollectLinks(ctx, opts.MaxPages, opts.ListingHeadless)
	if err != nil {
		return summary, fmt.Errorf("collect listing links: %w", err)
	}
	if len(stubs) == 0 {
		summary.FinishedAt = p.clock.Now()
		return summary, ErrNoListings
	}
	summary.Stubs = len(stubs)
	locs, err := p.writer.WriteLinks(ctx, stubs)
	if err != nil {
		return summary, fmt.Errorf("write links: %w", err)
	}
	summary.Artifacts = append(summary.Artifacts, locs...)
	p.logger.Info("stage 1 complete", zap.Int("unique_links", len(stubs)))

	p.logger.Info("stage 2: extracting details", zap.Int("links", len(stubs)))
	report := p.details.Run(ctx, stubs)
	if err := report.Err(); err != nil {
		p.logger.Warn("some detail workers failed to start", zap.Error(err))
	}
	summary.Details = len(report.Records)
	summary.Skipped = report.Skipped

	merged := publication.Merge(stubs, report.Records)
	summary.Records = len(merged)
	locs, err = p.writer.WritePublications(ctx, merged)
	if err != nil {
		return summary, fmt.Errorf("write publications: %w", err)
	}
	summary.Artifacts = append(summary.Artifacts, locs...)

	if p.store != nil {
		if err := p.store.SavePublications(ctx, opts.RunID, merged, p.clock.Now()); err != nil {
			return summary, fmt.Errorf("export publications: %w", err)
		}
	}

	summary.FinishedAt = p.clock.Now()
	p.logger.Info("harvest complete",
		zap.Int("records", summary.Records),
		zap.Int("details", summary.Details),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration()),
	)

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, summary); err != nil {
			p.logger.Warn("run notification failed", zap.Error(err))
		}
	}
	return summary, nil
}
