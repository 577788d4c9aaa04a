// Package extract resolves a full publication record from a detail page.
// Every field has an ordered fallback chain; the first step that produces a
// value wins and unresolved fields stay empty.
package extract

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/browser"
	"github.com/JakeFAU/publication-harvester/internal/metrics"
	"github.com/JakeFAU/publication-harvester/internal/publication"
	"github.com/JakeFAU/publication-harvester/internal/telemetry"
)

const defaultReadyTimeout = 20 * time.Second

// Config controls detail extraction.
type Config struct {
	// ReadyTimeout bounds the wait for the page heading.
	ReadyTimeout time.Duration
}

// pauseController sleeps between items.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Extractor turns detail pages into records.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
	pauser pauseController
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger, pauser: timerPauseController{}}
}

var headingReady = browser.Readiness{Selectors: []string{"h1"}}

// Extract loads link in session and resolves its record, then waits delay.
// Only navigation and snapshot faults are returned; missing markup is not
// an error.
func (e *Extractor) Extract(
	ctx context.Context,
	session browser.Session,
	link, titleHint string,
	delay time.Duration,
) (publication.Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "extract.page", "link", link)
	rec, err := e.extract(ctx, session, link, titleHint, delay)
	telemetry.EndSpan(span, err)
	return rec, err
}

func (e *Extractor) extract(
	ctx context.Context,
	session browser.Session,
	link, titleHint string,
	delay time.Duration,
) (publication.Record, error) {
	if err := session.Navigate(ctx, link); err != nil {
		return publication.Record{}, fmt.Errorf("load detail: %w", err)
	}
	session.AcceptConsent(ctx)
	if !session.WaitReady(ctx, e.cfg.ReadyTimeout, headingReady) {
		e.logger.Debug("detail heading not found in time", zap.String("link", link))
	}
	session.ExpandAuthors(ctx)

	snap, err := session.Snapshot(ctx)
	if err != nil {
		return publication.Record{}, fmt.Errorf("read detail: %w", err)
	}
	doc, base, err := snap.Document()
	if err != nil {
		return publication.Record{}, err
	}

	res := Resolve(doc, base, link, titleHint)
	observeSources(res.Sources)
	e.logger.Debug("detail resolved",
		zap.String("link", link),
		zap.String("title_source", res.Sources.Title),
		zap.String("authors_source", res.Sources.Authors),
		zap.String("date_source", res.Sources.Date),
		zap.String("abstract_source", res.Sources.Abstract),
	)

	e.pauser.Pause(ctx, delay)
	return res.Record, nil
}

func observeSources(s Sources) {
	metrics.ObserveFallbackSource("title", s.Title)
	metrics.ObserveFallbackSource("authors", s.Authors)
	metrics.ObserveFallbackSource("published_date", s.Date)
	metrics.ObserveFallbackSource("abstract", s.Abstract)
}
