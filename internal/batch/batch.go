// Package batch fans detail extraction out over independent browser
// sessions, one per contiguous shard of stubs.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/browser"
	"github.com/JakeFAU/publication-harvester/internal/metrics"
	"github.com/JakeFAU/publication-harvester/internal/publication"
	"github.com/JakeFAU/publication-harvester/internal/telemetry"
)

// Extractor resolves one detail page in a session the caller owns.
type Extractor interface {
	Extract(ctx context.Context, session browser.Session, link, titleHint string, delay time.Duration) (publication.Record, error)
}

// Limiter paces requests across workers.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the detail stage.
type Config struct {
	Workers  int
	Delay    time.Duration
	Headless bool
	// Limiter, when set, is consulted before every detail page.
	Limiter Limiter
}

// Report is the combined outcome of every shard.
type Report struct {
	// Records holds every successfully extracted item, in no particular
	// cross-shard order.
	Records []publication.Record
	Shards  int
	Skipped int
	// WorkerErrors holds session-launch faults; each aborted one shard.
	WorkerErrors []error
}

// Err joins the worker faults, or returns nil.
func (r Report) Err() error {
	return errors.Join(r.WorkerErrors...)
}

// Orchestrator runs the detail stage.
type Orchestrator struct {
	cfg       Config
	opener    browser.Opener
	extractor Extractor
	logger    *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config, opener browser.Opener, extractor Extractor, logger *zap.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, opener: opener, extractor: extractor, logger: logger}
}

type shardResult struct {
	index   int
	records []publication.Record
	skipped int
	err     error
}

// Run extracts every stub. Workers share nothing but the limiter; results
// are combined only after each worker reports.
func (o *Orchestrator) Run(ctx context.Context, stubs []publication.Stub) Report {
	shards := Shard(stubs, o.cfg.Workers)
	report := Report{Shards: len(shards)}
	if len(shards) == 0 {
		return report
	}

	results := make(chan shardResult, len(shards))
	for i, shard := range shards {
		go func(index int, items []publication.Stub) {
			results <- o.runShard(ctx, index, items)
		}(i, shard)
	}

	for done := 1; done <= len(shards); done++ {
		res := <-results
		report.Records = append(report.Records, res.records...)
		report.Skipped += res.skipped
		if res.err != nil {
			report.WorkerErrors = append(report.WorkerErrors, res.err)
		}
		o.logger.Info("detail shard completed",
			zap.Int("worker", res.index),
			zap.Int("completed", done),
			zap.Int("shards", len(shards)),
			zap.Int("items", len(res.records)),
			zap.Int("skipped", res.skipped),
			zap.Error(res.err),
		)
	}
	return report
}

// runShard owns one session for the whole shard and always closes it.
func (o *Orchestrator) runShard(ctx context.Context, index int, items []publication.Stub) shardResult {
	res := shardResult{index: index}
	logger := o.logger.With(zap.Int("worker", index))
	ctx, span := telemetry.StartSpan(ctx, "batch.shard", "worker", strconv.Itoa(index))
	defer func() { telemetry.EndSpan(span, res.err) }()

	session, err := o.opener.Open(ctx, o.cfg.Headless)
	if err != nil {
		metrics.ObserveSession(metrics.StageDetail, metrics.StatusFailed)
		res.skipped = len(items)
		res.err = fmt.Errorf("worker %d: open session: %w", index, err)
		return res
	}
	metrics.ObserveSession(metrics.StageDetail, metrics.StatusOK)
	metrics.IncActiveWorkers()
	defer func() {
		metrics.DecActiveWorkers()
		if cerr := session.Close(); cerr != nil {
			logger.Warn("close session", zap.Error(cerr))
		}
	}()

	for i, it := range items {
		if ctx.Err() != nil {
			res.skipped += len(items) - i
			logger.Warn("shard interrupted", zap.Int("remaining", len(items)-i), zap.Error(ctx.Err()))
			break
		}
		if o.cfg.Limiter != nil {
			if err := o.cfg.Limiter.Wait(ctx, it.Link); err != nil {
				res.skipped += len(items) - i
				logger.Warn("shard interrupted", zap.Int("remaining", len(items)-i), zap.Error(err))
				break
			}
		}
		start := time.Now()
		rec, err := o.extractor.Extract(ctx, session, it.Link, it.Title, o.cfg.Delay)
		if err != nil {
			res.skipped++
			metrics.ObserveDetail(metrics.StatusFailed, time.Since(start))
			logger.Warn("detail skipped", zap.String("link", it.Link), zap.Error(err))
			continue
		}
		metrics.ObserveDetail(metrics.StatusOK, time.Since(start))
		res.records = append(res.records, rec)
		logger.Info("detail ok",
			zap.Int("item", i+1),
			zap.Int("of", len(items)),
			zap.String("title", truncate(rec.Title, 60)),
		)
	}
	return res
}

// Shard splits items into at most n contiguous chunks of ceil(len/n) items;
// the last chunk may be smaller. n <= 1 yields a single chunk.
func Shard[T any](items []T, n int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if n <= 1 {
		return [][]T{items}
	}
	size := (len(items) + n - 1) / n
	out := make([][]T, 0, n)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
