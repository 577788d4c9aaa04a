// Package listing walks the paginated publications index and collects the
// title/link stubs that seed the detail stage.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/browser"
	"github.com/JakeFAU/publication-harvester/internal/metrics"
	"github.com/JakeFAU/publication-harvester/internal/publication"
	"github.com/JakeFAU/publication-harvester/internal/telemetry"
)

// Markup the listing pages are known to use.
const (
	CardSelector      = ".result-container"
	CardLinkSelector  = "h3.title a"
	NoResultsMarker   = "No results"
	pageQueryParam    = "page"
	defaultReadyDelay = 15 * time.Second
)

// Config controls the listing crawl.
type Config struct {
	BaseURL      string
	ReadyTimeout time.Duration
}

// Crawler collects stubs from listing pages with one browser session.
type Crawler struct {
	cfg    Config
	opener browser.Opener
	logger *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, opener browser.Opener, logger *zap.Logger) (*Crawler, error) {
	if opener == nil {
		return nil, errors.New("listing: opener is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("listing: invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{cfg: cfg, opener: opener, logger: logger}, nil
}

// CollectLinks visits pages 0..maxPages-1 in order and stops at the first
// page without rows. The result holds one stub per link, the last one seen
// winning.
func (c *Crawler) CollectLinks(ctx context.Context, maxPages int, headless bool) ([]publication.Stub, error) {
	ctx, span := telemetry.StartSpan(ctx, "listing.collect", "base_url", c.cfg.BaseURL)
	stubs, err := c.collect(ctx, maxPages, headless)
	telemetry.EndSpan(span, err)
	return stubs, err
}

func (c *Crawler) collect(ctx context.Context, maxPages int, headless bool) ([]publication.Stub, error) {
	session, err := c.opener.Open(ctx, headless)
	if err != nil {
		metrics.ObserveSession(metrics.StageListing, metrics.StatusFailed)
		return nil, fmt.Errorf("open listing session: %w", err)
	}
	metrics.ObserveSession(metrics.StageListing, metrics.StatusOK)
	defer func() {
		if cerr := session.Close(); cerr != nil {
			c.logger.Warn("close listing session", zap.Error(cerr))
		}
	}()

	if err := session.Navigate(ctx, c.cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("open listing: %w", err)
	}
	session.AcceptConsent(ctx)

	var rows []publication.Stub
	for i := 0; i < maxPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("listing interrupted: %w", err)
		}
		c.logger.Info("listing page", zap.Int("page", i+1), zap.Int("max_pages", maxPages))
		page, err := c.scrapePage(ctx, session, i)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			c.logger.Info("listing exhausted; stopping early", zap.Int("page_index", i))
			break
		}
		rows = append(rows, page...)
	}
	return publication.DedupeStubs(rows), nil
}

func (c *Crawler) scrapePage(ctx context.Context, session browser.Session, index int) ([]publication.Stub, error) {
	pageURL, err := PageURL(c.cfg.BaseURL, index)
	if err != nil {
		return nil, err
	}
	if err := session.Navigate(ctx, pageURL); err != nil {
		metrics.ObserveListingPage(pageURL, metrics.StatusFailed)
		return nil, fmt.Errorf("listing page %d: %w", index, err)
	}
	ready := browser.Readiness{
		Selectors: []string{CardSelector + " " + CardLinkSelector},
		Text:      NoResultsMarker,
	}
	if !session.WaitReady(ctx, c.cfg.ReadyTimeout, ready) {
		c.logger.Debug("listing page not ready; parsing what is present", zap.String("url", pageURL))
	}
	snap, err := session.Snapshot(ctx)
	if err != nil {
		metrics.ObserveListingPage(pageURL, metrics.StatusFailed)
		return nil, fmt.Errorf("listing page %d: %w", index, err)
	}
	doc, base, err := snap.Document()
	if err != nil {
		metrics.ObserveListingPage(pageURL, metrics.StatusFailed)
		return nil, fmt.Errorf("listing page %d: %w", index, err)
	}
	rows := ParseCards(doc, base)
	status := metrics.StatusOK
	if len(rows) == 0 {
		status = metrics.StatusEmpty
	}
	metrics.ObserveListingPage(pageURL, status)
	return rows, nil
}

// PageURL sets the page query parameter on base, keeping any other query.
func PageURL(base string, index int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	q := u.Query()
	q.Set(pageQueryParam, strconv.Itoa(index))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseCards returns one stub per result card that has both a title and a
// link. Relative links are resolved against base.
func ParseCards(doc *goquery.Document, base *url.URL) []publication.Stub {
	var rows []publication.Stub
	doc.Find(CardSelector).Each(func(_ int, card *goquery.Selection) {
		a := card.Find(CardLinkSelector).First()
		if a.Length() == 0 {
			return
		}
		title := browser.Text(a)
		href, _ := a.Attr("href")
		link := browser.ResolveURL(base, href)
		if title == "" || link == "" {
			return
		}
		rows = append(rows, publication.Stub{Title: title, Link: link})
	})
	return rows
}
