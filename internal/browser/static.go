package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Static is a Session that fetches raw HTML with colly and never runs
// scripts. Consent and author expansion are no-ops.
type Static struct {
	cfg       Config
	logger    *zap.Logger
	collector *colly.Collector
	current   Snapshot
	closed    bool
}

// StaticOpener creates Static sessions that share one HTTP transport.
type StaticOpener struct {
	cfg       Config
	logger    *zap.Logger
	transport http.RoundTripper
}

// NewStaticOpener returns an Opener for the static engine.
func NewStaticOpener(cfg Config, logger *zap.Logger) *StaticOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticOpener{cfg: cfg.WithDefaults(), logger: logger, transport: newHTTPTransport()}
}

// Open implements Opener. headless has no meaning for this engine.
func (o *StaticOpener) Open(_ context.Context, _ bool) (Session, error) {
	c := colly.NewCollector(
		colly.Async(false),
		colly.UserAgent(o.cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.WithTransport(o.transport)
	c.SetRequestTimeout(o.cfg.PageLoadTimeout)
	return &Static{cfg: o.cfg, logger: o.logger, collector: c}, nil
}

// Navigate implements Session.
func (s *Static) Navigate(ctx context.Context, rawURL string) error {
	if s.closed {
		return ErrSessionClosed
	}
	var (
		snap   = Snapshot{URL: rawURL}
		regErr error
	)
	c := s.collector.Clone()
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	c.OnResponse(func(r *colly.Response) {
		snap = Snapshot{URL: r.Request.URL.String(), HTML: string(r.Body)}
	})
	c.OnError(func(_ *colly.Response, err error) {
		regErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(rawURL)
	}()

	var err error
	select {
	case <-ctx.Done():
		return fmt.Errorf("navigate %s: %w", rawURL, ctx.Err())
	case err = <-done:
	}
	if err == nil {
		err = regErr
	}
	s.current = snap
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Warn("page load timed out; continuing with partial DOM",
			zap.String("url", rawURL),
			zap.Duration("timeout", s.cfg.PageLoadTimeout),
		)
		return nil
	}
	return fmt.Errorf("navigate %s: %w", rawURL, err)
}

// WaitReady implements Session. The static DOM never changes, so this is a
// single check.
func (s *Static) WaitReady(_ context.Context, _ time.Duration, ready Readiness) bool {
	if s.closed {
		return false
	}
	return ready.MatchHTML(s.current.HTML)
}

// AcceptConsent implements Session.
func (s *Static) AcceptConsent(context.Context) {}

// ExpandAuthors implements Session.
func (s *Static) ExpandAuthors(context.Context) {}

// Snapshot implements Session.
func (s *Static) Snapshot(context.Context) (Snapshot, error) {
	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	return s.current, nil
}

// Close implements Session.
func (s *Static) Close() error {
	s.closed = true
	s.current = Snapshot{}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
