package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	readyPollInterval = 200 * time.Millisecond
	clickSettle       = 250 * time.Millisecond
	maxExpandClicks   = 2
)

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

const clickConsentScript = `(() => {
  const b = document.querySelector("` + ConsentButtonSelector + `");
  if (!b) return false;
  b.click();
  return true;
})()`

const expandAuthorsScript = `(() => {
  const buttons = Array.from(document.querySelectorAll("button"))
    .filter(b => /show|more/i.test(b.textContent || ""))
    .slice(0, 2);
  let clicked = 0;
  for (const b of buttons) {
    try { b.scrollIntoView({block: "center"}); b.click(); clicked++; } catch (e) {}
  }
  return clicked;
})()`

const outerHTMLScript = `document.documentElement.outerHTML`

// Chromedp is a Session backed by its own Chrome process.
type Chromedp struct {
	cfg         Config
	logger      *zap.Logger
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	current     string
	closed      bool
}

// ChromedpOpener launches one Chrome process per session.
type ChromedpOpener struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedpOpener returns an Opener for Chrome sessions.
func NewChromedpOpener(cfg Config, logger *zap.Logger) *ChromedpOpener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpOpener{cfg: cfg.WithDefaults(), logger: logger}
}

// Open implements Opener.
func (o *ChromedpOpener) Open(ctx context.Context, headless bool) (Session, error) {
	return OpenChromedp(ctx, o.cfg, headless, o.logger)
}

// OpenChromedp starts Chrome and prepares a tab with the stealth overrides.
// The browser lives until Close or until ctx is canceled.
func OpenChromedp(ctx context.Context, cfg Config, headless bool, logger *zap.Logger) (*Chromedp, error) {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(cfg, headless)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Chromedp{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
	}
	chromedp.ListenTarget(tabCtx, s.dismissDialogs)

	// The first Run allocates the browser; it must not carry a timeout.
	if err := chromedp.Run(tabCtx, s.setupAction()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	logger.Debug("browser session opened", zap.Bool("headless", headless))
	return s, nil
}

func allocatorOptions(cfg Config, headless bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false), chromedp.Flag("hide-scrollbars", false))
	}
	return append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("lang", "en-US"),
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
}

func (s *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(hideWebdriverScript).Do(ctx); err != nil {
			return fmt.Errorf("install webdriver override: %w", err)
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).WithAcceptLanguage("en-US,en").Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		err := emulation.SetDeviceMetricsOverride(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

// dismissDialogs rejects native alert/confirm prompts so they never block a page.
func (s *Chromedp) dismissDialogs(ev any) {
	if _, ok := ev.(*page.EventJavascriptDialogOpening); !ok {
		return
	}
	go func() {
		if err := chromedp.Run(s.tabCtx, page.HandleJavaScriptDialog(false)); err != nil {
			s.logger.Debug("dismiss dialog failed", zap.Error(err))
		}
	}()
}

// scoped derives a tab context bounded by timeout that also ends with ctx.
func (s *Chromedp) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate implements Session.
func (s *Chromedp) Navigate(ctx context.Context, rawURL string) error {
	if s.closed {
		return ErrSessionClosed
	}
	runCtx, done := s.scoped(ctx, s.cfg.PageLoadTimeout)
	defer done()

	s.current = rawURL
	err := chromedp.Run(runCtx, chromedp.Navigate(rawURL))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && s.tabCtx.Err() == nil:
		s.logger.Warn("page load timed out; continuing with partial DOM",
			zap.String("url", rawURL),
			zap.Duration("timeout", s.cfg.PageLoadTimeout),
		)
		return nil
	default:
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
}

// WaitReady implements Session.
func (s *Chromedp) WaitReady(ctx context.Context, timeout time.Duration, ready Readiness) bool {
	if s.closed {
		return false
	}
	runCtx, done := s.scoped(ctx, timeout)
	defer done()

	script := ready.script()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		var ok bool
		if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &ok)); err == nil && ok {
			return true
		}
		select {
		case <-runCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// AcceptConsent implements Session.
func (s *Chromedp) AcceptConsent(ctx context.Context) {
	if !s.WaitReady(ctx, s.cfg.ConsentTimeout, Readiness{Selectors: []string{ConsentButtonSelector}}) {
		return
	}
	runCtx, done := s.scoped(ctx, s.cfg.ConsentTimeout)
	defer done()
	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(clickConsentScript, &clicked)); err != nil {
		s.logger.Debug("consent click failed", zap.Error(err))
		return
	}
	if clicked {
		pause(ctx, clickSettle)
	}
}

// ExpandAuthors implements Session.
func (s *Chromedp) ExpandAuthors(ctx context.Context) {
	if s.closed {
		return
	}
	runCtx, done := s.scoped(ctx, s.cfg.ConsentTimeout)
	defer done()
	var clicked int
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expandAuthorsScript, &clicked)); err != nil {
		s.logger.Debug("expand authors failed", zap.Error(err))
		return
	}
	pause(ctx, time.Duration(min(clicked, maxExpandClicks))*clickSettle)
}

// Snapshot implements Session.
func (s *Chromedp) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.closed {
		return Snapshot{}, ErrSessionClosed
	}
	runCtx, done := s.scoped(ctx, s.cfg.PageLoadTimeout)
	defer done()

	var html, location string
	if err := chromedp.Run(runCtx,
		chromedp.Evaluate(outerHTMLScript, &html),
		chromedp.Location(&location),
	); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", s.current, err)
	}
	if location == "" || location == "about:blank" {
		location = s.current
	}
	return Snapshot{URL: location, HTML: html}, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Chromedp) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := chromedp.Cancel(s.tabCtx)
	s.tabCancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
