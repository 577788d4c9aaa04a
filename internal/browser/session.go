// Package browser owns the browser sessions the harvester drives. A Session
// is exclusively owned by one goroutine for its whole life and must be closed
// on every exit path.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("browser session closed")

// ConsentButtonSelector locates the cookie banner accept button.
const ConsentButtonSelector = "#onetrust-accept-btn-handler"

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"

// Config controls session behaviour shared by every engine.
type Config struct {
	UserAgent       string
	PageLoadTimeout time.Duration
	ConsentTimeout  time.Duration
	ViewportWidth   int
	ViewportHeight  int
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 45 * time.Second
	}
	if c.ConsentTimeout <= 0 {
		c.ConsentTimeout = 6 * time.Second
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		c.ViewportWidth, c.ViewportHeight = 1366, 900
	}
	return c
}

// Session is one isolated browser context.
type Session interface {
	// Navigate loads rawURL. A page-load timeout is not an error; the
	// session keeps whatever DOM has been built so far.
	Navigate(ctx context.Context, rawURL string) error
	// WaitReady blocks until ready matches or timeout elapses and reports
	// whether it matched.
	WaitReady(ctx context.Context, timeout time.Duration, ready Readiness) bool
	// AcceptConsent dismisses the cookie overlay if it shows up in time.
	AcceptConsent(ctx context.Context)
	// ExpandAuthors clicks "show more" style controls, best effort.
	ExpandAuthors(ctx context.Context)
	// Snapshot returns the current document.
	Snapshot(ctx context.Context) (Snapshot, error)
	Close() error
}

// Opener launches sessions.
type Opener interface {
	Open(ctx context.Context, headless bool) (Session, error)
}

// Readiness is satisfied when any selector matches or the markup contains Text.
type Readiness struct {
	Selectors []string
	Text      string
}

// MatchHTML evaluates the condition against a serialized document.
func (r Readiness) MatchHTML(html string) bool {
	if r.Text != "" && strings.Contains(html, r.Text) {
		return true
	}
	if len(r.Selectors) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	for _, sel := range r.Selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

// script renders the condition as a JavaScript predicate.
func (r Readiness) script() string {
	sels := r.Selectors
	if sels == nil {
		sels = []string{}
	}
	rawSels, _ := json.Marshal(sels)
	rawText, _ := json.Marshal(r.Text)
	return fmt.Sprintf(`(() => {
  for (const s of %s) {
    try { if (document.querySelector(s)) return true; } catch (e) {}
  }
  const t = %s;
  return t !== "" && document.documentElement.outerHTML.includes(t);
})()`, rawSels, rawText)
}

// pause sleeps for d unless ctx finishes first.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
