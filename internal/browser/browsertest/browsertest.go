// Package browsertest provides an in-memory browser.Opener for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/publication-harvester/internal/browser"
)

// Site maps URLs to canned HTML. Unknown URLs render an empty page.
type Site struct {
	mu     sync.Mutex
	pages  map[string]string
	fail   map[string]error
	visits []string
}

// NewSite returns a Site serving pages.
func NewSite(pages map[string]string) *Site {
	s := &Site{pages: map[string]string{}, fail: map[string]error{}}
	for k, v := range pages {
		s.pages[k] = v
	}
	return s
}

// Set serves html at rawURL.
func (s *Site) Set(rawURL, html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[rawURL] = html
}

// Fail makes navigation to rawURL return err.
func (s *Site) Fail(rawURL string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[rawURL] = err
}

// Visits returns every URL navigated to, in order.
func (s *Site) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// Visited reports whether rawURL was requested.
func (s *Site) Visited(rawURL string) bool {
	for _, v := range s.Visits() {
		if v == rawURL {
			return true
		}
	}
	return false
}

func (s *Site) load(rawURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits = append(s.visits, rawURL)
	if err := s.fail[rawURL]; err != nil {
		return "", err
	}
	if html, ok := s.pages[rawURL]; ok {
		return html, nil
	}
	return "<html><head></head><body></body></html>", nil
}

// Opener hands out Sessions bound to a Site.
type Opener struct {
	Site *Site
	// OpenErr, when set, decides whether the n-th Open (zero based) fails.
	OpenErr func(n int) error
	// CloseErr, when set, supplies the error the n-th opened session
	// returns from Close. The session is closed either way.
	CloseErr func(n int) error

	mu       sync.Mutex
	opened   int
	sessions []*Session
}

// NewOpener returns an Opener for site.
func NewOpener(site *Site) *Opener {
	return &Opener{Site: site}
}

// Open implements browser.Opener.
func (o *Opener) Open(_ context.Context, headless bool) (browser.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := o.opened
	o.opened++
	if o.OpenErr != nil {
		if err := o.OpenErr(n); err != nil {
			return nil, err
		}
	}
	s := &Session{site: o.Site, Headless: headless}
	if o.CloseErr != nil {
		s.closeErr = o.CloseErr(len(o.sessions))
	}
	o.sessions = append(o.sessions, s)
	return s, nil
}

// Sessions returns every session opened so far.
func (o *Opener) Sessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Session(nil), o.sessions...)
}

// Session is a fake browser.Session.
type Session struct {
	Headless bool

	site       *Site
	closeErr   error
	mu         sync.Mutex
	current    browser.Snapshot
	closed     bool
	consents   int
	expansions int
}

var _ browser.Session = (*Session)(nil)

// Navigate implements browser.Session.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrSessionClosed
	}
	html, err := s.site.load(rawURL)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	s.current = browser.Snapshot{URL: rawURL, HTML: html}
	return nil
}

// WaitReady implements browser.Session.
func (s *Session) WaitReady(_ context.Context, _ time.Duration, ready browser.Readiness) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && ready.MatchHTML(s.current.HTML)
}

// AcceptConsent implements browser.Session.
func (s *Session) AcceptConsent(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents++
}

// ExpandAuthors implements browser.Session.
func (s *Session) ExpandAuthors(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expansions++
}

// Snapshot implements browser.Session.
func (s *Session) Snapshot(context.Context) (browser.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.Snapshot{}, browser.ErrSessionClosed
	}
	return s.current, nil
}

// Close implements browser.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed twice")
	}
	s.closed = true
	return s.closeErr
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Consents reports how many times AcceptConsent ran.
func (s *Session) Consents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consents
}

// Expansions reports how many times ExpandAuthors ran.
func (s *Session) Expansions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expansions
}
