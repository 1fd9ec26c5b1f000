package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/pet-price-crawler/internal/browser"
	"github.com/maltedev/pet-price-crawler/internal/metrics"
	"github.com/maltedev/pet-price-crawler/internal/ratelimit"
)

// Config wires a Scraper. Zero values fall back to the crawl defaults.
type Config struct {
	Browser     *browser.Options
	UserAgents  []string
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	// MinPace and MaxPace bound the pause after a page load that does not
	// set its own with WithPace.
	MinPace time.Duration
	MaxPace time.Duration

	// Launcher starts the browser; nil means a real playwright Chromium.
	Launcher browser.Launcher
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Scraper turns a URL and a CSS selector into a parsed document. Calls are
// serialized: one page is loaded at a time, in the order they were issued.
type Scraper struct {
	mu sync.Mutex

	session   *browser.Session
	identity  *browser.Identity
	simulator *browser.Simulator
	retry     *RetryPolicy
	pacer     *ratelimit.Pacer
	minPace   time.Duration
	maxPace   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger

	navigationTimeout time.Duration
}

func New(cfg Config) *Scraper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := cfg.Browser
	if opts == nil {
		opts = browser.DefaultOptions()
	}
	navTimeout := opts.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = DefaultRequestTimeout
	}

	minPace, maxPace := cfg.MinPace, cfg.MaxPace
	if minPace <= 0 {
		minPace = DefaultMinPace
	}
	if maxPace <= 0 {
		maxPace = DefaultMaxPace
	}
	if maxPace < minPace {
		maxPace = minPace
	}

	identity := browser.NewIdentity(cfg.UserAgents)
	retry := NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffMin, cfg.BackoffMax, logger)
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		cfg.Metrics.ObserveBackoff(delay)
	}

	return &Scraper{
		session:           browser.NewSession(opts, identity, cfg.Launcher, logger),
		identity:          identity,
		simulator:         browser.NewSimulator(opts.ViewportWidth, opts.ViewportHeight, logger),
		retry:             retry,
		pacer:             ratelimit.NewPacer(logger),
		minPace:           minPace,
		maxPace:           maxPace,
		metrics:           cfg.Metrics,
		logger:            logger.With("component", "scraper"),
		navigationTimeout: navTimeout,
	}
}

// Fetch loads url, waits for selector and returns the rendered document, or
// nil when the page was skipped or every attempt failed. It always paces
// before returning.
func (s *Scraper) Fetch(ctx context.Context, url, selector string, opts ...Option) *goquery.Document {
	return s.FetchOutcome(ctx, url, selector, opts...).Document
}

// FetchOutcome is Fetch with the tagged result exposed.
func (s *Scraper) FetchOutcome(ctx context.Context, url, selector string, opts ...Option) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts = append([]Option{WithPace(s.minPace, s.maxPace)}, opts...)
	req := NewRequest(url, selector, opts...)
	outcome := s.execute(ctx, req)

	delay := s.pacer.Pace(ctx, req.MinPace, req.MaxPace)
	s.metrics.ObservePace(delay)

	return outcome
}

// Pace sleeps a random duration in [min, max], for extractors that issue
// their own non-browser requests.
func (s *Scraper) Pace(ctx context.Context, min, max time.Duration) time.Duration {
	delay := s.pacer.Pace(ctx, min, max)
	s.metrics.ObservePace(delay)
	return delay
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Scraper) Close() error {
	return s.session.Close()
}

func (s *Scraper) execute(ctx context.Context, req FetchRequest) Outcome {
	start := time.Now()

	if err := req.validate(); err != nil {
		s.logger.Error("rejecting fetch request", "error", err)
		s.metrics.ObserveOutcome(OutcomeFailed.String(), time.Since(start))
		return Outcome{Kind: OutcomeFailed, Err: err}
	}

	if s.session.Closed() {
		s.logger.Error("fetch issued after scraper was closed", "url", req.URL)
		s.metrics.ObserveOutcome(OutcomeFailed.String(), time.Since(start))
		return Outcome{Kind: OutcomeFailed, Err: browser.ErrSessionClosed}
	}

	var doc *goquery.Document
	attempts, err := s.retry.Do(ctx, func(ctx context.Context) error {
		d, err := s.fetchOnce(ctx, req)
		s.metrics.ObserveAttempt(attemptResult(err))
		if err != nil {
			return err
		}
		doc = d
		return nil
	})

	var outcome Outcome
	switch {
	case err == nil:
		outcome = Outcome{Kind: OutcomeDocument, Document: doc, Attempts: attempts}
	case IsSkip(err):
		s.logger.Warn("skipping scrape", "url", req.URL, "error", err)
		outcome = Outcome{Kind: OutcomeSkipped, Err: err, Attempts: attempts}
	default:
		s.logger.Error("failed to scrape", "url", req.URL, "attempts", attempts, "error", err)
		outcome = Outcome{Kind: OutcomeFailed, Err: err, Attempts: attempts}
	}

	s.metrics.ObserveOutcome(outcome.Kind.String(), time.Since(start))
	return outcome
}

// fetchOnce performs a single navigation attempt. Every error it returns is
// a *SkipError or a *TransientError.
func (s *Scraper) fetchOnce(ctx context.Context, req FetchRequest) (doc *goquery.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during fetch: %v", r)
		}
		if err != nil {
			doc = nil
		}
		err = classify(req.URL, err)
	}()

	bc, err := s.session.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	page, err := bc.NewPage()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			s.logger.Error("error closing page", "url", req.URL, "error", cerr)
		}
	}()

	page.SetTimeouts(req.Timeout, s.navigationTimeout)

	if err := page.SetExtraHTTPHeaders(s.identity.Headers(req.Headers)); err != nil {
		return nil, fmt.Errorf("failed to set headers: %w", err)
	}

	waitUntil := req.WaitUntil
	if !waitUntil.Valid() {
		s.logger.Warn("invalid wait_until, defaulting to domcontentloaded", "wait_until", string(waitUntil))
		waitUntil = browser.WaitUntilDOMContentLoaded
	}

	s.logger.Info("navigating", "url", req.URL, "wait_until", string(waitUntil))

	resp, err := page.Goto(req.URL, waitUntil, s.navigationTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to navigate: %w", err)
	}
	if resp == nil {
		return nil, ErrNoResponse
	}
	if resp.Status >= 400 {
		return nil, &SkipError{URL: req.URL, Status: resp.Status}
	}

	s.logger.Info("waiting for selector", "selector", req.Selector)
	if err := page.WaitForSelector(req.Selector, req.Timeout); err != nil {
		if errors.Is(err, browser.ErrSelectorTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("timeout waiting for selector %q: %w", req.Selector, err)
	}

	if req.SimulateBehavior {
		s.simulator.Simulate(ctx, page)
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to get page content: %w", err)
	}

	doc, err = goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}

	s.logger.Info("successfully extracted content", "url", req.URL)
	return doc, nil
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsSkip(err):
		return "skip"
	default:
		return "transient"
	}
}

// WithScraper runs fn with a fresh Scraper and closes its browser on every
// exit path, including panics. Close failures are logged, not returned.
func WithScraper(ctx context.Context, cfg Config, fn func(s *Scraper) error) error {
	s := New(cfg)
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("error closing browser", "error", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s)
}

// ScrapeURL fetches a single page in its own browser scope.
func ScrapeURL(ctx context.Context, cfg Config, url, selector string, opts ...Option) *goquery.Document {
	var doc *goquery.Document
	_ = WithScraper(ctx, cfg, func(s *Scraper) error {
		doc = s.Fetch(ctx, url, selector, opts...)
		return nil
	})
	return doc
}
