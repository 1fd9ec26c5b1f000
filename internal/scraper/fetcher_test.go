package scraper_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/pet-price-crawler/internal/browser"
	"github.com/maltedev/pet-price-crawler/internal/browser/browsertest"
	"github.com/maltedev/pet-price-crawler/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productHTML = `<html><body><div class="product-title">Dog Food 12kg</div></body></html>`

// recordingTimer satisfies backoff.Timer and fires immediately.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func (t *recordingTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

type paceRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *paceRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *paceRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

type harness struct {
	bc       *browsertest.Context
	launcher *browsertest.Launcher
	timer    *recordingTimer
	pace     *paceRecorder
}

func newHarness(visits ...browsertest.Visit) *harness {
	bc := browsertest.NewContext(visits...)
	return &harness{
		bc:       bc,
		launcher: &browsertest.Launcher{Context: bc},
		timer:    newRecordingTimer(),
		pace:     &paceRecorder{},
	}
}

func (h *harness) config() scraper.Config {
	return scraper.Config{
		UserAgents: []string{"test-agent"},
		Launcher:   h.launcher.Launch,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (h *harness) scraper(t *testing.T) *scraper.Scraper {
	t.Helper()
	s := scraper.New(h.config())
	scraper.Instrument(s, h.timer, h.pace.sleep)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFetchReturnsDocument(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	s := h.scraper(t)

	out := s.FetchOutcome(context.Background(), "https://www.bernpetfoods.de/dog", ".product-title")

	require.True(t, out.OK())
	require.NotNil(t, out.Document)
	assert.Equal(t, 1, out.Attempts)
	assert.NoError(t, out.Err)
	assert.Equal(t, "Dog Food 12kg", out.Document.Find(".product-title").Text())

	assert.Empty(t, h.timer.Delays())
	assert.Len(t, h.pace.Delays(), 1)

	page := h.bc.Pages[0]
	assert.Equal(t, "https://www.bernpetfoods.de/dog", page.URL)
	assert.Equal(t, ".product-title", page.Selector)
	assert.Equal(t, browser.WaitUntilDOMContentLoaded, page.WaitUntil)
	assert.Equal(t, scraper.DefaultRequestTimeout, page.RequestTimeout)
	assert.Equal(t, 1, page.Closed)
	assert.Positive(t, page.MouseEvents().Wheels, "behavior simulation runs by default")
}

func TestFetchSkipsHTTPErrors(t *testing.T) {
	for _, status := range []int{400, 403, 404, 500, 503} {
		h := newHarness(browsertest.Visit{Status: status, HTML: productHTML})
		s := h.scraper(t)

		out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", "body")

		assert.Equal(t, scraper.OutcomeSkipped, out.Kind, "status %d", status)
		assert.Nil(t, out.Document)
		assert.Equal(t, 1, out.Attempts)
		assert.True(t, scraper.IsSkip(out.Err))
		assert.Equal(t, 1, h.bc.Attempts())
		assert.Empty(t, h.timer.Delays(), "no backoff for status %d", status)
		assert.Len(t, h.pace.Delays(), 1)

		var skip *scraper.SkipError
		require.ErrorAs(t, out.Err, &skip)
		assert.Equal(t, status, skip.Status)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Run("exhausts attempts", func(t *testing.T) {
		h := newHarness(browsertest.Visit{Status: 200, SelectorErr: browser.ErrSelectorTimeout})
		s := h.scraper(t)

		doc := s.Fetch(context.Background(), "https://shop.example/p/1", ".missing")

		assert.Nil(t, doc)
		assert.Equal(t, scraper.DefaultMaxAttempts, h.bc.Attempts())
		assert.Equal(t, []time.Duration{
			2 * time.Second,
			4 * time.Second,
			5 * time.Second,
			5 * time.Second,
		}, h.timer.Delays())
		assert.Len(t, h.pace.Delays(), 1)
		assert.Equal(t, 1, h.launcher.Launches)
	})

	t.Run("recovers on third attempt", func(t *testing.T) {
		h := newHarness(
			browsertest.Visit{Status: 200, SelectorErr: browser.ErrSelectorTimeout},
			browsertest.Visit{NoResponse: true},
			browsertest.Visit{Status: 200, HTML: productHTML},
		)
		s := h.scraper(t)

		out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", ".product-title")

		require.True(t, out.OK())
		assert.Equal(t, 3, out.Attempts)
		assert.Equal(t, 3, h.bc.Attempts())
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.timer.Delays())
		assert.Len(t, h.pace.Delays(), 1)
	})

	t.Run("skip after transient stops retrying", func(t *testing.T) {
		h := newHarness(
			browsertest.Visit{GotoErr: errors.New("net::ERR_CONNECTION_RESET")},
			browsertest.Visit{Status: 404},
		)
		s := h.scraper(t)

		out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", "body")

		assert.Equal(t, scraper.OutcomeSkipped, out.Kind)
		assert.Equal(t, 2, out.Attempts)
		assert.Equal(t, []time.Duration{2 * time.Second}, h.timer.Delays())
	})
}

func TestFetchTreatsEveryFaultAsTransient(t *testing.T) {
	tests := []struct {
		name  string
		visit browsertest.Visit
	}{
		{"navigation error", browsertest.Visit{GotoErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}},
		{"no response", browsertest.Visit{NoResponse: true}},
		{"selector timeout", browsertest.Visit{Status: 200, SelectorErr: browser.ErrSelectorTimeout}},
		{"selector error", browsertest.Visit{Status: 200, SelectorErr: errors.New("frame detached")}},
		{"content error", browsertest.Visit{Status: 200, ContentErr: errors.New("target closed")}},
		{"driver panic", browsertest.Visit{GotoPanic: "driver crashed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.visit)
			s := h.scraper(t)

			out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", "body")

			assert.Equal(t, scraper.OutcomeFailed, out.Kind)
			assert.Nil(t, out.Document)
			assert.True(t, scraper.IsTransient(out.Err))
			assert.Equal(t, scraper.DefaultMaxAttempts, out.Attempts)
			assert.Len(t, h.timer.Delays(), scraper.DefaultMaxAttempts-1)

			for i, page := range h.bc.Pages {
				assert.Equal(t, 1, page.Closed, "page %d closed", i)
			}
		})
	}
}

func TestFetchPacesWithinBounds(t *testing.T) {
	visits := []browsertest.Visit{
		{Status: 200, HTML: productHTML},
		{Status: 404},
		{NoResponse: true},
	}

	for _, v := range visits {
		h := newHarness(v)
		s := h.scraper(t)

		for i := 0; i < 5; i++ {
			s.Fetch(context.Background(), "https://shop.example/p/1", "body",
				scraper.WithPace(3*time.Second, 4*time.Second))
		}

		delays := h.pace.Delays()
		require.Len(t, delays, 5)
		for _, d := range delays {
			assert.GreaterOrEqual(t, d, 3*time.Second)
			assert.LessOrEqual(t, d, 4*time.Second)
		}
	}
}

func TestFetchRequestOptions(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	s := h.scraper(t)

	out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", ".product-title",
		scraper.WithTimeout(15*time.Second),
		scraper.WithWaitUntil(browser.WaitUntilNetworkIdle),
		scraper.WithSimulateBehavior(false),
		scraper.WithHeaders(map[string]string{"Referer": "https://shop.example/", "Accept-Language": "de-DE"}),
	)
	require.True(t, out.OK())

	page := h.bc.Pages[0]
	assert.Equal(t, 15*time.Second, page.RequestTimeout)
	assert.Equal(t, browser.WaitUntilNetworkIdle, page.WaitUntil)
	assert.Zero(t, page.MouseEvents().Wheels)
	assert.Empty(t, page.MouseEvents().Actions)
	assert.Equal(t, "https://shop.example/", page.Headers["Referer"])
	assert.Equal(t, "de-DE", page.Headers["Accept-Language"])
	assert.Contains(t, page.Headers, "Sec-Ch-Ua")
}

func TestFetchInvalidWaitModeFallsBack(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	s := h.scraper(t)

	out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", "body",
		scraper.WithWaitUntil("whenever"))

	require.True(t, out.OK())
	assert.Equal(t, browser.WaitUntilDOMContentLoaded, h.bc.Pages[0].WaitUntil)
}

func TestFetchRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		selector string
	}{
		{"relative url", "/products/1", "body"},
		{"empty url", "", "body"},
		{"empty selector", "https://shop.example/p/1", "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			s := h.scraper(t)

			out := s.FetchOutcome(context.Background(), tt.url, tt.selector)

			assert.Equal(t, scraper.OutcomeFailed, out.Kind)
			assert.ErrorIs(t, out.Err, scraper.ErrInvalidRequest)
			assert.Zero(t, h.launcher.Launches)
			assert.Len(t, h.pace.Delays(), 1)
		})
	}
}

func TestFetchReusesBrowserAcrossCalls(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	s := h.scraper(t)

	for i := 0; i < 3; i++ {
		require.NotNil(t, s.Fetch(context.Background(), "https://shop.example/p/1", "body"))
	}

	assert.Equal(t, 1, h.launcher.Launches)
	assert.Equal(t, 3, h.bc.Attempts())
	assert.Zero(t, h.bc.Closed)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, h.bc.Closed)
}

func TestFetchLaunchFailureIsRetried(t *testing.T) {
	h := newHarness()
	h.launcher.Err = errors.New("chromium not installed")
	s := h.scraper(t)

	out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", "body")

	assert.Equal(t, scraper.OutcomeFailed, out.Kind)
	assert.Equal(t, scraper.DefaultMaxAttempts, h.launcher.Launches)
	assert.Contains(t, out.Err.Error(), "failed to initialize browser context")
}

func TestFetchAfterClose(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	s := h.scraper(t)
	require.NoError(t, s.Close())

	out := s.FetchOutcome(context.Background(), "https://shop.example/p/1", "body")

	assert.Equal(t, scraper.OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, browser.ErrSessionClosed)
	assert.Zero(t, h.launcher.Launches)
	assert.Empty(t, h.timer.Delays())
}

func TestFetchCancelledContext(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	s := h.scraper(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.FetchOutcome(ctx, "https://shop.example/p/1", "body")

	assert.Equal(t, scraper.OutcomeFailed, out.Kind)
	assert.Nil(t, out.Document)
	assert.Len(t, h.pace.Delays(), 1)
}

func TestWithScraperClosesBrowser(t *testing.T) {
	tests := []struct {
		name  string
		visit browsertest.Visit
	}{
		{"document", browsertest.Visit{Status: 200, HTML: productHTML}},
		{"skip", browsertest.Visit{Status: 404}},
		{"exhausted", browsertest.Visit{NoResponse: true}},
		{"driver panic", browsertest.Visit{GotoPanic: "boom"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.visit)

			err := scraper.WithScraper(context.Background(), h.config(), func(s *scraper.Scraper) error {
				scraper.Instrument(s, h.timer, h.pace.sleep)
				s.Fetch(context.Background(), "https://shop.example/p/1", "body")
				return nil
			})

			require.NoError(t, err)
			assert.Equal(t, 1, h.launcher.Launches)
			assert.Equal(t, 1, h.bc.Closed)
		})
	}
}

func TestWithScraperClosesOnError(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	h.bc.CloseErr = errors.New("browser already gone")
	wantErr := errors.New("extract failed")

	err := scraper.WithScraper(context.Background(), h.config(), func(s *scraper.Scraper) error {
		scraper.Instrument(s, h.timer, h.pace.sleep)
		s.Fetch(context.Background(), "https://shop.example/p/1", "body")
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, h.bc.Closed)
}

func TestWithScraperClosesOnPanic(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})

	assert.Panics(t, func() {
		_ = scraper.WithScraper(context.Background(), h.config(), func(s *scraper.Scraper) error {
			scraper.Instrument(s, h.timer, h.pace.sleep)
			s.Fetch(context.Background(), "https://shop.example/p/1", "body")
			panic("caller bug")
		})
	})
	assert.Equal(t, 1, h.bc.Closed)
}

func TestWithScraperNeverLaunchedIsNotClosed(t *testing.T) {
	h := newHarness()

	err := scraper.WithScraper(context.Background(), h.config(), func(s *scraper.Scraper) error {
		return nil
	})

	require.NoError(t, err)
	assert.Zero(t, h.launcher.Launches)
	assert.Zero(t, h.bc.Closed)
}

func TestFetchUsesConfiguredPace(t *testing.T) {
	h := newHarness(
		browsertest.Visit{Status: 200, HTML: productHTML},
		browsertest.Visit{Status: 200, HTML: productHTML},
	)
	cfg := h.config()
	cfg.MinPace = 700 * time.Millisecond
	cfg.MaxPace = 700 * time.Millisecond
	s := scraper.New(cfg)
	scraper.Instrument(s, h.timer, h.pace.sleep)
	t.Cleanup(func() { _ = s.Close() })

	require.NotNil(t, s.Fetch(context.Background(), "https://shop.example/p/1", ".product-title"))
	require.NotNil(t, s.Fetch(context.Background(), "https://shop.example/p/2", ".product-title",
		scraper.WithPace(time.Second, time.Second)))

	assert.Equal(t, []time.Duration{700 * time.Millisecond, time.Second}, h.pace.Delays())
}

func TestFetchDefaultPaceRange(t *testing.T) {
	h := newHarness(browsertest.Visit{Status: 200, HTML: productHTML})
	s := h.scraper(t)

	require.NotNil(t, s.Fetch(context.Background(), "https://shop.example/p/1", ".product-title"))

	delays := h.pace.Delays()
	require.Len(t, delays, 1)
	assert.GreaterOrEqual(t, delays[0], scraper.DefaultMinPace)
	assert.LessOrEqual(t, delays[0], scraper.DefaultMaxPace)
}
