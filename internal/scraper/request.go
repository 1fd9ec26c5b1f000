package scraper

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/pet-price-crawler/internal/browser"
)

const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultMinPace        = 2 * time.Second
	DefaultMaxPace        = 5 * time.Second
)

// FetchRequest describes one page to load. It is built by NewRequest and not
// modified afterwards.
type FetchRequest struct {
	URL              string
	Selector         string
	Timeout          time.Duration
	WaitUntil        browser.WaitUntil
	SimulateBehavior bool
	Headers          map[string]string
	MinPace          time.Duration
	MaxPace          time.Duration
}

type Option func(*FetchRequest)

func WithTimeout(d time.Duration) Option {
	return func(r *FetchRequest) { r.Timeout = d }
}

func WithWaitUntil(w browser.WaitUntil) Option {
	return func(r *FetchRequest) { r.WaitUntil = w }
}

func WithSimulateBehavior(enabled bool) Option {
	return func(r *FetchRequest) { r.SimulateBehavior = enabled }
}

func WithHeaders(headers map[string]string) Option {
	return func(r *FetchRequest) {
		for k, v := range headers {
			r.Headers[k] = v
		}
	}
}

func WithPace(min, max time.Duration) Option {
	return func(r *FetchRequest) {
		r.MinPace = min
		r.MaxPace = max
	}
}

func NewRequest(rawURL, selector string, opts ...Option) FetchRequest {
	req := FetchRequest{
		URL:              rawURL,
		Selector:         selector,
		Timeout:          DefaultRequestTimeout,
		WaitUntil:        browser.WaitUntilDOMContentLoaded,
		SimulateBehavior: true,
		Headers:          map[string]string{},
		MinPace:          DefaultMinPace,
		MaxPace:          DefaultMaxPace,
	}

	for _, opt := range opts {
		opt(&req)
	}

	if req.Timeout <= 0 {
		req.Timeout = DefaultRequestTimeout
	}

	return req
}

func (r FetchRequest) validate() error {
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: url %q is not absolute", ErrInvalidRequest, r.URL)
	}
	if strings.TrimSpace(r.Selector) == "" {
		return fmt.Errorf("%w: empty selector for %s", ErrInvalidRequest, r.URL)
	}
	return nil
}
