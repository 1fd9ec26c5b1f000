// Package shops holds the per-site extractors: how to discover product URLs
// for a category and how to turn a product page into priced rows.
package shops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/maltedev/pet-price-crawler/internal/models"
	"github.com/maltedev/pet-price-crawler/internal/scraper"
)

var (
	ErrUnknownShop = errors.New("shop is not supported")
	// ErrNoDocument means the fetch engine gave up on a listing page.
	ErrNoDocument = errors.New("no document returned")
	// ErrMissingField means a product page lacked a required element.
	ErrMissingField = errors.New("missing field")
)

// Fetcher is the part of the fetch engine extractors use. *scraper.Scraper
// implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url, selector string, opts ...scraper.Option) *goquery.Document
	Pace(ctx context.Context, min, max time.Duration) time.Duration
}

type Shop interface {
	Name() string
	BaseURL() string
	// Extract returns the product URLs listed under category.
	Extract(ctx context.Context, f Fetcher, category string) ([]string, error)
	// Transform parses a product page into one row per variant.
	Transform(ctx context.Context, doc *goquery.Document, url string) ([]models.ProductRow, error)
	ProductSelector() string
	ProductPace() (min, max time.Duration)
}

type Registry struct {
	shops map[string]Shop
}

func NewRegistry(shops ...Shop) *Registry {
	r := &Registry{shops: make(map[string]Shop, len(shops))}
	for _, s := range shops {
		r.shops[s.Name()] = s
	}
	return r
}

// DefaultRegistry returns every shop the crawler ships with.
func DefaultRegistry(client *resty.Client, logger *slog.Logger) *Registry {
	return NewRegistry(
		NewBernPetFoods(client, logger),
		NewZooplus(client, logger),
	)
}

func (r *Registry) Get(name string) (Shop, error) {
	s, ok := r.shops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShop, name)
	}
	return s, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.shops))
	for name := range r.shops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewHTTPClient returns the resty client shared by extractors that call shop
// JSON APIs directly.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
}
