// Package etl runs the two halves of a shop crawl: collecting product links
// per category and scraping every collected product page into price rows.
package etl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/pet-price-crawler/internal/browser"
	"github.com/maltedev/pet-price-crawler/internal/database"
	"github.com/maltedev/pet-price-crawler/internal/events"
	"github.com/maltedev/pet-price-crawler/internal/metrics"
	"github.com/maltedev/pet-price-crawler/internal/models"
	"github.com/maltedev/pet-price-crawler/internal/scraper"
	"github.com/maltedev/pet-price-crawler/internal/shops"
)

type URLStore interface {
	ReplaceShopURLs(ctx context.Context, shop string, urls []string, event *database.OutboxEvent) (int64, error)
	UnscrapedURLs(ctx context.Context, shop string) ([]models.ProductURL, error)
	MarkURL(ctx context.Context, id int64, status models.URLStatus, at time.Time) error
}

type ProductStore interface {
	StageProducts(ctx context.Context, runID string, rows []models.ProductRow) (int64, error)
	PromoteStaged(ctx context.Context, runID string, event *database.OutboxEvent) (int64, error)
	PromoteShopStaged(ctx context.Context, shop string) (int64, error)
}

// SessionFunc runs fn against a fetcher whose browser lives exactly as long
// as the call.
type SessionFunc func(ctx context.Context, fn func(f shops.Fetcher) error) error

// ScraperSession opens one scraper scope per call.
func ScraperSession(cfg scraper.Config) SessionFunc {
	return func(ctx context.Context, fn func(f shops.Fetcher) error) error {
		return scraper.WithScraper(ctx, cfg, func(s *scraper.Scraper) error {
			return fn(s)
		})
	}
}

type Config struct {
	Shops         *shops.Registry
	URLs          URLStore
	Products      ProductStore
	Session       SessionFunc
	CategoriesDir string
	Stream        string
	// ProductPaceMin and ProductPaceMax replace every shop's product page
	// pace when both are set.
	ProductPaceMin time.Duration
	ProductPaceMax time.Duration
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

type Pipeline struct {
	shops         *shops.Registry
	urls          URLStore
	products      ProductStore
	session       SessionFunc
	categoriesDir string
	stream        string
	paceMin       time.Duration
	paceMax       time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stream := cfg.Stream
	if stream == "" {
		stream = database.DefaultTargetStream
	}

	return &Pipeline{
		shops:         cfg.Shops,
		urls:          cfg.URLs,
		products:      cfg.Products,
		session:       cfg.Session,
		categoriesDir: cfg.CategoriesDir,
		stream:        stream,
		paceMin:       cfg.ProductPaceMin,
		paceMax:       cfg.ProductPaceMax,
		metrics:       cfg.Metrics,
		logger:        logger.With("component", "etl"),
		now:           time.Now,
	}
}

// GetLinksByCategory replaces the stored product links of shop with the ones
// listed under its categories.
func (p *Pipeline) GetLinksByCategory(ctx context.Context, shop string) (*models.Run, error) {
	return p.adhoc(ctx, shop, models.RunModeLinks)
}

// GetProductInfos scrapes every unvisited product link of shop and stores the
// priced variants.
func (p *Pipeline) GetProductInfos(ctx context.Context, shop string) (*models.Run, error) {
	return p.adhoc(ctx, shop, models.RunModeProducts)
}

// adhoc executes a run that is not tracked in the run log.
func (p *Pipeline) adhoc(ctx context.Context, shop string, mode models.RunMode) (*models.Run, error) {
	now := p.now()
	run := &models.Run{
		ID:        uuid.New().String(),
		Shop:      shop,
		Mode:      mode,
		Status:    models.RunStatusRunning,
		CreatedAt: now,
		StartedAt: &now,
	}

	if err := p.Execute(ctx, run); err != nil {
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		return run, err
	}
	return run, nil
}

// Execute runs run's mode for run's shop and fills in its stats. On success
// the run is marked completed and its event is committed with the data.
func (p *Pipeline) Execute(ctx context.Context, run *models.Run) error {
	shop, err := p.shops.Get(run.Shop)
	if err != nil {
		return err
	}

	switch run.Mode {
	case models.RunModeLinks:
		return p.getLinksByCategory(ctx, shop, run)
	case models.RunModeProducts:
		return p.getProductInfos(ctx, shop, run)
	default:
		return fmt.Errorf("unknown run mode %q", run.Mode)
	}
}

func (p *Pipeline) getLinksByCategory(ctx context.Context, shop shops.Shop, run *models.Run) error {
	logger := p.logger.With("shop", shop.Name(), "run_id", run.ID)

	categories, err := LoadCategories(p.categoriesDir, shop.Name())
	if err != nil {
		return err
	}
	run.Stats.Categories = len(categories)

	seen := make(map[string]struct{})
	var links []string

	err = p.session(ctx, func(f shops.Fetcher) error {
		for _, category := range categories {
			if err := ctx.Err(); err != nil {
				return err
			}

			urls, err := shop.Extract(ctx, f, category)
			if err != nil {
				logger.Warn("failed to extract category", "category", category, "error", err)
				continue
			}

			for _, u := range urls {
				if _, dup := seen[u]; dup {
					continue
				}
				seen[u] = struct{}{}
				links = append(links, u)
			}
			logger.Info("category extracted", "category", category, "links", len(urls))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to extract links: %w", err)
	}

	run.Stats.LinksFound = len(links)

	event, err := p.completedEvent(run)
	if err != nil {
		return err
	}

	if _, err := p.urls.ReplaceShopURLs(ctx, shop.Name(), links, event); err != nil {
		return err
	}
	run.Status = models.RunStatusCompleted

	p.metrics.AddLinks(shop.Name(), len(links))
	logger.Info("links stored", "categories", len(categories), "links", len(links))
	return nil
}

func (p *Pipeline) getProductInfos(ctx context.Context, shop shops.Shop, run *models.Run) error {
	logger := p.logger.With("shop", shop.Name(), "run_id", run.ID)

	// Rows of a run that died after marking its URLs DONE are still staged.
	if recovered, err := p.products.PromoteShopStaged(ctx, shop.Name()); err != nil {
		logger.Warn("failed to promote leftover staged rows", "error", err)
	} else if recovered > 0 {
		logger.Info("promoted leftover staged rows", "rows", recovered)
	}

	pending, err := p.urls.UnscrapedURLs(ctx, shop.Name())
	if err != nil {
		return err
	}
	run.Stats.URLsTotal = len(pending)

	minPace, maxPace := p.pace(shop)

	err = p.session(ctx, func(f shops.Fetcher) error {
		for i, u := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}

			rows, err := p.scrapeProduct(ctx, f, shop, u.URL, minPace, maxPace)
			status := models.URLStatusDone
			if err != nil {
				logger.Warn("failed to scrape product", "url", u.URL, "error", err)
				status = models.URLStatusFailed
			}

			if len(rows) > 0 {
				staged, err := p.products.StageProducts(ctx, run.ID, rows)
				if err != nil {
					return err
				}
				run.Stats.RowsStaged += int(staged)
			}

			if err := p.urls.MarkURL(ctx, u.ID, status, p.now()); err != nil {
				return err
			}

			if status == models.URLStatusDone {
				run.Stats.URLsDone++
			} else {
				run.Stats.URLsFailed++
			}
			p.metrics.ObserveURL(shop.Name(), string(status))

			logger.Info("product processed",
				"url", u.URL,
				"status", status,
				"progress", fmt.Sprintf("%d of %d", i+1, len(pending)),
			)
		}
		return nil
	})
	if err != nil {
		p.salvage(ctx, run, logger)
		return fmt.Errorf("failed to scrape products: %w", err)
	}

	event, err := p.completedEvent(run)
	if err != nil {
		return err
	}

	promoted, err := p.products.PromoteStaged(ctx, run.ID, event)
	if err != nil {
		return err
	}
	run.Stats.RowsPromoted = int(promoted)
	run.Status = models.RunStatusCompleted

	logger.Info("products stored",
		"done", run.Stats.URLsDone,
		"failed", run.Stats.URLsFailed,
		"rows", run.Stats.RowsStaged,
	)
	return nil
}

// pace returns the pause between product pages of shop.
func (p *Pipeline) pace(shop shops.Shop) (time.Duration, time.Duration) {
	if p.paceMin > 0 && p.paceMax >= p.paceMin {
		return p.paceMin, p.paceMax
	}
	return shop.ProductPace()
}

// salvage promotes what an interrupted run staged so far. Its URLs are
// already marked DONE and would not be scraped again.
func (p *Pipeline) salvage(ctx context.Context, run *models.Run, logger *slog.Logger) {
	if run.Stats.RowsStaged == 0 {
		return
	}

	promoted, err := p.products.PromoteStaged(context.WithoutCancel(ctx), run.ID, nil)
	if err != nil {
		logger.Error("failed to promote staged rows of interrupted run",
			"rows", run.Stats.RowsStaged, "error", err)
		return
	}
	run.Stats.RowsPromoted = int(promoted)
	logger.Info("promoted staged rows of interrupted run", "rows", promoted)
}

// completedEvent announces run as completed with its current stats.
func (p *Pipeline) completedEvent(run *models.Run) (*database.OutboxEvent, error) {
	done := *run
	done.Status = models.RunStatusCompleted
	return events.NewRunEvent(&done, p.stream)
}

// scrapeProduct fetches one product page and transforms it. A nil document
// or a transform error fails the URL; the next products run retries it.
func (p *Pipeline) scrapeProduct(ctx context.Context, f shops.Fetcher, shop shops.Shop, url string, minPace, maxPace time.Duration) ([]models.ProductRow, error) {
	doc := f.Fetch(ctx, url, shop.ProductSelector(),
		scraper.WithWaitUntil(browser.WaitUntilLoad),
		scraper.WithPace(minPace, maxPace),
	)
	if doc == nil {
		return nil, shops.ErrNoDocument
	}

	rows, err := shop.Transform(ctx, doc, url)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows on %s", shops.ErrMissingField, url)
	}
	return rows, nil
}
