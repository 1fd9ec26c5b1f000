package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/maltedev/pet-price-crawler/internal/config"
	"github.com/maltedev/pet-price-crawler/internal/database"
	"github.com/maltedev/pet-price-crawler/internal/etl"
	"github.com/maltedev/pet-price-crawler/internal/events"
	"github.com/maltedev/pet-price-crawler/internal/jobs"
	"github.com/maltedev/pet-price-crawler/internal/metrics"
	"github.com/maltedev/pet-price-crawler/internal/scraper"
	"github.com/maltedev/pet-price-crawler/internal/shops"
	"github.com/maltedev/pet-price-crawler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *database.DB
	registry *shops.Registry
	metrics  *metrics.Metrics
	manager  *jobs.Manager
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry := shops.DefaultRegistry(shops.NewHTTPClient(cfg.Browser.Timeout), log)

	pipeline := etl.New(etl.Config{
		Shops:    registry,
		URLs:     database.NewURLRepository(db),
		Products: database.NewProductRepository(db),
		Session: etl.ScraperSession(scraper.Config{
			Browser:     cfg.BrowserOptions(),
			UserAgents:  cfg.Scraper.UserAgents,
			MaxAttempts: cfg.Scraper.MaxAttempts,
			BackoffMin:  cfg.Scraper.BackoffMin,
			BackoffMax:  cfg.Scraper.BackoffMax,
			MinPace:     cfg.Scraper.PaceMin,
			MaxPace:     cfg.Scraper.PaceMax,
			Metrics:     m,
			Logger:      log,
		}),
		CategoriesDir:  cfg.Categories,
		Stream:         cfg.Redis.Stream,
		ProductPaceMin: cfg.Scraper.ProductPaceMin,
		ProductPaceMax: cfg.Scraper.ProductPaceMax,
		Metrics:        m,
		Logger:         log,
	})

	publisher := events.NewPublisher(db, database.NewOutboxRepository(db), cfg.Redis.Stream, log)

	manager := jobs.NewManager(jobs.Config{
		Store:     database.NewRunRepository(db),
		Executor:  pipeline,
		Publisher: publisher,
		ShopKnown: func(name string) bool {
			return slices.Contains(registry.Names(), name)
		},
		Locks:  database.NewShopLocks(db),
		Logger: log,
	})

	return &app{
		cfg:      cfg,
		logger:   log,
		db:       db,
		registry: registry,
		metrics:  m,
		manager:  manager,
	}, nil
}

// newRelay connects to Redis and returns a relay for the outbox. The returned
// function closes the Redis client.
func (a *app) newRelay(ctx context.Context) (*database.Relay, func(), error) {
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	relay := database.NewRelay(database.NewOutboxRepository(a.db), client, a.logger, database.RelayConfig{
		PollInterval: a.cfg.Redis.PollInterval,
		BatchSize:    100,
	})

	return relay, func() { client.Close() }, nil
}

// startRelay runs the relay in the background until ctx is done.
func (a *app) startRelay(ctx context.Context) (*database.Relay, func(), error) {
	relay, closeRedis, err := a.newRelay(ctx)
	if err != nil {
		return nil, nil, err
	}

	go func() {
		if err := relay.Start(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("relay stopped with error", "error", err)
		}
	}()

	return relay, closeRedis, nil
}

// shopsFor returns the requested shop, or every scheduled shop when empty.
func (a *app) shopsFor(shop string) []string {
	if shop != "" {
		return []string{shop}
	}
	if len(a.cfg.Schedule.Shops) > 0 {
		return a.cfg.Schedule.Shops
	}
	return a.registry.Names()
}

func (a *app) close() {
	a.db.Close()
}
