package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

var ErrInvalidRun = errors.New("invalid run")

const (
	DefaultPollInterval = 10 * time.Second
	DefaultListLimit    = 100
)

// RunStore persists runs. *database.RunRepository implements it.
type RunStore interface {
	Create(ctx context.Context, run *models.Run) error
	Get(ctx context.Context, runID string) (*models.Run, error)
	List(ctx context.Context, limit int) ([]*models.Run, error)
	ClaimNext(ctx context.Context) (*models.Run, error)
	Finish(ctx context.Context, run *models.Run) error
}

// Executor carries out a run. *etl.Pipeline implements it.
type Executor interface {
	Execute(ctx context.Context, run *models.Run) error
}

// FailurePublisher announces failed runs. Successful runs commit their event
// together with their data.
type FailurePublisher interface {
	PublishRun(ctx context.Context, run *models.Run) error
}

type Manager struct {
	store        RunStore
	executor     Executor
	publisher    FailurePublisher
	shopKnown    func(name string) bool
	locks        ShopLocker
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

type Config struct {
	Store     RunStore
	Executor  Executor
	Publisher FailurePublisher
	// ShopKnown reports whether a shop name can be crawled.
	ShopKnown func(name string) bool
	// Locks serializes runs per shop; nil means within this process only.
	Locks        ShopLocker
	PollInterval time.Duration
	Logger       *slog.Logger
}

func NewManager(cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ShopKnown == nil {
		cfg.ShopKnown = func(string) bool { return true }
	}
	if cfg.Locks == nil {
		cfg.Locks = newLocalLocks()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		store:        cfg.Store,
		executor:     cfg.Executor,
		publisher:    cfg.Publisher,
		shopKnown:    cfg.ShopKnown,
		locks:        cfg.Locks,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger.With("component", "job_manager"),
		now:          time.Now,
	}
}

func (m *Manager) newRun(shop string, mode models.RunMode, status models.RunStatus) (*models.Run, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRun, mode)
	}
	if shop == "" || !m.shopKnown(shop) {
		return nil, fmt.Errorf("%w: unknown shop %q", ErrInvalidRun, shop)
	}

	return &models.Run{
		ID:        uuid.New().String(),
		Shop:      shop,
		Mode:      mode,
		Status:    status,
		CreatedAt: m.now(),
	}, nil
}

// CreateRun queues a run for the background worker.
func (m *Manager) CreateRun(ctx context.Context, shop string, mode models.RunMode) (*models.Run, error) {
	run, err := m.newRun(shop, mode, models.RunStatusPending)
	if err != nil {
		return nil, err
	}

	if err := m.store.Create(ctx, run); err != nil {
		return nil, err
	}

	m.logger.Info("run created", "id", run.ID, "shop", shop, "mode", mode)
	return run, nil
}

// RunNow executes a run in the calling goroutine and returns it in its final
// state. The returned error is the run's own failure, if any.
func (m *Manager) RunNow(ctx context.Context, shop string, mode models.RunMode) (*models.Run, error) {
	run, err := m.newRun(shop, mode, models.RunStatusRunning)
	if err != nil {
		return nil, err
	}
	started := run.CreatedAt
	run.StartedAt = &started

	if err := m.store.Create(ctx, run); err != nil {
		return nil, err
	}

	m.logger.Info("run started", "id", run.ID, "shop", shop, "mode", mode)
	return run, m.process(ctx, run)
}

func (m *Manager) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return m.store.Get(ctx, runID)
}

func (m *Manager) ListRuns(ctx context.Context) ([]*models.Run, error) {
	return m.store.List(ctx, DefaultListLimit)
}

// process executes run once no other run of its shop is active and records
// its outcome. Bookkeeping uses a context detached from ctx so cancelled runs
// are still marked failed.
func (m *Manager) process(ctx context.Context, run *models.Run) error {
	runErr := m.execute(ctx, run)

	completed := m.now()
	run.CompletedAt = &completed

	bookkeeping := context.WithoutCancel(ctx)

	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
		m.logger.Error("run failed", "id", run.ID, "shop", run.Shop, "mode", run.Mode, "error", runErr)

		if m.publisher != nil {
			if err := m.publisher.PublishRun(bookkeeping, run); err != nil {
				m.logger.Error("failed to publish run failure", "id", run.ID, "error", err)
			}
		}
	} else {
		run.Status = models.RunStatusCompleted
		m.logger.Info("run completed", "id", run.ID, "shop", run.Shop, "mode", run.Mode, "stats", run.Stats)
	}

	if err := m.store.Finish(bookkeeping, run); err != nil {
		m.logger.Error("failed to update run status", "id", run.ID, "error", err)
		return errors.Join(runErr, err)
	}

	return runErr
}

func (m *Manager) execute(ctx context.Context, run *models.Run) error {
	unlock, err := m.locks.Lock(ctx, run.Shop)
	if err != nil {
		return fmt.Errorf("waiting for shop %s: %w", run.Shop, err)
	}
	defer unlock()

	return m.executor.Execute(ctx, run)
}
