// Package schedule triggers the daily links and products runs on cron
// expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/pet-price-crawler/internal/models"
	"github.com/robfig/cron/v3"
)

// Runner executes one run to completion.
type Runner interface {
	RunNow(ctx context.Context, shop string, mode models.RunMode) (*models.Run, error)
}

type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	shops  []string
	logger *slog.Logger
}

// New creates a scheduler that runs every mode for shops in order. A job
// still running when its next tick arrives is skipped.
func New(runner Runner, shops []string, logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		shops:  shops,
		logger: logger,
	}
}

// Add registers mode on the cron expression expr. An empty expr leaves mode unscheduled.
func (s *Scheduler) Add(ctx context.Context, expr string, mode models.RunMode) error {
	if expr == "" {
		s.logger.Info("schedule disabled", "mode", mode)
		return nil
	}

	_, err := s.cron.AddFunc(expr, func() { s.runAll(ctx, mode) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", expr, mode, err)
	}

	s.logger.Info("schedule registered", "mode", mode, "expr", expr, "shops", s.shops)
	return nil
}

// runAll runs mode for every shop; one shop failing does not stop the rest.
func (s *Scheduler) runAll(ctx context.Context, mode models.RunMode) {
	for _, shop := range s.shops {
		if ctx.Err() != nil {
			return
		}

		run, err := s.runner.RunNow(ctx, shop, mode)
		if err != nil {
			s.logger.Error("scheduled run failed", "shop", shop, "mode", mode, "error", err)
			continue
		}
		s.logger.Info("scheduled run finished", "shop", shop, "mode", mode, "run_id", run.ID)
	}
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Run blocks until ctx is done, then waits for running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
