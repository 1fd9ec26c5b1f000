package jobs

import (
	"context"
	"time"
)

// StartWorker polls for queued runs until ctx is done. Runs are executed one
// at a time since each owns a browser.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("run worker started", "poll_interval", m.pollInterval)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("run worker stopping")
			return
		case <-ticker.C:
			for m.processNext(ctx) {
			}
		}
	}
}

// processNext runs the oldest queued run and reports whether one was found.
func (m *Manager) processNext(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	run, err := m.store.ClaimNext(ctx)
	if err != nil {
		m.logger.Error("failed to claim run", "error", err)
		return false
	}
	if run == nil {
		return false
	}

	m.logger.Info("processing run", "id", run.ID, "shop", run.Shop, "mode", run.Mode)
	_ = m.process(ctx, run)
	return true
}
