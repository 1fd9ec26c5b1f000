package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacer sleeps a random duration between requests to the same shop. It runs
// after every fetch, whatever the outcome.
type Pacer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	sleep  SleepFunc
	logger *slog.Logger
}

func NewPacer(logger *slog.Logger) *Pacer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pacer{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  Sleep,
		logger: logger.With("component", "pacer"),
	}
}

// SetSleep replaces the function used to wait, mainly for tests.
func (p *Pacer) SetSleep(fn SleepFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleep = fn
}

// Delay draws a uniform duration from [min, max]. Reversed bounds are swapped.
func (p *Pacer) Delay(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if min < 0 {
		min = 0
	}
	if max <= min {
		return min
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delta := max - min
	return min + time.Duration(p.rng.Int63n(int64(delta)+1))
}

// Pace sleeps for a random duration in [min, max] and returns it. A cancelled
// context cuts the sleep short.
func (p *Pacer) Pace(ctx context.Context, min, max time.Duration) time.Duration {
	delay := p.Delay(min, max)
	p.logger.Info(FormatDelay(delay))

	if err := p.sleep(ctx, delay); err != nil {
		p.logger.Warn("pacing interrupted", "error", err)
	}

	return delay
}

// FormatDelay renders a pacing delay the way the crawl logs show it.
func FormatDelay(d time.Duration) string {
	seconds := d.Seconds()
	if seconds >= 60 {
		minutes := int(seconds / 60)
		return fmt.Sprintf("sleep for %d min %.2f sec", minutes, seconds-float64(minutes*60))
	}
	return fmt.Sprintf("sleep for %.2f sec", seconds)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
