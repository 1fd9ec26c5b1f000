package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoffMin  = 2 * time.Second
	DefaultBackoffMax  = 5 * time.Second
)

// RetryPolicy retries TransientErrors with capped exponential backoff.
// SkipErrors and unclassified errors end the loop immediately.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	timer  backoff.Timer
	logger *slog.Logger
}

func NewRetryPolicy(maxAttempts int, minDelay, maxDelay time.Duration, logger *slog.Logger) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if minDelay <= 0 {
		minDelay = DefaultBackoffMin
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
		Multiplier:  2,
		logger:      logger.With("component", "retry"),
	}
}

func DefaultRetryPolicy(logger *slog.Logger) *RetryPolicy {
	return NewRetryPolicy(DefaultMaxAttempts, DefaultBackoffMin, DefaultBackoffMax, logger)
}

// SetTimer replaces the backoff timer; tests use it to skip real sleeps.
func (p *RetryPolicy) SetTimer(t backoff.Timer) {
	p.timer = t
}

func (p *RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-transient error or the
// attempt cap is hit. It returns the number of attempts made and the last
// error.
func (p *RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0

	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		p.logger.Warn("retrying fetch",
			"attempt", attempts,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"error", err)
		if p.OnRetry != nil {
			p.OnRetry(attempts, delay, err)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, p.newBackOff(ctx), notify, p.timer)
	return attempts, err
}
