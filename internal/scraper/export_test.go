package scraper

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Instrument swaps every real wait inside s for the supplied recorders.
func Instrument(s *Scraper, timer backoff.Timer, pace func(ctx context.Context, d time.Duration) error) {
	s.retry.SetTimer(timer)
	s.pacer.SetSleep(pace)
	s.simulator.SetSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
}

var Classify = classify
