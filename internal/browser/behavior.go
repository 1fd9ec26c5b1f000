package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Simulator issues synthetic scroll, mouse and click events on a loaded page.
// It is best effort: failures are logged and never returned.
type Simulator struct {
	rng            *rand.Rand
	sleep          func(ctx context.Context, d time.Duration) error
	viewportWidth  int
	viewportHeight int
	logger         *slog.Logger
}

func NewSimulator(viewportWidth, viewportHeight int, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if viewportWidth <= 0 || viewportHeight <= 0 {
		viewportWidth, viewportHeight = 1920, 1080
	}
	return &Simulator{
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:          sleep,
		viewportWidth:  viewportWidth,
		viewportHeight: viewportHeight,
		logger:         logger.With("component", "behavior"),
	}
}

// SetSleep replaces the pause function between synthetic events.
func (s *Simulator) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}

func (s *Simulator) Simulate(ctx context.Context, page Page) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("error during behavior simulation", "error", fmt.Sprint(r))
		}
	}()

	if err := s.simulate(ctx, page); err != nil {
		s.logger.Warn("error during behavior simulation", "error", err)
	}
}

func (s *Simulator) simulate(ctx context.Context, page Page) error {
	mouse := page.Mouse()

	scrolls := s.between(3, 5)
	for i := 0; i < scrolls; i++ {
		distance := s.between(300, 700)
		if err := mouse.Wheel(0, float64(distance)); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := s.pause(ctx, 500*time.Millisecond, 1500*time.Millisecond); err != nil {
			return err
		}
	}

	moves := s.between(2, 5)
	for i := 0; i < moves; i++ {
		x := s.between(0, s.viewportWidth)
		y := s.between(0, s.viewportHeight)
		if err := mouse.Move(float64(x), float64(y)); err != nil {
			return fmt.Errorf("failed to move mouse: %w", err)
		}
		if err := s.pause(ctx, 300*time.Millisecond, 800*time.Millisecond); err != nil {
			return err
		}
	}

	// Click only inside the top-left content area where shops keep no links.
	if s.rng.Float64() < 0.3 {
		x := s.between(100, 500)
		y := s.between(100, 300)
		if err := mouse.Click(float64(x), float64(y)); err != nil {
			return fmt.Errorf("failed to click: %w", err)
		}
		if err := s.pause(ctx, 500*time.Millisecond, time.Second); err != nil {
			return err
		}
	}

	return nil
}

// between returns a random int in [min, max].
func (s *Simulator) between(min, max int) int {
	return min + s.rng.Intn(max-min+1)
}

func (s *Simulator) pause(ctx context.Context, min, max time.Duration) error {
	d := min + time.Duration(s.rng.Int63n(int64(max-min)+1))
	return s.sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
