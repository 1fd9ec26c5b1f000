package browser

import (
	"context"
	"math/rand"
	"time"
)

func SetSimulatorRand(s *Simulator, seed int64, sleep func(ctx context.Context, d time.Duration) error) {
	s.rng = rand.New(rand.NewSource(seed))
	s.sleep = sleep
}
