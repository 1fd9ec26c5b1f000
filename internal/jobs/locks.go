package jobs

import (
	"context"
	"sync"
)

// ShopLocker serializes runs of the same shop. A links run rebuilds the URL
// table that a products run of the same shop is walking, so the two must
// never overlap. Lock blocks until shop is free or ctx is done and returns
// the function that frees it.
type ShopLocker interface {
	Lock(ctx context.Context, shop string) (unlock func(), err error)
}

// localLocks is the in-process ShopLocker used when none is configured.
type localLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLocalLocks() *localLocks {
	return &localLocks{slots: make(map[string]chan struct{})}
}

func (l *localLocks) slot(shop string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[shop]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[shop] = s
	}
	return s
}

func (l *localLocks) Lock(ctx context.Context, shop string) (func(), error) {
	s := l.slot(shop)
	release := func() { <-s }

	select {
	case s <- struct{}{}:
		return release, nil
	default:
	}

	select {
	case s <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
