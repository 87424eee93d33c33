package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erpcore/approval-engine/internal/domain/approval"
)

// targetLocks serialises mutations per target. Each key owns a buffered
// channel of size one; holding the token is holding the lock. Entries are
// never removed, so the map grows with the set of targets seen by this
// process.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	wait  time.Duration
}

func newTargetLocks(wait time.Duration) *targetLocks {
	return &targetLocks{
		locks: make(map[string]chan struct{}),
		wait:  wait,
	}
}

func (l *targetLocks) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

// acquire takes the lock for a target key, waiting up to the configured
// bound. The returned release function must be called exactly once.
func (l *targetLocks) acquire(ctx context.Context, key string) (func(), error) {
	ch := l.sem(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: target %s is locked by another operation", approval.ErrConcurrencyConflict, key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
