package pool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// writerWeight is the semaphore weight of an exclusive holder. It also caps the
// number of simultaneous readers.
const writerWeight = 1 << 30

// RWLock is a reader/writer lock whose acquisitions can be cancelled through a
// context. Waiters are served in FIFO order, so a queued writer holds back
// readers that arrive after it.
type RWLock struct {
	sem *semaphore.Weighted
}

// NewRWLock returns an unlocked RWLock.
func NewRWLock() *RWLock {
	return &RWLock{sem: semaphore.NewWeighted(writerWeight)}
}

// RLock acquires shared access, or returns ctx.Err() if ctx is done first.
func (l *RWLock) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// RUnlock releases shared access.
func (l *RWLock) RUnlock() { l.sem.Release(1) }

// Lock acquires exclusive access, or returns ctx.Err() if ctx is done first.
func (l *RWLock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, writerWeight)
}

// Unlock releases exclusive access.
func (l *RWLock) Unlock() { l.sem.Release(writerWeight) }

// TryLock acquires exclusive access without blocking.
func (l *RWLock) TryLock() bool { return l.sem.TryAcquire(writerWeight) }
