package service

import (
	"context"
	"time"

	"github.com/neriyabudraham/flowbotomat-sub003/internal/models"

	"github.com/sirupsen/logrus"
)

// LockStore is the slice of the database the lease needs.
type LockStore interface {
	GetQueueLock(ctx context.Context) (*models.QueueLock, error)
	TryAcquireQueueLock(ctx context.Context, startedAt time.Time) (bool, error)
	ReleaseQueueLock(ctx context.Context, sentAt *time.Time, connectionID *int64) error
	ForceClearQueueLock(ctx context.Context) error
	ReclassifyStuckProcessing(ctx context.Context, errMsg string) (int64, error)
}

// queueLease wraps the singleton lock row in acquire/release semantics,
// including recovery from a holder that died mid-dispatch. Staleness is
// judged strictly longer than the dispatch timeout, so a live holder
// always finishes or fails before its lease can be stolen.
type queueLease struct {
	store      LockStore
	staleAfter time.Duration
	logger     *logrus.Logger
	now        func() time.Time
}

func newQueueLease(store LockStore, staleAfter time.Duration, logger *logrus.Logger) *queueLease {
	return &queueLease{
		store:      store,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Current returns the lock row after clearing a stale hold, plus whether
// the lock is currently held by a live worker.
func (l *queueLease) Current(ctx context.Context) (held bool, lock *models.QueueLock, err error) {
	lock, err = l.store.GetQueueLock(ctx)
	if err != nil {
		return false, nil, err
	}
	if !lock.IsProcessing {
		return false, lock, nil
	}

	now := l.now()
	if lock.ProcessingStartedAt != nil && now.Sub(*lock.ProcessingStartedAt) <= l.staleAfter {
		return true, lock, nil
	}

	// The holder died mid-dispatch. Clear the lock and fail whatever it
	// left claimed; the outcome of that dispatch is unknowable, so
	// re-sending would risk a duplicate post.
	l.logger.WithField("started_at", lock.ProcessingStartedAt).
		Warn("Clearing stale queue lock")
	if err := l.store.ForceClearQueueLock(ctx); err != nil {
		return false, nil, err
	}
	n, err := l.store.ReclassifyStuckProcessing(ctx, "dispatch interrupted, outcome unknown")
	if err != nil {
		return false, nil, err
	}
	if n > 0 {
		l.logger.WithField("count", n).Warn("Failed orphaned processing items")
	}

	lock.IsProcessing = false
	lock.ProcessingStartedAt = nil
	return false, lock, nil
}

// Acquire attempts to take the lock atomically. A false return means a
// concurrent worker won the race.
func (l *queueLease) Acquire(ctx context.Context) (bool, error) {
	return l.store.TryAcquireQueueLock(ctx, l.now())
}

// Release returns the lock. A non-nil sentAt stamps the system-wide
// cool-down reference.
func (l *queueLease) Release(ctx context.Context, sentAt *time.Time, connectionID *int64) error {
	return l.store.ReleaseQueueLock(ctx, sentAt, connectionID)
}
