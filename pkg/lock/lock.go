package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

var (
	// ErrLockHeld is returned when another holder owns the key.
	ErrLockHeld = errors.New("lock is held by another writer")

	// ErrNotAcquired is matched by every Acquire failure, whether the wait
	// ran out or the locker could not be reached.
	ErrNotAcquired = errors.New("lock not acquired")
)

// Release gives a lock back. It is safe to call more than once.
type Release func(ctx context.Context) error

// Locker hands out named, expiring locks.
type Locker interface {
	// TryAcquire takes key without waiting, returning ErrLockHeld when it is taken.
	TryAcquire(ctx context.Context, key string) (Release, error)
}

// DefaultPollInterval is how often Acquire retries a held lock.
const DefaultPollInterval = 250 * time.Millisecond

// Acquire waits for key until it is free or ctx is done.
func Acquire(ctx context.Context, l Locker, key string, poll time.Duration) (Release, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	var release Release
	err := retry.Do(ctx, retry.NewConstant(poll), func(ctx context.Context) error {
		r, err := l.TryAcquire(ctx, key)
		if errors.Is(err, ErrLockHeld) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		release = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w: %w", key, ErrNotAcquired, err)
	}
	return release, nil
}
