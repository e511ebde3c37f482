package consistency

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Lock is a held lease on one key. Release it when done; Release is idempotent.
type Lock struct {
	key        string
	token      string
	lease      time.Duration
	acquiredAt time.Time
	manager    *LockingManager

	once sync.Once
	err  error
}

func (l *Lock) Key() string   { return l.key }
func (l *Lock) Token() string { return l.token }

// Expires returns when the lease runs out if never released.
func (l *Lock) Expires() time.Time {
	return l.acquiredAt.Add(l.lease)
}

// Release gives the lock up. A lease that already expired is not an error.
func (l *Lock) Release(ctx context.Context) error {
	l.once.Do(func() {
		defer l.manager.untrack(l)

		released, err := l.manager.locker.Unlock(ctx, l.key, l.token)
		if err != nil {
			l.err = fmt.Errorf("failed to release lock %q: %w", l.key, err)
			return
		}
		if !released {
			log.Printf("[Consistency] Lease on %q expired before release", l.key)
		}
	})
	return l.err
}

// verify confirms the lease is still held.
func (l *Lock) verify(ctx context.Context) error {
	owner, err := l.manager.locker.Owner(ctx, l.key)
	if err != nil {
		return fmt.Errorf("failed to verify lock %q: %w", l.key, err)
	}
	if owner != l.token {
		return fmt.Errorf("lease on %q lost before commit", l.key)
	}
	return nil
}
