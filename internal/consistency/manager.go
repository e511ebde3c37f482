// Package consistency serializes mutation of state shared by the collective.
//
// Writers either hold a Lock or run inside ExecuteTransactional, which takes
// the locks for every named resource in sorted order, stages writes, and
// applies them atomically only when the operation succeeds. When two writers
// contend, whoever takes the lock first wins; the other waits up to its
// timeout. Readers may read without locks and tolerate staleness.
package consistency

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Manager is the consistency contract used by strategies and nodes.
type Manager interface {
	// AcquireLock waits up to timeout for the lock on key.
	AcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error)

	// ExecuteTransactional runs op holding locks on every resource and applies
	// its staged writes atomically on success. Any failure applies nothing.
	ExecuteTransactional(ctx context.Context, resources []string, op TxFunc) error

	// Read returns the committed value of key without locking.
	Read(ctx context.Context, key string) (string, bool, error)
}

// TxFunc is the body of a transaction.
type TxFunc func(ctx context.Context, tx *Tx) error

// Locker takes and releases exclusive leases on keys.
type Locker interface {
	TryLock(ctx context.Context, key, token string, lease time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) (bool, error)
	Owner(ctx context.Context, key string) (string, error)
}

// Write is one staged change.
type Write struct {
	Key    string
	Value  string
	Delete bool
}

// Store holds committed shared state.
type Store interface {
	Read(ctx context.Context, key string) (string, bool, error)
	Commit(ctx context.Context, writes []Write) error
}

// Options tunes a LockingManager. Zero values take the defaults.
type Options struct {
	LockTimeout  time.Duration // default wait for AcquireLock callers passing 0, 5s
	Lease        time.Duration // lock lease, 30s
	TxTimeout    time.Duration // total lock wait for a transaction, 10s
	PollInitial  time.Duration // first retry interval while waiting, 5ms
	PollInterval time.Duration // maximum retry interval while waiting, 100ms
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.TxTimeout <= 0 {
		o.TxTimeout = 10 * time.Second
	}
	if o.PollInitial <= 0 {
		o.PollInitial = 5 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	return o
}

// LockingManager implements Manager over any Locker and Store.
type LockingManager struct {
	locker Locker
	store  Store
	opts   Options

	mu       sync.Mutex
	closed   bool
	held     map[string]*Lock // token -> lock
	inflight sync.WaitGroup
}

// NewLockingManager creates a manager from its parts.
func NewLockingManager(locker Locker, store Store, opts Options) *LockingManager {
	return &LockingManager{
		locker: locker,
		store:  store,
		opts:   opts.withDefaults(),
		held:   make(map[string]*Lock),
	}
}

// AcquireLock waits up to timeout for key. A zero timeout uses the configured
// default. Expiry yields *LockTimeoutError; cancellation returns ctx's error.
func (m *LockingManager) AcquireLock(ctx context.Context, key string, timeout time.Duration) (*Lock, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}

	if timeout <= 0 {
		timeout = m.opts.LockTimeout
	}
	return m.acquire(ctx, key, time.Now().Add(timeout), timeout)
}

func (m *LockingManager) acquire(ctx context.Context, key string, deadline time.Time, timeout time.Duration) (*Lock, error) {
	token := uuid.New().String()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.PollInitial
	bo.MaxInterval = m.opts.PollInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		ok, err := m.locker.TryLock(ctx, key, token, m.opts.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if ok {
			lock := &Lock{key: key, token: token, lease: m.opts.Lease, acquiredAt: time.Now(), manager: m}
			m.track(lock)
			return lock, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &LockTimeoutError{Key: key, Timeout: timeout}
		}

		wait := bo.NextBackOff()
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (m *LockingManager) track(l *Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[l.token] = l
}

func (m *LockingManager) untrack(l *Lock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, l.token)
}

// Read returns the committed value of key.
func (m *LockingManager) Read(ctx context.Context, key string) (string, bool, error) {
	return m.store.Read(ctx, key)
}

// ExecuteTransactional runs op under locks on resources.
//
// Locks are taken in sorted order so concurrent transactions over overlapping
// resources cannot deadlock. The whole acquisition shares one TxTimeout
// budget. Writes staged through tx are committed in one atomic step after op
// returns nil. Every failure, including a panic in op, is returned as a
// *TransactionAbortedError and leaves the store untouched.
func (m *LockingManager) ExecuteTransactional(ctx context.Context, resources []string, op TxFunc) (err error) {
	keys := normalize(resources)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &TransactionAbortedError{Resources: keys, Cause: ErrManagerClosed}
	}
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	deadline := time.Now().Add(m.opts.TxTimeout)
	locks := make([]*Lock, 0, len(keys))
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		for i := len(locks) - 1; i >= 0; i-- {
			if relErr := locks[i].Release(releaseCtx); relErr != nil {
				log.Printf("[Consistency] Failed to release lock %q: %v", locks[i].key, relErr)
			}
		}
	}()

	for _, key := range keys {
		lock, err := m.acquire(ctx, key, deadline, m.opts.TxTimeout)
		if err != nil {
			return &TransactionAbortedError{Resources: keys, Cause: err}
		}
		locks = append(locks, lock)
	}

	tx := &Tx{store: m.store, resources: keys, staged: map[string]Write{}}
	if err := runOp(ctx, tx, op); err != nil {
		return &TransactionAbortedError{Resources: keys, Cause: err}
	}

	for _, lock := range locks {
		if err := lock.verify(ctx); err != nil {
			return &TransactionAbortedError{Resources: keys, Cause: err}
		}
	}

	if err := m.store.Commit(ctx, tx.writes()); err != nil {
		return &TransactionAbortedError{Resources: keys, Cause: fmt.Errorf("failed to commit: %w", err)}
	}
	return nil
}

func runOp(ctx context.Context, tx *Tx, op TxFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()
	return op(ctx, tx)
}

// Close stops accepting transactions, waits for in-flight ones to finish and
// releases locks still held through AcquireLock.
func (m *LockingManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	outstanding := make([]*Lock, 0, len(m.held))
	for _, l := range m.held {
		outstanding = append(outstanding, l)
	}
	m.mu.Unlock()

	for _, l := range outstanding {
		if err := l.Release(ctx); err != nil {
			log.Printf("[Consistency] Failed to release lock %q on close: %v", l.key, err)
		}
	}
	return nil
}

// HeldLocks returns the number of locks currently held through this manager.
func (m *LockingManager) HeldLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

func normalize(resources []string) []string {
	seen := make(map[string]struct{}, len(resources))
	keys := make([]string, 0, len(resources))
	for _, r := range resources {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		keys = append(keys, r)
	}
	sort.Strings(keys)
	return keys
}

// Execute runs a value-returning transaction.
func Execute[T any](ctx context.Context, m Manager, resources []string, op func(ctx context.Context, tx *Tx) (T, error)) (T, error) {
	var result T
	err := m.ExecuteTransactional(ctx, resources, func(ctx context.Context, tx *Tx) error {
		v, err := op(ctx, tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// WithLock holds the lock on key while fn runs and releases it on every exit
// path, including panics.
func WithLock(ctx context.Context, m Manager, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lock, err := m.AcquireLock(ctx, key, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[Consistency] Failed to release lock %q: %v", key, err)
		}
	}()
	return fn(ctx)
}
