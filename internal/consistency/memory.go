package consistency

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process Locker honoring lease expiry.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLease
	now   func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]memoryLease), now: time.Now}
}

func (l *MemoryLocker) TryLock(_ context.Context, key, token string, lease time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.locks[key]; ok && l.now().Before(cur.expires) {
		return false, nil
	}
	l.locks[key] = memoryLease{token: token, expires: l.now().Add(lease)}
	return true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.locks[key]
	if !ok || cur.token != token || !l.now().Before(cur.expires) {
		return false, nil
	}
	delete(l.locks, key)
	return true, nil
}

func (l *MemoryLocker) Owner(_ context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.locks[key]
	if !ok || !l.now().Before(cur.expires) {
		return "", nil
	}
	return cur.token, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Read(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Commit(_ context.Context, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range writes {
		if w.Delete {
			delete(s.data, w.Key)
		} else {
			s.data[w.Key] = w.Value
		}
	}
	return nil
}

// Snapshot returns a copy of the committed state.
func (s *MemoryStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// NewMemoryManager creates a manager for a single process.
func NewMemoryManager(opts Options) *LockingManager {
	return NewLockingManager(NewMemoryLocker(), NewMemoryStore(), opts)
}
