package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is an in-process Locker for single-process deployments and
// tests. It gives no guarantee across processes.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]*Handle
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]*Handle),
		clock: time.Now,
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if h, ok := l.held[key]; ok && now.Before(h.ExpiresAt) {
		return nil, ErrNotAcquired
	}

	h := &Handle{Key: key, Token: newToken(), ExpiresAt: now.Add(ttl)}
	l.held[key] = h
	return h, nil
}

func (l *MemoryLocker) Release(_ context.Context, h *Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.held[h.Key]; ok && current.Token == h.Token {
		delete(l.held, h.Key)
	}
	return nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.held[key]
	return ok && l.clock().Before(h.ExpiresAt)
}
