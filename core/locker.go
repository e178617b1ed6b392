package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// ConnectionLocker serializes credential refreshes per app. Acquire blocks
// until the lock is free or ctx is done.
type ConnectionLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type MemoryConnectionLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewMemoryConnectionLocker() *MemoryConnectionLocker {
	return &MemoryConnectionLocker{slots: make(map[string]chan struct{})}
}

func (l *MemoryConnectionLocker) Acquire(ctx context.Context, key string, _ time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: connection locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return &memoryLockHandle{slot: slot}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("core: acquire refresh lock %s: %w", key, ctx.Err())
	}
}

type memoryLockHandle struct {
	slot chan struct{}
	once sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.slot == nil {
		return nil
	}
	h.once.Do(func() {
		<-h.slot
	})
	return nil
}

var _ ConnectionLocker = (*MemoryConnectionLocker)(nil)
