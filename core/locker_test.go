package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryConnectionLocker_SerializesPerKey(t *testing.T) {
	locker := NewMemoryConnectionLocker()
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "refresh:app-1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	other, err := locker.Acquire(ctx, "refresh:app-2", time.Second)
	if err != nil {
		t.Fatalf("expected independent keys not to block: %v", err)
	}
	_ = other.Unlock(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(waitCtx, "refresh:app-1", time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected held key to block until deadline, got %v", err)
	}

	acquired := make(chan LockHandle, 1)
	go func() {
		handle, err := locker.Acquire(ctx, "refresh:app-1", time.Second)
		if err == nil {
			acquired <- handle
		}
	}()
	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	// A second unlock must not release the next holder.
	_ = first.Unlock(ctx)
	select {
	case handle := <-acquired:
		_ = handle.Unlock(ctx)
	case <-time.After(time.Second):
		t.Fatalf("expected waiter to acquire after unlock")
	}
}

func TestMemoryConnectionLocker_RejectsEmptyKey(t *testing.T) {
	if _, err := NewMemoryConnectionLocker().Acquire(context.Background(), " ", time.Second); err == nil {
		t.Fatalf("expected empty key error")
	}
}
