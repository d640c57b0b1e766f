package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *LockManager {
	t.Helper()
	return NewLockManager(t.TempDir(), 30*time.Second)
}

func TestLock_AcquireRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "session-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	if err := m.Release("session-1", token); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Re-acquire after release should succeed immediately.
	token2, err := m.Acquire(ctx, "session-1", time.Second)
	if err != nil {
		t.Fatalf("re-Acquire failed: %v", err)
	}
	if token == token2 {
		t.Error("tokens must be unique per acquisition")
	}
	m.Release("session-1", token2)
}

func TestLock_ContentionTimesOut(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "session-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer m.Release("session-1", token)

	_, err = m.Acquire(ctx, "session-1", 200*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestLock_IndependentScopes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	t1, err := m.Acquire(ctx, "session-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire session-1 failed: %v", err)
	}
	t2, err := m.Acquire(ctx, "session-2", time.Second)
	if err != nil {
		t.Fatalf("Acquire session-2 failed: %v", err)
	}
	m.Release("session-1", t1)
	m.Release("session-2", t2)
}

func TestLock_StaleMarkerReclaimed(t *testing.T) {
	dir := t.TempDir()
	m := NewLockManager(dir, 100*time.Millisecond)
	ctx := context.Background()

	// Simulate an abandoned marker from a dead process.
	marker, _ := json.Marshal(lockMarker{
		Token:   "dead-token",
		PID:     999999,
		Created: time.Now().Add(-time.Minute).UnixMilli(),
	})
	path := filepath.Join(dir, "session-1.lock")
	if err := os.WriteFile(path, marker, 0600); err != nil {
		t.Fatal(err)
	}

	token, err := m.Acquire(ctx, "session-1", time.Second)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	m.Release("session-1", token)
}

func TestLock_ReleaseWrongTokenRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	token, err := m.Acquire(ctx, "session-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := m.Release("session-1", "not-the-token"); !errors.Is(err, ErrNotLockOwner) {
		t.Fatalf("expected ErrNotLockOwner, got %v", err)
	}

	// Legitimate owner can still release.
	if err := m.Release("session-1", token); err != nil {
		t.Fatalf("owner release failed: %v", err)
	}
}

func TestLock_WithLockSerializes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var inCritical, max int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(ctx, "shared", 5*time.Second, func() error {
				mu.Lock()
				inCritical++
				if inCritical > max {
					max = inCritical
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				inCritical--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if max != 1 {
		t.Errorf("critical section overlap: max concurrency %d", max)
	}
}

func TestLock_WithLockReleasesOnError(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := m.WithLock(ctx, "scope", time.Second, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	// Lock must be free again.
	token, err := m.Acquire(ctx, "scope", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("lock not released after error: %v", err)
	}
	m.Release("scope", token)
}
