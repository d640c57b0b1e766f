package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLockTimeout is returned when a lock cannot be acquired within the
	// requested timeout.
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrNotLockOwner is returned when releasing with a token that does not
	// match the current marker.
	ErrNotLockOwner = errors.New("lock held by another token")
)

// lockMarker is the JSON body of a lock marker file.
type lockMarker struct {
	Token   string `json:"token"`
	PID     int    `json:"pid"`
	Created int64  `json:"created"`
}

// LockManager provides advisory, file-based mutual exclusion per scope.
// A scope is a session id or the project-wide pseudo-scope. Multiple
// processes may contend for the same scope; the loser polls until timeout.
// Markers older than the stale age are treated as abandoned and reclaimed.
type LockManager struct {
	dir          string
	pollInterval time.Duration
	staleAge     time.Duration
}

// NewLockManager creates a lock manager storing markers under dir.
func NewLockManager(dir string, staleAge time.Duration) *LockManager {
	if staleAge <= 0 {
		staleAge = 30 * time.Second
	}
	return &LockManager{
		dir:          dir,
		pollInterval: 50 * time.Millisecond,
		staleAge:     staleAge,
	}
}

// ProjectScope returns the project-wide pseudo-scope for bulk operations.
func ProjectScope(project string) string {
	return "project:" + project
}

func (m *LockManager) markerPath(scope string) string {
	// Scopes may contain characters unfit for filenames.
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, scope)
	return filepath.Join(m.dir, safe+".lock")
}

// Acquire obtains the lock for scope, waiting up to timeout. It returns an
// opaque token that must be presented to Release.
func (m *LockManager) Acquire(ctx context.Context, scope string, timeout time.Duration) (string, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create lock directory: %w", err)
	}

	token := uuid.NewString()
	path := m.markerPath(scope)
	deadline := time.Now().Add(timeout)

	for {
		if err := m.tryCreate(path, token); err == nil {
			return token, nil
		}

		m.reclaimIfStale(path)

		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w: scope %s", ErrLockTimeout, scope)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// tryCreate atomically creates the marker file. Failure means contention.
func (m *LockManager) tryCreate(path, token string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	marker := lockMarker{
		Token:   token,
		PID:     os.Getpid(),
		Created: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// reclaimIfStale removes a marker whose holder has apparently died. The
// remove is best effort: if another waiter reclaims first, the next create
// attempt simply contends again.
func (m *LockManager) reclaimIfStale(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var marker lockMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		// Unreadable marker counts as abandoned.
		_ = os.Remove(path)
		return
	}
	age := time.Since(time.UnixMilli(marker.Created))
	if age > m.staleAge {
		_ = os.Remove(path)
	}
}

// Release frees the lock for scope. The token must match the marker; a
// mismatch means the lock was reclaimed and re-acquired by someone else.
func (m *LockManager) Release(scope, token string) error {
	path := m.markerPath(scope)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock marker: %w", err)
	}

	var marker lockMarker
	if err := json.Unmarshal(data, &marker); err == nil && marker.Token != token {
		return fmt.Errorf("%w: scope %s", ErrNotLockOwner, scope)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock marker: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the lock for scope.
func (m *LockManager) WithLock(ctx context.Context, scope string, timeout time.Duration, fn func() error) error {
	token, err := m.Acquire(ctx, scope, timeout)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Release(scope, token)
	}()

	return fn()
}
