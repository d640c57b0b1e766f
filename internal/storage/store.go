// Package storage provides the advisory lock manager and the file-based
// session store. Session records live as one JSON file each; every write is
// a temp-file-plus-rename so a partial file is never observable.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/pkg/types"
)

var (
	ErrNotFound = errors.New("session not found")
)

// Store persists session records and their human-readable mirrors for one
// project.
type Store struct {
	sessionsDir string
	mirrorDir   string
	archiveDir  string
}

// NewStore creates a store rooted at the given directories. Directories are
// created lazily on first write.
func NewStore(sessionsDir, mirrorDir, archiveDir string) *Store {
	return &Store{
		sessionsDir: sessionsDir,
		mirrorDir:   mirrorDir,
		archiveDir:  archiveDir,
	}
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.sessionsDir, id+".json")
}

func (s *Store) mirrorPath(id string) string {
	return filepath.Join(s.mirrorDir, id+".md")
}

// Load reads a session record. Returns ErrNotFound if absent.
func (s *Store) Load(id string) (*types.Session, error) {
	data, err := os.ReadFile(s.sessionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Save writes a session record atomically and stamps Updated.
func (s *Store) Save(session *types.Session) error {
	if err := os.MkdirAll(s.sessionsDir, 0755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	session.Time.Updated = time.Now().UnixMilli()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := s.sessionPath(session.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename session file: %w", err)
	}
	return nil
}

// Delete removes a session record and its mirror.
func (s *Store) Delete(id string) error {
	if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	_ = os.Remove(s.mirrorPath(id))
	return nil
}

// ListActive returns all live session records, most recently updated first.
func (s *Store) ListActive() ([]*types.Session, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []*types.Session
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		session, err := s.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// A record mid-rename or corrupted should not sink the listing.
			logging.Warn().Str("file", name).Err(err).Msg("skipping unreadable session record")
			continue
		}
		sessions = append(sessions, session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Time.Updated > sessions[j].Time.Updated
	})
	return sessions, nil
}

// Archive renders the immutable markdown transcript and writes it to the
// archive directory. Returns the archive path.
func (s *Store) Archive(session *types.Session) (string, error) {
	if err := os.MkdirAll(s.archiveDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.md", time.Now().Format("20060102-150405"), topicSlug(session.Topic))
	path := filepath.Join(s.archiveDir, name)

	if err := os.WriteFile(path, []byte(RenderTranscript(session)), 0644); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, nil
}

// ListArchives returns archive file names, newest first.
func (s *Store) ListArchives() ([]string, error) {
	entries, err := os.ReadDir(s.archiveDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// SyncMirror writes the live human-readable mirror. Best effort: failures
// are logged, never returned, since the mirror is a convenience view.
func (s *Store) SyncMirror(session *types.Session) {
	if err := os.MkdirAll(s.mirrorDir, 0755); err != nil {
		logging.Warn().Err(err).Msg("mirror directory unavailable")
		return
	}
	if err := os.WriteFile(s.mirrorPath(session.ID), []byte(RenderTranscript(session)), 0644); err != nil {
		logging.Warn().Str("session", session.ID).Err(err).Msg("mirror write failed")
	}
}

// topicSlug is a filename-safe slug of the topic.
func topicSlug(topic string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(topic) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "session"
	}
	return slug
}
