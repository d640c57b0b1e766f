// Package council implements the deliberation session state machine:
// speaker rotation, round progression, idempotency tokens, and the
// synthesis/reset lifecycle. All mutations run under the session-scoped
// advisory lock so multiple processes can share the on-disk state.
package council

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/event"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
	"github.com/quorumlabs/quorum/internal/storage"
	"github.com/quorumlabs/quorum/pkg/types"
)

// Service manages deliberation sessions.
type Service struct {
	cfg   *config.Config
	store *storage.Store
	locks *storage.LockManager
}

// NewService creates a council service over the given store and locks.
func NewService(cfg *config.Config, store *storage.Store, locks *storage.LockManager) *Service {
	return &Service{cfg: cfg, store: store, locks: locks}
}

// StartParams are the inputs for creating a session.
type StartParams struct {
	Topic        string
	Rounds       int
	Speakers     []string
	FirstSpeaker string
	Profiles     map[string]types.Profile
}

// Start creates a new active session and issues its first pending turn id.
func (s *Service) Start(ctx context.Context, p StartParams) (*types.Session, error) {
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		return nil, result.NewFailure(result.CodeInternal, "topic is required")
	}
	if p.Rounds < 1 {
		return nil, result.Failuref(result.CodeInternal, "rounds must be >= 1, got %d", p.Rounds)
	}

	speakers := NormalizeSpeakers(p.Speakers)
	if len(speakers) == 0 {
		return nil, result.NewFailure(result.CodeInternal, "at least one speaker is required")
	}

	profiles := make(map[string]types.Profile, len(p.Profiles))
	for name, profile := range p.Profiles {
		norm := normalizeName(name)
		if norm == "" {
			continue
		}
		profiles[norm] = profile
	}

	now := time.Now()
	session := &types.Session{
		ID:             s.newSessionID(topic, now),
		Project:        s.cfg.Project,
		Topic:          topic,
		Status:         types.StatusActive,
		MaxRounds:      p.Rounds,
		CurrentRound:   1,
		Speakers:       speakers,
		CurrentSpeaker: s.resolveFirstSpeaker(speakers, p.FirstSpeaker),
		Profiles:       profiles,
		PendingTurnID:  NewTurnID(),
		Time:           types.SessionTime{Created: now.UnixMilli()},
	}

	err := s.locks.WithLock(ctx, session.ID, s.cfg.LockTimeout, func() error {
		return s.store.Save(session)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.store.SyncMirror(session)
	event.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{Info: session}})
	logging.Info().Str("session", session.ID).Str("topic", topic).Int("speakers", len(speakers)).Msg("session started")

	return session, nil
}

// newSessionID builds a slug+timestamp id, unique within the project.
func (s *Service) newSessionID(topic string, now time.Time) string {
	id := fmt.Sprintf("%s-%s", config.Slug(topic), now.Format("20060102-150405"))
	if _, err := s.store.Load(id); err == nil {
		// Same topic started twice within a second.
		id = fmt.Sprintf("%s-%s", id, strings.ToLower(ulid.Make().String()[20:]))
	}
	return id
}

// resolveFirstSpeaker applies the precedence: explicit choice, then the
// caller's own identity when it is a member, then the first of the list.
func (s *Service) resolveFirstSpeaker(speakers []string, explicit string) string {
	if name := normalizeName(explicit); name != "" {
		for _, sp := range speakers {
			if sp == name {
				return sp
			}
		}
	}
	if self := normalizeName(s.cfg.Self); self != "" {
		for _, sp := range speakers {
			if sp == self {
				return sp
			}
		}
	}
	return speakers[0]
}

// NormalizeSpeakers trims, lowercases, deduplicates, and drops empty names
// and the reserved sentinel. Insertion order is speaking order.
func NormalizeSpeakers(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, name := range raw {
		norm := normalizeName(name)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}

func normalizeName(name string) string {
	norm := strings.ToLower(strings.TrimSpace(name))
	if norm == types.SpeakerNone {
		return ""
	}
	return norm
}

// NewTurnID issues a fresh idempotency token.
func NewTurnID() string {
	return ulid.Make().String()
}

// Get loads a session by id.
func (s *Service) Get(id string) (*types.Session, error) {
	session, err := s.store.Load(id)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, result.Failuref(result.CodeSessionNotFound, "no live session %q", id)
		}
		return nil, err
	}
	return session, nil
}

// ListActive returns all live sessions for the project.
func (s *Service) ListActive() ([]*types.Session, error) {
	return s.store.ListActive()
}

// ListArchives returns archived transcript names.
func (s *Service) ListArchives() ([]string, error) {
	return s.store.ListArchives()
}

// Resolve returns the session with the given id, or the most recently
// updated live session when id is empty.
func (s *Service) Resolve(id string) (*types.Session, error) {
	if id != "" {
		return s.Get(id)
	}
	sessions, err := s.store.ListActive()
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, result.NewFailure(result.CodeSessionNotFound, "no live sessions")
	}
	return sessions[0], nil
}
