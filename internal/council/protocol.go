package council

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumlabs/quorum/internal/event"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
	"github.com/quorumlabs/quorum/internal/storage"
	"github.com/quorumlabs/quorum/pkg/types"
)

// Outcome reports how a turn submission was handled.
type Outcome string

const (
	// OutcomeAccepted means the turn was appended and the rotation advanced.
	OutcomeAccepted Outcome = "accepted"
	// OutcomeWait means the submitter is not the current speaker. This is
	// an expected race in multi-agent use, not an error; nothing mutated.
	OutcomeWait Outcome = "wait"
)

// SubmitParams are the inputs for one turn submission.
type SubmitParams struct {
	SessionID string
	Speaker   string
	Content   string
	// TurnID is the caller-supplied idempotency token. When empty the
	// session's pending token is assumed (trusted direct callers).
	TurnID string
	// Channel records which transport produced the turn.
	Channel string
	// FallbackReason is set when the turn arrived via a degraded path.
	FallbackReason string
}

// SubmitResult is the outcome of a submission.
type SubmitResult struct {
	Outcome Outcome
	Session *types.Session
	// Turn is the accepted turn, nil when Outcome != OutcomeAccepted.
	Turn *types.Turn
}

// Submit applies one turn under the session lock. Out-of-turn submissions
// return OutcomeWait without mutating anything; a stale idempotency token
// is rejected with STALE_TURN_ID, also without mutation.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	speaker := normalizeName(p.Speaker)
	if speaker == "" {
		return nil, result.NewFailure(result.CodeInternal, "speaker is required")
	}

	var res *SubmitResult
	err := s.locks.WithLock(ctx, p.SessionID, s.cfg.LockTimeout, func() error {
		session, err := s.store.Load(p.SessionID)
		if err != nil {
			if err == storage.ErrNotFound {
				return result.Failuref(result.CodeSessionNotFound, "no live session %q", p.SessionID)
			}
			return err
		}

		if session.Status != types.StatusActive {
			return result.Failuref(result.CodeSessionExpired, "session %s is %s, not accepting turns", session.ID, session.Status)
		}
		if !session.HasSpeaker(speaker) {
			return result.Failuref(result.CodeNotCurrentSpeaker, "%q is not a participant of session %s", speaker, session.ID)
		}
		if speaker != session.CurrentSpeaker {
			res = &SubmitResult{Outcome: OutcomeWait, Session: session}
			return nil
		}
		if p.TurnID != "" && p.TurnID != session.PendingTurnID {
			return result.Failuref(result.CodeStaleTurnID, "turn id %s does not match pending %s", p.TurnID, session.PendingTurnID)
		}

		turn := types.Turn{
			Round:          session.CurrentRound,
			Speaker:        speaker,
			Content:        p.Content,
			Timestamp:      time.Now().UnixMilli(),
			TurnID:         session.PendingTurnID,
			ChannelUsed:    p.Channel,
			FallbackReason: p.FallbackReason,
		}
		session.Log = append(session.Log, turn)

		advance(session)

		if err := s.store.Save(session); err != nil {
			return err
		}
		res = &SubmitResult{Outcome: OutcomeAccepted, Session: session, Turn: &session.Log[len(session.Log)-1]}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Outcome == OutcomeAccepted {
		s.store.SyncMirror(res.Session)
		event.Publish(event.Event{Type: event.TurnAccepted, Data: event.TurnAcceptedData{SessionID: res.Session.ID, Turn: res.Turn}})
		event.Publish(event.Event{Type: event.SessionUpdated, Data: event.SessionUpdatedData{Info: res.Session}})
	}
	return res, nil
}

// advance moves the rotation forward after an accepted turn. When the
// rotation wraps and the final round is done, the session transitions to
// awaiting_synthesis; otherwise the round increments. While the session
// stays active a fresh idempotency token is issued.
func advance(session *types.Session) {
	idx := session.SpeakerIndex(session.CurrentSpeaker)
	next := (idx + 1) % len(session.Speakers)

	if next == 0 {
		if session.CurrentRound >= session.MaxRounds {
			session.Status = types.StatusAwaitingSynthesis
			session.CurrentSpeaker = types.SpeakerNone
			session.PendingTurnID = ""
			return
		}
		session.CurrentRound++
	}
	session.CurrentSpeaker = session.Speakers[next]
	session.PendingTurnID = NewTurnID()
}

// Synthesize records the final synthesis, archives the transcript, and
// removes the live record. Valid from awaiting_synthesis, and permissively
// from active.
func (s *Service) Synthesize(ctx context.Context, sessionID, text string) (string, error) {
	var archivePath string
	err := s.locks.WithLock(ctx, sessionID, s.cfg.LockTimeout, func() error {
		session, err := s.store.Load(sessionID)
		if err != nil {
			if err == storage.ErrNotFound {
				return result.Failuref(result.CodeSessionNotFound, "no live session %q", sessionID)
			}
			return err
		}

		switch session.Status {
		case types.StatusActive, types.StatusAwaitingSynthesis:
		default:
			return result.Failuref(result.CodeSessionExpired, "session %s is already %s", session.ID, session.Status)
		}

		session.Synthesis = text
		session.Status = types.StatusCompleted
		session.CurrentSpeaker = types.SpeakerNone
		session.PendingTurnID = ""
		session.Time.Updated = time.Now().UnixMilli()

		archivePath, err = s.store.Archive(session)
		if err != nil {
			return err
		}
		return s.store.Delete(session.ID)
	})
	if err != nil {
		return "", err
	}

	event.Publish(event.Event{Type: event.SessionSynthesized, Data: event.SessionSynthesizedData{SessionID: sessionID, ArchivePath: archivePath}})
	event.Publish(event.Event{Type: event.MonitorClose, Data: event.MonitorCloseData{SessionID: sessionID}})
	logging.Info().Str("session", sessionID).Str("archive", archivePath).Msg("session synthesized")

	return archivePath, nil
}

// Reset archives a session when it has any logged turns, then deletes the
// live record. Returns the archive path, empty when nothing was archived.
func (s *Service) Reset(ctx context.Context, sessionID string) (string, error) {
	var archivePath string
	err := s.locks.WithLock(ctx, sessionID, s.cfg.LockTimeout, func() error {
		session, err := s.store.Load(sessionID)
		if err != nil {
			if err == storage.ErrNotFound {
				return result.Failuref(result.CodeSessionNotFound, "no live session %q", sessionID)
			}
			return err
		}

		if len(session.Log) > 0 {
			archivePath, err = s.store.Archive(session)
			if err != nil {
				return err
			}
		}
		return s.store.Delete(session.ID)
	})
	if err != nil {
		return "", err
	}

	event.Publish(event.Event{Type: event.SessionReset, Data: event.SessionResetData{SessionID: sessionID, ArchivePath: archivePath}})
	event.Publish(event.Event{Type: event.MonitorClose, Data: event.MonitorCloseData{SessionID: sessionID}})

	return archivePath, nil
}

// ResetAll resets every live session, serialized under the project lock so
// two bulk resets cannot interleave.
func (s *Service) ResetAll(ctx context.Context) (int, error) {
	count := 0
	scope := storage.ProjectScope(s.cfg.Project)
	err := s.locks.WithLock(ctx, scope, s.cfg.LockTimeout, func() error {
		sessions, err := s.store.ListActive()
		if err != nil {
			return err
		}
		for _, session := range sessions {
			if _, err := s.Reset(ctx, session.ID); err != nil {
				return fmt.Errorf("reset %s: %w", session.ID, err)
			}
			count++
		}
		return nil
	})
	return count, err
}
