package council

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/result"
	"github.com/quorumlabs/quorum/internal/storage"
	"github.com/quorumlabs/quorum/pkg/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		StateRoot:    t.TempDir(),
		Project:      "testproj-0000",
		LockTimeout:  2 * time.Second,
		LockStaleAge: 30 * time.Second,
	}
	store := storage.NewStore(cfg.SessionsDir(), cfg.MirrorDir(), cfg.ArchiveDir())
	locks := storage.NewLockManager(cfg.LocksDir(), cfg.LockStaleAge)
	return NewService(cfg, store, locks)
}

func startPricing(t *testing.T, s *Service) *types.Session {
	t.Helper()
	session, err := s.Start(context.Background(), StartParams{
		Topic:        "Pricing",
		Rounds:       2,
		Speakers:     []string{"alice", "bob"},
		FirstSpeaker: "alice",
	})
	require.NoError(t, err)
	return session
}

func submit(t *testing.T, s *Service, id, speaker, content string) *SubmitResult {
	t.Helper()
	res, err := s.Submit(context.Background(), SubmitParams{
		SessionID: id, Speaker: speaker, Content: content, Channel: "direct",
	})
	require.NoError(t, err)
	return res
}

func TestStart_ScenarioA(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)

	assert.Equal(t, types.StatusActive, session.Status)
	assert.Equal(t, 1, session.CurrentRound)
	assert.Equal(t, "alice", session.CurrentSpeaker)
	assert.Equal(t, []string{"alice", "bob"}, session.Speakers)
	assert.NotEmpty(t, session.PendingTurnID)
}

func TestSubmit_ScenariosBThroughD(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)

	// B: alice submits, rotation advances within round 1.
	res := submit(t, s, session.ID, "alice", "X")
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, "bob", res.Session.CurrentSpeaker)
	assert.Equal(t, 1, res.Session.CurrentRound)

	// C: bob completes the rotation, round becomes 2.
	res = submit(t, s, session.ID, "bob", "Y")
	assert.Equal(t, 2, res.Session.CurrentRound)
	assert.Equal(t, "alice", res.Session.CurrentSpeaker)

	// D: final round completes, session awaits synthesis.
	submit(t, s, session.ID, "alice", "Z")
	res = submit(t, s, session.ID, "bob", "W")
	assert.Equal(t, types.StatusAwaitingSynthesis, res.Session.Status)
	assert.Equal(t, types.SpeakerNone, res.Session.CurrentSpeaker)
	assert.Empty(t, res.Session.PendingTurnID)
	assert.Len(t, res.Session.Log, 4)
}

func TestSynthesize_ScenarioE(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)
	submit(t, s, session.ID, "alice", "X")
	submit(t, s, session.ID, "bob", "Y")
	submit(t, s, session.ID, "alice", "Z")
	submit(t, s, session.ID, "bob", "W")

	path, err := s.Synthesize(context.Background(), session.ID, "Summary")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Summary")
	assert.Contains(t, string(data), "completed")

	// Live record is gone.
	_, err = s.Get(session.ID)
	var failure *result.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, result.CodeSessionNotFound, failure.Code)
}

func TestFullCycleTurnCount(t *testing.T) {
	s := newTestService(t)
	session, err := s.Start(context.Background(), StartParams{
		Topic:    "Naming",
		Rounds:   3,
		Speakers: []string{"a", "b", "c"},
	})
	require.NoError(t, err)

	speakers := []string{"a", "b", "c"}
	for i := 0; i < 3*3; i++ {
		res := submit(t, s, session.ID, speakers[i%3], "turn")
		if i < 8 {
			assert.Equal(t, types.StatusActive, res.Session.Status, "turn %d", i)
		}
	}

	final, err := s.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingSynthesis, final.Status)
	assert.Equal(t, types.SpeakerNone, final.CurrentSpeaker)
	assert.Len(t, final.Log, 9)
}

func TestSubmit_OutOfTurnDoesNotMutate(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)

	res, err := s.Submit(context.Background(), SubmitParams{
		SessionID: session.ID, Speaker: "bob", Content: "too early",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeWait, res.Outcome)
	assert.Nil(t, res.Turn)

	reloaded, err := s.Get(session.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Log)
	assert.Equal(t, 1, reloaded.CurrentRound)
	assert.Equal(t, "alice", reloaded.CurrentSpeaker)
	assert.Equal(t, session.PendingTurnID, reloaded.PendingTurnID)
}

func TestSubmit_StaleTurnIDRejectedWithoutMutation(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)

	_, err := s.Submit(context.Background(), SubmitParams{
		SessionID: session.ID, Speaker: "alice", Content: "X", TurnID: "stale-token",
	})
	var failure *result.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, result.CodeStaleTurnID, failure.Code)

	reloaded, err := s.Get(session.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Log)
}

func TestSubmit_MatchingTurnIDAccepted(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)

	res, err := s.Submit(context.Background(), SubmitParams{
		SessionID: session.ID, Speaker: "alice", Content: "X", TurnID: session.PendingTurnID,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, session.PendingTurnID, res.Turn.TurnID)
	assert.NotEqual(t, session.PendingTurnID, res.Session.PendingTurnID, "fresh token issued")
}

func TestSubmit_UnknownSpeakerRejected(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)

	_, err := s.Submit(context.Background(), SubmitParams{
		SessionID: session.ID, Speaker: "mallory", Content: "hi",
	})
	var failure *result.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, result.CodeNotCurrentSpeaker, failure.Code)
}

func TestSubmit_NonActiveSessionRejected(t *testing.T) {
	s := newTestService(t)
	session := startPricing(t, s)
	submit(t, s, session.ID, "alice", "X")
	submit(t, s, session.ID, "bob", "Y")
	submit(t, s, session.ID, "alice", "Z")
	submit(t, s, session.ID, "bob", "W")

	_, err := s.Submit(context.Background(), SubmitParams{
		SessionID: session.ID, Speaker: "alice", Content: "late",
	})
	var failure *result.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, result.CodeSessionExpired, failure.Code)
}

func TestNormalizeSpeakers(t *testing.T) {
	got := NormalizeSpeakers([]string{" Alice ", "BOB", "alice", "", "none", "carol"})
	assert.Equal(t, []string{"alice", "bob", "carol"}, got)
}

func TestFirstSpeakerPrecedence(t *testing.T) {
	s := newTestService(t)
	s.cfg.Self = "bob"
	ctx := context.Background()

	// Explicit wins over self.
	session, err := s.Start(ctx, StartParams{Topic: "T1", Rounds: 1, Speakers: []string{"alice", "bob"}, FirstSpeaker: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", session.CurrentSpeaker)

	// Self wins when no explicit choice.
	session, err = s.Start(ctx, StartParams{Topic: "T2", Rounds: 1, Speakers: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "bob", session.CurrentSpeaker)

	// Non-member explicit choice falls through to self.
	session, err = s.Start(ctx, StartParams{Topic: "T3", Rounds: 1, Speakers: []string{"alice", "bob"}, FirstSpeaker: "zed"})
	require.NoError(t, err)
	assert.Equal(t, "bob", session.CurrentSpeaker)

	// Neither explicit nor self: first of the list.
	s.cfg.Self = ""
	session, err = s.Start(ctx, StartParams{Topic: "T4", Rounds: 1, Speakers: []string{"carol", "dave"}})
	require.NoError(t, err)
	assert.Equal(t, "carol", session.CurrentSpeaker)
}

func TestReset_ArchivesNonEmptySessions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	withTurns := startPricing(t, s)
	submit(t, s, withTurns.ID, "alice", "something said")

	empty, err := s.Start(ctx, StartParams{Topic: "Empty", Rounds: 1, Speakers: []string{"alice"}})
	require.NoError(t, err)

	path, err := s.Reset(ctx, withTurns.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, path, "session with turns must be archived")

	path, err = s.Reset(ctx, empty.ID)
	require.NoError(t, err)
	assert.Empty(t, path, "empty session must not be archived")

	sessions, err := s.ListActive()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestResetAll(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	startPricing(t, s)
	_, err := s.Start(ctx, StartParams{Topic: "Other", Rounds: 1, Speakers: []string{"x", "y"}})
	require.NoError(t, err)

	count, err := s.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	sessions, err := s.ListActive()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestResolve(t *testing.T) {
	s := newTestService(t)
	startPricing(t, s)
	time.Sleep(5 * time.Millisecond)
	second, err := s.Start(context.Background(), StartParams{Topic: "Newer", Rounds: 1, Speakers: []string{"a"}})
	require.NoError(t, err)

	got, err := s.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID, "empty id resolves to most recently updated")

	_, err = s.Resolve("missing-id")
	var failure *result.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, result.CodeSessionNotFound, failure.Code)
}
