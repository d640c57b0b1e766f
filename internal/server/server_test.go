package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/browser"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/council"
	"github.com/quorumlabs/quorum/internal/router"
	"github.com/quorumlabs/quorum/internal/storage"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	cfg := &config.Config{
		StateRoot:    t.TempDir(),
		Project:      "testproj-0000",
		LockTimeout:  2 * time.Second,
		LockStaleAge: 30 * time.Second,
	}
	store := storage.NewStore(cfg.SessionsDir(), cfg.MirrorDir(), cfg.ArchiveDir())
	locks := storage.NewLockManager(cfg.LocksDir(), cfg.LockStaleAge)
	svc := council.NewService(cfg, store, locks)

	selectors := browser.NewSelectorStore(cfg.ProvidersDir())
	t.Cleanup(selectors.Close)
	port := browser.NewAdapter(cfg, selectors)

	return Deps{
		Config:    cfg,
		Council:   svc,
		Router:    router.NewRouter(cfg, svc, port),
		Discovery: router.NewDiscovery(cfg, selectors),
		Port:      port,
	}
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// call invokes a handler and decodes its JSON text payload into out.
func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := h(context.Background(), toolRequest(name, args))
	require.NoError(t, err)
	require.NotNil(t, res)
	if out != nil && !res.IsError {
		text := textOf(t, res)
		require.NoError(t, json.Unmarshal([]byte(text), out))
	}
	return res
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

func startSession(t *testing.T, h *handlers) sessionView {
	t.Helper()
	var view sessionView
	res := call(t, h.start, "start", map[string]any{
		"topic":         "Release cadence",
		"rounds":        2,
		"speakers":      []any{"alice", "bob"},
		"first_speaker": "alice",
	}, &view)
	require.False(t, res.IsError, textOf(t, res))
	return view
}

func TestNewRegistersTools(t *testing.T) {
	s := New(newTestDeps(t))
	require.NotNil(t, s)
}

func TestStartTool(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	view := startSession(t, h)

	assert.Equal(t, "Release cadence", view.Topic)
	assert.Equal(t, "active", view.Status)
	assert.Equal(t, "alice", view.CurrentSpeaker)
	assert.Equal(t, []string{"alice", "bob"}, view.Speakers)
	assert.NotEmpty(t, view.PendingTurnID)
}

func TestStartToolRequiresTopic(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	res := call(t, h.start, "start", map[string]any{
		"speakers": []any{"alice"},
	}, nil)
	assert.True(t, res.IsError)
}

func TestStartToolWithProfiles(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	var view sessionView
	res := call(t, h.start, "start", map[string]any{
		"topic":    "Schema design",
		"speakers": []any{"alice", "bob"},
		"profiles": map[string]any{
			"alice": map[string]any{"type": "browser_auto", "provider": "chatgpt"},
			"bob":   map[string]any{"type": "cli", "command": "claude"},
		},
	}, &view)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, router.ChannelBrowserAuto, view.Channel)
}

func TestRespondToolAdvancesRotation(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	startSession(t, h)

	var out struct {
		Outcome string      `json:"outcome"`
		Session sessionView `json:"session"`
	}
	res := call(t, h.respond, "respond", map[string]any{
		"speaker": "alice",
		"content": "ship every two weeks",
	}, &out)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, "accepted", out.Outcome)
	assert.Equal(t, "bob", out.Session.CurrentSpeaker)
	assert.Equal(t, 1, out.Session.Turns)
}

func TestRespondToolOutOfTurnWaits(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	startSession(t, h)

	var out struct {
		Outcome string      `json:"outcome"`
		Session sessionView `json:"session"`
	}
	res := call(t, h.respond, "respond", map[string]any{
		"speaker": "bob",
		"content": "me first",
	}, &out)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, "wait", out.Outcome)
	assert.Equal(t, 0, out.Session.Turns)
}

func TestRespondToolStaleTokenIsToolError(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	startSession(t, h)

	res := call(t, h.respond, "respond", map[string]any{
		"speaker": "alice",
		"content": "text",
		"turn_id": "bogus-token",
	}, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "STALE_TURN_ID")
}

func TestRespondToolRecordsSpeakerChannel(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	var view sessionView
	res := call(t, h.start, "start", map[string]any{
		"topic":         "Channel audit",
		"speakers":      []any{"alice", "bob"},
		"first_speaker": "alice",
		"profiles": map[string]any{
			"alice": map[string]any{"type": "cli", "command": "claude"},
			"bob":   map[string]any{"type": "manual"},
		},
	}, &view)
	require.False(t, res.IsError, textOf(t, res))

	call(t, h.respond, "respond", map[string]any{"speaker": "alice", "content": "first"}, nil)
	call(t, h.respond, "respond", map[string]any{"speaker": "bob", "content": "second"}, nil)

	session, err := h.deps.Council.Get(view.ID)
	require.NoError(t, err)
	require.Len(t, session.Log, 2)
	assert.Equal(t, router.ChannelCLI, session.Log[0].ChannelUsed)
	assert.Equal(t, router.ChannelManual, session.Log[1].ChannelUsed)
}

func TestRouteTurnTool(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	view := startSession(t, h)

	var decision router.RouteDecision
	res := call(t, h.routeTurn, "route_turn", nil, &decision)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, view.ID, decision.SessionID)
	assert.Equal(t, "alice", decision.Speaker)
	assert.Equal(t, view.PendingTurnID, decision.PendingTurnID)
}

func TestStatusToolResolvesMostRecent(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	view := startSession(t, h)

	var got sessionView
	res := call(t, h.status, "status", nil, &got)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, view.ID, got.ID)
}

func TestStatusToolNoSessions(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	res := call(t, h.status, "status", nil, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "SESSION_NOT_FOUND")
}

func TestHistoryTool(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	view := startSession(t, h)
	call(t, h.respond, "respond", map[string]any{
		"speaker": "alice", "content": "opening position",
	}, nil)

	var out struct {
		SessionID  string `json:"sessionId"`
		Transcript string `json:"transcript"`
	}
	res := call(t, h.history, "history", map[string]any{"session_id": view.ID}, &out)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, view.ID, out.SessionID)
	assert.Contains(t, out.Transcript, "opening position")
}

func TestSynthesizeAndListArchives(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	view := startSession(t, h)

	var out struct {
		SessionID string `json:"sessionId"`
		Archive   string `json:"archive"`
	}
	res := call(t, h.synthesize, "synthesize", map[string]any{
		"synthesis": "ship every two weeks, revisit quarterly",
	}, &out)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, view.ID, out.SessionID)
	assert.NotEmpty(t, out.Archive)

	var archives struct {
		Archives []string `json:"archives"`
	}
	res = call(t, h.listArchives, "list_archives", nil, &archives)
	require.False(t, res.IsError)
	assert.Len(t, archives.Archives, 1)

	// The live session is gone after synthesis.
	res = call(t, h.status, "status", map[string]any{"session_id": view.ID}, nil)
	assert.True(t, res.IsError)
}

func TestResetAllTool(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}
	startSession(t, h)

	var out struct {
		Reset int `json:"reset"`
	}
	res := call(t, h.reset, "reset", map[string]any{"all": true}, &out)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, 1, out.Reset)

	var views []sessionView
	call(t, h.listActive, "list_active", nil, &views)
	assert.Empty(t, views)
}

func TestCLIConfigToolRoundTrip(t *testing.T) {
	h := &handlers{deps: newTestDeps(t)}

	var out struct {
		Config struct {
			Enabled []string `json:"enabled"`
		} `json:"config"`
	}
	res := call(t, h.cliConfig, "cli_config", map[string]any{
		"enabled": []any{"claude", "gemini"},
	}, &out)
	require.False(t, res.IsError, textOf(t, res))
	assert.Equal(t, []string{"claude", "gemini"}, out.Config.Enabled)
}

func TestGuardTurnsPanicIntoToolError(t *testing.T) {
	panicky := guard("boom", func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		panic("unexpected")
	})

	res, err := panicky(context.Background(), toolRequest("boom", nil))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.IsError)
}
