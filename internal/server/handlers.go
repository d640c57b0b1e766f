package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/quorumlabs/quorum/internal/council"
	"github.com/quorumlabs/quorum/internal/router"
	"github.com/quorumlabs/quorum/internal/storage"
	"github.com/quorumlabs/quorum/pkg/types"
)

// handlers holds the tool implementations.
type handlers struct {
	deps Deps
}

// sessionView is the session summary returned by status and list_active.
type sessionView struct {
	ID             string   `json:"sessionId"`
	Topic          string   `json:"topic"`
	Status         string   `json:"status"`
	Round          int      `json:"round"`
	MaxRounds      int      `json:"maxRounds"`
	Speakers       []string `json:"speakers"`
	CurrentSpeaker string   `json:"currentSpeaker"`
	Channel        string   `json:"channel,omitempty"`
	PendingTurnID  string   `json:"pendingTurnId,omitempty"`
	Turns          int      `json:"turns"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
}

func viewOf(session *types.Session) sessionView {
	v := sessionView{
		ID:             session.ID,
		Topic:          session.Topic,
		Status:         string(session.Status),
		Round:          session.CurrentRound,
		MaxRounds:      session.MaxRounds,
		Speakers:       session.Speakers,
		CurrentSpeaker: session.CurrentSpeaker,
		PendingTurnID:  session.PendingTurnID,
		Turns:          len(session.Log),
		UpdatedAtMs:    session.Time.Updated,
	}
	if session.Status == types.StatusActive {
		v.Channel = router.ResolveChannel(session.Profiles[session.CurrentSpeaker])
	}
	return v
}

func (h *handlers) start(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic, err := request.RequireString("topic")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	profiles, err := parseProfiles(request.GetArguments()["profiles"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	speakers := request.GetStringSlice("speakers", nil)
	first := request.GetString("first_speaker", "")
	if first == "" {
		first = h.deps.Config.Self
	}

	session, err := h.deps.Council.Start(ctx, council.StartParams{
		Topic:        topic,
		Rounds:       request.GetInt("rounds", 2),
		Speakers:     speakers,
		FirstSpeaker: first,
		Profiles:     profiles,
	})
	if err != nil {
		return failText(err), nil
	}
	return jsonText(viewOf(session)), nil
}

// parseProfiles coerces the raw profiles argument into typed profiles.
func parseProfiles(raw any) (map[string]types.Profile, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("profiles must be an object: %v", err)
	}
	var profiles map[string]types.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("unparseable profiles: %v", err)
	}
	return profiles, nil
}

func (h *handlers) respond(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	speaker, err := request.RequireString("speaker")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	session, err := h.deps.Council.Resolve(request.GetString("session_id", ""))
	if err != nil {
		return failText(err), nil
	}

	res, err := h.deps.Council.Submit(ctx, council.SubmitParams{
		SessionID: session.ID,
		Speaker:   speaker,
		Content:   content,
		TurnID:    request.GetString("turn_id", ""),
		Channel:   router.ResolveChannel(session.Profiles[speaker]),
	})
	if err != nil {
		return failText(err), nil
	}

	return jsonText(map[string]any{
		"outcome": res.Outcome,
		"session": viewOf(res.Session),
	}), nil
}

func (h *handlers) routeTurn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	decision, err := h.deps.Router.RouteTurn(ctx, request.GetString("session_id", ""))
	if err != nil {
		return failText(err), nil
	}
	return jsonText(decision), nil
}

func (h *handlers) browserAutoTurn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.deps.Router.BrowserAutoTurn(ctx,
		request.GetString("session_id", ""),
		request.GetString("speaker", ""))
	if err != nil {
		return failText(err), nil
	}
	return jsonText(res), nil
}

func (h *handlers) clipboardPrepare(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prepared, err := h.deps.Router.ClipboardPrepare(ctx,
		request.GetString("session_id", ""),
		request.GetString("speaker", ""))
	if err != nil {
		return failText(err), nil
	}
	return jsonText(prepared), nil
}

func (h *handlers) clipboardSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	speaker, err := request.RequireString("speaker")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	session, err := h.deps.Council.Resolve(request.GetString("session_id", ""))
	if err != nil {
		return failText(err), nil
	}

	res, err := h.deps.Router.ClipboardSubmit(ctx, session.ID, speaker,
		request.GetString("turn_id", ""),
		request.GetString("response", ""))
	if err != nil {
		return failText(err), nil
	}

	return jsonText(map[string]any{
		"outcome": res.Outcome,
		"session": viewOf(res.Session),
	}), nil
}

func (h *handlers) status(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := h.deps.Council.Resolve(request.GetString("session_id", ""))
	if err != nil {
		return failText(err), nil
	}
	return jsonText(viewOf(session)), nil
}

func (h *handlers) listActive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := h.deps.Council.ListActive()
	if err != nil {
		return failText(err), nil
	}
	views := make([]sessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, viewOf(session))
	}
	return jsonText(views), nil
}

func (h *handlers) history(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := h.deps.Council.Resolve(request.GetString("session_id", ""))
	if err != nil {
		return failText(err), nil
	}
	return jsonText(map[string]any{
		"sessionId":  session.ID,
		"turns":      session.Log,
		"transcript": storage.RenderTranscript(session),
	}), nil
}

func (h *handlers) synthesize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("synthesis")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	session, err := h.deps.Council.Resolve(request.GetString("session_id", ""))
	if err != nil {
		return failText(err), nil
	}

	archivePath, err := h.deps.Council.Synthesize(ctx, session.ID, text)
	if err != nil {
		return failText(err), nil
	}
	return jsonText(map[string]any{
		"sessionId": session.ID,
		"archive":   archivePath,
	}), nil
}

func (h *handlers) listArchives(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	archives, err := h.deps.Council.ListArchives()
	if err != nil {
		return failText(err), nil
	}
	return jsonText(map[string]any{"archives": archives}), nil
}

func (h *handlers) reset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if request.GetBool("all", false) {
		count, err := h.deps.Council.ResetAll(ctx)
		if err != nil {
			return failText(err), nil
		}
		return jsonText(map[string]any{"reset": count}), nil
	}

	session, err := h.deps.Council.Resolve(request.GetString("session_id", ""))
	if err != nil {
		return failText(err), nil
	}
	archivePath, err := h.deps.Council.Reset(ctx, session.ID)
	if err != nil {
		return failText(err), nil
	}
	return jsonText(map[string]any{
		"sessionId": session.ID,
		"archive":   archivePath,
	}), nil
}

func (h *handlers) speakerCandidates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	candidates, notes := h.deps.Discovery.Candidates(ctx)
	return jsonText(map[string]any{
		"candidates": candidates,
		"notes":      notes,
	}), nil
}

func (h *handlers) browserLLMTabs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tabs, notes := h.deps.Discovery.LLMTabs(ctx)
	return jsonText(map[string]any{
		"tabs":  tabs,
		"notes": notes,
	}), nil
}

func (h *handlers) cliConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if raw, ok := request.GetArguments()["enabled"]; ok && raw != nil {
		enabled := request.GetStringSlice("enabled", nil)
		if err := h.deps.Discovery.SaveCLIConfig(types.CLIConfig{Enabled: enabled}); err != nil {
			return failText(err), nil
		}
	}
	return jsonText(map[string]any{
		"config":    h.deps.Discovery.LoadCLIConfig(),
		"available": h.deps.Discovery.CLIs(),
	}), nil
}
