// Package server exposes the deliberation coordinator as an MCP tool
// server over stdio, plus an optional read-only HTTP status surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quorumlabs/quorum/internal/browser"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/council"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
	"github.com/quorumlabs/quorum/internal/router"
)

const (
	serverName    = "quorum"
	serverVersion = "0.1.0"
)

// Deps are the wired subsystems the tool handlers call into.
type Deps struct {
	Config    *config.Config
	Council   *council.Service
	Router    *router.Router
	Discovery *router.Discovery
	Port      browser.ControlPort
}

// New creates the MCP server with every coordinator tool registered.
func New(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)

	h := &handlers{deps: deps}

	s.AddTool(mcp.NewTool("start",
		mcp.WithDescription("Start a deliberation session with a topic, speakers, and round count"),
		mcp.WithString("topic", mcp.Required(), mcp.Description("What the deliberation is about")),
		mcp.WithNumber("rounds", mcp.Description("How many full rotations to run (default 2)")),
		mcp.WithArray("speakers", mcp.Required(), mcp.Description("Speaker names in rotation order"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("first_speaker", mcp.Description("Who opens; defaults to the caller, then the first speaker")),
		mcp.WithObject("profiles", mcp.Description("Per-speaker transport profiles, keyed by speaker name")),
	), guard("start", h.start))

	s.AddTool(mcp.NewTool("respond",
		mcp.WithDescription("Submit the current speaker's turn"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
		mcp.WithString("speaker", mcp.Required(), mcp.Description("Who is responding")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The turn content")),
		mcp.WithString("turn_id", mcp.Description("Idempotency token from route_turn; omit for trusted direct submits")),
	), guard("respond", h.respond))

	s.AddTool(mcp.NewTool("route_turn",
		mcp.WithDescription("Resolve the current speaker's channel and run it: drives automated browser turns, copies clipboard prompts, returns instructions for direct submits"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
	), guard("route_turn", h.routeTurn))

	s.AddTool(mcp.NewTool("browser_auto_turn",
		mcp.WithDescription("Drive the current speaker's browser tab end to end: send the prompt, wait for the reply, submit it"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
		mcp.WithString("speaker", mcp.Description("Speaker to drive; defaults to the current speaker")),
	), guard("browser_auto_turn", h.browserAutoTurn))

	s.AddTool(mcp.NewTool("clipboard_prepare_turn",
		mcp.WithDescription("Render the current speaker's prompt and place it on the clipboard"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
		mcp.WithString("speaker", mcp.Description("Speaker to prepare for; defaults to the current speaker")),
	), guard("clipboard_prepare_turn", h.clipboardPrepare))

	s.AddTool(mcp.NewTool("clipboard_submit_turn",
		mcp.WithDescription("Submit a reply collected by hand; reads the clipboard when no response is given"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
		mcp.WithString("speaker", mcp.Required(), mcp.Description("Who the reply belongs to")),
		mcp.WithString("turn_id", mcp.Description("Idempotency token from clipboard_prepare_turn")),
		mcp.WithString("response", mcp.Description("The reply text; empty means read the clipboard")),
	), guard("clipboard_submit_turn", h.clipboardSubmit))

	s.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Show one session's state: speakers, round, whose turn it is"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
	), guard("status", h.status))

	s.AddTool(mcp.NewTool("list_active",
		mcp.WithDescription("List live sessions for this project, most recently updated first"),
	), guard("list_active", h.listActive))

	s.AddTool(mcp.NewTool("history",
		mcp.WithDescription("Show a session's transcript so far"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
	), guard("history", h.history))

	s.AddTool(mcp.NewTool("synthesize",
		mcp.WithDescription("Close a session with a synthesis and archive its transcript"),
		mcp.WithString("session_id", mcp.Description("Session id; defaults to the most recent active session")),
		mcp.WithString("synthesis", mcp.Required(), mcp.Description("The final synthesis text")),
	), guard("synthesize", h.synthesize))

	s.AddTool(mcp.NewTool("list_archives",
		mcp.WithDescription("List archived transcripts, newest first"),
	), guard("list_archives", h.listArchives))

	s.AddTool(mcp.NewTool("reset",
		mcp.WithDescription("Discard a session (archiving any recorded turns), or all sessions"),
		mcp.WithString("session_id", mcp.Description("Session to reset; empty with all=true resets every session")),
		mcp.WithBoolean("all", mcp.Description("Reset every live session in the project")),
	), guard("reset", h.reset))

	s.AddTool(mcp.NewTool("speaker_candidates",
		mcp.WithDescription("Discover how speakers could participate: agent CLIs on PATH and open provider tabs"),
	), guard("speaker_candidates", h.speakerCandidates))

	s.AddTool(mcp.NewTool("browser_llm_tabs",
		mcp.WithDescription("List open browser tabs that match a known chat provider"),
	), guard("browser_llm_tabs", h.browserLLMTabs))

	s.AddTool(mcp.NewTool("cli_config",
		mcp.WithDescription("Read or write the project's enabled-CLIs filter"),
		mcp.WithArray("enabled", mcp.Description("CLIs to enable; omit to read the current filter"),
			mcp.Items(map[string]any{"type": "string"})),
	), guard("cli_config", h.cliConfig))

	return s
}

// guard wraps a handler so a panic becomes a logged tool error instead of
// killing the stdio loop.
func guard(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (res *mcp.CallToolResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error().
					Str("tool", name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("tool handler panicked")
				res = mcp.NewToolResultError(fmt.Sprintf("internal error in %s", name))
				err = nil
			}
		}()
		return h(ctx, request)
	}
}

// jsonText marshals v as the tool's text payload.
func jsonText(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal response: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// failText renders an error as a tool error, keeping the classified
// failure shape when one is available.
func failText(err error) *mcp.CallToolResult {
	var failure *result.Failure
	if errors.As(err, &failure) {
		data, merr := json.Marshal(map[string]any{"ok": false, "error": failure})
		if merr == nil {
			return mcp.NewToolResultError(string(data))
		}
	}
	return mcp.NewToolResultError(err.Error())
}
