// Package browser implements the browser control port: attaching to a
// chat-provider tab through a remote-debugging endpoint, injecting turn
// prompts, and observing streaming completion, with idempotent resend and
// staged recovery.
package browser

import (
	"context"
	"time"

	"github.com/quorumlabs/quorum/internal/result"
)

// RecoverMode selects how Recover re-establishes a binding.
type RecoverMode string

const (
	// RecoverRebind re-runs attach for the same provider.
	RecoverRebind RecoverMode = "rebind"
	// RecoverReload reloads the bound page and waits for it to settle.
	RecoverReload RecoverMode = "reload"
	// RecoverReopen clears the binding and attaches from scratch.
	RecoverReopen RecoverMode = "reopen"
)

// AttachInfo describes an established binding.
type AttachInfo struct {
	Provider string `json:"provider"`
	TabID    string `json:"tabHandle"`
	TabURL   string `json:"tabURL"`
}

// TurnResult is a completed response read from the page.
type TurnResult struct {
	Response  string `json:"response"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// ControlPort is the capability interface for driving a browser-hosted
// chat agent. The concrete adapter plugs into the degradation pipeline as
// its primary action.
type ControlPort interface {
	Attach(ctx context.Context, sessionID, provider, urlHint string) result.Result[AttachInfo]
	SendTurn(ctx context.Context, sessionID, turnID, text string) result.Result[result.Unit]
	WaitTurnResult(ctx context.Context, sessionID, turnID string, timeout time.Duration) result.Result[TurnResult]
	Health(ctx context.Context, sessionID string) result.Result[result.Unit]
	Recover(ctx context.Context, sessionID string, mode RecoverMode) result.Result[result.Unit]
	Detach(ctx context.Context, sessionID string) result.Result[result.Unit]
}
