package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"github.com/quorumlabs/quorum/internal/browser"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/council"
	"github.com/quorumlabs/quorum/internal/degrade"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
	"github.com/quorumlabs/quorum/pkg/types"
)

// Channel names the transport a turn travels over.
const (
	ChannelCLI         = "cli_respond"
	ChannelClipboard   = "clipboard"
	ChannelBrowserAuto = "browser_auto"
	ChannelManual      = "manual"
)

// responseWait bounds how long an automated browser turn waits for the
// provider to finish answering.
const responseWait = 120 * time.Second

// promptHistoryTurns is how many recent turns the rendered prompt carries.
const promptHistoryTurns = 6

// Router resolves session speakers to transports and drives the
// non-trivial ones (clipboard handoff, automated browser turns).
type Router struct {
	cfg     *config.Config
	council *council.Service
	port    browser.ControlPort

	// writeClip and readClip are injectable for tests.
	writeClip func(text string) error
	readClip  func() (string, error)
	// machineOpts tune the degradation pipeline, mainly for tests.
	machineOpts []degrade.Option
}

// NewRouter wires the router over the shared council service and browser
// port.
func NewRouter(cfg *config.Config, svc *council.Service, port browser.ControlPort) *Router {
	return &Router{
		cfg:       cfg,
		council:   svc,
		port:      port,
		writeClip: clipboard.WriteAll,
		readClip:  clipboard.ReadAll,
	}
}

// ResolveChannel maps a speaker profile onto its transport channel.
func ResolveChannel(p types.Profile) string {
	switch p.Kind {
	case types.ProfileCLI:
		return ChannelCLI
	case types.ProfileBrowser:
		return ChannelClipboard
	case types.ProfileBrowserAuto:
		return ChannelBrowserAuto
	case types.ProfileManual:
		return ChannelManual
	default:
		// Unprofiled speakers submit by hand.
		return ChannelManual
	}
}

// RouteDecision reports who held the floor and what the router did about
// it: for automated speakers the turn has already been driven, for
// clipboard speakers the prompt has already been copied.
type RouteDecision struct {
	SessionID     string          `json:"sessionId"`
	Speaker       string          `json:"speaker"`
	Round         int             `json:"round"`
	MaxRounds     int             `json:"maxRounds"`
	Channel       string          `json:"channel"`
	PendingTurnID string          `json:"pendingTurnId,omitempty"`
	Profile       types.Profile   `json:"profile"`
	Prompt        string          `json:"prompt,omitempty"`
	Copied        bool            `json:"copied,omitempty"`
	Auto          *AutoTurnResult `json:"autoTurn,omitempty"`
	Instructions  string          `json:"instructions"`
}

// RouteTurn resolves whose turn it is and executes the resolved channel.
// Clipboard speakers get their rendered prompt copied for pasting,
// automated browser speakers have the full turn driven and submitted, and
// CLI or manual speakers get the prompt plus instructions for a direct
// submit.
func (r *Router) RouteTurn(ctx context.Context, sessionID string) (*RouteDecision, error) {
	session, err := r.council.Resolve(sessionID)
	if err != nil {
		return nil, err
	}

	if session.Status != types.StatusActive {
		return &RouteDecision{
			SessionID:    session.ID,
			Speaker:      types.SpeakerNone,
			Round:        session.CurrentRound,
			MaxRounds:    session.MaxRounds,
			Channel:      ChannelManual,
			Instructions: "all rounds are complete; call synthesize to close the session",
		}, nil
	}

	speaker := session.CurrentSpeaker
	profile := session.Profiles[speaker]
	channel := ResolveChannel(profile)

	decision := &RouteDecision{
		SessionID:     session.ID,
		Speaker:       speaker,
		Round:         session.CurrentRound,
		MaxRounds:     session.MaxRounds,
		Channel:       channel,
		PendingTurnID: session.PendingTurnID,
		Profile:       profile,
		Instructions:  routeInstructions(channel, speaker),
	}

	switch channel {
	case ChannelClipboard:
		prepared, err := r.ClipboardPrepare(ctx, session.ID, speaker)
		if err != nil {
			return nil, err
		}
		decision.Prompt = prepared.Prompt
		decision.Copied = prepared.Copied
		if !prepared.Copied {
			decision.Instructions = fmt.Sprintf(
				"clipboard unavailable; copy the prompt by hand into %s's chat, then call clipboard_submit_turn with the reply", speaker)
		}
	case ChannelBrowserAuto:
		auto, err := r.BrowserAutoTurn(ctx, session.ID, speaker)
		if err != nil {
			return nil, err
		}
		decision.Auto = auto
		if auto.Outcome == AutoTurnSubmitted {
			decision.Instructions = fmt.Sprintf(
				"%s's turn was submitted automatically; call route_turn again for the next speaker", speaker)
		} else {
			decision.Instructions = fmt.Sprintf(
				"automation degraded; paste the clipboard prompt into %s's chat, then call clipboard_submit_turn with the reply", speaker)
		}
	default:
		decision.Prompt = RenderPrompt(session, speaker)
	}

	return decision, nil
}

func routeInstructions(channel, speaker string) string {
	switch channel {
	case ChannelCLI:
		return fmt.Sprintf("run %s's CLI with the rendered prompt, then call respond with its output", speaker)
	case ChannelClipboard:
		return fmt.Sprintf("the prompt is on the clipboard; paste it into %s's chat, then call clipboard_submit_turn with the reply", speaker)
	default:
		return fmt.Sprintf("collect %s's response by hand and call respond", speaker)
	}
}

// RenderPrompt builds the text handed to the current speaker: the topic,
// where the deliberation stands, and the recent turns.
func RenderPrompt(session *types.Session, speaker string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deliberation: %s\n", session.Topic)
	fmt.Fprintf(&b, "Round %d of %d. Speakers in order: %s.\n",
		session.CurrentRound, session.MaxRounds, strings.Join(session.Speakers, ", "))

	if len(session.Log) == 0 {
		b.WriteString("\nNo turns yet; you open the deliberation.\n")
	} else {
		start := len(session.Log) - promptHistoryTurns
		if start < 0 {
			start = 0
		}
		if start > 0 {
			fmt.Fprintf(&b, "\n(%d earlier turns omitted)\n", start)
		}
		b.WriteString("\n")
		for _, turn := range session.Log[start:] {
			fmt.Fprintf(&b, "[round %d] %s: %s\n", turn.Round, turn.Speaker, turn.Content)
		}
	}

	fmt.Fprintf(&b, "\nYou are %s. Give your position for this round. Be concrete and address the previous speakers' points.\n", speaker)
	return b.String()
}

// preparedTurn carries what a transport needs to deliver one turn.
type preparedTurn struct {
	Session *types.Session
	Speaker string
	TurnID  string
	Prompt  string
}

// prepareTurn loads the session and verifies the speaker currently holds
// the floor.
func (r *Router) prepareTurn(sessionID, speaker string) (*preparedTurn, error) {
	session, err := r.council.Resolve(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.StatusActive {
		return nil, result.Failuref(result.CodeSessionExpired, "session %s is %s", session.ID, session.Status)
	}
	if speaker == "" {
		speaker = session.CurrentSpeaker
	}
	if session.CurrentSpeaker != speaker {
		return nil, result.Failuref(result.CodeNotCurrentSpeaker,
			"it is %s's turn, not %s's", session.CurrentSpeaker, speaker)
	}
	return &preparedTurn{
		Session: session,
		Speaker: speaker,
		TurnID:  session.PendingTurnID,
		Prompt:  RenderPrompt(session, speaker),
	}, nil
}

// ClipboardPrepared is the result of staging a clipboard turn.
type ClipboardPrepared struct {
	Speaker string `json:"speaker"`
	TurnID  string `json:"turnId"`
	Prompt  string `json:"prompt"`
	Copied  bool   `json:"copied"`
}

// ClipboardPrepare renders the current speaker's prompt and places it on
// the system clipboard. Clipboard failure is not fatal: the prompt is
// still returned for manual copying.
func (r *Router) ClipboardPrepare(ctx context.Context, sessionID, speaker string) (*ClipboardPrepared, error) {
	prepared, err := r.prepareTurn(sessionID, speaker)
	if err != nil {
		return nil, err
	}

	copied := true
	if err := r.writeClip(prepared.Prompt); err != nil {
		logging.Warn().Err(err).Msg("clipboard write failed, returning prompt inline")
		copied = false
	}

	return &ClipboardPrepared{
		Speaker: prepared.Speaker,
		TurnID:  prepared.TurnID,
		Prompt:  prepared.Prompt,
		Copied:  copied,
	}, nil
}

// ClipboardSubmit submits the speaker's reply. With an empty response the
// clipboard contents are used, covering the copy-reply-then-submit flow.
func (r *Router) ClipboardSubmit(ctx context.Context, sessionID, speaker, turnID, response string) (*council.SubmitResult, error) {
	if strings.TrimSpace(response) == "" {
		text, err := r.readClip()
		if err != nil {
			return nil, result.Failuref(result.CodeSendFailed, "no response given and clipboard unreadable: %v", err)
		}
		response = text
	}
	if strings.TrimSpace(response) == "" {
		return nil, result.NewFailure(result.CodeSendFailed, "response is empty")
	}

	return r.council.Submit(ctx, council.SubmitParams{
		SessionID: sessionID,
		Speaker:   speaker,
		Content:   strings.TrimSpace(response),
		TurnID:    turnID,
		Channel:   ChannelClipboard,
	})
}

// AutoTurnOutcome says how an automated browser turn ended.
type AutoTurnOutcome string

const (
	// AutoTurnSubmitted means the response was captured and accepted.
	AutoTurnSubmitted AutoTurnOutcome = "submitted"
	// AutoTurnFallback means automation degraded; the prompt is on the
	// clipboard and the turn id remains valid for a manual submit.
	AutoTurnFallback AutoTurnOutcome = "fallback_clipboard"
)

// AutoTurnResult is the outcome of one automated browser turn.
type AutoTurnResult struct {
	Outcome  AutoTurnOutcome       `json:"outcome"`
	Speaker  string                `json:"speaker"`
	TurnID   string                `json:"turnId"`
	Response string                `json:"response,omitempty"`
	Submit   *council.SubmitResult `json:"-"`
	// Degradation reports the recovery pipeline's final snapshot.
	Degradation degrade.Snapshot `json:"degradation"`
}

// portRecovery adapts the browser port to the degradation pipeline's
// escalation hooks. Its fallback stages the prompt on the clipboard so a
// human can finish the turn.
type portRecovery struct {
	router    *Router
	sessionID string
	prompt    string
}

func (p *portRecovery) Rebind(ctx context.Context) error {
	if res := p.router.port.Recover(ctx, p.sessionID, browser.RecoverRebind); !res.OK {
		return res.Err
	}
	return nil
}

func (p *portRecovery) Reload(ctx context.Context) error {
	if res := p.router.port.Recover(ctx, p.sessionID, browser.RecoverReload); !res.OK {
		return res.Err
	}
	return nil
}

func (p *portRecovery) Fallback(ctx context.Context, last *result.Failure) error {
	// Permanent config problems cannot be papered over by a manual paste.
	if last != nil && last.Code == result.CodeInvalidSelectorConfig {
		return degrade.ErrFallbackSkipped
	}
	return p.router.writeClip(p.prompt)
}

// BrowserAutoTurn drives one full automated turn: bind the speaker's tab,
// deliver the prompt, wait for the response, and submit it. Failures run
// the escalating recovery pipeline; when that ends in fallback the prompt
// lands on the clipboard and the pending turn id stays valid so the same
// turn can be finished by hand.
func (r *Router) BrowserAutoTurn(ctx context.Context, sessionID, speaker string) (*AutoTurnResult, error) {
	prepared, err := r.prepareTurn(sessionID, speaker)
	if err != nil {
		return nil, err
	}

	profile := prepared.Session.Profiles[prepared.Speaker]
	if profile.Kind != types.ProfileBrowserAuto {
		return nil, result.Failuref(result.CodeBindFailed,
			"speaker %s has profile %q, not %q", prepared.Speaker, profile.Kind, types.ProfileBrowserAuto)
	}

	// The binding is released once the turn ends, however it ends.
	defer func() {
		if res := r.port.Detach(ctx, prepared.Session.ID); !res.OK {
			logging.Warn().Err(res.Err).Str("session", prepared.Session.ID).Msg("detach after automated turn failed")
		}
	}()

	primary := func(ctx context.Context) result.Result[browser.TurnResult] {
		if res := r.port.Attach(ctx, prepared.Session.ID, profile.Provider, profile.URL); !res.OK {
			return result.FailErr[browser.TurnResult](res.Err)
		}
		if res := r.port.SendTurn(ctx, prepared.Session.ID, prepared.TurnID, prepared.Prompt); !res.OK {
			return result.FailErr[browser.TurnResult](res.Err)
		}
		return r.port.WaitTurnResult(ctx, prepared.Session.ID, prepared.TurnID, responseWait)
	}

	recovery := &portRecovery{router: r, sessionID: prepared.Session.ID, prompt: prepared.Prompt}
	machine := degrade.New(primary, recovery, r.machineOpts...)

	res := machine.Execute(ctx)
	snapshot := machine.Snapshot()

	if !res.OK {
		if snapshot.FallbackHandled {
			logging.Warn().
				Str("session", prepared.Session.ID).
				Str("speaker", prepared.Speaker).
				Str("state", string(snapshot.State)).
				Msg("automation degraded to clipboard")
			return &AutoTurnResult{
				Outcome:     AutoTurnFallback,
				Speaker:     prepared.Speaker,
				TurnID:      prepared.TurnID,
				Degradation: snapshot,
			}, nil
		}
		return nil, res.Err
	}

	submit, err := r.council.Submit(ctx, council.SubmitParams{
		SessionID: prepared.Session.ID,
		Speaker:   prepared.Speaker,
		Content:   res.Data.Response,
		TurnID:    prepared.TurnID,
		Channel:   ChannelBrowserAuto,
	})
	if err != nil {
		return nil, err
	}

	return &AutoTurnResult{
		Outcome:     AutoTurnSubmitted,
		Speaker:     prepared.Speaker,
		TurnID:      prepared.TurnID,
		Response:    res.Data.Response,
		Submit:      submit,
		Degradation: snapshot,
	}, nil
}
