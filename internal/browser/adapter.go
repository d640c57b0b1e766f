package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
	"github.com/quorumlabs/quorum/pkg/types"
)

// reloadSettleDelay is how long a reloaded page gets to settle before the
// binding is considered usable again.
const reloadSettleDelay = 3 * time.Second

// binding is the per-session attachment record.
type binding struct {
	provider string
	urlHint  string
	tab      types.Tab
	cfg      *types.SelectorConfig
	wire     *wireClient
	// sent records turn ids already delivered, for idempotent resend.
	sent map[string]bool
}

// Adapter is the concrete ControlPort over a remote-debugging wire
// protocol.
type Adapter struct {
	cfg       *config.Config
	selectors *SelectorStore

	// dial and list are injectable for tests.
	dial  wireDialer
	list  func(ctx context.Context, endpoints []string) ([]types.Tab, []string)
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	bindings map[string]*binding
}

// NewAdapter creates the adapter over the given selector store.
func NewAdapter(cfg *config.Config, selectors *SelectorStore) *Adapter {
	return &Adapter{
		cfg:       cfg,
		selectors: selectors,
		dial:      dialWire,
		list:      ListTabs,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		bindings: make(map[string]*binding),
	}
}

// Attach binds a session to a provider tab. Tabs are matched by exact URL
// hint first, then by domain membership; the first match wins.
func (a *Adapter) Attach(ctx context.Context, sessionID, provider, urlHint string) result.Result[AttachInfo] {
	if provider == "" && urlHint != "" {
		provider, _ = a.selectors.MatchProvider(urlHint)
	}
	if provider == "" {
		return result.Fail[AttachInfo](result.CodeInvalidSelectorConfig, "no provider given and none matched the URL hint")
	}

	cfg, failure := a.selectors.Load(provider)
	if failure != nil {
		return result.FailErr[AttachInfo](failure)
	}

	listed, notes := a.list(ctx, a.cfg.DebugEndpoints)
	for _, note := range notes {
		logging.Debug().Str("note", note).Msg("tab discovery")
	}
	tabs := MergeTabs(listed, a.cfg.InjectedTabs)

	tab, found := pickTab(tabs, cfg, urlHint)
	if !found {
		return result.Failf[AttachInfo](result.CodeBindFailed,
			"no open tab matches provider %q across %d endpoint(s)", provider, len(a.cfg.DebugEndpoints))
	}
	if tab.WSURL == "" {
		return result.Failf[AttachInfo](result.CodeBindFailed, "tab %s has no debugger socket", tab.URL)
	}

	wire, failure := a.dial(ctx, tab.WSURL)
	if failure != nil {
		return result.FailErr[AttachInfo](failure)
	}

	a.mu.Lock()
	// A rebind for the same session keeps its sent-turn set so retried
	// sends stay idempotent across recovery.
	sent := map[string]bool{}
	if old, ok := a.bindings[sessionID]; ok {
		if old.provider == provider {
			sent = old.sent
		}
		old.wire.close()
	}
	a.bindings[sessionID] = &binding{
		provider: provider,
		urlHint:  urlHint,
		tab:      tab,
		cfg:      cfg,
		wire:     wire,
		sent:     sent,
	}
	a.mu.Unlock()

	logging.Info().Str("session", sessionID).Str("provider", provider).Str("tab", tab.URL).Msg("attached")
	return result.Ok(AttachInfo{Provider: provider, TabID: tab.ID, TabURL: tab.URL})
}

// pickTab applies the match policy: exact URL hint, then domain membership.
func pickTab(tabs []types.Tab, cfg *types.SelectorConfig, urlHint string) (types.Tab, bool) {
	if urlHint != "" {
		for _, tab := range tabs {
			if tab.URL == urlHint {
				return tab, true
			}
		}
	}
	for _, tab := range tabs {
		for _, domain := range cfg.Domains {
			if tabMatchesDomain(tab.URL, domain) {
				return tab, true
			}
		}
	}
	return types.Tab{}, false
}

func tabMatchesDomain(rawURL, domain string) bool {
	lowered := strings.ToLower(rawURL)
	domain = strings.ToLower(domain)
	rest, ok := strings.CutPrefix(lowered, "https://")
	if !ok {
		rest, ok = strings.CutPrefix(lowered, "http://")
		if !ok {
			return false
		}
	}
	host := rest
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		host = rest[:i]
	}
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return matchesDomain(host, domain)
}

func (a *Adapter) getBinding(sessionID string) (*binding, *result.Failure) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bindings[sessionID]
	if !ok {
		return nil, result.Failuref(result.CodeBindFailed, "session %s is not attached", sessionID)
	}
	return b, nil
}

// SendTurn injects the turn text and clicks send. Idempotent: a turn id
// that was already sent for this session returns success without touching
// the page.
func (a *Adapter) SendTurn(ctx context.Context, sessionID, turnID, text string) result.Result[result.Unit] {
	b, failure := a.getBinding(sessionID)
	if failure != nil {
		return result.FailErr[result.Unit](failure)
	}

	a.mu.Lock()
	already := b.sent[turnID]
	a.mu.Unlock()
	if already {
		logging.Debug().Str("session", sessionID).Str("turn", turnID).Msg("turn already sent, skipping")
		return result.Ok(result.Unit{})
	}

	status, failure := b.wire.evaluate(ctx, setInputJS(b.cfg.Selectors.Input, text))
	if failure != nil {
		return result.FailErr[result.Unit](failure)
	}
	if jsString(status) != "ok" {
		return result.Failf[result.Unit](result.CodeDOMChanged,
			"input selector %q matched nothing", b.cfg.Selectors.Input)
	}

	if err := a.sleep(ctx, time.Duration(b.cfg.Timing.SendDelayMs)*time.Millisecond); err != nil {
		return result.Fail[result.Unit](result.CodeTimeout, "cancelled before send click")
	}

	status, failure = b.wire.evaluate(ctx, clickJS(b.cfg.Selectors.SendButton))
	if failure != nil {
		return result.FailErr[result.Unit](failure)
	}
	if jsString(status) != "ok" {
		return result.Failf[result.Unit](result.CodeSendFailed,
			"send control %q matched nothing", b.cfg.Selectors.SendButton)
	}

	a.mu.Lock()
	b.sent[turnID] = true
	a.mu.Unlock()
	return result.Ok(result.Unit{})
}

// WaitTurnResult polls until the streaming indicator disappears and the
// response node yields non-empty text, or the timeout elapses.
func (a *Adapter) WaitTurnResult(ctx context.Context, sessionID, turnID string, timeout time.Duration) result.Result[TurnResult] {
	b, failure := a.getBinding(sessionID)
	if failure != nil {
		return result.FailErr[TurnResult](failure)
	}

	start := time.Now()
	deadline := start.Add(timeout)
	interval := time.Duration(b.cfg.Timing.PollIntervalMs) * time.Millisecond

	for {
		value, failure := b.wire.evaluate(ctx, pollJS(b.cfg.Selectors))
		if failure != nil {
			return result.FailErr[TurnResult](failure)
		}

		var state struct {
			Streaming bool   `json:"streaming"`
			Text      string `json:"text"`
		}
		if err := json.Unmarshal([]byte(jsString(value)), &state); err == nil {
			if !state.Streaming && strings.TrimSpace(state.Text) != "" {
				return result.Ok(TurnResult{
					Response:  strings.TrimSpace(state.Text),
					ElapsedMs: time.Since(start).Milliseconds(),
				})
			}
		}

		if time.Now().After(deadline) {
			return result.Failf[TurnResult](result.CodeTimeout,
				"no completed response for turn %s within %s", turnID, timeout)
		}
		if err := a.sleep(ctx, interval); err != nil {
			return result.Fail[TurnResult](result.CodeTimeout, "cancelled while waiting for response")
		}
	}
}

// Health checks that the bound page still evaluates.
func (a *Adapter) Health(ctx context.Context, sessionID string) result.Result[result.Unit] {
	b, failure := a.getBinding(sessionID)
	if failure != nil {
		return result.FailErr[result.Unit](failure)
	}
	if _, failure := b.wire.evaluate(ctx, "1+1"); failure != nil {
		return result.FailErr[result.Unit](failure)
	}
	return result.Ok(result.Unit{})
}

// Recover re-establishes the binding according to mode.
func (a *Adapter) Recover(ctx context.Context, sessionID string, mode RecoverMode) result.Result[result.Unit] {
	b, failure := a.getBinding(sessionID)
	if failure != nil {
		return result.FailErr[result.Unit](failure)
	}

	switch mode {
	case RecoverRebind:
		if res := a.Attach(ctx, sessionID, b.provider, b.urlHint); !res.OK {
			return result.FailErr[result.Unit](res.Err)
		}
		return result.Ok(result.Unit{})

	case RecoverReload:
		if _, failure := b.wire.call(ctx, "Page.reload", map[string]any{"ignoreCache": false}); failure != nil {
			return result.FailErr[result.Unit](failure)
		}
		if err := a.sleep(ctx, reloadSettleDelay); err != nil {
			return result.Fail[result.Unit](result.CodeTimeout, "cancelled during reload settle")
		}
		return result.Ok(result.Unit{})

	case RecoverReopen:
		a.Detach(ctx, sessionID)
		if res := a.Attach(ctx, sessionID, b.provider, b.urlHint); !res.OK {
			return result.FailErr[result.Unit](res.Err)
		}
		return result.Ok(result.Unit{})

	default:
		return result.Failf[result.Unit](result.CodeInternal, "unknown recover mode %q", mode)
	}
}

// Detach releases the session's binding.
func (a *Adapter) Detach(ctx context.Context, sessionID string) result.Result[result.Unit] {
	a.mu.Lock()
	b, ok := a.bindings[sessionID]
	if ok {
		delete(a.bindings, sessionID)
	}
	a.mu.Unlock()

	if ok {
		b.wire.close()
	}
	return result.Ok(result.Unit{})
}

// jsString unwraps a JSON-encoded string value returned by evaluate.
func jsString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func jsLiteral(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

// setInputJS locates the input element, sets its content, and dispatches
// an input event so framework-bound inputs notice the change.
func setInputJS(selector, text string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return "missing";
  el.focus();
  if (el.tagName === "TEXTAREA" || el.tagName === "INPUT") { el.value = %s; }
  else { el.innerText = %s; }
  el.dispatchEvent(new Event("input", { bubbles: true }));
  return "ok";
})()`, jsLiteral(selector), jsLiteral(text), jsLiteral(text))
}

// clickJS locates and clicks the send control.
func clickJS(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return "missing";
  el.click();
  return "ok";
})()`, jsLiteral(selector))
}

// pollJS reports streaming state and the latest response text as a JSON
// string.
func pollJS(sel types.Selectors) string {
	responseSelector := sel.Response
	if responseSelector == "" {
		responseSelector = sel.ResponseContainer
	}
	return fmt.Sprintf(`(() => {
  const streaming = !!document.querySelector(%s);
  let text = "";
  const nodes = document.querySelectorAll(%s);
  if (nodes.length > 0) text = nodes[nodes.length - 1].innerText || "";
  return JSON.stringify({ streaming, text });
})()`, jsLiteral(sel.StreamingIndicator), jsLiteral(responseSelector))
}
