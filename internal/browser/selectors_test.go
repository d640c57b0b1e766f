package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/result"
)

func writeProviderConfig(t *testing.T, dir, provider, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, provider+".json"), []byte(body), 0o644))
}

const chatgptConfig = `{
  // selectors for the chat UI
  "domains": ["chatgpt.com", "chat.openai.com"],
  "selectors": {
    "inputSelector": "#prompt-textarea",
    "sendButton": "button[data-testid='send-button']",
    "streamingIndicator": ".result-streaming",
    "responseSelector": "div[data-message-author-role='assistant']"
  },
  "timing": { "sendDelayMs": 250, "pollIntervalMs": 400 }
}`

func newTestSelectorStore(t *testing.T) (*SelectorStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := NewSelectorStore(dir)
	t.Cleanup(store.Close)
	return store, dir
}

func TestSelectorStoreLoadsJSONCWithComments(t *testing.T) {
	store, dir := newTestSelectorStore(t)
	writeProviderConfig(t, dir, "chatgpt", chatgptConfig)

	cfg, failure := store.Load("chatgpt")
	require.Nil(t, failure)
	assert.Equal(t, "#prompt-textarea", cfg.Selectors.Input)
	assert.Equal(t, []string{"chatgpt.com", "chat.openai.com"}, cfg.Domains)
	assert.Equal(t, 250, cfg.Timing.SendDelayMs)
	assert.Equal(t, 400, cfg.Timing.PollIntervalMs)
}

func TestSelectorStoreTimingDefaults(t *testing.T) {
	store, dir := newTestSelectorStore(t)
	writeProviderConfig(t, dir, "claude", `{
  "domains": ["claude.ai"],
  "selectors": {
    "inputSelector": "div.ProseMirror",
    "sendButton": "button[aria-label='Send']",
    "streamingIndicator": "[data-is-streaming='true']",
    "responseContainer": "div.font-claude-message"
  }
}`)

	cfg, failure := store.Load("claude")
	require.Nil(t, failure)
	assert.Equal(t, 500, cfg.Timing.SendDelayMs)
	assert.Equal(t, 1000, cfg.Timing.PollIntervalMs)
}

func TestSelectorStoreRejectsIncompleteConfig(t *testing.T) {
	store, dir := newTestSelectorStore(t)
	writeProviderConfig(t, dir, "broken", `{
  "domains": ["example.com"],
  "selectors": { "inputSelector": "#in" }
}`)

	_, failure := store.Load("broken")
	require.NotNil(t, failure)
	assert.Equal(t, result.CodeInvalidSelectorConfig, failure.Code)
}

func TestSelectorStoreUnknownProvider(t *testing.T) {
	store, _ := newTestSelectorStore(t)

	_, failure := store.Load("nope")
	require.NotNil(t, failure)
	assert.Equal(t, result.CodeInvalidSelectorConfig, failure.Code)
}

func TestSelectorStoreMatchProvider(t *testing.T) {
	store, dir := newTestSelectorStore(t)
	writeProviderConfig(t, dir, "chatgpt", chatgptConfig)

	provider, ok := store.MatchProvider("https://chatgpt.com/c/abc123")
	require.True(t, ok)
	assert.Equal(t, "chatgpt", provider)

	provider, ok = store.MatchProvider("https://chat.openai.com/")
	require.True(t, ok)
	assert.Equal(t, "chatgpt", provider)

	_, ok = store.MatchProvider("https://example.com/chatgpt.com")
	assert.False(t, ok)
}

func TestSelectorStoreProvidersListing(t *testing.T) {
	store, dir := newTestSelectorStore(t)
	writeProviderConfig(t, dir, "chatgpt", chatgptConfig)
	writeProviderConfig(t, dir, "claude", chatgptConfig)

	providers := store.Providers()
	assert.ElementsMatch(t, []string{"chatgpt", "claude"}, providers)
}

func TestMatchesDomainSubdomainsOnly(t *testing.T) {
	assert.True(t, matchesDomain("chatgpt.com", "chatgpt.com"))
	assert.True(t, matchesDomain("www.chatgpt.com", "chatgpt.com"))
	assert.False(t, matchesDomain("evilchatgpt.com", "chatgpt.com"))
	assert.False(t, matchesDomain("chatgpt.com.evil.io", "chatgpt.com"))
}
