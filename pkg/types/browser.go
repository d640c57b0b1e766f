package types

// Tab is one open browser tab reported by a remote-debugging endpoint or
// injected through configuration.
type Tab struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	WSURL    string `json:"webSocketDebuggerUrl,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	// Source records which discovery mechanism produced the tab
	// ("debugger", "injected").
	Source string `json:"source,omitempty"`
	// Provider is the matched selector-config provider, when known.
	Provider string `json:"provider,omitempty"`
}

// SelectorConfig is the static per-provider description of a chat UI:
// which tabs belong to the provider, where its controls live, and how long
// to wait between interactions. Loaded from disk, never mutated at runtime.
type SelectorConfig struct {
	Domains   []string  `json:"domains"`
	Selectors Selectors `json:"selectors"`
	Timing    Timing    `json:"timing"`
}

// Selectors holds the CSS selectors for the provider's chat controls.
type Selectors struct {
	Input              string `json:"inputSelector"`
	SendButton         string `json:"sendButton"`
	StreamingIndicator string `json:"streamingIndicator"`
	ResponseContainer  string `json:"responseContainer"`
	Response           string `json:"responseSelector"`
}

// Timing holds the provider's interaction delays, in milliseconds.
type Timing struct {
	SendDelayMs    int `json:"sendDelayMs"`
	PollIntervalMs int `json:"pollIntervalMs"`
}

// CLIConfig is the small per-project file listing enabled local CLIs.
type CLIConfig struct {
	Enabled []string `json:"enabled"`
}
