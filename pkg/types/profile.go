package types

// ProfileKind discriminates how a speaker's responses are obtained.
type ProfileKind string

const (
	// ProfileCLI is a locally runnable command-line agent.
	ProfileCLI ProfileKind = "cli"
	// ProfileBrowser is a browser-hosted agent driven by hand via the
	// clipboard flow.
	ProfileBrowser ProfileKind = "browser"
	// ProfileBrowserAuto is a browser-hosted agent driven through the
	// remote-debugging protocol.
	ProfileBrowserAuto ProfileKind = "browser_auto"
	// ProfileManual is a human participant.
	ProfileManual ProfileKind = "manual"
)

// Profile describes how one speaker participates. Kind selects the variant;
// the remaining fields are variant-specific metadata.
type Profile struct {
	Kind ProfileKind `json:"type"`
	// Command is the executable for ProfileCLI speakers.
	Command string `json:"command,omitempty"`
	// Provider names the browser chat provider (selector config key) for
	// ProfileBrowser and ProfileBrowserAuto speakers.
	Provider string `json:"provider,omitempty"`
	// URL is the tab URL hint for browser speakers.
	URL string `json:"url,omitempty"`
}
