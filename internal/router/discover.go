// Package router decides how each speaker's turn travels: a local CLI, a
// clipboard handoff, automated browser control, or a manual relay. It also
// discovers which of those transports are actually available on this
// machine.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/quorumlabs/quorum/internal/browser"
	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/pkg/types"
)

// maxCLICandidates caps the advertised CLI list.
const maxCLICandidates = 8

// knownCLIs are the agent CLIs probed on PATH, in advertisement order.
var knownCLIs = []string{
	"claude",
	"codex",
	"gemini",
	"aider",
	"goose",
	"llm",
	"sgpt",
	"ollama",
}

// Candidate is one discovered way a speaker could participate.
type Candidate struct {
	Name string `json:"name"`
	// Kind is the profile kind this candidate would use.
	Kind types.ProfileKind `json:"kind"`
	// Command is the resolved binary path for CLI candidates.
	Command string `json:"command,omitempty"`
	// Provider and URL describe browser candidates.
	Provider string `json:"provider,omitempty"`
	URL      string `json:"url,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Discovery probes the local machine for participation candidates.
type Discovery struct {
	cfg       *config.Config
	selectors *browser.SelectorStore

	// lookPath and listTabs are injectable for tests.
	lookPath func(name string) (string, error)
	listTabs func(ctx context.Context, endpoints []string) ([]types.Tab, []string)
}

// NewDiscovery creates a Discovery over the shared selector store.
func NewDiscovery(cfg *config.Config, selectors *browser.SelectorStore) *Discovery {
	return &Discovery{
		cfg:       cfg,
		selectors: selectors,
		lookPath:  exec.LookPath,
		listTabs:  browser.ListTabs,
	}
}

// CLIs returns the agent CLIs present on PATH, filtered by the project's
// enabled list when one is configured.
func (d *Discovery) CLIs() []Candidate {
	cliCfg := d.LoadCLIConfig()
	enabled := map[string]bool{}
	for _, name := range cliCfg.Enabled {
		enabled[name] = true
	}

	var found []Candidate
	seen := map[string]bool{}
	for _, name := range knownCLIs {
		if len(found) >= maxCLICandidates {
			break
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		if len(enabled) > 0 && !enabled[name] {
			continue
		}
		path, err := d.lookPath(name)
		if err != nil {
			continue
		}
		found = append(found, Candidate{
			Name:    name,
			Kind:    types.ProfileCLI,
			Command: path,
			Source:  "path",
		})
	}
	return found
}

// Tabs lists open browser tabs, annotated with the provider whose domain
// list matches. Unreachable endpoints degrade to diagnostic notes.
func (d *Discovery) Tabs(ctx context.Context) ([]types.Tab, []string) {
	listed, notes := d.listTabs(ctx, d.cfg.DebugEndpoints)
	tabs := browser.MergeTabs(listed, d.cfg.InjectedTabs)

	for i := range tabs {
		if provider, ok := d.selectors.MatchProvider(tabs[i].URL); ok {
			tabs[i].Provider = provider
		}
	}
	return tabs, notes
}

// LLMTabs returns only the tabs that matched a known provider.
func (d *Discovery) LLMTabs(ctx context.Context) ([]types.Tab, []string) {
	tabs, notes := d.Tabs(ctx)
	var matched []types.Tab
	for _, tab := range tabs {
		if tab.Provider != "" {
			matched = append(matched, tab)
		}
	}
	return matched, notes
}

// Candidates merges CLI and browser discovery into one advertised list.
func (d *Discovery) Candidates(ctx context.Context) ([]Candidate, []string) {
	candidates := d.CLIs()

	tabs, notes := d.LLMTabs(ctx)
	for _, tab := range tabs {
		kind := types.ProfileBrowser
		if tab.WSURL != "" {
			kind = types.ProfileBrowserAuto
		}
		candidates = append(candidates, Candidate{
			Name:     tab.Provider,
			Kind:     kind,
			Provider: tab.Provider,
			URL:      tab.URL,
			Source:   tab.Source,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Name < candidates[j].Name
	})
	return candidates, notes
}

// LoadCLIConfig reads the per-project enabled-CLIs file. A missing or
// unreadable file means no filter.
func (d *Discovery) LoadCLIConfig() types.CLIConfig {
	data, err := os.ReadFile(d.cfg.CLIConfigPath())
	if err != nil {
		return types.CLIConfig{}
	}
	var cfg types.CLIConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logging.Warn().Err(err).Str("path", d.cfg.CLIConfigPath()).Msg("unparseable cli config, ignoring")
		return types.CLIConfig{}
	}
	return cfg
}

// SaveCLIConfig persists the enabled-CLIs filter atomically.
func (d *Discovery) SaveCLIConfig(cfg types.CLIConfig) error {
	path := d.cfg.CLIConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cli config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit cli config: %w", err)
	}
	return nil
}
