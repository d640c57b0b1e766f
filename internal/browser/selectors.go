package browser

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/jsonc"

	"github.com/quorumlabs/quorum/internal/logging"
	"github.com/quorumlabs/quorum/internal/result"
	"github.com/quorumlabs/quorum/pkg/types"
)

// SelectorStore loads per-provider selector configuration files. Files are
// JSONC (comments allowed) named `<provider>.json` in one directory. The
// configs are read-only at runtime; an fsnotify watcher invalidates the
// in-memory cache when a file changes on disk.
type SelectorStore struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*types.SelectorConfig

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSelectorStore creates a store for dir. The watcher is best effort: if
// it cannot be established the store still works, just without
// invalidation.
func NewSelectorStore(dir string) *SelectorStore {
	s := &SelectorStore{
		dir:   dir,
		cache: make(map[string]*types.SelectorConfig),
		done:  make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(dir); addErr == nil {
			s.watcher = watcher
			go s.watch()
		} else {
			watcher.Close()
		}
	}
	return s
}

func (s *SelectorStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				provider := strings.TrimSuffix(filepath.Base(ev.Name), ".json")
				s.mu.Lock()
				delete(s.cache, provider)
				s.mu.Unlock()
				logging.Debug().Str("provider", provider).Msg("selector config invalidated")
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (s *SelectorStore) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// Load returns the selector config for provider. Absent or malformed
// configuration is a permanent INVALID_SELECTOR_CONFIG failure.
func (s *SelectorStore) Load(provider string) (*types.SelectorConfig, *result.Failure) {
	s.mu.RLock()
	if cfg, ok := s.cache[provider]; ok {
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	path := filepath.Join(s.dir, provider+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, result.Failuref(result.CodeInvalidSelectorConfig, "no selector config for provider %q", provider)
	}

	var cfg types.SelectorConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, result.Failuref(result.CodeInvalidSelectorConfig, "selector config for %q unparseable: %v", provider, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, result.Failuref(result.CodeInvalidSelectorConfig, "selector config for %q invalid: %v", provider, err)
	}

	applyTimingDefaults(&cfg)

	s.mu.Lock()
	s.cache[provider] = &cfg
	s.mu.Unlock()
	return &cfg, nil
}

// Providers lists the providers that have a config file on disk.
func (s *SelectorStore) Providers() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(name, ".json") {
			names = append(names, strings.TrimSuffix(name, ".json"))
		}
	}
	return names
}

// MatchProvider returns the provider whose domain list matches the URL.
func (s *SelectorStore) MatchProvider(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Host)

	for _, provider := range s.Providers() {
		cfg, failure := s.Load(provider)
		if failure != nil {
			continue
		}
		for _, domain := range cfg.Domains {
			if matchesDomain(host, strings.ToLower(domain)) {
				return provider, true
			}
		}
	}
	return "", false
}

// matchesDomain reports whether host equals domain or is a subdomain of it.
func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func validate(cfg *types.SelectorConfig) error {
	switch {
	case len(cfg.Domains) == 0:
		return errMissing("domains")
	case cfg.Selectors.Input == "":
		return errMissing("selectors.inputSelector")
	case cfg.Selectors.SendButton == "":
		return errMissing("selectors.sendButton")
	case cfg.Selectors.StreamingIndicator == "":
		return errMissing("selectors.streamingIndicator")
	case cfg.Selectors.Response == "" && cfg.Selectors.ResponseContainer == "":
		return errMissing("selectors.responseSelector")
	}
	return nil
}

type errMissing string

func (e errMissing) Error() string { return "missing " + string(e) }

func applyTimingDefaults(cfg *types.SelectorConfig) {
	if cfg.Timing.SendDelayMs <= 0 {
		cfg.Timing.SendDelayMs = 500
	}
	if cfg.Timing.PollIntervalMs <= 0 {
		cfg.Timing.PollIntervalMs = 1000
	}
}
