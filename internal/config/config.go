// Package config provides explicit configuration for all Quorum components.
// A Config is built once at startup and passed by injection; there are no
// ambient globals.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/pkg/types"
)

// Environment variable names honored by FromEnv.
const (
	EnvStateRoot      = "QUORUM_STATE_ROOT"
	EnvSelf           = "QUORUM_SELF"
	EnvDebugEndpoints = "QUORUM_DEBUG_ENDPOINTS"
	EnvTabs           = "QUORUM_TABS"
	EnvLogLevel       = "QUORUM_LOG_LEVEL"
)

// Config carries everything the components need: where state lives, which
// project namespace to use, who the caller is, and how to reach browsers.
type Config struct {
	// StateRoot is the root directory for all persisted state.
	StateRoot string
	// Project namespaces sessions, derived from the working directory.
	Project string
	// Self is the caller's own speaker identity, if declared.
	Self string
	// DebugEndpoints are remote-debugging HTTP endpoints to query for tabs.
	DebugEndpoints []string
	// InjectedTabs is a pre-supplied tab list for environments without
	// live tab scanning.
	InjectedTabs []types.Tab

	// LockTimeout bounds waiting for a contended lock.
	LockTimeout time.Duration
	// LockStaleAge is the age past which a lock marker is reclaimed.
	LockStaleAge time.Duration
}

// DefaultDebugEndpoint is queried when no endpoints are configured.
const DefaultDebugEndpoint = "http://127.0.0.1:9222"

// FromEnv builds a Config for the given working directory, applying
// environment overrides.
func FromEnv(workDir string) *Config {
	cfg := &Config{
		StateRoot:      DefaultStateRoot(),
		Project:        ProjectName(workDir),
		Self:           os.Getenv(EnvSelf),
		DebugEndpoints: []string{DefaultDebugEndpoint},
		LockTimeout:    10 * time.Second,
		LockStaleAge:   30 * time.Second,
	}

	if root := os.Getenv(EnvStateRoot); root != "" {
		cfg.StateRoot = root
	}
	if raw := os.Getenv(EnvDebugEndpoints); raw != "" {
		var endpoints []string
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
		if len(endpoints) > 0 {
			cfg.DebugEndpoints = endpoints
		}
	}
	if raw := os.Getenv(EnvTabs); raw != "" {
		var tabs []types.Tab
		if err := json.Unmarshal([]byte(raw), &tabs); err == nil {
			for i := range tabs {
				tabs[i].Source = "injected"
			}
			cfg.InjectedTabs = tabs
		}
	}

	return cfg
}

// ProjectName derives the namespacing key for a working directory: the
// directory basename plus a short hash, so distinct paths with the same
// basename do not collide.
func ProjectName(workDir string) string {
	base := slug(filepath.Base(workDir))
	if base == "" {
		base = "project"
	}
	h := sha256.Sum256([]byte(workDir))
	return base + "-" + hex.EncodeToString(h[:])[:8]
}

// slug lowercases s and replaces runs of non-alphanumerics with hyphens.
func slug(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// Slug exposes slug for callers that name files after topics.
func Slug(s string) string { return slug(s) }
