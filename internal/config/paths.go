package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultStateRoot returns the default root directory for persisted state,
// following the XDG base directory convention.
func DefaultStateRoot() string {
	return filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "quorum")
}

// ProjectDir returns the directory holding a project's live state.
func (c *Config) ProjectDir() string {
	return filepath.Join(c.StateRoot, c.Project)
}

// SessionsDir returns the directory holding live session records.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.ProjectDir(), "sessions")
}

// MirrorDir returns the directory holding live markdown mirrors.
func (c *Config) MirrorDir() string {
	return filepath.Join(c.ProjectDir(), "mirror")
}

// ArchiveDir returns the directory holding archived transcripts.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.ProjectDir(), "archive")
}

// LocksDir returns the directory holding lock markers.
func (c *Config) LocksDir() string {
	return filepath.Join(c.ProjectDir(), "locks")
}

// CLIConfigPath returns the path of the per-project enabled-CLIs file.
func (c *Config) CLIConfigPath() string {
	return filepath.Join(c.ProjectDir(), "cli-config.json")
}

// ProvidersDir returns the directory holding per-provider selector configs.
// Providers are shared across projects.
func (c *Config) ProvidersDir() string {
	return filepath.Join(c.StateRoot, "providers")
}

// LogPath returns the path of the structured log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.StateRoot, "quorum.log")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}
