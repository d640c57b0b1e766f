package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectNameStableAndDistinct(t *testing.T) {
	a := ProjectName("/home/alice/work/myproj")
	b := ProjectName("/home/bob/other/myproj")

	assert.Equal(t, a, ProjectName("/home/alice/work/myproj"))
	assert.NotEqual(t, a, b, "same basename, different path must differ")
	assert.Contains(t, a, "myproj-")
}

func TestSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Pricing Strategy!", "pricing-strategy"},
		{"  --Weird__name--  ", "weird-name"},
		{"already-fine", "already-fine"},
		{"***", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv(EnvStateRoot, "/tmp/quorum-test-root")
	t.Setenv(EnvSelf, "claude")
	t.Setenv(EnvDebugEndpoints, "http://127.0.0.1:9222, http://127.0.0.1:9333")
	t.Setenv(EnvTabs, `[{"id":"t1","title":"Claude","url":"https://claude.ai/chat"}]`)

	cfg := FromEnv("/some/dir")
	assert.Equal(t, "/tmp/quorum-test-root", cfg.StateRoot)
	assert.Equal(t, "claude", cfg.Self)
	assert.Equal(t, []string{"http://127.0.0.1:9222", "http://127.0.0.1:9333"}, cfg.DebugEndpoints)
	require.Len(t, cfg.InjectedTabs, 1)
	assert.Equal(t, "injected", cfg.InjectedTabs[0].Source)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout)
}

func TestFromEnvDefaults(t *testing.T) {
	os.Unsetenv(EnvStateRoot)
	os.Unsetenv(EnvDebugEndpoints)
	os.Unsetenv(EnvTabs)

	cfg := FromEnv("/some/dir")
	assert.Equal(t, []string{DefaultDebugEndpoint}, cfg.DebugEndpoints)
	assert.Empty(t, cfg.InjectedTabs)
	assert.NotEmpty(t, cfg.StateRoot)
}
