package bconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Capture.PollMS)
	assert.Equal(t, "127.0.0.1", cfg.Hook.Host)
}

func TestLoadParsesJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// comment allowed by json5
		capture: { capturePollMs: 1500 },
		hook: { port: 9001 },
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500, cfg.Capture.PollMS)
	assert.Equal(t, 9001, cfg.Hook.Port)
}

func TestEnvOverridesApplyOverDefaults(t *testing.T) {
	t.Setenv("AGENT_DISCORD_CAPTURE_POLL_MS", "500")
	t.Setenv("AGENT_DISCORD_EVENT_LIFECYCLE_STRICT_MODE", "reject")
	t.Setenv("AGENT_DISCORD_CODEX_EVENT_ONLY", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Capture.PollMS)
	assert.Equal(t, "reject", cfg.Event.LifecycleStrictMode)
	assert.True(t, cfg.Event.CodexEventOnly)
}

func TestReplaceFromSwapsSnapshot(t *testing.T) {
	cfg := Default()
	other := Default()
	other.Capture.PollMS = 9999

	cfg.ReplaceFrom(other)
	assert.Equal(t, 9999, cfg.Snapshot().Capture.PollMS)
}

func TestShutdownTimeoutDurationDefaultsOnEmpty(t *testing.T) {
	cfg := Default()
	cfg.Hook.ShutdownTimeout = ""
	assert.Equal(t, "5s", cfg.ShutdownTimeoutDuration().String())
}
