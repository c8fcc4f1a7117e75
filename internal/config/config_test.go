package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	t.Setenv("MAX_FREE_GROUPS", "")
	t.Setenv("BROADCAST_DELAY_MS", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxFreeGroups)
	assert.Equal(t, 1000, cfg.BroadcastDelayMs)
	assert.Equal(t, 500, cfg.BroadcastMinDelayMs)
	assert.Equal(t, 3000, cfg.BroadcastMaxDelayMs)
	assert.Equal(t, 3100, cfg.HTTPPort)
}

func TestConfig_FromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("MAX_FREE_GROUPS", "5")
	t.Setenv("TG_API_ID", "12345")
	t.Setenv("TG_API_HASH", "hash")
	t.Setenv("TG_DEBUG", "true")
	t.Setenv("DOCS_THEME", "moon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxFreeGroups)
	assert.Equal(t, 12345, cfg.TGApiID)
	assert.Equal(t, "hash", cfg.TGApiHash)
	assert.True(t, cfg.TGDebug)
	assert.Equal(t, "moon", cfg.DocsTheme)
}

func TestConfig_YAMLOverlay_EnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_free_groups: 7\nhttp_port: 8080\ntg_api_hash: from-file\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MAX_FREE_GROUPS", "")
	t.Setenv("TG_API_HASH", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxFreeGroups)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "from-file", cfg.TGApiHash)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestConfig_YAMLOverlay_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_free_groups: [oops"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "missing telegram credentials must fail")

	cfg.TGApiID = 1
	cfg.TGApiHash = "hash"
	assert.NoError(t, cfg.Validate())

	cfg.BroadcastDelayMs = 100
	assert.Error(t, cfg.Validate(), "delay below the lower bound must fail")

	cfg.BroadcastDelayMs = 1000
	cfg.BroadcastMinDelayMs = 4000
	assert.Error(t, cfg.Validate(), "inverted bounds must fail")
}
