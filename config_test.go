package nostrcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigMergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relays:
  - wss://relay.example
  - wss://other.example
backend: file
max_events: 500
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"wss://relay.example", "wss://other.example"}, cfg.Relays)
	assert.Equal(t, "file", cfg.Backend)
	assert.Equal(t, 500, cfg.MaxEvents)

	// everything the file doesn't set keeps its default
	assert.Equal(t, 7*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.AutoSyncInterval)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relays: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
