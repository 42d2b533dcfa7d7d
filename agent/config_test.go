package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listenAddr: 127.0.0.1:9090
baseDir: /srv
jobTTLSeconds: 60
denyPatterns:
  - ^shutdown
`), 0666))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddr)
	assert.Equal(t, "/srv", cfg.BaseDir)
	assert.Equal(t, 60, cfg.JobTTLSeconds)
	assert.Equal(t, []string{"^shutdown"}, cfg.DenyPatterns)

	// unset fields keep their defaults
	assert.Equal(t, "/workspace", cfg.WorkspaceDir)
	assert.Equal(t, 1200, cfg.DefaultTimeoutSeconds)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "reading config file")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: [oops"), 0666))

	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "parsing config file")
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr)
	assert.Equal(t, "/", cfg.BaseDir)
	assert.Equal(t, "/workspace", cfg.WorkspaceDir)
	assert.Equal(t, filepath.Join("/workspace", "artifacts"), cfg.ArtifactsDir)
	assert.Equal(t, 3600, cfg.JobTTLSeconds)
	assert.Equal(t, 1200, cfg.DefaultTimeoutSeconds)
	assert.Equal(t, 300, cfg.StreamPollIntervalMS)

	// explicit workspace carries into the derived artifacts dir
	cfg = Config{WorkspaceDir: "/data"}.withDefaults()
	assert.Equal(t, filepath.Join("/data", "artifacts"), cfg.ArtifactsDir)
}
