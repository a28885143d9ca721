package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "jobhandler.yaml")

	content := `
handler:
  name: nightly-etl
  work_dir: /tmp/jobhandler
  backend: local
  local_max: 4
  run_max: 10
  max_retries: 2
  is_verbose: true
  use_snapshot: true
  tick_interval: 2s

logging:
  level: debug
  format: json

metrics:
  enabled: true
  addr: ":9100"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nightly-etl", cfg.Handler.Name)
	assert.Equal(t, "/tmp/jobhandler", cfg.Handler.WorkDir)
	assert.Equal(t, "local", cfg.Handler.Backend)
	assert.Equal(t, 4, cfg.Handler.LocalMax)
	assert.Equal(t, 10, cfg.Handler.RunMax)
	assert.Equal(t, 2, cfg.Handler.MaxRetries)
	assert.True(t, cfg.Handler.IsVerbose)
	assert.True(t, cfg.Handler.UseSnapshot)
	assert.Equal(t, 2*time.Second, cfg.Handler.TickEvery)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	assert.Error(t, err)
	assert.ErrorContains(t, err, "read")
	assert.Equal(t, Default(), cfg, "a failed Load should hand back the defaults, not a half-filled Config")
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("handler: [this is not a mapping"), 0o644))

	_, err := Load(path)

	assert.Error(t, err)
	assert.ErrorContains(t, err, "parse")
}

func TestLoadFillsDefaultsForUnsetFields(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("handler:\n  name: solo\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "solo", cfg.Handler.Name)
	assert.Equal(t, "batch", cfg.Handler.Backend, "empty handler.backend should fall back to the top-level default")
	assert.Equal(t, 5*time.Second, cfg.Handler.TickEvery, "zero tick_interval should fall back to the 5s default")
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestHandlerBackendOverridesTopLevelBackend(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "override.yaml")
	content := `
backend: batch
handler:
  name: mixed
  backend: local
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Handler.Backend)
	assert.Equal(t, "batch", cfg.Backend)
}
