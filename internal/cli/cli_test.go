package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-jobhandler/jobhandler/internal/config"
)

func TestBuildCLI(t *testing.T) {
	root := BuildCLI()

	assert.NotNil(t, root)
	assert.Equal(t, "jobhandler", root.Use)

	commands := root.Commands()
	assert.Len(t, commands, 3, "should register run, status, add-job")

	names := make(map[string]bool)
	for _, c := range commands {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["status"])
	assert.True(t, names["add-job"])

	configFlag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "jobhandler.yaml", configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.RunE)
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.Equal(t, "status", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("tags"))
	assert.NotNil(t, cmd.RunE)
}

func TestBuildAddJobCommand(t *testing.T) {
	cmd := buildAddJobCommand()

	assert.Equal(t, "add-job", cmd.Use)
	for _, flag := range []string{"name", "tags", "parent-tags", "max-retries", "output", "run-script", "run-args", "backend"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "missing --%s flag", flag)
	}
}

func TestInstallLoggerAcceptsKnownLevelsAndFormats(t *testing.T) {
	assert.NotPanics(t, func() {
		installLogger(config.Logging{Level: "debug", Format: "json"})
		installLogger(config.Logging{Level: "warn", Format: "text"})
	})
	assert.NotNil(t, slog.Default())
}

func TestInstallLoggerFallsBackToInfoOnUnknownLevel(t *testing.T) {
	assert.NotPanics(t, func() {
		installLogger(config.Logging{Level: "not-a-level", Format: "text"})
	})
}

func TestLoadSchedulerFailsOnMissingConfig(t *testing.T) {
	configFile = filepath.Join(t.TempDir(), "missing.yaml")

	sched, _, err := loadScheduler()

	assert.Error(t, err)
	assert.Nil(t, sched)
}

func TestLoadSchedulerBuildsSchedulerFromValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "jobhandler.yaml")
	content := `
handler:
  name: smoke
  work_dir: ` + tmpDir + `
  local_max: 1
  run_max: 2
logging:
  level: info
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	configFile = path

	sched, cfg, err := loadScheduler()

	require.NoError(t, err)
	require.NotNil(t, sched)
	assert.Equal(t, "smoke", cfg.Handler.Name)
	assert.NotNil(t, sched.Store())
}
