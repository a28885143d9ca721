package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-jobhandler/jobhandler/internal/job"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

func TestWriteThenLoadRoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshot")
	s := New(dir)

	cfg := HandlerConfig{
		Name:     "myhandler",
		WorkDir:  "/tmp/work",
		LocalMax: 2,
		RunMax:   4,
		JobNames: []string{"a", "b"},
		JobStates: map[types.Status][]string{
			types.Success: {"a"},
			types.Failed:  {"b"},
		},
	}
	jobs := []job.Config{
		{Name: "a", Tags: []string{"t1"}, RunScript: "/bin/true"},
		{Name: "b", Tags: []string{"t2"}, RunScript: "/bin/false", RetriesUsed: 1},
	}
	require.NoError(t, s.Write(cfg, jobs))
	assert.True(t, s.Exists())

	loadedCfg, loadedJobs, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "myhandler", loadedCfg.Name)
	assert.Equal(t, 2, loadedCfg.LocalMax)
	assert.ElementsMatch(t, []string{"a"}, loadedCfg.JobStates[types.Success])
	require.Len(t, loadedJobs, 2)
	assert.Equal(t, "a", loadedJobs[0].Name)
	assert.Equal(t, 1, loadedJobs[1].RetriesUsed)
}

func TestLoadMissingSnapshotReturnsErrNotFound(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "snapshot"))
	_, _, err := s.Load()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorruptHandlerConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeAtomic(filepath.Join(dir, "JobHandlerConfig.json"), "not valid json structure"))
	s := New(dir)
	_, _, err := s.Load()
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestLoadIncompatibleVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeAtomic(filepath.Join(dir, "JobHandlerConfig.json"), HandlerConfig{SchemaVer: 99}))
	s := New(dir)
	_, _, err := s.Load()
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestWriteIsAtomic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshot")
	s := New(dir)
	require.NoError(t, s.Write(HandlerConfig{Name: "h"}, nil))
	assert.NoFileExists(t, filepath.Join(dir, "JobHandlerConfig.json.tmp"))
}
