package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-jobhandler/jobhandler/internal/backend"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

func TestNewJobStartsConfigured(t *testing.T) {
	j := New("job-a", []string{"p"}, nil, 1, "", nil, backend.NewBatch(backend.NewFakeScheduler(0), "/bin/true", nil), false)
	assert.Equal(t, types.Configured, j.CachedStatus())
	assert.False(t, j.HasBackendPreference())
	assert.ElementsMatch(t, []string{"p"}, j.Tags())
}

func TestSubmitTransitionsToRunning(t *testing.T) {
	be := backend.NewBatch(backend.NewFakeScheduler(1), "/bin/true", nil)
	be.SetName("job-a")
	j := New("job-a", nil, nil, 0, "", nil, be, false)

	require.NoError(t, j.Submit())
	assert.Equal(t, types.Running, j.CachedStatus())
}

func TestGetStatusPromotesFinishedViaSuccessFunc(t *testing.T) {
	be := backend.NewBatch(backend.NewFakeScheduler(0), "/bin/true", nil)
	be.SetName("job-a")
	always := func(view types.JobView) bool { return true }
	j := New("job-a", nil, nil, 0, "", always, be, false)
	require.NoError(t, j.Submit())

	status, err := j.GetStatus(false, false)
	require.NoError(t, err)
	assert.Equal(t, types.Success, status)
}

func TestGetStatusFailsWhenSuccessFuncRejects(t *testing.T) {
	be := backend.NewBatch(backend.NewFakeScheduler(0), "/bin/true", nil)
	be.SetName("job-a")
	never := func(view types.JobView) bool { return false }
	j := New("job-a", nil, nil, 0, "", never, be, false)
	require.NoError(t, j.Submit())

	status, err := j.GetStatus(false, false)
	require.NoError(t, err)
	assert.Equal(t, types.Failed, status)
}

func TestRetryConsumesBudgetAndReturnsToConfigured(t *testing.T) {
	be := backend.NewBatch(backend.NewFakeScheduler(0), "/bin/true", nil)
	be.SetName("job-a")
	j := New("job-a", nil, nil, 1, "", nil, be, false)
	require.NoError(t, j.Cancel(false)) // force into Cancelled without consuming a retry

	assert.True(t, j.DoRetry())
	retried, err := j.Retry(false)
	require.NoError(t, err)
	assert.True(t, retried)
	assert.Equal(t, types.Configured, j.CachedStatus())
	assert.Equal(t, 1, j.RetriesUsed())

	assert.False(t, j.DoRetry())
}

func TestRetryNoOpWhenBudgetExhausted(t *testing.T) {
	be := backend.NewBatch(backend.NewFakeScheduler(0), "/bin/true", nil)
	be.SetName("job-a")
	j := New("job-a", nil, nil, 0, "", nil, be, false)
	require.NoError(t, j.Cancel(false))

	retried, err := j.Retry(false)
	require.NoError(t, err)
	assert.False(t, retried)
	assert.Equal(t, types.Cancelled, j.CachedStatus())
}

func TestCancelWithClearRetryExhaustsBudget(t *testing.T) {
	be := backend.NewBatch(backend.NewFakeScheduler(0), "/bin/true", nil)
	be.SetName("job-a")
	j := New("job-a", nil, nil, 3, "", nil, be, false)
	require.NoError(t, j.Cancel(true))
	assert.False(t, j.DoRetry())
}

func TestSnapshotRoundTripsEnoughToRehydrate(t *testing.T) {
	be := backend.NewLocal("/bin/true", []string{"--x"})
	be.SetName("job-a")
	be.SetLog("/tmp/job-a.log")
	j := New("job-a", []string{"t1"}, []string{"p1"}, 2, "out.txt", nil, be, true)
	j.SetLocal()

	cfg := j.Snapshot()
	assert.Equal(t, "job-a", cfg.Name)
	assert.Equal(t, []string{"t1"}, cfg.Tags)
	assert.Equal(t, "/bin/true", cfg.RunScript)

	restored := Rehydrate(cfg, nil, func(c Config) backend.Backend {
		return backend.NewLocal(c.RunScript, c.RunArgs)
	})
	assert.Equal(t, "job-a", restored.Name())
	assert.ElementsMatch(t, []string{"p1"}, restored.ParentTags())
	assert.True(t, restored.HasBackendPreference())
}
