package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-jobhandler/jobhandler/pkg/types"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	require.NotNil(t, c)
	assert.NotNil(t, c.jobsSubmitted, "jobsSubmitted counter should be initialized")
	assert.NotNil(t, c.jobsSucceeded, "jobsSucceeded counter should be initialized")
	assert.NotNil(t, c.jobsFailed, "jobsFailed counter should be initialized")
	assert.NotNil(t, c.jobsCancelled, "jobsCancelled counter should be initialized")
	assert.NotNil(t, c.jobsRetried, "jobsRetried counter should be initialized")
	assert.NotNil(t, c.tickDuration, "tickDuration histogram should be initialized")
	assert.NotNil(t, c.snapshotDuration, "snapshotDuration histogram should be initialized")
	assert.NotNil(t, c.liveLocal, "liveLocal gauge should be initialized")
	assert.NotNil(t, c.liveRunning, "liveRunning gauge should be initialized")
}

func TestRecordSubmitAndRetry(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			c.RecordSubmit()
		}
		c.RecordRetry()
	})
}

func TestRecordTerminalAcceptsEveryStatus(t *testing.T) {
	cases := []types.Status{types.Success, types.Failed, types.Cancelled, types.Configured, types.Running}
	for _, st := range cases {
		st := st
		t.Run(string(st), func(t *testing.T) {
			c := NewCollector(prometheus.NewRegistry())
			assert.NotPanics(t, func() {
				c.RecordTerminal(st)
			})
		})
	}
}

func TestObserveDurations(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	for _, seconds := range []float64{0, 0.001, 0.5, 12.0} {
		assert.NotPanics(t, func() {
			c.ObserveTick(seconds)
			c.ObserveSnapshotWrite(seconds)
		})
	}
}

func TestSetLivePools(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	cases := []struct {
		name        string
		local, live int
	}{
		{"zero", 0, 0},
		{"local only", 3, 3},
		{"mixed", 2, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				c.SetLivePools(tc.local, tc.live)
			})
		})
	}
}

func TestCollectorInstancesAreIndependent(t *testing.T) {
	c1 := NewCollector(prometheus.NewRegistry())
	c2 := NewCollector(prometheus.NewRegistry())

	c1.RecordSubmit()
	c1.RecordSubmit()
	c2.RecordSubmit()

	// Separate registries let two collectors register the same metric
	// names side by side; recording on either does not panic.
	assert.NotPanics(t, func() {
		c1.RecordTerminal(types.Success)
		c2.RecordTerminal(types.Failed)
	})
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	done := make(chan struct{}, 50)
	for i := 0; i < 50; i++ {
		go func() {
			c.RecordSubmit()
			c.RecordRetry()
			c.RecordTerminal(types.Success)
			c.ObserveTick(0.01)
			c.SetLivePools(1, 2)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
}
