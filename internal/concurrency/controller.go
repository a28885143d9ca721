// Package concurrency enforces the dual local_max/run_max caps that
// gate job submission each scheduling tick.
package concurrency

import (
	"sync"

	"github.com/go-jobhandler/jobhandler/internal/job"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

// Controller tracks live local/running counts and decides, per job,
// whether this tick may submit it and as which kind.
type Controller struct {
	mu sync.Mutex

	localMax int
	runMax   int // 0 means unbounded

	localQueue   []*job.Job
	localCounter int // monotone lifetime tally of local submissions
}

// New returns a Controller enforcing localMax concurrent local jobs and
// runMax total concurrent jobs (0 = unbounded).
func New(localMax, runMax int) *Controller {
	return &Controller{localMax: localMax, runMax: runMax}
}

// ReapLocal drops any queued local job that is no longer Running: it
// either completed or was cancelled.
func (c *Controller) ReapLocal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := c.localQueue[:0]
	for _, j := range c.localQueue {
		if j.CachedStatus() == types.Running {
			live = append(live, j)
		}
	}
	c.localQueue = live
}

// LiveLocal reports the current count of queued local jobs.
func (c *Controller) LiveLocal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.localQueue)
}

// LocalCounter reports the lifetime count of jobs dispatched locally.
func (c *Controller) LocalCounter() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localCounter
}

// RunCapReached reports whether liveRunning has hit run_max, meaning the
// scheduler must stop attempting further submissions this tick.
func (c *Controller) RunCapReached(liveRunning int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runMax > 0 && liveRunning >= c.runMax
}

// Admit reports whether j may be submitted this tick. Jobs with no
// explicit backend preference are auto-assigned to the local pool while
// it has room, otherwise they run as batch unconditionally. Jobs
// already pinned to the local backend (hasBackendPreference true and
// j.IsLocal()) still count against localMax but are never silently
// redirected to batch: when the pool is full, Admit returns false and
// the caller must leave the job Configured for a later tick.
func (c *Controller) Admit(j *job.Job, hasBackendPreference bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hasBackendPreference {
		if !j.IsLocal() {
			return true
		}
		if len(c.localQueue) >= c.localMax {
			return false
		}
		c.localQueue = append(c.localQueue, j)
		c.localCounter++
		return true
	}
	if len(c.localQueue) < c.localMax {
		j.SetLocal()
		c.localQueue = append(c.localQueue, j)
		c.localCounter++
	}
	return true
}
