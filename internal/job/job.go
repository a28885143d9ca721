// Package job implements Job: a unit of work with a status, tags, a
// retry policy, and a bound backend.
package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-jobhandler/jobhandler/internal/backend"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

// Waiter is implemented by backends that can block until their current
// submission terminates (e.g. Local, which owns a real child process).
// Backends without a natural blocking primitive (e.g. Batch) are polled
// instead, see Job.Wait.
type Waiter interface {
	Wait() error
}

// Config is the serializable shape of a Job, written to and restored
// from a per-job snapshot file.
type Config struct {
	Name        string     `json:"name"`
	Tags        []string   `json:"tags"`
	ParentTags  []string   `json:"parent_tags"`
	MaxRetries  int        `json:"max_retries"`
	RetriesUsed int        `json:"retries_used"`
	Output      string     `json:"output"`
	Kind        types.Kind `json:"kind"`

	RunScript string   `json:"run_script"`
	RunArgs   []string `json:"run_args"`
	Log       string   `json:"log"`
	Handle    string   `json:"handle,omitempty"`
}

// Job is the runtime counterpart of Config: it owns the live backend
// handle and mutable lifecycle state.
type Job struct {
	mu sync.Mutex

	name                 string
	tags                 map[string]struct{}
	parentTags           map[string]struct{}
	maxRetries           int
	retriesUsed          int
	output               string
	kind                 types.Kind
	hasBackendPreference bool
	status               types.Status

	successFunc types.SuccessFunc
	backend     backend.Backend
}

// New constructs a fresh Configured job. explicitBackend should be true
// when the caller pinned a specific backend kind (rather than letting
// the ConcurrencyController choose), disqualifying the job from
// local_max auto-assignment.
func New(name string, tags, parentTags []string, maxRetries int, output string, successFunc types.SuccessFunc, be backend.Backend, explicitBackend bool) *Job {
	kind := types.Batch
	if explicitBackend {
		if _, ok := be.(*backend.Local); ok {
			kind = types.Local
		}
	}
	return &Job{
		name:                 name,
		tags:                 toSet(tags),
		parentTags:           toSet(parentTags),
		maxRetries:           maxRetries,
		output:               output,
		kind:                 kind,
		hasBackendPreference: explicitBackend,
		status:               types.Configured,
		successFunc:          successFunc,
		backend:              be,
	}
}

// HasBackendPreference reports whether this job was pinned to a
// specific backend kind at construction time.
func (j *Job) HasBackendPreference() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.hasBackendPreference
}

func toSet(vals []string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

func fromSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for v := range m {
		out = append(out, v)
	}
	return out
}

// Name, Output, RetriesUsed implement types.JobView for SuccessFunc.
func (j *Job) Name() string { return j.name }
func (j *Job) Output() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.output
}
func (j *Job) RetriesUsed() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.retriesUsed
}

func (j *Job) MaxRetries() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.maxRetries
}

func (j *Job) Tags() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return fromSet(j.tags)
}

func (j *Job) HasTag(tag string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.tags[tag]
	return ok
}

func (j *Job) ParentTags() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return fromSet(j.parentTags)
}

func (j *Job) IsLocal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.kind == types.Local
}

func (j *Job) SetLocal() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.kind = types.Local
}

// CachedStatus returns the last-evaluated status without touching the
// backend; it is equivalent to GetStatus(skipEval=true, false).
func (j *Job) CachedStatus() types.Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// GetStatus refreshes status from the backend when the job is currently
// Running, promoting a backend-reported Finished straight to
// Success/Failed via the success predicate. Non-Running jobs return
// their cached status without consulting the backend.
//
// forceSuccessCheck re-runs the success predicate even if the job's
// cached status is already Success or Failed (not Cancelled); it exists
// for callers that want to
// re-evaluate an out-of-band output change.
func (j *Job) GetStatus(skipEval, forceSuccessCheck bool) (types.Status, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if skipEval {
		return j.status, nil
	}
	if forceSuccessCheck && (j.status == types.Success || j.status == types.Failed) {
		j.evaluateSuccessLocked()
		return j.status, nil
	}
	if j.status != types.Running || j.backend == nil {
		return j.status, nil
	}

	bs, err := j.backend.GetStatus()
	if err != nil {
		return j.status, fmt.Errorf("job %q: get backend status: %w", j.name, err)
	}

	switch bs {
	case backend.StatusRunning:
		j.status = types.Running
	case backend.StatusUnknown:
		// At-least-once: the backend lost track of this job (e.g. after
		// a snapshot restore); treat it as never submitted.
		j.status = types.Configured
	case backend.StatusGone:
		j.status = types.Cancelled
	case backend.StatusFinished:
		j.status = types.Finished
		j.evaluateSuccessLocked()
	}
	return j.status, nil
}

func (j *Job) evaluateSuccessLocked() {
	ok := true
	if j.successFunc != nil {
		ok = j.successFunc(j)
	}
	if ok {
		j.status = types.Success
	} else {
		j.status = types.Failed
	}
}

// DoRetry reports whether a retry credit remains.
func (j *Job) DoRetry() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.retriesUsed < j.maxRetries
}

// Retry moves a Failed/Cancelled job back to Configured and consumes one
// retry credit, submitting immediately if submit is true. It is a no-op
// returning false when no retry credit remains or the job isn't in a
// retryable state.
func (j *Job) Retry(submit bool) (bool, error) {
	j.mu.Lock()
	if (j.status != types.Failed && j.status != types.Cancelled) || j.retriesUsed >= j.maxRetries {
		j.mu.Unlock()
		return false, nil
	}
	j.retriesUsed++
	j.status = types.Configured
	j.mu.Unlock()

	if submit {
		return true, j.Submit()
	}
	return true, nil
}

// Submit dispatches the job via its backend and marks it Running.
func (j *Job) Submit() error {
	j.mu.Lock()
	be := j.backend
	j.mu.Unlock()
	if be == nil {
		return fmt.Errorf("job %q: %w", j.name, backend.ErrUnavailable)
	}
	if err := be.Submit(); err != nil {
		return err
	}
	j.mu.Lock()
	j.status = types.Running
	j.mu.Unlock()
	return nil
}

// Cancel revokes the job via its backend. clearRetry additionally
// exhausts the retry budget so a dependency resolver's cascade cancel
// is never resurrected by the retry pass.
func (j *Job) Cancel(clearRetry bool) error {
	j.mu.Lock()
	be := j.backend
	j.mu.Unlock()
	if be != nil {
		if err := be.Cancel(); err != nil {
			return fmt.Errorf("job %q: cancel: %w", j.name, err)
		}
	}
	j.mu.Lock()
	j.status = types.Cancelled
	if clearRetry {
		j.retriesUsed = j.maxRetries
	}
	j.mu.Unlock()
	return nil
}

// Wait blocks until a local job's backend reports it is no longer
// Running. Non-local jobs return immediately: only local children need
// draining before a graceful shutdown completes.
func (j *Job) Wait() error {
	j.mu.Lock()
	isLocal := j.kind == types.Local
	be := j.backend
	j.mu.Unlock()
	if !isLocal || be == nil {
		return nil
	}
	if w, ok := be.(Waiter); ok {
		return w.Wait()
	}
	for {
		status, err := j.GetStatus(false, false)
		if err != nil {
			return err
		}
		if status != types.Running {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Snapshot serializes the job into its persisted Config shape.
func (j *Job) Snapshot() Config {
	j.mu.Lock()
	defer j.mu.Unlock()
	cfg := Config{
		Name:        j.name,
		Tags:        fromSet(j.tags),
		ParentTags:  fromSet(j.parentTags),
		MaxRetries:  j.maxRetries,
		RetriesUsed: j.retriesUsed,
		Output:      j.output,
		Kind:        j.kind,
	}
	if j.backend != nil {
		cfg.RunScript = j.backend.RunScript()
		cfg.RunArgs = j.backend.RunArgs()
		cfg.Log = j.backend.Log()
		if hb, ok := j.backend.(interface{ Handle() string }); ok {
			cfg.Handle = hb.Handle()
		}
	}
	return cfg
}

// Backend exposes the bound backend for callers (e.g. the store) that
// need to finish wiring it (WriteScript, Sync) before first submission.
func (j *Job) Backend() backend.Backend {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.backend
}

// BackendFactory builds a live backend for a job being restored from a
// snapshot Config. Returning nil leaves the job without a backend until
// the scheduler's own default-backend wiring catches it.
type BackendFactory func(cfg Config) backend.Backend

// Rehydrate reconstructs a Job from a persisted Config. The caller is
// responsible for restoring the job's status bucket afterward via
// SetStatus, since status buckets live in the handler's snapshot
// config (job_states), not the per-job config.
func Rehydrate(cfg Config, successFunc types.SuccessFunc, makeBackend BackendFactory) *Job {
	var be backend.Backend
	if makeBackend != nil {
		be = makeBackend(cfg)
	}
	return &Job{
		name:                 cfg.Name,
		tags:                 toSet(cfg.Tags),
		parentTags:           toSet(cfg.ParentTags),
		maxRetries:           cfg.MaxRetries,
		retriesUsed:          cfg.RetriesUsed,
		output:               cfg.Output,
		kind:                 cfg.Kind,
		hasBackendPreference: true,
		status:               types.Configured,
		successFunc:          successFunc,
		backend:              be,
	}
}

// SetStatus overwrites the cached status without consulting the
// backend. Used only while restoring a snapshot's job_states index.
func (j *Job) SetStatus(st types.Status) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = st
}
