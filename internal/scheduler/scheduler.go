// Package scheduler implements the scheduling loop, tick procedure, and
// cancellation/retry API wrapping a JobStore, DependencyResolver, and
// ConcurrencyController.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-jobhandler/jobhandler/internal/backend"
	"github.com/go-jobhandler/jobhandler/internal/concurrency"
	"github.com/go-jobhandler/jobhandler/internal/job"
	"github.com/go-jobhandler/jobhandler/internal/naming"
	"github.com/go-jobhandler/jobhandler/internal/resolver"
	"github.com/go-jobhandler/jobhandler/internal/snapshot"
	"github.com/go-jobhandler/jobhandler/internal/store"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

// log returns the current default logger at call time, so a handler
// installed later via slog.SetDefault (e.g. from config) takes effect
// without this package needing its own logger plumbing.
func log() *slog.Logger { return slog.Default() }

// ErrRestoreInProgress is returned by any submission API called while a
// snapshot restore is in flight.
var ErrRestoreInProgress = errors.New("scheduler: restore in progress")

// ErrNoRunScript is returned by AddJob when a job is given no runnable
// artifact; the attempt is logged and no job is returned.
var ErrNoRunScript = errors.New("scheduler: job has no run script")

// Metrics is the subset of internal/metrics.Collector the scheduler
// drives. Nil is a valid Metrics (instrumentation is optional).
type Metrics interface {
	RecordSubmit()
	RecordRetry()
	RecordTerminal(types.Status)
	ObserveTick(seconds float64)
	ObserveSnapshotWrite(seconds float64)
	SetLivePools(liveLocal, liveRunning int)
}

// Options configures a new Scheduler.
type Options struct {
	Name           string
	WorkDir        string
	LocalMax       int
	RunMax         int
	MaxRetries     int
	TickEvery      time.Duration
	UseSnapshot    bool
	IsVerbose      bool
	Theme          naming.Theme
	DefaultBackend string // "local" or "batch"

	SuccessFunc    types.SuccessFunc
	BatchScheduler backend.Scheduler
	Metrics        Metrics

	// OnFreshStart fires once when the handler is constructed without
	// restoring a prior snapshot.
	OnFreshStart func(name, workDir string)
}

// JobOptions describes a job submitted to AddJob.
type JobOptions struct {
	Name        string
	Tags        []string
	ParentTags  []string
	MaxRetries  int // -1 uses the handler default
	Output      string
	RunScript   string
	RunArgs     []string
	Backend     string // "" uses the handler default
	SuccessFunc types.SuccessFunc
}

// TickResult is the discriminated outcome of a single tick: callers
// branch on its counts instead of catching a cancellation exception.
type TickResult struct {
	Total, Success, Failed, Cancelled int
	Done                              bool
}

// Summary is the final report produced at the end of RunJobs.
type Summary struct {
	Total, Success, Failed, Cancelled, Local, Batch int
	FailedNames                                     []string
	Elapsed                                         time.Duration
}

// Scheduler is the main-loop driver: it owns a JobStore, resolver, and
// concurrency controller, and exposes the cancellation/retry API.
type Scheduler struct {
	mu sync.Mutex

	name    string
	workDir string
	cfg     Options

	store       *store.JobStore
	resolver    *resolver.Resolver
	concurrency *concurrency.Controller
	snapshotter *snapshot.Snapshotter
	metrics     Metrics

	restoring bool
}

// New constructs a fresh Scheduler. If opts.UseSnapshot is true and a
// snapshot already exists on disk, call Restore instead of AddJob to
// rehydrate state. When opts.UseSnapshot is false, New resets the
// working tree itself so stale scripts/logs/snapshot from a same-named
// prior run can never leak into this run; when it is true, resetting
// is deferred to the caller (Restore, or Reset on restore failure).
func New(opts Options) *Scheduler {
	s := &Scheduler{
		name:        opts.Name,
		workDir:     opts.WorkDir,
		cfg:         opts,
		store:       store.New(),
		concurrency: concurrency.New(opts.LocalMax, opts.RunMax),
		metrics:     opts.Metrics,
	}
	s.resolver = resolver.New(s.store)
	s.snapshotter = snapshot.New(filepath.Join(s.baseDir(), "snapshot"))
	if !opts.UseSnapshot {
		if err := s.Reset(); err != nil {
			log().Warn("fresh working tree reset failed", "error", err)
		}
	}
	return s
}

func (s *Scheduler) baseDir() string {
	return filepath.Join(s.workDir, s.name)
}

// Reset unlinks the handler's base directory recursively and recreates
// an empty scripts/logs/output/snapshot tree under it, mirroring the
// reset a handler performs whenever it isn't restoring a prior
// snapshot. Callers that attempt Restore and get back anything other
// than a clean rehydration (missing, corrupt, or version-mismatched
// snapshot) should call Reset before resuming normal operation, since
// a partially-written prior run may have left scripts or logs behind.
// OnFreshStart, if set, fires once the tree is back in a clean state.
func (s *Scheduler) Reset() error {
	base := s.baseDir()
	if err := os.RemoveAll(base); err != nil {
		return fmt.Errorf("reset: remove %q: %w", base, err)
	}
	for _, sub := range []string{"scripts", "logs", "output", "snapshot"} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0o755); err != nil {
			return fmt.Errorf("reset: create %q: %w", sub, err)
		}
	}
	if s.cfg.OnFreshStart != nil {
		s.cfg.OnFreshStart(s.name, s.workDir)
	}
	return nil
}

// Store exposes the underlying JobStore for read-only callers (status
// listing, CLI reporting).
func (s *Scheduler) Store() *store.JobStore { return s.store }

func (s *Scheduler) makeBackend(kind, runScript string, runArgs []string) backend.Backend {
	if kind == string(types.Local) {
		return backend.NewLocal(runScript, runArgs)
	}
	return backend.NewBatch(s.cfg.BatchScheduler, runScript, runArgs)
}

// AddJob constructs a job, materializes its script, and registers it in
// the store.
func (s *Scheduler) AddJob(opts JobOptions) (*job.Job, error) {
	s.mu.Lock()
	restoring := s.restoring
	s.mu.Unlock()
	if restoring {
		return nil, ErrRestoreInProgress
	}

	if opts.RunScript == "" {
		log().Warn("add_job: no run script, job dropped", "name", opts.Name)
		return nil, ErrNoRunScript
	}

	name := opts.Name
	if name == "" {
		name = naming.Generate(s.cfg.Theme)
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = s.cfg.MaxRetries
	}
	backendKind := opts.Backend
	if backendKind == "" {
		backendKind = s.cfg.DefaultBackend
	}
	successFunc := opts.SuccessFunc
	if successFunc == nil {
		successFunc = s.cfg.SuccessFunc
	}

	be := s.makeBackend(backendKind, opts.RunScript, opts.RunArgs)
	be.SetName(name)
	be.SetLog(filepath.Join(s.baseDir(), "logs", name+".log"))
	if err := be.WriteScript(filepath.Join(s.baseDir(), "scripts")); err != nil {
		return nil, fmt.Errorf("add_job %q: %w", name, err)
	}

	j := job.New(name, opts.Tags, opts.ParentTags, maxRetries, opts.Output, successFunc, be, opts.Backend != "")
	if err := s.store.Add(j); err != nil {
		return nil, err
	}
	return j, nil
}

// tick is the shared implementation behind Tick and RunJobs's internal
// loop. submit gates step 3 (iterate + submit); waitLocal and
// makeSnapshot gate steps 4 and 5.
func (s *Scheduler) tick(submit, waitLocal, makeSnapshot bool, tags []string) (TickResult, error) {
	s.mu.Lock()
	restoring := s.restoring
	s.mu.Unlock()
	if restoring {
		return TickResult{}, ErrRestoreInProgress
	}

	start := time.Now()
	names := s.store.Names()

	// 1. Reconcile.
	for _, name := range names {
		j, ok := s.store.Get(name)
		if !ok {
			continue
		}
		prev := j.CachedStatus()
		newStatus, err := j.GetStatus(false, false)
		if err != nil {
			return TickResult{}, fmt.Errorf("tick: reconcile %q: %w", name, err)
		}
		if err := s.store.Reindex(j); err != nil {
			return TickResult{}, fmt.Errorf("tick: reindex %q: %w", name, err)
		}
		if prev != newStatus && isTerminal(newStatus) && s.metrics != nil {
			s.metrics.RecordTerminal(newStatus)
		}
	}

	// 2. Reap locals.
	s.concurrency.ReapLocal()

	// 3. Iterate in insertion order, submitting ready jobs.
	if submit {
		liveRunning := s.store.CountByStatus(types.Running)
		for _, name := range names {
			if s.concurrency.RunCapReached(liveRunning) {
				break
			}
			j, ok := s.store.Get(name)
			if !ok {
				continue
			}
			switch j.CachedStatus() {
			case types.Failed, types.Cancelled:
				retried, err := j.Retry(false)
				if err != nil {
					return TickResult{}, fmt.Errorf("tick: retry %q: %w", name, err)
				}
				if retried {
					if s.metrics != nil {
						s.metrics.RecordRetry()
					}
					if err := s.store.Reindex(j); err != nil {
						return TickResult{}, err
					}
				}
				continue
			}
			if j.CachedStatus() != types.Configured {
				continue
			}
			if !s.resolver.Ready(j) {
				if err := s.store.Reindex(j); err != nil {
					return TickResult{}, err
				}
				continue
			}
			if !s.concurrency.Admit(j, j.HasBackendPreference()) {
				if err := s.store.Reindex(j); err != nil {
					return TickResult{}, err
				}
				continue
			}
			if err := j.Submit(); err != nil {
				return TickResult{}, fmt.Errorf("tick: submit %q: %w", name, err)
			}
			if s.metrics != nil {
				s.metrics.RecordSubmit()
			}
			if err := s.store.Reindex(j); err != nil {
				return TickResult{}, err
			}
			liveRunning++
		}
	}

	// 4. Wait for local jobs.
	if waitLocal {
		for _, j := range s.store.List(tags, []types.Status{types.Running}) {
			if !j.IsLocal() {
				continue
			}
			if err := j.Wait(); err != nil {
				log().Warn("wait for local job failed", "job", j.Name(), "error", err)
			}
		}
	}

	// 5. Snapshot.
	if makeSnapshot {
		if err := s.WriteSnapshot(); err != nil {
			return TickResult{}, err
		}
	}

	if s.metrics != nil {
		s.metrics.SetLivePools(s.concurrency.LiveLocal(), s.store.CountByStatus(types.Running))
		s.metrics.ObserveTick(time.Since(start).Seconds())
	}

	return s.result(), nil
}

func isTerminal(st types.Status) bool {
	return st == types.Success || st == types.Failed || st == types.Cancelled
}

func (s *Scheduler) result() TickResult {
	total := s.store.Len()
	success := s.store.CountByStatus(types.Success)
	failed := s.store.CountByStatus(types.Failed)
	cancelled := s.store.CountByStatus(types.Cancelled)
	return TickResult{
		Total: total, Success: success, Failed: failed, Cancelled: cancelled,
		Done: total > 0 && success+failed+cancelled == total,
	}
}

// Tick runs one full tick: reconcile, reap, submit, optionally wait and
// snapshot. It is invoked directly by SubmitJobs; RunJobs runs the same
// procedure through tick at each interval.
func (s *Scheduler) Tick(waitLocal, makeSnapshot bool, tags []string) (TickResult, error) {
	return s.tick(true, waitLocal, makeSnapshot, tags)
}

// SubmitJobs is the ad-hoc submission entrypoint: it runs one tick,
// optionally blocking on local completion.
func (s *Scheduler) SubmitJobs(tags []string, wait, makeSnapshot bool) (TickResult, error) {
	return s.Tick(wait, makeSnapshot, tags)
}

// CancelJobs cancels matching Running jobs. onlyLocal and onlyBatch are
// mutually exclusive by convention; setting both matches nothing.
func (s *Scheduler) CancelJobs(tags []string, onlyLocal, onlyBatch, makeSnapshot bool) error {
	if onlyLocal && onlyBatch {
		return nil
	}
	for _, j := range s.store.List(tags, []types.Status{types.Running}) {
		if onlyLocal && !j.IsLocal() {
			continue
		}
		if onlyBatch && j.IsLocal() {
			continue
		}
		if err := j.Cancel(false); err != nil {
			log().Warn("cancel failed", "job", j.Name(), "error", err)
			continue
		}
		if err := s.store.Reindex(j); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordTerminal(types.Cancelled)
		}
	}
	if makeSnapshot {
		return s.WriteSnapshot()
	}
	return nil
}

// RetryJobs retries matching Failed/Cancelled jobs.
func (s *Scheduler) RetryJobs(tags []string, makeSnapshot bool) error {
	for _, j := range s.store.List(tags, []types.Status{types.Failed, types.Cancelled}) {
		retried, err := j.Retry(false)
		if err != nil {
			return fmt.Errorf("retry_jobs %q: %w", j.Name(), err)
		}
		if retried {
			if err := s.store.Reindex(j); err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.RecordRetry()
			}
		}
	}
	if makeSnapshot {
		return s.WriteSnapshot()
	}
	return nil
}

// CheckStatus refreshes and returns the status of matching jobs.
func (s *Scheduler) CheckStatus(tags []string) (map[string]types.Status, error) {
	out := make(map[string]types.Status)
	for _, j := range s.store.List(tags, nil) {
		st, err := j.GetStatus(false, false)
		if err != nil {
			return nil, fmt.Errorf("check_status %q: %w", j.Name(), err)
		}
		if err := s.store.Reindex(j); err != nil {
			return nil, err
		}
		out[j.Name()] = st
	}
	return out, nil
}

// ProgressString renders a single-line breakdown of running jobs by
// local/batch split plus overall counts when verbose, else a terse
// "N/total done" line.
func (s *Scheduler) ProgressString() string {
	total := s.store.Len()
	done := s.store.CountByStatus(types.Success) + s.store.CountByStatus(types.Failed) + s.store.CountByStatus(types.Cancelled)
	liveLocal := s.concurrency.LiveLocal()
	liveRunning := s.store.CountByStatus(types.Running)
	if !s.cfg.IsVerbose {
		return fmt.Sprintf("%d/%d done", done, total)
	}
	return fmt.Sprintf("%d/%d done (success=%d failed=%d cancelled=%d) | running: local=%d batch=%d",
		done, total,
		s.store.CountByStatus(types.Success), s.store.CountByStatus(types.Failed), s.store.CountByStatus(types.Cancelled),
		liveLocal, liveRunning-liveLocal)
}

// RunJobs is the run-to-completion loop: it ticks at TickEvery until
// every job is terminal, respecting ctx for the
// cooperative first-stage drain of a graceful shutdown. A second-stage
// hard cancel is expected to be driven externally (e.g. by
// internal/signalsupervisor) via CancelJobs while this loop is blocked
// waiting on local jobs.
func (s *Scheduler) RunJobs(ctx context.Context, tags []string, progress func(string)) (Summary, error) {
	start := time.Now()
	ticker := time.NewTicker(s.cfg.TickEvery)
	defer ticker.Stop()

	draining := false
	var result TickResult
	for {
		submitting := ctx.Err() == nil && !draining
		waitLocal := draining
		r, err := s.tick(submitting, waitLocal, s.cfg.UseSnapshot, tags)
		if err != nil {
			_ = s.CancelJobs(nil, false, false, false)
			s.writeFinalSnapshotBestEffort()
			return s.summarize(start), fmt.Errorf("run_jobs: %w", err)
		}
		result = r
		if progress != nil {
			progress(s.ProgressString())
		}
		if result.Done {
			break
		}
		if ctx.Err() != nil && !draining {
			draining = true
			log().Info("interrupt received, draining local jobs before exit")
		}
		<-ticker.C
	}

	s.writeFinalSnapshotBestEffort()
	return s.summarize(start), nil
}

func (s *Scheduler) summarize(start time.Time) Summary {
	var failedNames []string
	for _, j := range s.store.List(nil, []types.Status{types.Failed}) {
		failedNames = append(failedNames, j.Name())
	}
	local, batch := 0, 0
	for _, j := range s.store.List(nil, nil) {
		if j.IsLocal() {
			local++
		} else {
			batch++
		}
	}
	return Summary{
		Total:        s.store.Len(),
		Success:      s.store.CountByStatus(types.Success),
		Failed:       s.store.CountByStatus(types.Failed),
		Cancelled:    s.store.CountByStatus(types.Cancelled),
		Local:        local,
		Batch:        batch,
		FailedNames:  failedNames,
		Elapsed:      time.Since(start),
	}
}

func (s *Scheduler) writeFinalSnapshotBestEffort() {
	if err := s.WriteSnapshot(); err != nil {
		log().Warn("final snapshot write failed", "error", err)
	}
}

// WriteSnapshot persists the handler config and every job's config.
func (s *Scheduler) WriteSnapshot() error {
	start := time.Now()
	jobNames := s.store.Names()
	jobs := make([]job.Config, 0, len(jobNames))
	states := make(map[types.Status][]string)
	for _, name := range jobNames {
		j, ok := s.store.Get(name)
		if !ok {
			continue
		}
		jobs = append(jobs, j.Snapshot())
		st := j.CachedStatus()
		states[st] = append(states[st], name)
	}

	cfg := snapshot.HandlerConfig{
		Name:        s.name,
		WorkDir:     s.workDir,
		LocalMax:    s.cfg.LocalMax,
		RunMax:      s.cfg.RunMax,
		MaxRetries:  s.cfg.MaxRetries,
		IsVerbose:   s.cfg.IsVerbose,
		UseSnapshot: s.cfg.UseSnapshot,
		JobNames:    jobNames,
		JobStates:   states,
	}
	if err := s.snapshotter.Write(cfg, jobs); err != nil {
		return fmt.Errorf("write_snapshot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSnapshotWrite(time.Since(start).Seconds())
	}
	return nil
}

// Restore rehydrates a Scheduler's JobStore from disk. Submission APIs
// return ErrRestoreInProgress for the duration of the call.
func (s *Scheduler) Restore() error {
	s.mu.Lock()
	s.restoring = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.restoring = false
		s.mu.Unlock()
	}()

	cfg, jobCfgs, err := s.snapshotter.Load()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	statusByName := make(map[string]types.Status, len(jobCfgs))
	for st, names := range cfg.JobStates {
		for _, name := range names {
			statusByName[name] = st
		}
	}

	for _, jc := range jobCfgs {
		j := job.Rehydrate(jc, s.cfg.SuccessFunc, func(c job.Config) backend.Backend {
			kind := string(types.Batch)
			if c.Kind == types.Local {
				kind = string(types.Local)
			}
			be := s.makeBackend(kind, c.RunScript, c.RunArgs)
			be.SetName(c.Name)
			be.SetLog(c.Log)
			if bb, ok := be.(*backend.Batch); ok && c.Handle != "" {
				bb.SetHandle(c.Handle)
			}
			return be
		})
		if st, ok := statusByName[jc.Name]; ok {
			j.SetStatus(st)
		}
		if err := s.store.Add(j); err != nil {
			return fmt.Errorf("restore: add job %q: %w", jc.Name, err)
		}
		if err := s.store.Reindex(j); err != nil {
			return fmt.Errorf("restore: reindex job %q: %w", jc.Name, err)
		}
	}
	return nil
}
