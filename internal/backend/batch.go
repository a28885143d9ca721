package backend

import (
	"fmt"
	"sync"
)

// Scheduler is the minimal surface a concrete batch system (Slurm, HTCondor,
// a cloud batch API, ...) must expose for the Batch backend to delegate to.
// The concrete scheduler is an external collaborator; this package only
// ships an in-memory reference implementation (see FakeScheduler) used by
// tests and by the CLI's --backend=batch demo mode.
type Scheduler interface {
	Submit(name, script string, args []string) (handle string, err error)
	Cancel(handle string) error
	Status(handle string) (Status, error)
}

// Batch delegates execution to an external scheduling backend and is
// counted only against run_max, never local_max.
type Batch struct {
	mu        sync.Mutex
	name      string
	runScript string
	runArgs   []string
	log       string
	script    string
	handle    string

	scheduler Scheduler
}

// NewBatch returns a Batch backend that submits through scheduler.
func NewBatch(scheduler Scheduler, runScript string, runArgs []string) *Batch {
	return &Batch{scheduler: scheduler, runScript: runScript, runArgs: runArgs}
}

func (b *Batch) WriteScript(folder string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runScript == "" {
		return fmt.Errorf("batch backend: no run script set for job %q", b.name)
	}
	b.script = folder + "/" + b.name + ".sh"
	return nil
}

func (b *Batch) Sync(parent Backend) {
	if parent == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runScript == "" {
		b.runScript = parent.RunScript()
	}
	if len(b.runArgs) == 0 {
		b.runArgs = parent.RunArgs()
	}
}

func (b *Batch) Submit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scheduler == nil {
		return ErrUnavailable
	}
	handle, err := b.scheduler.Submit(b.name, b.script, b.runArgs)
	if err != nil {
		return fmt.Errorf("batch backend: submit job %q: %w", b.name, err)
	}
	b.handle = handle
	return nil
}

func (b *Batch) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle == "" || b.scheduler == nil {
		return nil
	}
	return b.scheduler.Cancel(b.handle)
}

func (b *Batch) GetStatus() (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle == "" || b.scheduler == nil {
		return StatusUnknown, nil
	}
	return b.scheduler.Status(b.handle)
}

func (b *Batch) Name() string          { return b.name }
func (b *Batch) SetName(name string)   { b.name = name }
func (b *Batch) RunScript() string     { return b.runScript }
func (b *Batch) SetRunScript(p string) { b.runScript = p }
func (b *Batch) RunArgs() []string     { return b.runArgs }
func (b *Batch) SetRunArgs(a []string) { b.runArgs = a }
func (b *Batch) Log() string           { return b.log }
func (b *Batch) SetLog(path string)    { b.log = path }

// Handle returns the scheduler-assigned job handle, empty until Submit
// succeeds. Used by Job.Snapshot to persist enough state for restore.
func (b *Batch) Handle() string { return b.handle }

// SetHandle restores a scheduler handle captured in a prior snapshot.
func (b *Batch) SetHandle(handle string) { b.handle = handle }

// FakeScheduler is an in-memory Scheduler used by tests and by the demo
// CLI. Every submitted job finishes successfully after N polls of its
// status, simulating a real batch system's asynchronous turnaround.
type FakeScheduler struct {
	mu      sync.Mutex
	seq     int
	polls   map[string]int
	readyAt int
}

// NewFakeScheduler returns a scheduler whose jobs report Finished after
// readyAfterPolls calls to Status (0 means finish immediately).
func NewFakeScheduler(readyAfterPolls int) *FakeScheduler {
	return &FakeScheduler{polls: make(map[string]int), readyAt: readyAfterPolls}
}

func (f *FakeScheduler) Submit(name, script string, args []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	handle := fmt.Sprintf("%s-%d", name, f.seq)
	f.polls[handle] = 0
	return handle, nil
}

func (f *FakeScheduler) Cancel(handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.polls, handle)
	return nil
}

func (f *FakeScheduler) Status(handle string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.polls[handle]
	if !ok {
		return StatusGone, nil
	}
	if n >= f.readyAt {
		return StatusFinished, nil
	}
	f.polls[handle] = n + 1
	return StatusRunning, nil
}
