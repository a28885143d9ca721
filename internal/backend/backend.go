// Package backend defines the uniform execution contract the scheduler
// depends on, and ships two minimal reference implementations (Local and
// Batch) so the core is exercisable end to end. Concrete backends are an
// external collaborator per the job handler design: the scheduler only
// ever talks to the Backend interface below.
package backend

import (
	"errors"

	"github.com/go-jobhandler/jobhandler/pkg/types"
)

// ErrUnavailable is returned by a lookup when no backend is configured
// for a requested kind.
var ErrUnavailable = errors.New("backend: no backend configured")

// Status is the status vocabulary a backend reports back to the
// scheduler. StatusUnknown models a snapshot-restored job whose prior
// backend handle could not be resolved; the scheduler treats it as
// Configured and re-submits, giving at-least-once submission semantics.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusFinished
	StatusGone
)

// Backend translates submit/cancel/status operations to a concrete
// execution system (a host process, an HTC/Slurm-like batch scheduler,
// etc). One Backend value is bound per job.
type Backend interface {
	// WriteScript materializes the runnable artifact for this job under
	// folder and records whatever path/handle it needs for Submit.
	WriteScript(folder string) error

	// Sync inherits defaults (e.g. queue name, resource requests) from
	// the job handler's default backend. parent may be nil.
	Sync(parent Backend)

	Submit() error
	Cancel() error

	// GetStatus returns the backend's view of execution state. It must
	// be idempotent and safe to poll every tick.
	GetStatus() (Status, error)

	Name() string
	SetName(name string)
	RunScript() string
	SetRunScript(path string)
	RunArgs() []string
	SetRunArgs(args []string)
	Log() string
	SetLog(path string)
}
