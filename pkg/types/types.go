// Package types defines the core domain model shared across the job
// handler: job status, job kind, and the success-predicate contract.
package types

// Status represents a job's position in its lifecycle.
type Status string

// Job lifecycle states. Finished is transient: the scheduler always
// promotes a Finished job to Success or Failed within the same tick.
const (
	Configured Status = "configured"
	Running    Status = "running"
	Finished   Status = "finished"
	Success    Status = "success"
	Failed     Status = "failed"
	Cancelled  Status = "cancelled"
)

// AllStatuses lists every bucket the status index tracks, in a stable
// order used for deterministic iteration (e.g. printing summaries).
var AllStatuses = []Status{Configured, Running, Finished, Success, Failed, Cancelled}

// Kind distinguishes where a job executes.
type Kind string

const (
	Local Kind = "local"
	Batch Kind = "batch"
)

// SuccessFunc decides whether a backend-reported Finished job is a
// Success or a Failed. It is supplied by the caller; the core only
// invokes it.
type SuccessFunc func(job JobView) bool

// JobView is the read-only projection of a job exposed to a SuccessFunc,
// avoiding a dependency cycle between pkg/types and internal/job.
type JobView interface {
	Name() string
	Output() string
	RetriesUsed() int
}
