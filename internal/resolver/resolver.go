// Package resolver decides whether a job is ready to submit based on
// the status of the jobs carrying its parent tags.
package resolver

import (
	"log/slog"

	"github.com/go-jobhandler/jobhandler/internal/job"
	"github.com/go-jobhandler/jobhandler/internal/store"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

func log() *slog.Logger { return slog.Default() }

// Resolver evaluates readiness against a JobStore's tag index.
type Resolver struct {
	store *store.JobStore
}

// New returns a Resolver backed by store.
func New(s *store.JobStore) *Resolver {
	return &Resolver{store: s}
}

// Ready reports whether j may be submitted this tick. A job with no
// parent tags is always ready. Otherwise every parent tag must be
// satisfied by at least one Success-status job carrying it.
//
// If a parent has unrecoverably failed (Failed/Cancelled with no
// retries left), Ready cascades: it cancels j with its retry budget
// cleared so the retry pass can't resurrect it, and returns false.
func (r *Resolver) Ready(j *job.Job) bool {
	parents := j.ParentTags()
	if len(parents) == 0 {
		return true
	}

	for _, tag := range parents {
		candidates := r.store.List([]string{tag}, nil)
		if len(candidates) == 0 {
			store.Warnf("parent tag %q has no registered jobs (job %q)", tag, j.Name())
			return false
		}

		satisfied := false
		for _, parent := range candidates {
			switch parent.CachedStatus() {
			case types.Success:
				satisfied = true
			case types.Failed, types.Cancelled:
				if !parent.DoRetry() {
					log().Warn("parent job unrecoverable, cancelling dependent",
						"parent", parent.Name(), "job", j.Name(), "tag", tag)
					if err := j.Cancel(true); err != nil {
						log().Warn("cascade cancel failed", "job", j.Name(), "error", err)
					}
					return false
				}
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}
