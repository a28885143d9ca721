// Package store implements JobStore: the name->Job map and its derived
// status/tag indexes.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-jobhandler/jobhandler/internal/job"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

var (
	// ErrDuplicateName is returned by Add when the name is already present.
	ErrDuplicateName = errors.New("duplicate job name")
	// ErrReservedName is returned by Add when the name would shadow one of
	// the store's own accessor names.
	ErrReservedName = errors.New("job name reserved")
	// ErrNotFound is returned by Reindex when a name isn't present.
	ErrNotFound = errors.New("job not found")
)

// reservedNames mirrors the accessor surface a caller could otherwise
// confuse a job name with (e.g. a job literally named "list" or "get").
var reservedNames = map[string]struct{}{
	"add":     {},
	"list":    {},
	"get":     {},
	"reindex": {},
	"jobs":    {},
	"print":   {},
}

// log returns the current default logger at call time, so a handler
// installed later via slog.SetDefault (e.g. from config) takes effect
// without this package needing its own logger plumbing.
func log() *slog.Logger { return slog.Default() }

// JobStore holds every job known to a handler, keyed by unique name,
// plus derived status and tag indexes.
type JobStore struct {
	mu sync.RWMutex

	byName map[string]*job.Job
	order  []string // insertion order, scheduler iterates jobs in this order

	statusIndex map[types.Status]map[string]struct{}
	tagIndex    map[string][]*job.Job
}

// New returns an empty JobStore.
func New() *JobStore {
	s := &JobStore{
		byName:      make(map[string]*job.Job),
		statusIndex: make(map[types.Status]map[string]struct{}),
		tagIndex:    make(map[string][]*job.Job),
	}
	for _, st := range types.AllStatuses {
		s.statusIndex[st] = make(map[string]struct{})
	}
	return s
}

// Add inserts a new job, failing with ErrDuplicateName or ErrReservedName.
func (s *JobStore) Add(j *job.Job) error {
	name := j.Name()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("job %q: %w", name, ErrReservedName)
	}
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("job %q: %w", name, ErrDuplicateName)
	}

	s.byName[name] = j
	s.order = append(s.order, name)
	s.statusIndex[j.CachedStatus()][name] = struct{}{}
	for _, tag := range j.Tags() {
		s.tagIndex[tag] = append(s.tagIndex[tag], j)
	}
	return nil
}

// Get returns the job with the given name, if present.
func (s *JobStore) Get(name string) (*job.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.byName[name]
	return j, ok
}

// Names returns all job names in insertion order.
func (s *JobStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len reports the number of jobs held.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// List returns jobs matching both filters: a job matches tags when it
// carries any of them (union), and matches states when its current
// status is any of them. A nil/empty filter is satisfied by everything.
func (s *JobStore) List(tags []string, states []types.Status) []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates map[string]*job.Job
	if len(tags) == 0 {
		candidates = s.byName
	} else {
		candidates = make(map[string]*job.Job)
		for _, tag := range tags {
			for _, j := range s.tagIndex[tag] {
				candidates[j.Name()] = j
			}
		}
	}

	stateSet := toStatusSet(states)
	out := make([]*job.Job, 0, len(candidates))
	for _, name := range s.order {
		j, ok := candidates[name]
		if !ok {
			continue
		}
		if len(stateSet) > 0 {
			if _, ok := stateSet[j.CachedStatus()]; !ok {
				continue
			}
		}
		out = append(out, j)
	}
	return out
}

func toStatusSet(states []types.Status) map[types.Status]struct{} {
	if len(states) == 0 {
		return nil
	}
	m := make(map[types.Status]struct{}, len(states))
	for _, s := range states {
		m[s] = struct{}{}
	}
	return m
}

// Reindex moves a job's name between status buckets to match its
// current cached status. Idempotent when the job hasn't actually moved.
func (s *JobStore) Reindex(j *job.Job) error {
	name := j.Name()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[name]; !ok {
		return fmt.Errorf("job %q: %w", name, ErrNotFound)
	}
	newStatus := j.CachedStatus()
	for st, bucket := range s.statusIndex {
		if st == newStatus {
			continue
		}
		delete(bucket, name)
	}
	s.statusIndex[newStatus][name] = struct{}{}
	return nil
}

// CountByStatus reports how many jobs currently sit in each status, per
// the JobStore index invariant that a name appears in exactly one bucket.
func (s *JobStore) CountByStatus(st types.Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.statusIndex[st])
}

// Print writes a human-readable listing of jobs matching tags/states to
// w, followed by a one-line status summary footer.
func (s *JobStore) Print(w interface{ Write([]byte) (int, error) }, tags []string, states []types.Status) {
	for _, j := range s.List(tags, states) {
		fmt.Fprintf(w, "%-24s %-10s retries=%d/%d\n", j.Name(), j.CachedStatus(), j.RetriesUsed(), j.MaxRetries())
	}
	fmt.Fprintln(w, s.summaryLine())
}

func (s *JobStore) summaryLine() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := ""
	for _, st := range types.AllStatuses {
		n := len(s.statusIndex[st])
		if n == 0 {
			continue
		}
		if summary != "" {
			summary += ", "
		}
		summary += fmt.Sprintf("%s=%d", st, n)
	}
	if summary == "" {
		return "no jobs"
	}
	return summary
}

// Warnf logs a formatted warning through the same logger the store
// itself uses, so callers outside this package (e.g. the resolver's
// missing-parent-tag diagnostics) get consistently formatted output.
func Warnf(format string, args ...any) {
	log().Warn(fmt.Sprintf(format, args...))
}
