// Package snapshot serializes the handler and per-job configs to disk
// and restores them, using an atomic-write pattern (temp file +
// os.Rename) so a crash mid-write never leaves a partially-written
// snapshot on disk.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-jobhandler/jobhandler/internal/job"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

const schemaVersion = 1

var (
	ErrNotFound            = errors.New("snapshot not found")
	ErrCorrupted           = errors.New("snapshot is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
)

// HandlerConfig is the serialized shape of a handler's process-wide
// defaults plus the aggregate status index over its jobs.
type HandlerConfig struct {
	SchemaVer   int                       `json:"schema_ver"`
	Name        string                    `json:"name"`
	WorkDir     string                    `json:"work_dir"`
	LocalMax    int                       `json:"local_max"`
	RunMax      int                       `json:"run_max"`
	MaxRetries  int                       `json:"max_retries"`
	IsVerbose   bool                      `json:"is_verbose"`
	UseSnapshot bool                      `json:"use_snapshot"`
	JobNames    []string                  `json:"job_names"`
	JobStates   map[types.Status][]string `json:"job_states"`
}

// Snapshotter persists HandlerConfig + per-job Config blobs under
// <base>/snapshot/.
type Snapshotter struct {
	mu  sync.Mutex
	dir string
}

// New returns a Snapshotter writing into dir (typically
// <work_dir>/<name>/snapshot).
func New(dir string) *Snapshotter {
	return &Snapshotter{dir: dir}
}

func (s *Snapshotter) handlerPath() string {
	return filepath.Join(s.dir, "JobHandlerConfig.json")
}

func (s *Snapshotter) jobPath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Write serializes every job config, then the handler config. The
// reference behavior here is atomic per file: write-to-temp, rename.
func (s *Snapshotter) Write(cfg HandlerConfig, jobs []job.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}
	for _, jc := range jobs {
		if err := writeAtomic(s.jobPath(jc.Name), jc); err != nil {
			return fmt.Errorf("snapshot: write job %q: %w", jc.Name, err)
		}
	}
	cfg.SchemaVer = schemaVersion
	if err := writeAtomic(s.handlerPath(), cfg); err != nil {
		return fmt.Errorf("snapshot: write handler config: %w", err)
	}
	return nil
}

func writeAtomic(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Load reads the handler config and every listed per-job config. A
// missing handler file is reported as ErrNotFound so the caller can
// reset to a fresh working tree; an unparseable file or a missing or
// unparseable per-job file wraps ErrCorrupted, a schema mismatch wraps
// ErrIncompatibleVersion, and any other error reading the handler file
// is returned as a plain read error.
func (s *Snapshotter) Load() (HandlerConfig, []job.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg HandlerConfig
	b, err := os.ReadFile(s.handlerPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil, ErrNotFound
		}
		return cfg, nil, fmt.Errorf("snapshot: read handler config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if cfg.SchemaVer != schemaVersion {
		return cfg, nil, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, cfg.SchemaVer, schemaVersion)
	}

	jobs := make([]job.Config, 0, len(cfg.JobNames))
	for _, name := range cfg.JobNames {
		jb, err := os.ReadFile(s.jobPath(name))
		if err != nil {
			return cfg, nil, fmt.Errorf("%w: job %q: %v", ErrCorrupted, name, err)
		}
		var jc job.Config
		if err := json.Unmarshal(jb, &jc); err != nil {
			return cfg, nil, fmt.Errorf("%w: job %q: %v", ErrCorrupted, name, err)
		}
		jobs = append(jobs, jc)
	}
	return cfg, jobs, nil
}

// Exists reports whether a handler config file is present.
func (s *Snapshotter) Exists() bool {
	_, err := os.Stat(s.handlerPath())
	return err == nil
}
