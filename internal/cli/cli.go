// Package cli provides the thin operational entrypoint over the
// scheduler: run, status, add-job.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/go-jobhandler/jobhandler/internal/backend"
	"github.com/go-jobhandler/jobhandler/internal/config"
	"github.com/go-jobhandler/jobhandler/internal/metrics"
	"github.com/go-jobhandler/jobhandler/internal/naming"
	"github.com/go-jobhandler/jobhandler/internal/scheduler"
	"github.com/go-jobhandler/jobhandler/internal/signalsupervisor"
	"github.com/go-jobhandler/jobhandler/pkg/types"
)

var configFile string

// BuildCLI assembles the root Cobra command tree.
func BuildCLI() *cobra.Command {
	root := &cobra.Command{
		Use:   "jobhandler",
		Short: "A dependency-gated job orchestrator with local and batch execution pools",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "jobhandler.yaml", "config file path")

	root.AddCommand(buildRunCommand())
	root.AddCommand(buildStatusCommand())
	root.AddCommand(buildAddJobCommand())
	return root
}

// installLogger builds the slog handler described by cfg.Logging and
// installs it as the process-wide default. Every package reads
// slog.Default() at log time rather than caching it at init, so this
// takes effect for the whole tree regardless of import order.
func installLogger(cfg config.Logging) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func loadScheduler() (*scheduler.Scheduler, config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}
	installLogger(cfg.Logging)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(prometheus.DefaultRegisterer)
		go func() {
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	opts := scheduler.Options{
		Name:           cfg.Handler.Name,
		WorkDir:        cfg.Handler.WorkDir,
		LocalMax:       cfg.Handler.LocalMax,
		RunMax:         cfg.Handler.RunMax,
		MaxRetries:     cfg.Handler.MaxRetries,
		TickEvery:      cfg.Handler.TickEvery,
		UseSnapshot:    cfg.Handler.UseSnapshot,
		IsVerbose:      cfg.Handler.IsVerbose,
		Theme:          naming.Theme(cfg.Handler.Theme),
		DefaultBackend: cfg.Handler.Backend,
		BatchScheduler: backend.NewFakeScheduler(3),
		Metrics:        metricsAdapter{collector},
	}
	sched := scheduler.New(opts)

	if opts.UseSnapshot {
		if err := sched.Restore(); err != nil {
			fmt.Fprintf(os.Stderr, "no usable snapshot, resetting and starting fresh: %v\n", err)
			if rerr := sched.Reset(); rerr != nil {
				return nil, cfg, fmt.Errorf("reset after failed restore: %w", rerr)
			}
		}
	}
	return sched, cfg, nil
}

// metricsAdapter satisfies scheduler.Metrics, tolerating a nil
// *metrics.Collector when the metrics endpoint is disabled.
type metricsAdapter struct{ c *metrics.Collector }

func (m metricsAdapter) RecordSubmit() {
	if m.c != nil {
		m.c.RecordSubmit()
	}
}
func (m metricsAdapter) RecordRetry() {
	if m.c != nil {
		m.c.RecordRetry()
	}
}
func (m metricsAdapter) RecordTerminal(st types.Status) {
	if m.c != nil {
		m.c.RecordTerminal(st)
	}
}
func (m metricsAdapter) ObserveTick(seconds float64) {
	if m.c != nil {
		m.c.ObserveTick(seconds)
	}
}
func (m metricsAdapter) ObserveSnapshotWrite(seconds float64) {
	if m.c != nil {
		m.c.ObserveSnapshotWrite(seconds)
	}
}
func (m metricsAdapter) SetLivePools(liveLocal, liveRunning int) {
	if m.c != nil {
		m.c.SetLivePools(liveLocal, liveRunning)
	}
}

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler to completion, respecting dependencies and concurrency caps",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, err := loadScheduler()
			if err != nil {
				return err
			}
			ctx := context.Background()
			summary, err := signalsupervisor.Run(ctx, sched, nil, printProgress, os.Interrupt, syscall.SIGTERM)
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		},
	}
}

func buildStatusCommand() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current status of every job",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, err := loadScheduler()
			if err != nil {
				return err
			}
			sched.Store().Print(os.Stdout, tags, nil)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "restrict to jobs carrying any of these tags")
	return cmd
}

func buildAddJobCommand() *cobra.Command {
	var name, runScript, backendKind, output string
	var tags, parentTags, runArgs []string
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "add-job",
		Short: "Register a new job against the handler's working directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, _, err := loadScheduler()
			if err != nil {
				return err
			}
			j, err := sched.AddJob(scheduler.JobOptions{
				Name:       name,
				Tags:       tags,
				ParentTags: parentTags,
				MaxRetries: maxRetries,
				Output:     output,
				RunScript:  runScript,
				RunArgs:    runArgs,
				Backend:    backendKind,
			})
			if err != nil {
				return err
			}
			if err := sched.WriteSnapshot(); err != nil {
				return err
			}
			fmt.Printf("added job %q\n", j.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name (auto-generated if absent)")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags carried by this job")
	cmd.Flags().StringSliceVar(&parentTags, "parent-tags", nil, "tags this job depends on")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "retry budget (-1 uses the handler default)")
	cmd.Flags().StringVar(&output, "output", "", "path consulted by the success predicate")
	cmd.Flags().StringVar(&runScript, "run-script", "", "executable this job runs")
	cmd.Flags().StringSliceVar(&runArgs, "run-args", nil, "arguments passed to the run script")
	cmd.Flags().StringVar(&backendKind, "backend", "", "backend kind: local or batch (handler default if absent)")
	cmd.MarkFlagRequired("run-script")
	return cmd
}

func printProgress(s string) {
	fmt.Printf("\r%s", s)
}

func printSummary(s scheduler.Summary) {
	fmt.Printf("\ndone in %s: total=%d success=%d failed=%d cancelled=%d (local=%d batch=%d)\n",
		s.Elapsed.Round(1e6), s.Total, s.Success, s.Failed, s.Cancelled, s.Local, s.Batch)
	if len(s.FailedNames) > 0 {
		fmt.Printf("failed: %v\n", s.FailedNames)
	}
}
