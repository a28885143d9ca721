// Package signalsupervisor implements a two-stage graceful shutdown:
// the first interrupt drains in-flight local work, the second forces
// a hard cancel.
package signalsupervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-jobhandler/jobhandler/internal/scheduler"
)

func log() *slog.Logger { return slog.Default() }

// Run wraps sched.RunJobs with the two-stage interrupt protocol:
//
//  1. First signal: cancel the context passed to RunJobs, which tells
//     the scheduler to stop dispatching new work and start draining
//     in-flight local jobs.
//  2. Second signal during drain: hard-cancel every local job via the
//     backend's cancel path (local children ignore signals from the
//     orchestrator's controlling terminal, so a propagated signal can't
//     do this).
//
// Any signal received after the run has already finished is ignored.
func Run(parent context.Context, sched *scheduler.Scheduler, tags []string, progress func(string), sigs ...os.Signal) (scheduler.Summary, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, sigs...)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	var result scheduler.Summary
	var runErr error
	go func() {
		defer close(done)
		result, runErr = sched.RunJobs(ctx, tags, progress)
	}()

	firstSignal := true
	for {
		select {
		case <-done:
			return result, runErr
		case <-sigCh:
			if firstSignal {
				firstSignal = false
				log().Warn("interrupt received, draining local jobs (interrupt again to force cancel)")
				cancel()
				continue
			}
			log().Warn("second interrupt received, cancelling local jobs")
			if err := sched.CancelJobs(tags, true, false, false); err != nil {
				log().Warn("hard cancel failed", "error", err)
			}
		}
	}
}
