// Package metrics exposes Prometheus instrumentation for the scheduler:
// counters for submit/retry/terminal-state rates, histograms for tick
// and snapshot-write duration, and gauges for the dual concurrency
// pools.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-jobhandler/jobhandler/pkg/types"
)

// Collector collects Prometheus metrics for one job handler run.
type Collector struct {
	jobsSubmitted prometheus.Counter
	jobsSucceeded prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsCancelled prometheus.Counter
	jobsRetried   prometheus.Counter

	tickDuration     prometheus.Histogram
	snapshotDuration prometheus.Histogram

	liveLocal   prometheus.Gauge
	liveRunning prometheus.Gauge
}

// NewCollector builds and registers a Collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across parallel test runs.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobhandler_jobs_submitted_total",
			Help: "Total number of jobs submitted to a backend",
		}),
		jobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobhandler_jobs_succeeded_total",
			Help: "Total number of jobs that reached Success",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobhandler_jobs_failed_total",
			Help: "Total number of jobs that reached Failed",
		}),
		jobsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobhandler_jobs_cancelled_total",
			Help: "Total number of jobs that reached Cancelled",
		}),
		jobsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobhandler_jobs_retried_total",
			Help: "Total number of retry transitions back to Configured",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobhandler_tick_duration_seconds",
			Help:    "Duration of a single scheduler tick",
			Buckets: prometheus.DefBuckets,
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobhandler_snapshot_write_duration_seconds",
			Help:    "Duration of writing a snapshot to disk",
			Buckets: prometheus.DefBuckets,
		}),
		liveLocal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobhandler_live_local",
			Help: "Current number of jobs occupying the local pool",
		}),
		liveRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobhandler_live_running",
			Help: "Current number of jobs in the Running status bucket",
		}),
	}

	reg.MustRegister(
		c.jobsSubmitted, c.jobsSucceeded, c.jobsFailed, c.jobsCancelled, c.jobsRetried,
		c.tickDuration, c.snapshotDuration, c.liveLocal, c.liveRunning,
	)
	return c
}

// RecordSubmit increments the submitted counter.
func (c *Collector) RecordSubmit() { c.jobsSubmitted.Inc() }

// RecordRetry increments the retried counter.
func (c *Collector) RecordRetry() { c.jobsRetried.Inc() }

// RecordTerminal increments the matching terminal-state counter.
func (c *Collector) RecordTerminal(status types.Status) {
	switch status {
	case types.Success:
		c.jobsSucceeded.Inc()
	case types.Failed:
		c.jobsFailed.Inc()
	case types.Cancelled:
		c.jobsCancelled.Inc()
	}
}

// ObserveTick records how long a scheduler tick took.
func (c *Collector) ObserveTick(seconds float64) { c.tickDuration.Observe(seconds) }

// ObserveSnapshotWrite records how long a snapshot write took.
func (c *Collector) ObserveSnapshotWrite(seconds float64) { c.snapshotDuration.Observe(seconds) }

// SetLivePools updates the dual concurrency pool gauges.
func (c *Collector) SetLivePools(liveLocal, liveRunning int) {
	c.liveLocal.Set(float64(liveLocal))
	c.liveRunning.Set(float64(liveRunning))
}

// ServeHTTP starts a /metrics endpoint on the given address, blocking
// until the server exits or errors.
func ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
