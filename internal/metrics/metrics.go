// Package metrics records run statistics in a private Prometheus registry.
//
// A run is a short-lived process started by a scheduler, so nothing is
// served over HTTP. The registry is written to a node-exporter textfile at
// the end of the run instead.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names.
const (
	MetricEventsIngested  = "fourallportal_events_ingested_total"
	MetricEventsDuplicate = "fourallportal_events_duplicate_total"
	MetricEventsProcessed = "fourallportal_events_processed_total"
	MetricSyncErrors      = "fourallportal_sync_errors_total"
	MetricPhaseDuration   = "fourallportal_phase_duration_seconds"
	MetricQueueEvents     = "fourallportal_queue_events"
	MetricRunResult       = "fourallportal_run_result"
	MetricLastRun         = "fourallportal_last_run_timestamp_seconds"
)

// Recorder collects the metrics of one run. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	ingested   *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	processed  *prometheus.CounterVec
	syncErrors *prometheus.CounterVec
	duration   *prometheus.GaugeVec
	queue      *prometheus.GaugeVec
	result     *prometheus.GaugeVec
	lastRun    prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsIngested,
			Help: "Remote events stored in the local queue by module",
		}, []string{"module"}),
		duplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsDuplicate,
			Help: "Remote events skipped because they were already queued, by module",
		}, []string{"module"}),
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsProcessed,
			Help: "Queued events applied by module and outcome",
		}, []string{"module", "status"}),
		syncErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSyncErrors,
			Help: "Ingestion failures by scope (server or module)",
		}, []string{"scope"}),
		duration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricPhaseDuration,
			Help: "Wall time of the last run phase",
		}, []string{"phase"}),
		queue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricQueueEvents,
			Help: "Events in the local queue by status",
		}, []string{"status"}),
		result: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricRunResult,
			Help: "1 for the result of the last run, 0 for the others",
		}, []string{"result"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastRun,
			Help: "Unix time the last run finished",
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Ingested counts one newly queued event.
func (r *Recorder) Ingested(module string) {
	if r == nil {
		return
	}
	r.ingested.WithLabelValues(module).Inc()
}

// Duplicate counts one remote event that was already queued.
func (r *Recorder) Duplicate(module string) {
	if r == nil {
		return
	}
	r.duplicates.WithLabelValues(module).Inc()
}

// Processed counts one applied event with its final status.
func (r *Recorder) Processed(module, status string) {
	if r == nil {
		return
	}
	r.processed.WithLabelValues(module, status).Inc()
}

// SyncError counts one ingestion failure. scope is "server" or "module".
func (r *Recorder) SyncError(scope string) {
	if r == nil {
		return
	}
	r.syncErrors.WithLabelValues(scope).Inc()
}

// PhaseDuration records how long a phase took.
func (r *Recorder) PhaseDuration(phase string, d time.Duration) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(phase).Set(d.Seconds())
}

// QueueSize records the number of events with status.
func (r *Recorder) QueueSize(status string, n int) {
	if r == nil {
		return
	}
	r.queue.WithLabelValues(status).Set(float64(n))
}

// Finished records the run result and completion time.
func (r *Recorder) Finished(result string, results []string, at time.Time) {
	if r == nil {
		return
	}
	for _, name := range results {
		r.result.WithLabelValues(name).Set(0)
	}
	r.result.WithLabelValues(result).Set(1)
	r.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics to path in the text exposition format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
