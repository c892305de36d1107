// Package metrics is a small, backend-agnostic layer for recording
// operational metrics from the ingestion pipeline.
//
// The global backend defaults to a no-op, so instrumentation is always safe
// to call; a concrete backend (Prometheus Pushgateway, Datadog) is installed
// by the CLI when requested. The rest of the codebase depends only on this
// package, mirroring the storage abstraction.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration-style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the current one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures one pipeline step (ensure_schema, truncate, discover,
// file, build_indexes): latency plus a success/failure counter.
func RecordStep(step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"step": step, "status": status}
	backend.IncCounter("ingest_step_total", 1, lbls)
	backend.ObserveHistogram("ingest_step_duration_seconds", d.Seconds(), lbls)
}

// RecordRows counts rows by kind ("inserted", "dropped").
func RecordRows(kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("ingest_rows_total", float64(delta), Labels{"kind": kind})
}

// RecordFile counts one processed file by outcome.
func RecordFile(err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	backend.IncCounter("ingest_files_total", 1, Labels{"status": status})
}
