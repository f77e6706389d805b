// Package metrics records operational metrics from the landing pipelines.
//
// Instrumented code calls the Record* helpers, which forward to a global,
// pluggable Backend. The default backend is a no-op, so instrumentation is
// always safe to call. Concrete systems live in subpackages (prompush,
// datadog) and build their collectors from Catalog.
package metrics

import "time"

// Metric names emitted by the pipelines.
const (
	StepTotal           = "lander_step_total"
	StepDurationSeconds = "lander_step_duration_seconds"
	RecordsTotal        = "lander_records_total"
	BatchesTotal        = "lander_batches_total"
	FilesTotal          = "lander_files_total"
)

// Label names. Every metric carries LabelJob.
const (
	LabelJob    = "job"
	LabelStep   = "step"
	LabelStatus = "status"
	LabelKind   = "kind"
	LabelTable  = "table"
)

// Steps timed by RecordStep.
const (
	StepDownload  = "download"
	StepDecode    = "decode"
	StepDispatch  = "dispatch"
	StepProvision = "provision"
	StepWrite     = "write"
	StepEncode    = "encode"
	StepUpload    = "upload"
)

// Row kinds counted by RecordRow.
const (
	RowsReceived = "received" // rows handed to a writer or batcher
	RowsInserted = "inserted" // rows accepted by the key-value sink
	RowsSkipped  = "skipped"  // rows rejected by the sink
	RowsDropped  = "dropped"  // change events filtered out before partitioning
)

// Type tells a backend which instrument a metric needs.
type Type int

const (
	Counter Type = iota
	Duration
)

// Desc describes one metric.
type Desc struct {
	Name string
	// Short is the dotted name used by StatsD style backends, e.g. "step.count".
	Short  string
	Type   Type
	Help   string
	Labels []string // in addition to LabelJob
}

// Catalog lists every metric the pipelines emit.
var Catalog = []Desc{
	{StepTotal, "step.count", Counter, "Pipeline step executions by step and status.", []string{LabelStep, LabelStatus}},
	{StepDurationSeconds, "step.duration", Duration, "Pipeline step latency in seconds by step and status.", []string{LabelStep, LabelStatus}},
	{RecordsTotal, "records", Counter, "Rows by kind (received, inserted, skipped, dropped).", []string{LabelKind}},
	{BatchesTotal, "batches", Counter, "Write batches submitted to the key-value sink.", nil},
	{FilesTotal, "files", Counter, "Column files uploaded to object storage by source table.", []string{LabelTable}},
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Desc, bool) {
	for _, d := range Catalog {
		if d.Name == name {
			return d, true
		}
	}
	return Desc{}, false
}

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration, in seconds.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush hands buffered metrics to the backend's sink. It is called at
	// the end of every invocation, so it must leave the backend usable.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
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

// RecordStep counts one execution of step and records its latency.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{LabelJob: job, LabelStep: step, LabelStatus: status}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow adds delta rows of the given kind. Non-positive deltas are ignored.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{LabelJob: job, LabelKind: kind})
}

// RecordBatches adds delta write batches.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{LabelJob: job})
}

// RecordFiles counts column files written for a source table.
func RecordFiles(job, table string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(FilesTotal, float64(delta), Labels{LabelJob: job, LabelTable: table})
}
