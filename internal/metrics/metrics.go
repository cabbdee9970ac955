// Package metrics is the backend-agnostic metrics core.
//
// Pipeline code records through the package-level helpers; the binary picks a concrete Backend
// (Datadog, Pushgateway) with SetBackend. Until then every call goes to a nop backend.
package metrics

import (
	"sync"
	"time"
)

// Labels are the dimension values of one observation.
type Labels map[string]string

// Backend receives observations. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the loader.
const (
	RowsTotal           = "meshetl_rows_total"
	BatchesTotal        = "meshetl_batches_total"
	StepTotal           = "meshetl_step_total"
	StepDurationSeconds = "meshetl_step_duration_seconds"
)

// Row kinds for RowsTotal.
const (
	KindGenerated = "generated"
	KindCommitted = "committed"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b; nil restores the nop backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush forwards to the installed backend.
func Flush() error {
	return current().Flush()
}

// RecordRows counts rows of the given kind (KindGenerated or KindCommitted).
func RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one committed batch of n rows.
func RecordBatch(n int) {
	IncCounter(BatchesTotal, 1, nil)
	RecordRows(KindCommitted, n)
}

// RecordStep counts a finished step and observes its duration. A nil err is status "ok".
func RecordStep(step string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}
