// Package prompush implements a Prometheus Pushgateway backend for internal/metrics.
//
// A load is a batch job, so nothing scrapes it; Flush pushes the registry to the gateway
// under the configured job name, replacing the previous push for that job.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"meshetl/internal/metrics"
)

// Backend implements metrics.Backend on a private prometheus.Registry.
type Backend struct {
	pusher *push.Pusher

	rows         *prometheus.CounterVec
	batches      prometheus.Counter
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
}

// NewBackend registers the loader's collectors and prepares a pusher for gatewayURL.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("prompush: job name is required")
	}
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url is required")
	}

	b := &Backend{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows generated or committed, by kind.",
		}, []string{"kind"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Committed transactions.",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Finished loader steps, by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Loader step duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"step", "status"}),
	}

	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{b.rows, b.batches, b.steps, b.stepDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.RowsTotal:
		if kind := labels["kind"]; kind != "" {
			b.rows.WithLabelValues(kind).Add(delta)
		}
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || value < 0 {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes every collector to the gateway (HTTP PUT).
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
