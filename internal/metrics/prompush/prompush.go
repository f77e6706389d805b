// Package prompush pushes lander metrics to a Prometheus Pushgateway.
//
// Lambda invocations are short lived and cannot be scraped, so the registry is
// pushed on Flush instead of being exposed over HTTP. Collectors are built
// from metrics.Catalog; the job label becomes the Pushgateway job and is not
// repeated on each series.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"lander/internal/metrics"
)

// DurationBuckets spans 5ms to about 80s, covering a single upload up to a
// full table provisioning wait.
var DurationBuckets = prometheus.ExponentialBuckets(0.005, 4, 8)

// Backend implements metrics.Backend on a private registry.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	counters  map[string]*prometheus.CounterVec
	durations map[string]*prometheus.HistogramVec
	labels    map[string][]string
}

// NewBackend registers every catalog metric. jobName defaults to "lander".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "lander"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		durations:  map[string]*prometheus.HistogramVec{},
		labels:     map[string][]string{},
	}
	for _, d := range metrics.Catalog {
		var c prometheus.Collector
		switch d.Type {
		case metrics.Counter:
			v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: d.Name, Help: d.Help}, d.Labels)
			b.counters[d.Name], c = v, v
		case metrics.Duration:
			v := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: d.Name, Help: d.Help, Buckets: DurationBuckets}, d.Labels)
			b.durations[d.Name], c = v, v
		default:
			return nil, fmt.Errorf("prompush: %s has unknown type %d", d.Name, d.Type)
		}
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", d.Name, err)
		}
		b.labels[d.Name] = d.Labels
	}
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if v, ok := b.counters[name]; ok {
		v.With(b.pick(name, labels)).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if v, ok := b.durations[name]; ok {
		v.With(b.pick(name, labels)).Observe(value)
	}
}

// Flush replaces this job's group on the Pushgateway with the registry.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}

// pick keeps the labels the metric declares; missing ones are empty.
func (b *Backend) pick(name string, labels metrics.Labels) prometheus.Labels {
	names := b.labels[name]
	out := make(prometheus.Labels, len(names))
	for _, n := range names {
		out[n] = labels[n]
	}
	return out
}
