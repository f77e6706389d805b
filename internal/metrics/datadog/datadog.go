// Package datadog sends lander metrics to a DogStatsD agent.
//
// Metric names are taken from the Short form in metrics.Catalog and prefixed
// with the namespace, so lander_files_total{table="orders"} becomes
// lander.files with tag table:orders. Step durations are sent as timings. The
// job label is emitted as the Datadog service tag.
package datadog

import (
	"fmt"
	"sort"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"

	"lander/internal/metrics"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "lander."

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or
	// "unix:///var/run/datadog/dsd.socket".
	Addr string

	// Namespace defaults to DefaultNamespace.
	Namespace string

	// Tags are added to every metric, e.g. "env:prod".
	Tags []string
}

// Backend implements metrics.Backend over a statsd client.
type Backend struct {
	client statsd.ClientInterface
}

// NewBackend dials the agent described by cfg.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	c, err := statsd.New(cfg.Addr, statsd.WithNamespace(ns), statsd.WithTags(cfg.Tags))
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter implements metrics.Backend. Unknown metric names are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	d, ok := metrics.Lookup(name)
	if b.client == nil || !ok || d.Type != metrics.Counter {
		return
	}
	// Counts are integral; row and file deltas always are.
	_ = b.client.Count(d.Short, int64(delta), tags(d, labels), 1)
}

// ObserveHistogram implements metrics.Backend. Values are seconds.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	d, ok := metrics.Lookup(name)
	if b.client == nil || !ok || d.Type != metrics.Duration {
		return
	}
	_ = b.client.Timing(d.Short, time.Duration(value*float64(time.Second)), tags(d, labels), 1)
}

// Flush sends buffered datagrams. The client stays open for the next
// invocation.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	return b.client.Flush()
}

// tags keeps only the labels d declares, plus job as service, sorted.
func tags(d metrics.Desc, labels metrics.Labels) []string {
	out := make([]string, 0, len(d.Labels)+1)
	if job := labels[metrics.LabelJob]; job != "" {
		out = append(out, "service:"+job)
	}
	for _, k := range d.Labels {
		if v, ok := labels[k]; ok && v != "" {
			out = append(out, k+":"+v)
		}
	}
	sort.Strings(out)
	return out
}
