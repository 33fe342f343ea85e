// Package metrics provides a process-wide counter/gauge/histogram registry
// for the routing plane, backed by OpenTelemetry instruments.
//
// The registry never exposes a scrape surface. Export is the concern of
// whatever MeterProvider reader the process wires up (OTLP push, in this
// codebase; see pkg/observability) — this package only records observations.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Registry is a process-wide, concurrency-safe home for named counters,
// gauges, and histograms. Instruments are created lazily on first use and
// cached by name so repeated lookups are cheap.
type Registry struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry builds a Registry on top of the given meter. Passing a nil
// meter yields a no-op registry (observations are discarded), which is
// useful for tests that don't care about telemetry.
func NewRegistry(meter metric.Meter) *Registry {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("atprouter")
	}
	return &Registry{
		meter:      meter,
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, initializing it with a no-op
// meter on first access if Init was never called. Callers that want real
// export should call Init during startup before any metrics are recorded.
func Default() *Registry {
	defaultOnce.Do(func() {
		if defaultReg == nil {
			defaultReg = NewRegistry(nil)
		}
	})
	return defaultReg
}

// Init installs the process-wide registry's backing meter. It must be
// called at most once, before Default() is first read by any goroutine
// other than the one calling Init.
func Init(meter metric.Meter) *Registry {
	defaultReg = NewRegistry(meter)
	return defaultReg
}

// Labels is a label set attached to an observation. Keys are sorted before
// being turned into OTel attributes so identical label sets always produce
// identical attribute slices regardless of map iteration order.
type Labels map[string]string

func (l Labels) attributes() []attribute.KeyValue {
	if len(l) == 0 {
		return nil
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, l[k]))
	}
	return attrs
}

// Counter is a monotonically increasing value identified by name and an
// optional, per-observation label set.
type Counter struct {
	inst metric.Int64Counter
}

// Inc increments the counter by 1 for the given label set.
func (c *Counter) Inc(labels Labels) {
	c.Add(1, labels)
}

// Add increments the counter by n (n must be >= 0) for the given label set.
func (c *Counter) Add(n int64, labels Labels) {
	c.inst.Add(context.Background(), n, metric.WithAttributes(labels.attributes()...))
}

// Gauge is a settable instantaneous value identified by name and an
// optional, per-observation label set.
type Gauge struct {
	inst metric.Int64Gauge
}

// Set records the current value of the gauge for the given label set.
func (g *Gauge) Set(value int64, labels Labels) {
	g.inst.Record(context.Background(), value, metric.WithAttributes(labels.attributes()...))
}

// Histogram records individual observations into fixed buckets, identified
// by name and an optional, per-observation label set.
type Histogram struct {
	inst metric.Float64Histogram
}

// Observe records a single value into the histogram for the given label set.
func (h *Histogram) Observe(value float64, labels Labels) {
	h.inst.Record(context.Background(), value, metric.WithAttributes(labels.attributes()...))
}

// Counter returns the named counter, creating it on first use.
func (r *Registry) Counter(name, description string) (*Counter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c, nil
	}
	inst, err := r.meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("metrics: create counter %q: %w", name, err)
	}
	c := &Counter{inst: inst}
	r.counters[name] = c
	return c, nil
}

// MustCounter is Counter, panicking on error. Intended for package-level
// var initialization where the instrument name is a compile-time constant.
func (r *Registry) MustCounter(name, description string) *Counter {
	c, err := r.Counter(name, description)
	if err != nil {
		panic(err)
	}
	return c
}

// Gauge returns the named gauge, creating it on first use.
func (r *Registry) Gauge(name, description string) (*Gauge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g, nil
	}
	inst, err := r.meter.Int64Gauge(name, metric.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("metrics: create gauge %q: %w", name, err)
	}
	g := &Gauge{inst: inst}
	r.gauges[name] = g
	return g, nil
}

// MustGauge is Gauge, panicking on error. Intended for package-level var
// initialization where the instrument name is a compile-time constant.
func (r *Registry) MustGauge(name, description string) *Gauge {
	g, err := r.Gauge(name, description)
	if err != nil {
		panic(err)
	}
	return g
}

// Histogram returns the named histogram, creating it on first use with the
// given fixed bucket boundaries. Subsequent calls for the same name ignore
// the boundaries argument and return the already-created instrument.
func (r *Registry) Histogram(name, description, unit string, buckets []float64) (*Histogram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histograms[name]; ok {
		return h, nil
	}
	opts := []metric.Float64HistogramOption{metric.WithDescription(description)}
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	inst, err := r.meter.Float64Histogram(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("metrics: create histogram %q: %w", name, err)
	}
	h := &Histogram{inst: inst}
	r.histograms[name] = h
	return h, nil
}

// MustHistogram is Histogram, panicking on error. Intended for package-level
// var initialization where the instrument name is a compile-time constant.
func (r *Registry) MustHistogram(name, description, unit string, buckets []float64) *Histogram {
	h, err := r.Histogram(name, description, unit, buckets)
	if err != nil {
		panic(err)
	}
	return h
}
