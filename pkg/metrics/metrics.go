// Package metrics provides metrics collection for scan runs. It defines a
// small Collector interface with a Prometheus-backed implementation, plus an
// in-memory one for tests.
package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Collector is the interface for recording scan metrics. Implementations
// must be safe for concurrent use.
type Collector interface {
	// Counter operations
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	// Gauge operations
	GaugeSet(name string, value float64, labels ...string)

	// Histogram operations
	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for a metrics endpoint
	Handler() http.Handler
}

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string
	Type    MetricType
	Help    string
	Labels  []string
	Buckets []float64 // For histograms
}

// Standard scan metrics.
var (
	ScansTotal = MetricDefinition{
		Name:   "cratewatch_scans_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of scans executed",
		Labels: []string{"status"},
	}
	ScanDuration = MetricDefinition{
		Name:    "cratewatch_scan_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Duration of scans in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}
	FindingsTotal = MetricDefinition{
		Name:   "cratewatch_findings_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of advisory findings",
		Labels: []string{"severity"},
	}
	GraphNodes = MetricDefinition{
		Name: "cratewatch_graph_nodes",
		Type: MetricTypeGauge,
		Help: "Number of packages in the last resolved graph",
	}
	RegistryFetchesTotal = MetricDefinition{
		Name:   "cratewatch_registry_fetches_total",
		Type:   MetricTypeCounter,
		Help:   "Total number of registry metadata fetches",
		Labels: []string{"status"},
	}
	RegistryCacheHits = MetricDefinition{
		Name: "cratewatch_registry_cache_hits_total",
		Type: MetricTypeCounter,
		Help: "Total number of registry cache hits",
	}
	RegistryCacheMisses = MetricDefinition{
		Name: "cratewatch_registry_cache_misses_total",
		Type: MetricTypeCounter,
		Help: "Total number of registry cache misses",
	}
)

// NopCollector discards all metrics. Use when metrics are not needed.
type NopCollector struct{}

func (c *NopCollector) CounterInc(name string, labels ...string)                      {}
func (c *NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (c *NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (c *NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (c *NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }

// InMemoryCollector stores metrics in memory for testing purposes.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates a new in-memory metrics collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	key := name
	for i := 0; i+1 < len(labels); i += 2 {
		key += "," + labels[i] + "=" + labels[i+1]
	}
	return key
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histograms[c.key(name, labels)]
}

// Timer is a helper for timing operations and recording to histograms.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer creates a new timer that will record to the given histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: collector,
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the duration since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

// OrNop returns the collector or a NopCollector when nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return &NopCollector{}
	}
	return c
}

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
