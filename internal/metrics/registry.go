// Package metrics records operational measurements and health.
//
// Components record through the Registry interface and never branch on what
// was recorded. PrometheusRegistry exposes everything for scraping; Nop
// discards it.
package metrics

import (
	"log"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tags are metric labels.
type Tags map[string]string

// Registry is the recording contract.
type Registry interface {
	IncrementCounter(name string, tags Tags)
	RecordTimer(name string, d time.Duration, tags Tags)
	RecordGauge(name string, value float64, tags Tags)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) IncrementCounter(string, Tags)           {}
func (Nop) RecordTimer(string, time.Duration, Tags) {}
func (Nop) RecordGauge(string, float64, Tags)       {}

var invalidChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// PrometheusRegistry creates Prometheus collectors on first use. Metric names
// are prefixed with the namespace and dots become underscores. A metric's
// label names are fixed by its first recording; later recordings with a
// different label set are dropped.
type PrometheusRegistry struct {
	namespace string
	reg       *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labels     map[string][]string
}

// NewPrometheusRegistry creates a registry with its own Prometheus registry,
// pre-populated with Go runtime and process collectors.
func NewPrometheusRegistry(namespace string) *PrometheusRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return &PrometheusRegistry{
		namespace:  sanitize(namespace),
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labels:     make(map[string][]string),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *PrometheusRegistry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *PrometheusRegistry) IncrementCounter(name string, tags Tags) {
	names, values := split(tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	vec, ok := r.counters[full]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: full, Help: "Counter " + name}, names)
		if !r.register(full, names, vec) {
			return
		}
		r.counters[full] = vec
	}
	if r.labelsMatch(full, names) {
		vec.WithLabelValues(values...).Inc()
	}
}

func (r *PrometheusRegistry) RecordTimer(name string, d time.Duration, tags Tags) {
	names, values := split(tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name) + "_seconds"
	vec, ok := r.histograms[full]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    full,
			Help:    "Duration of " + name,
			Buckets: prometheus.DefBuckets,
		}, names)
		if !r.register(full, names, vec) {
			return
		}
		r.histograms[full] = vec
	}
	if r.labelsMatch(full, names) {
		vec.WithLabelValues(values...).Observe(d.Seconds())
	}
}

func (r *PrometheusRegistry) RecordGauge(name string, value float64, tags Tags) {
	names, values := split(tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name)
	vec, ok := r.gauges[full]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: full, Help: "Gauge " + name}, names)
		if !r.register(full, names, vec) {
			return
		}
		r.gauges[full] = vec
	}
	if r.labelsMatch(full, names) {
		vec.WithLabelValues(values...).Set(value)
	}
}

func (r *PrometheusRegistry) register(full string, names []string, c prometheus.Collector) bool {
	if err := r.reg.Register(c); err != nil {
		log.Printf("[Metrics] Failed to register %s: %v", full, err)
		return false
	}
	r.labels[full] = names
	return true
}

func (r *PrometheusRegistry) labelsMatch(full string, names []string) bool {
	want := r.labels[full]
	if strings.Join(want, ",") != strings.Join(names, ",") {
		log.Printf("[Metrics] Dropping %s sample: labels %v, registered with %v", full, names, want)
		return false
	}
	return true
}

func (r *PrometheusRegistry) fullName(name string) string {
	n := sanitize(name)
	if r.namespace == "" {
		return n
	}
	return r.namespace + "_" + n
}

func sanitize(name string) string {
	return invalidChars.ReplaceAllString(name, "_")
}

// split returns label names sorted and the matching values.
func split(tags Tags) ([]string, []string) {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, sanitize(k))
	}
	sort.Strings(names)

	byName := make(map[string]string, len(tags))
	for k, v := range tags {
		byName[sanitize(k)] = v
	}
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = byName[n]
	}
	return names, values
}
