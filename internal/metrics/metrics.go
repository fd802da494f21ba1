// Package metrics provides the metric-emission sink used by the
// orchestrator and coordinator. The Sink interface mirrors a namespaced
// emit(name, value, dimensions) call; the production implementation maps
// emissions onto Prometheus collectors, and an in-memory sink backs tests.
package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Sink receives metric emissions. Implementations must be safe for
// concurrent use by multiple workflow runs.
type Sink interface {
	Emit(namespace, name string, value float64, dims map[string]string)
}

// ── Prometheus Sink ──────────────────────────────────────────

// PromSink maps emissions onto Prometheus gauge vectors, one vector per
// namespace/name pair. Label names are fixed by the first emission of each
// metric; later emissions with a different dimension set are dropped with a
// warning rather than panicking mid-run.
type PromSink struct {
	registerer prometheus.Registerer

	mu      sync.Mutex
	vectors map[string]*promVector
}

type promVector struct {
	labels []string
	vec    *prometheus.GaugeVec
}

// NewPromSink creates a sink registering collectors against reg.
// Pass prometheus.DefaultRegisterer in production.
func NewPromSink(reg prometheus.Registerer) *PromSink {
	return &PromSink{
		registerer: reg,
		vectors:    make(map[string]*promVector),
	}
}

func (s *PromSink) Emit(namespace, name string, value float64, dims map[string]string) {
	labels := make([]string, 0, len(dims))
	for k := range dims {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	key := namespace + "_" + name

	s.mu.Lock()
	v, ok := s.vectors[key]
	if !ok {
		v = &promVector{
			labels: labels,
			vec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      name,
			}, labels),
		}
		if err := s.registerer.Register(v.vec); err != nil {
			s.mu.Unlock()
			log.Warn().Err(err).Str("metric", key).Msg("Failed to register metric")
			return
		}
		s.vectors[key] = v
	}
	s.mu.Unlock()

	if !sameLabels(v.labels, labels) {
		log.Warn().Str("metric", key).Msg("Dropping emission with mismatched dimension set")
		return
	}

	values := make([]string, len(v.labels))
	for i, l := range v.labels {
		values[i] = dims[l]
	}
	v.vec.WithLabelValues(values...).Set(value)
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ── Memory Sink ──────────────────────────────────────────────

// Emission is one recorded metric emission.
type Emission struct {
	Namespace string
	Name      string
	Value     float64
	Dims      map[string]string
}

// MemorySink records emissions for inspection in tests.
type MemorySink struct {
	mu        sync.Mutex
	emissions []Emission
}

// NewMemorySink creates an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Emit(namespace, name string, value float64, dims map[string]string) {
	copied := make(map[string]string, len(dims))
	for k, v := range dims {
		copied[k] = v
	}
	s.mu.Lock()
	s.emissions = append(s.emissions, Emission{Namespace: namespace, Name: name, Value: value, Dims: copied})
	s.mu.Unlock()
}

// Emissions returns a snapshot of all recorded emissions.
func (s *MemorySink) Emissions() []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Emission, len(s.emissions))
	copy(out, s.emissions)
	return out
}

// ByName returns recorded emissions matching the given metric name.
func (s *MemorySink) ByName(name string) []Emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Emission
	for _, e := range s.emissions {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
