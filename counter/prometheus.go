package counter

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusAllocator backs declared counter registries with real
// prometheus.GaugeVec storage, keyed by the same five-flavor path the
// core addresses internally plus the counter's own name and index. This
// is the external counter_storage_spawn collaborator; the build path only
// calls Spawn, and numeric values are read back only through the
// Storage methods (e.g. config.Generation's *CounterValue inspection calls).
type PrometheusAllocator struct {
	reg prometheus.Registerer

	mu    sync.Mutex
	gauge map[string]*prometheus.GaugeVec
}

// NewPrometheusAllocator creates an allocator that registers its metrics
// against reg (pass prometheus.DefaultRegisterer for the global registry).
func NewPrometheusAllocator(reg prometheus.Registerer) *PrometheusAllocator {
	return &PrometheusAllocator{reg: reg, gauge: make(map[string]*prometheus.GaugeVec)}
}

var pathLabels = []string{"flavor", "device", "pipeline", "function", "chain", "module", "index"}

func (a *PrometheusAllocator) vecFor(name string) *prometheus.GaugeVec {
	a.mu.Lock()
	defer a.mu.Unlock()

	if vec, ok := a.gauge[name]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cp",
		Subsystem: "counter",
		Name:      sanitize(name),
		Help:      "Config-plane counter: " + name,
	}, pathLabels)
	_ = a.reg.Register(vec) // AlreadyRegisteredError is fine: same vec reused across spawns
	a.gauge[name] = vec
	return vec
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out[i] = c
		} else {
			out[i] = '_'
		}
	}
	return string(out)
}

// Spawn materializes declared into prometheus-backed storage. Because
// metric identity in Prometheus is determined entirely by its label set,
// values for a path+descriptor+index that also existed in old are
// naturally carried forward without copying — but only while the
// declarations still match. A changed declaration shape means the path's
// counters start fresh, so the old storage's series are deleted before
// the new storage can address them.
func (a *PrometheusAllocator) Spawn(path PathKey, old Storage, declared DeclaredRegistry) (Storage, error) {
	s := &prometheusStorage{alloc: a, path: path, declared: declared}
	if old != nil && !old.Declared().SameShape(declared) {
		for _, d := range old.Declared().Descriptors {
			for i := 0; i < d.Cardinality; i++ {
				a.vecFor(d.Name).Delete(s.labels(i))
			}
		}
	}
	return s, nil
}

type prometheusStorage struct {
	alloc    *PrometheusAllocator
	path     PathKey
	declared DeclaredRegistry
}

func (s *prometheusStorage) Path() PathKey             { return s.path }
func (s *prometheusStorage) Declared() DeclaredRegistry { return s.declared }

func (s *prometheusStorage) descriptor(name string, index int) (*Descriptor, error) {
	for i := range s.declared.Descriptors {
		d := &s.declared.Descriptors[i]
		if d.Name == name {
			if index < 0 || index >= d.Cardinality {
				return nil, ErrUnknownCounter
			}
			return d, nil
		}
	}
	return nil, ErrUnknownCounter
}

func (s *prometheusStorage) labels(index int) prometheus.Labels {
	return prometheus.Labels{
		"flavor":   s.path.Flavor.String(),
		"device":   s.path.Device,
		"pipeline": s.path.Pipeline,
		"function": s.path.Function,
		"chain":    s.path.Chain,
		"module":   s.path.Module,
		"index":    strconv.Itoa(index),
	}
}

func (s *prometheusStorage) Value(name string, index int) (float64, error) {
	if _, err := s.descriptor(name, index); err != nil {
		return 0, err
	}
	var m dto.Metric
	g := s.alloc.vecFor(name).With(s.labels(index))
	if err := g.Write(&m); err != nil {
		return 0, err
	}
	return m.GetGauge().GetValue(), nil
}

func (s *prometheusStorage) Set(name string, index int, v float64) error {
	if _, err := s.descriptor(name, index); err != nil {
		return err
	}
	s.alloc.vecFor(name).With(s.labels(index)).Set(v)
	return nil
}

func (s *prometheusStorage) Add(name string, index int, delta float64) error {
	if _, err := s.descriptor(name, index); err != nil {
		return err
	}
	s.alloc.vecFor(name).With(s.labels(index)).Add(delta)
	return nil
}
