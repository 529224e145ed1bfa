package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// Registrar is the registration surface handed to pipeline components.
type Registrar interface {
	RegisterCounter(component, name string, counter prometheus.Counter) error
	RegisterCounterFunc(component, name string, counter prometheus.CounterFunc) error
	RegisterGauge(component, name string, gauge prometheus.Gauge) error
	RegisterGaugeFunc(component, name string, gauge prometheus.GaugeFunc) error
	RegisterHistogram(component, name string, histogram prometheus.Histogram) error
	Unregister(component, name string) bool
}

// Registry manages the registration and lifecycle of metrics. Collectors
// are tracked under a component.name key so a component cannot claim the
// same name twice.
type Registry struct {
	prom       *prometheus.Registry
	registered map[string]prometheus.Collector
	mu         sync.RWMutex
}

// NewRegistry creates a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *Registry {
	r := &Registry{
		prom:       prometheus.NewRegistry(),
		registered: make(map[string]prometheus.Collector),
	}

	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// RegisterCounter registers a counter under component.name.
func (r *Registry) RegisterCounter(component, name string, counter prometheus.Counter) error {
	return r.register("RegisterCounter", component, name, counter)
}

// RegisterCounterFunc registers a pull-based counter under component.name.
func (r *Registry) RegisterCounterFunc(component, name string, counter prometheus.CounterFunc) error {
	return r.register("RegisterCounterFunc", component, name, counter)
}

// RegisterGauge registers a gauge under component.name.
func (r *Registry) RegisterGauge(component, name string, gauge prometheus.Gauge) error {
	return r.register("RegisterGauge", component, name, gauge)
}

// RegisterGaugeFunc registers a pull-based gauge under component.name.
func (r *Registry) RegisterGaugeFunc(component, name string, gauge prometheus.GaugeFunc) error {
	return r.register("RegisterGaugeFunc", component, name, gauge)
}

// RegisterHistogram registers a histogram under component.name.
func (r *Registry) RegisterHistogram(component, name string, histogram prometheus.Histogram) error {
	return r.register("RegisterHistogram", component, name, histogram)
}

func (r *Registry) register(op, component, name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for component %s", name, component),
			"Registry", op, "duplicate metric registration")
	}

	if err := r.prom.Register(collector); err != nil {
		var dup prometheus.AlreadyRegisteredError
		if stderrors.As(err, &dup) {
			return errors.WrapInvalid(err, "Registry", op,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "Registry", op, "prometheus registration")
	}

	r.registered[key] = collector
	return nil
}

// Unregister removes a metric from the registry. It reports whether
// anything was removed.
func (r *Registry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, name)

	collector, exists := r.registered[key]
	if !exists {
		return false
	}

	ok := r.prom.Unregister(collector)
	if ok {
		delete(r.registered, key)
	}

	return ok
}
