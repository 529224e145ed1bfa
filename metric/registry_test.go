package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

func gatheredNames(t *testing.T, r *Registry) map[string]bool {
	t.Helper()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewRegistryHasRuntimeCollectors(t *testing.T) {
	registry := NewRegistry()

	names := gatheredNames(t, registry)
	assert.True(t, names["go_goroutines"])
}

func TestRegisterCounter(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})
	require.NoError(t, registry.RegisterCounter("gateway", "test_counter", counter))

	counter.Inc()
	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestRegisterHistogram(t *testing.T) {
	registry := NewRegistry()

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "store_duration_seconds",
		Help:    "Store latency.",
		Buckets: prometheus.DefBuckets,
	})
	require.NoError(t, registry.RegisterHistogram("sink", "store_duration_seconds", hist))

	hist.Observe(0.01)
	assert.True(t, gatheredNames(t, registry)["store_duration_seconds"])
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	registry := NewRegistry()

	first := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "dup"})
	require.NoError(t, registry.RegisterCounter("gateway", "dup_total", first))

	second := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "dup"})
	err := registry.RegisterCounter("gateway", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same collector name under another component still collides inside
	// prometheus itself.
	err = registry.RegisterCounter("receiver", "dup_total", second)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregisterAllowsReRegistration(t *testing.T) {
	registry := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "queue_depth", Help: "depth"})
	require.NoError(t, registry.RegisterGauge("gateway", "queue_depth", gauge))

	assert.True(t, registry.Unregister("gateway", "queue_depth"))
	assert.False(t, registry.Unregister("gateway", "queue_depth"))

	require.NoError(t, registry.RegisterGauge("gateway", "queue_depth", gauge))
}

func TestConcurrentRegistration(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("worker_%d_total", i)
			counter := prometheus.NewCounter(prometheus.CounterOpts{
				Name: name,
				Help: "per-worker counter",
			})
			errs[i] = registry.RegisterCounter("worker", name, counter)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}
