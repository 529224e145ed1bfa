// Package metric exposes pipeline counters in Prometheus format.
//
// The pipeline components keep their own cumulative counters (the gateway,
// the receive consumer, the reassembly engine). This package does not add a
// second set: collectors read the existing counters at scrape time through
// CounterFunc and GaugeFunc, so the hot paths never touch a metric.
//
// A Registry wraps a private Prometheus registry and tracks collectors per
// component so a name cannot be claimed twice. The Server serves the
// registry at a configurable path (default /metrics), answers liveness
// probes at /healthz, and mounts extra handlers such as the websocket
// monitor. The endpoint is off unless a port is configured.
//
// Typical receiver wiring:
//
//	registry := metric.NewRegistry()
//	if err := metric.RegisterReceiveCollectors(registry, consumer.Counters(), rea); err != nil {
//	    return err
//	}
//	server := metric.NewServer(metric.Config{Port: 9090}, registry)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("observability server failed", "err", err)
//	    }
//	}()
//	defer server.Stop()
package metric
