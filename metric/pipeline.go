package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JeffersonLab/e2sar-utils/monitor"
	"github.com/JeffersonLab/e2sar-utils/natsclient"
	"github.com/JeffersonLab/e2sar-utils/pkg/worker"
	"github.com/JeffersonLab/e2sar-utils/receive"
	"github.com/JeffersonLab/e2sar-utils/stream"
	"github.com/JeffersonLab/e2sar-utils/transport"
)

// namespace prefixes every pipeline metric.
const namespace = "e2sar"

type funcDef struct {
	name string
	help string
	read func() float64
}

func registerCounterFuncs(r Registrar, subsystem string, defs []funcDef) error {
	for _, d := range defs {
		counter := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      d.name,
			Help:      d.help,
		}, d.read)
		if err := r.RegisterCounterFunc(subsystem, d.name, counter); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSendCollectors exposes the shared gateway's counters and the
// segmentation engine's wire counters. Values are read at scrape time, so
// the send path records nothing.
func RegisterSendCollectors(r Registrar, gw *stream.Gateway) error {
	return registerCounterFuncs(r, "send", []funcDef{
		{"batches_total", "Batches accepted by the segmentation engine.",
			func() float64 { return float64(gw.Stats().Batches) }},
		{"bytes_total", "Payload bytes accepted by the segmentation engine.",
			func() float64 { return float64(gw.Stats().Bytes) }},
		{"queue_full_total", "Enqueue attempts rejected for queue room.",
			func() float64 { return float64(gw.Stats().QueueFull) }},
		{"failures_total", "Batches that failed after retries were exhausted.",
			func() float64 { return float64(gw.Stats().Failures) }},
		{"frames_total", "Frames the engine has put on the wire.",
			func() float64 { return float64(gw.EngineStats().Frames) }},
		{"wire_errors_total", "Wire-level send failures reported by the engine.",
			func() float64 { return float64(gw.EngineStats().Errors) }},
	})
}

// RegisterReceiveCollectors exposes the consumer's counters and the
// reassembly engine's.
func RegisterReceiveCollectors(r Registrar, c *receive.Counters, rea transport.Reassembler) error {
	err := registerCounterFuncs(r, "receive", []funcDef{
		{"events_total", "Events handed to the sink.",
			func() float64 { return float64(c.Received()) }},
		{"bytes_total", "Payload bytes handed to the sink.",
			func() float64 { return float64(c.Bytes()) }},
		{"write_errors_total", "Sink store failures.",
			func() float64 { return float64(c.WriteErrors()) }},
	})
	if err != nil {
		return err
	}

	return registerCounterFuncs(r, "reassembly", []funcDef{
		{"packets_total", "Data frames received.",
			func() float64 { return float64(rea.Stats().Packets) }},
		{"bytes_total", "Payload bytes reassembled.",
			func() float64 { return float64(rea.Stats().Bytes) }},
		{"delivered_total", "Events reassembled and queued.",
			func() float64 { return float64(rea.Stats().Delivered) }},
		{"loss_total", "Events lost to missing fragments.",
			func() float64 { return float64(rea.Stats().ReassemblyLoss) }},
		{"enqueue_loss_total", "Events dropped for receive queue room.",
			func() float64 { return float64(rea.Stats().EnqueueLoss) }},
		{"data_errors_total", "Malformed data frames.",
			func() float64 { return float64(rea.Stats().DataErrors) }},
		{"control_errors_total", "Control-plane errors seen by the engine.",
			func() float64 { return float64(rea.Stats().ControlErrors) }},
	})
}

// RegisterBrokerCollectors exposes the NATS client's connection state.
func RegisterBrokerCollectors(r Registrar, client *natsclient.Client) error {
	connected := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "nats",
		Name:      "connected",
		Help:      "NATS connection status (0=disconnected, 1=connected).",
	}, func() float64 {
		if client.IsConnected() {
			return 1
		}
		return 0
	})
	if err := r.RegisterGaugeFunc("nats", "connected", connected); err != nil {
		return err
	}

	return registerCounterFuncs(r, "nats", []funcDef{
		{"reconnects_total", "NATS reconnections observed.",
			func() float64 { return float64(client.Reconnects()) }},
	})
}

// RegisterPoolCollectors exposes a worker pool's counters. The stats
// snapshot is taken at scrape time.
func RegisterPoolCollectors(r Registrar, stats func() worker.Stats) error {
	err := registerCounterFuncs(r, "pool", []funcDef{
		{"submitted_total", "Items accepted into the pool queue.",
			func() float64 { return float64(stats().Submitted) }},
		{"processed_total", "Items processed without error.",
			func() float64 { return float64(stats().Processed) }},
		{"failed_total", "Items whose processing returned an error.",
			func() float64 { return float64(stats().Failed) }},
		{"dropped_total", "Items dropped because the queue was full.",
			func() float64 { return float64(stats().Dropped) }},
	})
	if err != nil {
		return err
	}

	pending := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "pending",
		Help:      "Items waiting for a worker.",
	}, func() float64 { return float64(stats().Pending) })
	return r.RegisterGaugeFunc("pool", "pending", pending)
}

// RegisterMonitorCollectors exposes the websocket hub's client count.
func RegisterMonitorCollectors(r Registrar, hub *monitor.Hub) error {
	clients := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "clients",
		Help:      "Connected websocket monitor clients.",
	}, func() float64 { return float64(hub.Count()) })

	return r.RegisterGaugeFunc("monitor", "clients", clients)
}
