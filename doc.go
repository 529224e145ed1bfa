// Package e2sarutils holds the event-mover pipeline: tools that move
// fixed-layout physics events from tabular inputs to remote consumers
// through a segmentation/reassembly transport.
//
// # Data model
//
// The unit of exchange is a 128-byte frame: sixteen float64 values in
// little-endian order, the (E, Px, Py, Pz) four-vectors of the pi+, pi-,
// gamma1 and gamma2 legs of a Dalitz decay candidate. Frames are packed
// back to back into batch buffers on the sending side and come back out
// of the transport as whole batches on the receiving side. See the event
// package for the layout and the kinematics helpers.
//
// # Architecture
//
//	column files / tables
//	         │  source.Table cursors
//	         ▼
//	  stream workers ──► gateway ──► Segmenter ─┐
//	  (batch + retry)                           │  data plane
//	         ┌──────────────────────────────────┘
//	         ▼
//	    Reassembler ──► receive.Consumer ──► sinks
//	                                          ├─ file   (event_{:08d}.dat)
//	                                          ├─ NATS   (evtbridge)
//	                                          └─ object store (archive)
//
// Senders and receivers meet only at the transport boundary: a Segmenter
// accepts whole batch buffers, a Reassembler hands back whole batches with
// their event numbers. Engines are chosen by the URI scheme of the
// destination (see transport.ParseURI); the in-tree loopback driver pairs
// both halves inside one process for tests and demos.
//
// # Binaries
//
//   - evtmover: sends every table in a directory over N concurrent
//     streams, or receives and persists events to pattern-named files.
//   - evtbridge: receives events and republishes them on a NATS subject
//     per data id, optionally archiving each one in a JetStream object
//     store.
//   - evtproc: subscribes to the bridge's subjects and runs the Dalitz
//     selection over a bounded worker pool, reporting how many events
//     pass the cuts.
//
// The movers and the bridge exit 0 only when their leg finished without
// loss: every stream sent, or every received event written. evtproc keeps
// counting through malformed payloads and reports them in its summary.
package e2sarutils
