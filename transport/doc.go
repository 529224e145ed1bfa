// Package transport defines the boundary between the event pipeline and the
// segmentation/reassembly engine that moves batches across the network.
//
// The engine is an external collaborator: the sender hands it whole batch
// buffers through a Segmenter and the receiver drains reassembled events from
// a Reassembler. Engines are provided by drivers selected through the URI
// scheme of the destination descriptor (see ParseURI) and registered on a
// Registry. The in-tree loopback driver pairs both halves inside one process
// and is what the test suite runs against; drivers for real load balancer
// deployments implement the same two interfaces.
//
// Buffer ownership follows the engine convention: a payload passed to
// Enqueue belongs to the engine until the release callback fires, and a
// Delivery belongs to the caller until its Release method is invoked.
package transport
