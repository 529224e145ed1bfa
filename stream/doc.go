// Package stream drives the sending half of the pipeline: per-stream
// workers read events from their tables, pack them into fixed-budget
// batches, and push the batches through one shared gateway into the
// segmentation engine.
//
// Ownership of a batch buffer moves exactly once. The accumulator fills a
// slab, Take hands it off as an immutable Batch, the gateway passes it to
// the engine with the batch's release token as the free callback, and
// whoever loses the race to Release simply does nothing. Slabs are
// recycled through a per-accumulator pool, so a steady-state stream
// allocates no new batch memory.
//
// The coordinator fans the workers out, one goroutine per table, all
// sharing the gateway and one atomic buffer-id sequence. A failing stream
// never cancels its siblings; the run's outcome is the conjunction of
// every stream's outcome and a clean engine error counter.
package stream
