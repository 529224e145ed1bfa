// Package errors provides standardized error handling patterns for the
// e2sar-utils pipeline.
//
// # Overview
//
// The errors package implements a three-class error classification system
// for event movers: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop the stream or process).
//
// The classes map directly onto the pipeline's handling strategies:
//
//   - Transient: a full segmenter send queue, a broker reconnect in
//     progress. Retry locally with a bounded budget.
//   - Invalid: a payload that is not a whole number of event frames, a
//     malformed URI or configuration value. Never retry; count or reject.
//   - Fatal: retry budget exhausted, engine rejected a batch outright,
//     startup failures. The owning stream (or the process) stops.
//
// The classification system integrates with Go's standard error handling,
// supporting errors.Is(), errors.As(), and error wrapping chains.
//
// # Quick Start
//
// Return standard error variables for known conditions:
//
//	if len(buf)%event.FrameSize != 0 {
//	    return errors.ErrInvalidLength
//	}
//
// Wrap errors with context for debugging:
//
//	if err := seg.Enqueue(payload, id, 0, release); err != nil {
//	    return errors.WrapFatal(err, "Gateway", "Send", "enqueue batch")
//	}
//
// Check classification to drive handling:
//
//	if err := op(); err != nil {
//	    switch {
//	    case errors.IsTransient(err):
//	        // bounded retry
//	    case errors.IsFatal(err):
//	        // abort this stream
//	    }
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// This format keeps log lines parseable across the sender, receiver and
// sink processes. The Wrap family of functions applies the pattern while
// attaching a classification that survives the wrapping chain.
package errors
