// Package retry provides bounded retry loops for transient failures.
//
// # Overview
//
// This package offers a minimal retry mechanism with fixed or exponential
// backoff, designed to handle transient failures in send-queue backpressure,
// broker connections, and control-plane registration.
//
// # Core Functions
//
//   - Do: Execute function with retry and backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (startup, registration)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//   - Backpressure(interval, attempts): fixed interval, large budget
//     (full segmenter send queues)
//
// # Usage Examples
//
// Send-queue backpressure with a fixed interval:
//
//	cfg := retry.Backpressure(100*time.Microsecond, 10000)
//	err := retry.Do(ctx, cfg, func() error {
//	    err := seg.Enqueue(payload, num, entropy, release)
//	    if err != nil && !errors.Is(err, transport.ErrQueueFull) {
//	        return retry.NonRetryable(err)
//	    }
//	    return err
//	})
//
// Broker connection at startup:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect()
//	})
//
// Retry with result:
//
//	js, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (jetstream.Stream, error) {
//	    return jsc.Stream(ctx, streamName)
//	})
//
// # Design Philosophy
//
// This package is intentionally minimal:
//
//   - No circuit breakers (the broker client layers its own)
//   - No metrics collection (use instrumentation at call site)
//   - No complex error classification (caller wraps with NonRetryable)
//   - Just bounded backoff with optional jitter
//
// # Context Cancellation
//
// All retry operations respect context cancellation and will immediately stop
// retrying when the context is cancelled, either during operation execution or
// during backoff delay.
//
// # Thread Safety
//
// All functions are safe for concurrent use. The jitter mechanism uses a
// thread-safe random source to avoid contention.
package retry
