// Package ratelimit paces calls to shared external resources, primarily
// LLM provider APIs used by the assignment reasoner.
//
// # Usage
//
// The MemoryLimiter provides per-process rate limiting using token buckets:
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("anthropic", 60, time.Minute) // 60 requests per minute
//
//	// Block until token available
//	if err := limiter.Acquire(ctx, "anthropic"); err != nil {
//	    return err // context cancelled
//	}
//	defer limiter.Release("anthropic")
//
//	// Non-blocking attempt
//	if limiter.TryAcquire("anthropic") {
//	    defer limiter.Release("anthropic")
//	    // Make request
//	}
//
// After provider pushback, Backoff shrinks local capacity:
//
//	limiter.Backoff("anthropic", "received 429")
//
// # Algorithm
//
// Token bucket with elapsed-time refill:
//   - Tokens are added at a fixed rate based on capacity/window
//   - Each Acquire consumes one token
//   - If no tokens available, Acquire blocks (or TryAcquire returns false)
//   - Release returns a token to the bucket (optional, for request tracking)
package ratelimit
