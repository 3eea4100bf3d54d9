// Package api provides synchronous request/response access to the venue REST
// endpoint: order placement, cancellation, status queries, and historical
// candle fetches.
//
// All calls pass through the shared rate limiter. Idempotent calls are retried
// per the retry policy; order placement is retried only for transport-level
// failures where the request provably carries its idempotency key.
package api
