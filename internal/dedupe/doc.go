// Package dedupe tracks idempotency keys for a bounded time window.
//
// The API server claims the Idempotency-Key header of every POST /api/send
// scoped to the calling user. A second claim of the same key inside the TTL is
// a duplicate and the request is refused. Keys whose request was rejected
// before doing any work are released so the client can retry.
package dedupe
