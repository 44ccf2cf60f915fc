// Package tokenstore persists access and refresh token records for one execution
// context.
//
// # Layers
//
// A [Store] is the only writer of a [Record]: it stamps ExpiresAt from its configured
// max-age and decides expiry with a skew. Below it sits a [Storage] strategy chosen at
// construction ([ModeMemory], [ModeCookie], [ModeLocal]), and below the persistent
// strategies a [KV] driver ([MemoryKV], [RedisKV], [CookieJar]).
//
// # Persisted layout
//
// Cookie mode writes a value cell "<name>" and a companion "<name>-expires" cell holding
// unix milliseconds. Local mode writes one JSON record {"token","expiresAt"} under
// "<prefix><name>". Both use the kind's max-age as the cell TTL.
//
// # What this package must NOT do
//
//   - Import authsession (no upward imports).
//   - Trust an expiry supplied by a backend response.
//   - Share a [MemoryStorage] between execution contexts.
package tokenstore
