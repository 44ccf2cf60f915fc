// Package pointer resolves RFC 6901 JSON Pointers against decoded JSON documents
// (map[string]any / []any trees as produced by encoding/json).
//
// # Why an interpreter
//
// Backends place tokens and session payloads at operator-configured locations
// ("/data/token", "/auth/tokens/0/value", ...). The engine never binds response
// shapes at compile time; every extraction goes through [Get] and every caller
// handles the missing / wrong-type outcome explicitly.
//
// # What this package must NOT do
//
//   - Import authsession or any storage package.
//   - Use reflection on caller types: only map[string]any and []any are traversed.
package pointer
