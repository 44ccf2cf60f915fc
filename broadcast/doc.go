// Package broadcast carries small key/value flags between execution contexts that share
// one user session (browser tabs, desktop windows, worker processes).
//
// A [Bus] stores the latest value per key and notifies subscribers only when a write
// actually changes it. Every write carries an origin so a writer can ignore its own
// echo.
//
// # What this package must NOT do
//
//   - Import authsession (no upward imports).
//   - Carry tokens. Flags only.
package broadcast
