// Package guard decides whether navigation to a route may proceed, and adapts those
// decisions to net/http middleware.
//
// # Guards
//
//   - [Decide]: the auth guard. Requires a stored access or refresh token.
//   - [DecideGuest]: the guest guard. Sends logged-in users away from login pages.
//   - [Protect], [GuestOnly], [Global]: HTTP adapters reading the per-request Manager
//     installed by authsession.Engine.Middleware.
//
// # What this package must NOT do
//
//   - Call the backend. Decisions use stored token presence only; refreshing is the
//     Manager's job once the request is allowed through.
//   - Redirect to anything but a local path.
package guard
