// Package authsession keeps the access token, refresh token and session payload of an
// application talking to a token-issuing backend.
//
// An [Engine] is built once from a [Config] through [Builder.Build] and is safe for
// concurrent use. Each execution context (a long-lived client, or one server request
// via [Engine.Middleware]) gets its own [Manager], which owns:
//
//   - two token records held by a tokenstore strategy (cookie, local or memory),
//   - the session payload fetched from the backend,
//   - an authenticated *http.Client whose [Transport] injects the token and handles 401s,
//   - an optional [Sync] that mirrors a shared logged-in flag across contexts.
//
// # Refresh
//
// An expired access token is refreshed transparently by [Manager.GetAccessToken].
// Concurrent callers within one Manager share a single refresh request and observe the
// same resulting token. A failed refresh clears the session, and so does an expired
// access token with no usable refresh token. [Manager.Restore] also refreshes when only
// the refresh token survived.
//
// # Cross-context sync
//
// [Manager.StartSync] shares one logged-in flag per engine, the way tabs of a browser
// share one cookie jar. Servers syncing many users use [Manager.StartSyncScoped].
//
// # What this package must NOT do
//
//   - Validate or decode tokens: they are opaque strings with a locally computed expiry.
//   - Render redirects. Route decisions live in the guard package.
//   - Import any sub-package that re-imports authsession (no import cycles).
package authsession
