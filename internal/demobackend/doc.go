// Package demobackend is a small auth backend speaking the wire shapes an
// authsession engine expects: sign-in, sign-up, session lookup, refresh with
// rotation, and sign-out.
//
// Access tokens are HS256 JWTs. Refresh tokens are opaque and live in Redis
// so a rotated token can be used exactly once. Passwords are stored as
// argon2id PHC strings and failed sign-ins are throttled per identifier.
//
// It backs the demo command and the refresh-storm load tool; it is not a
// production identity provider.
package demobackend
