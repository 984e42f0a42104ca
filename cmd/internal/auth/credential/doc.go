// Package credential implements the BMS credential lifecycle.
//
// It issues short-lived signed access tokens and long-lived opaque renewal
// tokens, rotates renewal tokens on use, and handles revocation, reuse
// detection, and expiry.
//
// Access tokens are JWTs signed with HMAC-SHA256 and are never persisted.
// Renewal tokens are opaque random strings stored in Postgres together with
// their rotation chain.
//
// Transport (HTTP) integration is intentionally out of scope here.
package credential
