// Package secret provides Argon2id hashing and verification for principal
// secrets.
//
// It is the production implementation of the credential engine's
// secret-verifier collaborator: Compare runs in constant time over the
// derived keys and never reports why a hash failed to match.
package secret
