package credential

import "errors"

var (
	// ErrUnauthorized covers every externally indistinguishable auth failure:
	// unknown identifier, wrong secret, inactive principal, and missing,
	// expired, revoked, or reused renewal tokens. Callers must render it with
	// a single generic message so that account existence never leaks.
	ErrUnauthorized = errors.New("invalid credentials")

	// ErrValidation is returned for malformed inputs (empty identifier,
	// oversized token strings, ...).
	ErrValidation = errors.New("invalid input")

	// ErrNotFound is returned by stores and directories when a record does
	// not exist. The engine translates it to ErrUnauthorized before it ever
	// reaches a caller.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateToken is returned by Store.Create and Store.Rotate when the
	// generated renewal token collides with an existing one. Callers retry
	// with a freshly generated value.
	ErrDuplicateToken = errors.New("renewal token already exists")

	// ErrMalformedToken is returned when an access token cannot be parsed.
	ErrMalformedToken = errors.New("malformed access token")

	// ErrInvalidSignature is returned when an access token parses but its
	// signature or issuer does not verify. Kept distinct from
	// ErrMalformedToken and ErrExpiredToken so callers can log tampering
	// attempts separately from routine expiry.
	ErrInvalidSignature = errors.New("invalid access token signature")

	// ErrExpiredToken is returned when a well-formed, correctly signed access
	// token is past its expiry.
	ErrExpiredToken = errors.New("access token expired")

	// ErrSigning is returned when the signing secret is absent or unusable.
	// Fatal at process startup, never swallowed.
	ErrSigning = errors.New("signing secret unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
