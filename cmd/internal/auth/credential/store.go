package credential

import (
	"context"
	"time"
)

// Store abstracts persistence for renewal credentials.
//
// Implementations must make RevokeIfActive behave as a single atomic
// compare-and-swap, and Rotate as one transaction pairing that swap with the
// successor insert. Those two properties are what make refresh rotation
// race-safe.
type Store interface {
	// Create persists a new credential. Returns ErrDuplicateToken if the
	// token value already exists; the caller retries with a fresh value.
	Create(ctx context.Context, rec RenewalCredential) error

	// FindByToken loads a credential by its token value, or ErrNotFound.
	FindByToken(ctx context.Context, token string) (RenewalCredential, error)

	// FindActiveByPrincipal lists the principal's non-revoked, non-expired
	// credentials, newest first.
	FindActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]RenewalCredential, error)

	// RevokeIfActive sets revoked/revoked_at/revoked_by_ip (and, when
	// replacement is non-nil, replaced_by_token) only if the record was not
	// already revoked. Reports whether this caller won the swap. A record
	// that does not exist loses like an already-revoked one does.
	RevokeIfActive(ctx context.Context, token string, now time.Time, byIP string, replacement *string) (bool, error)

	// Rotate atomically revokes oldToken and creates successor in one
	// transaction, linking old.replaced_by_token to the successor. Reports
	// whether the compare-and-swap on oldToken won; on a lost race nothing
	// is persisted. Returns ErrDuplicateToken if successor.Token collides.
	Rotate(ctx context.Context, oldToken string, now time.Time, byIP string, successor RenewalCredential) (bool, error)

	// RevokeAllActive revokes every currently active credential of the
	// principal and returns the number revoked. Idempotent.
	RevokeAllActive(ctx context.Context, principalID string, now time.Time, byIP string) (int64, error)

	// DeleteAllForPrincipal hard-deletes every credential of the principal,
	// returning the count. Used by the password-reset invalidation path.
	DeleteAllForPrincipal(ctx context.Context, principalID string) (int64, error)

	// PurgeExpired deletes rows past expires_at, returning the count. Safe
	// to run concurrently with every other operation.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
