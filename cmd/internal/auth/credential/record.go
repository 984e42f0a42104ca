package credential

import "time"

// PrincipalStatus is the lifecycle state of a principal in the directory.
type PrincipalStatus string

const (
	// StatusActive principals may log in and refresh.
	StatusActive PrincipalStatus = "active"
	// StatusInactive principals are disabled but retained.
	StatusInactive PrincipalStatus = "inactive"
	// StatusSuspended principals are temporarily blocked.
	StatusSuspended PrincipalStatus = "suspended"
	// StatusDeleted principals are soft-deleted.
	StatusDeleted PrincipalStatus = "deleted"
)

// Principal is the directory view consumed by the engine.
// The directory itself (and its CRUD) lives outside this package.
type Principal struct {
	ID         string
	Status     PrincipalStatus
	Role       string
	SecretHash string
}

// PrincipalSummary is the subset of principal data returned to clients and
// embedded in access-token claims.
type PrincipalSummary struct {
	ID   string
	Role string
}

// RenewalCredential mirrors one bms.renewal_credentials row.
//
// The token value itself is the primary key. Once Revoked is set the record
// is otherwise immutable: RevokedAt, RevokedByIP and ReplacedByToken are
// written exactly once, by the same statement that flips Revoked.
type RenewalCredential struct {
	Token       string
	PrincipalID string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	CreatedByIP string

	Revoked     bool
	RevokedAt   *time.Time
	RevokedByIP *string

	// ReplacedByToken links to the successor token, forming the rotation
	// chain. Set only by the rotation path, never by login or logout.
	ReplacedByToken *string
}

// Active reports whether the credential can still be exchanged: not revoked
// and not past expiry.
func (c RenewalCredential) Active(now time.Time) bool {
	return !c.Revoked && c.ExpiresAt.After(now)
}

// Expired reports whether the credential is past its expiry.
func (c RenewalCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Rotated reports whether the credential was consumed by a refresh, i.e. it
// is revoked with a successor. Presenting a rotated credential again is the
// reuse signal described in the package docs.
func (c RenewalCredential) Rotated() bool {
	return c.Revoked && c.ReplacedByToken != nil
}
