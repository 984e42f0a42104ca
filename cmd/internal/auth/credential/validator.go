package credential

import "time"

// PrincipalContext is the per-request identity derived from an access token.
type PrincipalContext struct {
	PrincipalID string
	Role        string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Validator is the stateless per-request access-token check.
//
// It holds only the verification secret and performs no I/O and no locking,
// so it can run on every request without adding load to the credential store.
type Validator struct {
	issuer    string
	clockSkew time.Duration
	secret    []byte
	clock     Clock
}

// NewValidator constructs a Validator from validated configuration.
func NewValidator(cfg Config, clock Clock) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = utcNow
	}

	return &Validator{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.SigningSecret),
		clock:     clock,
	}, nil
}

// Validate verifies signature and expiry and maps claims to a principal
// context. Fails with ErrMalformedToken, ErrInvalidSignature or
// ErrExpiredToken.
func (v *Validator) Validate(token string) (PrincipalContext, error) {
	claims, err := verifyHS256(v.secret, v.issuer, v.clockSkew, token, v.clock())
	if err != nil {
		return PrincipalContext{}, err
	}

	return PrincipalContext{
		PrincipalID: claims.PrincipalID,
		Role:        claims.Role,
		IssuedAt:    claims.IssuedAt,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}
