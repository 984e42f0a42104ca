package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	PrincipalID string
	Role        string
	Issuer      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Issuer signs access tokens and generates opaque renewal values.
//
// Access tokens are JWTs signed with HMAC-SHA256 carrying exactly
// {iss, sub, role, iat, exp}. Renewal values are crypto/rand strings,
// independent of any counter or timestamp.
type Issuer struct {
	issuer       string
	ttl          time.Duration
	clockSkew    time.Duration
	secret       []byte
	renewalBytes int
}

// NewIssuer constructs an Issuer from validated configuration.
// Returns ErrSigning if the signing secret is unusable.
func NewIssuer(cfg Config) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Issuer{
		issuer:       cfg.Issuer,
		ttl:          cfg.AccessTokenTTL,
		clockSkew:    cfg.ClockSkew,
		secret:       []byte(cfg.SigningSecret),
		renewalBytes: cfg.RenewalTokenBytes,
	}, nil
}

// IssueAccessToken signs a token for the principal. The "exp" claim is
// exactly now + the configured access TTL.
func (i *Issuer) IssueAccessToken(p PrincipalSummary, now time.Time) (string, time.Time, error) {
	if p.ID == "" {
		return "", time.Time{}, ErrValidation
	}

	exp := now.Add(i.ttl)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  i.issuer,
		"sub":  p.ID,
		"role": p.Role,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	})

	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return signed, exp, nil
}

// IssueRenewalValue returns a cryptographically secure opaque token value.
// URL-safe, no padding.
func (i *Issuer) IssueRenewalValue() (string, error) {
	b := make([]byte, i.renewalBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifyAccessToken verifies the token signature, issuer and expiry at the
// given instant.
func (i *Issuer) VerifyAccessToken(tokenStr string, now time.Time) (AccessClaims, error) {
	return verifyHS256(i.secret, i.issuer, i.clockSkew, tokenStr, now)
}

// verifyHS256 is shared by Issuer and Validator so both map library failures
// onto the same three-way taxonomy: malformed, bad signature, expired.
func verifyHS256(secret []byte, issuer string, skew time.Duration, tokenStr string, now time.Time) (AccessClaims, error) {
	if tokenStr == "" || len(tokenStr) > 4096 {
		return AccessClaims{}, ErrMalformedToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(skew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	parsed, err := parser.Parse(tokenStr, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return AccessClaims{}, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenInvalidIssuer),
			errors.Is(err, jwt.ErrTokenUnverifiable):
			return AccessClaims{}, ErrInvalidSignature
		default:
			return AccessClaims{}, ErrMalformedToken
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return AccessClaims{}, ErrMalformedToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrMalformedToken
	}

	role, _ := claims["role"].(string)

	iss, _ := claims.GetIssuer()
	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()

	out := AccessClaims{
		PrincipalID: sub,
		Role:        role,
		Issuer:      iss,
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat != nil {
		out.IssuedAt = iat.Time
	}

	return out, nil
}
