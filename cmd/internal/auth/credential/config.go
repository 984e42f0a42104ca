package credential

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// PlaceholderSigningSecret is the development default for SIGNING_SECRET.
// A production process must refuse to start while the secret is left at this
// value; see Config.Validate.
const PlaceholderSigningSecret = "dev-signing-secret-change-me"

// Config defines all runtime configuration for the credential subsystem.
//
// It controls access-token TTL, renewal-token TTL and entropy, rotation and
// reuse-cascade policy, clock skew tolerance, and the HMAC signing secret.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of signed access tokens.
	// The "exp" claim is always exactly issued-at + AccessTokenTTL.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defines the lifetime of opaque renewal tokens.
	RefreshTokenTTL time.Duration

	// RotationEnabled replaces the renewal token on every successful refresh.
	// When disabled, refresh returns the presented token unchanged.
	RotationEnabled bool

	// ReuseCascade revokes every active renewal token of a principal when an
	// already-rotated token is presented again (a theft signal). The reuse
	// itself always fails with ErrUnauthorized either way.
	ReuseCascade bool

	// ClockSkew defines the allowed time skew during access-token validation.
	ClockSkew time.Duration

	// RenewalTokenBytes defines the number of random bytes used to generate
	// opaque renewal tokens. Minimum 32 (256 bits).
	RenewalTokenBytes int

	// SigningSecret is the HMAC-SHA256 key for access tokens.
	SigningSecret string

	// Production toggles strict startup checks (placeholder secret refusal).
	Production bool
}

// DefaultConfig returns a configuration suitable for development.
//
// Production environments must override SIGNING_SECRET; see Validate.
func DefaultConfig() Config {
	return Config{
		Issuer:            "bms",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		RotationEnabled:   false,
		ReuseCascade:      true,
		ClockSkew:         30 * time.Second,
		RenewalTokenBytes: 32,
		SigningSecret:     PlaceholderSigningSecret,
	}
}

// LoadConfigFromEnv loads credential configuration from environment variables.
//
// Recognized options:
//   - ACCESS_TOKEN_TTL (duration, default 15m)
//   - REFRESH_TOKEN_TTL (duration, default 7d)
//   - REFRESH_ROTATION_ENABLED (bool, default false)
//   - REFRESH_REUSE_CASCADE (bool, default true)
//   - SIGNING_SECRET (required in production mode, must not be the placeholder)
//   - TOKEN_ISSUER
//   - CLOCK_SKEW (duration)
//   - RENEWAL_TOKEN_BYTES (int, 32..64)
//   - BMS_ENV ("production" enables strict checks)
//
// Durations accept Go syntax plus day ("7d") and week ("1w") units; anything
// else is rejected with ErrConfig rather than silently defaulted.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.Production = strings.EqualFold(strings.TrimSpace(os.Getenv("BMS_ENV")), "production")

	if v := os.Getenv("TOKEN_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("ACCESS_TOKEN_TTL"); v != "" {
		d, err := ParseTTL(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("REFRESH_TOKEN_TTL"); v != "" {
		d, err := ParseTTL(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("CLOCK_SKEW"); v != "" {
		d, err := ParseTTL(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("REFRESH_ROTATION_ENABLED"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.RotationEnabled = b
	}

	if v := os.Getenv("REFRESH_REUSE_CASCADE"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.ReuseCascade = b
	}

	if v := os.Getenv("RENEWAL_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RenewalTokenBytes = n
	}

	if v := os.Getenv("SIGNING_SECRET"); v != "" {
		cfg.SigningSecret = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate enforces the configuration invariants.
func (c Config) Validate() error {
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	// An access token must never outlive the renewal token that backs it.
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return ErrConfig
	}
	if c.RenewalTokenBytes < 32 {
		return ErrConfig
	}
	if c.SigningSecret == "" {
		return ErrSigning
	}
	if c.Production && c.SigningSecret == PlaceholderSigningSecret {
		return ErrSigning
	}
	return nil
}

// ParseTTL parses a duration string.
//
// It accepts everything time.ParseDuration accepts, plus single-unit day and
// week forms ("7d", "1w") since TTL policy is commonly expressed in days.
// Unknown units are an error; callers must never fall back to a default on
// parse failure.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrConfig
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	default:
		return 0, ErrConfig
	}

	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || n < 0 {
		return 0, ErrConfig
	}

	return time.Duration(n * float64(unit)), nil
}
