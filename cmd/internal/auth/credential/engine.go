package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bms/cmd/internal/metrics"
)

// tokenCreateAttempts bounds retries when a generated renewal value collides
// with an existing row. With 256-bit values a single collision is already
// practically impossible.
const tokenCreateAttempts = 3

// maxTokenLen rejects pathological inputs before they reach the store.
const maxTokenLen = 4096

// Engine orchestrates login, refresh and logout against the store and the
// issuer. It holds no cross-request mutable state; everything lives in the
// store, so a single Engine is safe for concurrent use.
type Engine struct {
	cfg      Config
	issuer   *Issuer
	store    Store
	dir      Directory
	secrets  SecretVerifier
	activity ActivityRecorder
	clock    Clock
	log      *slog.Logger
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access-token lifetime in whole seconds.
	ExpiresIn int64
	Principal PrincipalSummary
}

// RefreshResult is returned by a successful Refresh. With rotation disabled,
// RefreshToken is the presented token unchanged.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// NewEngine constructs an Engine. activity may be nil (events discarded),
// clock may be nil (UTC wall clock), log may be nil (slog default).
func NewEngine(
	cfg Config,
	issuer *Issuer,
	store Store,
	dir Directory,
	secrets SecretVerifier,
	activity ActivityRecorder,
	clock Clock,
	log *slog.Logger,
) *Engine {
	if activity == nil {
		activity = NopActivity{}
	}
	if clock == nil {
		clock = utcNow
	}
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		cfg:      cfg,
		issuer:   issuer,
		store:    store,
		dir:      dir,
		secrets:  secrets,
		activity: activity,
		clock:    clock,
		log:      log,
	}
}

// Login authenticates the principal and issues a fresh access token plus a
// persisted renewal token.
//
// Unknown identifier, wrong secret and non-active principal all fail with the
// identical ErrUnauthorized so that account existence cannot be probed.
func (e *Engine) Login(ctx context.Context, identifier, secret, originAddr string) (LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return LoginResult{}, ErrValidation
	}

	p, err := e.dir.FindByLoginIdentifier(ctx, identifier)
	switch {
	case errors.Is(err, ErrNotFound):
		return LoginResult{}, e.loginFailed(ctx, "", identifier, "unknown_identifier", originAddr)
	case err != nil:
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: directory lookup: %w", err)
	}

	if !e.secrets.Compare(secret, p.SecretHash) {
		return LoginResult{}, e.loginFailed(ctx, p.ID, identifier, "secret_mismatch", originAddr)
	}
	if p.Status != StatusActive {
		return LoginResult{}, e.loginFailed(ctx, p.ID, identifier, "principal_not_active", originAddr)
	}

	now := e.clock()
	summary := PrincipalSummary{ID: p.ID, Role: p.Role}

	accessToken, _, err := e.issuer.IssueAccessToken(summary, now)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}

	rec, err := e.createRenewal(ctx, p.ID, now, originAddr)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}

	// Best-effort bookkeeping; a lost timestamp must not fail the login.
	if err := e.dir.UpdateLastLogin(ctx, p.ID, now); err != nil {
		e.log.Warn("auth.login.last_login.fail", "err", err, "principal_id", p.ID)
	}

	e.activity.Record(ctx, p.ID, "auth.login", map[string]any{"identifier": identifier}, originAddr)
	metrics.LoginsTotal.WithLabelValues("success").Inc()

	return LoginResult{
		AccessToken:  accessToken,
		RefreshToken: rec.Token,
		ExpiresIn:    int64(e.cfg.AccessTokenTTL.Seconds()),
		Principal:    summary,
	}, nil
}

// Refresh exchanges a renewal token for a new access token, rotating the
// renewal token when rotation is enabled.
//
// Two concurrent calls presenting the same active token race on the store's
// compare-and-swap: exactly one wins and receives the successor, the other
// fails ErrUnauthorized.
func (e *Engine) Refresh(ctx context.Context, renewalToken, originAddr string) (RefreshResult, error) {
	renewalToken = strings.TrimSpace(renewalToken)
	if renewalToken == "" || len(renewalToken) > maxTokenLen {
		metrics.RefreshesTotal.WithLabelValues("unauthorized").Inc()
		return RefreshResult{}, ErrUnauthorized
	}

	rec, err := e.store.FindByToken(ctx, renewalToken)
	if errors.Is(err, ErrNotFound) {
		metrics.RefreshesTotal.WithLabelValues("unauthorized").Inc()
		return RefreshResult{}, ErrUnauthorized
	}
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues("error").Inc()
		return RefreshResult{}, fmt.Errorf("refresh: lookup: %w", err)
	}

	now := e.clock()

	// Revocation is checked before expiry: a rotated token presented again is
	// a reuse signal even if it has expired since.
	if rec.Revoked {
		if rec.Rotated() && e.cfg.ReuseCascade {
			e.cascadeOnReuse(ctx, rec, originAddr)
			metrics.RefreshesTotal.WithLabelValues("reuse").Inc()
		} else {
			metrics.RefreshesTotal.WithLabelValues("unauthorized").Inc()
		}
		return RefreshResult{}, ErrUnauthorized
	}

	if rec.Expired(now) {
		metrics.RefreshesTotal.WithLabelValues("unauthorized").Inc()
		return RefreshResult{}, ErrUnauthorized
	}

	p, err := e.dir.FindByID(ctx, rec.PrincipalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RefreshesTotal.WithLabelValues("error").Inc()
		return RefreshResult{}, fmt.Errorf("refresh: directory lookup: %w", err)
	}
	if errors.Is(err, ErrNotFound) || p.Status != StatusActive {
		// The principal went away or was deactivated: retire the token.
		if _, rerr := e.store.RevokeIfActive(ctx, rec.Token, now, originAddr, nil); rerr != nil {
			e.log.Error("auth.refresh.revoke_inactive.fail", "err", rerr, "principal_id", rec.PrincipalID)
		} else {
			metrics.RevocationsTotal.WithLabelValues("inactive_principal").Inc()
		}
		metrics.RefreshesTotal.WithLabelValues("unauthorized").Inc()
		return RefreshResult{}, ErrUnauthorized
	}

	summary := PrincipalSummary{ID: p.ID, Role: p.Role}
	expiresIn := int64(e.cfg.AccessTokenTTL.Seconds())

	if !e.cfg.RotationEnabled {
		accessToken, _, err := e.issuer.IssueAccessToken(summary, now)
		if err != nil {
			metrics.RefreshesTotal.WithLabelValues("error").Inc()
			return RefreshResult{}, fmt.Errorf("refresh: %w", err)
		}

		e.activity.Record(ctx, p.ID, "auth.refresh", nil, originAddr)
		metrics.RefreshesTotal.WithLabelValues("success").Inc()

		return RefreshResult{
			AccessToken:  accessToken,
			RefreshToken: rec.Token,
			ExpiresIn:    expiresIn,
		}, nil
	}

	for attempt := 0; attempt < tokenCreateAttempts; attempt++ {
		value, err := e.issuer.IssueRenewalValue()
		if err != nil {
			metrics.RefreshesTotal.WithLabelValues("error").Inc()
			return RefreshResult{}, fmt.Errorf("refresh: renewal value: %w", err)
		}

		successor := RenewalCredential{
			Token:       value,
			PrincipalID: p.ID,
			IssuedAt:    now,
			ExpiresAt:   now.Add(e.cfg.RefreshTokenTTL),
			CreatedByIP: originAddr,
		}

		won, err := e.store.Rotate(ctx, rec.Token, now, originAddr, successor)
		if errors.Is(err, ErrDuplicateToken) {
			continue
		}
		if err != nil {
			metrics.RefreshesTotal.WithLabelValues("error").Inc()
			return RefreshResult{}, fmt.Errorf("refresh: rotate: %w", err)
		}
		if !won {
			// A concurrent refresh consumed this token first.
			metrics.RefreshesTotal.WithLabelValues("race_lost").Inc()
			return RefreshResult{}, ErrUnauthorized
		}

		accessToken, _, err := e.issuer.IssueAccessToken(summary, now)
		if err != nil {
			metrics.RefreshesTotal.WithLabelValues("error").Inc()
			return RefreshResult{}, fmt.Errorf("refresh: %w", err)
		}

		e.activity.Record(ctx, p.ID, "auth.refresh", nil, originAddr)
		metrics.RefreshesTotal.WithLabelValues("success").Inc()

		return RefreshResult{
			AccessToken:  accessToken,
			RefreshToken: value,
			ExpiresIn:    expiresIn,
		}, nil
	}

	metrics.RefreshesTotal.WithLabelValues("error").Inc()
	return RefreshResult{}, fmt.Errorf("refresh: %w: attempts exhausted", ErrDuplicateToken)
}

// Logout revokes renewal credentials for the principal.
//
// With a token supplied it revokes that token only if the principal owns it;
// an ownership mismatch or an already-revoked token is a silent no-op, never
// an error. With no token it revokes every active credential of the
// principal. Returns the number revoked.
func (e *Engine) Logout(ctx context.Context, principalID, renewalToken, originAddr string) (int64, error) {
	if strings.TrimSpace(principalID) == "" {
		return 0, ErrValidation
	}

	now := e.clock()

	if renewalToken == "" {
		n, err := e.store.RevokeAllActive(ctx, principalID, now, originAddr)
		if err != nil {
			return 0, fmt.Errorf("logout: revoke all: %w", err)
		}

		e.activity.Record(ctx, principalID, "auth.logout_all", map[string]any{"revoked": n}, originAddr)
		metrics.RevocationsTotal.WithLabelValues("logout_all").Add(float64(n))
		return n, nil
	}

	rec, err := e.store.FindByToken(ctx, renewalToken)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("logout: lookup: %w", err)
	}
	if rec.PrincipalID != principalID {
		// Ownership check: never revoke someone else's token, never report it.
		return 0, nil
	}

	won, err := e.store.RevokeIfActive(ctx, rec.Token, now, originAddr, nil)
	if err != nil {
		return 0, fmt.Errorf("logout: revoke: %w", err)
	}
	if !won {
		return 0, nil
	}

	e.activity.Record(ctx, principalID, "auth.logout", nil, originAddr)
	metrics.RevocationsTotal.WithLabelValues("logout").Inc()
	return 1, nil
}

// InvalidateAllForPrincipal hard-deletes every renewal credential of the
// principal. The password-reset flow must call this after a successful secret
// change so that every existing session is invalidated.
func (e *Engine) InvalidateAllForPrincipal(ctx context.Context, principalID, originAddr string) (int64, error) {
	if strings.TrimSpace(principalID) == "" {
		return 0, ErrValidation
	}

	n, err := e.store.DeleteAllForPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("invalidate principal sessions: %w", err)
	}

	e.activity.Record(ctx, principalID, "auth.sessions.invalidated", map[string]any{"deleted": n}, originAddr)
	return n, nil
}

func (e *Engine) loginFailed(ctx context.Context, principalID, identifier, reason, originAddr string) error {
	e.activity.Record(ctx, principalID, "auth.login.failed", map[string]any{
		"identifier": identifier,
		"reason":     reason,
	}, originAddr)
	metrics.LoginsTotal.WithLabelValues("unauthorized").Inc()
	return ErrUnauthorized
}

func (e *Engine) cascadeOnReuse(ctx context.Context, rec RenewalCredential, originAddr string) {
	n, err := e.store.RevokeAllActive(ctx, rec.PrincipalID, e.clock(), originAddr)
	if err != nil {
		e.log.Error("auth.refresh.reuse_cascade.fail", "err", err, "principal_id", rec.PrincipalID)
		return
	}

	e.log.Warn("auth.refresh.reuse_detected",
		"principal_id", rec.PrincipalID,
		"revoked", n,
		"origin", originAddr,
	)
	e.activity.Record(ctx, rec.PrincipalID, "auth.refresh.reuse_detected", map[string]any{
		"revoked": n,
	}, originAddr)
	metrics.RevocationsTotal.WithLabelValues("reuse_cascade").Add(float64(n))
}

func (e *Engine) createRenewal(ctx context.Context, principalID string, now time.Time, originAddr string) (RenewalCredential, error) {
	for attempt := 0; attempt < tokenCreateAttempts; attempt++ {
		value, err := e.issuer.IssueRenewalValue()
		if err != nil {
			return RenewalCredential{}, fmt.Errorf("renewal value: %w", err)
		}

		rec := RenewalCredential{
			Token:       value,
			PrincipalID: principalID,
			IssuedAt:    now,
			ExpiresAt:   now.Add(e.cfg.RefreshTokenTTL),
			CreatedByIP: originAddr,
		}

		err = e.store.Create(ctx, rec)
		if errors.Is(err, ErrDuplicateToken) {
			continue
		}
		if err != nil {
			return RenewalCredential{}, fmt.Errorf("create renewal: %w", err)
		}
		return rec, nil
	}

	return RenewalCredential{}, fmt.Errorf("create renewal: %w: attempts exhausted", ErrDuplicateToken)
}
