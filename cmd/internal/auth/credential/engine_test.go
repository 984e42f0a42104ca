package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDirectory is a map-backed Directory keyed by both ID and identifier.
type fakeDirectory struct {
	mu        sync.Mutex
	byID      map[string]Principal
	byLogin   map[string]Principal
	lastLogin map[string]time.Time
	lookupErr error
	updateErr error
}

func newFakeDirectory(ps ...Principal) *fakeDirectory {
	d := &fakeDirectory{
		byID:      make(map[string]Principal),
		byLogin:   make(map[string]Principal),
		lastLogin: make(map[string]time.Time),
	}
	for _, p := range ps {
		d.byID[p.ID] = p
		d.byLogin[p.ID+"@example.com"] = p
	}
	return d
}

func (d *fakeDirectory) FindByID(ctx context.Context, id string) (Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupErr != nil {
		return Principal{}, d.lookupErr
	}
	p, ok := d.byID[id]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (d *fakeDirectory) FindByLoginIdentifier(ctx context.Context, identifier string) (Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupErr != nil {
		return Principal{}, d.lookupErr
	}
	p, ok := d.byLogin[identifier]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (d *fakeDirectory) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.updateErr != nil {
		return d.updateErr
	}
	d.lastLogin[id] = at
	return nil
}

// plainVerifier treats the stored hash as the plaintext itself.
type plainVerifier struct{}

func (plainVerifier) Compare(plain, hash string) bool { return plain != "" && plain == hash }

// recordingActivity captures event types in order.
type recordingActivity struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingActivity) Record(_ context.Context, _ string, eventType string, _ map[string]any, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingActivity) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type engineFixture struct {
	engine   *Engine
	store    *MemoryStore
	dir      *fakeDirectory
	activity *recordingActivity
	now      time.Time
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	iss, err := NewIssuer(cfg)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	dir := newFakeDirectory(
		Principal{ID: "alice", Status: StatusActive, Role: "member", SecretHash: "alice-pass"},
		Principal{ID: "bob", Status: StatusActive, Role: "admin", SecretHash: "bob-pass"},
		Principal{ID: "carol", Status: StatusSuspended, Role: "member", SecretHash: "carol-pass"},
	)
	activity := &recordingActivity{}

	f := &engineFixture{store: store, dir: dir, activity: activity, now: now}
	f.engine = NewEngine(cfg, iss, store, dir, plainVerifier{}, activity, func() time.Time { return f.now }, testLogger())
	return f
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	res, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "10.0.0.1")
	require.NoError(t, err)

	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.Equal(t, int64(900), res.ExpiresIn)
	require.Equal(t, PrincipalSummary{ID: "alice", Role: "member"}, res.Principal)

	rec, err := f.store.FindByToken(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "alice", rec.PrincipalID)
	require.Equal(t, "10.0.0.1", rec.CreatedByIP)
	require.True(t, rec.IssuedAt.Equal(f.now))
	require.True(t, rec.ExpiresAt.Equal(f.now.Add(7*24*time.Hour)))
	require.False(t, rec.Revoked)

	require.True(t, f.now.Equal(f.dir.lastLogin["alice"]))
	require.True(t, f.activity.has("auth.login"))
}

func TestLogin_IdentifierTrimmed(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)

	_, err := f.engine.Login(context.Background(), "  alice@example.com  ", "alice-pass", "")
	require.NoError(t, err)
}

func TestLogin_UniformUnauthorized(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name       string
		identifier string
		secret     string
	}{
		{name: "unknown identifier", identifier: "nobody@example.com", secret: "whatever"},
		{name: "wrong secret", identifier: "alice@example.com", secret: "wrong"},
		{name: "suspended principal", identifier: "carol@example.com", secret: "carol-pass"},
	}

	for _, tc := range cases {
		_, err := f.engine.Login(ctx, tc.identifier, tc.secret, "")
		require.ErrorIs(t, err, ErrUnauthorized, tc.name)
		// The sentinel itself must be returned so every failure renders the
		// same message.
		require.EqualError(t, err, ErrUnauthorized.Error(), tc.name)
	}
}

func TestLogin_EmptyInputsAreValidationErrors(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Login(ctx, "", "secret", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.Login(ctx, "alice@example.com", "", "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.engine.Login(ctx, "   ", "secret", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestLogin_SurvivesLastLoginFailure(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	f.dir.updateErr = errors.New("directory write down")

	_, err := f.engine.Login(context.Background(), "alice@example.com", "alice-pass", "")
	require.NoError(t, err)
}

func TestRefresh_WithoutRotation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	v, err := NewValidator(testConfig(), func() time.Time { return f.now })
	require.NoError(t, err)

	f.now = f.now.Add(10 * time.Minute)

	res1, err := f.engine.Refresh(ctx, login.RefreshToken, "")
	require.NoError(t, err)
	require.NotEmpty(t, res1.AccessToken)
	require.Equal(t, login.RefreshToken, res1.RefreshToken, "rotation off returns the same token")
	require.Equal(t, int64(900), res1.ExpiresIn)

	// The token stays exchangeable indefinitely within its TTL, and each
	// exchange mints a fresh access token stamped at its own instant.
	f.now = f.now.Add(10 * time.Minute)

	res2, err := f.engine.Refresh(ctx, login.RefreshToken, "")
	require.NoError(t, err)

	pc1, err := v.Validate(res1.AccessToken)
	require.NoError(t, err)
	pc2, err := v.Validate(res2.AccessToken)
	require.NoError(t, err)
	require.True(t, pc2.IssuedAt.After(pc1.IssuedAt), "second refresh must carry a later iat")
	require.True(t, pc2.IssuedAt.Equal(f.now))
}

func TestRefresh_WithRotation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, func(c *Config) { c.RotationEnabled = true })
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "10.0.0.1")
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)

	res, err := f.engine.Refresh(ctx, login.RefreshToken, "10.0.0.2")
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, res.RefreshToken)

	// Old token is revoked and linked to the successor.
	old, err := f.store.FindByToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedByToken)
	require.Equal(t, res.RefreshToken, *old.ReplacedByToken)
	require.True(t, old.Rotated())

	// Successor gets a full TTL from rotation time.
	succ, err := f.store.FindByToken(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.False(t, succ.Revoked)
	require.True(t, succ.ExpiresAt.Equal(f.now.Add(7*24*time.Hour)))

	// The consumed token no longer refreshes.
	_, err = f.engine.Refresh(ctx, login.RefreshToken, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefresh_ReuseCascadesRevocation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, func(c *Config) {
		c.RotationEnabled = true
		c.ReuseCascade = true
	})
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	rotated, err := f.engine.Refresh(ctx, login.RefreshToken, "")
	require.NoError(t, err)

	// A second, unrelated session for the same principal.
	other, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	// Presenting the consumed token again is the theft signal: everything
	// active for alice gets revoked, including the innocent sessions.
	_, err = f.engine.Refresh(ctx, login.RefreshToken, "6.6.6.6")
	require.ErrorIs(t, err, ErrUnauthorized)

	for _, tok := range []string{rotated.RefreshToken, other.RefreshToken} {
		rec, err := f.store.FindByToken(ctx, tok)
		require.NoError(t, err)
		require.True(t, rec.Revoked, "cascade must revoke %q", tok)
	}

	require.True(t, f.activity.has("auth.refresh.reuse_detected"))

	// Bob's sessions are untouched.
	bob, err := f.engine.Login(ctx, "bob@example.com", "bob-pass", "")
	require.NoError(t, err)
	_, err = f.engine.Refresh(ctx, bob.RefreshToken, "")
	require.NoError(t, err)
}

func TestRefresh_ReuseOfExpiredRotatedTokenStillCascades(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, func(c *Config) {
		c.RotationEnabled = true
		c.ReuseCascade = true
	})
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	_, err = f.engine.Refresh(ctx, login.RefreshToken, "")
	require.NoError(t, err)

	// Well past the renewal TTL: the consumed token is now rotated AND
	// expired. A fresh session opened at this point is the cascade's target.
	f.now = f.now.Add(8 * 24 * time.Hour)

	fresh, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	_, err = f.engine.Refresh(ctx, login.RefreshToken, "6.6.6.6")
	require.ErrorIs(t, err, ErrUnauthorized)

	// Revocation is checked before expiry, so the stale stolen token still
	// counts as reuse rather than routine expiry: the cascade fires.
	rec, err := f.store.FindByToken(ctx, fresh.RefreshToken)
	require.NoError(t, err)
	require.True(t, rec.Revoked, "reuse of an expired rotated token must still cascade")
	require.True(t, f.activity.has("auth.refresh.reuse_detected"))
}

func TestRefresh_ReuseCascadeDisabled(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, func(c *Config) {
		c.RotationEnabled = true
		c.ReuseCascade = false
	})
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	rotated, err := f.engine.Refresh(ctx, login.RefreshToken, "")
	require.NoError(t, err)

	_, err = f.engine.Refresh(ctx, login.RefreshToken, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	// The successor survives: reuse still fails but nothing cascades.
	rec, err := f.store.FindByToken(ctx, rotated.RefreshToken)
	require.NoError(t, err)
	require.False(t, rec.Revoked)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	f.now = f.now.Add(7*24*time.Hour + time.Second)

	_, err = f.engine.Refresh(ctx, login.RefreshToken, "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefresh_UnknownOrJunkToken(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	for _, tok := range []string{"", "   ", "no-such-token", string(make([]byte, maxTokenLen+1))} {
		_, err := f.engine.Refresh(ctx, tok, "")
		require.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestRefresh_InactivePrincipalRetiresToken(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	// Alice gets suspended between login and refresh.
	f.dir.mu.Lock()
	p := f.dir.byID["alice"]
	p.Status = StatusSuspended
	f.dir.byID["alice"] = p
	f.dir.mu.Unlock()

	_, err = f.engine.Refresh(ctx, login.RefreshToken, "")
	require.ErrorIs(t, err, ErrUnauthorized)

	rec, err := f.store.FindByToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.True(t, rec.Revoked, "token of a deactivated principal must be retired")
}

func TestRefresh_ConcurrentRotationSingleWinner(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, func(c *Config) { c.RotationEnabled = true })
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	const callers = 16
	results := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			_, err := f.engine.Refresh(ctx, login.RefreshToken, "")
			results[i] = err
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, ErrUnauthorized)
	}
	require.Equal(t, 1, wins, "exactly one concurrent refresh may win")
}

func TestLogout_SingleToken(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	n, err := f.engine.Logout(ctx, "alice", login.RefreshToken, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rec, err := f.store.FindByToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.True(t, rec.Revoked)
	require.Nil(t, rec.ReplacedByToken, "logout never links a successor")

	// Second logout of the same token is a silent no-op.
	n, err = f.engine.Logout(ctx, "alice", login.RefreshToken, "")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLogout_OwnershipMismatchIsNoop(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	// Bob presents alice's token: no revocation, no error, no signal.
	n, err := f.engine.Logout(ctx, "bob", login.RefreshToken, "")
	require.NoError(t, err)
	require.Zero(t, n)

	rec, err := f.store.FindByToken(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.False(t, rec.Revoked)
}

func TestLogout_UnknownTokenIsNoop(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)

	n, err := f.engine.Logout(context.Background(), "alice", "never-issued", "")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLogout_AllRevokesOnlyOwnActive(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	a1, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)
	a2, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)
	b1, err := f.engine.Login(ctx, "bob@example.com", "bob-pass", "")
	require.NoError(t, err)

	// One of alice's tokens is already revoked; it must not be counted again.
	_, err = f.engine.Logout(ctx, "alice", a1.RefreshToken, "")
	require.NoError(t, err)

	n, err := f.engine.Logout(ctx, "alice", "", "")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rec, err := f.store.FindByToken(ctx, a2.RefreshToken)
	require.NoError(t, err)
	require.True(t, rec.Revoked)

	rec, err = f.store.FindByToken(ctx, b1.RefreshToken)
	require.NoError(t, err)
	require.False(t, rec.Revoked, "logout-all must not touch other principals")
}

func TestLogout_RequiresPrincipalID(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)

	_, err := f.engine.Logout(context.Background(), "  ", "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestInvalidateAllForPrincipal(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, nil)
	ctx := context.Background()

	a1, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)
	a2, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)
	b1, err := f.engine.Login(ctx, "bob@example.com", "bob-pass", "")
	require.NoError(t, err)

	n, err := f.engine.InvalidateAllForPrincipal(ctx, "alice", "")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	// Alice's rows are gone entirely, not merely revoked.
	_, err = f.store.FindByToken(ctx, a1.RefreshToken)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.store.FindByToken(ctx, a2.RefreshToken)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.store.FindByToken(ctx, b1.RefreshToken)
	require.NoError(t, err)

	require.True(t, f.activity.has("auth.sessions.invalidated"))
}

func TestAccessTokenFromLoginValidates(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	login, err := f.engine.Login(ctx, "alice@example.com", "alice-pass", "")
	require.NoError(t, err)

	v, err := NewValidator(cfg, func() time.Time { return f.now.Add(time.Minute) })
	require.NoError(t, err)

	pc, err := v.Validate(login.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "alice", pc.PrincipalID)
	require.Equal(t, "member", pc.Role)
	require.True(t, pc.ExpiresAt.Equal(f.now.Add(cfg.AccessTokenTTL)))
}
