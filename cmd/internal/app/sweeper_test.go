package app

import (
	"context"
	"testing"
	"time"

	"bms/cmd/internal/auth/credential"
)

func TestSweeper_PurgesExpired(t *testing.T) {
	t.Parallel()

	store := credential.NewMemoryStore()
	now := time.Now().UTC()
	ctx := context.Background()

	expired := credential.RenewalCredential{
		Token:       "expired-token",
		PrincipalID: "p1",
		IssuedAt:    now.Add(-2 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	}
	live := credential.RenewalCredential{
		Token:       "live-token",
		PrincipalID: "p1",
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := store.Create(ctx, expired); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if err := store.Create(ctx, live); err != nil {
		t.Fatalf("create live: %v", err)
	}

	s := NewSweeper(store, time.Minute, testLogger())
	s.sweepOnce(ctx)

	if _, err := store.FindByToken(ctx, "expired-token"); err == nil {
		t.Fatal("expired credential should have been purged")
	}
	if _, err := store.FindByToken(ctx, "live-token"); err != nil {
		t.Fatalf("live credential should survive the sweep: %v", err)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := NewSweeper(credential.NewMemoryStore(), 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
