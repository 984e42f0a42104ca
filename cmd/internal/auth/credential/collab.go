package credential

import (
	"context"
	"time"
)

// Directory is the external principal directory consumed by the engine.
// Implementations return ErrNotFound (possibly wrapped) for missing
// principals; the engine translates that to ErrUnauthorized.
type Directory interface {
	FindByID(ctx context.Context, id string) (Principal, error)
	FindByLoginIdentifier(ctx context.Context, identifier string) (Principal, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// SecretVerifier compares a plaintext secret against a stored hash in
// constant time.
type SecretVerifier interface {
	Compare(plainSecret, hash string) bool
}

// ActivityRecorder records auth activity events. Recording is fire-and-forget:
// implementations must swallow their own failures and never abort the auth
// flow that triggered them.
type ActivityRecorder interface {
	Record(ctx context.Context, principalID, eventType string, metadata map[string]any, originAddress string)
}

// NopActivity discards all events.
type NopActivity struct{}

// Record implements ActivityRecorder.
func (NopActivity) Record(context.Context, string, string, map[string]any, string) {}

// Clock supplies the current time; injectable for deterministic tests.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
