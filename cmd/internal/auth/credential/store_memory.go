package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded Store used in dev mode (no database
// configured) and in unit tests. The single lock makes RevokeIfActive and
// Rotate trivially atomic.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]RenewalCredential
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]RenewalCredential)}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec RenewalCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Token == "" || rec.PrincipalID == "" {
		return ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recs[rec.Token]; exists {
		return ErrDuplicateToken
	}
	s.recs[rec.Token] = rec
	return nil
}

// FindByToken implements Store.
func (s *MemoryStore) FindByToken(ctx context.Context, token string) (RenewalCredential, error) {
	if err := ctx.Err(); err != nil {
		return RenewalCredential{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[token]
	if !ok {
		return RenewalCredential{}, ErrNotFound
	}
	return rec, nil
}

// FindActiveByPrincipal implements Store. Results are ordered newest first.
func (s *MemoryStore) FindActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]RenewalCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RenewalCredential
	for _, rec := range s.recs {
		if rec.PrincipalID == principalID && rec.Active(now) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}

// RevokeIfActive implements Store.
func (s *MemoryStore) RevokeIfActive(ctx context.Context, token string, now time.Time, byIP string, replacement *string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeLocked(token, now, byIP, replacement), nil
}

// Rotate implements Store. The two mutations happen under one lock hold,
// mirroring the single transaction of the Postgres implementation.
func (s *MemoryStore) Rotate(ctx context.Context, oldToken string, now time.Time, byIP string, successor RenewalCredential) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if successor.Token == "" || successor.PrincipalID == "" {
		return false, ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.recs[oldToken]
	if !ok || old.Revoked {
		return false, nil
	}
	if _, exists := s.recs[successor.Token]; exists {
		return false, ErrDuplicateToken
	}

	s.recs[successor.Token] = successor
	replaced := successor.Token
	s.revokeLocked(oldToken, now, byIP, &replaced)
	return true, nil
}

// RevokeAllActive implements Store.
func (s *MemoryStore) RevokeAllActive(ctx context.Context, principalID string, now time.Time, byIP string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, rec := range s.recs {
		if rec.PrincipalID == principalID && rec.Active(now) {
			s.revokeLocked(token, now, byIP, nil)
			n++
		}
	}
	return n, nil
}

// DeleteAllForPrincipal implements Store.
func (s *MemoryStore) DeleteAllForPrincipal(ctx context.Context, principalID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, rec := range s.recs {
		if rec.PrincipalID == principalID {
			delete(s.recs, token)
			n++
		}
	}
	return n, nil
}

// PurgeExpired implements Store.
func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for token, rec := range s.recs {
		if rec.Expired(now) {
			delete(s.recs, token)
			n++
		}
	}
	return n, nil
}

// revokeLocked performs the compare-and-swap under s.mu. Reports false when
// the record is missing or already revoked.
func (s *MemoryStore) revokeLocked(token string, now time.Time, byIP string, replacement *string) bool {
	rec, ok := s.recs[token]
	if !ok || rec.Revoked {
		return false
	}

	at := now
	rec.Revoked = true
	rec.RevokedAt = &at
	// Empty origin stays nil, matching the NULL the Postgres store writes.
	if byIP != "" {
		ip := byIP
		rec.RevokedByIP = &ip
	}
	rec.ReplacedByToken = replacement
	s.recs[token] = rec
	return true
}
