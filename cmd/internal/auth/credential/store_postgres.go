package credential

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is the Postgres error code for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL (bms.renewal_credentials).
//
// RevokeIfActive is a conditional UPDATE ... WHERE NOT revoked; Rotate wraps
// the successor insert and that UPDATE in a single transaction, so a lost
// race rolls the successor back.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed credential store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new credential row.
func (s *PostgresStore) Create(ctx context.Context, rec RenewalCredential) error {
	if rec.Token == "" || rec.PrincipalID == "" {
		return ErrValidation
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO bms.renewal_credentials (
			token, principal_id, created_at, expires_at, created_by_ip,
			revoked, revoked_at, revoked_by_ip, replaced_by_token
		) VALUES (
			$1, $2, $3, $4, $5,
			FALSE, NULL, NULL, NULL
		)
	`, rec.Token, rec.PrincipalID, rec.IssuedAt, rec.ExpiresAt, nullIfEmpty(rec.CreatedByIP))
	if isUniqueViolation(err) {
		return ErrDuplicateToken
	}
	return err
}

// FindByToken loads a credential row by token value.
func (s *PostgresStore) FindByToken(ctx context.Context, token string) (RenewalCredential, error) {
	return scanCredential(s.pool.QueryRow(ctx, `
		SELECT
			token, principal_id, created_at, expires_at, created_by_ip,
			revoked, revoked_at, revoked_by_ip, replaced_by_token
		FROM bms.renewal_credentials
		WHERE token = $1
	`, token))
}

// FindActiveByPrincipal lists active credentials, newest first.
func (s *PostgresStore) FindActiveByPrincipal(ctx context.Context, principalID string, now time.Time) ([]RenewalCredential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			token, principal_id, created_at, expires_at, created_by_ip,
			revoked, revoked_at, revoked_by_ip, replaced_by_token
		FROM bms.renewal_credentials
		WHERE principal_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY created_at DESC
	`, principalID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RenewalCredential
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RevokeIfActive performs the compare-and-swap revocation.
func (s *PostgresStore) RevokeIfActive(ctx context.Context, token string, now time.Time, byIP string, replacement *string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE bms.renewal_credentials
		SET revoked = TRUE,
		    revoked_at = $2,
		    revoked_by_ip = $3,
		    replaced_by_token = $4
		WHERE token = $1 AND NOT revoked
	`, token, now, nullIfEmpty(byIP), replacement)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// Rotate revokes oldToken and inserts successor in one transaction.
func (s *PostgresStore) Rotate(ctx context.Context, oldToken string, now time.Time, byIP string, successor RenewalCredential) (bool, error) {
	if successor.Token == "" || successor.PrincipalID == "" {
		return false, ErrValidation
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Successor first: the replaced_by_token self-reference needs the row.
	_, err = tx.Exec(ctx, `
		INSERT INTO bms.renewal_credentials (
			token, principal_id, created_at, expires_at, created_by_ip,
			revoked, revoked_at, revoked_by_ip, replaced_by_token
		) VALUES (
			$1, $2, $3, $4, $5,
			FALSE, NULL, NULL, NULL
		)
	`, successor.Token, successor.PrincipalID, successor.IssuedAt, successor.ExpiresAt, nullIfEmpty(successor.CreatedByIP))
	if isUniqueViolation(err) {
		return false, ErrDuplicateToken
	}
	if err != nil {
		return false, err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE bms.renewal_credentials
		SET revoked = TRUE,
		    revoked_at = $2,
		    revoked_by_ip = $3,
		    replaced_by_token = $4
		WHERE token = $1 AND NOT revoked
	`, oldToken, now, nullIfEmpty(byIP), successor.Token)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() != 1 {
		// Lost the race (or the row vanished): the deferred rollback also
		// discards the successor insert.
		return false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAllActive revokes every active credential of the principal.
func (s *PostgresStore) RevokeAllActive(ctx context.Context, principalID string, now time.Time, byIP string) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE bms.renewal_credentials
		SET revoked = TRUE,
		    revoked_at = $2,
		    revoked_by_ip = $3
		WHERE principal_id = $1 AND NOT revoked AND expires_at > $2
	`, principalID, now, nullIfEmpty(byIP))
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// DeleteAllForPrincipal hard-deletes the principal's credentials.
func (s *PostgresStore) DeleteAllForPrincipal(ctx context.Context, principalID string) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM bms.renewal_credentials
		WHERE principal_id = $1
	`, principalID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// PurgeExpired deletes rows past expires_at. Only targets rows already past
// expiry, so it is safe alongside all other operations.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM bms.renewal_credentials
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func scanCredential(row pgx.Row) (RenewalCredential, error) {
	var (
		rec       RenewalCredential
		createdBy *string
	)

	err := row.Scan(
		&rec.Token,
		&rec.PrincipalID,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&createdBy,
		&rec.Revoked,
		&rec.RevokedAt,
		&rec.RevokedByIP,
		&rec.ReplacedByToken,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return RenewalCredential{}, ErrNotFound
	}
	if err != nil {
		return RenewalCredential{}, err
	}

	if createdBy != nil {
		rec.CreatedByIP = *createdBy
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
