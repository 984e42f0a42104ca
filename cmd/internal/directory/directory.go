// Package directory adapts the BMS principal table to the credential
// engine's Directory interface.
//
// Principal CRUD lives elsewhere; this package is lookup-only.
package directory

import (
	"context"
	"errors"
	"strings"
	"time"

	"bms/cmd/internal/auth/credential"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory implements credential.Directory over bms.principals.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a Postgres-backed principal directory.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// FindByID loads a principal by id, or credential.ErrNotFound.
func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (credential.Principal, error) {
	return scanPrincipal(d.pool.QueryRow(ctx, `
		SELECT id, status, role, secret_hash
		FROM bms.principals
		WHERE id = $1
	`, id))
}

// FindByLoginIdentifier loads a principal by its login identifier (email,
// matched case-insensitively), or credential.ErrNotFound.
func (d *PostgresDirectory) FindByLoginIdentifier(ctx context.Context, identifier string) (credential.Principal, error) {
	return scanPrincipal(d.pool.QueryRow(ctx, `
		SELECT id, status, role, secret_hash
		FROM bms.principals
		WHERE lower(email) = lower($1)
	`, strings.TrimSpace(identifier)))
}

// UpdateLastLogin stamps the principal's last successful login.
func (d *PostgresDirectory) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE bms.principals
		SET last_login_at = $2
		WHERE id = $1
	`, id, at)
	return err
}

func scanPrincipal(row pgx.Row) (credential.Principal, error) {
	var (
		p      credential.Principal
		status string
	)

	err := row.Scan(&p.ID, &status, &p.Role, &p.SecretHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return credential.Principal{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Principal{}, err
	}

	p.Status = credential.PrincipalStatus(status)
	return p, nil
}
