// Package activity persists auth activity events to bms.activity_log.
//
// Recording is strictly best-effort: insert failures are logged and
// swallowed so that an audit outage can never abort a login or refresh.
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder implements credential.ActivityRecorder over Postgres.
type PostgresRecorder struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresRecorder creates a Postgres-backed activity recorder.
func NewPostgresRecorder(pool *pgxpool.Pool, log *slog.Logger) *PostgresRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresRecorder{pool: pool, log: log}
}

// Record inserts one activity row. Fire-and-forget.
func (r *PostgresRecorder) Record(ctx context.Context, principalID, eventType string, metadata map[string]any, originAddress string) {
	eventType = strings.TrimSpace(eventType)
	if r.pool == nil || eventType == "" {
		return
	}

	var metaVal *string
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO bms.activity_log (
			id, principal_id, event_type, metadata, origin_ip, created_at
		) VALUES ($1, $2, $3, $4::jsonb, $5, $6)
	`, uuid.NewString(), nullIfEmpty(principalID), eventType, metaVal, nullIfEmpty(originAddress), time.Now().UTC())
	if err != nil {
		r.log.Error("activity.record.fail", "err", err, "event_type", eventType)
	}
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
