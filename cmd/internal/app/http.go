package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerHTTP mounts the ops surface: liveness, readiness, and Prometheus
// metrics. Auth operations themselves are driven through the credential
// engine by the embedding service, not exposed here.
func registerHTTP(mux *http.ServeMux, log *slog.Logger, cfg Config, pool *pgxpool.Pool, dbEnabled bool) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB {
			if !dbEnabled {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"status": "unavailable",
					"reason": "db_not_configured",
				})
				return
			}
			if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
				log.Warn("readyz.db.fail", "err", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"status": "unavailable",
					"reason": "db_unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "db": dbEnabled})
	})

	mux.Handle("GET /metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
