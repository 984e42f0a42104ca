// Package app wires the BMS auth runtime: config, logging, database pool,
// the credential engine, the expiry sweeper, and the ops HTTP surface.
//
// It is intentionally small and deterministic to keep behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bms/cmd/internal/activity"
	"bms/cmd/internal/auth/credential"
	"bms/cmd/internal/directory"
	"bms/cmd/internal/metrics"
	"bms/cmd/security/secret"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App owns the runtime wiring and lifecycle.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	store     credential.Store
	engine    *credential.Engine
	validator *credential.Validator
	sweeper   *Sweeper
}

// New constructs a fully wired App instance from config and logger.
//
// Without a database the app runs in dev mode: the in-memory store backs the
// sweeper and the validator still works, but login/refresh are disabled
// because there is no principal directory to authenticate against.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	ccfg, err := credential.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(ccfg); err != nil {
		return nil, err
	}

	issuer, err := credential.NewIssuer(ccfg)
	if err != nil {
		return nil, err
	}
	validator, err := credential.NewValidator(ccfg, nil)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		validator: validator,
	}

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		a.store = credential.NewMemoryStore()
	} else {
		pool, err := NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled.postgres_store")

		a.dbPool = pool
		a.dbEnabled = true
		a.store = credential.NewPostgresStore(pool)

		a.engine = credential.NewEngine(
			ccfg,
			issuer,
			a.store,
			directory.NewPostgresDirectory(pool),
			secret.NewVerifier(secret.DefaultParams()),
			activity.NewPostgresRecorder(pool, log),
			nil,
			log,
		)
	}

	a.sweeper = NewSweeper(a.store, cfg.SweepInterval, log)

	return a, nil
}

// Engine exposes the credential engine (nil in dev mode without a database).
func (a *App) Engine() *credential.Engine { return a.engine }

// Validator exposes the stateless access-token validator.
func (a *App) Validator() *credential.Validator { return a.validator }

// Run starts the sweeper and the ops HTTP server and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go a.sweeper.Run(sweepCtx)
	if a.dbEnabled {
		go a.samplePoolStats(sweepCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

// samplePoolStats keeps the db connection gauge current.
func (a *App) samplePoolStats(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.DBConnectionsActive.Set(float64(a.dbPool.Stat().TotalConns()))
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
