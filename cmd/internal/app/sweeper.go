package app

import (
	"context"
	"log/slog"
	"time"

	"bms/cmd/internal/auth/credential"
	"bms/cmd/internal/metrics"
)

// Sweeper periodically purges expired renewal credentials. It runs on its
// own timer and only ever targets rows past expires_at, so it never
// contends with request-serving paths.
type Sweeper struct {
	store    credential.Store
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper constructs a Sweeper. A non-positive interval falls back to
// 10 minutes.
func NewSweeper(store credential.Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, log: log}
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := s.store.PurgeExpired(sweepCtx, time.Now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("sweeper.purge.fail", "err", err)
		}
		return
	}

	metrics.PurgedCredentialsTotal.Add(float64(n))
	if n > 0 {
		s.log.Info("sweeper.purge", "deleted", n)
	}
}
