// Package metrics declares the Prometheus instruments exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginsTotal tracks login outcomes ("success", "unauthorized", "error").
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_auth_logins_total",
		Help: "Total number of login attempts by outcome",
	}, []string{"result"})

	// RefreshesTotal tracks refresh outcomes. "race_lost" counts rotation
	// compare-and-swaps lost to a concurrent refresh; "reuse" counts rotated
	// tokens presented again.
	RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_auth_refreshes_total",
		Help: "Total number of refresh attempts by outcome",
	}, []string{"result"})

	// RevocationsTotal tracks revoked renewal credentials by trigger
	// ("logout", "logout_all", "reuse_cascade", "inactive_principal").
	RevocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bms_auth_revocations_total",
		Help: "Total number of renewal credentials revoked by trigger",
	}, []string{"trigger"})

	// PurgedCredentialsTotal counts rows removed by the expiry sweeper.
	PurgedCredentialsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bms_auth_purged_credentials_total",
		Help: "Total number of expired renewal credentials purged",
	})

	// DBConnectionsActive tracks open database connections.
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bms_db_connections_active",
		Help: "Number of active database connections",
	})
)
