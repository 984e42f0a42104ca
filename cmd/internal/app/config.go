package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
// Credential-subsystem options (TTLs, rotation, signing secret) live in
// credential.Config and are loaded separately.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// SweepInterval is the period of the expired-credential sweeper.
	SweepInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BMS_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BMS_LOG_LEVEL", "info"),
		LogPretty: EnvBool("BMS_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("BMS_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BMS_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BMS_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BMS_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BMS_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BMS_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BMS_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BMS_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("BMS_READINESS_REQUIRE_DB", false),

		SweepInterval: EnvDuration("BMS_SWEEP_INTERVAL", 10*time.Minute),
	}
}
