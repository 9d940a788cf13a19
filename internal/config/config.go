package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the shared configuration for all compliance-core processes.
// Values come from the environment; defaults suit local development except
// for the secrets, which are always required.
type Config struct {
	DatabaseURL string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	ServiceAuthToken string

	// HTTPPort is the Core API listen port (COMPLIANCE_PORT).
	HTTPPort int

	// WorkerConcurrency bounds parallel assessment runs in one worker process.
	WorkerConcurrency int

	// ReportsDir is where generated artifacts are written.
	ReportsDir string

	// CertDir holds the default PEM material for certificate auth
	// (app.key / app.crt); per-tenant overrides reference their own paths.
	CertDir string

	// ShutdownGrace bounds graceful shutdown of servers and workers.
	ShutdownGrace time.Duration

	Env string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisHost:         env("REDIS_HOST", "localhost"),
		RedisPort:         envInt("REDIS_PORT", 6379),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		ServiceAuthToken:  os.Getenv("SERVICE_AUTH_TOKEN"),
		HTTPPort:          envInt("COMPLIANCE_PORT", 3002),
		WorkerConcurrency: envInt("WORKER_CONCURRENCY", 2),
		ReportsDir:        env("REPORTS_DIR", "reports"),
		CertDir:           env("CERT_DIR", "certs"),
		ShutdownGrace:     envDuration("SHUTDOWN_GRACE", 30*time.Second),
		Env:               env("ENV", "dev"),
	}
	return cfg, nil
}

// Validate checks the invariants every process depends on.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ServiceAuthToken == "" {
		return fmt.Errorf("SERVICE_AUTH_TOKEN is required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("COMPLIANCE_PORT out of range: %d", c.HTTPPort)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1")
	}
	return nil
}

// RedisAddr returns the host:port address of the queue backend.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// Dev reports whether the process runs with local-development defaults.
func (c *Config) Dev() bool {
	return c.Env == "dev"
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
