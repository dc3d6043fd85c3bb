// Package config loads the gateway's configuration the way the teacher
// loads ServerConfig — a typed struct with sensible defaults, overridable
// from the environment, here via struct tags instead of manual getenv calls.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"

	"github.com/snowgate-io/snowgate-mcp/internal/errs"
)

// Warehouse holds Snowflake-compatible warehouse connection settings
// (spec §6.3).
type Warehouse struct {
	Account            string `env:"WAREHOUSE_ACCOUNT"`
	User               string `env:"WAREHOUSE_USER"`
	AuthType           string `env:"WAREHOUSE_AUTH_TYPE" envDefault:"private-key"` // private-key | external-browser
	PrivateKeyPath     string `env:"WAREHOUSE_PRIVATE_KEY_PATH"`
	PrivateKeyContent  string `env:"WAREHOUSE_PRIVATE_KEY_CONTENT"`
	PrivateKeyPassword string `env:"WAREHOUSE_PRIVATE_KEY_PASSPHRASE"`
	WarehouseName      string `env:"WAREHOUSE_NAME"`
	Database           string `env:"WAREHOUSE_DATABASE"`
	Schema             string `env:"WAREHOUSE_SCHEMA"`
	Role               string `env:"WAREHOUSE_ROLE"`
	// DSN is the database/sql DSN used by the driver adapter. The gateway
	// is written against database/sql so this can point at any compatible
	// driver registered under DriverName (see DESIGN.md).
	DSN        string `env:"WAREHOUSE_DSN"`
	DriverName string `env:"WAREHOUSE_DRIVER" envDefault:"mysql"`
}

// Pool mirrors spec §4.2's configuration surface.
type Pool struct {
	MinSize             int           `env:"POOL_MIN_SIZE" envDefault:"2"`
	MaxSize             int           `env:"POOL_MAX_SIZE" envDefault:"20"`
	MaxInactiveTime     time.Duration `env:"POOL_MAX_INACTIVE_MINUTES" envDefault:"10m"`
	HealthCheckInterval time.Duration `env:"POOL_HEALTH_CHECK_MINUTES" envDefault:"1m"`
	AcquireTimeout      time.Duration `env:"POOL_ACQUIRE_TIMEOUT_SECONDS" envDefault:"10s"`
	RetryAttempts       int           `env:"POOL_RETRY_ATTEMPTS" envDefault:"3"`
}

// HTTP configures the transport (spec §6.3, present when an HTTP transport
// is compiled in).
type HTTP struct {
	Host              string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port              int           `env:"HTTP_PORT" envDefault:"8765"`
	CORSOrigins       []string      `env:"HTTP_CORS_ORIGINS" envSeparator:","`
	MaxRequestSizeMB  int           `env:"HTTP_MAX_REQUEST_SIZE_MB" envDefault:"10"`
	RequestTimeout    time.Duration `env:"HTTP_REQUEST_TIMEOUT_SECONDS" envDefault:"30s"`
}

// Logging configures internal/obslog.
type Logging struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"json"` // text | json
	RotateMB   int    `env:"LOG_ROTATE_SIZE_MB" envDefault:"100"`
	Backups    int    `env:"LOG_BACKUPS" envDefault:"5"`
}

// Security configures the SQL validator's read-only gate, strictness, and
// admin authentication (spec §6.3).
type Security struct {
	ReadonlyMode       bool          `env:"SECURITY_READONLY_MODE" envDefault:"true"`
	StrictValidation   bool          `env:"SECURITY_STRICT_VALIDATION" envDefault:"false"`
	MaxQueryLength     int           `env:"SECURITY_MAX_QUERY_LENGTH" envDefault:"10000"`
	AdminAPIKey        string        `env:"SECURITY_ADMIN_API_KEY"`
	APIKeySalt         string        `env:"SECURITY_API_KEY_SALT"`
	MaxAuthAttemptsMin int           `env:"SECURITY_MAX_AUTH_ATTEMPTS_MINUTE" envDefault:"5"`
	MaxAuthAttemptsDay int           `env:"SECURITY_MAX_AUTH_ATTEMPTS_HOUR" envDefault:"50"` // failed attempts per rolling hour
	LockoutSeconds     time.Duration `env:"SECURITY_LOCKOUT_SECONDS" envDefault:"300s"`
}

// RateLimitRule is one dimension's limits, reused for per-client and global.
type RateLimitRule struct {
	RequestsPerSecond int `env:"RPS" envDefault:"10"`
	RequestsPerMinute int `env:"RPM" envDefault:"300"`
	QueriesPerMinute  int `env:"QPM" envDefault:"120"`
	ConcurrentRequests int `env:"CONCURRENT" envDefault:"10"`
}

// RateLimiting groups the per-client and global rule sets (spec §6.3/§4.10).
type RateLimiting struct {
	PerClient RateLimitRule `envPrefix:"RATE_LIMIT_CLIENT_"`
	Global    RateLimitRule `envPrefix:"RATE_LIMIT_GLOBAL_"`
}

// QuotaRule is one client or global quota envelope (spec §4.12).
type QuotaRule struct {
	RequestsPerHour     int64 `env:"REQUESTS_PER_HOUR" envDefault:"10000"`
	RequestsPerDay      int64 `env:"REQUESTS_PER_DAY" envDefault:"100000"`
	QueriesPerHour      int64 `env:"QUERIES_PER_HOUR" envDefault:"5000"`
	DataTransferMB      int64 `env:"DATA_TRANSFER_MB" envDefault:"5000"`
	ConcurrentConns     int64 `env:"CONCURRENT_CONNECTIONS" envDefault:"10"`
	RolloverEnabled     bool  `env:"ROLLOVER_ENABLED" envDefault:"false"`
	BurstAllowance      int64 `env:"BURST_ALLOWANCE" envDefault:"0"`
}

type Quotas struct {
	PerClient QuotaRule `envPrefix:"QUOTA_CLIENT_"`
	Global    QuotaRule `envPrefix:"QUOTA_GLOBAL_"`
}

// BreakerRule configures one protected dependency (spec §4.11/§6.3).
type BreakerRule struct {
	FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
	SuccessThreshold int           `env:"SUCCESS_THRESHOLD" envDefault:"2"`
	RecoveryTimeout  time.Duration `env:"RECOVERY_TIMEOUT" envDefault:"30s"`
	CallTimeout      time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
	MonitoringWindow time.Duration `env:"MONITORING_WINDOW" envDefault:"1m"`
}

type Breakers struct {
	Warehouse BreakerRule `envPrefix:"BREAKER_WAREHOUSE_"`
}

// Session configures the per-client session manager (spec §4.6).
type Session struct {
	Timeout         time.Duration `env:"SESSION_TIMEOUT" envDefault:"30m"`
	CleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1m"`
	MaxPerClient    int           `env:"SESSION_MAX_PER_CLIENT" envDefault:"5"`
}

// Multiplex configures the connection multiplexer (spec §4.7).
type Multiplex struct {
	MaxLeaseDuration time.Duration `env:"LEASE_MAX_DURATION" envDefault:"5m"`
	ReuseWindow      time.Duration `env:"LEASE_REUSE_WINDOW" envDefault:"2s"`
	MaxLeasesPerClient int         `env:"LEASE_MAX_PER_CLIENT" envDefault:"4"`
	SweepInterval    time.Duration `env:"LEASE_SWEEP_INTERVAL" envDefault:"30s"`
}

// Config is the top-level configuration object, analogous to the teacher's
// ServerConfig but organized by concern instead of being one flat struct.
type Config struct {
	DeviceID  string `env:"DEVICE_ID" envDefault:"snowgate-01"`
	Warehouse Warehouse
	Pool      Pool
	HTTP      HTTP
	Logging   Logging
	Security  Security
	RateLimit RateLimiting
	Quotas    Quotas
	Breakers  Breakers
	Session   Session
	Multiplex Multiplex
}

// Default returns a configuration populated with the struct-tag defaults,
// matching the teacher's DefaultServerConfig pattern but sourced from the
// `env` tags rather than duplicated literals.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}
	return cfg, nil
}

// Load builds configuration from the environment, optionally overlaying a
// YAML file first (used for local development so secrets stay in env).
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config overlay %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config overlay %s: %w", yamlPath, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate performs the minimal startup checks the teacher performs inline
// in main(); failures here are a ConfigError (spec §7), not retryable.
func (c *Config) Validate() error {
	if c.Warehouse.DSN == "" {
		return errs.Config("WAREHOUSE_DSN is required", nil)
	}
	if c.Pool.MinSize < 0 || c.Pool.MaxSize <= 0 || c.Pool.MinSize > c.Pool.MaxSize {
		return errs.Config(fmt.Sprintf("invalid pool size bounds (min=%d max=%d)", c.Pool.MinSize, c.Pool.MaxSize), nil)
	}
	return nil
}
