package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database      DatabaseConfig
	Auth          AuthConfig
	Relationships RelationshipsConfig
	ContactSync   ContactSyncConfig
	Audit         AuditConfig
	Scheduler     SchedulerConfig
	Notifications NotificationsConfig
	Storage       StorageConfig
	SysHealth     SysHealthConfig
	Otel          OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// CORSOrigins lists allowed browser origins. Empty allows any origin.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	// MaxBodySize caps request bodies, e.g. "2M". Contact sync uploads are
	// the largest requests.
	MaxBodySize string `env:"SERVER_MAX_BODY_SIZE" envDefault:"2M"`
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	// Driver is "postgres" (default) or "sqlite" for single-node embedded deployments.
	Driver       string        `env:"DB_DRIVER" envDefault:"postgres"`
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"tether"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"tether"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"tether.db"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	// AutoMigrate runs pending migrations on startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// SQLiteDSN returns the modernc sqlite DSN for SQLitePath
func (d *DatabaseConfig) SQLiteDSN() string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", d.SQLitePath)
}

// AuthConfig holds bearer token verification settings.
// Sessions are issued upstream; this service only verifies them.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET" envDefault:""`
	Issuer    string `env:"AUTH_JWT_ISSUER" envDefault:""`
	// TrustedUserHeader lets a gateway pass the user id directly. Only honoured when Debug is set.
	TrustedUserHeader string `env:"AUTH_TRUSTED_USER_HEADER" envDefault:"X-User-ID"`
}

// RelationshipsConfig controls the relationship service
type RelationshipsConfig struct {
	// TransactionalWrites wraps accept and remove dual writes in one transaction.
	// When false the verify-and-retry saga path is used.
	TransactionalWrites bool          `env:"RELATIONSHIPS_TRANSACTIONAL_WRITES" envDefault:"true"`
	SnapshotTTL         time.Duration `env:"RELATIONSHIPS_SNAPSHOT_TTL" envDefault:"24h"`
	RequestsPerMinute   int           `env:"RELATIONSHIPS_REQUESTS_PER_MINUTE" envDefault:"30"`
	RequestBurst        int           `env:"RELATIONSHIPS_REQUEST_BURST" envDefault:"10"`
	MaxMessageLength    int           `env:"RELATIONSHIPS_MAX_MESSAGE_LENGTH" envDefault:"280"`
}

// ContactSyncConfig controls bulk contact reconciliation
type ContactSyncConfig struct {
	MaxIdentifiers int `env:"CONTACT_SYNC_MAX_IDENTIFIERS" envDefault:"5000"`
	Concurrency    int `env:"CONTACT_SYNC_CONCURRENCY" envDefault:"8"`
	// DefaultCallingCode is prefixed to national phone numbers (digits only, no "+").
	DefaultCallingCode string `env:"CONTACT_SYNC_DEFAULT_CALLING_CODE" envDefault:"1"`
}

// AuditConfig controls the consistency auditor
type AuditConfig struct {
	BatchSize      int  `env:"AUDIT_BATCH_SIZE" envDefault:"500"`
	DryRun         bool `env:"AUDIT_DRY_RUN" envDefault:"false"`
	MaxRepairTries int  `env:"AUDIT_MAX_REPAIR_ATTEMPTS" envDefault:"5"`
}

// SchedulerConfig controls periodic tasks
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	// AuditSchedule is a cron expression with seconds; takes precedence over AuditInterval.
	AuditSchedule      string        `env:"AUDIT_SCHEDULE" envDefault:""`
	AuditInterval      time.Duration `env:"AUDIT_INTERVAL" envDefault:"1h"`
	RepairPollInterval time.Duration `env:"REPAIR_POLL_INTERVAL" envDefault:"30s"`
	// RepairStaleAfter is how long a repair may sit in processing before it is requeued.
	RepairStaleAfter       time.Duration `env:"REPAIR_STALE_AFTER" envDefault:"10m"`
	RepairRecoveryInterval time.Duration `env:"REPAIR_RECOVERY_INTERVAL" envDefault:"10m"`
	// LimiterSweepInterval is how often idle friend-request rate limit buckets are dropped.
	LimiterSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"10m"`
}

// NotificationsConfig controls asynchronous notification delivery
type NotificationsConfig struct {
	DeliveryTimeout time.Duration `env:"NOTIFICATIONS_DELIVERY_TIMEOUT" envDefault:"5s"`
	// MaxInFlight bounds concurrent deliveries; extra notifications are dropped.
	MaxInFlight int `env:"NOTIFICATIONS_MAX_IN_FLIGHT" envDefault:"256"`
	// Retention is how long read notifications are kept.
	Retention       time.Duration `env:"NOTIFICATIONS_RETENTION" envDefault:"720h"`
	CleanupInterval time.Duration `env:"NOTIFICATIONS_CLEANUP_INTERVAL" envDefault:"6h"`

	Email EmailConfig
}

// EmailConfig configures the Mailgun email channel for notifications.
type EmailConfig struct {
	Enabled       bool   `env:"EMAIL_ENABLED" envDefault:"false"`
	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	MailgunAPIKey string `env:"MAILGUN_API_KEY"`
	// MailgunAPIBase overrides the API endpoint, e.g. the EU region.
	MailgunAPIBase string   `env:"MAILGUN_API_BASE"`
	FromEmail      string   `env:"EMAIL_FROM_ADDRESS"`
	FromName       string   `env:"EMAIL_FROM_NAME" envDefault:"Tether"`
	Events         []string `env:"EMAIL_EVENTS" envSeparator:"," envDefault:"friend_request.received,friend_request.accepted"`
}

// IsConfigured reports whether email can be sent.
func (e EmailConfig) IsConfigured() bool {
	return e.Enabled && e.MailgunDomain != "" && e.MailgunAPIKey != "" && e.FromEmail != ""
}

// StorageConfig points at an S3-compatible bucket for archived audit reports.
// Archiving is off unless endpoint and credentials are all set.
type StorageConfig struct {
	Endpoint  string `env:"STORAGE_ENDPOINT" envDefault:""`
	AccessKey string `env:"STORAGE_ACCESS_KEY" envDefault:""`
	SecretKey string `env:"STORAGE_SECRET_KEY" envDefault:""`
	Region    string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"STORAGE_BUCKET_REPORTS" envDefault:"audit-reports"`
	Prefix    string `env:"STORAGE_REPORT_PREFIX" envDefault:"relationships"`
}

// Enabled returns true if storage is fully configured
func (s StorageConfig) Enabled() bool {
	return s.Endpoint != "" && s.AccessKey != "" && s.SecretKey != ""
}

// SysHealthConfig controls host load sampling. When enabled, contact sync
// fan-out shrinks under CPU, I/O, memory or pool pressure.
type SysHealthConfig struct {
	Enabled  bool          `env:"SYSHEALTH_ENABLED" envDefault:"true"`
	Interval time.Duration `env:"SYSHEALTH_INTERVAL" envDefault:"30s"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_driver", cfg.Database.Driver),
		slog.Bool("transactional_writes", cfg.Relationships.TransactionalWrites),
	)

	return cfg, nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks settings that cannot be expressed as env defaults
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.ContactSync.Concurrency < 1 {
		return fmt.Errorf("CONTACT_SYNC_CONCURRENCY must be positive")
	}
	if c.Audit.BatchSize < 1 {
		return fmt.Errorf("AUDIT_BATCH_SIZE must be positive")
	}
	if r := c.Otel.SamplingRate; r < 0 || r > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE must be within [0, 1], got %v", r)
	}
	return nil
}
