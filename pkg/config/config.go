package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Ledger       LedgerConfig
	Cron         CronConfig
	Webhooks     WebhooksConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	if cfg.App.IsProd() && cfg.DB.IsSQLite() {
		return nil, fmt.Errorf("%s=%s is not allowed in %s", EnvDBDriver, DBDriverSQLite, AppEnvProd)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"LEDGER_APP_ENV" required:"true"`
	Port         string   `envconfig:"LEDGER_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"LEDGER_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"LEDGER_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"LEDGER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEDGER_SERVICE_KIND" default:"api"`
	// MetricsAddr is the worker /metrics listener; empty disables it. The
	// API serves /metrics on its own port.
	MetricsAddr string `envconfig:"LEDGER_WORKER_METRICS_ADDR"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEDGER_DB_DSN"`
	Driver string `envconfig:"LEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"LEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEDGER_DB_USER"`
	LegacyPassword string `envconfig:"LEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	// SlowQuery logs statements slower than this at warn; zero disables it.
	SlowQuery time.Duration `envconfig:"LEDGER_DB_SLOW_QUERY" default:"200ms"`
}

// IsSQLite reports whether the sqlite driver was selected (local runs and tests).
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGER_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEDGER_AUTO_MIGRATE" default:"false"`
	// PersistLazyOverdue writes overdue flags discovered on read instead of only reporting them.
	PersistLazyOverdue bool `envconfig:"LEDGER_PERSIST_LAZY_OVERDUE" default:"true"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"LEDGER_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"LEDGER_PUBSUB_NOTIFICATION_TOPIC" default:"ledger-notification-events"`
	CountThreshold    int    `envconfig:"LEDGER_PUBSUB_COUNT_THRESHOLD"`
	DelayThresholdMS  int    `envconfig:"LEDGER_PUBSUB_DELAY_THRESHOLD_MS"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey       string        `envconfig:"LEDGER_STRIPE_API_KEY"`
	Secret       string        `envconfig:"LEDGER_STRIPE_SECRET"`
	Env          string        `envconfig:"LEDGER_STRIPE_ENV" default:"test"`
	MaxRetries   uint64        `envconfig:"LEDGER_STRIPE_MAX_RETRIES" default:"3"`
	RetryBackoff time.Duration `envconfig:"LEDGER_STRIPE_RETRY_BACKOFF" default:"250ms"`
	Timeout      time.Duration `envconfig:"LEDGER_STRIPE_TIMEOUT" default:"20s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// LedgerConfig carries the payment plan and refund workflow knobs.
type LedgerConfig struct {
	InstallmentThresholdCents int64         `envconfig:"LEDGER_INSTALLMENT_THRESHOLD_CENTS" default:"20000"`
	InstallmentUnitCents      int64         `envconfig:"LEDGER_INSTALLMENT_UNIT_CENTS" default:"10000"`
	InstallmentIntervalDays   int           `envconfig:"LEDGER_INSTALLMENT_INTERVAL_DAYS" default:"30"`
	DefaultDueDays            int           `envconfig:"LEDGER_DEFAULT_DUE_DAYS" default:"30"`
	RefundClaimTTL            time.Duration `envconfig:"LEDGER_REFUND_CLAIM_TTL" default:"10m"`
	RefundMessageMaxLength    int           `envconfig:"LEDGER_REFUND_MESSAGE_MAX_LENGTH" default:"500"`
}

func (l LedgerConfig) validate() error {
	if l.InstallmentUnitCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvInstallmentUnitCents)
	}
	if l.InstallmentIntervalDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvInstallmentIntervalDays)
	}
	if l.RefundMessageMaxLength <= 0 {
		return fmt.Errorf("%s must be positive", EnvRefundMessageMaxLength)
	}
	return nil
}

type CronConfig struct {
	Interval        time.Duration `envconfig:"LEDGER_CRON_INTERVAL" default:"1h"`
	LockTTL         time.Duration `envconfig:"LEDGER_CRON_LOCK_TTL" default:"2h"`
	OutboxRetention time.Duration `envconfig:"LEDGER_CRON_OUTBOX_RETENTION" default:"720h"`
}

// RateLimitConfig throttles refund submissions per user. A zero limit disables it.
type RateLimitConfig struct {
	RefundCreateLimit  int           `envconfig:"LEDGER_RATE_LIMIT_REFUND_CREATE" default:"10"`
	RefundCreateWindow time.Duration `envconfig:"LEDGER_RATE_LIMIT_REFUND_WINDOW" default:"1h"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"LEDGER_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file::memory:?cache=shared"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
