package config

// EnvPrefix is passed to envconfig; every field carries its full name in the tag.
const EnvPrefix = "LEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv    = "LEDGER_APP_ENV"
	EnvPort      = "LEDGER_APP_PORT"
	EnvLogLevel  = "LEDGER_LOG_LEVEL"
	EnvLogFormat = "LEDGER_LOG_FORMAT"

	EnvDBDSN    = "LEDGER_DB_DSN"
	EnvDBDriver = "LEDGER_DB_DRIVER"
	EnvDBHost   = "LEDGER_DB_HOST"
	EnvDBPort   = "LEDGER_DB_PORT"
	EnvDBUser   = "LEDGER_DB_USER"
	EnvDBPass   = "LEDGER_DB_PASSWORD"
	EnvDBName   = "LEDGER_DB_NAME"

	EnvRedisURL = "LEDGER_REDIS_URL"

	EnvJWTSecret = "LEDGER_JWT_SECRET"
	EnvJWTIssuer = "LEDGER_JWT_ISSUER"

	EnvStripeAPIKey  = "LEDGER_STRIPE_API_KEY"
	EnvStripeSecret  = "LEDGER_STRIPE_SECRET"
	EnvStripeTimeout = "LEDGER_STRIPE_TIMEOUT"

	EnvInstallmentThresholdCents = "LEDGER_INSTALLMENT_THRESHOLD_CENTS"
	EnvInstallmentUnitCents      = "LEDGER_INSTALLMENT_UNIT_CENTS"
	EnvInstallmentIntervalDays   = "LEDGER_INSTALLMENT_INTERVAL_DAYS"
	EnvRefundMessageMaxLength    = "LEDGER_REFUND_MESSAGE_MAX_LENGTH"
	EnvRefundClaimTTL            = "LEDGER_REFUND_CLAIM_TTL"

	EnvCronInterval = "LEDGER_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
