package config

// EnvPrefix is passed to envconfig; every tag already carries the full name.
const EnvPrefix = "VENDORHUB"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "VENDORHUB_APP_ENV"
	EnvPort     = "VENDORHUB_APP_PORT"
	EnvLogLevel = "VENDORHUB_LOG_LEVEL"

	EnvDBDSN    = "VENDORHUB_DB_DSN"
	EnvDBDriver = "VENDORHUB_DB_DRIVER"
	EnvDBHost   = "VENDORHUB_DB_HOST"
	EnvDBUser   = "VENDORHUB_DB_USER"
	EnvDBName   = "VENDORHUB_DB_NAME"

	EnvRedisURL = "VENDORHUB_REDIS_URL"

	EnvJWTSecret  = "VENDORHUB_JWT_SECRET"
	EnvJWTIssuer  = "VENDORHUB_JWT_ISSUER"
	EnvJWTExpMins = "VENDORHUB_JWT_EXPIRATION_MINUTES"

	EnvUseSQLite = "VENDORHUB_USE_SQLITE"

	EnvGCPProjectID = "VENDORHUB_GCP_PROJECT_ID"

	EnvPubSubOrdersTopic  = "VENDORHUB_PUBSUB_ORDERS_TOPIC"
	EnvPubSubPayoutsTopic = "VENDORHUB_PUBSUB_PAYOUTS_TOPIC"

	EnvGatewayTimeout       = "VENDORHUB_GATEWAY_TIMEOUT"
	EnvLedgerCommissionRate = "VENDORHUB_LEDGER_COMMISSION_RATE"
	EnvLedgerBankDetailsKey = "VENDORHUB_LEDGER_BANK_DETAILS_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
