package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Razorpay     RazorpayConfig
	UPI          UPIConfig
	Payments     PaymentsConfig
	Ledger       LedgerConfig
	Locks        LocksConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if _, err := cfg.Ledger.Commission(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"VENDORHUB_APP_ENV" required:"true"`
	Port         string   `envconfig:"VENDORHUB_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"VENDORHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"VENDORHUB_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"VENDORHUB_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VENDORHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VENDORHUB_DB_DSN"`
	Driver string `envconfig:"VENDORHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VENDORHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"VENDORHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VENDORHUB_DB_USER"`
	LegacyPassword string `envconfig:"VENDORHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"VENDORHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"VENDORHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VENDORHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VENDORHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VENDORHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VENDORHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"VENDORHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VENDORHUB_REDIS_ADDR"`
	Password     string        `envconfig:"VENDORHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"VENDORHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VENDORHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VENDORHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VENDORHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VENDORHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VENDORHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"VENDORHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VENDORHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"VENDORHUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite    bool `envconfig:"VENDORHUB_USE_SQLITE" default:"false"`
	AutoMigrate  bool `envconfig:"VENDORHUB_AUTO_MIGRATE" default:"false"`
	Webhooks     bool `envconfig:"VENDORHUB_FEATURE_WEBHOOKS" default:"true"`
	// WebhookDedup short-circuits byte-identical redeliveries in Redis ahead of
	// the payment state machine, which stays idempotent without it.
	WebhookDedup bool `envconfig:"VENDORHUB_FEATURE_WEBHOOK_DEDUP" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL         time.Duration `envconfig:"VENDORHUB_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
	CriticalIdempotencyTTL time.Duration `envconfig:"VENDORHUB_EVENTING_CRITICAL_IDEMPOTENCY_TTL" default:"168h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VENDORHUB_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"VENDORHUB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"VENDORHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic  string `envconfig:"VENDORHUB_PUBSUB_ORDERS_TOPIC" default:"vh-order-events"`
	PayoutsTopic string `envconfig:"VENDORHUB_PUBSUB_PAYOUTS_TOPIC" default:"vh-payout-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VENDORHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VENDORHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VENDORHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"VENDORHUB_OUTBOX_RETENTION_DAYS" default:"30"`
}

type StripeConfig struct {
	APIKey string `envconfig:"VENDORHUB_STRIPE_API_KEY"`
	Secret string `envconfig:"VENDORHUB_STRIPE_SECRET"`
	Env    string `envconfig:"VENDORHUB_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// Enabled reports whether Stripe credentials are configured.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

type SquareConfig struct {
	AccessToken   string `envconfig:"VENDORHUB_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"VENDORHUB_SQUARE_WEBHOOK_SECRET"`
	ApplicationID string `envconfig:"VENDORHUB_SQUARE_APPLICATION_ID"`
	LocationID    string `envconfig:"VENDORHUB_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"VENDORHUB_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// Enabled reports whether Square credentials are configured.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

type RazorpayConfig struct {
	KeyID         string `envconfig:"VENDORHUB_RAZORPAY_KEY_ID"`
	KeySecret     string `envconfig:"VENDORHUB_RAZORPAY_KEY_SECRET"`
	WebhookSecret string `envconfig:"VENDORHUB_RAZORPAY_WEBHOOK_SECRET"`
	BaseURL       string `envconfig:"VENDORHUB_RAZORPAY_BASE_URL" default:"https://api.razorpay.com/v1"`
}

// Enabled reports whether Razorpay credentials are configured.
func (r RazorpayConfig) Enabled() bool {
	return strings.TrimSpace(r.KeyID) != "" && strings.TrimSpace(r.KeySecret) != ""
}

// UPIConfig drives the UPI collect flow, which rides the same signed order API.
type UPIConfig struct {
	KeyID         string `envconfig:"VENDORHUB_UPI_KEY_ID"`
	KeySecret     string `envconfig:"VENDORHUB_UPI_KEY_SECRET"`
	WebhookSecret string `envconfig:"VENDORHUB_UPI_WEBHOOK_SECRET"`
	BaseURL       string `envconfig:"VENDORHUB_UPI_BASE_URL" default:"https://api.razorpay.com/v1"`
	PayeeVPA      string `envconfig:"VENDORHUB_UPI_PAYEE_VPA"`
}

// Enabled reports whether UPI credentials are configured.
func (u UPIConfig) Enabled() bool {
	return strings.TrimSpace(u.KeyID) != "" && strings.TrimSpace(u.KeySecret) != ""
}

type PaymentsConfig struct {
	Currency       string        `envconfig:"VENDORHUB_PAYMENTS_CURRENCY" default:"INR"`
	GatewayTimeout time.Duration `envconfig:"VENDORHUB_GATEWAY_TIMEOUT" default:"10s"`
	AllowCOD       bool          `envconfig:"VENDORHUB_PAYMENTS_ALLOW_COD" default:"true"`
}

type LedgerConfig struct {
	CommissionRate      string `envconfig:"VENDORHUB_LEDGER_COMMISSION_RATE" default:"0"`
	PayoutCutoffHourUTC int    `envconfig:"VENDORHUB_LEDGER_PAYOUT_CUTOFF_HOUR_UTC" default:"11"`
	BankDetailsKey      string `envconfig:"VENDORHUB_LEDGER_BANK_DETAILS_KEY"`
}

// Commission parses the configured commission rate as a fraction in [0, 1).
func (l LedgerConfig) Commission() (decimal.Decimal, error) {
	raw := strings.TrimSpace(l.CommissionRate)
	if raw == "" {
		return decimal.Zero, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", EnvLedgerCommissionRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%s must be within [0, 1)", EnvLedgerCommissionRate)
	}
	return rate, nil
}

type LocksConfig struct {
	TTL  time.Duration `envconfig:"VENDORHUB_LOCKS_TTL" default:"30s"`
	Wait time.Duration `envconfig:"VENDORHUB_LOCKS_WAIT" default:"5s"`
}

type CronConfig struct {
	Interval          time.Duration `envconfig:"VENDORHUB_CRON_INTERVAL" default:"5m"`
	LockTTL           time.Duration `envconfig:"VENDORHUB_CRON_LOCK_TTL" default:"10m"`
	StalePaymentAfter time.Duration `envconfig:"VENDORHUB_CRON_STALE_PAYMENT_AFTER" default:"15m"`
	OrderTTL          time.Duration `envconfig:"VENDORHUB_CRON_ORDER_TTL" default:"24h"`
	BatchSize         int           `envconfig:"VENDORHUB_CRON_BATCH_SIZE" default:"100"`
}

type RateLimitConfig struct {
	Window          time.Duration `envconfig:"VENDORHUB_RATE_LIMIT_WINDOW" default:"1m"`
	PaymentsLimit   int           `envconfig:"VENDORHUB_RATE_LIMIT_PAYMENTS" default:"20"`
	CheckoutLimit   int           `envconfig:"VENDORHUB_RATE_LIMIT_CHECKOUT" default:"10"`
	WebhooksLimit   int           `envconfig:"VENDORHUB_RATE_LIMIT_WEBHOOKS" default:"600"`
	WithdrawalLimit int           `envconfig:"VENDORHUB_RATE_LIMIT_WITHDRAWALS" default:"5"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DBDriverSQLite
		if db.DSN == "" {
			db.DSN = "file:vendorhub.db?cache=shared"
		}
		return nil
	}
	if db.DSN != "" {
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
