package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "ledgerflow"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LEDGERFLOW_DB_DSN"
	EnvDBHost = "LEDGERFLOW_DB_HOST"
	EnvDBUser = "LEDGERFLOW_DB_USER"
	EnvDBName = "LEDGERFLOW_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	Billing      BillingConfig
	Stripe       StripeConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LEDGERFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"LEDGERFLOW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LEDGERFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LEDGERFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"LEDGERFLOW_DB_DSN"`
	Driver string `envconfig:"LEDGERFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LEDGERFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"LEDGERFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LEDGERFLOW_DB_USER"`
	LegacyPassword string `envconfig:"LEDGERFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"LEDGERFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"LEDGERFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEDGERFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGERFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGERFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGERFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGERFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"LEDGERFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGERFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGERFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGERFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LEDGERFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LEDGERFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGERFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGERFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"LEDGERFLOW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"LEDGERFLOW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"LEDGERFLOW_JWT_EXPIRATION_MINUTES" required:"true"`
}

// RateLimitConfig carries the throttling policy knobs per protected surface.
type RateLimitConfig struct {
	RefundApproveWindow    time.Duration `envconfig:"LEDGERFLOW_RATE_LIMIT_REFUND_APPROVE_WINDOW" default:"5m"`
	RefundApproveUserLimit int           `envconfig:"LEDGERFLOW_RATE_LIMIT_REFUND_APPROVE_USER_LIMIT" default:"10"`
	RefundApproveIPLimit   int           `envconfig:"LEDGERFLOW_RATE_LIMIT_REFUND_APPROVE_IP_LIMIT" default:"30"`
	ReconcileWindow        time.Duration `envconfig:"LEDGERFLOW_RATE_LIMIT_RECONCILE_WINDOW" default:"1m"`
	ReconcileUserLimit     int           `envconfig:"LEDGERFLOW_RATE_LIMIT_RECONCILE_USER_LIMIT" default:"5"`
	ReconcileIPLimit       int           `envconfig:"LEDGERFLOW_RATE_LIMIT_RECONCILE_IP_LIMIT" default:"20"`
	ReportOnly             bool          `envconfig:"LEDGERFLOW_RATE_LIMIT_REPORT_ONLY" default:"false"`
}

type BillingConfig struct {
	// PricePlanMap maps provider price IDs to plan identifiers,
	// e.g. "price_1abc=pro,price_2def=starter".
	PricePlanMap     map[string]string `envconfig:"LEDGERFLOW_BILLING_PRICE_PLAN_MAP"`
	WebhookGuardTTL  time.Duration     `envconfig:"LEDGERFLOW_BILLING_WEBHOOK_GUARD_TTL" default:"720h"`
	ConnectActionURL string            `envconfig:"LEDGERFLOW_BILLING_CONNECT_ACTION_URL" default:"/settings/payments"`
	UpgradeActionURL string            `envconfig:"LEDGERFLOW_BILLING_UPGRADE_ACTION_URL" default:"/settings/billing"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEDGERFLOW_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"LEDGERFLOW_STRIPE_API_KEY"`
	Secret string `envconfig:"LEDGERFLOW_STRIPE_SECRET"`
	Env    string `envconfig:"LEDGERFLOW_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

func (db *DBConfig) ensureDSN() error {
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
