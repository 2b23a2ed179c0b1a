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
	Paystack     PaystackConfig
	Billing      BillingConfig
	Cron         CronConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SETTLA_APP_ENV" required:"true"`
	Port         string   `envconfig:"SETTLA_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"SETTLA_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"SETTLA_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"SETTLA_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SETTLA_DB_DSN"`
	Driver string `envconfig:"SETTLA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SETTLA_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLA_DB_USER"`
	LegacyPassword string `envconfig:"SETTLA_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLA_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SETTLA_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLA_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the auth service.
type JWTConfig struct {
	Secret            string `envconfig:"SETTLA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SETTLA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SETTLA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SETTLA_AUTO_MIGRATE" default:"false"`
}

type PaystackConfig struct {
	SecretKey   string        `envconfig:"SETTLA_PAYSTACK_SECRET_KEY"`
	BaseURL     string        `envconfig:"SETTLA_PAYSTACK_BASE_URL" default:"https://api.paystack.co"`
	CallbackURL string        `envconfig:"SETTLA_PAYSTACK_CALLBACK_URL"`
	Timeout     time.Duration `envconfig:"SETTLA_PAYSTACK_TIMEOUT" default:"10s"`
	MaxRetries  int           `envconfig:"SETTLA_PAYSTACK_MAX_RETRIES" default:"3"`
}

// BillingConfig holds the subscription lifecycle constants.
type BillingConfig struct {
	GraceDays         int           `envconfig:"SETTLA_BILLING_GRACE_DAYS" default:"7"`
	FreeTier          string        `envconfig:"SETTLA_BILLING_FREE_TIER" default:"basic"`
	Currency          string        `envconfig:"SETTLA_BILLING_CURRENCY" default:"NGN"`
	TierLimits        TierLimits    `envconfig:"SETTLA_BILLING_TIER_LIMITS"`
	WebhookDedupeTTL  time.Duration `envconfig:"SETTLA_BILLING_WEBHOOK_DEDUPE_TTL" default:"72h"`
	PaymentLinkWindow time.Duration `envconfig:"SETTLA_BILLING_PAYMENT_LINK_WINDOW" default:"24h"`
	CheckoutPerMinute int           `envconfig:"SETTLA_BILLING_CHECKOUT_PER_MINUTE" default:"10"`
}

// GracePeriod returns the configured grace window.
func (b BillingConfig) GracePeriod() time.Duration {
	return time.Duration(b.GraceDays) * 24 * time.Hour
}

// Limits returns the tier limits table, falling back to the defaults when no
// override was supplied.
func (b BillingConfig) Limits() TierLimits {
	if len(b.TierLimits) == 0 {
		return DefaultTierLimits()
	}
	return b.TierLimits
}

func (b BillingConfig) validate() error {
	if b.GraceDays < 0 {
		return fmt.Errorf("%s must not be negative", EnvBillingGraceDays)
	}
	if strings.TrimSpace(b.FreeTier) == "" {
		return fmt.Errorf("%s is required", EnvBillingFreeTier)
	}
	if _, ok := b.Limits()[strings.ToLower(b.FreeTier)]; !ok {
		return fmt.Errorf("free tier %q has no entry in the tier limits table", b.FreeTier)
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"SETTLA_CRON_INTERVAL" default:"24h"`
	LockTTL  time.Duration `envconfig:"SETTLA_CRON_LOCK_TTL" default:"25h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"SETTLA_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"SETTLA_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	EmailTopic string `envconfig:"SETTLA_PUBSUB_EMAIL_TOPIC"`
}

// Enabled reports whether email requests should be published.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.EmailTopic) != ""
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
