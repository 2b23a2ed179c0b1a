package config

const (
	EnvPrefix = "SETTLA"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "SETTLA_APP_ENV"
	EnvPort     = "SETTLA_APP_PORT"
	EnvLogLevel = "SETTLA_LOG_LEVEL"

	EnvDBDSN  = "SETTLA_DB_DSN"
	EnvDBHost = "SETTLA_DB_HOST"
	EnvDBUser = "SETTLA_DB_USER"
	EnvDBName = "SETTLA_DB_NAME"

	EnvRedisURL = "SETTLA_REDIS_URL"

	EnvJWTSecret = "SETTLA_JWT_SECRET"
	EnvJWTIssuer = "SETTLA_JWT_ISSUER"

	EnvPaystackSecretKey = "SETTLA_PAYSTACK_SECRET_KEY"

	EnvBillingGraceDays  = "SETTLA_BILLING_GRACE_DAYS"
	EnvBillingFreeTier   = "SETTLA_BILLING_FREE_TIER"
	EnvBillingTierLimits = "SETTLA_BILLING_TIER_LIMITS"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
