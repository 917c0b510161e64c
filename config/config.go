package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Redis    RedisConfig
	Stripe   StripeConfig
	Apple    AppleConfig
	Google   GoogleConfig
	Wallet   WalletConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	Issuer       string
	AccessExpiry time.Duration
}

type RedisConfig struct {
	Addr string // empty disables redis; rate limiting falls back to in-memory
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

type AppleConfig struct {
	BundleID      string
	Environment   string // Production or Sandbox
	RootCertsPath string // PEM bundle of trusted App Store root certificates
}

type GoogleConfig struct {
	PackageName        string
	ServiceAccountJSON string // raw JSON or path to key file
	WebhookSecret      string
}

type WalletConfig struct {
	Currency                string
	InstantFeePercent       int64 // basis: percent of amount
	InstantFeeMinMinor      int64
	InstantDailyLimitMinor  int64 // default per-user cap, overridable per user
	RateLimitPerMinute      int
}

// Load reads configuration from the environment (and an optional .env file),
// falling back to development defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Missing .env is fine; env vars still apply.
	_ = v.ReadInConfig()

	v.SetDefault("SERVER_PORT", "8090")
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "10s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	v.SetDefault("DB_DSN", "bursar:bursar@tcp(localhost:3306)/bursar?charset=utf8mb4&parseTime=True&loc=Local")
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_MAX_OPEN_CONNS", 100)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("JWT_ACCESS_SECRET", "change-me-in-production")
	v.SetDefault("JWT_ISSUER", "bursar")
	v.SetDefault("JWT_ACCESS_EXPIRY", "15m")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("STRIPE_SECRET_KEY", "")
	v.SetDefault("STRIPE_WEBHOOK_SECRET", "")
	v.SetDefault("STRIPE_TIMEOUT", "30s")
	v.SetDefault("APPLE_BUNDLE_ID", "")
	v.SetDefault("APPLE_ENVIRONMENT", "Production")
	v.SetDefault("APPLE_ROOT_CERTS_PATH", "")
	v.SetDefault("GOOGLE_PACKAGE_NAME", "")
	v.SetDefault("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	v.SetDefault("GOOGLE_WEBHOOK_SECRET", "")
	v.SetDefault("WALLET_CURRENCY", "usd")
	v.SetDefault("WALLET_INSTANT_FEE_PERCENT", 2)
	v.SetDefault("WALLET_INSTANT_FEE_MIN_MINOR", 50)
	v.SetDefault("WALLET_INSTANT_DAILY_LIMIT_MINOR", 50000)
	v.SetDefault("WALLET_RATE_LIMIT_PER_MINUTE", 100)

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Env:          v.GetString("SERVER_ENV"),
			ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		JWT: JWTConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
			Issuer:       v.GetString("JWT_ISSUER"),
			AccessExpiry: v.GetDuration("JWT_ACCESS_EXPIRY"),
		},
		Redis: RedisConfig{
			Addr: v.GetString("REDIS_ADDR"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			Timeout:       v.GetDuration("STRIPE_TIMEOUT"),
		},
		Apple: AppleConfig{
			BundleID:      v.GetString("APPLE_BUNDLE_ID"),
			Environment:   v.GetString("APPLE_ENVIRONMENT"),
			RootCertsPath: v.GetString("APPLE_ROOT_CERTS_PATH"),
		},
		Google: GoogleConfig{
			PackageName:        v.GetString("GOOGLE_PACKAGE_NAME"),
			ServiceAccountJSON: v.GetString("GOOGLE_SERVICE_ACCOUNT_JSON"),
			WebhookSecret:      v.GetString("GOOGLE_WEBHOOK_SECRET"),
		},
		Wallet: WalletConfig{
			Currency:               v.GetString("WALLET_CURRENCY"),
			InstantFeePercent:      v.GetInt64("WALLET_INSTANT_FEE_PERCENT"),
			InstantFeeMinMinor:     v.GetInt64("WALLET_INSTANT_FEE_MIN_MINOR"),
			InstantDailyLimitMinor: v.GetInt64("WALLET_INSTANT_DAILY_LIMIT_MINOR"),
			RateLimitPerMinute:     v.GetInt("WALLET_RATE_LIMIT_PER_MINUTE"),
		},
	}
	return cfg, nil
}
