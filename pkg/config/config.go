package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment variable the billing core reads.
const EnvPrefix = "VIDORA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	GatewayEnvSandbox    = "sandbox"
	GatewayEnvProduction = "production"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
	Alipay   AlipayConfig
	Gateway  GatewayConfig
	Webhooks WebhooksConfig
	Invoices InvoicesConfig
	GCP      GCPConfig
	GCS      GCSConfig
	PubSub   PubSubConfig
	Outbox   OutboxConfig
	Cron     CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VIDORA_APP_ENV" required:"true"`
	Port         string `envconfig:"VIDORA_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"VIDORA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VIDORA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN             string        `envconfig:"VIDORA_DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"VIDORA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VIDORA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VIDORA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VIDORA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	AutoMigrate     bool          `envconfig:"VIDORA_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VIDORA_REDIS_URL"`
	Address      string        `envconfig:"VIDORA_REDIS_ADDR"`
	Password     string        `envconfig:"VIDORA_REDIS_PASSWORD"`
	DB           int           `envconfig:"VIDORA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VIDORA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VIDORA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VIDORA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VIDORA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VIDORA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"VIDORA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VIDORA_JWT_ISSUER" default:"vidora-billing"`
	ExpirationMinutes int    `envconfig:"VIDORA_JWT_EXPIRATION_MINUTES" default:"60"`
}

// ProviderCredentials is the common shape of a gateway credential bundle.
// Secrets are never logged and only leave the process masked.
type ProviderCredentials struct {
	APIKey        string
	APISecret     string
	WebhookSecret string
	Env           string
}

type StripeConfig struct {
	APIKey        string `envconfig:"VIDORA_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"VIDORA_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"VIDORA_STRIPE_ENV" default:"sandbox"`
}

func (s StripeConfig) Credentials() ProviderCredentials {
	return ProviderCredentials{
		APIKey:        s.APIKey,
		WebhookSecret: s.WebhookSecret,
		Env:           normalizeGatewayEnv(s.Env),
	}
}

type PayPalConfig struct {
	ClientID      string `envconfig:"VIDORA_PAYPAL_CLIENT_ID"`
	ClientSecret  string `envconfig:"VIDORA_PAYPAL_CLIENT_SECRET"`
	WebhookID     string `envconfig:"VIDORA_PAYPAL_WEBHOOK_ID"`
	WebhookSecret string `envconfig:"VIDORA_PAYPAL_WEBHOOK_SECRET"`
	Env           string `envconfig:"VIDORA_PAYPAL_ENV" default:"sandbox"`
}

func (p PayPalConfig) Credentials() ProviderCredentials {
	return ProviderCredentials{
		APIKey:        p.ClientID,
		APISecret:     p.ClientSecret,
		WebhookSecret: p.WebhookSecret,
		Env:           normalizeGatewayEnv(p.Env),
	}
}

type AlipayConfig struct {
	AppID           string `envconfig:"VIDORA_ALIPAY_APP_ID"`
	PrivateKeyPEM   string `envconfig:"VIDORA_ALIPAY_PRIVATE_KEY_PEM"`
	AlipayPublicKey string `envconfig:"VIDORA_ALIPAY_PUBLIC_KEY_PEM"`
	Env             string `envconfig:"VIDORA_ALIPAY_ENV" default:"sandbox"`
}

func (a AlipayConfig) Credentials() ProviderCredentials {
	return ProviderCredentials{
		APIKey:        a.AppID,
		APISecret:     a.PrivateKeyPEM,
		WebhookSecret: a.AlipayPublicKey,
		Env:           normalizeGatewayEnv(a.Env),
	}
}

type GatewayConfig struct {
	CallTimeout time.Duration `envconfig:"VIDORA_GATEWAY_CALL_TIMEOUT" default:"15s"`
}

type WebhooksConfig struct {
	IdempotencyTTL time.Duration `envconfig:"VIDORA_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
}

type InvoicesConfig struct {
	NumberPrefix string `envconfig:"VIDORA_INVOICE_NUMBER_PREFIX" default:"INV"`
	IssuerName   string `envconfig:"VIDORA_INVOICE_ISSUER_NAME" default:"Vidora Streaming Ltd."`
	IssuerVATID  string `envconfig:"VIDORA_INVOICE_ISSUER_VAT_ID"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"VIDORA_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"VIDORA_GCP_CREDENTIALS_JSON"`
}

type GCSConfig struct {
	InvoiceBucket     string        `envconfig:"VIDORA_GCS_INVOICE_BUCKET"`
	DownloadURLExpiry time.Duration `envconfig:"VIDORA_GCS_DOWNLOAD_URL_EXPIRY" default:"15m"`
}

type PubSubConfig struct {
	BillingTopic string `envconfig:"VIDORA_PUBSUB_BILLING_TOPIC" default:"vidora-billing-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VIDORA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VIDORA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VIDORA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval           time.Duration `envconfig:"VIDORA_CRON_INTERVAL" default:"1m"`
	RenewRetryLimit    int           `envconfig:"VIDORA_CRON_RENEW_RETRY_LIMIT" default:"100"`
	SweepBatchSize     int           `envconfig:"VIDORA_CRON_SWEEP_BATCH_SIZE" default:"250"`
	RecoveryStuckAfter time.Duration `envconfig:"VIDORA_CRON_RECOVERY_STUCK_AFTER" default:"15m"`
}

func normalizeGatewayEnv(raw string) string {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		return GatewayEnvSandbox
	}
	return env
}

// MaskSecret keeps the first and last four characters of a credential and
// blanks the rest. Anything shorter than ten characters is fully masked.
func MaskSecret(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) < 10 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
