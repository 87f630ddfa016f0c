package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Billing       BillingConfig
	Fulfillment   FulfillmentConfig
	Gateway       GatewayConfig
	Services      ServicesConfig
	Notifications NotificationsConfig
	Jobs          JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// BillingConfig holds the installment plan policy knobs.
type BillingConfig struct {
	BlockWeeks          int
	GraceHours          int
	CapThreshold        int64
	MaxInstallmentsOverCap int
	Timezone            string
	Currency            string
	ScheduleCacheTTL    time.Duration
	ReceiptsDir         string
}

// FulfillmentConfig bounds entitlement retry behaviour.
type FulfillmentConfig struct {
	MaxAttempts    int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
}

// GatewayConfig configures the payment gateway integration.
type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookHeader string
	VerifyTimeout time.Duration
}

// ServicesConfig lists the downstream entitlement collaborators.
type ServicesConfig struct {
	MembersURL    string
	WalletURL     string
	StoreURL      string
	AttendanceURL string
	ServiceToken  string
	Timeout       time.Duration
}

// NotificationsConfig configures outbound templated messages.
type NotificationsConfig struct {
	Enabled    bool
	AdminEmail string
	Workers    int
}

// JobsConfig controls the periodic background sweeps.
type JobsConfig struct {
	ComplianceInterval     time.Duration
	RetrySweepInterval     time.Duration
	ReconcileInterval      time.Duration
	ReconcilePendingAfter  time.Duration
	ReminderInterval       time.Duration
	AutoDeductionInterval  time.Duration
	ReceiptCleanupInterval time.Duration
	ReceiptTTL             time.Duration
	Enabled                bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Billing = BillingConfig{
		BlockWeeks:             v.GetInt("BILLING_BLOCK_WEEKS"),
		GraceHours:             v.GetInt("BILLING_GRACE_HOURS"),
		CapThreshold:           v.GetInt64("BILLING_CAP_THRESHOLD"),
		MaxInstallmentsOverCap: v.GetInt("BILLING_MAX_INSTALLMENTS_OVER_CAP"),
		Timezone:               v.GetString("BILLING_TIMEZONE"),
		Currency:               v.GetString("BILLING_CURRENCY"),
		ScheduleCacheTTL:       parseDuration(v.GetString("BILLING_SCHEDULE_CACHE_TTL"), 5*time.Minute),
		ReceiptsDir:            v.GetString("BILLING_RECEIPTS_DIR"),
	}

	cfg.Fulfillment = FulfillmentConfig{
		MaxAttempts:    v.GetInt("FULFILLMENT_MAX_ATTEMPTS"),
		BaseRetryDelay: parseDuration(v.GetString("FULFILLMENT_BASE_RETRY_DELAY"), 2*time.Minute),
		MaxRetryDelay:  parseDuration(v.GetString("FULFILLMENT_MAX_RETRY_DELAY"), 60*time.Minute),
	}

	cfg.Gateway = GatewayConfig{
		BaseURL:       v.GetString("GATEWAY_BASE_URL"),
		SecretKey:     v.GetString("GATEWAY_SECRET_KEY"),
		WebhookHeader: v.GetString("GATEWAY_WEBHOOK_HEADER"),
		VerifyTimeout: parseDuration(v.GetString("GATEWAY_VERIFY_TIMEOUT"), 30*time.Second),
	}

	cfg.Services = ServicesConfig{
		MembersURL:    v.GetString("MEMBERS_SERVICE_URL"),
		WalletURL:     v.GetString("WALLET_SERVICE_URL"),
		StoreURL:      v.GetString("STORE_SERVICE_URL"),
		AttendanceURL: v.GetString("ATTENDANCE_SERVICE_URL"),
		ServiceToken:  v.GetString("SERVICE_TOKEN"),
		Timeout:       parseDuration(v.GetString("SERVICES_TIMEOUT"), 30*time.Second),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled:    v.GetBool("ENABLE_NOTIFICATIONS"),
		AdminEmail: v.GetString("ADMIN_EMAIL"),
		Workers:    v.GetInt("NOTIFICATION_WORKERS"),
	}

	cfg.Jobs = JobsConfig{
		Enabled:                v.GetBool("ENABLE_JOBS"),
		ComplianceInterval:     parseDuration(v.GetString("JOBS_COMPLIANCE_INTERVAL"), time.Hour),
		RetrySweepInterval:     parseDuration(v.GetString("JOBS_RETRY_SWEEP_INTERVAL"), time.Minute),
		ReconcileInterval:      parseDuration(v.GetString("JOBS_RECONCILE_INTERVAL"), 5*time.Minute),
		ReconcilePendingAfter:  parseDuration(v.GetString("JOBS_RECONCILE_PENDING_AFTER"), 2*time.Minute),
		ReminderInterval:       parseDuration(v.GetString("JOBS_REMINDER_INTERVAL"), time.Hour),
		AutoDeductionInterval:  parseDuration(v.GetString("JOBS_AUTO_DEDUCTION_INTERVAL"), time.Hour),
		ReceiptCleanupInterval: parseDuration(v.GetString("JOBS_RECEIPT_CLEANUP_INTERVAL"), 24*time.Hour),
		ReceiptTTL:             parseDuration(v.GetString("JOBS_RECEIPT_TTL"), 720*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "billing")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "billing-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("BILLING_BLOCK_WEEKS", 4)
	v.SetDefault("BILLING_GRACE_HOURS", 24)
	v.SetDefault("BILLING_CAP_THRESHOLD", 150000)
	v.SetDefault("BILLING_MAX_INSTALLMENTS_OVER_CAP", 3)
	v.SetDefault("BILLING_TIMEZONE", "Africa/Lagos")
	v.SetDefault("BILLING_CURRENCY", "NGN")
	v.SetDefault("BILLING_SCHEDULE_CACHE_TTL", "5m")
	v.SetDefault("BILLING_RECEIPTS_DIR", "./receipts")

	v.SetDefault("FULFILLMENT_MAX_ATTEMPTS", 8)
	v.SetDefault("FULFILLMENT_BASE_RETRY_DELAY", "2m")
	v.SetDefault("FULFILLMENT_MAX_RETRY_DELAY", "60m")

	v.SetDefault("GATEWAY_BASE_URL", "https://api.gateway.example")
	v.SetDefault("GATEWAY_SECRET_KEY", "")
	v.SetDefault("GATEWAY_WEBHOOK_HEADER", "X-Gateway-Signature")
	v.SetDefault("GATEWAY_VERIFY_TIMEOUT", "30s")

	v.SetDefault("MEMBERS_SERVICE_URL", "http://localhost:8001")
	v.SetDefault("WALLET_SERVICE_URL", "http://localhost:8002")
	v.SetDefault("STORE_SERVICE_URL", "http://localhost:8003")
	v.SetDefault("ATTENDANCE_SERVICE_URL", "http://localhost:8004")
	v.SetDefault("SERVICE_TOKEN", "")
	v.SetDefault("SERVICES_TIMEOUT", "30s")

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("NOTIFICATION_WORKERS", 2)

	v.SetDefault("ENABLE_JOBS", false)
	v.SetDefault("JOBS_COMPLIANCE_INTERVAL", "1h")
	v.SetDefault("JOBS_RETRY_SWEEP_INTERVAL", "1m")
	v.SetDefault("JOBS_RECONCILE_INTERVAL", "5m")
	v.SetDefault("JOBS_RECONCILE_PENDING_AFTER", "2m")
	v.SetDefault("JOBS_REMINDER_INTERVAL", "1h")
	v.SetDefault("JOBS_AUTO_DEDUCTION_INTERVAL", "1h")
	v.SetDefault("JOBS_RECEIPT_CLEANUP_INTERVAL", "24h")
	v.SetDefault("JOBS_RECEIPT_TTL", "720h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
