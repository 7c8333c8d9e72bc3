package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix  = ""
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Korapay       KorapayConfig
	Etegram       EtegramConfig
	Paystack      PaystackConfig
	Flutterwave   FlutterwaveConfig
	Manual        ManualTransferConfig
	Webhooks      WebhookConfig
	Notifications NotificationsConfig
	FeatureFlags  FeatureFlagsConfig
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
	Env          string `envconfig:"CARTLOGS_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTLOGS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CARTLOGS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTLOGS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CARTLOGS_DB_DSN"`
	Driver string `envconfig:"CARTLOGS_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"CARTLOGS_DB_HOST"`
	Port     int    `envconfig:"CARTLOGS_DB_PORT" default:"5432"`
	User     string `envconfig:"CARTLOGS_DB_USER"`
	Password string `envconfig:"CARTLOGS_DB_PASSWORD"`
	Name     string `envconfig:"CARTLOGS_DB_NAME"`
	SSLMode  string `envconfig:"CARTLOGS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARTLOGS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARTLOGS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARTLOGS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTLOGS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTLOGS_REDIS_URL"`
	Address      string        `envconfig:"CARTLOGS_REDIS_ADDR"`
	Password     string        `envconfig:"CARTLOGS_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTLOGS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTLOGS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTLOGS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTLOGS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTLOGS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTLOGS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// AmountLimits is the per-gateway funding window in naira.
type AmountLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

type KorapayConfig struct {
	SecretKey string        `envconfig:"KORAPAY_SECRET_KEY"`
	PublicKey string        `envconfig:"KORAPAY_PUBLIC_KEY"`
	BaseURL   string        `envconfig:"KORAPAY_BASE_URL" default:"https://api.korapay.com"`
	MinAmount int64         `envconfig:"KORAPAY_MIN_AMOUNT" default:"1000"`
	MaxAmount int64         `envconfig:"KORAPAY_MAX_AMOUNT" default:"10000000"`
	Timeout   time.Duration `envconfig:"KORAPAY_TIMEOUT" default:"15s"`
}

func (k KorapayConfig) Limits() AmountLimits {
	return AmountLimits{Min: decimal.NewFromInt(k.MinAmount), Max: decimal.NewFromInt(k.MaxAmount)}
}

type EtegramConfig struct {
	SecretKey string        `envconfig:"ETEGRAM_SECRET_KEY"`
	ProjectID string        `envconfig:"ETEGRAM_PROJECT_ID"`
	BaseURL   string        `envconfig:"ETEGRAM_BASE_URL" default:"https://api.etegram.com"`
	MinAmount int64         `envconfig:"ETEGRAM_MIN_AMOUNT" default:"1000"`
	MaxAmount int64         `envconfig:"ETEGRAM_MAX_AMOUNT" default:"10000000"`
	Timeout   time.Duration `envconfig:"ETEGRAM_TIMEOUT" default:"15s"`
}

func (e EtegramConfig) Limits() AmountLimits {
	return AmountLimits{Min: decimal.NewFromInt(e.MinAmount), Max: decimal.NewFromInt(e.MaxAmount)}
}

// PaystackConfig is kept for replaying historical webhooks only; new charges
// are no longer initialized against Paystack.
type PaystackConfig struct {
	SecretKey string `envconfig:"PAYSTACK_SECRET_KEY"`
}

// FlutterwaveConfig mirrors PaystackConfig: webhook verification only.
type FlutterwaveConfig struct {
	SecretKey   string `envconfig:"FLUTTERWAVE_SECRET_KEY"`
	WebhookHash string `envconfig:"FLUTTERWAVE_WEBHOOK_HASH"`
}

type ManualTransferConfig struct {
	TokenTTL  time.Duration `envconfig:"CARTLOGS_MANUAL_TOKEN_TTL" default:"1h"`
	MinAmount int64         `envconfig:"CARTLOGS_MANUAL_MIN_AMOUNT" default:"1000"`
	MaxAmount int64         `envconfig:"CARTLOGS_MANUAL_MAX_AMOUNT" default:"10000000"`

	BankName      string `envconfig:"CARTLOGS_MANUAL_BANK_NAME"`
	AccountName   string `envconfig:"CARTLOGS_MANUAL_ACCOUNT_NAME"`
	AccountNumber string `envconfig:"CARTLOGS_MANUAL_ACCOUNT_NUMBER"`
}

func (m ManualTransferConfig) Limits() AmountLimits {
	return AmountLimits{Min: decimal.NewFromInt(m.MinAmount), Max: decimal.NewFromInt(m.MaxAmount)}
}

type WebhookConfig struct {
	// SkipVerify disables signature checks. Honored outside prod only.
	SkipVerify   bool          `envconfig:"CARTLOGS_SKIP_WEBHOOK_VERIFY" default:"false"`
	DeliveryTTL  time.Duration `envconfig:"CARTLOGS_WEBHOOK_DELIVERY_TTL" default:"72h"`
}

type NotificationsConfig struct {
	OperatorEmail string `envconfig:"CARTLOGS_OPERATOR_EMAIL"`
	FromEmail     string `envconfig:"CARTLOGS_FROM_EMAIL"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CARTLOGS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	for env, value := range map[string]string{
		"CARTLOGS_DB_HOST": db.Host,
		"CARTLOGS_DB_USER": db.User,
		"CARTLOGS_DB_NAME": db.Name,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either CARTLOGS_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
