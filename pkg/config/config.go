package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix  = ""
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Pricing      PricingConfig
	Deposits     DepositConfig
	Supervisor   SupervisorConfig
	PixIntegra   PixIntegraConfig
	SMSActivate  SMSActivateConfig
	Apex         ApexConfig
	Idempotency  IdempotencyConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Pricing.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ZAPCREDITS_APP_ENV" default:"dev"`
	Port         string `envconfig:"ZAPCREDITS_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ZAPCREDITS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ZAPCREDITS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN             string        `envconfig:"ZAPCREDITS_DB_DSN" required:"true"`
	MaxOpenConns    int           `envconfig:"ZAPCREDITS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ZAPCREDITS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ZAPCREDITS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ZAPCREDITS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ZAPCREDITS_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"ZAPCREDITS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ZAPCREDITS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ZAPCREDITS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ZAPCREDITS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ZAPCREDITS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PricingConfig carries the margin multipliers and quantity discount bands
// read once at startup.
type PricingConfig struct {
	MarginEconomic float64 `envconfig:"ZAPCREDITS_MARGIN_ECONOMIC" default:"1.7"`
	MarginStandard float64 `envconfig:"ZAPCREDITS_MARGIN_STANDARD" default:"2.2"`
	MarginPremium  float64 `envconfig:"ZAPCREDITS_MARGIN_PREMIUM" default:"3.5"`

	DiscountBand1Min     int     `envconfig:"ZAPCREDITS_DISCOUNT_BAND1_MIN" default:"5"`
	DiscountBand1Max     int     `envconfig:"ZAPCREDITS_DISCOUNT_BAND1_MAX" default:"20"`
	DiscountBand1Percent float64 `envconfig:"ZAPCREDITS_DISCOUNT_BAND1_PERCENT" default:"5"`

	DiscountBand2Min     int     `envconfig:"ZAPCREDITS_DISCOUNT_BAND2_MIN" default:"21"`
	DiscountBand2Max     int     `envconfig:"ZAPCREDITS_DISCOUNT_BAND2_MAX" default:"100"`
	DiscountBand2Percent float64 `envconfig:"ZAPCREDITS_DISCOUNT_BAND2_PERCENT" default:"12"`

	// Last band is unbounded above.
	DiscountBand3Min     int     `envconfig:"ZAPCREDITS_DISCOUNT_BAND3_MIN" default:"101"`
	DiscountBand3Percent float64 `envconfig:"ZAPCREDITS_DISCOUNT_BAND3_PERCENT" default:"20"`
}

func (p PricingConfig) validate() error {
	if p.MarginEconomic <= 0 || p.MarginStandard <= 0 || p.MarginPremium <= 0 {
		return fmt.Errorf("pricing margins must be positive")
	}
	if p.DiscountBand1Min > p.DiscountBand1Max || p.DiscountBand1Max >= p.DiscountBand2Min ||
		p.DiscountBand2Min > p.DiscountBand2Max || p.DiscountBand2Max >= p.DiscountBand3Min {
		return fmt.Errorf("discount bands must be ordered and non-overlapping")
	}
	return nil
}

type DepositConfig struct {
	MinimumAmount string        `envconfig:"ZAPCREDITS_DEPOSIT_MINIMUM" default:"1.00"`
	ChargeExpiry  time.Duration `envconfig:"ZAPCREDITS_DEPOSIT_CHARGE_EXPIRY" default:"30m"`
}

type SupervisorConfig struct {
	SMSPollInterval      time.Duration `envconfig:"ZAPCREDITS_SMS_POLL_INTERVAL" default:"10s"`
	SMSDeadline          time.Duration `envconfig:"ZAPCREDITS_SMS_DEADLINE" default:"20m"`
	DepositPollInterval  time.Duration `envconfig:"ZAPCREDITS_DEPOSIT_POLL_INTERVAL" default:"30s"`
	FollowerPollInterval time.Duration `envconfig:"ZAPCREDITS_FOLLOWER_POLL_INTERVAL" default:"30s"`
	FollowerDeadline     time.Duration `envconfig:"ZAPCREDITS_FOLLOWER_DEADLINE" default:"24h"`
	RecoverInterval      time.Duration `envconfig:"ZAPCREDITS_RECOVER_INTERVAL" default:"1m"`
}

type PixIntegraConfig struct {
	BaseURL       string        `envconfig:"ZAPCREDITS_PIXINTEGRA_BASE_URL" default:"https://api.pixintegra.com"`
	APIToken      string        `envconfig:"ZAPCREDITS_PIXINTEGRA_API_TOKEN"`
	WebhookSecret string        `envconfig:"ZAPCREDITS_PIXINTEGRA_WEBHOOK_SECRET"`
	Timeout       time.Duration `envconfig:"ZAPCREDITS_PIXINTEGRA_TIMEOUT" default:"30s"`
}

type SMSActivateConfig struct {
	BaseURL string        `envconfig:"ZAPCREDITS_SMSACTIVATE_BASE_URL" default:"https://api.sms-activate.org/stubs/handler_api.php"`
	APIKey  string        `envconfig:"ZAPCREDITS_SMSACTIVATE_API_KEY"`
	Country string        `envconfig:"ZAPCREDITS_SMSACTIVATE_COUNTRY" default:"73"`
	Timeout time.Duration `envconfig:"ZAPCREDITS_SMSACTIVATE_TIMEOUT" default:"30s"`
}

type ApexConfig struct {
	BaseURL string        `envconfig:"ZAPCREDITS_APEX_BASE_URL" default:"https://apexseguidores.com/api/v2"`
	APIKey  string        `envconfig:"ZAPCREDITS_APEX_API_KEY"`
	Timeout time.Duration `envconfig:"ZAPCREDITS_APEX_TIMEOUT" default:"30s"`
}

type IdempotencyConfig struct {
	TTL time.Duration `envconfig:"ZAPCREDITS_IDEMPOTENCY_TTL" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ZAPCREDITS_AUTO_MIGRATE" default:"false"`
}
