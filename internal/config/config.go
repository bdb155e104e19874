// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type AdminConfig struct {
	APIKey string `yaml:"api_key"`
}

// GatewayConfig describes the Paymob-compatible acquirer.
type GatewayConfig struct {
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	CardIntegrationID   int           `yaml:"card_integration_id"`
	WalletIntegrationID int           `yaml:"wallet_integration_id"`
	IframeID            string        `yaml:"iframe_id"`
	HMACSecret          string        `yaml:"hmac_secret"`
	Timeout             time.Duration `yaml:"timeout"`
	Noop                bool          `yaml:"noop"` // dev only: fake gateway
}

type PaymentConfig struct {
	ExpiryWindow time.Duration `yaml:"expiry_window"`
	Currency     string        `yaml:"currency"`
}

type RateLimitConfig struct {
	InitializePerWindow int           `yaml:"initialize_per_window"`
	Window              time.Duration `yaml:"window"`
}

type SchedulerConfig struct {
	PaymentSweepInterval      time.Duration `yaml:"payment_sweep_interval"`
	SubscriptionSweepInterval time.Duration `yaml:"subscription_sweep_interval"`
	Workers                   int           `yaml:"workers"`
}

type NotifyConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   int64  `yaml:"telegram_chat_id"`
}

type SecurityConfig struct {
	PIIKey string `yaml:"pii_key"` // optional; 16/24/32 bytes enables column encryption
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Admin     AdminConfig     `yaml:"admin"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Payment   PaymentConfig   `yaml:"payment"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

// Load reads the YAML file at path, applies .env and environment overrides,
// fills defaults and validates required values.
func Load(path string, dev bool) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// env-only deployment
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"PAYMOB_API_KEY":     &cfg.Gateway.APIKey,
		"PAYMOB_IFRAME_ID":   &cfg.Gateway.IframeID,
		"PAYMOB_HMAC_SECRET": &cfg.Gateway.HMACSecret,
		"PAYMOB_BASE_URL":    &cfg.Gateway.BaseURL,
		"DATABASE_URL":       &cfg.Database.URL,
		"REDIS_URL":          &cfg.Redis.URL,
		"REDIS_PASSWORD":     &cfg.Redis.Password,
		"JWT_SECRET":         &cfg.Auth.JWTSecret,
		"ADMIN_API_KEY":      &cfg.Admin.APIKey,
		"TELEGRAM_BOT_TOKEN": &cfg.Notify.TelegramBotToken,
		"PII_ENCRYPTION_KEY": &cfg.Security.PIIKey,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PAYMOB_INTEGRATION_ID":        &cfg.Gateway.CardIntegrationID,
		"PAYMOB_WALLET_INTEGRATION_ID": &cfg.Gateway.WalletIntegrationID,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("env %s: %w", key, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv("TELEGRAM_OPS_CHAT_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("env TELEGRAM_OPS_CHAT_ID: %w", err)
		}
		cfg.Notify.TelegramChatID = id
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.ReadTimeout <= 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout <= 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 25 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "marketplace"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://accept.paymob.com"
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 15 * time.Second
	}
	if cfg.Gateway.WalletIntegrationID == 0 {
		cfg.Gateway.WalletIntegrationID = cfg.Gateway.CardIntegrationID
	}
	cfg.Payment.ExpiryWindow = normalizeTTL(cfg.Payment.ExpiryWindow)
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "EGP"
	}
	if cfg.RateLimit.InitializePerWindow <= 0 {
		cfg.RateLimit.InitializePerWindow = 10
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Scheduler.PaymentSweepInterval <= 0 {
		cfg.Scheduler.PaymentSweepInterval = 5 * time.Minute
	}
	if cfg.Scheduler.SubscriptionSweepInterval <= 0 {
		cfg.Scheduler.SubscriptionSweepInterval = 15 * time.Minute
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 4
	}
}

// Validate reports the first missing required value.
func (c *Config) Validate() error {
	if c.Gateway.APIKey == "" && !c.Gateway.Noop {
		return errors.New("gateway.api_key is required")
	}
	if c.Gateway.CardIntegrationID == 0 && !c.Gateway.Noop {
		return errors.New("gateway.card_integration_id is required")
	}
	if c.Gateway.IframeID == "" && !c.Gateway.Noop {
		return errors.New("gateway.iframe_id is required")
	}
	if c.Gateway.HMACSecret == "" {
		return errors.New("gateway.hmac_secret is required")
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
