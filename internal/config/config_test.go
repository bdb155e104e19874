package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
gateway:
  api_key: key
  card_integration_id: 11
  iframe_id: "900"
  hmac_secret: hmac
database:
  url: postgres://localhost/billing
redis:
  url: redis://localhost:6379/0
auth:
  jwt_secret: jwt
payment:
  expiry_window: 30m
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML), true)
	require.NoError(t, err)

	assert.True(t, cfg.Runtime.Dev)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Minute, cfg.Payment.ExpiryWindow)
	assert.Equal(t, "EGP", cfg.Payment.Currency)
	assert.Equal(t, 11, cfg.Gateway.WalletIntegrationID, "wallet integration falls back to card")
	assert.Equal(t, "https://accept.paymob.com", cfg.Gateway.BaseURL)
	assert.Equal(t, 10, cfg.RateLimit.InitializePerWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, "marketplace", cfg.Auth.Issuer)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAYMOB_HMAC_SECRET", "from-env")
	t.Setenv("PAYMOB_WALLET_INTEGRATION_ID", "22")
	t.Setenv("TELEGRAM_OPS_CHAT_ID", "-100987")

	cfg, err := Load(writeConfig(t, minimalYAML), false)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.HMACSecret)
	assert.Equal(t, 22, cfg.Gateway.WalletIntegrationID)
	assert.Equal(t, int64(-100987), cfg.Notify.TelegramChatID)
	assert.Equal(t, time.Hour, normalizeTTL(0))

	t.Setenv("PAYMOB_INTEGRATION_ID", "eleven")
	_, err = Load(writeConfig(t, minimalYAML), false)
	assert.ErrorContains(t, err, "PAYMOB_INTEGRATION_ID")
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("PAYMOB_API_KEY", "k")
	t.Setenv("PAYMOB_INTEGRATION_ID", "5")
	t.Setenv("PAYMOB_IFRAME_ID", "7")
	t.Setenv("PAYMOB_HMAC_SECRET", "h")
	t.Setenv("DATABASE_URL", "postgres://db")
	t.Setenv("REDIS_URL", "redis://r")
	t.Setenv("JWT_SECRET", "j")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Gateway.CardIntegrationID)
	assert.Equal(t, time.Hour, cfg.Payment.ExpiryWindow)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "http: [unclosed"), false)
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Gateway:  GatewayConfig{APIKey: "k", CardIntegrationID: 1, IframeID: "i", HMACSecret: "h"},
			Database: DatabaseConfig{URL: "postgres://db"},
			Redis:    RedisConfig{URL: "redis://r"},
			Auth:     AuthConfig{JWTSecret: "j"},
		}
	}
	c := valid()
	require.NoError(t, c.Validate())

	cases := map[string]func(*Config){
		"gateway.api_key":             func(c *Config) { c.Gateway.APIKey = "" },
		"gateway.card_integration_id": func(c *Config) { c.Gateway.CardIntegrationID = 0 },
		"gateway.iframe_id":           func(c *Config) { c.Gateway.IframeID = "" },
		"gateway.hmac_secret":         func(c *Config) { c.Gateway.HMACSecret = "" },
		"database.url":                func(c *Config) { c.Database.URL = "" },
		"redis.url":                   func(c *Config) { c.Redis.URL = "" },
		"auth.jwt_secret":             func(c *Config) { c.Auth.JWTSecret = "" },
	}
	for field, mutate := range cases {
		c := valid()
		mutate(&c)
		assert.ErrorContains(t, c.Validate(), field)
	}

	noop := Config{
		Gateway:  GatewayConfig{Noop: true, HMACSecret: "h"},
		Database: DatabaseConfig{URL: "postgres://db"},
		Redis:    RedisConfig{URL: "redis://r"},
		Auth:     AuthConfig{JWTSecret: "j"},
	}
	assert.NoError(t, noop.Validate(), "noop gateway needs no credentials")
}
