package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SAI_AUTH_JWTSECRET", testSecret)

	conf, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, conf.Server.Port)
	assert.Equal(t, "memory", conf.Database.Driver)
	assert.Equal(t, 5*time.Second, conf.Ledger.TickInterval)
	assert.Equal(t, int64(10), conf.Ledger.PointsPerHour)
	assert.Equal(t, int64(50), conf.Ledger.ReferralBonus)
	assert.Equal(t, 14, conf.Ledger.SeriesDays)
	assert.Equal(t, "pool", conf.Roles.Dispatcher)
	assert.Equal(t, "solana", conf.Auth.Wallet)
	assert.Equal(t, testSecret, conf.Auth.JwtSecret)
	assert.True(t, conf.Ledger.ClearStaleNodesOnStart)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  allowedOrigins: ["https://sailabs.xyz"]
auth:
  jwtSecret: 0123456789abcdef0123
  wallet: evm
ledger:
  tickInterval: 1s
  pointsPerHour: 20
roles:
  dispatcher: none
  discord:
    tierRoles:
      "Tier 1": "111"
      "Tier 2": "222"
logger:
  level: debug
  format: json
`)
	t.Setenv("SAI_LEDGER_REFERRALBONUS", "75")

	conf, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, path, conf.Path)
	assert.Equal(t, 9090, conf.Server.Port)
	assert.Equal(t, []string{"https://sailabs.xyz"}, conf.Server.AllowedOrigins)
	assert.Equal(t, "evm", conf.Auth.Wallet)
	assert.Equal(t, time.Second, conf.Ledger.TickInterval)
	assert.Equal(t, int64(20), conf.Ledger.PointsPerHour)
	assert.Equal(t, int64(75), conf.Ledger.ReferralBonus)
	assert.Equal(t, "none", conf.Roles.Dispatcher)
	assert.Equal(t, "111", conf.Roles.Discord.TierRoles["tier 1"])
	assert.Equal(t, "json", conf.Logger.Format)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("SAI_AUTH_JWTSECRET", testSecret)
	base, err := LoadConfig("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"short secret", func(c *Config) { c.Auth.JwtSecret = "short" }},
		{"bad wallet", func(c *Config) { c.Auth.Wallet = "btc" }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"asynq without redis", func(c *Config) { c.Roles.Dispatcher = "asynq" }},
		{"bad log level", func(c *Config) { c.Logger.Level = "verbose" }},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }},
		{"zero tick", func(c *Config) { c.Ledger.TickInterval = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := *base
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, base.Validate())
}

func TestRemoveTrailingSlash(t *testing.T) {
	assert.Equal(t, "https://sailabs.xyz/ref", RemoveTrailingSlash("https://sailabs.xyz/ref//"))
	assert.Equal(t, "", RemoveTrailingSlash(""))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "***", maskSecret("abc"))
	assert.Equal(t, "01***ef", maskSecret(testSecret))
}
