package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsPaper())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Mode = "SANDBOX"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.mode")
}

func TestValidateModeIsCaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Mode = "live"
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.SecretKey = "secret"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeLive, cfg.App.Mode)
}

func TestValidateLiveRequiresCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Mode = ModeLive
	cfg.Exchange.APIKey = ""
	cfg.Exchange.SecretKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange.api_key")
}

func TestValidatePaperRequiresPositiveBalance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.PaperInitialBalance = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paper_initial_balance")
}

func TestValidateRiskRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"max position above one", func(c *Config) { c.Risk.MaxPositionSize = 1.5 }, "max_position_size"},
		{"zero kelly fraction", func(c *Config) { c.Risk.KellyFraction = 0 }, "kelly_fraction"},
		{"stop loss at one", func(c *Config) { c.Risk.StopLossPercent = 1.0 }, "stop_loss_percent"},
		{"inverted take profit band", func(c *Config) { c.Risk.TakeProfitMin = 0.5; c.Risk.TakeProfitMax = 0.1 }, "take_profit_min"},
		{"panic threshold above one", func(c *Config) { c.Risk.PanicThreshold = 1.2 }, "panic_threshold"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	os.Setenv("TEST_BOT_SECRET", "supersecret")
	defer os.Unsetenv("TEST_BOT_SECRET")

	content := `
app:
  mode: LIVE
  symbols: ["ETH/USDT"]
exchange:
  api_key: some_key
  secret_key: ${TEST_BOT_SECRET}
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, Secret("supersecret"), cfg.Exchange.SecretKey)
	assert.Equal(t, []string{"ETH/USDT"}, cfg.App.Symbols)
	// Defaults survive a partial file
	assert.Equal(t, "1m", cfg.App.Timeframe)
	assert.Equal(t, 30, cfg.Timeouts.NetworkSeconds)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("does/not/exist.yaml")
	assert.Error(t, err)
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Exchange.APIKey = "visible_api_key"
	cfg.Exchange.SecretKey = "visible_secret"
	cfg.Chat.ChannelSecret = "visible_channel_secret"

	out := cfg.String()
	assert.NotContains(t, out, "visible_api_key")
	assert.NotContains(t, out, "visible_secret")
	assert.NotContains(t, out, "visible_channel_secret")
	assert.True(t, strings.Contains(out, "[REDACTED]"))
}
