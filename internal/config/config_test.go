package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, body string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "gemwatch-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(body)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func clearCredentialEnv(t *testing.T) {
	for _, k := range []string{"BIRDEYE_API_KEY", "BIRDEYE_WS_URL", "BOT_TOKEN", "TELEGRAM_TOKEN", "CHAT_ID", "TELEGRAM_CHAT_ID"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearCredentialEnv(t)
	yaml := `
general:
  instance_id: "test-node"
  log_level: "warn"
  log_format: "text"

birdeye:
  api_key: "k123"
  meme_platform_enabled: false

telegram:
  bot_token: "1:abc"
  chat_id: "-100"

filter:
  min_liquidity: 50000
  min_buyers: 25
  min_token_age_minutes: 3
  max_tax: 0
  require_logo: true
  blacklist: ["Rug", " scam "]
  greylist: ["AI, gpt"]
  alert_cooldown_seconds: 120

recheck:
  enabled: true
  delay_minutes: 5

scout:
  enabled: true
  interval_minutes: 2
  top_n: 15
`
	cfg, err := Load(writeTemp(t, yaml))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "warn", cfg.General.LogLevel)
	assert.Equal(t, "text", cfg.General.LogFormat)
	assert.Equal(t, "wss://public-api.birdeye.so/socket/solana?x-api-key=k123", cfg.Birdeye.WSURL)
	assert.False(t, cfg.Birdeye.MemePlatformEnabled)
	assert.True(t, cfg.StreamEnabled())

	assert.Equal(t, 50000.0, cfg.Filter.MinLiquidity)
	assert.Equal(t, int64(25), cfg.Filter.MinBuyers)
	assert.Equal(t, 0.0, cfg.Filter.MaxTax, "explicit zero survives")
	assert.Equal(t, 9999.0, cfg.Filter.MaxFDVLiqRatio, "unset keeps default")
	assert.True(t, cfg.Filter.RequireLogo)
	assert.Equal(t, []string{"rug", "scam"}, cfg.Filter.Blacklist)
	assert.Equal(t, []string{"ai", "gpt"}, cfg.Filter.Greylist)

	engine := cfg.Filter.Engine()
	assert.Equal(t, 2*time.Minute, engine.AlertCooldown)
	assert.Equal(t, 50000.0, engine.MinLiquidity)

	p := cfg.Pipeline()
	assert.True(t, p.Recheck.Active())
	assert.Equal(t, 5*time.Minute, p.Recheck.Delay)
	assert.Equal(t, 10*time.Second, p.Recheck.Tick)
	assert.Zero(t, p.Recheck.WatchTTL, "watch pruning is off unless configured")
	assert.Equal(t, 2*time.Minute, p.Scout.Interval)
	assert.Equal(t, 15, p.Scout.TopN)

	n := cfg.Notifier()
	assert.True(t, n.Enabled())
	assert.Equal(t, "-100", n.ChatID)
}

func TestLoadConfigDefaults(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeTemp(t, "general:\n  environment: staging\n"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "gemwatch-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.True(t, cfg.Birdeye.MemePlatformEnabled)
	assert.False(t, cfg.StreamEnabled())
	assert.Equal(t, []string{"ai", "chatgpt", "openai", "meta"}, cfg.Filter.Greylist)
	assert.Equal(t, 150000.0, cfg.Filter.MinLiquidityGrey)
	assert.Equal(t, 90, cfg.Filter.AlertCooldownSeconds)
	assert.Equal(t, 101.0, cfg.Filter.MaxDrop5m)
	assert.Equal(t, 100.0, cfg.Filter.MaxTax)
	assert.False(t, cfg.Recheck.Enabled)
	assert.False(t, cfg.Scout.Enabled)
	assert.Equal(t, 10, cfg.Scout.IntervalMinutes)
	assert.Equal(t, 50, cfg.Scout.TopN)
	assert.Equal(t, ":8090", cfg.HTTP.Addr)
	assert.Equal(t, 500, cfg.HTTP.JournalSize)

	sc := cfg.StreamListener()
	assert.Equal(t, "echo-protocol", sc.Subprotocol)
	assert.Equal(t, time.Second, sc.BackoffInitial)
	assert.Equal(t, 60*time.Second, sc.BackoffMax)
	assert.Equal(t, 15*time.Second, sc.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, sc.HeartbeatTimeout)

	assert.False(t, cfg.Notifier().Enabled())
	assert.True(t, cfg.Telegram.Greeting)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("TEST_GEMWATCH_INSTANCE", "env-node")
	t.Setenv("TEST_GEMWATCH_KEY", "secret")

	cfg, err := Load(writeTemp(t, `
general:
  instance_id: "${TEST_GEMWATCH_INSTANCE}"
birdeye:
  api_key: "${TEST_GEMWATCH_KEY}"
`))
	require.NoError(t, err)

	assert.Equal(t, "env-node", cfg.General.InstanceID)
	assert.Equal(t, "secret", cfg.BirdeyeHTTP().APIKey)
}

func TestLoadConfigCredentialFallback(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("BIRDEYE_API_KEY", "from-env")
	t.Setenv("TELEGRAM_TOKEN", "tg-token")
	t.Setenv("CHAT_ID", "42")

	cfg, err := Load(writeTemp(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Birdeye.APIKey)
	assert.Contains(t, cfg.Birdeye.WSURL, "x-api-key=from-env")
	assert.Equal(t, "tg-token", cfg.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_GEMWATCH_DOTENV=loaded\n"), 0o600))
	t.Setenv("TEST_GEMWATCH_DOTENV", "")
	os.Unsetenv("TEST_GEMWATCH_DOTENV")

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "loaded", os.Getenv("TEST_GEMWATCH_DOTENV"))
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeTemp(t, "general: [unclosed"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	t.Run("raises grey minimums", func(t *testing.T) {
		cfg := Default()
		cfg.Filter.MinLiquidity = 200000
		cfg.Filter.MinFDV = 1000000
		cfg.Filter.MinBuyers = 500
		require.NoError(t, cfg.Validate())

		assert.Equal(t, 200000.0, cfg.Filter.MinLiquidityGrey)
		assert.Equal(t, 1000000.0, cfg.Filter.MinFDVGrey)
		assert.Equal(t, int64(500), cfg.Filter.MinBuyersGrey)
	})

	t.Run("rejects negatives", func(t *testing.T) {
		cfg := Default()
		cfg.Filter.MinSellers = -1
		cfg.Recheck.DelayMinutes = -5
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "filter.min_sellers")
		assert.Contains(t, err.Error(), "recheck.delay_minutes")
	})

	t.Run("scout needs an interval", func(t *testing.T) {
		cfg := Default()
		cfg.Scout.Enabled = true
		cfg.Scout.IntervalMinutes = 0
		assert.ErrorContains(t, cfg.Validate(), "scout.interval_minutes")
	})

	t.Run("watch ttl must outlast the recheck delay", func(t *testing.T) {
		cfg := Default()
		cfg.Recheck.Enabled = true
		cfg.Recheck.DelayMinutes = 90
		cfg.Recheck.WatchTTLMinutes = 60
		assert.ErrorContains(t, cfg.Validate(), "recheck.watch_ttl_minutes")

		cfg.Recheck.WatchTTLMinutes = 90
		assert.ErrorContains(t, cfg.Validate(), "recheck.watch_ttl_minutes")

		cfg.Recheck.WatchTTLMinutes = 0
		assert.NoError(t, cfg.Validate())

		cfg.Recheck.WatchTTLMinutes = 180
		assert.NoError(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := Default()
		cfg.General.LogLevel = "loud"
		assert.ErrorContains(t, cfg.Validate(), "general.log_level")
	})
}

func TestExampleConfigLoads(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "config", "config.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"rug", "scam", "honeypot"}, cfg.Filter.Blacklist)
	assert.True(t, cfg.Pipeline().Recheck.Active())
	assert.Equal(t, 15, cfg.Stream.StaleMinutes)
	assert.Equal(t, 500, cfg.HTTP.JournalSize)
	assert.False(t, cfg.StreamEnabled())
}
