package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nexus-trading/gemwatch/internal/alert"
	"github.com/nexus-trading/gemwatch/internal/birdeye"
	"github.com/nexus-trading/gemwatch/internal/filter"
	"github.com/nexus-trading/gemwatch/internal/pipeline"
	"github.com/nexus-trading/gemwatch/internal/upstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for gemwatch.
type Config struct {
	General     GeneralConfig     `yaml:"general"`
	Birdeye     BirdeyeConfig     `yaml:"birdeye"`
	DexScreener DexScreenerConfig `yaml:"dexscreener"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Filter      FilterConfig      `yaml:"filter"`
	Recheck     RecheckConfig     `yaml:"recheck"`
	Scout       ScoutConfig       `yaml:"scout"`
	Stream      StreamConfig      `yaml:"stream"`
	HTTP        HTTPConfig        `yaml:"http"`
}

type GeneralConfig struct {
	InstanceID           string `yaml:"instance_id"`
	Environment          string `yaml:"environment"` // production|staging|development
	LogLevel             string `yaml:"log_level"`
	LogFormat            string `yaml:"log_format"` // json|text
	Debug                bool   `yaml:"debug"`      // forces log_level=debug
	StatsIntervalSeconds int    `yaml:"stats_interval_seconds"`
}

type BirdeyeConfig struct {
	APIKey                 string  `yaml:"api_key"`
	WSURL                  string  `yaml:"ws_url"`
	OverviewURL            string  `yaml:"overview_url"`
	MetadataURL            string  `yaml:"metadata_url"`
	MemePlatformEnabled    bool    `yaml:"meme_platform_enabled"`
	RequestTimeoutSeconds  int     `yaml:"request_timeout_seconds"`
	RateLimitRPS           float64 `yaml:"rate_limit_rps"`
	RateLimitBurst         int     `yaml:"rate_limit_burst"`
	BreakerFailures        uint32  `yaml:"breaker_failures"`
	BreakerCooldownSeconds int     `yaml:"breaker_cooldown_seconds"`
}

type DexScreenerConfig struct {
	TrendingURL           string  `yaml:"trending_url"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	RateLimitRPS          float64 `yaml:"rate_limit_rps"`
}

type TelegramConfig struct {
	BotToken           string `yaml:"bot_token"`
	ChatID             string `yaml:"chat_id"`
	Greeting           bool   `yaml:"greeting"`
	SendTimeoutSeconds int    `yaml:"send_timeout_seconds"`
}

// FilterConfig carries the filter thresholds plus the cooldown in seconds.
type FilterConfig struct {
	filter.Config        `yaml:",inline"`
	AlertCooldownSeconds int `yaml:"alert_cooldown_seconds"`
}

// Engine returns the thresholds in the form the filter engine takes.
func (f FilterConfig) Engine() filter.Config {
	c := f.Config
	c.AlertCooldown = time.Duration(f.AlertCooldownSeconds) * time.Second
	return c
}

type RecheckConfig struct {
	Enabled         bool `yaml:"enabled"`
	DelayMinutes    int  `yaml:"delay_minutes"`
	TickSeconds     int  `yaml:"tick_seconds"`
	WatchTTLMinutes int  `yaml:"watch_ttl_minutes"`
}

type ScoutConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
	TopN            int  `yaml:"top_n"`
}

type StreamConfig struct {
	Origin                   string `yaml:"origin"`
	Subprotocol              string `yaml:"subprotocol"`
	BackoffInitialSeconds    int    `yaml:"backoff_initial_seconds"`
	BackoffMaxSeconds        int    `yaml:"backoff_max_seconds"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	HeartbeatTimeoutSeconds  int    `yaml:"heartbeat_timeout_seconds"`
	BufferSize               int    `yaml:"buffer_size"`
	Workers                  int    `yaml:"workers"`
	StaleMinutes             int    `yaml:"stale_minutes"` // health degrades after this long without a listing
}

type HTTPConfig struct {
	Addr        string `yaml:"addr"` // empty disables the admin server
	JournalSize int    `yaml:"journal_size"`
}

// Default returns the stock configuration. Load decodes the file on top of
// it, so explicit zeros in the file are kept.
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			InstanceID:           "gemwatch-1",
			Environment:          "development",
			LogLevel:             "info",
			LogFormat:            "json",
			StatsIntervalSeconds: 60,
		},
		Birdeye: BirdeyeConfig{
			MemePlatformEnabled:    true,
			RequestTimeoutSeconds:  15,
			RateLimitRPS:           10,
			RateLimitBurst:         5,
			BreakerFailures:        5,
			BreakerCooldownSeconds: 30,
		},
		DexScreener: DexScreenerConfig{
			RequestTimeoutSeconds: 15,
			RateLimitRPS:          1,
		},
		Telegram: TelegramConfig{
			Greeting:           true,
			SendTimeoutSeconds: 15,
		},
		Filter: FilterConfig{
			Config:               filter.DefaultConfig(),
			AlertCooldownSeconds: 90,
		},
		Recheck: RecheckConfig{
			TickSeconds: 10,
		},
		Scout: ScoutConfig{
			IntervalMinutes: 10,
			TopN:            50,
		},
		Stream: StreamConfig{
			Subprotocol:              "echo-protocol",
			BackoffInitialSeconds:    1,
			BackoffMaxSeconds:        60,
			HeartbeatIntervalSeconds: 15,
			HeartbeatTimeoutSeconds:  10,
			BufferSize:               256,
			Workers:                  4,
			StaleMinutes:             15,
		},
		HTTP: HTTPConfig{Addr: ":8090", JournalSize: 500},
	}
}

// LoadEnv loads KEY=VALUE pairs from the given dotenv files into the
// process environment. Missing files are skipped; variables already set
// are not overridden.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// firstEnv returns the first non-empty environment variable among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "gemwatch-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.Debug {
		cfg.General.LogLevel = "debug"
	}

	// Credentials fall back to the plain environment names.
	if cfg.Birdeye.APIKey == "" {
		cfg.Birdeye.APIKey = os.Getenv("BIRDEYE_API_KEY")
	}
	if cfg.Birdeye.WSURL == "" {
		cfg.Birdeye.WSURL = os.Getenv("BIRDEYE_WS_URL")
	}
	if cfg.Birdeye.WSURL == "" && cfg.Birdeye.APIKey != "" {
		cfg.Birdeye.WSURL = birdeye.StreamURL(cfg.Birdeye.APIKey)
	}
	if cfg.Birdeye.OverviewURL == "" {
		cfg.Birdeye.OverviewURL = birdeye.DefaultOverviewURL
	}
	if cfg.Birdeye.MetadataURL == "" {
		cfg.Birdeye.MetadataURL = birdeye.DefaultMetadataURL
	}
	if cfg.Birdeye.RequestTimeoutSeconds <= 0 {
		cfg.Birdeye.RequestTimeoutSeconds = 15
	}
	if cfg.DexScreener.RequestTimeoutSeconds <= 0 {
		cfg.DexScreener.RequestTimeoutSeconds = 15
	}
	if cfg.Telegram.BotToken == "" {
		cfg.Telegram.BotToken = firstEnv("BOT_TOKEN", "TELEGRAM_TOKEN")
	}
	if cfg.Telegram.ChatID == "" {
		cfg.Telegram.ChatID = firstEnv("CHAT_ID", "TELEGRAM_CHAT_ID")
	}
	if cfg.Telegram.SendTimeoutSeconds <= 0 {
		cfg.Telegram.SendTimeoutSeconds = 15
	}

	cfg.Filter.Blacklist = normalizeWords(cfg.Filter.Blacklist)
	cfg.Filter.Greylist = normalizeWords(cfg.Filter.Greylist)

	if cfg.Recheck.TickSeconds <= 0 {
		cfg.Recheck.TickSeconds = 10
	}
	if cfg.Stream.Subprotocol == "" {
		cfg.Stream.Subprotocol = "echo-protocol"
	}
	if cfg.Stream.BufferSize <= 0 {
		cfg.Stream.BufferSize = 256
	}
	if cfg.Stream.Workers <= 0 {
		cfg.Stream.Workers = 1
	}
	if cfg.General.StatsIntervalSeconds <= 0 {
		cfg.General.StatsIntervalSeconds = 60
	}
	if cfg.Stream.StaleMinutes <= 0 {
		cfg.Stream.StaleMinutes = 15
	}
	if cfg.HTTP.JournalSize <= 0 {
		cfg.HTTP.JournalSize = 500
	}
}

// normalizeWords lower-cases and trims terms, dropping blanks. A single
// comma-separated entry is split, matching the env-style lists.
func normalizeWords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, w := range strings.Split(entry, ",") {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				out = append(out, w)
			}
		}
	}
	return out
}

// Validate rejects settings the pipeline cannot run with. Greylist minimums
// below their base counterparts are raised to the base value.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zerolog.ParseLevel(c.General.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("general.log_level: %w", err))
	}

	f := &c.Filter
	nonNegative := []struct {
		key   string
		value float64
	}{
		{"filter.min_liquidity", f.MinLiquidity},
		{"filter.min_fdv", f.MinFDV},
		{"filter.min_buyers", float64(f.MinBuyers)},
		{"filter.min_sellers", float64(f.MinSellers)},
		{"filter.min_token_age_minutes", f.MinTokenAgeMinutes},
		{"filter.max_fdv_liq_ratio", f.MaxFDVLiqRatio},
		{"filter.max_price_drop_5m", f.MaxDrop5m},
		{"filter.max_tax", f.MaxTax},
		{"filter.min_liquidity_grey", f.MinLiquidityGrey},
		{"filter.min_fdv_grey", f.MinFDVGrey},
		{"filter.min_buyers_grey", float64(f.MinBuyersGrey)},
		{"filter.alert_cooldown_seconds", float64(f.AlertCooldownSeconds)},
		{"recheck.delay_minutes", float64(c.Recheck.DelayMinutes)},
		{"recheck.watch_ttl_minutes", float64(c.Recheck.WatchTTLMinutes)},
	}
	for _, nn := range nonNegative {
		if nn.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", nn.key))
		}
	}

	if f.MinLiquidityGrey < f.MinLiquidity {
		log.Warn().Float64("grey", f.MinLiquidityGrey).Float64("base", f.MinLiquidity).
			Msg("config: min_liquidity_grey below min_liquidity, raising")
		f.MinLiquidityGrey = f.MinLiquidity
	}
	if f.MinFDVGrey < f.MinFDV {
		log.Warn().Float64("grey", f.MinFDVGrey).Float64("base", f.MinFDV).
			Msg("config: min_fdv_grey below min_fdv, raising")
		f.MinFDVGrey = f.MinFDV
	}
	if f.MinBuyersGrey < f.MinBuyers {
		log.Warn().Int64("grey", f.MinBuyersGrey).Int64("base", f.MinBuyers).
			Msg("config: min_buyers_grey below min_buyers, raising")
		f.MinBuyersGrey = f.MinBuyers
	}

	if c.Scout.Enabled {
		if c.Scout.IntervalMinutes <= 0 {
			errs = append(errs, errors.New("scout.interval_minutes must be positive when scout is enabled"))
		}
		if c.Scout.TopN <= 0 {
			errs = append(errs, errors.New("scout.top_n must be positive when scout is enabled"))
		}
	}
	if ttl := c.Recheck.WatchTTLMinutes; ttl > 0 && ttl <= c.Recheck.DelayMinutes {
		errs = append(errs, errors.New("recheck.watch_ttl_minutes must exceed recheck.delay_minutes (0 disables pruning)"))
	}
	if c.Recheck.Enabled && c.Recheck.DelayMinutes == 0 {
		log.Warn().Msg("config: recheck enabled with delay_minutes=0, recheck stays off")
	}
	if c.Stream.BackoffMaxSeconds > 0 && c.Stream.BackoffMaxSeconds < c.Stream.BackoffInitialSeconds {
		errs = append(errs, errors.New("stream.backoff_max_seconds must be >= backoff_initial_seconds"))
	}

	return errors.Join(errs...)
}

// StreamEnabled reports whether the listing stream has credentials.
func (c *Config) StreamEnabled() bool {
	return c.Birdeye.WSURL != "" && c.Birdeye.APIKey != ""
}

// ---------------------------------------------------------------------------
// Component settings
// ---------------------------------------------------------------------------

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// StreamListener returns the listing stream settings.
func (c *Config) StreamListener() birdeye.StreamConfig {
	sc := birdeye.DefaultStreamConfig()
	sc.URL = c.Birdeye.WSURL
	sc.APIKey = c.Birdeye.APIKey
	sc.MemePlatformEnabled = c.Birdeye.MemePlatformEnabled
	sc.Subprotocol = c.Stream.Subprotocol
	sc.BufferSize = c.Stream.BufferSize
	if c.Stream.Origin != "" {
		sc.Origin = c.Stream.Origin
	}
	// Zero durations fall back to the listener defaults.
	sc.BackoffInitial = seconds(c.Stream.BackoffInitialSeconds)
	sc.BackoffMax = seconds(c.Stream.BackoffMaxSeconds)
	sc.HeartbeatInterval = seconds(c.Stream.HeartbeatIntervalSeconds)
	sc.HeartbeatTimeout = seconds(c.Stream.HeartbeatTimeoutSeconds)
	return sc
}

// BirdeyeHTTP returns the request settings for the enrichment lookups.
func (c *Config) BirdeyeHTTP() upstream.Config {
	uc := upstream.DefaultConfig("birdeye")
	uc.APIKey = c.Birdeye.APIKey
	uc.Timeout = seconds(c.Birdeye.RequestTimeoutSeconds)
	uc.RateRPS = c.Birdeye.RateLimitRPS
	uc.RateBurst = c.Birdeye.RateLimitBurst
	if c.Birdeye.BreakerFailures > 0 {
		uc.BreakerMax = c.Birdeye.BreakerFailures
	}
	if c.Birdeye.BreakerCooldownSeconds > 0 {
		uc.BreakerTTL = seconds(c.Birdeye.BreakerCooldownSeconds)
	}
	return uc
}

// DexScreenerHTTP returns the request settings for the trending poller.
func (c *Config) DexScreenerHTTP() upstream.Config {
	uc := upstream.DefaultConfig("dexscreener")
	uc.Timeout = seconds(c.DexScreener.RequestTimeoutSeconds)
	uc.RateRPS = c.DexScreener.RateLimitRPS
	uc.RateBurst = 1
	return uc
}

// Pipeline returns the scheduler settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Recheck: pipeline.RecheckConfig{
			Enabled:  c.Recheck.Enabled,
			Delay:    minutes(c.Recheck.DelayMinutes),
			Tick:     seconds(c.Recheck.TickSeconds),
			WatchTTL: minutes(c.Recheck.WatchTTLMinutes),
		},
		Scout: pipeline.ScoutConfig{
			Enabled:  c.Scout.Enabled,
			Interval: minutes(c.Scout.IntervalMinutes),
			TopN:     c.Scout.TopN,
		},
		StreamWorkers: c.Stream.Workers,
	}
}

// Notifier returns the Telegram settings.
func (c *Config) Notifier() alert.TelegramConfig {
	return alert.TelegramConfig{BotToken: c.Telegram.BotToken, ChatID: c.Telegram.ChatID}
}
