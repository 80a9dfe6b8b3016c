// Package config defines the sniper configuration, its defaults and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are decoded from TOML over
// Defaults() and then overridden by POLYBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Chain      ChainConfig      `toml:"chain"`
	Sniper     SniperConfig     `toml:"sniper"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Sizing     SizingConfig     `toml:"sizing"`
	Risk       RiskConfig       `toml:"risk"`
	Filters    FiltersConfig    `toml:"filters"`
	Expiration ExpirationConfig `toml:"expiration"`
	Stream     StreamConfig     `toml:"stream"`
	Executor   ExecutorConfig   `toml:"executor"`
	Sim        SimConfig        `toml:"sim"`
	Postgres   PostgresConfig   `toml:"postgres"`
	SQLite     SQLiteConfig     `toml:"sqlite"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// Trading modes.
const (
	ModeLive  = "live"
	ModePaper = "paper"
	ModeSim   = "sim"
)

// WalletConfig says where the signing key comes from.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds the venue endpoints.
type PolymarketConfig struct {
	ClobHost     string  `toml:"clob_host"`
	GammaHost    string  `toml:"gamma_host"`
	NegRisk      bool    `toml:"neg_risk"`
	GammaRPS     float64 `toml:"gamma_rps"`
	GammaBurst   int     `toml:"gamma_burst"`
	MarketLimit  int     `toml:"market_limit"`
	PaperBalance float64 `toml:"paper_balance"`
}

// ChainConfig holds the Polygon RPC endpoints. Either may be empty: without
// a websocket RPC no creation events are watched, without an HTTP RPC
// nothing is redeemed on chain.
type ChainConfig struct {
	WsRPC            string   `toml:"ws_rpc"`
	HTTPRPC          string   `toml:"http_rpc"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
}

// SniperConfig drives the decision loop.
type SniperConfig struct {
	PollInterval    duration `toml:"poll_interval"`
	RetryInterval   duration `toml:"retry_interval"`
	RedeemInterval  duration `toml:"redeem_interval"`
	PnLInterval     duration `toml:"pnl_interval"`
	FetchTimeout    duration `toml:"fetch_timeout"`
	MaxAttempts     int      `toml:"max_attempts"`
	RetryBatch      int      `toml:"retry_batch"`
	ScanExisting    bool     `toml:"scan_existing"`
	TickBuffer      int      `toml:"tick_buffer"`
	EventBuffer     int      `toml:"event_buffer"`
	PinCPU          int      `toml:"pin_cpu"` // core index for the loop, -1 disables
	InitialCapital  float64  `toml:"initial_capital"`
	LockTTL         duration `toml:"lock_ttl"`
	MirrorInterval  duration `toml:"mirror_interval"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ArbitrageConfig configures the pair detector. Fees and slippage are
// per-venue assumptions and belong here rather than in code.
type ArbitrageConfig struct {
	MinEdgeBps        int     `toml:"min_edge_bps"`
	FeeBpsPerLeg      int     `toml:"fee_bps_per_leg"`
	Legs              int     `toml:"legs"`
	SlippageBufferBps int     `toml:"slippage_buffer_bps"`
	DepthAware        bool    `toml:"depth_aware"`
	MaxPositionUSD    float64 `toml:"max_position_usd"`
}

// SizingConfig configures fractional Kelly.
type SizingConfig struct {
	KellyFraction     float64 `toml:"kelly_fraction"`
	MinPct            float64 `toml:"min_pct"`
	MaxPct            float64 `toml:"max_pct"`
	DefaultVolatility float64 `toml:"default_volatility"`
}

// RiskConfig configures entry limits and exits. Percentages are fractions.
type RiskConfig struct {
	MaxPositionPct    float64  `toml:"max_position_pct"`
	MaxExposurePct    float64  `toml:"max_exposure_pct"`
	StopLossPct       float64  `toml:"stop_loss_pct"`
	DynamicStopLoss   bool     `toml:"dynamic_stop_loss"`
	MinHold           duration `toml:"min_hold"`
	AutoSellThreshold float64  `toml:"auto_sell_threshold"`
}

// FiltersConfig holds minimum market statistics.
type FiltersConfig struct {
	MinVolume    float64 `toml:"min_volume"`
	MinLiquidity float64 `toml:"min_liquidity"`
	MinVolume24h float64 `toml:"min_volume_24h"`
}

// ExpirationConfig configures near-expiry sniping.
type ExpirationConfig struct {
	Enabled          bool     `toml:"enabled"`
	MaxTimeRemaining duration `toml:"max_time_remaining"`
	MinPrice         float64  `toml:"min_price"`
	TargetPrice      float64  `toml:"target_price"`
	SizeUSD          float64  `toml:"size_usd"`
}

// StreamConfig configures the order-book websocket.
type StreamConfig struct {
	URL              string   `toml:"url"`
	FlushInterval    duration `toml:"flush_interval"`
	ChunkSize        int      `toml:"chunk_size"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
}

// ExecutorConfig configures order placement.
type ExecutorConfig struct {
	DedupTTL   duration `toml:"dedup_ttl"`
	LegTimeout duration `toml:"leg_timeout"`
	LegPolicy  string   `toml:"leg_policy"` // all_or_none or best_effort
}

// SimConfig configures the in-process simulator.
type SimConfig struct {
	Markets        int      `toml:"markets"`
	Steps          int      `toml:"steps"`
	DislocateEvery int      `toml:"dislocate_every"`
	Seed           uint64   `toml:"seed"`
	TickInterval   duration `toml:"tick_interval"`
	TicksFile      string   `toml:"ticks_file"` // CSV tape; generated when empty
	Balance        float64  `toml:"balance"`
}

// PostgresConfig holds the journal database connection. The journal uses
// Postgres when Enabled, else SQLite when its path is set.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the local journal path.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds the live cache connection.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Prefix     string `toml:"prefix"`
}

// S3Config holds the archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the reporting API settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   float64  `toml:"rate_limit"`
	RateBurst   int      `toml:"rate_burst"`
}

// NotifyConfig holds chat notification targets.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig toggles Prometheus collection.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration lets TOML carry Go duration strings such as "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:     "https://clob.polymarket.com",
			GammaHost:    "https://gamma-api.polymarket.com",
			GammaRPS:     5,
			GammaBurst:   10,
			MarketLimit:  500,
			PaperBalance: 1000,
		},
		Chain: ChainConfig{
			ReconnectBackoff: duration{5 * time.Second},
		},
		Sniper: SniperConfig{
			PollInterval:    duration{5 * time.Second},
			RetryInterval:   duration{time.Second},
			RedeemInterval:  duration{300 * time.Second},
			PnLInterval:     duration{10 * time.Second},
			FetchTimeout:    duration{10 * time.Second},
			MaxAttempts:     10,
			RetryBatch:      5,
			TickBuffer:      4096,
			EventBuffer:     1024,
			PinCPU:          -1,
			InitialCapital:  1000,
			LockTTL:         duration{30 * time.Second},
			MirrorInterval:  duration{time.Second},
			ArchiveInterval: duration{time.Hour},
		},
		Arbitrage: ArbitrageConfig{
			MinEdgeBps:        20,
			FeeBpsPerLeg:      40,
			Legs:              2,
			SlippageBufferBps: 10,
			MaxPositionUSD:    10,
		},
		Sizing: SizingConfig{
			KellyFraction:     0.25,
			MinPct:            0.01,
			MaxPct:            0.10,
			DefaultVolatility: 0.10,
		},
		Risk: RiskConfig{
			MaxPositionPct:    0.05,
			MaxExposurePct:    0.50,
			StopLossPct:       0.10,
			DynamicStopLoss:   true,
			MinHold:           duration{60 * time.Second},
			AutoSellThreshold: 0.99,
		},
		Filters: FiltersConfig{
			MinVolume:    1000,
			MinLiquidity: 500,
		},
		Expiration: ExpirationConfig{
			MaxTimeRemaining: duration{60 * time.Second},
			MinPrice:         0.90,
			TargetPrice:      0.99,
			SizeUSD:          10,
		},
		Stream: StreamConfig{
			URL:              "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			FlushInterval:    duration{200 * time.Millisecond},
			ChunkSize:        50,
			ReconnectBackoff: duration{2 * time.Second},
		},
		Executor: ExecutorConfig{
			DedupTTL:   duration{2 * time.Minute},
			LegTimeout: duration{10 * time.Second},
			LegPolicy:  "all_or_none",
		},
		Sim: SimConfig{
			Markets:        20,
			Steps:          500,
			DislocateEvery: 25,
			Seed:           1,
			TickInterval:   duration{20 * time.Millisecond},
			Balance:        10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polysniper",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "polysniper.db",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Prefix:     "polysniper:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "polysniper-journal",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Notify: NotifyConfig{
			Events: []string{"entry", "exit", "redeem", "error"},
		},
		Metrics:  MetricsConfig{Enabled: true},
		Mode:     ModePaper,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{ModeLive: true, ModePaper: true, ModeSim: true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLegPolicies = map[string]bool{"all_or_none": true, "best_effort": true}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: live, paper, sim)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if strings.EqualFold(c.Mode, ModeLive) {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: private_key or encrypted_key_path is required in live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required with encrypted_key_path")
		}
	}
	if !strings.EqualFold(c.Mode, ModeSim) {
		if c.Polymarket.ClobHost == "" {
			add("polymarket: clob_host must not be empty")
		}
		if c.Polymarket.GammaHost == "" {
			add("polymarket: gamma_host must not be empty")
		}
	}

	if c.Sniper.InitialCapital <= 0 {
		add("sniper: initial_capital must be > 0")
	}
	if c.Sniper.PollInterval.Duration <= 0 {
		add("sniper: poll_interval must be > 0")
	}
	if c.Sniper.MaxAttempts < 1 {
		add("sniper: max_attempts must be >= 1")
	}
	if c.Sniper.RetryBatch < 1 {
		add("sniper: retry_batch must be >= 1")
	}
	if c.Sniper.TickBuffer < 2 || c.Sniper.TickBuffer&(c.Sniper.TickBuffer-1) != 0 {
		add("sniper: tick_buffer must be a power of two >= 2, got %d", c.Sniper.TickBuffer)
	}

	if c.Arbitrage.MinEdgeBps < 0 {
		add("arbitrage: min_edge_bps must be >= 0")
	}
	if c.Arbitrage.FeeBpsPerLeg < 0 || c.Arbitrage.SlippageBufferBps < 0 {
		add("arbitrage: fee_bps_per_leg and slippage_buffer_bps must be >= 0")
	}
	if c.Arbitrage.Legs < 1 {
		add("arbitrage: legs must be >= 1")
	}

	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		add("sizing: kelly_fraction must be in (0, 1]")
	}
	if c.Sizing.MinPct < 0 || c.Sizing.MaxPct <= 0 || c.Sizing.MinPct > c.Sizing.MaxPct {
		add("sizing: need 0 <= min_pct <= max_pct and max_pct > 0")
	}

	if !inUnit(c.Risk.MaxPositionPct) || !inUnit(c.Risk.MaxExposurePct) || !inUnit(c.Risk.StopLossPct) {
		add("risk: max_position_pct, max_exposure_pct and stop_loss_pct are fractions in (0, 1]")
	}
	if c.Risk.AutoSellThreshold <= 0 || c.Risk.AutoSellThreshold > 1 {
		add("risk: auto_sell_threshold must be in (0, 1]")
	}

	if c.Expiration.Enabled && c.Expiration.MinPrice >= c.Expiration.TargetPrice {
		add("expiration: min_price must be below target_price")
	}
	if !validLegPolicies[c.Executor.LegPolicy] {
		add("executor: unknown leg_policy %q (valid: all_or_none, best_effort)", c.Executor.LegPolicy)
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			add("postgres: host and database are required (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
	}
	if c.Postgres.Enabled && c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must not exceed pool_max_conns")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.S3.Enabled && (c.S3.Bucket == "" || c.S3.Region == "") {
		add("s3: bucket and region are required")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func inUnit(f float64) bool { return f > 0 && f <= 1 }
