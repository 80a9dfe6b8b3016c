package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults and applies POLYBOT_*
// environment overrides, after loading .env if present. An empty path
// skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	applyEnvOverrides(&cfg)
	cfg.Mode = strings.ToLower(cfg.Mode)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	return &cfg, nil
}

// applyEnvOverrides lets deployments inject secrets and toggles without
// editing the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Wallet.PrivateKey, "POLYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYBOT_WALLET_KEY_PASSWORD")

	setStr(&cfg.Polymarket.ClobHost, "POLYBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYBOT_POLYMARKET_GAMMA_HOST")
	setBool(&cfg.Polymarket.NegRisk, "POLYBOT_POLYMARKET_NEG_RISK")
	setFloat64(&cfg.Polymarket.PaperBalance, "POLYBOT_POLYMARKET_PAPER_BALANCE")

	setStr(&cfg.Chain.WsRPC, "POLYBOT_CHAIN_WS_RPC")
	setStr(&cfg.Chain.HTTPRPC, "POLYBOT_CHAIN_HTTP_RPC")

	setDuration(&cfg.Sniper.PollInterval, "POLYBOT_SNIPER_POLL_INTERVAL")
	setBool(&cfg.Sniper.ScanExisting, "POLYBOT_SNIPER_SCAN_EXISTING")
	setInt(&cfg.Sniper.PinCPU, "POLYBOT_SNIPER_PIN_CPU")
	setFloat64(&cfg.Sniper.InitialCapital, "POLYBOT_SNIPER_INITIAL_CAPITAL")

	setInt(&cfg.Arbitrage.MinEdgeBps, "POLYBOT_ARBITRAGE_MIN_EDGE_BPS")
	setInt(&cfg.Arbitrage.FeeBpsPerLeg, "POLYBOT_ARBITRAGE_FEE_BPS_PER_LEG")
	setInt(&cfg.Arbitrage.SlippageBufferBps, "POLYBOT_ARBITRAGE_SLIPPAGE_BUFFER_BPS")
	setBool(&cfg.Arbitrage.DepthAware, "POLYBOT_ARBITRAGE_DEPTH_AWARE")
	setFloat64(&cfg.Arbitrage.MaxPositionUSD, "POLYBOT_ARBITRAGE_MAX_POSITION_USD")

	setFloat64(&cfg.Sizing.KellyFraction, "POLYBOT_SIZING_KELLY_FRACTION")

	setFloat64(&cfg.Risk.MaxPositionPct, "POLYBOT_RISK_MAX_POSITION_PCT")
	setFloat64(&cfg.Risk.MaxExposurePct, "POLYBOT_RISK_MAX_EXPOSURE_PCT")
	setFloat64(&cfg.Risk.StopLossPct, "POLYBOT_RISK_STOP_LOSS_PCT")
	setBool(&cfg.Risk.DynamicStopLoss, "POLYBOT_RISK_DYNAMIC_STOP_LOSS")

	setFloat64(&cfg.Filters.MinVolume, "POLYBOT_FILTERS_MIN_VOLUME")
	setFloat64(&cfg.Filters.MinLiquidity, "POLYBOT_FILTERS_MIN_LIQUIDITY")
	setFloat64(&cfg.Filters.MinVolume24h, "POLYBOT_FILTERS_MIN_VOLUME_24H")

	setBool(&cfg.Expiration.Enabled, "POLYBOT_EXPIRATION_ENABLED")

	setStr(&cfg.Stream.URL, "POLYBOT_STREAM_URL")

	setBool(&cfg.Postgres.Enabled, "POLYBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POLYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYBOT_POSTGRES_SSL_MODE")

	setStr(&cfg.SQLite.Path, "POLYBOT_SQLITE_PATH")

	setBool(&cfg.Redis.Enabled, "POLYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "POLYBOT_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "POLYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYBOT_S3_SECRET_KEY")

	setBool(&cfg.Server.Enabled, "POLYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYBOT_SERVER_CORS_ORIGINS")

	setStr(&cfg.Notify.TelegramToken, "POLYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYBOT_NOTIFY_EVENTS")

	setBool(&cfg.Metrics.Enabled, "POLYBOT_METRICS_ENABLED")

	setStr(&cfg.Mode, "POLYBOT_MODE")
	setStr(&cfg.LogLevel, "POLYBOT_LOG_LEVEL")
}

// Each setter only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = n
	}
}

func setFloat64(dst *float64, key string) {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = f
	}
}

func setBool(dst *bool, key string) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}

func setDuration(dst *duration, key string) {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		dst.Duration = d
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
