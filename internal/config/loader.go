package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLAREFLIP_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLAREFLIP_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FLAREFLIP_CHAIN_RPC_URL")
	setStr(&cfg.Chain.WSURL, "FLAREFLIP_CHAIN_WS_URL")
	setStr(&cfg.Chain.ContractAddress, "FLAREFLIP_CHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Chain.ChainID, "FLAREFLIP_CHAIN_ID")
	setUint64(&cfg.Chain.FromBlock, "FLAREFLIP_CHAIN_FROM_BLOCK")
	setDuration(&cfg.Chain.PollInterval, "FLAREFLIP_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.ReceiptPollInterval, "FLAREFLIP_CHAIN_RECEIPT_POLL_INTERVAL")
	setFloat64(&cfg.Chain.GasLimitMultiplier, "FLAREFLIP_CHAIN_GAS_LIMIT_MULTIPLIER")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FLAREFLIP_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLAREFLIP_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLAREFLIP_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.ViewerAddress, "FLAREFLIP_WALLET_VIEWER_ADDRESS")

	// ── Watch ──
	setUint64Slice(&cfg.Watch.PoolIDs, "FLAREFLIP_WATCH_POOL_IDS")
	setDuration(&cfg.Watch.RefreshInterval, "FLAREFLIP_WATCH_REFRESH_INTERVAL")
	setStr(&cfg.Watch.SelectionNamespace, "FLAREFLIP_WATCH_SELECTION_NAMESPACE")
	setStr(&cfg.Watch.SelectionBackend, "FLAREFLIP_WATCH_SELECTION_BACKEND")
	setStr(&cfg.Watch.SQLitePath, "FLAREFLIP_WATCH_SQLITE_PATH")
	setBool(&cfg.Watch.ArchiveFinished, "FLAREFLIP_WATCH_ARCHIVE_FINISHED")

	// ── Pools ──
	setInt(&cfg.Pools.PageSize, "FLAREFLIP_POOLS_PAGE_SIZE")
	setFloat64(&cfg.Pools.FillingThreshold, "FLAREFLIP_POOLS_FILLING_THRESHOLD")
	setDuration(&cfg.Pools.SyncInterval, "FLAREFLIP_POOLS_SYNC_INTERVAL")
	setDuration(&cfg.Pools.CacheTTL, "FLAREFLIP_POOLS_CACHE_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FLAREFLIP_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FLAREFLIP_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "FLAREFLIP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLAREFLIP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLAREFLIP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLAREFLIP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLAREFLIP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLAREFLIP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLAREFLIP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLAREFLIP_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLAREFLIP_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FLAREFLIP_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FLAREFLIP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLAREFLIP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLAREFLIP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLAREFLIP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLAREFLIP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLAREFLIP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FLAREFLIP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FLAREFLIP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLAREFLIP_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLAREFLIP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLAREFLIP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLAREFLIP_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLAREFLIP_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLAREFLIP_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLAREFLIP_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLAREFLIP_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FLAREFLIP_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FLAREFLIP_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FLAREFLIP_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FLAREFLIP_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLAREFLIP_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "FLAREFLIP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLAREFLIP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLAREFLIP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FLAREFLIP_MODE")
	setStr(&cfg.LogLevel, "FLAREFLIP_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		cleaned := splitList(v)
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setUint64Slice parses a comma-separated id list. Any malformed entry leaves
// dst untouched.
func setUint64Slice(dst *[]uint64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	ids := make([]uint64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return
		}
		ids = append(ids, n)
	}
	if len(ids) > 0 {
		*dst = ids
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
