// Package config defines the top-level configuration for the flareflip
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLAREFLIP_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Wallet   WalletConfig   `toml:"wallet"`
	Watch    WatchConfig    `toml:"watch"`
	Pools    PoolsConfig    `toml:"pools"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds RPC endpoints and the game contract location.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`
	// WSURL enables log subscriptions. When empty the event source polls
	// RPCURL every PollInterval.
	WSURL               string   `toml:"ws_url"`
	ContractAddress     string   `toml:"contract_address"`
	ChainID             int64    `toml:"chain_id"`
	FromBlock           uint64   `toml:"from_block"`
	PollInterval        duration `toml:"poll_interval"`
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`
	GasLimitMultiplier  float64  `toml:"gas_limit_multiplier"`
}

// WalletConfig holds the signing key and the address whose view is derived.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// ViewerAddress is used for read-only watching when no key is set.
	ViewerAddress string `toml:"viewer_address"`
}

// WatchConfig controls which pools get a game reducer.
type WatchConfig struct {
	PoolIDs            []uint64 `toml:"pool_ids"`
	RefreshInterval    duration `toml:"refresh_interval"`
	SelectionNamespace string   `toml:"selection_namespace"`
	// SelectionBackend is "redis" or "sqlite".
	SelectionBackend string `toml:"selection_backend"`
	SQLitePath       string `toml:"sqlite_path"`
	ArchiveFinished  bool   `toml:"archive_finished"`
}

// PoolsConfig controls the pool list.
type PoolsConfig struct {
	PageSize         int      `toml:"page_size"`
	FillingThreshold float64  `toml:"filling_threshold"`
	SyncInterval     duration `toml:"sync_interval"`
	CacheTTL         duration `toml:"cache_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
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

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards write routes. Empty disables auth.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "https://rpc.test2.btcs.network",
			ChainID:             1114,
			PollInterval:        duration{4 * time.Second},
			ReceiptPollInterval: duration{2 * time.Second},
			GasLimitMultiplier:  1.2,
		},
		Watch: WatchConfig{
			RefreshInterval:    duration{5 * time.Second},
			SelectionNamespace: "flareflip",
			SelectionBackend:   "sqlite",
			SQLitePath:         "flareflip.db",
			ArchiveFinished:    true,
		},
		Pools: PoolsConfig{
			PageSize:         6,
			FillingThreshold: 0.8,
			SyncInterval:     duration{30 * time.Second},
			CacheTTL:         duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flareflip-games",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"eliminated", "survived", "won", "pool_active", "write_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watch":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Sprintf("chain: contract_address %q is not a hex address", c.Chain.ContractAddress))
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.PollInterval.Duration <= 0 {
		errs = append(errs, "chain: poll_interval must be > 0")
	}
	if c.Chain.GasLimitMultiplier < 1 {
		errs = append(errs, "chain: gas_limit_multiplier must be >= 1")
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Wallet.ViewerAddress != "" && !common.IsHexAddress(c.Wallet.ViewerAddress) {
		errs = append(errs, fmt.Sprintf("wallet: viewer_address %q is not a hex address", c.Wallet.ViewerAddress))
	}

	// Watch
	if c.Watch.SelectionNamespace == "" {
		errs = append(errs, "watch: selection_namespace must not be empty")
	}
	switch c.Watch.SelectionBackend {
	case "sqlite":
		if c.Watch.SQLitePath == "" {
			errs = append(errs, "watch: sqlite_path must not be empty for the sqlite selection backend")
		}
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "watch: selection_backend redis requires redis.enabled")
		}
	default:
		errs = append(errs, fmt.Sprintf("watch: unknown selection_backend %q (valid: redis, sqlite)", c.Watch.SelectionBackend))
	}
	if c.Watch.RefreshInterval.Duration <= 0 {
		errs = append(errs, "watch: refresh_interval must be > 0")
	}

	// Pools
	if c.Pools.PageSize < 1 {
		errs = append(errs, "pools: page_size must be >= 1")
	}
	if c.Pools.FillingThreshold <= 0 || c.Pools.FillingThreshold > 1 {
		errs = append(errs, fmt.Sprintf("pools: filling_threshold must be in (0, 1], got %g", c.Pools.FillingThreshold))
	}
	if c.Pools.SyncInterval.Duration <= 0 {
		errs = append(errs, "pools: sync_interval must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// HasSigner reports whether a signing key source is configured.
func (c *Config) HasSigner() bool {
	return c.Wallet.PrivateKey != "" || c.Wallet.EncryptedKeyPath != ""
}
