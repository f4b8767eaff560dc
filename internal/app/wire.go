package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/flareflip/internal/blob/s3"
	"github.com/alanyoungcy/flareflip/internal/cache/redis"
	"github.com/alanyoungcy/flareflip/internal/config"
	"github.com/alanyoungcy/flareflip/internal/crypto"
	"github.com/alanyoungcy/flareflip/internal/domain"
	"github.com/alanyoungcy/flareflip/internal/events"
	"github.com/alanyoungcy/flareflip/internal/notify"
	"github.com/alanyoungcy/flareflip/internal/platform/flareflip"
	"github.com/alanyoungcy/flareflip/internal/server/handler"
	"github.com/alanyoungcy/flareflip/internal/store/postgres"
	"github.com/alanyoungcy/flareflip/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function. Every
// optional backend is nil when its config section is disabled.
type Dependencies struct {
	// Chain
	Gateway  *flareflip.Client
	Listener *events.Listener
	Viewer   common.Address

	// Stores
	Rounds     domain.RoundArchive
	PoolStore  domain.PoolStore
	AuditStore domain.AuditStore
	Selections domain.SelectionStore

	// Caches
	PoolCache   domain.PoolCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probe each connected backend for /api/health.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		stores := pgClient.Stores()
		deps.Rounds = stores.Rounds
		deps.PoolStore = stores.Pools
		deps.AuditStore = stores.Audit
		deps.HealthChecks["postgres"] = pgClient.Health
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PoolCache = redis.NewPoolCache(redisClient, cfg.Pools.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- Selection store ---
	switch cfg.Watch.SelectionBackend {
	case "redis":
		deps.Selections = redis.NewSelectionStore(redisClient)
	default:
		store, err := sqlite.Open(cfg.Watch.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Selections = store
	}

	// --- S3 archive ---
	if cfg.S3.Enabled && cfg.Watch.ArchiveFinished {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Chain ---
	if err := wireChain(ctx, cfg, deps, &closers, logger); err != nil {
		return fail(err)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != 0 {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.WarnContext(ctx, "wire: telegram disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wireChain dials the RPC endpoints and builds the gateway, event source and
// listener. The viewer is the signer's address, else wallet.viewer_address.
func wireChain(ctx context.Context, cfg *config.Config, deps *Dependencies, closers *[]func(), logger *slog.Logger) error {
	rpc, err := flareflip.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("wire: rpc: %w", err)
	}
	*closers = append(*closers, rpc.Close)
	deps.HealthChecks["rpc"] = func(ctx context.Context) error {
		_, err := rpc.BlockNumber(ctx)
		return err
	}

	contract := common.HexToAddress(cfg.Chain.ContractAddress)
	opts := []flareflip.Option{
		flareflip.WithReceiptPoll(cfg.Chain.ReceiptPollInterval.Duration),
		flareflip.WithGasMultiplier(cfg.Chain.GasLimitMultiplier),
		flareflip.WithLogger(logger),
	}

	src := crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if src.Configured() {
		signer, err := crypto.NewSignerFromSource(src, cfg.Chain.ChainID)
		if err != nil {
			return fmt.Errorf("wire: signer: %w", err)
		}
		opts = append(opts, flareflip.WithSigner(signer))
		deps.Viewer = signer.Address()
	} else if cfg.Wallet.ViewerAddress != "" {
		deps.Viewer = common.HexToAddress(cfg.Wallet.ViewerAddress)
	}
	deps.Gateway = flareflip.NewClient(rpc, contract, opts...)

	// Log subscriptions need a websocket endpoint; fall back to polling.
	var sub flareflip.LogSubscriber
	if ws := strings.TrimSpace(cfg.Chain.WSURL); ws != "" {
		wsClient, err := flareflip.Dial(ctx, ws)
		if err != nil {
			logger.WarnContext(ctx, "wire: ws rpc unavailable, polling logs instead",
				slog.String("error", err.Error()),
			)
		} else {
			*closers = append(*closers, wsClient.Close)
			sub = wsClient
		}
	}
	source := flareflip.NewEventSource(rpc, sub, contract, cfg.Chain.FromBlock, cfg.Chain.PollInterval.Duration, logger)
	deps.Listener = events.NewListener(source, deps.SignalBus, logger)
	return nil
}

// ensure *ethclient.Client keeps satisfying the gateway's backend contracts.
var (
	_ flareflip.Backend       = (*ethclient.Client)(nil)
	_ flareflip.LogBackend    = (*ethclient.Client)(nil)
	_ flareflip.LogSubscriber = (*ethclient.Client)(nil)
)
