package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Xenovative/PMBot/internal/blob/s3"
	"github.com/Xenovative/PMBot/internal/cache/redis"
	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/crypto"
	"github.com/Xenovative/PMBot/internal/domain"
	"github.com/Xenovative/PMBot/internal/merger"
	"github.com/Xenovative/PMBot/internal/notify"
	"github.com/Xenovative/PMBot/internal/platform/polymarket"
	"github.com/Xenovative/PMBot/internal/store/postgres"
)

// Dependencies bundles every collaborator the bot loop and the HTTP surface
// need. Optional subsystems (Postgres, Redis, S3) leave their fields nil
// when disabled.
type Dependencies struct {
	// API clients
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient

	// Execution
	Signer *crypto.Signer // nil in dry-run mode
	Merger *merger.Merger

	// Persistence (nil when Postgres is disabled)
	PG         *postgres.Client
	TradeStore domain.TradeStore
	MergeStore domain.MergeStore
	ScanStore  domain.ScanStore

	// Cache / events (nil when Redis is disabled)
	Redis     *redis.Client
	Snapshots domain.SnapshotCache
	EventBus  domain.EventBus
	Locks     *redis.LockManager

	// Blob storage (nil when S3 is disabled)
	S3         *s3blob.Client
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to call
// on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Trading credentials (live mode only) ---
	if !cfg.Engine.DryRun {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex, cfg.Polymarket.ChainID)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
	}

	// --- Polymarket clients ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Signer, cfg.Wallet.FunderAddress)
	if cfg.Polymarket.ApiKey != "" {
		deps.Clob.SetAPICredentials(cfg.Polymarket.ApiKey, cfg.Polymarket.ApiSecret, cfg.Polymarket.ApiPassphrase)
	} else if deps.Signer != nil {
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive clob api key: %w", err)
		}
	}

	// --- Position merger ---
	m, err := merger.New(cfg, deps.Signer, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: merger: %w", err)
	}
	closers = append(closers, m.Close)
	deps.Merger = m

	// --- PostgreSQL history store ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.FromConfig(cfg.Postgres))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PG = pgClient
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.MergeStore = postgres.NewMergeStore(pool)
		deps.ScanStore = postgres.NewScanStore(pool)
	}

	// --- Redis snapshot cache + event bus ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.FromConfig(cfg.Redis))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		cache := redis.NewSnapshotCache(redisClient)
		deps.Redis = redisClient
		deps.Snapshots = cache
		deps.EventBus = cache
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 archive storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.FromConfig(cfg.S3))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		if deps.TradeStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				deps.BlobWriter,
				deps.TradeStore,
				deps.MergeStore,
				deps.ScanStore,
				logger,
			)
		}
	}

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	return deps, cleanup, nil
}
