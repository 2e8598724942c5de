package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/custodex/internal/blob/s3"
	"github.com/alanyoungcy/custodex/internal/cache/local"
	"github.com/alanyoungcy/custodex/internal/cache/redis"
	"github.com/alanyoungcy/custodex/internal/config"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/ledger"
	"github.com/alanyoungcy/custodex/internal/server/handler"
	"github.com/alanyoungcy/custodex/internal/store/memory"
	"github.com/alanyoungcy/custodex/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	LedgerStore  domain.LedgerStore
	AuditStore   domain.AuditStore
	ReceiptStore domain.ReceiptStore

	// Caches
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Journal     domain.EventJournal
	RateLimiter domain.RateLimiter

	// Blob storage; nil unless archiving is on.
	Archiver *s3blob.ReceiptArchiver

	// Health probes keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// needsS3 reports whether the archive loop will run.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// Wire connects to every configured backend. The ledger store is Postgres or
// in-memory; locks, events and rate limits live in Redis when enabled and
// in-process otherwise. The returned cleanup closes connections in reverse
// order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// ── Ledger, audit and receipts ──
	switch cfg.Ledger.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.LedgerStore = postgres.NewLedgerStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
		deps.ReceiptStore = postgres.NewReceiptStore(pg.Pool())
		deps.Health["postgres"] = pg.Ping
		logger.InfoContext(ctx, "wire: postgres connected")
	default:
		deps.LedgerStore = ledger.NewMemoryStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.ReceiptStore = memory.NewReceiptStore()
		logger.WarnContext(ctx, "wire: using in-memory ledger, state is lost on restart")
	}

	// ── Locks, events, rate limits ──
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		bus := redis.NewSignalBus(rc)
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = bus
		deps.Journal = bus
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.Health["redis"] = rc.Ping
		logger.InfoContext(ctx, "wire: redis connected", slog.String("addr", cfg.Redis.Addr))
	} else {
		bus := local.NewSignalBus()
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = bus
		deps.Journal = bus
		deps.RateLimiter = local.NewRateLimiter()
	}

	// ── Blob storage ──
	if needsS3(cfg) {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), s3blob.NewReader(sc), deps.ReceiptStore, deps.AuditStore, logger)
		deps.Health["s3"] = sc.Health
		logger.InfoContext(ctx, "wire: s3 ready", slog.String("bucket", sc.Bucket()))
	}

	return deps, cleanup, nil
}
