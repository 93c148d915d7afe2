package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hlxstats/ingressd/internal/action"
	"github.com/hlxstats/ingressd/internal/archive"
	"github.com/hlxstats/ingressd/internal/config"
	"github.com/hlxstats/ingressd/internal/ids"
	"github.com/hlxstats/ingressd/internal/ingress"
	"github.com/hlxstats/ingressd/internal/ops"
	"github.com/hlxstats/ingressd/internal/publish"
	"github.com/hlxstats/ingressd/internal/ratelimit"
	"github.com/hlxstats/ingressd/internal/state"
	"github.com/hlxstats/ingressd/internal/throttle"
	"github.com/hlxstats/ingressd/internal/token"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var zl *zap.Logger
	if cfg.Env == "production" {
		zl, err = zap.NewProduction()
	} else {
		zl, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()
	logger := zl.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	pg, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatalw("Failed to create Postgres pool", "error", err)
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		logger.Fatalw("Failed to ping Postgres", "error", err)
	}

	// Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatalw("Invalid REDIS_URL", "error", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatalw("Failed to ping Redis", "error", err)
	}

	// ClickHouse archive (optional)
	var ch driver.Conn
	if cfg.ClickHouseURL != "" {
		chOpts, err := clickhouse.ParseDSN(cfg.ClickHouseURL)
		if err != nil {
			logger.Fatalw("Invalid CLICKHOUSE_URL", "error", err)
		}
		ch, err = clickhouse.Open(chOpts)
		if err != nil {
			logger.Fatalw("Failed to connect to ClickHouse", "error", err)
		}
		defer ch.Close()
		if err := ch.Ping(ctx); err != nil {
			logger.Fatalw("Failed to ping ClickHouse", "error", err)
		}
	} else {
		logger.Info("CLICKHOUSE_URL not set, raw-event archive disabled")
	}

	// Shared plumbing
	idGen := ids.New()
	warns := throttle.New(cfg.LogCooldown)
	stateMgr := state.NewManager()
	publisher := publish.NewRedisPublisher(rdb, cfg.EventStream, logger)

	// Authentication
	tokens := token.NewRepository(pg, cfg.LastUsedDebounce, logger)
	servers := token.NewServerRepository(pg, logger)
	limiter := ratelimit.New(cfg.RateLimitMaxAttempts, cfg.RateLimitWindow, cfg.RateLimitBlock)
	auth := token.NewAuthenticator(token.AuthenticatorConfig{
		Tokens:    tokens,
		Servers:   servers,
		Limiter:   limiter,
		Sink:      publisher,
		IDs:       idGen,
		Logger:    logger,
		TokenTTL:  cfg.TokenCacheTTL,
		SourceTTL: cfg.SourceCacheTTL,
		DBTimeout: cfg.DBTimeout,
	})

	// Action processing
	players := action.NewPlayerService(pg)
	match := action.NewMatchService(pg, stateMgr)
	games := action.NewGameCache(servers)
	actions := action.NewProcessor(action.ProcessorConfig{
		Catalog:  action.NewCatalog(pg),
		Log:      action.NewEventLog(pg),
		Players:  players,
		Match:    match,
		Maps:     action.NewMapResolver(nil, match),
		Games:    games,
		Notifier: publish.NewRewardNotifier(rdb, cfg.RewardStream),
		Warns:    warns,
		Logger:   logger,
	})

	// Archive
	var archiver *archive.Archiver
	if ch != nil {
		archiver = archive.New(archive.Config{
			Conn:          ch,
			BatchSize:     cfg.ArchiveBatchSize,
			FlushInterval: cfg.ArchiveFlushInterval,
			Logger:        logger,
		})
		archiver.Start(ctx)
	}

	// Ingress pipeline
	orch := ingress.NewOrchestrator(ingress.OrchestratorConfig{
		Auth:      auth,
		Publisher: publisher,
		Archive:   archiverOrNil(archiver),
		Actions:   actions,
		State:     stateMgr,
		IDs:       idGen,
		Logger:    logger,
		Warns:     warns,
	})
	pool := ingress.NewPool(cfg.WorkerCount, cfg.QueueSize, cfg.WorkerGrace, orch.Process, logger)
	pool.Start(ctx)

	receiver := ingress.NewReceiver(cfg.IngressHost, cfg.IngressPort, pool, logger)

	opsSrv := ops.New(ops.Config{
		Port:       cfg.OpsPort,
		Postgres:   pg,
		Redis:      rdb,
		ClickHouse: ch,
		Pool:       pool,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return receiver.Run(gctx) })
	g.Go(func() error { return opsSrv.Run(gctx) })

	logger.Infow("Ingress daemon started",
		"ingress", cfg.IngressHost, "port", cfg.IngressPort, "opsPort", cfg.OpsPort)

	if err := g.Wait(); err != nil {
		logger.Errorw("Daemon exiting with error", "error", err)
	}

	// The receiver stops first, then the pool drains in-flight datagrams,
	// then the archive flushes its tail.
	pool.Stop()
	if archiver != nil {
		archiver.Stop()
	}
	logger.Info("Shutdown complete")
}

// archiverOrNil avoids storing a typed-nil *Archiver in the Archiver
// interface field.
func archiverOrNil(a *archive.Archiver) ingress.Archiver {
	if a == nil {
		return nil
	}
	return a
}
