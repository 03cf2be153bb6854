package bootstrap

import (
	"strings"
	"time"

	"receipt_server/adapter/out/persistence"
	"receipt_server/adapter/out/provider/outlook"
	"receipt_server/config"
	"receipt_server/core/port/in"
	"receipt_server/core/port/out"
	"receipt_server/core/service/auth"
	"receipt_server/core/service/classification"
	"receipt_server/core/service/extract"
	"receipt_server/core/service/mailsync"
	"receipt_server/core/service/receipt"
	"receipt_server/infra/database"
	"receipt_server/pkg/cache"
	"receipt_server/pkg/logger"
	"receipt_server/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	AccountRepo    out.AccountRepositoryPort
	CredentialRepo out.CredentialRepositoryPort
	MessageRepo    out.MessageRepositoryPort
	ReceiptRepo    out.ReceiptRepositoryPort

	// Provider
	MailboxProvider out.MailboxProviderPort

	// Cache
	SyncStatusCache *cache.SyncStatusCache

	// Services
	CredentialService in.CredentialServicePort
	Processor         in.ReceiptProcessorPort
	SyncService       in.SyncServicePort
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	// Database (pgxpool)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	// Database (sqlx for the adapters)
	// simple_protocol avoids prepared statement conflicts behind PgBouncer
	sqlxURL := cfg.DatabaseURL
	if strings.Contains(sqlxURL, "?") {
		sqlxURL += "&default_query_exec_mode=simple_protocol"
	} else {
		sqlxURL += "?default_query_exec_mode=simple_protocol"
	}
	sqlDB, err := sqlx.Connect("pgx", sqlxURL)
	if err != nil {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		return nil, nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	metrics.RegisterPool("postgres", sqlDB.DB)
	logger.Info("Database connection successful (pool: max=%d, idle=%d)", 25, 10)

	// Redis (optional: sync status snapshots survive restarts when present)
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("Redis connection failed, sync status cache disabled: %v", err)
	} else {
		deps.Redis = redisClient
		cleanups = append(cleanups, func() { redisClient.Close() })
	}
	deps.SyncStatusCache = cache.NewSyncStatusCache(deps.Redis, 0)

	// Repositories
	deps.AccountRepo = persistence.NewAccountAdapter(sqlDB)
	deps.CredentialRepo = persistence.NewCredentialAdapter(sqlDB)
	deps.MessageRepo = persistence.NewMessageAdapter(sqlDB)
	deps.ReceiptRepo = persistence.NewReceiptAdapter(sqlDB)

	// Outlook provider (Microsoft Graph)
	deps.MailboxProvider = outlook.NewMailboxClientWithTimeout(
		time.Duration(cfg.GraphTimeoutSec) * time.Second,
	)

	// Services
	deps.CredentialService = auth.NewCredentialService(
		deps.AccountRepo,
		deps.CredentialRepo,
		cfg.MicrosoftClientID,
		cfg.MicrosoftClientSecret,
		cfg.MicrosoftTenantID,
	)
	deps.Processor = receipt.NewProcessor(
		extract.NewReceiptExtractor(),
		classification.NewReceiptClassifier(),
		deps.ReceiptRepo,
		deps.MessageRepo,
	)
	deps.SyncService = mailsync.NewSyncService(
		deps.CredentialService,
		deps.MailboxProvider,
		deps.MessageRepo,
		deps.Processor,
		cfg.GraphPageSize,
	)

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	return deps, cleanup, nil
}
