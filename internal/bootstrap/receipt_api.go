package bootstrap

import (
	"strings"
	"time"

	"receipt_server/adapter/in/http"
	"receipt_server/adapter/in/worker"
	"receipt_server/config"
	"receipt_server/infra/middleware"
	"receipt_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// NewAPI wires the HTTP server. When the scheduler is enabled in config
// it runs inside this process, so a single binary covers both the API
// and the periodic sync loop.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "receipts-api",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	scheduler := worker.NewSyncScheduler(
		deps.AccountRepo,
		deps.SyncService,
		deps.SyncStatusCache,
		cfg.SyncTickInterval,
		cfg.BackfillDays,
	)
	if cfg.SchedulerEnabled {
		scheduler.Start()
	} else {
		logger.Info("Sync scheduler disabled by config")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		Prefork:               false,
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		// go-json: faster JSON serialization than encoding/json
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:   1 * 1024 * 1024,
		Concurrency: 256 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
		DisableKeepalive:   false,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())         // 1. Panic recovery
	app.Use(middleware.RequestID())       // 2. Request ID
	app.Use(middleware.SecurityHeaders()) // 3. Security headers
	app.Use(middleware.RequestLogger())   // 4. Request logging

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS - AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health and metrics (no rate limiting)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis)
	healthHandler.Register(app)

	// API routes
	api := app.Group("/api/v1")

	// Backfill and reprocess fan out to Graph, keep them behind a limiter
	rateLimiter := middleware.NewRateLimiter(60, time.Minute)
	api.Use(rateLimiter.Handler())

	syncHandler := http.NewSyncHandler(
		scheduler,
		deps.SyncService,
		deps.Processor,
		deps.CredentialService,
		deps.MessageRepo,
		deps.ReceiptRepo,
	)
	syncHandler.Register(api)

	fullCleanup := func() {
		scheduler.Stop()
		cleanup()
	}
	return app, fullCleanup, nil
}
