package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go-crmsync/internal/cache"
	common_api "go-crmsync/internal/common/api"
	"go-crmsync/internal/config"
	"go-crmsync/internal/database"
	"go-crmsync/internal/events"
	"go-crmsync/internal/features/backup"
	"go-crmsync/internal/features/conflict"
	"go-crmsync/internal/features/report"
	"go-crmsync/internal/features/sync"
	"go-crmsync/internal/features/system"
	"go-crmsync/internal/features/webhook"
	"go-crmsync/internal/logger"
	"go-crmsync/internal/middleware"
	"go-crmsync/internal/ratelimit"
	"go-crmsync/internal/remote"
	"go-crmsync/internal/scheduler"
	"go-crmsync/pkg/utils"

	_ "go-crmsync/docs" // Import swagger docs

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Use custom CORS middleware
	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),    // Cast to Interface
		fx.ResultTags(`group:"routes"`), // Add to Group
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	log.Printf("Registering %d routes...\n", len(routes))
	for _, route := range routes {
		route.Setup(app)
	}
	log.Println("All routes registered successfully")
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// RunDispatcher starts the event dispatch loop and drains it on shutdown.
func RunDispatcher(lc fx.Lifecycle, dispatcher *events.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			dispatcher.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return dispatcher.Stop(ctx)
		},
	})
}

// InitializeIndexes ensures the cache TTL index exists before locks are taken
func InitializeIndexes(lc fx.Lifecycle, c cache.Cache) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			mc, ok := c.(*cache.MongoCache)
			if !ok {
				return nil
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := mc.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure cache indexes: %v", err)
				}
			}()
			return nil
		},
	})
}

// RunIngestion registers webhook subscriptions on start and drains open
// batches on shutdown so no accepted event is lost.
func RunIngestion(lc fx.Lifecycle, webhooks webhook.WebhookService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := webhooks.RegisterSubscriptions(ctx); err != nil {
					logger.Warn("webhook subscription registration failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return webhooks.Flush(ctx)
		},
	})
}

// RunScheduler wires the recurring jobs: delta sync passes, nightly
// backups with retention cleanup, and ingest log eviction.
func RunScheduler(lc fx.Lifecycle, sched scheduler.Scheduler, cfg *config.Config, syncService sync.SyncService, backups backup.BackupService, webhooks webhook.WebhookService, logger *zap.Logger) error {
	if err := sched.Schedule("sync.scheduled", cfg.SyncSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		syncService.RunScheduled(ctx)
	}); err != nil {
		return err
	}

	if err := sched.Schedule("backup.scheduled", cfg.BackupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		backups.RunScheduled(ctx)
		if n, err := webhooks.EvictExpired(ctx); err != nil {
			logger.Warn("event eviction failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("evicted expired events", zap.Int64("count", n))
		}
	}); err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sched.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
	return nil
}

// @title           CRM Sync API
// @version         1.0
// @description     Webhook ingestion, delta sync and backup service for a remote CRM.

// @host            localhost:8080
// @BasePath        /
func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Shared infrastructure
			cache.NewMongoCache,
			events.NewDispatcher,
			func(c cache.Cache, cfg *config.Config) *ratelimit.Limiter {
				return ratelimit.NewLimiter(c, cfg.RateLimitPerMinute)
			},
			remote.NewHTTPClient,
			func() scheduler.Scheduler { return scheduler.NewCronScheduler() },
			backup.NewStorage,

			// Initialize Repository
			conflict.NewConflictRepository,
			webhook.NewWebhookRepository,
			sync.NewSyncRepository,
			backup.NewBackupRepository,

			// Initialize Service
			conflict.NewConflictService,
			fx.Annotate(
				sync.NewSyncService,
				fx.As(new(sync.SyncService)),
				fx.As(new(webhook.EventApplier)),
			),
			webhook.NewWebhookService,
			backup.NewBackupService,
			report.NewReportService,

			// Interface Adapters to satisfy Fx
			func(r sync.SyncRepository) backup.RecordStore { return r },

			// Initialize Controller
			conflict.NewConflictController,
			webhook.NewWebhookController,
			sync.NewSyncController,
			backup.NewBackupController,
			report.NewReportController,
			system.NewSystemController,
			system.NewWebSocketController,

			// Initialize API Routes
			AsRoute(conflict.NewConflictApi),
			AsRoute(webhook.NewWebhookApi),
			AsRoute(sync.NewSyncApi),
			AsRoute(backup.NewBackupApi),
			AsRoute(report.NewReportApi),
			AsRoute(system.NewSystemApi),
			AsRoute(system.NewSwaggerApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			func(cfg *config.Config) { utils.SetSecret(cfg.JWTSecret) },

			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,
			RunDispatcher,
			InitializeIndexes,
			RunIngestion,
			RunScheduler,
		),
	)

	app.Run()
}
