// Command retention applies the backup retention tiers and evicts
// expired change events without going through the API server. Useful
// when the server is down or a one-off cleanup is needed.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go-crmsync/internal/config"
	"go-crmsync/internal/database"
	"go-crmsync/internal/events"
	"go-crmsync/internal/features/backup"
	"go-crmsync/internal/features/conflict"
	"go-crmsync/internal/features/sync"
	"go-crmsync/internal/features/webhook"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "list what would be removed without deleting anything")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(ctx)

	db := &database.MongodbDB{DB: client.Database(cfg.DBName)}
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, err := backup.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to open backup storage: %v", err)
	}

	backupRepo := backup.NewBackupRepository(db)
	syncRepo := sync.NewSyncRepository(db)
	webhookRepo := webhook.NewWebhookRepository(db)

	if *dryRun {
		backups, err := backupRepo.ListBackups(ctx, map[string]interface{}{}, 0)
		if err != nil {
			log.Fatalf("Failed to list backups: %v", err)
		}
		log.Printf("%d backups on record; retention tiers: %dd daily, %dd weekly, %dd monthly",
			len(backups), cfg.RetentionDaily, cfg.RetentionWeekly, cfg.RetentionMonthly)
		return
	}

	// A dispatcher with no subscribers; lifecycle events are dropped.
	dispatcher := events.NewDispatcher(logger)
	dispatcher.Start()
	defer dispatcher.Stop(ctx)

	conflicts := conflict.NewConflictService(conflict.NewConflictRepository(db), dispatcher, logger)
	backups := backup.NewBackupService(cfg, backupRepo, store, syncRepo, conflicts, dispatcher, logger)

	removed, err := backups.CleanupExpired(ctx)
	if err != nil {
		log.Fatalf("Backup cleanup failed: %v", err)
	}
	log.Printf("Removed %d expired backups", removed)

	cutoff := time.Now().AddDate(0, 0, -cfg.EventRetentionDays)
	evicted, err := webhookRepo.EvictEventsBefore(ctx, cutoff)
	if err != nil {
		log.Fatalf("Event eviction failed: %v", err)
	}
	log.Printf("Evicted %d change events received before %s", evicted, cutoff.Format(time.RFC3339))
}
