package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lucib3196/gestalt-questions-backend/internal/config"
	"github.com/lucib3196/gestalt-questions-backend/internal/db"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/services"
	"github.com/lucib3196/gestalt-questions-backend/internal/storage"
)

const usage = `usage: qsync <command>

commands:
  check   classify every storage prefix without changing anything
  sync    adopt orphaned prefixes into the database
  prune   delete database rows whose storage is gone
`

func main() {
	if len(os.Args) != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	var store storage.Store
	switch cfg.StorageBackend {
	case config.BackendCloud:
		store, err = storage.NewGCSStore(ctx, log, cfg.BucketName, cfg.StorageBasePath)
	default:
		store, err = storage.NewLocalStore(log, cfg.StorageBasePath)
	}
	if err != nil {
		log.Error("Could not init storage backend", "error", err)
		os.Exit(1)
	}

	questionService := services.NewQuestionService(log, thePG, store, cfg.BucketName)
	syncService := services.NewSyncService(log, thePG, store, questionService)

	var report any
	switch command {
	case "check":
		entries, cerr := syncService.CheckUnsync(ctx)
		if cerr != nil {
			log.Error("Check failed", "error", cerr)
			os.Exit(1)
		}
		report = entries
	case "sync":
		out, serr := syncService.SyncQuestions(ctx)
		if serr != nil {
			log.Error("Sync failed", "error", serr)
			os.Exit(1)
		}
		report = out
	case "prune":
		out, perr := syncService.PruneMissing(ctx)
		if perr != nil {
			log.Error("Prune failed", "error", perr)
			os.Exit(1)
		}
		report = out
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	text, err := services.MarshalReport(report)
	if err != nil {
		log.Error("Marshal report failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(text)
}
