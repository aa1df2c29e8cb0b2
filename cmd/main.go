package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lucib3196/gestalt-questions-backend/internal/clients/openai"
	"github.com/lucib3196/gestalt-questions-backend/internal/clients/vision"
	"github.com/lucib3196/gestalt-questions-backend/internal/codegen"
	"github.com/lucib3196/gestalt-questions-backend/internal/config"
	"github.com/lucib3196/gestalt-questions-backend/internal/db"
	"github.com/lucib3196/gestalt-questions-backend/internal/handlers"
	"github.com/lucib3196/gestalt-questions-backend/internal/observability"
	"github.com/lucib3196/gestalt-questions-backend/internal/platform/logger"
	"github.com/lucib3196/gestalt-questions-backend/internal/retriever"
	"github.com/lucib3196/gestalt-questions-backend/internal/runner"
	"github.com/lucib3196/gestalt-questions-backend/internal/server"
	"github.com/lucib3196/gestalt-questions-backend/internal/services"
	"github.com/lucib3196/gestalt-questions-backend/internal/storage"
)

func main() {
	ctx := context.Background()

	// Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "gestalt-questions-backend",
		Environment: cfg.LogMode,
	})
	if shutdownOTel != nil {
		defer shutdownOTel(ctx)
	}

	// Postgres
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

	// Storage
	log.Info("Setting up storage backend...", "backend", string(cfg.StorageBackend))
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

	// LLM client
	openaiClient, err := openai.New(log, openai.Options{
		DefaultModel: cfg.ModelBase,
		EmbedModel:   cfg.EmbedModel,
	})
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	// Example retriever (optional)
	var ret retriever.Retriever
	if cfg.ExampleCSVPath != "" {
		ret, err = retriever.NewFromCSV(ctx, log, openaiClient, cfg.ExampleCSVPath, cfg.QuestionVStorePath)
		if err != nil {
			log.Warn("Could not init example retriever (continuing without examples)", "error", err)
			ret = nil
		}
	}

	// OCR (optional)
	var ocr vision.Annotator
	if vision.Enabled() {
		ocr, err = vision.New(ctx, log)
		if err != nil {
			log.Warn("Could not init Vision OCR (continuing without hints)", "error", err)
			ocr = nil
		} else {
			defer ocr.Close()
		}
	}

	// Generation pipeline
	pipeline, err := codegen.New(log, openaiClient, ret, ocr, codegen.Options{
		ModelFast:        cfg.ModelFast,
		ModelBase:        cfg.ModelBase,
		ModelLongContext: cfg.ModelLongContext,
		NumExamples:      cfg.NumSearchQueries,
	})
	if err != nil {
		log.Error("Could not build generation pipeline", "error", err)
		os.Exit(1)
	}

	// Runner
	programRunner := runner.New(log, runner.Options{
		NodeBin:   cfg.NodeBin,
		PythonBin: cfg.PythonBin,
		Timeout:   cfg.RunnerTimeout,
	})

	// Services
	log.Info("Setting up services from main...")
	questionService := services.NewQuestionService(log, thePG, store, cfg.BucketName)
	syncService := services.NewSyncService(log, thePG, store, questionService)
	codegenService := services.NewCodegenService(log, pipeline, questionService)
	runService := services.NewRunService(log, questionService, programRunner)

	// Handlers
	log.Info("Setting up handlers from main...")
	questionHandler := handlers.NewQuestionHandler(log, questionService)
	codegenHandler := handlers.NewCodegenHandler(log, codegenService)
	runHandler := handlers.NewRunHandler(log, runService)
	syncHandler := handlers.NewSyncHandler(log, syncService)

	router := server.NewRouter(server.RouterConfig{
		CORSOrigins:     cfg.CORSOrigins,
		QuestionHandler: questionHandler,
		CodegenHandler:  codegenHandler,
		RunHandler:      runHandler,
		SyncHandler:     syncHandler,
	})

	addr := ":" + cfg.HTTPPort
	log.Info("Starting HTTP server", "addr", addr)
	if err := router.Run(addr); err != nil {
		log.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}
