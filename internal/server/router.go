package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lucib3196/gestalt-questions-backend/internal/handlers"
)

type RouterConfig struct {
	CORSOrigins []string

	QuestionHandler *handlers.QuestionHandler
	CodegenHandler  *handlers.CodegenHandler
	RunHandler      *handlers.RunHandler
	SyncHandler     *handlers.SyncHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("gestalt-questions-backend"))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	// Questions
	questions := router.Group("/questions")
	{
		questions.POST("", cfg.QuestionHandler.Create)
		questions.POST("/filter", cfg.QuestionHandler.Filter)
		questions.GET("/:id", cfg.QuestionHandler.Get)
		questions.GET("/:id/full", cfg.QuestionHandler.GetFull)
		questions.PUT("/:id", cfg.QuestionHandler.Update)
		questions.DELETE("/:id", cfg.QuestionHandler.Delete)
		questions.GET("/:id/files", cfg.QuestionHandler.ListFiles)
		questions.GET("/:id/files/*name", cfg.QuestionHandler.ReadFile)
		questions.PUT("/:id/files/*name", cfg.QuestionHandler.SaveFile)
		questions.DELETE("/:id/files/*name", cfg.QuestionHandler.DeleteFile)

		// Sync protocol
		questions.POST("/check_unsync", cfg.SyncHandler.CheckUnsync)
		questions.POST("/sync_questions", cfg.SyncHandler.SyncQuestions)
		questions.POST("/prune_missing", cfg.SyncHandler.PruneMissing)
	}

	// Generation
	gen := router.Group("/code_generator/v5")
	{
		gen.POST("/text_gen", cfg.CodegenHandler.TextGen)
		gen.POST("/image_gen", cfg.CodegenHandler.ImageGen)
	}

	// Execution
	router.POST("/run_server/:qid/:runtime", cfg.RunHandler.Run)

	return router
}
