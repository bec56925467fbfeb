package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"medlit-rag/internal/ai"
	"medlit-rag/internal/config"
	"medlit-rag/internal/logger"
	"medlit-rag/internal/queue"
	"medlit-rag/internal/search"
	"medlit-rag/internal/telemetry"
	"medlit-rag/middleware"
	"medlit-rag/routes"
	"medlit-rag/services"
)

// rehydrateInterval is how often the API process re-reads chunk records from
// Mongo, picking up documents the worker ingested since the last pass.
const rehydrateInterval = 2 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.Init(cfg.GinMode != "release")

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("medlit-rag-api", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to initialize tracer:", err)
		}
		defer shutdown()
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	// Connect to Redis
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Gemini backs query embedding; generation happens in the worker.
	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.EmbeddingsModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer geminiClient.Close()

	store := services.NewDocumentStore(mongoClient, cfg.DBName)
	cache := services.NewChunkCache(rdb, cfg.CacheTTL)

	vectorIndex, err := search.NewVectorIndex()
	if err != nil {
		log.Fatal("Failed to create vector index:", err)
	}
	lexicalIndex := search.NewLexicalIndex()

	scorer, err := services.NewHybridScorer(services.ScorerConfig{
		Alpha:        cfg.HybridAlpha,
		MinRelevance: cfg.MinRelevanceScore,
		TopK:         cfg.TopK,
		RerankTopK:   cfg.RerankTopK,
	}, nil)
	if err != nil {
		log.Fatal("Invalid scoring configuration:", err)
	}

	retriever := services.NewRetriever(store, vectorIndex, lexicalIndex, scorer, geminiClient, cfg.TopK)

	// Hydrate the in-process indexes from Mongo. An empty collection is fine;
	// a failure here means queries cannot be answered.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if _, err := retriever.Rehydrate(ctx); err != nil {
		cancel()
		log.Fatal("Failed to hydrate retrieval indexes:", err)
	}
	cancel()

	// Periodic rehydration keeps this process consistent with worker-side
	// ingestion.
	stopRehydrate := make(chan struct{})
	go func() {
		ticker := time.NewTicker(rehydrateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopRehydrate:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				if _, err := retriever.Rehydrate(ctx); err != nil {
					logger.Error("periodic rehydration failed", "error", err)
				}
				cancel()
			}
		}
	}()
	defer close(stopRehydrate)

	// Asynq client for enqueueing ingestion tasks
	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("medlit-rag-api"))
	}

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"timestamp":      time.Now(),
			"indexed_chunks": vectorIndex.Count(),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/documents", routes.HandleDocumentIngest(cfg, store, queueClient))
		api.GET("/documents/:id", routes.HandleDocumentStatus(store))
		api.GET("/documents/:id/chunks", routes.HandleDocumentChunks(store, cache))
		api.POST("/query", routes.HandleQuery(retriever, cache))
		api.POST("/admin/reindex", routes.HandleReindex(retriever, cache))
	}

	// Warm the chunk caches in the background on startup.
	if _, err := queueClient.Enqueue(queue.NewWarmCacheTask()); err != nil {
		logger.Warn("failed to enqueue cache warm task", "error", err)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("server exited")
}
