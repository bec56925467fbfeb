package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"medlit-rag/internal/ai"
	"medlit-rag/internal/config"
	"medlit-rag/internal/logger"
	"medlit-rag/internal/queue"
	"medlit-rag/internal/telemetry"
	"medlit-rag/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.Init(cfg.GinMode != "release")

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("medlit-rag-worker", cfg.OTLPEndpoint)
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
	defer mongoClient.Disconnect(context.Background())

	// Connect to Redis for the chunk cache
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// Initialize Gemini client
	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.EmbeddingsModel, cfg.GeminiTier)
	if err != nil {
		log.Fatal("Failed to initialize Gemini client:", err)
	}
	defer geminiClient.Close()

	store := services.NewDocumentStore(mongoClient, cfg.DBName)
	cache := services.NewChunkCache(rdb, cfg.CacheTTL)

	var separators []services.Separator
	if len(cfg.Separators) > 0 {
		separators = services.SeparatorsFromPatterns(cfg.Separators)
	}

	pipeline, err := services.NewPipeline(services.PipelineConfig{
		Size: services.SizeConfig{
			BaseChunkSize: cfg.BaseChunkSize,
			ChunkOverlap:  cfg.ChunkOverlap,
			MinChunkSize:  cfg.MinChunkSize,
		},
		Separators:     separators,
		ContextTokens:  cfg.ContextTokens,
		ContextEnabled: cfg.ContextEnabled,
		MaxConcurrent:  cfg.MaxConcurrentCalls,
		CallTimeout:    cfg.CallTimeout,
		MaxRetries:     cfg.MaxRetries,
	}, geminiClient, geminiClient)
	if err != nil {
		log.Fatal("Invalid pipeline configuration:", err)
	}

	// Redis options for Asynq
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6, // 60% of workers
				"default":  3, // 30% of workers
				"low":      1, // 10% of workers
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create task processor
	processor := queue.NewTaskProcessor(store, pipeline, cache)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocument, processor.HandleIngest)
	mux.HandleFunc(queue.TaskWarmCache, processor.HandleWarmCache)

	logger.Info("starting ingestion worker",
		"concurrency", 10,
		"queues", "critical(6), default(3), low(1)",
		"redis", redisOpt.Addr)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
