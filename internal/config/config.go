package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Redis (chunk cache and task queue broker)
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Gemini (generation + embeddings)
	GeminiAPIKey    string
	GeminiModel     string
	EmbeddingsModel string
	GeminiTier      string

	// Chunking
	BaseChunkSize int
	ChunkOverlap  int
	MinChunkSize  int
	Separators    []string

	// Contextual augmentation
	ContextEnabled bool
	ContextTokens  int

	// Retrieval
	HybridAlpha       float64
	MinRelevanceScore float64
	TopK              int
	RerankTopK        int

	// Upstream extraction quality gate
	ConfidenceThreshold float64

	// Vector index
	VectorDimensions int

	// External call discipline
	MaxConcurrentCalls int
	CallTimeout        time.Duration
	MaxRetries         int

	// Ingestion limits
	MaxDocumentBytes int64

	// Query result cache
	CacheTTL time.Duration

	// Telemetry
	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/medlit_rag"),
		DBName:      getEnv("DB_NAME", "medlit_rag"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		GeminiTier:      getEnv("GEMINI_TIER", "free"),

		BaseChunkSize: getEnvInt("BASE_CHUNK_SIZE", 1000),
		ChunkOverlap:  getEnvInt("CHUNK_OVERLAP", 200),
		MinChunkSize:  getEnvInt("MIN_CHUNK_SIZE", 100),
		Separators:    parseSeparators(getEnv("CHUNK_SEPARATORS", "")),

		ContextEnabled: getEnvBool("CONTEXT_ENABLED", true),
		ContextTokens:  getEnvInt("CONTEXT_TOKENS", 75),

		HybridAlpha:       getEnvFloat64("HYBRID_ALPHA", 0.5),
		MinRelevanceScore: getEnvFloat64("MIN_RELEVANCE_SCORE", 0.7),
		TopK:              getEnvInt("TOP_K", 10),
		RerankTopK:        getEnvInt("RERANK_TOP_K", 5),

		ConfidenceThreshold: getEnvFloat64("CONFIDENCE_THRESHOLD", 0.7),

		VectorDimensions: getEnvInt("VECTOR_DIM", 768),

		MaxConcurrentCalls: getEnvInt("MAX_CONCURRENT_CALLS", 4),
		CallTimeout:        time.Duration(getEnvInt("CALL_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries:         getEnvInt("MAX_RETRIES", 3),

		MaxDocumentBytes: getEnvInt64("MAX_DOCUMENT_BYTES", 52428800), // 50MB

		CacheTTL: time.Duration(getEnvInt("CACHE_TTL_SECONDS", 3600)) * time.Second,

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the invalid-configuration policy: combinations that would
// corrupt chunking or scoring are fatal at startup, before any document is
// processed.
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}
	if c.BaseChunkSize <= 0 {
		return fmt.Errorf("invalid configuration: BASE_CHUNK_SIZE must be positive, got %d", c.BaseChunkSize)
	}
	if c.MinChunkSize <= 0 || c.MinChunkSize > c.BaseChunkSize {
		return fmt.Errorf("invalid configuration: MIN_CHUNK_SIZE %d must be in 1..BASE_CHUNK_SIZE (%d)", c.MinChunkSize, c.BaseChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.BaseChunkSize {
		return fmt.Errorf("invalid configuration: CHUNK_OVERLAP %d must be in 0..BASE_CHUNK_SIZE-1 (%d)", c.ChunkOverlap, c.BaseChunkSize-1)
	}
	if c.ContextTokens <= 0 {
		return fmt.Errorf("invalid configuration: CONTEXT_TOKENS must be positive, got %d", c.ContextTokens)
	}
	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("invalid configuration: HYBRID_ALPHA must be between 0 and 1, got %v", c.HybridAlpha)
	}
	if c.MinRelevanceScore < 0 || c.MinRelevanceScore > 1 {
		return fmt.Errorf("invalid configuration: MIN_RELEVANCE_SCORE must be between 0 and 1, got %v", c.MinRelevanceScore)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("invalid configuration: TOP_K must be positive, got %d", c.TopK)
	}
	if c.RerankTopK <= 0 || c.RerankTopK > c.TopK {
		return fmt.Errorf("invalid configuration: RERANK_TOP_K %d must be in 1..TOP_K (%d)", c.RerankTopK, c.TopK)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid configuration: CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", c.ConfidenceThreshold)
	}
	if c.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("invalid configuration: MAX_CONCURRENT_CALLS must be positive, got %d", c.MaxConcurrentCalls)
	}
	return nil
}

// parseSeparators decodes the CHUNK_SEPARATORS env value: patterns joined by
// "|" with literal \n escapes, e.g. `\n\n|\n|. | `. Empty means use the
// built-in priority list.
func parseSeparators(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	seps := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ReplaceAll(p, `\n`, "\n")
		p = strings.ReplaceAll(p, `\t`, "\t")
		if p != "" {
			seps = append(seps, p)
		}
	}
	return seps
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
