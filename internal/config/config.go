package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreSurrealDB = "surrealdb"
	StoreSQLite    = "sqlite"
)

// Embedding providers.
const (
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
)

// Blob and queue backends.
const (
	BlobLocal  = "local"
	BlobGCS    = "gcs"
	QueueLocal = "local"
	QueueRedis = "redis"
)

// Config holds all configuration values.
type Config struct {
	Store string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// SQLite
	SQLitePath string

	// Embedding provider. Empty model and zero dimension select the
	// provider's default model.
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int
	EmbedTimeout   time.Duration
	AWSRegion      string
	GeminiAPIKey   string
	OllamaHost     string
	OpenAIAPIKey   string

	// Optional PCA reduction service
	PCAURL       string
	PCADimension int

	// Shared embedding gate
	RateLimit        int
	RateWindow       time.Duration
	EmbedConcurrency int

	// Ingestion
	PauseBackoff   time.Duration
	JobLease       time.Duration
	MaxBatchSize   int
	MaxBatchTokens int
	Tokenizer      string

	// Blob storage
	Blob      string
	BlobDir   string
	GCSBucket string

	// Task queue. The redis queue also shares the embedding gate between
	// instances under RedisGateKey.
	Queue         string
	RedisAddr     string
	RedisQueueKey string
	RedisGateKey  string

	// Server / client
	ServerPort    string
	ServerURL     string
	ClientTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Retrieval
	RandomColdStart bool
}

// Load reads configuration from environment variables.
// A .env file in the working directory and the YAML file named by ECHOES_CONFIG
// are consulted first; real environment variables always win.
func Load() Config {
	_ = godotenv.Load()
	if path := os.Getenv("ECHOES_CONFIG"); path != "" {
		if err := loadYAML(path); err != nil {
			slog.Warn("failed to load config file", "path", path, "error", err)
		}
	}

	return Config{
		Store: getEnv("ECHOES_STORE", StoreSurrealDB),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "echoes"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "echoes"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		SQLitePath: getEnv("SQLITE_PATH", "echoes.db"),

		EmbedProvider:  getEnv("ECHOES_EMBED_PROVIDER", ProviderBedrock),
		EmbedModel:     getEnv("ECHOES_EMBED_MODEL", ""),
		EmbedDimension: getEnvInt("ECHOES_EMBED_DIMENSION", 0),
		EmbedTimeout:   getEnvDuration("ECHOES_EMBED_TIMEOUT", 30*time.Second),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),

		PCAURL:       getEnv("PCA_URL", ""),
		PCADimension: getEnvInt("PCA_DIMENSION", 256),

		RateLimit:        getEnvInt("ECHOES_RATE_LIMIT", 100),
		RateWindow:       getEnvDuration("ECHOES_RATE_WINDOW", time.Minute),
		EmbedConcurrency: getEnvInt("ECHOES_EMBED_CONCURRENCY", 1),

		PauseBackoff:   getEnvDuration("ECHOES_PAUSE_BACKOFF", 90*time.Second),
		JobLease:       getEnvDuration("ECHOES_JOB_LEASE", 2*time.Minute),
		MaxBatchSize:   getEnvInt("ECHOES_MAX_BATCH_SIZE", 96),
		MaxBatchTokens: getEnvInt("ECHOES_MAX_BATCH_TOKENS", 32000),
		Tokenizer:      getEnv("ECHOES_TOKENIZER", "cl100k_base"),

		Blob:      getEnv("ECHOES_BLOB", BlobLocal),
		BlobDir:   getEnv("ECHOES_BLOB_DIR", "blobs"),
		GCSBucket: getEnv("GCS_BUCKET", ""),

		Queue:         getEnv("ECHOES_QUEUE", QueueLocal),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisQueueKey: getEnv("REDIS_QUEUE_KEY", "echoes:process"),
		RedisGateKey:  getEnv("REDIS_GATE_KEY", "echoes:gate"),

		ServerPort:    getEnv("ECHOES_SERVER_PORT", "8484"),
		ServerURL:     getEnv("ECHOES_SERVER_URL", "http://localhost:8484"),
		ClientTimeout: getEnvDuration("ECHOES_CLIENT_TIMEOUT", 2*time.Minute),

		LogFile:  getEnv("ECHOES_LOG_FILE", "/tmp/echoes.log"),
		LogLevel: parseLogLevel(getEnv("ECHOES_LOG_LEVEL", "INFO")),

		RandomColdStart: getEnv("ECHOES_RANDOM_COLD_START", "false") == "true",
	}
}

// loadYAML sets every key of a flat YAML map as an environment variable
// unless that variable is already set.
func loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	for key, val := range values {
		key = strings.ToUpper(key)
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", val)
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", val)
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
