// Package config loads process configuration from the environment, one
// env var per field with an inline default.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Connector (DATABASE_URL_*)
	DatabaseURL    string
	DatabaseDriver string // "mysql" or "postgres"

	// Cache Layer backend
	RedisURL string

	// LM endpoint
	LiteLLMAPIBase   string
	LiteLLMAuthToken string
	LiteLLMModel     string

	// Which registered llm.Provider backs the LM Client: "http" (default,
	// raw OpenAI-compatible chat completions) or "langchain"
	// (langchaingo-mediated).
	LLMProvider string

	// Per-stage temperatures
	GenerationTemperature float64
	SummaryTemperature    float64
	SuggestionTemperature float64

	// Cache policy
	EnableLLMCache bool
	LLMCacheTTL    time.Duration
	QueryCacheTTL  time.Duration
	SchemaCacheTTL time.Duration

	// Dispatcher limits
	TaskTimeLimit     time.Duration
	TaskSoftTimeLimit time.Duration
	MaxRetries        int

	// Worker tuning
	WorkerPrefetchMultiplier int
	WorkerMaxTasksPerChild   int
	WorkerConcurrency        int

	// Conversation memory
	SessionTTL   time.Duration
	HistoryLimit int

	// LM rate limiter
	APIRateLimit int // requests per minute

	// Connector pool
	DBPoolSize    int
	DBMaxOverflow int
	DBPoolTimeout time.Duration
	DBPoolRecycle time.Duration

	// AMQP mirroring (optional; empty RabbitURL disables it)
	RabbitURL   string
	RabbitQueue string
}

func Load() Config {
	return Config{
		DatabaseURL:    getEnv("DATABASE_URL", "app:apppass@tcp(127.0.0.1:3306)/queryengine?charset=utf8mb4&parseTime=true&loc=Local"),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "mysql"),

		RedisURL: getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		LiteLLMAPIBase:   getEnv("LITELLM_API_BASE", "http://localhost:4000"),
		LiteLLMAuthToken: getEnv("LITELLM_AUTH_HEADER", ""),
		LiteLLMModel:     getEnv("LITELLM_MODEL", "gpt-4o-mini"),
		LLMProvider:      getEnv("LLM_PROVIDER", "http"),

		GenerationTemperature: getFloat("GENERATION_TEMPERATURE", 0),
		SummaryTemperature:    getFloat("SUMMARY_TEMPERATURE", 0.3),
		SuggestionTemperature: getFloat("SUGGESTION_TEMPERATURE", 0.5),

		EnableLLMCache: getBool("ENABLE_LLM_CACHE", true),
		LLMCacheTTL:    getDuration("LLM_CACHE_TTL", 5*time.Minute),
		QueryCacheTTL:  getDuration("QUERY_CACHE_TTL", 5*time.Minute),
		SchemaCacheTTL: getDuration("SCHEMA_CACHE_TTL", time.Hour),

		TaskTimeLimit:     getDuration("TASK_TIME_LIMIT", 60*time.Second),
		TaskSoftTimeLimit: getDuration("TASK_SOFT_TIME_LIMIT", 50*time.Second),
		MaxRetries:        getInt("MAX_RETRIES", 3),

		WorkerPrefetchMultiplier: getInt("WORKER_PREFETCH_MULTIPLIER", 4),
		WorkerMaxTasksPerChild:   getInt("WORKER_MAX_TASKS_PER_CHILD", 1000),
		WorkerConcurrency:        getInt("WORKER_CONCURRENCY", 4),

		SessionTTL:   getDuration("SESSION_TTL", 24*time.Hour),
		HistoryLimit: getInt("HISTORY_LIMIT", 10),

		APIRateLimit: getInt("API_RATE_LIMIT", 60),

		DBPoolSize:    getInt("DB_POOL_SIZE", 5),
		DBMaxOverflow: getInt("DB_MAX_OVERFLOW", 10),
		DBPoolTimeout: getDuration("DB_POOL_TIMEOUT", 30*time.Second),
		DBPoolRecycle: getDuration("DB_POOL_RECYCLE", time.Hour),

		RabbitURL:   getEnv("RABBIT_URL", ""),
		RabbitQueue: getEnv("RABBIT_QUEUE", "queryengine_jobs"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
