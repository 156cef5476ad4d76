// Package config loads the daemon's configuration from the process
// environment, following the agent runtime's layered-override shape
// but with environment variables as the primary (not secondary)
// source, per the deployment model of a single-process daemon with no
// per-project config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultSystemPrompt = "You are a helpful assistant."

	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 1.0
	defaultTitleModel  = ""

	defaultHealthPort = 8080

	defaultMemoryTopK               = 10
	defaultMemorySimilarityThreshold = 0.35
	defaultMemoryDedupThreshold      = 0.85

	defaultEnabledTools = "save_memory,web_search,url_fetch,wikipedia_search,tts_speak,tts_list_voices"
)

// Config is assembled once at process startup. There is no hot-reload:
// unlike the agent runtime's fsnotify-driven project config, a chat
// daemon has no project directory to watch.
type Config struct {
	// Transport
	TelegramToken string

	// Persistence
	DatabaseURL string

	// LLM defaults, used to seed a UserSettings row lazily created on
	// a user's first interaction.
	DefaultAPIKey      string
	DefaultBaseURL     string
	DefaultModel       string
	DefaultTemperature float64
	DefaultSystemPrompt string
	DefaultTitleModel  string

	// Embedding provider (may be empty: embeddings are then skipped
	// entirely, per §4.8 step 1).
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	// Memory thresholds.
	MemoryTopK                int
	MemorySimilarityThreshold float64
	MemoryDedupThreshold      float64

	// Enabled tool set (comma-separated names), the default for newly
	// created UserSettings rows.
	EnabledTools []string

	// Tool provider credentials.
	SearchBrowserlessURL string
	SearchBrowserlessKey string
	SearchOllamaURL      string
	FetchReaderEndpoint  string
	TTSEndpoint          string
	TTSDefaultVoice      string

	// Health endpoint.
	HealthPort int
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first (if present) for local convenience;
// real process environment variables always take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		DefaultAPIKey:       os.Getenv("LLM_API_KEY"),
		DefaultBaseURL:      os.Getenv("LLM_BASE_URL"),
		DefaultModel:        getEnvOrDefault("LLM_MODEL", defaultModel),
		DefaultTemperature:  getEnvFloatOrDefault("LLM_TEMPERATURE", defaultTemperature),
		DefaultSystemPrompt: getEnvOrDefault("LLM_SYSTEM_PROMPT", defaultSystemPrompt),
		DefaultTitleModel:   getEnvOrDefault("LLM_TITLE_MODEL", defaultTitleModel),

		EmbeddingAPIKey:  os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingBaseURL: os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingModel:   getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),

		MemoryTopK:                getEnvIntOrDefault("MEMORY_TOP_K", defaultMemoryTopK),
		MemorySimilarityThreshold: getEnvFloatOrDefault("MEMORY_SIMILARITY_THRESHOLD", defaultMemorySimilarityThreshold),
		MemoryDedupThreshold:      getEnvFloatOrDefault("MEMORY_DEDUP_THRESHOLD", defaultMemoryDedupThreshold),

		EnabledTools: splitNonEmpty(getEnvOrDefault("ENABLED_TOOLS", defaultEnabledTools), ","),

		SearchBrowserlessURL: os.Getenv("SEARCH_BROWSERLESS_URL"),
		SearchBrowserlessKey: os.Getenv("SEARCH_BROWSERLESS_KEY"),
		SearchOllamaURL:      os.Getenv("SEARCH_OLLAMA_URL"),
		FetchReaderEndpoint:  os.Getenv("FETCH_READER_ENDPOINT"),
		TTSEndpoint:          os.Getenv("TTS_ENDPOINT"),
		TTSDefaultVoice:      os.Getenv("TTS_DEFAULT_VOICE"),

		HealthPort: getEnvIntOrDefault("HEALTH_PORT", defaultHealthPort),
	}

	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("config: TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
