// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Checkpoint backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Model providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderEcho   = "echo"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string // empty disables the gRPC health server
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level

	Checkpoint  CheckpointConfig
	Model       ModelConfig
	Transcript  TranscriptConfig
	RateLimit   RateLimitConfig
	SessionTTL  time.Duration // 0 disables the idle-conversation sweeper
	SweepPeriod time.Duration

	CompressionThreshold int
	MaxRequestBodySize   int64
	TracingEnabled       bool
}

// CheckpointConfig selects and configures the conversation state store.
type CheckpointConfig struct {
	Backend        string
	PostgresURL    string
	PostgresSchema string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
}

// ModelConfig configures the language model client.
type ModelConfig struct {
	Provider         string
	Name             string
	APIBase          string
	APIKey           string
	Timeout          time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// TranscriptConfig controls audit transcript recording.
type TranscriptConfig struct {
	FileLogEnabled bool
	Dir            string
	QueueSize      int
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables. When CONFIG_FILE names
// a YAML file, its keys (same names as the environment variables) are used as
// fallbacks for variables that are not set.
func Load() (*Config, error) {
	src := envSource{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}
	return load(src)
}

func load(src envSource) (*Config, error) {
	provider := strings.ToLower(src.get("MODEL_PROVIDER", ProviderEcho))

	cfg := &Config{
		Port:        src.get("PORT", "8080"),
		GRPCPort:    src.get("GRPC_PORT", ""),
		FrontendURL: src.get("FRONTEND_URL", ""),
		DBPath:      src.get("DB_PATH", "./data/chat.db"),
		LogLevel:    parseLevel(src.get("LOG_LEVEL", "info")),
		Checkpoint: CheckpointConfig{
			Backend:        strings.ToLower(src.get("CHECKPOINT_BACKEND", BackendSQLite)),
			PostgresURL:    src.get("POSTGRES_URL", ""),
			PostgresSchema: src.get("POSTGRES_SCHEMA", "public"),
			RedisAddr:      src.get("REDIS_ADDR", "localhost:6379"),
			RedisPassword:  src.get("REDIS_PASSWORD", ""),
			RedisDB:        src.getInt("REDIS_DB", 0),
			RedisKeyPrefix: src.get("REDIS_KEY_PREFIX", "chatd:"),
		},
		Model: ModelConfig{
			Provider:         provider,
			Name:             src.get("MODEL_NAME", defaultModelName(provider)),
			APIBase:          src.get("MODEL_API_BASE", defaultAPIBase(provider)),
			APIKey:           src.get("MODEL_API_KEY", ""),
			Timeout:          src.getDuration("MODEL_TIMEOUT", 60*time.Second),
			MaxRetries:       src.getInt("MODEL_MAX_RETRIES", 3),
			RetryDelay:       src.getDuration("MODEL_RETRY_DELAY", 500*time.Millisecond),
			BreakerThreshold: src.getInt("MODEL_BREAKER_THRESHOLD", 5),
			BreakerTimeout:   src.getDuration("MODEL_BREAKER_TIMEOUT", 30*time.Second),
		},
		Transcript: TranscriptConfig{
			FileLogEnabled: src.getBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:            src.get("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize:      src.getInt("TRANSCRIPT_QUEUE_SIZE", 1000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: src.getInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    src.getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SessionTTL:           src.getDuration("SESSION_TTL", 30*24*time.Hour),
		SweepPeriod:          src.getDuration("SWEEP_INTERVAL", 5*time.Minute),
		CompressionThreshold: src.getInt("COMPRESSION_THRESHOLD", 3),
		MaxRequestBodySize:   int64(src.getInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		TracingEnabled:       src.getBool("TRACING_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Checkpoint.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.Checkpoint.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required for the postgres checkpoint backend")
		}
	case BackendRedis:
		if c.Checkpoint.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis checkpoint backend")
		}
	default:
		return fmt.Errorf("unknown CHECKPOINT_BACKEND %q", c.Checkpoint.Backend)
	}
	switch c.Model.Provider {
	case ProviderEcho:
	case ProviderOpenAI, ProviderGemini:
		if c.Model.APIKey == "" {
			return fmt.Errorf("MODEL_API_KEY is required for provider %q", c.Model.Provider)
		}
		if c.Model.APIBase == "" {
			return fmt.Errorf("MODEL_API_BASE cannot be empty")
		}
	default:
		return fmt.Errorf("unknown MODEL_PROVIDER %q", c.Model.Provider)
	}
	if c.Model.Timeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be > 0")
	}
	if c.CompressionThreshold <= 0 {
		return fmt.Errorf("COMPRESSION_THRESHOLD must be > 0")
	}
	if c.Transcript.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_QUEUE_SIZE must be > 0")
	}
	if c.Transcript.FileLogEnabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL cannot be negative")
	}
	if c.SessionTTL > 0 && c.SweepPeriod <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0 when SESSION_TTL is set")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultModelName(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-flash-latest"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "echo"
	}
}

func defaultAPIBase(provider string) string {
	switch provider {
	case ProviderGemini:
		return "https://generativelanguage.googleapis.com/v1beta/openai"
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	default:
		return ""
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envSource resolves keys from the process environment first, then from an
// optional YAML file.
type envSource struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (s envSource) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	value, ok := s.file[key]
	return value, ok
}

func (s envSource) get(key, fallback string) string {
	if value, ok := s.lookup(key); ok {
		return value
	}
	return fallback
}

func (s envSource) getBool(key string, fallback bool) bool {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func (s envSource) getInt(key string, fallback int) int {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func (s envSource) getDuration(key string, fallback time.Duration) time.Duration {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
