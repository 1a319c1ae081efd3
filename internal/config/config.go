package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the vdogen server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	AI       AIConfig
	Storage  StorageConfig
	Render   RenderConfig
	Pipeline PipelineConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	MaxTokens        int
	SystemPrompt     string
	SeedPrompt       string
	InferenceTimeout time.Duration
	Anthropic        AnthropicConfig
	Gemini           GeminiConfig
}

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type StorageConfig struct {
	Backend         string
	Bucket          string
	CredentialsFile string
}

type RenderConfig struct {
	Namespace        string
	Image            string
	KeySecret        string
	TTLAfterFinished time.Duration
	ActiveDeadline   time.Duration
	BackoffLimit     int
	Kubeconfig       string
}

// PipelineConfig controls cache lifetimes, queue delivery and polling cadence.
type PipelineConfig struct {
	StatusTTL        time.Duration
	InitialPollDelay time.Duration
	PollInterval     time.Duration
	PollGrace        time.Duration
	QueueLease       time.Duration
	MaxDeliveries    int
	QueuePoll        time.Duration
	Concurrency      int
}

type AuthConfig struct {
	JWTSecret         string
	AuthorizedParties []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

var validProviders = map[string]bool{
	"anthropic": true,
	"gemini":    true,
	"mock":      true,
}

var validStorageBackends = map[string]bool{
	"gcs":    true,
	"memory": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is applied first; variables already present in
// the environment take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("PORT", 8080),
			Env:      envString("VDOGEN_ENV", "development"),
			LogLevel: envString("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			MaxTokens:        envInt("AI_MAX_TOKENS", 6000),
			SystemPrompt:     os.Getenv("AI_SYSTEM_PROMPT"),
			SeedPrompt:       os.Getenv("AI_SEED_PROMPT"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			},
			Gemini: GeminiConfig{
				APIKey: os.Getenv("GEMINI_API_KEY"),
				Model:  envString("GEMINI_MODEL", "gemini-2.5-pro"),
			},
		},
		Storage: StorageConfig{
			Backend:         envString("STORAGE_BACKEND", "gcs"),
			Bucket:          envString("STORAGE_BUCKET", "vdogen"),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		},
		Render: RenderConfig{
			Namespace:        envString("RENDER_NAMESPACE", "vdogen"),
			Image:            envString("RENDER_IMAGE", "prasadev/manim"),
			KeySecret:        envString("RENDER_KEY_SECRET", "gcp-keys-secret"),
			TTLAfterFinished: envDuration("RENDER_TTL_AFTER_FINISHED", 120*time.Second),
			ActiveDeadline:   envDuration("RENDER_ACTIVE_DEADLINE", time.Hour),
			BackoffLimit:     envInt("RENDER_BACKOFF_LIMIT", 1),
			Kubeconfig:       os.Getenv("KUBECONFIG"),
		},
		Pipeline: PipelineConfig{
			StatusTTL:        envDuration("STATUS_TTL", time.Hour),
			InitialPollDelay: envDuration("INITIAL_POLL_DELAY", 10*time.Second),
			PollInterval:     envDuration("POLL_INTERVAL", 20*time.Second),
			PollGrace:        envDuration("POLL_GRACE", 5*time.Minute),
			QueueLease:       envDuration("QUEUE_LEASE", 5*time.Minute),
			MaxDeliveries:    envInt("QUEUE_MAX_DELIVERIES", 5),
			QueuePoll:        envDuration("QUEUE_POLL_INTERVAL", time.Second),
			Concurrency:      envInt("WORKER_CONCURRENCY", 4),
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("AUTH_JWT_SECRET"),
			AuthorizedParties: envList("AUTH_AUTHORIZED_PARTIES"),
			RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
			RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validStorageBackends[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of gcs, memory; got %q", c.Storage.Backend)
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}
	if c.IsProduction() && c.Storage.Backend == "memory" {
		return fmt.Errorf("STORAGE_BACKEND=memory is not shared between processes and cannot be used in production")
	}

	if c.Pipeline.StatusTTL <= 0 {
		return fmt.Errorf("STATUS_TTL must be positive")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Pipeline.Concurrency)
	}

	return nil
}

// RequireServer validates settings only the HTTP server needs.
func (c *Config) RequireServer() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.Auth.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// RequireWorker validates settings only the pipeline worker needs.
func (c *Config) RequireWorker() error {
	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of anthropic, gemini, mock; got %q", c.AI.Provider)
	}
	if c.IsProduction() && c.AI.Provider == "mock" {
		return fmt.Errorf("AI_PROVIDER=mock cannot be used in production")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	if !strings.HasPrefix(c.AI.Anthropic.BaseURL, "http://") && !strings.HasPrefix(c.AI.Anthropic.BaseURL, "https://") {
		return fmt.Errorf("ANTHROPIC_BASE_URL must start with http:// or https://, got %q", c.AI.Anthropic.BaseURL)
	}
	if c.Render.ActiveDeadline <= 0 {
		return fmt.Errorf("RENDER_ACTIVE_DEADLINE must be positive")
	}
	return nil
}

// IsProduction reports whether the process runs with VDOGEN_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
