// Package config loads process settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

type Config struct {
	Port string

	DatabaseURL      string
	DirectoryBackend string // postgres or supabase
	SupabaseURL      string
	SupabaseKey      string
	RedisURL         string

	KnowledgeBackend string // postgres, qdrant or none
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	KnowledgeSeedCSV string // imported into the knowledge base at startup
	KnowledgeSeedFor string // tenant id for the seed rows; empty seeds the global base

	JWTSecret       string
	CredentialsKey  string
	MetaVerifyToken string
	MetaAppSecret   string

	GraphAPIBase string
	EmailAPIBase string

	DefaultAIProvider string
	AIKeys            map[string]string // provider -> platform fallback key

	RelayMaxAttempts int
	RelayTimeout     time.Duration
	WebhookRateLimit float64 // requests per second per source
	WebhookBurst     int
	CORSOrigins      []string

	LogLevel  string
	LogFormat string
}

// AIProviders is the set of providers a platform fallback key can be set for.
var AIProviders = []string{"openai", "groq", "openrouter", "deepseek", "gemini", "anthropic"}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Port:              get("PORT", "8080"),
		DatabaseURL:       get("DATABASE_URL", ""),
		DirectoryBackend:  strings.ToLower(get("DIRECTORY_BACKEND", BackendPostgres)),
		SupabaseURL:       get("SUPABASE_URL", ""),
		SupabaseKey:       get("SUPABASE_KEY", ""),
		RedisURL:          get("REDIS_URL", ""),
		KnowledgeBackend:  strings.ToLower(get("KB_BACKEND", BackendPostgres)),
		QdrantURL:         get("QDRANT_URL", ""),
		QdrantAPIKey:      get("QDRANT_API_KEY", ""),
		QdrantCollection:  get("QDRANT_COLLECTION", "knowledge_base_chunks"),
		KnowledgeSeedCSV:  get("KB_SEED_CSV", ""),
		KnowledgeSeedFor:  get("KB_SEED_TENANT", ""),
		JWTSecret:         get("JWT_SECRET", ""),
		CredentialsKey:    get("CREDENTIALS_KEY", ""),
		MetaVerifyToken:   get("META_VERIFY_TOKEN", ""),
		MetaAppSecret:     get("META_APP_SECRET", ""),
		GraphAPIBase:      strings.TrimRight(get("GRAPH_API_BASE", "https://graph.facebook.com/v18.0"), "/"),
		EmailAPIBase:      strings.TrimRight(get("EMAIL_API_BASE", "https://api.resend.com"), "/"),
		DefaultAIProvider: strings.ToLower(get("DEFAULT_AI_PROVIDER", "openai")),
		AIKeys:            make(map[string]string),
		LogLevel:          get("LOG_LEVEL", "info"),
		LogFormat:         get("LOG_FORMAT", "json"),
	}

	for _, o := range strings.Split(get("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	for _, p := range AIProviders {
		if key := get(strings.ToUpper(p)+"_API_KEY", ""); key != "" {
			cfg.AIKeys[p] = key
		}
	}

	var err error
	if cfg.RelayMaxAttempts, err = strconv.Atoi(get("RELAY_MAX_ATTEMPTS", "3")); err != nil {
		return nil, fmt.Errorf("RELAY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RelayTimeout, err = time.ParseDuration(get("RELAY_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("RELAY_TIMEOUT: %w", err)
	}
	if cfg.WebhookRateLimit, err = strconv.ParseFloat(get("WEBHOOK_RATE_LIMIT", "20"), 64); err != nil {
		return nil, fmt.Errorf("WEBHOOK_RATE_LIMIT: %w", err)
	}
	if cfg.WebhookBurst, err = strconv.Atoi(get("WEBHOOK_BURST", "40")); err != nil {
		return nil, fmt.Errorf("WEBHOOK_BURST: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var problems []string
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	switch c.DirectoryBackend {
	case BackendPostgres:
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_KEY are required for the supabase directory")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown DIRECTORY_BACKEND %q", c.DirectoryBackend))
	}
	switch c.KnowledgeBackend {
	case BackendPostgres, BackendNone:
	case BackendQdrant:
		if c.QdrantURL == "" {
			problems = append(problems, "QDRANT_URL is required for the qdrant knowledge base")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown KB_BACKEND %q", c.KnowledgeBackend))
	}
	if c.RelayMaxAttempts < 1 {
		problems = append(problems, "RELAY_MAX_ATTEMPTS must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InMemory is true when no database is configured and state lives in process.
func (c *Config) InMemory() bool {
	return c.DatabaseURL == "" && c.DirectoryBackend == BackendPostgres
}
