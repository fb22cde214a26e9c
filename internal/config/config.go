// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DB          DBConfig
	Auth        AuthConfig
	RAG         RAGConfig
	Chat        ChatConfig
	Timeout     TimeoutConfig

	// SeedCommunityThreads populates demo community threads when none exist.
	SeedCommunityThreads bool
}

// DBConfig selects and configures the thread store.
type DBConfig struct {
	Driver        string
	Path          string
	MongoURI      string
	MongoDatabase string
}

// AuthConfig controls session tokens.
type AuthConfig struct {
	JWTSecret    string
	SessionTTL   time.Duration
	CookieSecure bool
}

// RAGConfig points at the external answer/summary service.
type RAGConfig struct {
	BaseURL string
	Timeout time.Duration
}

// ChatConfig limits message submission.
type ChatConfig struct {
	RateLimit          int
	RateWindow         time.Duration
	MaxRequestBodySize int64
}

// TimeoutConfig holds server side timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration
	Shutdown    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	rateLimit := getEnvInt("CHAT_RATE_LIMIT", 20)
	if rateLimit <= 0 {
		rateLimit = 20
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DB: DBConfig{
			Driver:        strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
			Path:          getEnv("DB_PATH", "./data/fincomply.db"),
			MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase: getEnv("MONGO_DATABASE", "fincomply"),
		},
		Auth: AuthConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			SessionTTL:   getEnvDuration("SESSION_TTL", 30*24*time.Hour),
			CookieSecure: getEnvBool("COOKIE_SECURE", false),
		},
		RAG: RAGConfig{
			BaseURL: strings.TrimRight(getEnv("RAG_API_URL", ""), "/"),
			Timeout: getEnvDuration("RAG_TIMEOUT", 60*time.Second),
		},
		Chat: ChatConfig{
			RateLimit:          rateLimit,
			RateWindow:         getEnvDuration("CHAT_RATE_WINDOW", time.Minute),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		SeedCommunityThreads: getEnvBool("SEED_COMMUNITY_THREADS", true),
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
	switch c.DB.Driver {
	case DriverSQLite:
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case DriverMongo:
		if c.DB.MongoURI == "" {
			return fmt.Errorf("MONGO_URI cannot be empty")
		}
		if c.DB.MongoDatabase == "" {
			return fmt.Errorf("MONGO_DATABASE cannot be empty")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverMongo, c.DB.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.RAG.BaseURL == "" {
		return fmt.Errorf("RAG_API_URL cannot be empty")
	}
	if c.RAG.Timeout <= 0 {
		return fmt.Errorf("RAG_TIMEOUT must be > 0")
	}
	if c.Chat.RateLimit <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	if c.Chat.RateWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_WINDOW must be > 0")
	}
	if c.Chat.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{strings.TrimRight(c.FrontendURL, "/")}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
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

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("90s", "720h") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
