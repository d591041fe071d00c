package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Site configuration
	SiteURL      string // canonical site URL, decides www handling during normalization
	EndpointPath string
	MediaBaseURL string // targets under this prefix are never checked for endpoints

	// Network configuration
	HTTPTimeout time.Duration
	UserAgent   string

	// Sending configuration
	DisableSelfPingsSameURL    bool
	DisableSelfPingsSameDomain bool
	SendOnPublish              bool

	// Receiving configuration
	DefaultApproval  models.ApprovalState
	CommentType      string
	PreserveApproval bool

	// Retry configuration
	RetryBaseDelay time.Duration
	MaxRetries     int
	SweepSchedule  string

	// Persistence configuration
	StoreBackend   string // "memory" or "postgres"
	DatabaseURL    string
	AttemptBackend string // "memory" or "redis"
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Azure Storage configuration, used to archive raw source documents
	StorageAccount   string
	StorageContainer string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	NotifyOnExhausted bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	approval, err := models.ParseApprovalState(getEnv("WEBMENTION_COMMENT_APPROVE", "pending"))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		SiteURL:      getEnv("SITE_URL", "http://localhost:8080"),
		EndpointPath: getEnv("WEBMENTION_ENDPOINT_PATH", "/webmention"),
		MediaBaseURL: getEnv("MEDIA_BASE_URL", ""),

		HTTPTimeout: getDurationEnv("HTTP_TIMEOUT", 100*time.Second),
		UserAgent:   getEnv("USER_AGENT", "Webmention-Engine/1.0"),

		DisableSelfPingsSameURL:    getBoolEnv("WEBMENTION_DISABLE_SELFPINGS_SAME_URL", false),
		DisableSelfPingsSameDomain: getBoolEnv("WEBMENTION_DISABLE_SELFPINGS_SAME_DOMAIN", false),
		SendOnPublish:              getBoolEnv("DEFAULT_PINGBACK_FLAG", true),

		DefaultApproval:  approval,
		CommentType:      getEnv("WEBMENTION_COMMENT_TYPE", "webmention"),
		PreserveApproval: getBoolEnv("WEBMENTION_PRESERVE_APPROVAL", false),

		RetryBaseDelay: getDurationEnv("RETRY_BASE_DELAY", 900*time.Second),
		MaxRetries:     getIntEnv("MAX_RETRIES", 3),
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 5m"),

		StoreBackend:   getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AttemptBackend: getEnv("ATTEMPT_BACKEND", "memory"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getIntEnv("REDIS_DB", 0),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "webmention-sources"),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		NotifyOnExhausted: getBoolEnv("NOTIFY_ON_EXHAUSTED", false),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// EndpointURL is the absolute URL of the inbound webmention endpoint
func (c *Config) EndpointURL() string {
	return strings.TrimRight(c.SiteURL, "/") + "/" + strings.TrimLeft(c.EndpointPath, "/")
}

func (c *Config) validate() error {
	u, err := url.Parse(c.SiteURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("SITE_URL must be an absolute URL, got %q", c.SiteURL)
	}

	if !strings.HasPrefix(c.EndpointPath, "/") {
		return fmt.Errorf("WEBMENTION_ENDPOINT_PATH must start with '/'")
	}

	if c.StoreBackend != "memory" && c.StoreBackend != "postgres" {
		return fmt.Errorf("STORE_BACKEND must be 'memory' or 'postgres'")
	}

	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is 'postgres'")
	}

	if c.AttemptBackend != "memory" && c.AttemptBackend != "redis" {
		return fmt.Errorf("ATTEMPT_BACKEND must be 'memory' or 'redis'")
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go duration strings ("90s") or a bare number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
