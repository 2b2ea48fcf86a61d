package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/felipepmaragno/llm-cost-audit/internal/secrets"
)

const (
	DefaultMaxUploadBytes  = 10 << 20
	DefaultUploadRateLimit = 5
)

// Config is the service configuration read from the environment.
type Config struct {
	Addr         string
	LogLevel     string
	RedisURL     string
	DatabaseURL  string
	OTLPEndpoint string
	// TraceSampleRatio is the share of root spans kept, in [0, 1].
	TraceSampleRatio float64
	AWSRegion        string

	// Archive: S3 when S3Bucket is set, otherwise the local StorageDir.
	S3Bucket      string
	StorageDir    string
	EncryptionKey string

	AnalysisQueueURL string
	AsyncAnalysis    bool
	SNSTopicARN      string

	AdminEmail       string
	AdminAuthEnabled bool
	AdminPassword    string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	SecretsName         string

	AppBaseURL      string
	CatalogPath     string
	MaxUploadBytes  int64
	UploadRateLimit int

	ShutdownTimeout time.Duration
}

// Load reads the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:                getEnv("ADDR", ":8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		RedisURL:            getEnv("REDIS_URL", ""),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", ""),
		TraceSampleRatio:    getFloatEnv("TRACE_SAMPLE_RATIO", 1.0),
		AWSRegion:           getEnv("AWS_REGION", ""),
		S3Bucket:            getEnv("S3_BUCKET", ""),
		StorageDir:          getEnv("STORAGE_DIR", "data/uploads"),
		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
		AnalysisQueueURL:    getEnv("ANALYSIS_QUEUE_URL", ""),
		AsyncAnalysis:       getBoolEnv("ASYNC_ANALYSIS", false),
		SNSTopicARN:         getEnv("SNS_TOPIC_ARN", ""),
		AdminEmail:          getEnv("ADMIN_EMAIL", ""),
		AdminAuthEnabled:    getBoolEnv("ADMIN_AUTH_ENABLED", false),
		AdminPassword:       getEnv("ADMIN_PASSWORD", ""),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePriceID:       getEnv("STRIPE_PRICE_ID", ""),
		SecretsName:         getEnv("SECRETS_NAME", ""),
		AppBaseURL:          strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
		CatalogPath:         getEnv("CATALOG_PATH", ""),
		MaxUploadBytes:      int64(getIntEnv("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		UploadRateLimit:     getIntEnv("UPLOAD_RATE_LIMIT", DefaultUploadRateLimit),
		ShutdownTimeout:     getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.UploadRateLimit <= 0 {
		return nil, fmt.Errorf("UPLOAD_RATE_LIMIT must be positive, got %d", cfg.UploadRateLimit)
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return nil, fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %v", cfg.TraceSampleRatio)
	}
	if cfg.AdminAuthEnabled && cfg.DatabaseURL == "" && cfg.AdminPassword == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_AUTH_ENABLED is set without DATABASE_URL")
	}

	return cfg, nil
}

// ApplySecrets overlays Stripe credentials from the secret store when
// SecretsName is set. Values found in the secret win over the environment.
func (c *Config) ApplySecrets(ctx context.Context, store secrets.SecretStore) error {
	if c.SecretsName == "" {
		return nil
	}

	creds, err := secrets.LoadStripe(ctx, store, c.SecretsName)
	if err != nil {
		return err
	}

	if creds.SecretKey != "" {
		c.StripeSecretKey = creds.SecretKey
	}
	if creds.WebhookSecret != "" {
		c.StripeWebhookSecret = creds.WebhookSecret
	}
	if creds.PriceID != "" {
		c.StripePriceID = creds.PriceID
	}
	return nil
}

// StripeEnabled reports whether checkout can be offered.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != "" && c.StripePriceID != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true"
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
