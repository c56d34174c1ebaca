package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/ratchet/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store StoreConfig

	// Billing configuration
	Billing BillingConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Access holds the bootstrap capability grants
	Access AccessConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StoreConfig holds persistence configuration
type StoreConfig struct {
	// Type selects the backend: memory, sqlite or postgres.
	Type             string
	SQLitePath       string
	PostgresURL      string
	PostgresMaxConns int
	PaymentCacheSize int

	// Redis backs the distributed daily counters; empty disables them.
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// BillingConfig holds billing engine configuration
type BillingConfig struct {
	// PlatformAccount receives subscription charges.
	PlatformAccount string
	// CatalogPath points at the YAML plan and currency catalog.
	CatalogPath string
	// WatchCatalog reloads the catalog when the file changes.
	WatchCatalog      bool
	MaxFailedPayments int
	BatchLimit        int
	BatchConcurrency  int
	// BatchSchedule is a cron expression for the due-charge job; empty
	// disables the internal runner.
	BatchSchedule string
	// LedgerURL points at the external settlement service; empty selects the
	// in-memory ledger, which only makes sense for local runs.
	LedgerURL     string
	LedgerTimeout time.Duration
	// WebhookURL receives billing events; empty disables webhook delivery.
	WebhookURL    string
	WebhookSecret string
	// AuditPath is the directory for the on-disk event trail; empty disables
	// it.
	AuditPath string
}

// AccessConfig seeds the capability checker at startup. Further grants are
// administered over the API by anyone holding admin.
type AccessConfig struct {
	Admins      []string
	Operators   []string
	Subscribers []string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
		Access:        loadAccessConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("RATCHET_HOST", "0.0.0.0"),
		Port:            getEnv("RATCHET_PORT", "8080"),
		ReadTimeout:     getEnvDuration("RATCHET_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("RATCHET_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("RATCHET_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("RATCHET_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("RATCHET_HEALTH_PORT", "9090"),
	}
}

// loadStoreConfig loads persistence configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:             getEnv("RATCHET_STORE_TYPE", "memory"),
		SQLitePath:       getEnv("RATCHET_SQLITE_PATH", "ratchet.db"),
		PostgresURL:      getEnv("RATCHET_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("RATCHET_POSTGRES_MAX_CONNS", 25),
		PaymentCacheSize: getEnvInt("RATCHET_PAYMENT_CACHE_SIZE", 1024),
		RedisURL:         getEnv("RATCHET_REDIS_URL", ""),
		RedisPassword:    getEnv("RATCHET_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("RATCHET_REDIS_DB", 0),
	}
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		PlatformAccount:   getEnv("RATCHET_PLATFORM_ACCOUNT", "platform"),
		CatalogPath:       getEnv("RATCHET_CATALOG_PATH", "catalog.yaml"),
		WatchCatalog:      getEnvBool("RATCHET_CATALOG_WATCH", true),
		MaxFailedPayments: getEnvInt("RATCHET_MAX_FAILED_PAYMENTS", 3),
		BatchLimit:        getEnvInt("RATCHET_BATCH_LIMIT", 500),
		BatchConcurrency:  getEnvInt("RATCHET_BATCH_CONCURRENCY", 8),
		BatchSchedule:     getEnv("RATCHET_BATCH_SCHEDULE", "@every 1m"),
		LedgerURL:         getEnv("RATCHET_LEDGER_URL", ""),
		LedgerTimeout:     getEnvDuration("RATCHET_LEDGER_TIMEOUT", 10*time.Second),
		WebhookURL:        getEnv("RATCHET_WEBHOOK_URL", ""),
		WebhookSecret:     getEnv("RATCHET_WEBHOOK_SECRET", ""),
		AuditPath:         getEnv("RATCHET_AUDIT_PATH", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLevel(getEnv("RATCHET_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("RATCHET_METRICS_ENABLED", true),
	}
}

// loadAccessConfig loads bootstrap grants from environment
func loadAccessConfig() AccessConfig {
	return AccessConfig{
		Admins:      getEnvList("RATCHET_ADMINS"),
		Operators:   getEnvList("RATCHET_OPERATORS"),
		Subscribers: getEnvList("RATCHET_SUBSCRIBERS"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite store")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory, sqlite, or postgres)", c.Store.Type)
	}

	if c.Billing.PlatformAccount == "" {
		return fmt.Errorf("platform account is required")
	}
	if c.Billing.MaxFailedPayments <= 0 {
		return fmt.Errorf("max failed payments must be positive")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
