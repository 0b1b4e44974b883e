package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Catalog  CatalogConfig
	Importer ImporterConfig
	Images   ImagesConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type UpstreamConfig struct {
	BaseURL        string
	SearchPath     string
	DetailPath     string
	RequestTimeout time.Duration
	MinRequestGap  time.Duration
	PageSize       int
	ListingTTL     time.Duration
	ProductListTTL time.Duration
}

type CatalogConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

type ImporterConfig struct {
	AutoImportInterval time.Duration
	BulkBatchSize      int
	BulkBatchDelay     time.Duration
	BulkPageBackoff    time.Duration
	MaxPageFailures    int
	MaxItemFailures    int
	DownloadImages     bool
}

type ImagesConfig struct {
	StorageDir      string
	PublicPath      string
	Placeholder     string
	DownloadTimeout time.Duration
	UserAgent       string
	Referer         string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Missing .env is fine; real deployments use environment variables.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8085),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnv("UPSTREAM_BASE_URL", "https://www.apoioentrega.com.br"),
			SearchPath:     getEnv("UPSTREAM_SEARCH_PATH", "/api/catalog_system/pub/products/search"),
			DetailPath:     getEnv("UPSTREAM_DETAIL_PATH", "/api/catalog_system/pub/products/detail"),
			RequestTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
			MinRequestGap:  getEnvDuration("UPSTREAM_MIN_REQUEST_GAP", 2*time.Second),
			PageSize:       getEnvInt("UPSTREAM_PAGE_SIZE", 50),
			ListingTTL:     getEnvDuration("UPSTREAM_LISTING_TTL", time.Hour),
			ProductListTTL: getEnvDuration("UPSTREAM_PRODUCT_LIST_TTL", 5*time.Minute),
		},
		Catalog: CatalogConfig{
			BaseURL:        getEnv("CATALOG_BASE_URL", "http://localhost:3001"),
			RequestTimeout: getEnvDuration("CATALOG_TIMEOUT", 10*time.Second),
		},
		Importer: ImporterConfig{
			AutoImportInterval: getEnvDuration("AUTO_IMPORT_INTERVAL", 5*time.Minute),
			BulkBatchSize:      getEnvInt("BULK_BATCH_SIZE", 50),
			BulkBatchDelay:     getEnvDuration("BULK_BATCH_DELAY", 2*time.Second),
			BulkPageBackoff:    getEnvDuration("BULK_PAGE_BACKOFF", 10*time.Second),
			MaxPageFailures:    getEnvInt("BULK_MAX_PAGE_FAILURES", 3),
			MaxItemFailures:    getEnvInt("BULK_MAX_ITEM_FAILURES", 10),
			DownloadImages:     getEnvBool("IMPORT_DOWNLOAD_IMAGES", true),
		},
		Images: ImagesConfig{
			StorageDir:      getEnv("IMAGES_DIR", "data/images"),
			PublicPath:      getEnv("IMAGES_PUBLIC_PATH", "/images/products"),
			Placeholder:     getEnv("IMAGES_PLACEHOLDER", "/images/placeholder.jpg"),
			DownloadTimeout: getEnvDuration("IMAGES_DOWNLOAD_TIMEOUT", 10*time.Second),
			UserAgent:       getEnv("IMAGES_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			Referer:         getEnv("IMAGES_REFERER", "https://www.apoioentrega.com.br/"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}

	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog base URL is required")
	}

	if c.Upstream.PageSize < 1 {
		return fmt.Errorf("upstream page size must be at least 1")
	}

	if c.Importer.AutoImportInterval <= 0 {
		return fmt.Errorf("auto-import interval must be positive")
	}

	if c.Importer.BulkBatchSize < 1 {
		return fmt.Errorf("bulk batch size must be at least 1")
	}

	if c.Importer.MaxPageFailures < 1 || c.Importer.MaxItemFailures < 1 {
		return fmt.Errorf("failure thresholds must be at least 1")
	}

	if c.Images.StorageDir == "" {
		return fmt.Errorf("images storage dir is required")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
