// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vrabczak/BuildingRadar/internal/chunkcache"
	"github.com/vrabczak/BuildingRadar/internal/domain"
)

// EnvPrefix prefixes every environment variable, e.g. BRADAR_SERVER_PORT.
const EnvPrefix = "BRADAR"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Store   StoreConfig   `mapstructure:"store"`
	Grid    GridConfig    `mapstructure:"grid"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Dataset DatasetConfig `mapstructure:"dataset"`
	Query   QueryConfig   `mapstructure:"query"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	FrontendEnabled bool            `mapstructure:"frontend_enabled"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	CORS            CORSConfig      `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"` // requests per second
	Burst   int     `mapstructure:"burst"`
}

// StorageConfig holds the object storage the source tiles are read from.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// StoreConfig holds the durable key-value store the dataset is persisted to.
type StoreConfig struct {
	Type      string      `mapstructure:"type"` // sqlite, redis, memory
	Path      string      `mapstructure:"path"` // sqlite database file
	BatchSize int         `mapstructure:"batch_size"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

// GridConfig holds grid index configuration.
type GridConfig struct {
	CellSize float64 `mapstructure:"cell_size"` // degrees
}

// CacheConfig holds chunk cache configuration.
type CacheConfig struct {
	MaxChunks int    `mapstructure:"max_chunks"` // 0 = no explicit ceiling
	Device    string `mapstructure:"device"`     // auto, low, standard, high
	Prefetch  bool   `mapstructure:"prefetch"`
}

// DatasetConfig holds dataset lifecycle configuration.
type DatasetConfig struct {
	Name         string        `mapstructure:"name"`
	Eager        bool          `mapstructure:"eager"`
	Concurrency  int           `mapstructure:"concurrency"`   // parallel tile downloads, 0 = GOMAXPROCS
	SyncInterval time.Duration `mapstructure:"sync_interval"` // 0 disables periodic reloads
	Watch        bool          `mapstructure:"watch"`         // rebuild on local tile changes
}

// QueryConfig holds query-related configuration.
type QueryConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFeatures int           `mapstructure:"max_features"`
	MaxRadius   float64       `mapstructure:"max_radius"` // meters
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds Azure DNS settings for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"` // 0 serves metrics on the API server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.frontend_enabled", true)
	viper.SetDefault("server.rate_limit.enabled", false)
	viper.SetDefault("server.rate_limit.rate", 100.0)
	viper.SetDefault("server.rate_limit.burst", 200)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Tile source defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Store defaults
	viper.SetDefault("store.type", "sqlite")
	viper.SetDefault("store.path", "./buildingradar.db")
	viper.SetDefault("store.batch_size", 4)
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("store.redis.namespace", "bradar:")

	// Grid and cache defaults
	viper.SetDefault("grid.cell_size", 0.01)
	viper.SetDefault("cache.max_chunks", 0)
	viper.SetDefault("cache.device", string(chunkcache.DeviceAuto))
	viper.SetDefault("cache.prefetch", true)

	// Dataset defaults
	viper.SetDefault("dataset.name", "buildings")
	viper.SetDefault("dataset.eager", false)
	viper.SetDefault("dataset.concurrency", 0)
	viper.SetDefault("dataset.sync_interval", time.Duration(0))
	viper.SetDefault("dataset.watch", true)

	// Query defaults
	viper.SetDefault("query.timeout", 30*time.Second)
	viper.SetDefault("query.max_features", 1000)
	viper.SetDefault("query.max_radius", 50000.0)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 0)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/buildingradar")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func invalid(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", "invalid port %d", c.Server.Port)
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Rate <= 0 || c.Server.RateLimit.Burst < 1) {
		return invalid("server.rate_limit", "rate and burst must be positive")
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return invalid("tls.domains", "TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return invalid("tls.email", "TLS enabled but no email specified")
		}
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Grid.CellSize <= 0 {
		return invalid("grid.cell_size", "must be positive, got %v", c.Grid.CellSize)
	}
	if c.Cache.MaxChunks < 0 {
		return invalid("cache.max_chunks", "must not be negative")
	}
	if _, err := chunkcache.ParseDeviceClass(c.Cache.Device); err != nil {
		return invalid("cache.device", "%v", err)
	}
	if c.Query.MaxFeatures < 1 {
		return invalid("query.max_features", "must be at least 1")
	}
	if c.Query.MaxRadius <= 0 {
		return invalid("query.max_radius", "must be positive")
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return invalid("storage.local_path", "local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket", "S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return invalid("storage.s3.region", "S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return invalid("storage.azure.container", "azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return invalid("storage.azure", "azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return invalid("storage.http.base_url", "HTTP base URL is required")
		}
	default:
		return invalid("storage.type", "unknown storage type: %s", c.Storage.Type)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Type {
	case "sqlite":
		if c.Store.Path == "" {
			return invalid("store.path", "sqlite database path is required")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return invalid("store.redis.addr", "redis address is required")
		}
	case "memory":
	default:
		return invalid("store.type", "unknown store type: %s", c.Store.Type)
	}
	if c.Store.BatchSize < 1 {
		return invalid("store.batch_size", "must be at least 1")
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DeviceClass returns the configured device class.
func (c *CacheConfig) DeviceClass() chunkcache.DeviceClass {
	class, err := chunkcache.ParseDeviceClass(c.Device)
	if err != nil {
		return chunkcache.DeviceAuto
	}
	return class
}
