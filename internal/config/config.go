package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Storage     StorageConfig
	Queue       QueueConfig
	Auth        AuthConfig
	Generation  GenerationConfig
	FileHost    FileHostConfig
	Catalog     CatalogConfig
	Fulfillment FulfillmentConfig
	Payment     PaymentConfig
	Email       EmailConfig
	Logging     LoggingConfig
	Tracing     TracingConfig
	Metrics     MetricsConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AdminKey        string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration. An empty host disables Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	URLExpiry       time.Duration
}

// QueueConfig holds message queue configuration. An empty host disables the queue.
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string

	// ReplayInterval and ReplayBatch drive the background replay worker
	ReplayInterval time.Duration
	ReplayBatch    int
	// MaxReplayAttempts moves an order to the parked queue after that many failed replays
	MaxReplayAttempts int
}

// AuthConfig holds magic-link and session configuration
type AuthConfig struct {
	CookieSecret string
	CookieName   string
	CookieSecure bool
	BaseURL      string
	TokenTTL     time.Duration
	SessionTTL   time.Duration
}

// GenerationConfig holds image-generation API and preprocessing configuration
type GenerationConfig struct {
	APIToken       string
	BaseURL        string
	Model          string
	Quality        string
	OutputFormat   string
	MaxDimension   int
	PadFraction    float64
	FreeDailyLimit int
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

// FileHostConfig selects the fallback image transport
type FileHostConfig struct {
	Kind      string // tmpfiles, minio
	UploadURL string
	Timeout   time.Duration
}

// CatalogConfig holds fulfillment-partner catalog configuration
type CatalogConfig struct {
	APIKey           string
	BaseURL          string
	ProductID        string
	DefaultCountry   string
	CacheTTL         time.Duration
	PreferredSKU     string
	Size             string
	Pack             string
	Variant          string
	MaxResponseBytes int64
	PageSize         int
	Timeout          time.Duration
}

// FulfillmentConfig holds order submission configuration
type FulfillmentConfig struct {
	TestMode             bool
	MaxIdempotencyKeyLen int
	Quantity             int
	Timeout              time.Duration
}

// PaymentConfig holds payment processor configuration
type PaymentConfig struct {
	SecretKey          string
	WebhookSecret      string
	ProPriceID         string
	StickerPriceCents  int64
	StickerProductName string
	Currency           string
	SuccessURL         string
	CancelURL          string
	AllowedCountries   []string
}

// EmailConfig holds transactional email configuration
type EmailConfig struct {
	APIKey        string
	From          string
	OperatorEmail string
	Timeout       time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	Port int
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return unmarshal(v)
}

// LoadFromEnv reads configuration from environment variables and defaults only
func LoadFromEnv() (*Config, error) {
	return unmarshal(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.adminKey", "")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "stickerforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 2)

	// Redis defaults
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Storage defaults
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "artwork")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlExpiry", "24h")

	// Queue defaults
	v.SetDefault("queue.host", "")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")
	v.SetDefault("queue.replayinterval", "15m")
	v.SetDefault("queue.replaybatch", 10)
	v.SetDefault("queue.maxreplayattempts", 5)

	// Auth defaults
	v.SetDefault("auth.cookieSecret", "")
	v.SetDefault("auth.cookieName", "sf_session")
	v.SetDefault("auth.cookieSecure", true)
	v.SetDefault("auth.baseURL", "http://localhost:8080")
	v.SetDefault("auth.tokenTTL", "15m")
	v.SetDefault("auth.sessionTTL", "2160h") // 90 days

	// Generation defaults
	v.SetDefault("generation.apiToken", "")
	v.SetDefault("generation.baseURL", "https://api.replicate.com")
	v.SetDefault("generation.model", "openai/gpt-image-1")
	v.SetDefault("generation.quality", "high")
	v.SetDefault("generation.outputFormat", "png")
	v.SetDefault("generation.maxDimension", 1536)
	v.SetDefault("generation.padFraction", 0.12)
	v.SetDefault("generation.freeDailyLimit", 3)
	v.SetDefault("generation.maxUploadBytes", 15*1024*1024) // 15MB
	v.SetDefault("generation.requestTimeout", "60s")

	// File host defaults
	v.SetDefault("fileHost.kind", "tmpfiles")
	v.SetDefault("fileHost.uploadURL", "https://tmpfiles.org/api/v1/upload")
	v.SetDefault("fileHost.timeout", "30s")

	// Catalog defaults
	v.SetDefault("catalog.apiKey", "")
	v.SetDefault("catalog.productID", "")
	v.SetDefault("catalog.preferredSKU", "")
	v.SetDefault("catalog.baseURL", "https://api.printpartner.example/v1")
	v.SetDefault("catalog.defaultCountry", "US")
	v.SetDefault("catalog.cacheTTL", "6h")
	v.SetDefault("catalog.size", "3x3")
	v.SetDefault("catalog.pack", "1")
	v.SetDefault("catalog.variant", "glossy")
	v.SetDefault("catalog.maxResponseBytes", 5*1024*1024) // 5MiB
	v.SetDefault("catalog.pageSize", 100)
	v.SetDefault("catalog.timeout", "20s")

	// Fulfillment defaults
	v.SetDefault("fulfillment.testMode", true)
	v.SetDefault("fulfillment.maxIdempotencyKeyLen", 64)
	v.SetDefault("fulfillment.quantity", 1)
	v.SetDefault("fulfillment.timeout", "30s")

	// Payment defaults
	v.SetDefault("payment.secretKey", "")
	v.SetDefault("payment.webhookSecret", "")
	v.SetDefault("payment.proPriceID", "")
	v.SetDefault("payment.stickerPriceCents", 500)
	v.SetDefault("payment.stickerProductName", "Custom line-art sticker")
	v.SetDefault("payment.currency", "usd")
	v.SetDefault("payment.successURL", "http://localhost:8080/success?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("payment.cancelURL", "http://localhost:8080/")
	v.SetDefault("payment.allowedCountries", []string{"US", "CA", "GB", "AU", "DE", "FR", "IE", "NZ"})

	// Email defaults
	v.SetDefault("email.apiKey", "")
	v.SetDefault("email.operatorEmail", "")
	v.SetDefault("email.from", "Stickerforge <orders@stickerforge.example>")
	v.SetDefault("email.timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "stickerforge-api")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Metrics defaults
	v.SetDefault("metrics.port", 9090)

	// Rate limit defaults
	v.SetDefault("rateLimit.rps", 2)
	v.SetDefault("rateLimit.burst", 5)
}

// DSN returns the pgx connection string for the database
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
		c.MaxConns, c.MinConns,
	)
}
