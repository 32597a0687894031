// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// SchedulerConfig provides settings for the asynq background job scheduler.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketImports() string
	IsMinIOEnabled() bool
}

// SMTPConfig provides settings for failure notification emails.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetOpsNotifyAddress() string
	IsEmailEnabled() bool
}

// ImportConfig provides settings for the CSV importer.
type ImportConfig interface {
	GetImportChunkSize() int
	GetImportChunkDelay() time.Duration
	GetImportAsyncThresholdBytes() int64
}

// DistributionConfig provides settings for the batch distributor.
type DistributionConfig interface {
	GetDistributionRosterPath() string
	GetDistributionTag() string
}

// ReconciliationConfig provides defaults for reconciliation runs.
type ReconciliationConfig interface {
	GetNetValueFactor() float64
	GetDuplicateGapSeconds() int
}

// =============================================================================
// Concrete Configuration
// =============================================================================

// Config holds the full application configuration loaded from the environment.
// It implements every module-specific interface above; modules receive only the
// interface they need.
type Config struct {
	Env      string
	HTTPAddr string

	corsAllowAll bool
	corsOrigins  []string

	databaseURL     string
	jwtAccessSecret string

	redisURL         string
	redisTLSInsecure bool
	asynqQueue       string
	asynqConcurrency int

	minioEndpoint    string
	minioAccessKey   string
	minioSecretKey   string
	minioUseSSL      bool
	minioMaxFileSize int64
	minioBucketImp   string

	smtpHost         string
	smtpPort         int
	smtpUsername     string
	smtpPassword     string
	emailFromName    string
	emailFromAddress string
	opsNotifyAddress string
	emailEnabled     bool

	importChunkSize      int
	importChunkDelay     time.Duration
	importAsyncThreshold int64

	distributionRosterPath string
	distributionTag        string

	netValueFactor      float64
	duplicateGapSeconds int
}

// Load reads configuration from the environment, loading a .env file first
// when present. Missing required settings return an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		corsAllowAll: getEnvBool("CORS_ALLOW_ALL", true),
		corsOrigins:  splitList(os.Getenv("CORS_ORIGINS")),

		databaseURL:     os.Getenv("DATABASE_URL"),
		jwtAccessSecret: os.Getenv("JWT_ACCESS_SECRET"),

		redisURL:         os.Getenv("REDIS_URL"),
		redisTLSInsecure: getEnvBool("REDIS_TLS_INSECURE", false),
		asynqQueue:       getEnv("ASYNQ_QUEUE", "reconciliation"),
		asynqConcurrency: getEnvInt("ASYNQ_CONCURRENCY", 10),

		minioEndpoint:    os.Getenv("MINIO_ENDPOINT"),
		minioAccessKey:   os.Getenv("MINIO_ACCESS_KEY"),
		minioSecretKey:   os.Getenv("MINIO_SECRET_KEY"),
		minioUseSSL:      getEnvBool("MINIO_USE_SSL", false),
		minioMaxFileSize: getEnvInt64("MINIO_MAX_FILE_SIZE", 50*1024*1024),
		minioBucketImp:   getEnv("MINIO_BUCKET_IMPORTS", "deal-imports"),

		smtpHost:         os.Getenv("SMTP_HOST"),
		smtpPort:         getEnvInt("SMTP_PORT", 587),
		smtpUsername:     os.Getenv("SMTP_USERNAME"),
		smtpPassword:     os.Getenv("SMTP_PASSWORD"),
		emailFromName:    getEnv("EMAIL_FROM_NAME", "Back Office"),
		emailFromAddress: os.Getenv("EMAIL_FROM_ADDRESS"),
		opsNotifyAddress: os.Getenv("OPS_NOTIFY_ADDRESS"),
		emailEnabled:     getEnvBool("EMAIL_ENABLED", false),

		importChunkSize:      getEnvInt("IMPORT_CHUNK_SIZE", 200),
		importChunkDelay:     getEnvDuration("IMPORT_CHUNK_DELAY", 100*time.Millisecond),
		importAsyncThreshold: getEnvInt64("IMPORT_ASYNC_THRESHOLD_BYTES", 1024*1024),

		distributionRosterPath: os.Getenv("DISTRIBUTION_ROSTER_PATH"),
		distributionTag:        getEnv("DISTRIBUTION_TAG", "distribuido"),

		netValueFactor:      getEnvFloat("NET_VALUE_FACTOR", 0.88),
		duplicateGapSeconds: getEnvInt("DUPLICATE_GAP_SECONDS", 60),
	}

	if cfg.databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.jwtAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.importChunkSize < 50 || cfg.importChunkSize > 1000 {
		return nil, fmt.Errorf("IMPORT_CHUNK_SIZE must be between 50 and 1000")
	}

	return cfg, nil
}

// GetDatabaseURL returns the PostgreSQL connection string.
func (c *Config) GetDatabaseURL() string { return c.databaseURL }

// GetJWTAccessSecret returns the JWT signing secret for access tokens.
func (c *Config) GetJWTAccessSecret() string { return c.jwtAccessSecret }

// GetHTTPAddr returns the HTTP listen address.
func (c *Config) GetHTTPAddr() string { return c.HTTPAddr }

// GetCORSAllowAll reports whether CORS should allow any origin.
func (c *Config) GetCORSAllowAll() bool { return c.corsAllowAll }

// GetCORSOrigins returns the explicit CORS origin allowlist.
func (c *Config) GetCORSOrigins() []string { return c.corsOrigins }

// GetRedisURL returns the redis connection URL for asynq.
func (c *Config) GetRedisURL() string { return c.redisURL }

// GetRedisTLSInsecure reports whether redis TLS verification is disabled.
func (c *Config) GetRedisTLSInsecure() bool { return c.redisTLSInsecure }

// GetAsynqQueueName returns the asynq queue name.
func (c *Config) GetAsynqQueueName() string { return c.asynqQueue }

// GetAsynqConcurrency returns the asynq worker concurrency.
func (c *Config) GetAsynqConcurrency() int { return c.asynqConcurrency }

// GetMinIOEndpoint returns the MinIO endpoint host:port.
func (c *Config) GetMinIOEndpoint() string { return c.minioEndpoint }

// GetMinIOAccessKey returns the MinIO access key.
func (c *Config) GetMinIOAccessKey() string { return c.minioAccessKey }

// GetMinIOSecretKey returns the MinIO secret key.
func (c *Config) GetMinIOSecretKey() string { return c.minioSecretKey }

// GetMinIOUseSSL reports whether MinIO should be reached over TLS.
func (c *Config) GetMinIOUseSSL() bool { return c.minioUseSSL }

// GetMinIOMaxFileSize returns the maximum accepted upload size in bytes.
func (c *Config) GetMinIOMaxFileSize() int64 { return c.minioMaxFileSize }

// GetMinioBucketImports returns the bucket for uploaded CSV files.
func (c *Config) GetMinioBucketImports() string { return c.minioBucketImp }

// IsMinIOEnabled reports whether storage is configured.
func (c *Config) IsMinIOEnabled() bool {
	return c.minioEndpoint != "" && c.minioAccessKey != "" && c.minioSecretKey != ""
}

// GetSMTPHost returns the SMTP server host.
func (c *Config) GetSMTPHost() string { return c.smtpHost }

// GetSMTPPort returns the SMTP server port.
func (c *Config) GetSMTPPort() int { return c.smtpPort }

// GetSMTPUsername returns the SMTP username.
func (c *Config) GetSMTPUsername() string { return c.smtpUsername }

// GetSMTPPassword returns the SMTP password.
func (c *Config) GetSMTPPassword() string { return c.smtpPassword }

// GetEmailFromName returns the sender display name.
func (c *Config) GetEmailFromName() string { return c.emailFromName }

// GetEmailFromAddress returns the sender address.
func (c *Config) GetEmailFromAddress() string { return c.emailFromAddress }

// GetOpsNotifyAddress returns the address receiving failure notifications.
func (c *Config) GetOpsNotifyAddress() string { return c.opsNotifyAddress }

// IsEmailEnabled reports whether notification emails are configured.
func (c *Config) IsEmailEnabled() bool {
	return c.emailEnabled && c.smtpHost != "" && c.emailFromAddress != "" && c.opsNotifyAddress != ""
}

// GetImportChunkSize returns the number of CSV rows upserted per chunk.
func (c *Config) GetImportChunkSize() int { return c.importChunkSize }

// GetImportChunkDelay returns the pause between chunks.
func (c *Config) GetImportChunkDelay() time.Duration { return c.importChunkDelay }

// GetImportAsyncThresholdBytes returns the file size above which imports run
// as background jobs.
func (c *Config) GetImportAsyncThresholdBytes() int64 { return c.importAsyncThreshold }

// GetDistributionRosterPath returns the path of the YAML worker roster.
func (c *Config) GetDistributionRosterPath() string { return c.distributionRosterPath }

// GetDistributionTag returns the tag appended to distributed deals.
func (c *Config) GetDistributionTag() string { return c.distributionTag }

// GetNetValueFactor returns the default factor applied to promoted sale prices.
func (c *Config) GetNetValueFactor() float64 { return c.netValueFactor }

// GetDuplicateGapSeconds returns the default duplicate-activity gap threshold.
func (c *Config) GetDuplicateGapSeconds() int { return c.duplicateGapSeconds }

// =============================================================================
// Helpers
// =============================================================================

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
