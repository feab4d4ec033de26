package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	Search     SearchConfig     `yaml:"search"`
	Visibility VisibilityConfig `yaml:"visibility"`
	Cache      CacheConfig      `yaml:"cache"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	AWS        AWSConfig        `yaml:"aws"`
	Audit      AuditConfig      `yaml:"audit"`
	Import     ImportConfig     `yaml:"import"`
	Reindex    ReindexConfig    `yaml:"reindex"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxBulkDelete  int      `yaml:"max_bulk_delete"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	return c.Host
}

// DatabaseConfig holds the record store connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// OpenSearchConfig holds the search index cluster settings
type OpenSearchConfig struct {
	URL                 string `yaml:"url"`
	Index               string `yaml:"index"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	MaxRetries          int    `yaml:"max_retries"`
	PointTimeoutSeconds int    `yaml:"point_timeout_seconds"`
	BulkTimeoutSeconds  int    `yaml:"bulk_timeout_seconds"`
	ClearTimeoutSeconds int    `yaml:"clear_timeout_seconds"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	PollAttempts        int    `yaml:"poll_attempts"`
}

// PointTimeout bounds single-document and search calls.
func (c OpenSearchConfig) PointTimeout() time.Duration {
	return time.Duration(c.PointTimeoutSeconds) * time.Second
}

// BulkTimeout bounds _bulk calls.
func (c OpenSearchConfig) BulkTimeout() time.Duration {
	return time.Duration(c.BulkTimeoutSeconds) * time.Second
}

// ClearTimeout bounds the asynchronous delete-by-query submission.
func (c OpenSearchConfig) ClearTimeout() time.Duration {
	return time.Duration(c.ClearTimeoutSeconds) * time.Second
}

// PollInterval returns the delete-all completion poll interval
func (c OpenSearchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SearchConfig holds pagination limits and sort settings
type SearchConfig struct {
	DefaultLimit     int      `yaml:"default_limit"`
	MaxLimit         int      `yaml:"max_limit"`
	DefaultSortField string   `yaml:"default_sort_field"`
	SortableFields   []string `yaml:"sortable_fields"`
	MaxResultWindow  int      `yaml:"max_result_window"`
}

// VisibilityConfig holds the masking policy parameters
type VisibilityConfig struct {
	UnmaskedLimit int    `yaml:"unmasked_limit"`
	VisiblePrefix int    `yaml:"visible_prefix"`
	MaskChar      string `yaml:"mask_char"`
}

// CacheConfig selects the search result cache backend
type CacheConfig struct {
	Backend    string `yaml:"backend"` // "redis", "memory" or "none"
	TTLSeconds int    `yaml:"ttl_seconds"`
	Capacity   int    `yaml:"capacity"`
}

// TTL returns the cache entry lifetime as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisConfig holds the shared Redis connection used by the cache, the
// maintenance lock and the reindex checkpoint
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	AdminRole string `yaml:"admin_role"`
	Issuer    string `yaml:"issuer"`
}

// AWSConfig holds the settings shared by the DynamoDB and S3 clients
type AWSConfig struct {
	Region    string `yaml:"region"`
	Profile   string `yaml:"profile"`  // Empty string uses default credential chain (IAM role on ECS)
	Endpoint  string `yaml:"endpoint"` // Local stand-ins (dynamodb-local, MinIO)
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// GetProfile returns the AWS profile, with environment variable override
func (c AWSConfig) GetProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// AuditConfig holds the DynamoDB mutation ledger settings
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Table   string `yaml:"table"`
	TTLDays int    `yaml:"ttl_days"`
}

// TTL returns how long ledger entries are retained
func (c AuditConfig) TTL() time.Duration {
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// ImportConfig holds bulk CSV ingestion settings
type ImportConfig struct {
	Bucket    string `yaml:"bucket"`
	BatchSize int    `yaml:"batch_size"`
}

// ReindexConfig holds the store-to-index reconciliation settings
type ReindexConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	CheckpointKey  string  `yaml:"checkpoint_key"`
	BatchesPerSec  float64 `yaml:"batches_per_second"`
	LockTTLMinutes int     `yaml:"lock_ttl_minutes"`
}

// LockTTL returns the maintenance lock lease as a duration
func (c ReindexConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMinutes) * time.Minute
}

// LoggingConfig holds structured logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether email values are masked in log output.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for binaries
// started without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.MaxBulkDelete == 0 {
		cfg.Server.MaxBulkDelete = 10000
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5
	}

	// Search index defaults
	if cfg.OpenSearch.Index == "" {
		cfg.OpenSearch.Index = "email_accounts"
	}
	if cfg.OpenSearch.PointTimeoutSeconds == 0 {
		cfg.OpenSearch.PointTimeoutSeconds = 10
	}
	if cfg.OpenSearch.BulkTimeoutSeconds == 0 {
		cfg.OpenSearch.BulkTimeoutSeconds = 60
	}
	if cfg.OpenSearch.ClearTimeoutSeconds == 0 {
		cfg.OpenSearch.ClearTimeoutSeconds = 120
	}
	if cfg.OpenSearch.PollIntervalSeconds == 0 {
		cfg.OpenSearch.PollIntervalSeconds = 5
	}
	if cfg.OpenSearch.PollAttempts == 0 {
		cfg.OpenSearch.PollAttempts = 120
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 100
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 1000
	}
	if cfg.Search.DefaultSortField == "" {
		cfg.Search.DefaultSortField = "email"
	}
	if len(cfg.Search.SortableFields) == 0 {
		cfg.Search.SortableFields = []string{"email", "name", "role", "companyname", "website", "created_at", "updated_at"}
	}
	if cfg.Search.MaxResultWindow == 0 {
		cfg.Search.MaxResultWindow = 10000
	}

	if cfg.Visibility.UnmaskedLimit == 0 {
		cfg.Visibility.UnmaskedLimit = 10
	}
	if cfg.Visibility.VisiblePrefix == 0 {
		cfg.Visibility.VisiblePrefix = 3
	}
	if cfg.Visibility.MaskChar == "" {
		cfg.Visibility.MaskChar = "*"
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.TTLSeconds == 0 {
		cfg.Cache.TTLSeconds = 60
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 1000
	}

	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}

	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.Audit.Table == "" {
		cfg.Audit.Table = "emailfinder-audit"
	}
	if cfg.Audit.TTLDays == 0 {
		cfg.Audit.TTLDays = 90
	}

	if cfg.Import.BatchSize == 0 {
		cfg.Import.BatchSize = 500
	}

	if cfg.Reindex.BatchSize == 0 {
		cfg.Reindex.BatchSize = 1000
	}
	if cfg.Reindex.CheckpointKey == "" {
		cfg.Reindex.CheckpointKey = "emailfinder:reindex:checkpoint"
	}
	if cfg.Reindex.BatchesPerSec == 0 {
		cfg.Reindex.BatchesPerSec = 5
	}
	if cfg.Reindex.LockTTLMinutes == 0 {
		cfg.Reindex.LockTTLMinutes = 30
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// An empty path skips the YAML file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	// Override with environment variables if present
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("OPENSEARCH_URL"); v != "" {
		cfg.OpenSearch.URL = v
	}
	if v := os.Getenv("OPENSEARCH_USER"); v != "" {
		cfg.OpenSearch.Username = v
	}
	if v := os.Getenv("OPENSEARCH_PASSWORD"); v != "" {
		cfg.OpenSearch.Password = v
	}
	if v := os.Getenv("OPENSEARCH_INDEX"); v != "" {
		cfg.OpenSearch.Index = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ENDPOINT_URL"); v != "" {
		cfg.AWS.Endpoint = v
	}
	if v := os.Getenv("AUDIT_TABLE"); v != "" {
		cfg.Audit.Table = v
		cfg.Audit.Enabled = true
	}
	if v := os.Getenv("IMPORT_BUCKET"); v != "" {
		cfg.Import.Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}
