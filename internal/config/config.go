package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	MediaBackendDisk       = "disk"
	MediaBackendCloudinary = "cloudinary"
	MediaBackendGDrive     = "gdrive"

	defaultPageSize            = 20
	defaultMaxPageSize         = 100
	defaultUploadTimeoutSec    = 60
	defaultMaxUploadSizeMB     = 100
	defaultLoginRateLimit      = 15
	defaultReactionsRateLimit  = 120
	defaultMongoDBName         = "portfolio"
	defaultMediaDiskRootPath   = "./media"
	defaultKafkaRequestLogsTpc = "portfolio_request_logs"
)

type Config struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Environment string `toml:"environment"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// document store
	MongoHost   string `toml:"mongo_host"`
	MongoPort   string `toml:"mongo_port"`
	MongoDBName string `toml:"mongo_db_name"`
	// sessions and rate limiting
	RedisHost                       string `toml:"redis_host"`
	RedisPort                       string `toml:"redis_port"`
	LoginRateLimitAllowedPerMin     int    `toml:"login_rate_limit_allowed_per_min"`
	ReactionsRateLimitAllowedPerMin int    `toml:"reactions_rate_limit_allowed_per_min"`
	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
	// media
	MediaBackend          string `toml:"media_backend"`
	MediaDiskRootPath     string `toml:"media_disk_root_path"`
	MediaPublicBaseURL    string `toml:"media_public_base_url"`
	MediaUploadTimeoutSec int    `toml:"media_upload_timeout_sec"`
	MaxUploadSizeMB       int64  `toml:"max_upload_size_mb"`
	CloudinaryCloudName   string `toml:"cloudinary_cloud_name"`
	GDriveRootFolderName  string `toml:"gdrive_root_folder_name"`
	// posts listing
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
	// request logs shipping, disabled when no brokers are set
	KafkaBrokers          []string `toml:"kafka_brokers"`
	KafkaRequestLogsTopic string   `toml:"kafka_request_logs_topic"`
	// CORS
	AllowedOrigins []string `toml:"allowed_origins"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}

	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] not found", env)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config for env [%s]: %w", env, err)
	}

	return cfg, nil
}

// Load reads the TOML file at path and returns the config section for env.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return t.Get(env)
}

// Parse is like Load, but reads the TOML from a string.
func Parse(env, data string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(data, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return t.Get(env)
}

func (c *Config) setDefaults() {
	if c.MongoDBName == "" {
		c.MongoDBName = defaultMongoDBName
	}
	if c.MediaBackend == "" {
		c.MediaBackend = MediaBackendDisk
	}
	if c.MediaDiskRootPath == "" {
		c.MediaDiskRootPath = defaultMediaDiskRootPath
	}
	if c.MediaUploadTimeoutSec <= 0 {
		c.MediaUploadTimeoutSec = defaultUploadTimeoutSec
	}
	if c.MaxUploadSizeMB <= 0 {
		c.MaxUploadSizeMB = defaultMaxUploadSizeMB
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = defaultPageSize
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = defaultMaxPageSize
	}
	if c.LoginRateLimitAllowedPerMin <= 0 {
		c.LoginRateLimitAllowedPerMin = defaultLoginRateLimit
	}
	if c.ReactionsRateLimitAllowedPerMin <= 0 {
		c.ReactionsRateLimitAllowedPerMin = defaultReactionsRateLimit
	}
	if c.KafkaRequestLogsTopic == "" {
		c.KafkaRequestLogsTopic = defaultKafkaRequestLogsTpc
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 {
		return errors.New("port not set")
	}
	if c.MongoHost == "" || c.MongoPort == "" {
		return errors.New("mongo host/port not set")
	}
	switch c.MediaBackend {
	case MediaBackendDisk, MediaBackendCloudinary, MediaBackendGDrive:
	default:
		return fmt.Errorf("unknown media backend: %s", c.MediaBackend)
	}
	if c.MediaBackend == MediaBackendCloudinary && c.CloudinaryCloudName == "" {
		return errors.New("cloudinary media backend needs cloudinary_cloud_name")
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default page size %d exceeds max page size %d", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

// KafkaEnabled tells if request logs should be shipped to kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaRequestLogsTopic != ""
}
