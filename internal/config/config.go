// Package config provides configuration management for reelcast using Viper.
// It supports configuration from files, a .env file, environment variables,
// and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "REELCAST"

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultSlowThreshold     = 200 * time.Millisecond
	defaultProbeTimeout      = 3 * time.Second
	defaultWorkers           = 1
	defaultPollInterval      = time.Second
	defaultJobTimeout        = 2 * time.Hour
	defaultMaxAttempts       = 3
	defaultBackoffBase       = 2 * time.Second
	defaultStaleThreshold    = 3 * time.Hour
	defaultHistoryRetention  = 7 * 24 * time.Hour
	defaultCleanupSchedule   = "0 3 * * *"
	defaultFFprobeTimeout    = 30 * time.Second
	defaultThumbnailTimeout  = 15 * time.Second
	defaultCreditTimeout     = 10 * time.Second
	defaultCreditsPerFile    = 1
	defaultCreditsStoryExtra = 2
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Processing ProcessingConfig `mapstructure:"processing"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Credits    CreditsConfig    `mapstructure:"credits"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// Queue backends.
const (
	QueueBackendRedis    = "redis"
	QueueBackendDatabase = "database"
	QueueBackendNone     = "none"
)

// QueueConfig selects the durable job queue.
type QueueConfig struct {
	// Backend is redis, database, or none. none always runs in-process.
	Backend string `mapstructure:"backend"`
	// ProbeTimeout bounds the single reachability check made at startup.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the redis queue backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProcessingConfig holds worker and retry settings.
type ProcessingConfig struct {
	Workers           int           `mapstructure:"workers"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	MaxActivePerUser  int           `mapstructure:"max_active_per_user"` // 0 = unlimited
	StaleThreshold    time.Duration `mapstructure:"stale_threshold"`
	HistoryRetention  time.Duration `mapstructure:"history_retention"`
	CleanupSchedule   string        `mapstructure:"cleanup_schedule"` // 5-field cron
	DefaultPriority   int           `mapstructure:"default_priority"`
	ReprocessPriority int           `mapstructure:"reprocess_priority"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath       string        `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath        string        `mapstructure:"probe_path"`  // empty = auto-detect
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	ThumbnailTimeout time.Duration `mapstructure:"thumbnail_timeout"`
	LogLevel         string        `mapstructure:"log_level"`
}

// Output publishers.
const (
	PublisherLocal = "local"
	PublisherMinio = "minio"
)

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir      string      `mapstructure:"base_dir"`
	WorkDir      string      `mapstructure:"work_dir"`
	OutputDir    string      `mapstructure:"output_dir"`
	ThumbnailDir string      `mapstructure:"thumbnail_dir"`
	MusicDir     string      `mapstructure:"music_dir"` // empty = no background music
	Publisher    string      `mapstructure:"publisher"` // local, minio
	Minio        MinioConfig `mapstructure:"minio"`
}

// MinioConfig holds S3-compatible object store settings.
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

// CreditsConfig holds credit accounting settings.
type CreditsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	LedgerURL  string        `mapstructure:"ledger_url"`
	PerFile    int           `mapstructure:"per_file"`
	StoryExtra int           `mapstructure:"story_extra"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RequestLogging logs every HTTP request; when off only errors are logged.
	RequestLogging bool `mapstructure:"request_logging"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REELCAST_ and use underscores for
// nesting. Example: REELCAST_QUEUE_BACKEND=redis.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	return LoadWith(v, configPath)
}

// LoadWith reads configuration into an existing viper instance so callers
// can bind flags to it first.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/reelcast")
		v.AddConfigPath("$HOME/.reelcast")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reelcast.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", defaultSlowThreshold)

	v.SetDefault("queue.backend", QueueBackendDatabase)
	v.SetDefault("queue.probe_timeout", defaultProbeTimeout)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.username", "")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.key_prefix", "reelcast")

	v.SetDefault("processing.workers", defaultWorkers)
	v.SetDefault("processing.poll_interval", defaultPollInterval)
	v.SetDefault("processing.job_timeout", defaultJobTimeout)
	v.SetDefault("processing.max_attempts", defaultMaxAttempts)
	v.SetDefault("processing.backoff_base", defaultBackoffBase)
	v.SetDefault("processing.max_active_per_user", 0)
	v.SetDefault("processing.stale_threshold", defaultStaleThreshold)
	v.SetDefault("processing.history_retention", defaultHistoryRetention)
	v.SetDefault("processing.cleanup_schedule", defaultCleanupSchedule)
	v.SetDefault("processing.default_priority", 0)
	v.SetDefault("processing.reprocess_priority", 0)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", defaultFFprobeTimeout)
	v.SetDefault("ffmpeg.thumbnail_timeout", defaultThumbnailTimeout)
	v.SetDefault("ffmpeg.log_level", "error")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.work_dir", "work")
	v.SetDefault("storage.output_dir", "output")
	v.SetDefault("storage.thumbnail_dir", "thumbnails")
	v.SetDefault("storage.music_dir", "")
	v.SetDefault("storage.publisher", PublisherLocal)
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.access_key", "")
	v.SetDefault("storage.minio.secret_key", "")
	v.SetDefault("storage.minio.bucket", "reelcast")
	v.SetDefault("storage.minio.use_ssl", true)
	v.SetDefault("storage.minio.region", "")
	v.SetDefault("storage.minio.prefix", "outputs")

	v.SetDefault("credits.enabled", false)
	v.SetDefault("credits.ledger_url", "")
	v.SetDefault("credits.per_file", defaultCreditsPerFile)
	v.SetDefault("credits.story_extra", defaultCreditsStoryExtra)
	v.SetDefault("credits.timeout", defaultCreditTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", true)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validBackends := map[string]bool{QueueBackendRedis: true, QueueBackendDatabase: true, QueueBackendNone: true}
	if !validBackends[c.Queue.Backend] {
		return fmt.Errorf("queue.backend must be one of: redis, database, none")
	}
	if c.Queue.Backend == QueueBackendRedis && c.Queue.Redis.Addr == "" {
		return fmt.Errorf("queue.redis.addr is required for the redis backend")
	}
	if c.Queue.ProbeTimeout <= 0 {
		return fmt.Errorf("queue.probe_timeout must be positive")
	}

	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1")
	}
	if c.Processing.MaxAttempts < 1 {
		return fmt.Errorf("processing.max_attempts must be at least 1")
	}
	if c.Processing.BackoffBase <= 0 {
		return fmt.Errorf("processing.backoff_base must be positive")
	}
	if c.Processing.MaxActivePerUser < 0 {
		return fmt.Errorf("processing.max_active_per_user must not be negative")
	}
	if c.Processing.JobTimeout <= 0 {
		return fmt.Errorf("processing.job_timeout must be positive")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	switch c.Storage.Publisher {
	case PublisherLocal:
	case PublisherMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required for the minio publisher")
		}
	default:
		return fmt.Errorf("storage.publisher must be one of: local, minio")
	}

	if c.Credits.Enabled && c.Credits.LedgerURL == "" {
		return fmt.Errorf("credits.ledger_url is required when credits are enabled")
	}
	if c.Credits.PerFile < 0 || c.Credits.StoryExtra < 0 {
		return fmt.Errorf("credits.per_file and credits.story_extra must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkPath returns the directory merge and encode intermediates are staged in.
func (c *StorageConfig) WorkPath() string {
	return c.resolve(c.WorkDir)
}

// OutputPath returns the directory finished outputs are published to.
func (c *StorageConfig) OutputPath() string {
	return c.resolve(c.OutputDir)
}

// ThumbnailPath returns the directory thumbnails are written to.
func (c *StorageConfig) ThumbnailPath() string {
	return c.resolve(c.ThumbnailDir)
}

// MusicPath returns the background music library, or "" when none is set.
func (c *StorageConfig) MusicPath() string {
	if c.MusicDir == "" {
		return ""
	}
	return c.resolve(c.MusicDir)
}

func (c *StorageConfig) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.BaseDir, dir)
}
