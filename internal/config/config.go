// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	MaxConns    int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// VideoGenConfig wires the upstream video-generation API endpoint and its
// shared HTTP pool.
type VideoGenConfig struct {
	BaseURL                    string `yaml:"base_url"`
	ProjectID                  string `yaml:"project_id"`
	UpstreamConnectionPoolSize int    `yaml:"upstream_connection_pool_size"`
	FallbackAPIKey             string `yaml:"fallback_api_key"`
}

// MediaConfig wires the media-host re-hosting endpoint.
type MediaConfig struct {
	UploadURL string `yaml:"upload_url"`
	Preset    string `yaml:"preset"`
}

// TokenPoolConfig carries the batch-rotation and error-cooldown tunables
// of spec.md §4.2.
type TokenPoolConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	ErrorWindowMinutes int           `yaml:"error_window_minutes"`
	ErrorThreshold     int           `yaml:"error_threshold"`
	CooldownHours      int           `yaml:"cooldown_hours"`
}

// QueueConfig carries the Submission Queue's pacing and concurrency
// tunables of spec.md §4.4.
type QueueConfig struct {
	MaxConcurrentSubmissions int `yaml:"max_concurrent_submissions"`
	JobMaxRetries            int `yaml:"job_max_retries"`
	RetryDelaySeconds        int `yaml:"retry_delay_seconds"`
}

// PollingConfig carries the Polling Coordinator's tunables of spec.md §4.5.
type PollingConfig struct {
	MaxConcurrentWorkers int `yaml:"max_concurrent_workers"`
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
	MaxPollAttempts      int `yaml:"max_poll_attempts"`
	TokenRetryAttempt    int `yaml:"token_retry_attempt"`
	HeartbeatSeconds     int `yaml:"heartbeat_seconds"`
}

// HousekeeperConfig carries the daily-reset and crash-recovery tunables of
// spec.md §4.7 and §9.
type HousekeeperConfig struct {
	DailyResetTimezone string `yaml:"daily_reset_timezone"`
	StaleJobCutoffMins int    `yaml:"stale_job_cutoff_minutes"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
	JWTSecret     string `yaml:"jwt_secret"`
}

type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	VideoGen    VideoGenConfig    `yaml:"videogen"`
	Media       MediaConfig       `yaml:"media"`
	TokenPool   TokenPoolConfig   `yaml:"token_pool"`
	Queue       QueueConfig       `yaml:"queue"`
	Polling     PollingConfig     `yaml:"polling"`
	Housekeeper HousekeeperConfig `yaml:"housekeeper"`
	Security    SecurityConfig    `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.VideoGen.BaseURL == "" {
		return nil, errors.New("videogen.base_url is required")
	}
	if cfg.Security.EncryptionKey == "" {
		return nil, errors.New("security.encryption_key is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// applyDefaults fills every recognized option named in spec.md §6 with its
// documented default so an operator's config.yaml may omit any of them.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 40
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.VideoGen.UpstreamConnectionPoolSize <= 0 {
		cfg.VideoGen.UpstreamConnectionPoolSize = 40
	}
	if cfg.TokenPool.BatchSize <= 0 {
		cfg.TokenPool.BatchSize = 100
	}
	if cfg.TokenPool.ErrorWindowMinutes <= 0 {
		cfg.TokenPool.ErrorWindowMinutes = 20
	}
	if cfg.TokenPool.ErrorThreshold <= 0 {
		cfg.TokenPool.ErrorThreshold = 10
	}
	if cfg.TokenPool.CooldownHours <= 0 {
		cfg.TokenPool.CooldownHours = 2
	}
	if cfg.Queue.MaxConcurrentSubmissions <= 0 {
		cfg.Queue.MaxConcurrentSubmissions = 8
	}
	if cfg.Queue.JobMaxRetries <= 0 {
		cfg.Queue.JobMaxRetries = 2
	}
	if cfg.Queue.RetryDelaySeconds <= 0 {
		cfg.Queue.RetryDelaySeconds = 10
	}
	if cfg.Polling.MaxConcurrentWorkers <= 0 {
		cfg.Polling.MaxConcurrentWorkers = 20
	}
	if cfg.Polling.PollIntervalSeconds <= 0 {
		cfg.Polling.PollIntervalSeconds = 15
	}
	if cfg.Polling.MaxPollAttempts <= 0 {
		cfg.Polling.MaxPollAttempts = 240
	}
	if cfg.Polling.TokenRetryAttempt <= 0 {
		cfg.Polling.TokenRetryAttempt = 8
	}
	if cfg.Polling.HeartbeatSeconds <= 0 {
		cfg.Polling.HeartbeatSeconds = 60
	}
	if cfg.Housekeeper.DailyResetTimezone == "" {
		cfg.Housekeeper.DailyResetTimezone = "UTC"
	}
	if cfg.Housekeeper.StaleJobCutoffMins <= 0 {
		cfg.Housekeeper.StaleJobCutoffMins = 120
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
