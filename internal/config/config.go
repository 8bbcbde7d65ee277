package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	LockBackendDatabase = "database"
	LockBackendRedis    = "redis"

	DefaultConfigPath = "configs/config.yaml"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Storefront StorefrontConfig `yaml:"storefront"`
	Google     GoogleConfig     `yaml:"google"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Exports    ExportConfig     `yaml:"exports"`
	Sync       SyncConfig       `yaml:"sync"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
	Commands bool   `yaml:"commands"` // poll operator commands from ChatID
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StorefrontConfig struct {
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	APIVersion  string        `yaml:"api_version"`
	Timeout     time.Duration `yaml:"timeout"`
	RPS         float64       `yaml:"rps"`
	PageSize    int           `yaml:"page_size"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type GoogleConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
}

// SyncConfig holds the options recognised by the sync engine and orchestrator.
type SyncConfig struct {
	Enabled            *bool         `yaml:"enabled"`
	SessionDuration    int           `yaml:"session_duration"`
	BufferTime         int           `yaml:"buffer_time"`
	Timezone           string        `yaml:"timezone"`
	BatchSize          int           `yaml:"batch_size"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
	RetryJitter        float64       `yaml:"retry_jitter"`
	MaxSyncDuration    time.Duration `yaml:"max_sync_duration"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	Schedule           string        `yaml:"schedule"`
	Overlap            time.Duration `yaml:"overlap"`
	Lookback           time.Duration `yaml:"lookback"`
	DelayBetweenOrders time.Duration `yaml:"delay_between_orders"`
	LockBackend        string        `yaml:"lock_backend"`
	OrderLockTTL       time.Duration `yaml:"order_lock_ttl"`
	EventLabel         string        `yaml:"event_label"` // first line of event descriptions
}

// IsEnabled reports whether the periodic trigger should run.
func (s SyncConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Session returns the booked event length.
func (s SyncConfig) Session() time.Duration {
	return time.Duration(s.SessionDuration) * time.Minute
}

// Buffer returns the gap reserved after each session for conflict checks.
func (s SyncConfig) Buffer() time.Duration {
	return time.Duration(s.BufferTime) * time.Minute
}

// Location loads the configured time zone.
func (s SyncConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// PathFromEnv returns CONFIG_PATH or the default location.
func PathFromEnv() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultConfigPath
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	return ValidateSync(c.Sync)
}

func ValidateSync(s SyncConfig) error {
	if s.SessionDuration <= 0 {
		return fmt.Errorf("sync.session_duration must be positive, got %d", s.SessionDuration)
	}
	if s.BufferTime < 0 {
		return fmt.Errorf("sync.buffer_time must not be negative, got %d", s.BufferTime)
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", s.BatchSize)
	}
	if s.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive, got %d", s.MaxRetries)
	}
	for name, d := range map[string]time.Duration{
		"retry_base_delay":  s.RetryBaseDelay,
		"retry_max_delay":   s.RetryMaxDelay,
		"max_sync_duration": s.MaxSyncDuration,
		"sync_interval":     s.SyncInterval,
		"order_lock_ttl":    s.OrderLockTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("sync.%s must be positive", name)
		}
	}
	if s.RetryMaxDelay < s.RetryBaseDelay {
		return errors.New("sync.retry_max_delay must not be less than retry_base_delay")
	}
	if s.RetryJitter < 0 || s.RetryJitter > 1 {
		return fmt.Errorf("sync.retry_jitter must be within [0,1], got %v", s.RetryJitter)
	}
	switch s.LockBackend {
	case LockBackendDatabase, LockBackendRedis:
	default:
		return fmt.Errorf("unknown sync.lock_backend %q", s.LockBackend)
	}
	if _, err := s.Location(); err != nil {
		return fmt.Errorf("sync.timezone: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}

	if c.Storefront.APIVersion == "" {
		c.Storefront.APIVersion = "3.0"
	}
	if c.Storefront.Timeout == 0 {
		c.Storefront.Timeout = 30 * time.Second
	}
	if c.Storefront.RPS == 0 {
		c.Storefront.RPS = 2
	}
	if c.Storefront.PageSize == 0 {
		c.Storefront.PageSize = 50
	}
	if c.Storefront.MaxRetries == 0 {
		c.Storefront.MaxRetries = 3
	}
	if c.Storefront.RetryDelay == 0 {
		c.Storefront.RetryDelay = time.Second
	}
	c.Storefront.BaseURL = strings.TrimRight(c.Storefront.BaseURL, "/")

	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}

	ApplySyncDefaults(&c.Sync)
}

// ApplySyncDefaults fills zero sync options with their defaults.
func ApplySyncDefaults(s *SyncConfig) {
	if s.SessionDuration == 0 {
		s.SessionDuration = 60
	}
	if s.BufferTime == 0 {
		s.BufferTime = 15
	}
	if s.Timezone == "" {
		s.Timezone = "Asia/Manila"
	}
	if s.BatchSize == 0 {
		s.BatchSize = 50
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 5
	}
	if s.RetryBaseDelay == 0 {
		s.RetryBaseDelay = time.Minute
	}
	if s.RetryMaxDelay == 0 {
		s.RetryMaxDelay = 24 * time.Hour
	}
	if s.RetryJitter == 0 {
		s.RetryJitter = 0.3
	}
	if s.MaxSyncDuration == 0 {
		s.MaxSyncDuration = 10 * time.Minute
	}
	if s.SyncInterval == 0 {
		s.SyncInterval = 5 * time.Minute
	}
	if s.Overlap == 0 {
		s.Overlap = 5 * time.Minute
	}
	if s.Lookback == 0 {
		s.Lookback = 24 * time.Hour
	}
	if s.DelayBetweenOrders == 0 {
		s.DelayBetweenOrders = time.Second
	}
	if s.LockBackend == "" {
		s.LockBackend = LockBackendDatabase
	}
	if s.OrderLockTTL == 0 {
		s.OrderLockTTL = 5 * time.Minute
	}
	if s.EventLabel == "" {
		s.EventLabel = "Session"
	}
}
