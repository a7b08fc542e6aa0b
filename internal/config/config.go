package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"slotline/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Transport    TransportConfig    `yaml:"transport"`
	NLU          NLUConfig          `yaml:"nlu"`
	Conversation ConversationConfig `yaml:"conversation"`
	Booking      BookingConfig      `yaml:"booking"`
	Reaper       ReaperConfig       `yaml:"reaper"`
	Outbound     OutboundConfig     `yaml:"outbound"`
	API          APIConfig          `yaml:"api"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
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

// TransportConfig describes the SMS provider webhook contract.
type TransportConfig struct {
	BaseURL         string `yaml:"base_url"`
	AuthToken       string `yaml:"auth_token"` // signs webhook payloads
	FromNumber      string `yaml:"from_number"`
	ValidateWebhook bool   `yaml:"validate_webhook"`
	QuietHoursStart int    `yaml:"quiet_hours_start"` // local hour, inclusive
	QuietHoursEnd   int    `yaml:"quiet_hours_end"`   // local hour, exclusive
}

type NLUConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
	BusinessName  string        `yaml:"business_name"`
	SupportNumber string        `yaml:"support_number"`
}

type ConversationConfig struct {
	TTLHours          int `yaml:"ttl_hours"`
	MaxRetries        int `yaml:"max_retries"`
	PresentLimit      int `yaml:"present_limit"`
	SearchWindowDays  int `yaml:"search_window_days"`
	RateLimitMessages int `yaml:"rate_limit_messages"`
	RateLimitWindow   int `yaml:"rate_limit_window"`
}

type BookingConfig struct {
	MinAdvanceMinutes int `yaml:"min_advance_minutes"`
	MaxWindowDays     int `yaml:"max_window_days"`
}

type ReaperConfig struct {
	Interval      time.Duration `yaml:"interval"`
	NotifyTimeout bool          `yaml:"notify_timeout"`
}

type OutboundConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
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

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	HealthCheckPort   int  `yaml:"health_check_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен, но если есть — подхватываем
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Transport.ValidateWebhook && c.Transport.AuthToken == "" {
		return errors.New("transport auth token is required when webhook validation is enabled")
	}
	if c.NLU.MinConfidence < 0 || c.NLU.MinConfidence > 1 {
		return fmt.Errorf("nlu min_confidence must be within [0, 1], got %v", c.NLU.MinConfidence)
	}
	if c.Transport.QuietHoursStart < 0 || c.Transport.QuietHoursStart > 23 ||
		c.Transport.QuietHoursEnd < 0 || c.Transport.QuietHoursEnd > 24 {
		return errors.New("quiet hours must be valid hours of day")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.NLU.Timeout == 0 {
		c.NLU.Timeout = 10 * time.Second
	}
	if c.NLU.MinConfidence == 0 {
		c.NLU.MinConfidence = 0.6
	}
	if c.Conversation.TTLHours == 0 {
		c.Conversation.TTLHours = models.DefaultConversationTTLHours
	}
	if c.Conversation.MaxRetries == 0 {
		c.Conversation.MaxRetries = models.MaxParseRetries
	}
	if c.Conversation.PresentLimit == 0 {
		c.Conversation.PresentLimit = models.DefaultPresentLimit
	}
	if c.Conversation.SearchWindowDays == 0 {
		c.Conversation.SearchWindowDays = models.DefaultSearchWindowDays
	}
	if c.Conversation.RateLimitMessages == 0 {
		c.Conversation.RateLimitMessages = models.RateLimitMessages
	}
	if c.Conversation.RateLimitWindow == 0 {
		c.Conversation.RateLimitWindow = models.RateLimitWindow
	}
	if c.Booking.MaxWindowDays == 0 {
		c.Booking.MaxWindowDays = 90
	}
	if c.Reaper.Interval == 0 {
		c.Reaper.Interval = 5 * time.Minute
	}
	if c.Outbound.PollInterval == 0 {
		c.Outbound.PollInterval = 2 * time.Second
	}
	if c.Outbound.BatchSize == 0 {
		c.Outbound.BatchSize = 20
	}
	if c.Outbound.MaxRetries == 0 {
		c.Outbound.MaxRetries = 5
	}
	if c.API.Enabled && !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 5
	}
}
