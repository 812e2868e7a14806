package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"ridequeue/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Queue         QueueConfig         `yaml:"queue"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Exports       ExportConfig        `yaml:"exports"`
	Google        GoogleConfig        `yaml:"google"`
}

type QueueConfig struct {
	ConflictRetries   int           `yaml:"conflict_retries"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	SyncRateLimit     int           `yaml:"desktop_sync_rate_limit"`
	SyncRateWindow    time.Duration `yaml:"desktop_sync_rate_window"`
}

type NotificationsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
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
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	JWTSecret    string         `yaml:"jwt_secret"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
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
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
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
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	QueueSpreadsheetID    string `yaml:"queue_spreadsheet_id"`
	QueueSheetName        string `yaml:"queue_sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	config := newConfig()
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// newConfig holds the defaults a zero value cannot express. Keys absent from
// the YAML keep them.
func newConfig() Config {
	return Config{
		Queue: QueueConfig{ConflictRetries: models.DefaultConflictRetries},
	}
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Queue.ConflictRetries < 0 {
		return errors.New("queue.conflict_retries must not be negative")
	}

	if c.Notifications.Telegram.Enabled {
		token := c.Notifications.Telegram.BotToken
		if token == "" || token == "YOUR_BOT_TOKEN_HERE" {
			return errors.New("telegram bot token is required when notifications are enabled")
		}
		if c.Notifications.Telegram.ChatID == 0 {
			return errors.New("telegram chat_id is required when notifications are enabled")
		}
	}

	if c.Google.Enabled && (c.Google.GoogleCredentialsFile == "" || c.Google.QueueSpreadsheetID == "") {
		return errors.New("google credentials_file and queue_spreadsheet_id are required when mirroring is enabled")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

// ValidateAPIKeys rejects empty and repeated keys.
func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "ridequeue"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	// Queue defaults. An explicit conflict_retries: 0 disables local retries,
	// so its default is seeded by newConfig instead.
	if c.Queue.RetryInitialDelay == 0 {
		c.Queue.RetryInitialDelay = 10 * time.Millisecond
	}
	if c.Queue.RetryMaxDelay == 0 {
		c.Queue.RetryMaxDelay = 200 * time.Millisecond
	}
	if c.Queue.SyncRateLimit == 0 {
		c.Queue.SyncRateLimit = models.DesktopSyncRateLimit
	}
	if c.Queue.SyncRateWindow == 0 {
		c.Queue.SyncRateWindow = models.DesktopSyncRateWindow * time.Second
	}

	if c.Google.QueueSheetName == "" {
		c.Google.QueueSheetName = models.ExportSheetName
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
