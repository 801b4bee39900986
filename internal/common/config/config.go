package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/danyal-tariq/MeetUpSync/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// RelayConfig is the top-level configuration for the relay server.
	RelayConfig struct {
		Port     int            `yaml:"port"`
		Logger   LoggerConfig   `yaml:"logger"`
		Gateway  GatewayConfig  `yaml:"gateway"`
		Monitor  MonitorConfig  `yaml:"monitor"`
		Auth     AuthConfig     `yaml:"auth"`
		Presence PresenceConfig `yaml:"presence"`
		Storage  StorageConfig  `yaml:"storage"`
		Metrics  MetricsConfig  `yaml:"metrics"`
	}

	// GatewayConfig tunes the per-connection transport behaviour.
	GatewayConfig struct {
		Path            string `yaml:"path"`              // WebSocket endpoint path, default "/ws"
		SendQueueSize   int    `yaml:"send_queue_size"`   // per-connection outbound queue, default 64
		MaxMessageBytes int64  `yaml:"max_message_bytes"` // inbound read limit, default 64KiB
	}

	// MonitorConfig tunes the liveness probe loop.
	MonitorConfig struct {
		Interval time.Duration `yaml:"interval"` // probe period, default 30s
	}

	// AuthConfig selects how a connecting client is authenticated.
	AuthConfig struct {
		Mode string    `yaml:"mode"` // "none" or "jwt"
		JWT  JWTConfig `yaml:"jwt"`
	}

	// JWTConfig configures token verification for authenticated presence.
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	// PresenceConfig selects the optional cross-process presence mirror.
	PresenceConfig struct {
		Type  string              `yaml:"type"`  // "memory" or "redis"
		Redis PresenceRedisConfig `yaml:"redis"` // Redis configuration
	}

	// PresenceRedisConfig is the Redis configuration for the presence mirror.
	PresenceRedisConfig struct {
		Addr     string        `yaml:"addr"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Topic    string        `yaml:"topic"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"` // TTL for presence keys in Redis
	}

	// StorageConfig selects the persistence collaborator for relayed chat
	// messages. The relay never blocks on it.
	StorageConfig struct {
		Type      string `yaml:"type"`       // none, sqlite, mysql or postgres
		Host      string `yaml:"host"`       // localhost
		Port      int    `yaml:"port"`       // 3306 (mysql), 5432 (postgres)
		User      string `yaml:"user"`       // root (mysql), postgres (postgres)
		Password  string `yaml:"password"`   // password
		DBName    string `yaml:"dbname"`     // database name or sqlite file path
		SSLMode   string `yaml:"sslmode"`    // disable (postgres)
		QueueSize int    `yaml:"queue_size"` // async writer buffer, default 256
	}

	// MetricsConfig configures the prometheus metrics surface.
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
	}
)

// GetDSN returns the PostgreSQL connection string for the storage backend.
func (c *StorageConfig) GetDSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, sslmode)
}

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*RelayConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg RelayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.setDefaults()
	return &cfg, cfgPath, nil
}

func (c *RelayConfig) setDefaults() {
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.Gateway.Path == "" {
		c.Gateway.Path = "/ws"
	}
	if c.Gateway.SendQueueSize <= 0 {
		c.Gateway.SendQueueSize = 64
	}
	if c.Gateway.MaxMessageBytes <= 0 {
		c.Gateway.MaxMessageBytes = 64 * 1024
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = 30 * time.Second
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "none"
	}
	if c.Presence.Type == "" {
		c.Presence.Type = "memory"
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "none"
	}
	if c.Storage.QueueSize <= 0 {
		c.Storage.QueueSize = 256
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
