// Package config provides application configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// STUDYPAL_CONFIG_PATH, then environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // STUDYPAL_TIMEZONE must resolve on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// Config holds the application server configuration.
type Config struct {
	Port            string                `yaml:"port"`
	FrontendURL     string                `yaml:"frontend_url"`
	DBPath          string                `yaml:"db_path"`
	Timezone        string                `yaml:"timezone"`
	LogLevel        string                `yaml:"log_level"`
	TrustUserHeader bool                  `yaml:"trust_user_header"`
	Remote          RemoteConfig          `yaml:"remote"`
	Agent           AgentConfig           `yaml:"agent"`
	Notify          NotifyConfig          `yaml:"notify"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	ConversationLog ConversationLogConfig `yaml:"conversation_log"`
}

// RemoteConfig points at the record service. An empty URL runs cache-only.
type RemoteConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
}

// AgentConfig controls the model service connection.
type AgentConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"`
	APIKeys        []string      `yaml:"api_keys"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	KeyCooldown    time.Duration `yaml:"key_cooldown"`
}

// NotifyConfig tunes the per-device notification schedulers.
type NotifyConfig struct {
	IdleTTL     time.Duration `yaml:"idle_ttl"`
	NagDelay    time.Duration `yaml:"nag_delay"`
	NagInterval time.Duration `yaml:"nag_interval"`
	Icon        string        `yaml:"icon"`
}

// RateLimitConfig limits chat requests per user.
type RateLimitConfig struct {
	RequestsPerWindow  int           `yaml:"requests_per_window"`
	WindowDuration     time.Duration `yaml:"window"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:     "8080",
		DBPath:   "./data/studypal.db",
		LogLevel: "info",
		Remote: RemoteConfig{
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   8 * time.Second,
			ReplayInterval: 30 * time.Second,
		},
		Agent: AgentConfig{
			Address:        "localhost:50051",
			ConnectTimeout: 5 * time.Second,
			RequestTimeout: 30 * time.Second,
			KeyCooldown:    time.Minute,
		},
		Notify: NotifyConfig{
			IdleTTL:     30 * time.Minute,
			NagDelay:    10 * time.Minute,
			NagInterval: 5 * time.Minute,
			Icon:        "/icons/icon-192.png",
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow:  10,
			WindowDuration:     time.Minute,
			MaxRequestBodySize: 64 << 10,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:    true,
			Dir:        "./data/logs/conversations",
			GlobalPath: "./data/logs/conversations/all.ndjson",
			QueueSize:  1000,
		},
	}
}

// Load reads configuration from defaults, the optional YAML file and the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("STUDYPAL_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.FrontendURL = getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.Timezone = getEnv("STUDYPAL_TIMEZONE", cfg.Timezone)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.TrustUserHeader = getEnvBool("TRUST_USER_HEADER", cfg.TrustUserHeader)

	cfg.Remote.URL = getEnv("STUDYPAL_REMOTE_URL", cfg.Remote.URL)
	cfg.Remote.Token = getEnv("STUDYPAL_REMOTE_TOKEN", cfg.Remote.Token)
	cfg.Remote.ReadTimeout = getEnvDuration("REMOTE_READ_TIMEOUT", cfg.Remote.ReadTimeout)
	cfg.Remote.WriteTimeout = getEnvDuration("REMOTE_WRITE_TIMEOUT", cfg.Remote.WriteTimeout)
	cfg.Remote.ReplayInterval = getEnvDuration("OUTBOX_REPLAY_INTERVAL", cfg.Remote.ReplayInterval)

	cfg.Agent.Enabled = getEnvBool("AGENT_ENABLED", cfg.Agent.Enabled)
	cfg.Agent.Address = getEnv("AGENT_GRPC_ADDR", cfg.Agent.Address)
	cfg.Agent.APIKeys = getEnvList("AGENT_API_KEYS", cfg.Agent.APIKeys)
	cfg.Agent.ConnectTimeout = getEnvDuration("AGENT_CONNECT_TIMEOUT", cfg.Agent.ConnectTimeout)
	cfg.Agent.RequestTimeout = getEnvDuration("AGENT_REQUEST_TIMEOUT", cfg.Agent.RequestTimeout)
	cfg.Agent.KeyCooldown = getEnvDuration("AGENT_KEY_COOLDOWN", cfg.Agent.KeyCooldown)

	cfg.Notify.IdleTTL = getEnvDuration("SCHEDULER_IDLE_TTL", cfg.Notify.IdleTTL)
	cfg.Notify.NagDelay = getEnvDuration("NAG_DELAY", cfg.Notify.NagDelay)
	cfg.Notify.NagInterval = getEnvDuration("NAG_INTERVAL", cfg.Notify.NagInterval)
	cfg.Notify.Icon = getEnv("NOTIFICATION_ICON", cfg.Notify.Icon)

	cfg.RateLimit.RequestsPerWindow = getEnvInt("CHAT_RATE_LIMIT", cfg.RateLimit.RequestsPerWindow)
	cfg.RateLimit.WindowDuration = getEnvDuration("CHAT_RATE_WINDOW", cfg.RateLimit.WindowDuration)
	cfg.RateLimit.MaxRequestBodySize = int64(getEnvInt("CHAT_MAX_BODY_BYTES", int(cfg.RateLimit.MaxRequestBodySize)))

	cfg.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", cfg.ConversationLog.Enabled)
	cfg.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", cfg.ConversationLog.Dir)
	cfg.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", cfg.ConversationLog.GlobalEnabled)
	cfg.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", cfg.ConversationLog.GlobalPath)
	cfg.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", cfg.ConversationLog.QueueSize)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("STUDYPAL_REMOTE_URL must be an absolute URL")
		}
	}
	if c.Remote.ReadTimeout <= 0 || c.Remote.WriteTimeout <= 0 {
		return fmt.Errorf("remote timeouts must be > 0")
	}
	if c.Remote.ReplayInterval <= 0 {
		return fmt.Errorf("OUTBOX_REPLAY_INTERVAL must be > 0")
	}
	if c.Agent.Enabled && c.Agent.Address == "" {
		return fmt.Errorf("AGENT_GRPC_ADDR cannot be empty when the agent is enabled")
	}
	if c.Notify.NagDelay <= 0 || c.Notify.NagInterval <= 0 {
		return fmt.Errorf("nag timing must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("CHAT_RATE_WINDOW must be > 0")
	}
	if c.ConversationLog.Enabled {
		if c.ConversationLog.Dir == "" {
			return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
		}
		if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
			return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
		}
		if c.ConversationLog.QueueSize <= 0 {
			return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// Location returns the zone that decides calendar days and quiet hours.
// An empty Timezone means the host's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid STUDYPAL_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ParseLogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// RecorddConfig holds the record service configuration.
type RecorddConfig struct {
	Port     string `yaml:"port"`
	DBPath   string `yaml:"db_path"`
	Token    string `yaml:"token"`
	LogLevel string `yaml:"log_level"`
}

// LoadRecordd reads the record service configuration. The optional YAML file
// is named by RECORDD_CONFIG_PATH.
func LoadRecordd() (*RecorddConfig, error) {
	cfg := RecorddConfig{
		Port:     "8090",
		DBPath:   "./data/records.db",
		LogLevel: "info",
	}
	if path := os.Getenv("RECORDD_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("RECORDD_PORT", cfg.Port)
	cfg.DBPath = getEnv("RECORDD_DB_PATH", cfg.DBPath)
	cfg.Token = getEnv("RECORDD_TOKEN", cfg.Token)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.Port == "" {
		return nil, fmt.Errorf("invalid configuration: RECORDD_PORT cannot be empty")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("invalid configuration: RECORDD_DB_PATH cannot be empty")
	}
	return &cfg, nil
}

func loadFromFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated variable. Blank items are dropped.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
