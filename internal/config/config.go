package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Stream StreamConfig `mapstructure:"stream"`
	Badge  BadgeConfig  `mapstructure:"badge"`
}

// APIConfig holds REST collaborator configuration
type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// StreamConfig holds streaming connection configuration
type StreamConfig struct {
	URL string `mapstructure:"url"`
	// ReconnectDelay is the fixed delay before a reconnect attempt.
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	// MaxRetries bounds consecutive reconnect attempts. 0 means perpetual.
	MaxRetries     int           `mapstructure:"max_retries"`
	HandshakeWait  time.Duration `mapstructure:"handshake_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// BadgeConfig holds unread-badge notifier configuration
type BadgeConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// Load loads configuration from file. Environment variables with the
// DESK_ prefix override file values.
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("desk")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:3000"
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = 30 * time.Second
	}
	if c.Stream.URL == "" {
		c.Stream.URL = "ws://localhost:3000/ws/admin"
	}
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = 3 * time.Second
	}
	if c.Stream.HandshakeWait == 0 {
		c.Stream.HandshakeWait = 10 * time.Second
	}
	if c.Stream.MaxMessageSize == 0 {
		c.Stream.MaxMessageSize = 51200
	}
	if c.Badge.KeyPrefix == "" {
		c.Badge.KeyPrefix = "supportdesk:"
	}
}
