package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator. Precedence:
// file > environment > defaults.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Realtime  *RealtimeConfig  `json:"realtime"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type AuthConfig struct {
	Secret string `json:"secret"`
}

// RealtimeConfig covers the periodic work: heartbeat broadcast and
// recurring stream pushes.
type RealtimeConfig struct {
	HeartbeatInterval  time.Duration `json:"heartbeat_interval"`
	StreamPushInterval time.Duration `json:"stream_push_interval"`
	CommandsPerMinute  int           `json:"commands_per_minute"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./teampulse.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			Secret: "",
		},
		Realtime: &RealtimeConfig{
			HeartbeatInterval:  30 * time.Second,
			StreamPushInterval: 15 * time.Second,
			CommandsPerMinute:  120,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.Auth == nil || c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	if c.Realtime == nil {
		return fmt.Errorf("realtime configuration is required")
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Realtime.StreamPushInterval <= 0 {
		return fmt.Errorf("stream push interval must be positive")
	}
	if c.Realtime.CommandsPerMinute <= 0 {
		return fmt.Errorf("commands per minute must be positive")
	}
	return nil
}

// LoadFromEnv overlays TEAMPULSE_* environment variables on the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("TEAMPULSE_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("TEAMPULSE_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("TEAMPULSE_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if secret := os.Getenv("TEAMPULSE_AUTH_SECRET"); secret != "" {
		config.Auth.Secret = secret
	}

	setDuration := func(env string, dst *time.Duration) {
		if raw := os.Getenv(env); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				*dst = d
			}
		}
	}
	setDuration("TEAMPULSE_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	setDuration("TEAMPULSE_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	setDuration("TEAMPULSE_DATABASE_TIMEOUT", &config.Database.Timeout)
	setDuration("TEAMPULSE_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	setDuration("TEAMPULSE_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	setDuration("TEAMPULSE_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	setDuration("TEAMPULSE_HEARTBEAT_INTERVAL", &config.Realtime.HeartbeatInterval)
	setDuration("TEAMPULSE_STREAM_PUSH_INTERVAL", &config.Realtime.StreamPushInterval)

	if bufferSize := os.Getenv("TEAMPULSE_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}
	if limit := os.Getenv("TEAMPULSE_COMMANDS_PER_MINUTE"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Realtime.CommandsPerMinute = n
		}
	}

	return config
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		Host         string `json:"host"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		BufferSize   int    `json:"buffer_size"`
	} `json:"websocket"`
	Auth *struct {
		Secret string `json:"secret"`
	} `json:"auth"`
	Realtime *struct {
		HeartbeatInterval  string `json:"heartbeat_interval"`
		StreamPushInterval string `json:"stream_push_interval"`
		CommandsPerMinute  int    `json:"commands_per_minute"`
	} `json:"realtime"`
}

// LoadFromFile reads a JSON configuration file over env-derived settings.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := LoadFromEnv()

	parse := func(raw string, dst *time.Duration) {
		if raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				*dst = d
			}
		}
	}

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		parse(file.Database.Timeout, &config.Database.Timeout)
	}
	if file.HTTP != nil {
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		parse(file.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		parse(file.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		parse(file.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		parse(file.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		parse(file.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
	}
	if file.Auth != nil && file.Auth.Secret != "" {
		config.Auth.Secret = file.Auth.Secret
	}
	if file.Realtime != nil {
		parse(file.Realtime.HeartbeatInterval, &config.Realtime.HeartbeatInterval)
		parse(file.Realtime.StreamPushInterval, &config.Realtime.StreamPushInterval)
		if file.Realtime.CommandsPerMinute > 0 {
			config.Realtime.CommandsPerMinute = file.Realtime.CommandsPerMinute
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// LoadWithPrecedence resolves the effective configuration. File errors fall
// back to environment/defaults so a missing optional file never blocks
// startup.
func LoadWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()
	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}
	return config
}
