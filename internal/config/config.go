package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the system-wide settings tree. Values resolve in layers:
// compiled defaults, then environment variables with the PULSEWIRE_ prefix,
// then an optional YAML file.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WebSocketConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	BufferSize        int           `mapstructure:"buffer_size"`
}

type RegistryConfig struct {
	MaxConnectionsPerRoom int `mapstructure:"max_connections_per_room"`
}

// QueueConfig selects and tunes the offline queue backend. Backend is one of
// "memory", "sqlite", or "redis".
type QueueConfig struct {
	Backend       string        `mapstructure:"backend"`
	MaxSize       int           `mapstructure:"max_size"`
	MessageTTL    time.Duration `mapstructure:"message_ttl"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// LoggingConfig controls the zap logger. File is optional; when set, output
// also goes to a size-rotated log file.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)

	v.SetDefault("websocket.heartbeat_interval", 30*time.Second)
	v.SetDefault("websocket.heartbeat_timeout", 5*time.Minute)
	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.buffer_size", 256)

	v.SetDefault("registry.max_connections_per_room", 500)

	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.max_size", 100)
	v.SetDefault("queue.message_ttl", time.Hour)
	v.SetDefault("queue.sqlite_path", "./pulsewire.db")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply; a non-empty path must point at a
// readable YAML file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PULSEWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the compiled-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.WebSocket.HeartbeatInterval <= 0 {
		return fmt.Errorf("WebSocket heartbeat interval must be positive")
	}
	if c.WebSocket.HeartbeatTimeout <= c.WebSocket.HeartbeatInterval {
		return fmt.Errorf("WebSocket heartbeat timeout must exceed the heartbeat interval")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Registry.MaxConnectionsPerRoom <= 0 {
		return fmt.Errorf("registry max connections per room must be positive")
	}

	switch c.Queue.Backend {
	case "memory":
	case "sqlite":
		if c.Queue.SQLitePath == "" {
			return fmt.Errorf("queue sqlite path cannot be empty")
		}
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue redis address cannot be empty")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("queue max size must be positive")
	}
	if c.Queue.MessageTTL <= 0 {
		return fmt.Errorf("queue message TTL must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}

	return nil
}
