// Package config loads service configuration from defaults, an optional YAML file,
// IM_CHAT_* environment variables and command-line overrides, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "IM_CHAT"

type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Registry RegistryConfig `mapstructure:"registry"`
	Pubsub   PubsubConfig   `mapstructure:"pubsub"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Presence PresenceConfig `mapstructure:"presence"`
	Tracing  TracingConfig  `mapstructure:"tracing"`

	// LogLevel follows service.log_level and is updated in place when the config file changes.
	LogLevel *slog.LevelVar `mapstructure:"-"`
}

type ServiceConfig struct {
	Addr            string        `mapstructure:"addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogJSON         bool          `mapstructure:"log_json"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	GlobalCapacity  int           `mapstructure:"global_capacity"`
	PrivateCapacity int           `mapstructure:"private_capacity"`
	CursorTTL       time.Duration `mapstructure:"cursor_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

type RegistryConfig struct {
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	BufferSize  int           `mapstructure:"buffer_size"`
}

// PubsubConfig selects the bus. An empty AMQPURL keeps everything on an in-process channel.
type PubsubConfig struct {
	AMQPURL      string        `mapstructure:"amqp_url"`
	InboundTopic string        `mapstructure:"inbound_topic"`
	PoisonTopic  string        `mapstructure:"poison_topic"`
	EventsTopic  string        `mapstructure:"events_topic"`
	Throttle     int64         `mapstructure:"throttle_per_second"`
	HandlerTTL   time.Duration `mapstructure:"handler_timeout"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type PresenceConfig struct {
	ActiveWindow  time.Duration `mapstructure:"active_window"`
	DirectorySize int           `mapstructure:"directory_size"`
}

type TracingConfig struct {
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// ExportLogs copies every log record into the OpenTelemetry log pipeline.
	ExportLogs bool `mapstructure:"export_logs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.addr", ":8000")
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.log_json", true)
	v.SetDefault("service.shutdown_timeout", 10*time.Second)
	v.SetDefault("service.allowed_origins", []string{})

	v.SetDefault("database.path", "./data/chat.db")

	v.SetDefault("cache.global_capacity", 1000)
	v.SetDefault("cache.private_capacity", 1000)
	v.SetDefault("cache.cursor_ttl", 300*time.Second)
	v.SetDefault("cache.sweep_interval", 15*time.Second)

	v.SetDefault("registry.send_timeout", 500*time.Millisecond)
	v.SetDefault("registry.buffer_size", 256)

	v.SetDefault("pubsub.amqp_url", "")
	v.SetDefault("pubsub.inbound_topic", "im_chat.inbound.message.v1")
	v.SetDefault("pubsub.poison_topic", "im_chat.inbound.message.v1.poison")
	v.SetDefault("pubsub.events_topic", "im_chat.events")
	v.SetDefault("pubsub.throttle_per_second", 100)
	v.SetDefault("pubsub.handler_timeout", 30*time.Second)

	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", 60*time.Second)
	v.SetDefault("breaker.timeout", 5*time.Second)
	v.SetDefault("breaker.failure_threshold", 5)

	v.SetDefault("presence.active_window", 11*time.Second)
	v.SetDefault("presence.directory_size", 4096)

	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.export_logs", false)
}

// flagSet declares the overrides accepted after "--" on the command line.
func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("im-chat-delivery", pflag.ContinueOnError)
	fs.String("service.addr", ":8000", "HTTP listen address")
	fs.String("service.log_level", "info", "debug, info, warn or error")
	fs.String("database.path", "./data/chat.db", "sqlite database file")
	fs.Int("cache.global_capacity", 1000, "global message window size")
	fs.Int("cache.private_capacity", 1000, "per-conversation window size")
	fs.Duration("cache.cursor_ttl", 300*time.Second, "idle time before a read cursor is dropped")
	fs.String("pubsub.amqp_url", "", "AMQP broker URL; empty keeps the bus in-process")
	return fs
}

// LoadConfig builds the configuration. path may be empty; args are pflag-style overrides.
func LoadConfig(path string, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}
	// Only flags set explicitly override lower layers.
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.LogLevel = new(slog.LevelVar)
	cfg.LogLevel.Set(ParseLevel(cfg.Service.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if path != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			lvl := ParseLevel(v.GetString("service.log_level"))
			cfg.LogLevel.Set(lvl)
			slog.Info("CONFIG_RELOADED", "file", e.Name, "log_level", lvl.String())
		})
		v.WatchConfig()
	}

	return cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Service.Addr == "" {
		errs = append(errs, errors.New("service.addr cannot be empty"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path cannot be empty"))
	}
	if c.Cache.GlobalCapacity <= 0 || c.Cache.PrivateCapacity <= 0 {
		errs = append(errs, errors.New("cache capacities must be > 0"))
	}
	if c.Cache.CursorTTL <= 0 || c.Cache.SweepInterval <= 0 {
		errs = append(errs, errors.New("cache.cursor_ttl and cache.sweep_interval must be > 0"))
	}
	if c.Registry.BufferSize <= 0 {
		errs = append(errs, errors.New("registry.buffer_size must be > 0"))
	}
	if c.Pubsub.InboundTopic == "" || c.Pubsub.EventsTopic == "" {
		errs = append(errs, errors.New("pubsub.inbound_topic and pubsub.events_topic cannot be empty"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
