package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/progrium/clon-go"
	"github.com/progrium/dchan-go/codec"
	"github.com/progrium/dchan-go/datachannel"
	"github.com/spf13/viper"
)

// Config is the CLI configuration, read from an optional YAML file and
// DCHAN_* environment variables.
type Config struct {
	Log LogConfig `mapstructure:"log"`

	// Channel holds datachannel.Config settings keyed by their
	// mapstructure names.
	Channel map[string]any `mapstructure:"channel"`

	// Codec names the frame codec for framed transports: cbor, json or
	// msgpack. Both ends must agree.
	Codec string `mapstructure:"codec"`

	// Advertise is the mDNS instance name listeners announce. Empty
	// disables advertising.
	Advertise string `mapstructure:"advertise"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// File is written instead of stderr when set.
	File     string         `mapstructure:"file"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls rotation of the log file.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

var channelKeys = []string{
	"default_channel",
	"closing_poll_interval",
	"closing_poll_threshold",
	"freshness_window",
	"close_delay",
	"buffered_amount_low_threshold",
}

// LoadConfig reads path if non-empty, otherwise DCHAN_CONFIG or dchan.yaml
// in the working directory or ~/.dchan. Only a file named by path or
// DCHAN_CONFIG has to exist.
// Environment variables use the prefix DCHAN with dots replaced by
// underscores, e.g. DCHAN_LOG_LEVEL=debug or DCHAN_CHANNEL_CLOSE_DELAY=1s.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DCHAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.rotation.enable", false)
	v.SetDefault("log.rotation.max_size_mb", 10)
	v.SetDefault("log.rotation.max_backups", 3)
	v.SetDefault("log.rotation.max_age_days", 28)
	v.SetDefault("log.rotation.compress", false)
	v.SetDefault("codec", "cbor")
	v.SetDefault("advertise", "")
	for _, k := range channelKeys {
		if err := v.BindEnv("channel." + k); err != nil {
			return nil, err
		}
	}

	if path == "" {
		path = os.Getenv("DCHAN_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dchan")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dchan"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return nil, fmt.Errorf("invalid log.level: %q", cfg.Log.Level)
	}
	if _, ok := codec.ByName(cfg.Codec); !ok {
		return nil, fmt.Errorf("invalid codec: %q", cfg.Codec)
	}
	return &cfg, nil
}

// ChannelConfig merges inline key=value overrides over the configured
// channel settings and decodes the result.
func (c *Config) ChannelConfig(overrides []string) (datachannel.Config, error) {
	m := make(map[string]any)
	for k, v := range c.Channel {
		m[k] = v
	}
	if len(overrides) > 0 {
		parsed, err := clon.Parse(overrides)
		if err != nil {
			return datachannel.Config{}, err
		}
		kv, ok := parsed.(map[string]any)
		if !ok {
			return datachannel.Config{}, fmt.Errorf("options must be key=value pairs: %v", overrides)
		}
		for k, v := range kv {
			m[k] = v
		}
	}
	return datachannel.ConfigFromMap(m)
}
