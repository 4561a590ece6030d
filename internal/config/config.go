// Package config loads and validates the rqmirror configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (RQMIRROR_*) (highest priority)
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// There are no per-setting CLI flags; the --config flag only selects the
// configuration file. When no configuration file is found, Load returns
// DefaultConfig with defaults applied and environment variables are not read.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rqmirror/rqmirror/internal/bytesize"
)

// Config is the top-level rqmirror configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Share     string          `mapstructure:"share" validate:"required" yaml:"share"`
	Local     LocalConfig     `mapstructure:"local" yaml:"local"`
	Work      WorkConfig      `mapstructure:"work" yaml:"work"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Processor ProcessorConfig `mapstructure:"processor" yaml:"processor"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Admin     AdminConfig     `mapstructure:"admin" yaml:"admin"`

	// TempPatterns layers additional glob patterns atop pathutil's built-in
	// default temp-file set (.*, ~*, *.tmp, ~$*, .DS_Store, Thumbs.db).
	TempPatterns []string `mapstructure:"temp_patterns" yaml:"temp_patterns,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// LocalConfig configures the local cache tree.
type LocalConfig struct {
	// Path is the filesystem root of the local cache tree.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// WorkConfig configures the work tree (sync and creation markers).
type WorkConfig struct {
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// QueueConfig configures the durable request queue.
type QueueConfig struct {
	// Path is the BadgerDB directory backing the request queue.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`
}

// RemoteConfig selects and configures the remote tree backend.
type RemoteConfig struct {
	// Kind selects the RemoteTree implementation: "http" or "s3".
	Kind string `mapstructure:"kind" validate:"required,oneof=http s3" yaml:"kind"`

	// BaseURL is the content repository's base URL (Kind=="http").
	BaseURL string `mapstructure:"base_url" validate:"required_if=Kind http" yaml:"base_url,omitempty"`

	// RequestTimeout bounds a single remote round trip.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Bucket and Region configure the S3 remote (Kind=="s3").
	Bucket string `mapstructure:"bucket" validate:"required_if=Kind s3" yaml:"bucket,omitempty"`
	Region string `mapstructure:"region" yaml:"region,omitempty"`
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// CacheConfig configures the local-cache freshness policy used by the RQ
// File caching protocol.
type CacheConfig struct {
	// ModifiedThreshold is the tolerance the safe-delete check allows between
	// a local file's modification time and its sync marker's syncedAt. The
	// remote-divergence check does not use it; that check has a fixed
	// one-second threshold.
	ModifiedThreshold time.Duration `mapstructure:"modified_threshold" yaml:"modified_threshold"`

	// MaxCachedSize is parsed and stored, but nothing enforces it: the local
	// cache tree's size is not capped.
	MaxCachedSize bytesize.ByteSize `mapstructure:"max_cached_size" yaml:"max_cached_size,omitempty"`
}

// ProcessorConfig configures the background sync processor.
type ProcessorConfig struct {
	// Frequency is the ticker interval between processing passes.
	Frequency time.Duration `mapstructure:"frequency" yaml:"frequency"`

	// Expiration is the minimum age (counted from the entry's CreatedAt) an
	// entry must reach before it is eligible for processing.
	Expiration time.Duration `mapstructure:"expiration" yaml:"expiration"`

	// MaxRetries is the retry budget before an entry is purged as poisoned.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0" yaml:"max_retries"`

	// RetryDelay is the fixed delay after a failed attempt before the entry
	// is eligible again; it does not grow with the retry count.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	// NoProcessor disables the background loop; useful for tests that want
	// to call Processor.RunOnce directly.
	NoProcessor bool `mapstructure:"no_processor" yaml:"no_processor,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen,omitempty"`
}

// AdminConfig configures the read-only/purge-trigger admin HTTP API.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		cfg := DefaultConfig()
		ApplyDefaults(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg to path in YAML form with restricted permissions.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("RQMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rqmirror")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "rqmirror")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

var validate = validator.New()

// Validate validates cfg against its struct tags.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
