package config

import "time"

// ApplyDefaults fills in unspecified fields with sensible defaults. It is
// called after loading configuration from file and environment variables.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyQueueDefaults(&cfg.Queue)
	applyRemoteDefaults(&cfg.Remote)
	applyCacheDefaults(&cfg.Cache)
	applyProcessorDefaults(&cfg.Processor)
	applyMetricsDefaults(&cfg.Metrics)
	applyAdminDefaults(&cfg.Admin)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyQueueDefaults(cfg *QueueConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/lib/rqmirror/queue"
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Kind == "" {
		cfg.Kind = "http"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Kind == "s3" && cfg.Prefix == "" {
		cfg.Prefix = "blocks/"
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.ModifiedThreshold == 0 {
		cfg.ModifiedThreshold = 2 * time.Second
	}
}

func applyProcessorDefaults(cfg *ProcessorConfig) {
	if cfg.Frequency == 0 {
		cfg.Frequency = 5 * time.Second
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Listen == "" {
		cfg.Listen = ":9090"
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Enabled && cfg.Listen == "" {
		cfg.Listen = ":8090"
	}
}

// DefaultConfig returns a Config populated with a runnable single-share
// default setup, prior to ApplyDefaults filling in the remaining zero
// values. Load falls back to it when no configuration file is found.
func DefaultConfig() *Config {
	return &Config{
		Share: "default",
		Local: LocalConfig{Path: "/var/lib/rqmirror/local"},
		Work:  WorkConfig{Path: "/var/lib/rqmirror/work"},
		Queue: QueueConfig{Path: "/var/lib/rqmirror/queue"},
		Remote: RemoteConfig{
			Kind:    "http",
			BaseURL: "http://localhost:8000",
		},
	}
}
