package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/anonymizer"
	"github.com/raaihank/chat-anonymizer/internal/links"
	"github.com/raaihank/chat-anonymizer/internal/logger"
	"github.com/raaihank/chat-anonymizer/internal/mapping"
)

// Loader reads configuration from file and environment variables and can
// watch the file for changes afterwards
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with the default search paths
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/chat-anonymizer/")
	v.AddConfigPath("$HOME/.chat-anonymizer/")

	// Environment variable overrides, e.g. CHATANON_ANONYMIZATION_WORKERS
	v.SetEnvPrefix("CHATANON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, GetDefaults())
	return &Loader{v: v}
}

// Load loads configuration using a fresh loader
func Load(configPath string) (*Config, error) {
	return NewLoader().Load(configPath)
}

// Load reads the configuration. An explicit path must exist; otherwise a
// missing config file is not an error and defaults apply.
func (l *Loader) Load(configPath string) (*Config, error) {
	if configPath != "" {
		l.v.SetConfigFile(configPath)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return l.decode()
}

// ConfigFile returns the file the configuration was read from, if any
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	config := GetDefaults()
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults registers every key with viper so that environment variables
// are honoured even when no config file mentions the key
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"anonymization.schema_policy":      d.Anonymization.SchemaPolicy,
		"anonymization.linkage_policy":     d.Anonymization.LinkagePolicy,
		"anonymization.link_mode":          d.Anonymization.LinkMode,
		"anonymization.link_categories":    d.Anonymization.LinkCategories,
		"anonymization.min_filename_match": d.Anonymization.MinFilenameMatch,
		"anonymization.workers":            d.Anonymization.Workers,
		"anonymization.progress_every":     d.Anonymization.ProgressEvery,
		"anonymization.mode":               d.Anonymization.Mode,
		"anonymization.email_domain":       d.Anonymization.EmailDomain,

		"logging.level":        d.Logging.Level,
		"logging.format":       d.Logging.Format,
		"logging.file.enabled": d.Logging.File.Enabled,
		"logging.file.path":    d.Logging.File.Path,

		"server.port":           d.Server.Port,
		"server.read_timeout":   d.Server.ReadTimeout,
		"server.write_timeout":  d.Server.WriteTimeout,
		"server.idle_timeout":   d.Server.IdleTimeout,
		"server.max_body_bytes": d.Server.MaxBodyBytes,

		"rate_limit.enabled":             d.RateLimit.Enabled,
		"rate_limit.requests_per_second": d.RateLimit.RequestsPerSecond,
		"rate_limit.burst":               d.RateLimit.Burst,
		"rate_limit.cleanup_interval":    d.RateLimit.CleanupInterval,

		"websocket.enabled":                      d.WebSocket.Enabled,
		"websocket.path":                         d.WebSocket.Path,
		"websocket.max_connections":              d.WebSocket.MaxConnections,
		"websocket.ping_interval":                d.WebSocket.PingInterval,
		"websocket.pong_timeout":                 d.WebSocket.PongTimeout,
		"websocket.write_timeout":                d.WebSocket.WriteTimeout,
		"websocket.allowed_origins":              d.WebSocket.AllowedOrigins,
		"websocket.events.broadcast_progress":    d.WebSocket.Events.BroadcastProgress,
		"websocket.events.broadcast_runs":        d.WebSocket.Events.BroadcastRuns,
		"websocket.events.broadcast_connections": d.WebSocket.Events.BroadcastConnections,

		"cache.enabled":    d.Cache.Enabled,
		"cache.redis_url":  d.Cache.RedisURL,
		"cache.password":   d.Cache.Password,
		"cache.db":         d.Cache.DB,
		"cache.key_prefix": d.Cache.KeyPrefix,
		"cache.ttl":        d.Cache.TTL,

		"audit.enabled":      d.Audit.Enabled,
		"audit.database_url": d.Audit.DatabaseURL,

		"export.format":     d.Export.Format,
		"export.output_dir": d.Export.OutputDir,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if _, err := config.Anonymization.EngineOptions(); err != nil {
		return err
	}

	if _, err := config.Anonymization.LinkRules(); err != nil {
		return err
	}

	if _, err := mapping.ParseMode(config.Anonymization.Mode); err != nil {
		return err
	}

	switch config.Export.Format {
	case "json", "csv", "parquet":
	default:
		return fmt.Errorf("invalid export format: %s (must be json, csv, or parquet)", config.Export.Format)
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit needs a positive rate and burst")
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache is enabled but no redis_url is set")
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit is enabled but no database_url is set")
	}

	return nil
}

// EngineOptions converts the anonymization section into engine options.
// Progress reporting is left to the caller.
func (a AnonymizationConfig) EngineOptions() (anonymizer.Options, error) {
	schema, err := anonymizer.ParseSchemaPolicy(a.SchemaPolicy)
	if err != nil {
		return anonymizer.Options{}, err
	}
	linkage, err := anonymizer.ParseLinkagePolicy(a.LinkagePolicy)
	if err != nil {
		return anonymizer.Options{}, err
	}
	mode, err := links.ParseMode(a.LinkMode)
	if err != nil {
		return anonymizer.Options{}, err
	}

	opts := anonymizer.Options{
		SchemaPolicy:     schema,
		LinkagePolicy:    linkage,
		LinkMode:         mode,
		MinFilenameMatch: a.MinFilenameMatch,
		Workers:          a.Workers,
		ProgressEvery:    a.ProgressEvery,
	}
	if err := opts.Validate(); err != nil {
		return anonymizer.Options{}, err
	}
	return opts, nil
}

// LinkRules returns the configured link rule catalogue subset
func (a AnonymizationConfig) LinkRules() ([]links.Rule, error) {
	return links.Select(a.LinkCategories)
}

// Watch starts watching the configuration file for changes. Invalid
// updates are logged and ignored; the previous configuration stays active.
func (l *Loader) Watch(log *logger.Logger, callback func(*Config)) {
	if log == nil {
		log = logger.NewNop()
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := l.decode()
		if err != nil {
			log.Error("Ignoring configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}

		log.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	l.v.WatchConfig()
}
