// Package config loads and validates service and client configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// UploadConfig bounds the upload endpoint.
type UploadConfig struct {
	MaxBytes      int64   `mapstructure:"max_bytes"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// ConversionConfig governs the queue, worker pool, and engines.
type ConversionConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	QueueDepth        int    `mapstructure:"queue_depth"`
	JobTimeoutSeconds int    `mapstructure:"job_timeout_seconds"`
	SofficePath       string `mapstructure:"soffice_path"`
	WorkDir           string `mapstructure:"work_dir"`
}

// StorageConfig selects the blob backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to the relational job store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RedisConfig configures the cross-instance channel layer.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// NotifyConfig sizes the websocket broadcast hub.
type NotifyConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	SubscriberSize int `mapstructure:"subscriber_size"`
	WriteTimeoutMs int `mapstructure:"write_timeout_ms"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := newViper("CONVERTER")
	setDefaults(v)

	if err := readFile(v, path); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("upload.max_bytes", 20*1024*1024)
	v.SetDefault("upload.rate_per_second", 0)
	v.SetDefault("upload.burst", 5)
	v.SetDefault("conversion.concurrency", 2)
	v.SetDefault("conversion.queue_depth", 64)
	v.SetDefault("conversion.job_timeout_seconds", 120)
	v.SetDefault("conversion.soffice_path", "soffice")
	v.SetDefault("conversion.work_dir", "")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "media")
	v.SetDefault("database.table", "conversion_jobs")
	v.SetDefault("redis.channel", "file_upload")
	v.SetDefault("notify.buffer_size", 256)
	v.SetDefault("notify.subscriber_size", 16)
	v.SetDefault("notify.write_timeout_ms", 5000)
	v.SetDefault("tracing.service_name", "file-converter")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}
	if c.Upload.RatePerSecond < 0 {
		return fmt.Errorf("upload.rate_per_second must be >= 0")
	}
	if c.Conversion.Concurrency <= 0 {
		return fmt.Errorf("conversion.concurrency must be > 0")
	}
	if c.Conversion.QueueDepth <= 0 {
		return fmt.Errorf("conversion.queue_depth must be > 0")
	}
	if c.Conversion.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("conversion.job_timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// JobTimeout is the per-conversion budget.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Conversion.JobTimeoutSeconds) * time.Second
}

// ClientConfig configures the upload-and-track client.
type ClientConfig struct {
	BaseURL            string          `mapstructure:"base_url"`
	APIKey             string          `mapstructure:"api_key"`
	PollIntervalMs     int             `mapstructure:"poll_interval_ms"`
	HTTPTimeoutSeconds int             `mapstructure:"http_timeout_seconds"`
	OutputDir          string          `mapstructure:"output_dir"`
	Reconnect          ReconnectConfig `mapstructure:"reconnect"`
	Logging            LoggingConfig   `mapstructure:"logging"`
}

// ReconnectConfig shapes the push channel's reconnect backoff.
type ReconnectConfig struct {
	InitialMs  int     `mapstructure:"initial_ms"`
	MaxMs      int     `mapstructure:"max_ms"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// LoadClient builds a ClientConfig from disk/environment. A non-nil v lets
// callers bind command-line flags before loading.
func LoadClient(v *viper.Viper, path string) (ClientConfig, error) {
	if v == nil {
		v = newViper("CONVERT")
	} else {
		v.SetEnvPrefix("CONVERT")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
	setClientDefaults(v)

	if err := readFile(v, path); err != nil {
		return ClientConfig{}, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("unmarshal client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("poll_interval_ms", 5000)
	v.SetDefault("http_timeout_seconds", 60)
	v.SetDefault("api_key", "")
	v.SetDefault("output_dir", "")
	v.SetDefault("reconnect.initial_ms", 2000)
	v.SetDefault("reconnect.max_ms", 30000)
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c ClientConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url scheme must be http or https")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be > 0")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("http_timeout_seconds must be > 0")
	}
	if c.Reconnect.InitialMs <= 0 {
		return fmt.Errorf("reconnect.initial_ms must be > 0")
	}
	if c.Reconnect.MaxMs < c.Reconnect.InitialMs {
		return fmt.Errorf("reconnect.max_ms must be >= reconnect.initial_ms")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be >= 1")
	}
	return nil
}

// PollInterval is the status query period.
func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// HTTPTimeout bounds each client request.
func (c ClientConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
