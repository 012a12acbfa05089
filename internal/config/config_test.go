package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
upload:
  max_bytes: 1024
  rate_per_second: 2.5
  burst: 3
conversion:
  concurrency: 4
  queue_depth: 8
  job_timeout_seconds: 30
  soffice_path: /opt/libreoffice/program/soffice
storage:
  backend: local
  base_dir: /tmp/media
database:
  table: jobs
redis:
  addr: localhost:6379
  channel: uploads
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Upload.MaxBytes != 1024 || cfg.Upload.RatePerSecond != 2.5 || cfg.Upload.Burst != 3 {
		t.Fatalf("expected upload overrides to apply: %+v", cfg.Upload)
	}
	if cfg.Conversion.Concurrency != 4 || cfg.Conversion.SofficePath != "/opt/libreoffice/program/soffice" {
		t.Fatalf("expected conversion overrides to apply: %+v", cfg.Conversion)
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.BaseDir != "/tmp/media" {
		t.Fatalf("expected local storage: %+v", cfg.Storage)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Channel != "uploads" {
		t.Fatalf("expected redis overrides: %+v", cfg.Redis)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging disabled")
	}
	if got := cfg.JobTimeout(); got != 30*time.Second {
		t.Fatalf("expected job timeout 30s, got %v", got)
	}
	// Absent keys fall back to defaults.
	if cfg.Notify.BufferSize != 256 || cfg.Notify.SubscriberSize != 16 {
		t.Fatalf("expected notify defaults, got %+v", cfg.Notify)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Upload.MaxBytes != 20*1024*1024 {
		t.Fatalf("expected 20MiB upload limit, got %d", cfg.Upload.MaxBytes)
	}
	if cfg.Redis.Channel != "file_upload" {
		t.Fatalf("expected file_upload channel, got %q", cfg.Redis.Channel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Upload:     UploadConfig{MaxBytes: 1},
		Conversion: ConversionConfig{Concurrency: 1, QueueDepth: 1, JobTimeoutSeconds: 1},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid upload limit",
			cfg: func() Config {
				c := base
				c.Upload.MaxBytes = 0
				return c
			}(),
			want: "upload.max_bytes",
		},
		{
			name: "negative rate",
			cfg: func() Config {
				c := base
				c.Upload.RatePerSecond = -1
				return c
			}(),
			want: "upload.rate_per_second",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Conversion.Concurrency = 0
				return c
			}(),
			want: "conversion.concurrency",
		},
		{
			name: "invalid queue depth",
			cfg: func() Config {
				c := base
				c.Conversion.QueueDepth = 0
				return c
			}(),
			want: "conversion.queue_depth",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Conversion.JobTimeoutSeconds = 0
				return c
			}(),
			want: "conversion.job_timeout_seconds",
		},
		{
			name: "local without base dir",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "local"
				return c
			}(),
			want: "storage.base_dir",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.bucket",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "not supported",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadClientDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadClient(nil, "")
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if got := cfg.PollInterval(); got != 5*time.Second {
		t.Fatalf("expected 5s poll interval, got %v", got)
	}
	if got := cfg.HTTPTimeout(); got != time.Minute {
		t.Fatalf("expected 60s http timeout, got %v", got)
	}
	if cfg.Reconnect.InitialMs != 2000 || cfg.Reconnect.MaxMs != 30000 || cfg.Reconnect.Multiplier != 2 {
		t.Fatalf("unexpected reconnect defaults %+v", cfg.Reconnect)
	}
}

func TestLoadClientExplicitValues(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("base_url", "https://convert.example.com")
	v.Set("poll_interval_ms", 250)

	cfg, err := LoadClient(v, "")
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}
	if cfg.BaseURL != "https://convert.example.com" {
		t.Fatalf("expected explicit base url, got %q", cfg.BaseURL)
	}
	if cfg.PollIntervalMs != 250 {
		t.Fatalf("expected 250ms poll interval, got %d", cfg.PollIntervalMs)
	}
}

func TestClientConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := ClientConfig{
		BaseURL:            "http://localhost:8080",
		PollIntervalMs:     5000,
		HTTPTimeoutSeconds: 60,
		Reconnect:          ReconnectConfig{InitialMs: 2000, MaxMs: 30000, Multiplier: 2},
	}

	tests := []struct {
		name   string
		mutate func(*ClientConfig)
		want   string
	}{
		{name: "relative url", mutate: func(c *ClientConfig) { c.BaseURL = "/api" }, want: "absolute URL"},
		{name: "bad scheme", mutate: func(c *ClientConfig) { c.BaseURL = "ftp://host" }, want: "http or https"},
		{name: "zero poll", mutate: func(c *ClientConfig) { c.PollIntervalMs = 0 }, want: "poll_interval_ms"},
		{name: "zero timeout", mutate: func(c *ClientConfig) { c.HTTPTimeoutSeconds = 0 }, want: "http_timeout_seconds"},
		{name: "zero initial", mutate: func(c *ClientConfig) { c.Reconnect.InitialMs = 0 }, want: "reconnect.initial_ms"},
		{name: "max below initial", mutate: func(c *ClientConfig) { c.Reconnect.MaxMs = 100 }, want: "reconnect.max_ms"},
		{name: "shrinking multiplier", mutate: func(c *ClientConfig) { c.Reconnect.Multiplier = 0.5 }, want: "reconnect.multiplier"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
