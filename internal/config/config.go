// Package config loads and validates the hub configuration from YAML,
// with secret references resolved at load time.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raeldev/apihub/internal/secrets"
)

// Config is the full hub configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Chat    ChatConfig    `yaml:"chat"`
	Tasks   TasksConfig   `yaml:"tasks"`
	Quota   QuotaConfig   `yaml:"quota"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ChatConfig points the session registry at its upstream.
type ChatConfig struct {
	PageURL   string            `yaml:"page_url"`
	AjaxURL   string            `yaml:"ajax_url"`
	Models    map[string]string `yaml:"models"`
	IdleMax   time.Duration     `yaml:"idle_max"`
	SweepSpec string            `yaml:"sweep_spec"`
}

// TasksConfig points the task tracker at its processing upstream.
type TasksConfig struct {
	JobBaseURL      string        `yaml:"job_base_url"`
	ResultBaseURL   string        `yaml:"result_base_url"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	Retention       time.Duration `yaml:"retention"`
	SweepSpec       string        `yaml:"sweep_spec"`
	// OwnerKeyRef is a secret reference, e.g. env(APIHUB_OWNER_KEY).
	OwnerKeyRef string `yaml:"owner_key_ref"`
	// OwnerKey holds the resolved value; never set it in YAML.
	OwnerKey string `yaml:"-"`
}

// QuotaConfig controls the per-identifier daily limit.
type QuotaConfig struct {
	DailyLimit int           `yaml:"daily_limit"`
	Window     time.Duration `yaml:"window"`
}

// StorageConfig selects where processed assets are published.
type StorageConfig struct {
	// Backend is "catbox" or "s3".
	Backend     string `yaml:"backend"`
	CatboxURL   string `yaml:"catbox_url"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Prefix    string `yaml:"s3_prefix"`
	S3PublicURL string `yaml:"s3_public_url"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8095",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       10,
			RateBurst:       20,
		},
		Logging: LoggingConfig{Level: "info"},
		Chat: ChatConfig{
			IdleMax:   30 * time.Minute,
			SweepSpec: "@every 10m",
		},
		Tasks: TasksConfig{
			PollInterval:    2 * time.Second,
			MaxPollAttempts: 300,
			Retention:       time.Hour,
			SweepSpec:       "@every 30m",
		},
		Quota: QuotaConfig{
			DailyLimit: 3,
			Window:     24 * time.Hour,
		},
		Storage: StorageConfig{
			Backend:   "catbox",
			CatboxURL: "https://catbox.moe/user/api.php",
		},
	}
}

// Load reads a YAML config file, fills in defaults, resolves secret
// references and validates the result.
func Load(path string, resolver secrets.Resolver) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.resolveSecrets(resolver); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveSecrets(resolver secrets.Resolver) error {
	if c.Tasks.OwnerKeyRef == "" {
		return nil
	}
	if resolver == nil {
		resolver = secrets.NewEnvResolver()
	}
	value, err := resolver.Resolve(context.Background(), c.Tasks.OwnerKeyRef)
	if err != nil {
		return fmt.Errorf("resolve owner key: %w", err)
	}
	c.Tasks.OwnerKey = value
	return nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Quota.DailyLimit < 1 {
		return fmt.Errorf("quota.daily_limit must be at least 1, got %d", c.Quota.DailyLimit)
	}
	if c.Quota.Window <= 0 {
		return fmt.Errorf("quota.window must be positive")
	}
	if c.Tasks.PollInterval <= 0 {
		return fmt.Errorf("tasks.poll_interval must be positive")
	}
	if c.Tasks.MaxPollAttempts < 1 {
		return fmt.Errorf("tasks.max_poll_attempts must be at least 1")
	}
	if c.Chat.IdleMax <= 0 {
		return fmt.Errorf("chat.idle_max must be positive")
	}
	switch c.Storage.Backend {
	case "catbox", "s3":
	default:
		return fmt.Errorf("storage.backend must be catbox or s3, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("storage.s3_bucket is required for the s3 backend")
	}
	return nil
}
