// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Retry      RetryConfig      `mapstructure:"retry"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Website    WebsiteConfig    `mapstructure:"website"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
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

// SchedulerConfig controls the due-check scan cadence.
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// WorkerConfig governs the worker pool consuming fetch jobs.
type WorkerConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	QueueDepth        int `mapstructure:"queue_depth"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// RetryConfig bounds delayed retries of transient provider failures.
type RetryConfig struct {
	MaxRetries   int `mapstructure:"max_retries"`
	DelaySeconds int `mapstructure:"delay_seconds"`
}

// HTTPConfig configures the static fetch client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	IgnoreRobots   bool   `mapstructure:"ignore_robots"`
}

// HeadlessConfig configures the headless rendering strategy.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	// SettleMillis waits for late scripts after the body is ready; negative disables.
	SettleMillis int `mapstructure:"settle_ms"`
}

// WebsiteConfig selects the primary website strategy.
type WebsiteConfig struct {
	UseRendered      bool `mapstructure:"use_rendered"`
	PromoteSPAShells bool `mapstructure:"promote_spa_shells"`
	// PromotionThreshold is the visible text length, in characters, below
	// which a script-driven static page is re-fetched rendered.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
	// BlockedHosts lists hosts never fetched; "*.example.com" blocks subdomains.
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// ProviderConfig configures the structured-provider API client.
type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Premium        bool   `mapstructure:"premium"`
}

// ClassifierConfig configures the external classification collaborator.
type ClassifierConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxExcerpt     int    `mapstructure:"max_excerpt"`
}

// NotifyConfig selects the notification channel.
type NotifyConfig struct {
	Topic          string `mapstructure:"topic"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets the raw page archive backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds Pub/Sub connection metadata.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	RunTopic  string `mapstructure:"run_topic"`
}

// RateLimitConfig configures per-host fetch throttling.
type RateLimitConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_seconds", 600)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 128)
	v.SetDefault("worker.job_timeout_seconds", 300)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.delay_seconds", 180)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "change-monitor/0.1")
	v.SetDefault("http.ignore_robots", true)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("website.use_rendered", false)
	v.SetDefault("website.promote_spa_shells", false)
	v.SetDefault("website.promotion_threshold", 200)
	v.SetDefault("website.blocked_hosts", []string{})
	v.SetDefault("provider.base_url", "https://api.scrapingdog.com")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout_seconds", 120)
	v.SetDefault("provider.premium", false)
	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.api_key", "")
	v.SetDefault("classifier.model", "gemini-2.0-flash")
	v.SetDefault("classifier.timeout_seconds", 30)
	v.SetDefault("classifier.max_excerpt", 3000)
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.timeout_seconds", 15)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.run_topic", "")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 1.0)
	v.SetDefault("ratelimit.default_burst", 2)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be > 0 when the scheduler is enabled")
	}
	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry.max_retries must be > 0")
	}
	if c.Retry.DelaySeconds < 0 {
		return fmt.Errorf("retry.delay_seconds must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Website.UseRendered && !c.Headless.Enabled {
		return fmt.Errorf("website.use_rendered requires headless.enabled")
	}
	if c.Classifier.Enabled && c.Classifier.APIKey == "" {
		return fmt.Errorf("classifier.api_key must be set when the classifier is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

// SchedulerInterval returns the due-check cadence.
func (c Config) SchedulerInterval() time.Duration {
	return seconds(c.Scheduler.IntervalSeconds)
}

// JobTimeout bounds a single monitoring run.
func (c Config) JobTimeout() time.Duration {
	return seconds(c.Worker.JobTimeoutSeconds)
}

// RetryDelay is the fixed delay before a transient provider failure is retried.
func (c Config) RetryDelay() time.Duration {
	return seconds(c.Retry.DelaySeconds)
}

// HTTPTimeout bounds a static page fetch.
func (c Config) HTTPTimeout() time.Duration {
	return seconds(c.HTTP.TimeoutSeconds)
}

// NavTimeout bounds a rendered page fetch.
func (c Config) NavTimeout() time.Duration {
	return seconds(c.Headless.NavTimeoutSec)
}

// SettleDelay is the post-load wait of the rendered strategy.
func (c Config) SettleDelay() time.Duration {
	if c.Headless.SettleMillis < 0 {
		return -1
	}
	return time.Duration(c.Headless.SettleMillis) * time.Millisecond
}

// ProviderTimeout bounds a structured-provider call.
func (c Config) ProviderTimeout() time.Duration {
	return seconds(c.Provider.TimeoutSeconds)
}

// ClassifierTimeout bounds a classification call.
func (c Config) ClassifierTimeout() time.Duration {
	return seconds(c.Classifier.TimeoutSeconds)
}

// NotifyTimeout bounds a notification dispatch.
func (c Config) NotifyTimeout() time.Duration {
	return seconds(c.Notify.TimeoutSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
