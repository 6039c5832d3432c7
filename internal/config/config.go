// Package config loads and validates addon configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_SERVER_PORT.
const EnvPrefix = "CATALOG"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Site      SiteConfig      `mapstructure:"site"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateWindow      time.Duration `mapstructure:"rate_window"`
	CatalogPages    int           `mapstructure:"catalog_pages"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// AuthConfig guards operator endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SiteConfig describes the catalog site.
type SiteConfig struct {
	BaseURL   string   `mapstructure:"base_url"`
	Languages []string `mapstructure:"languages"`
}

// HTTPConfig configures the upstream access layer.
type HTTPConfig struct {
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffStep      time.Duration `mapstructure:"backoff_step"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	RateLimitDelay   time.Duration `mapstructure:"rate_limit_delay"`
	RateLimitRetries int           `mapstructure:"rate_limit_retries"`
	Concurrency      int           `mapstructure:"concurrency"`
	PerHostRPS       float64       `mapstructure:"per_host_rps"`
	PerHostBurst     int           `mapstructure:"per_host_burst"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
}

// CacheConfig selects the cache backend and TTLs.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Codec         string        `mapstructure:"codec"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	SearchTTL     time.Duration `mapstructure:"search_ttl"`
	DetailTTL     time.Duration `mapstructure:"meta_ttl"`
	StreamTTL     time.Duration `mapstructure:"stream_ttl"`
	CatalogTTL    time.Duration `mapstructure:"catalog_ttl"`
	XrefTTL       time.Duration `mapstructure:"xref_ttl"`
	MaxKeys       int           `mapstructure:"max_keys"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig points the cache at a Redis server.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ResolverConfig tunes identity resolution.
type ResolverConfig struct {
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	ReverseLookup   bool          `mapstructure:"reverse_lookup"`
	SkipVerify      bool          `mapstructure:"skip_verify"`
	SuggestionURL   string        `mapstructure:"suggestion_url"`
	CinemetaURL     string        `mapstructure:"cinemeta_url"`
	TitlePageURL    string        `mapstructure:"title_page_url"`
}

// StreamConfig tunes stream descriptors.
type StreamConfig struct {
	CanonicalHost string `mapstructure:"canonical_host"`
	Name          string `mapstructure:"name"`
}

// RefreshConfig schedules catalog sweeps.
type RefreshConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	OnStart             bool          `mapstructure:"on_start"`
	Pages               int           `mapstructure:"pages"`
	IncrementalPages    int           `mapstructure:"incremental_pages"`
	PageConcurrency     int           `mapstructure:"page_concurrency"`
	FullInterval        time.Duration `mapstructure:"full_interval"`
	IncrementalInterval time.Duration `mapstructure:"incremental_interval"`
}

// StorageConfig selects where failed documents are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalRoot string `mapstructure:"local_root"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig selects the refresh run log.
type DBConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig holds metadata for refresh event notifications.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the rotated file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	cfg.Site.Languages = splitLanguages(cfg.Site.Languages)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 7000)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.rate_window", time.Minute)
	v.SetDefault("server.catalog_pages", 5)
	v.SetDefault("site.base_url", "https://einthusan.tv")
	v.SetDefault("site.languages", []string{"hindi", "tamil", "telugu", "malayalam", "kannada", "bengali", "marathi", "punjabi"})
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; einthusan-addon/1.0)")
	v.SetDefault("http.timeout", 10*time.Second)
	v.SetDefault("http.max_attempts", 4)
	v.SetDefault("http.backoff_step", time.Second)
	v.SetDefault("http.backoff_max", 10*time.Second)
	v.SetDefault("http.rate_limit_delay", 5*time.Second)
	v.SetDefault("http.rate_limit_retries", 3)
	v.SetDefault("http.concurrency", 20)
	v.SetDefault("http.per_host_rps", 0)
	v.SetDefault("http.per_host_burst", 1)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.codec", "zstd")
	v.SetDefault("cache.default_ttl", 30*time.Minute)
	v.SetDefault("cache.search_ttl", 30*time.Minute)
	v.SetDefault("cache.meta_ttl", 6*time.Hour)
	v.SetDefault("cache.stream_ttl", time.Hour)
	v.SetDefault("cache.catalog_ttl", 24*time.Hour)
	v.SetDefault("cache.xref_ttl", 7*24*time.Hour)
	v.SetDefault("cache.max_keys", 10000)
	v.SetDefault("cache.sweep_interval", time.Hour)
	v.SetDefault("cache.redis.key_prefix", "catalog:")
	v.SetDefault("resolver.provider_timeout", 5*time.Second)
	v.SetDefault("resolver.reverse_lookup", false)
	v.SetDefault("stream.canonical_host", "cdn1.einthusan.io")
	v.SetDefault("stream.name", "EinthusanTV")
	v.SetDefault("refresh.enabled", true)
	v.SetDefault("refresh.on_start", true)
	v.SetDefault("refresh.pages", 10)
	v.SetDefault("refresh.incremental_pages", 2)
	v.SetDefault("refresh.page_concurrency", 4)
	v.SetDefault("refresh.full_interval", 12*time.Hour)
	v.SetDefault("refresh.incremental_interval", time.Hour)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_root", "./data")
	v.SetDefault("storage.prefix", "einthusan")
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("pubsub.backend", "memory")
	v.SetDefault("pubsub.topic_name", "catalog-refresh")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "einthusan-addon")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// splitLanguages accepts both list and comma-separated forms, which is how
// CATALOG_SITE_LANGUAGES arrives from the environment.
func splitLanguages(in []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, item := range in {
		for _, lang := range strings.Split(item, ",") {
			lang = strings.ToLower(strings.TrimSpace(lang))
			if lang == "" {
				continue
			}
			if _, dup := seen[lang]; dup {
				continue
			}
			seen[lang] = struct{}{}
			out = append(out, lang)
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	base, err := url.Parse(c.Site.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL")
	}
	if len(c.Site.Languages) == 0 {
		return fmt.Errorf("site.languages must not be empty")
	}
	if c.HTTP.MaxAttempts < 1 || c.HTTP.MaxAttempts > 5 {
		return fmt.Errorf("http.max_attempts must be between 1 and 5")
	}
	if c.HTTP.Concurrency <= 0 {
		return fmt.Errorf("http.concurrency must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if !oneOf(c.Cache.Backend, "memory", "redis") {
		return fmt.Errorf("cache.backend must be memory or redis")
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr must be set when cache.backend is redis")
	}
	if !oneOf(c.Cache.Codec, "zstd", "identity", "none", "") {
		return fmt.Errorf("cache.codec must be zstd or identity")
	}
	if !oneOf(c.Storage.Backend, "memory", "local", "gcs") {
		return fmt.Errorf("storage.backend must be memory, local, or gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
	}
	if !oneOf(c.DB.Backend, "memory", "postgres") {
		return fmt.Errorf("db.backend must be memory or postgres")
	}
	if c.DB.Backend == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.backend is postgres")
	}
	if !oneOf(c.PubSub.Backend, "memory", "pubsub") {
		return fmt.Errorf("pubsub.backend must be memory or pubsub")
	}
	if c.PubSub.Backend == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.backend is pubsub")
	}
	if c.Refresh.Pages <= 0 || c.Refresh.IncrementalPages <= 0 {
		return fmt.Errorf("refresh.pages and refresh.incremental_pages must be > 0")
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
