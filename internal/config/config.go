// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Workers WorkersConfig `mapstructure:"workers"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	OCR     OCRConfig     `mapstructure:"ocr"`
	Embed   EmbedConfig   `mapstructure:"embed"`
	Label   LabelConfig   `mapstructure:"label"`
	Search  SearchConfig  `mapstructure:"search"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
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

// CrawlerConfig governs the crawl stage.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	AssetTimeoutSec   int    `mapstructure:"asset_timeout_seconds"`
	MaxAssets         int    `mapstructure:"max_assets"`
	HeadlessEnabled   bool   `mapstructure:"headless_enabled"`
	HeadlessParallel  int    `mapstructure:"headless_parallel"`
	HeadlessNavSec    int    `mapstructure:"headless_nav_timeout_seconds"`
	PromotionBodySize int    `mapstructure:"promotion_body_size"`
}

// QueueConfig controls retry and backoff semantics.
type QueueConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	BackoffBaseMs  int `mapstructure:"backoff_base_ms"`
	BackoffCapMs   int `mapstructure:"backoff_cap_ms"`
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	Depth          int `mapstructure:"depth"`
}

// WorkersConfig sets per-stage concurrency.
type WorkersConfig struct {
	Crawl int `mapstructure:"crawl"`
	OCR   int `mapstructure:"ocr"`
	Parse int `mapstructure:"parse"`
	Label int `mapstructure:"label"`
	Embed int `mapstructure:"embed"`
}

// StorageConfig sets blob persistence parameters.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // memory | local | gcs
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. When DSN is empty
// the service runs on in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// OCRConfig points at the external text-extraction engine.
type OCRConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MinWidth       int    `mapstructure:"min_width"`
	MinHeight      int    `mapstructure:"min_height"`
}

// EmbedConfig points at the embedding capability.
type EmbedConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	Model          string  `mapstructure:"model"`
	Dimension      int     `mapstructure:"dimension"`
	BatchSize      int     `mapstructure:"batch_size"`
	RPS            float64 `mapstructure:"rps"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// LabelConfig points at the classification fallback.
type LabelConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SearchConfig tunes craving search and its cache/index backends.
type SearchConfig struct {
	TopK            int     `mapstructure:"top_k"`
	SimilarityFloor float64 `mapstructure:"similarity_floor"`
	DefaultLimit    int     `mapstructure:"default_limit"`
	CacheTTLSeconds int     `mapstructure:"cache_ttl_seconds"`
	RedisAddr       string  `mapstructure:"redis_addr"`
	MilvusAddr      string  `mapstructure:"milvus_addr"`
	MilvusColl      string  `mapstructure:"milvus_collection"`
}

// PubSubConfig holds metadata for stage-event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MENUPIPE")
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
	v.SetDefault("crawler.user_agent", "menupipe-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.asset_timeout_seconds", 20)
	v.SetDefault("crawler.max_assets", 25)
	v.SetDefault("crawler.headless_enabled", false)
	v.SetDefault("crawler.headless_parallel", 1)
	v.SetDefault("crawler.headless_nav_timeout_seconds", 25)
	v.SetDefault("crawler.promotion_body_size", 2048)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base_ms", 500)
	v.SetDefault("queue.backoff_cap_ms", 60000)
	v.SetDefault("queue.poll_interval_ms", 250)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("workers.crawl", 2)
	v.SetDefault("workers.ocr", 4)
	v.SetDefault("workers.parse", 2)
	v.SetDefault("workers.label", 2)
	v.SetDefault("workers.embed", 2)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("ocr.timeout_seconds", 60)
	v.SetDefault("ocr.min_width", 900)
	v.SetDefault("ocr.min_height", 1200)
	v.SetDefault("embed.model", "text-embedding-ada-002")
	v.SetDefault("embed.dimension", 1536)
	v.SetDefault("embed.batch_size", 32)
	v.SetDefault("embed.rps", 2.0)
	v.SetDefault("embed.timeout_seconds", 30)
	v.SetDefault("label.timeout_seconds", 30)
	v.SetDefault("search.top_k", 50)
	v.SetDefault("search.similarity_floor", 0.7)
	v.SetDefault("search.default_limit", 20)
	v.SetDefault("search.cache_ttl_seconds", 300)
	v.SetDefault("search.milvus_collection", "menu_items")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Search.SimilarityFloor < 0 || c.Search.SimilarityFloor > 1 {
		return fmt.Errorf("search.similarity_floor must be in [0,1]")
	}
	if c.Embed.Dimension <= 0 {
		return fmt.Errorf("embed.dimension must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// CrawlTimeout converts the crawl timeout config into a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// AssetTimeout converts the per-asset download timeout into a duration.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.Crawler.AssetTimeoutSec) * time.Second
}

// BackoffBase returns the queue retry backoff base.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Queue.BackoffBaseMs) * time.Millisecond
}

// BackoffCap returns the queue retry backoff ceiling.
func (c Config) BackoffCap() time.Duration {
	return time.Duration(c.Queue.BackoffCapMs) * time.Millisecond
}
