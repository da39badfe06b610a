// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/kb-crawler/internal/chunker"
	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/embed/gemini"
	"github.com/JakeFAU/kb-crawler/internal/embed/openai"
	lockredis "github.com/JakeFAU/kb-crawler/internal/lock/redis"
	"github.com/JakeFAU/kb-crawler/internal/progress"
	"github.com/JakeFAU/kb-crawler/internal/storage/gcs"
	"github.com/JakeFAU/kb-crawler/internal/storage/local"
	"github.com/JakeFAU/kb-crawler/internal/storage/postgres"
	"github.com/JakeFAU/kb-crawler/internal/telemetry"
	vectorredis "github.com/JakeFAU/kb-crawler/internal/vector/redis"
)

// EnvPrefix prefixes every environment override, e.g. KBCRAWLER_SERVER_PORT.
const EnvPrefix = "KBCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Crawler      CrawlerConfig      `mapstructure:"crawler"`
	Defaults     JobDefaults        `mapstructure:"defaults"`
	Chunking     chunker.Config     `mapstructure:"chunking"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Embedding    EmbeddingConfig    `mapstructure:"embedding"`
	Vector       VectorConfig       `mapstructure:"vector"`
	KV           KVConfig           `mapstructure:"kv"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Continuation ContinuationConfig `mapstructure:"continuation"`
	Lock         LockConfig         `mapstructure:"lock"`
	Progress     progress.Config    `mapstructure:"progress"`
	Telemetry    telemetry.Config   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap preset and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs fetching and discovery politeness.
type CrawlerConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	RobotsTimeout  time.Duration `mapstructure:"robots_timeout"`
	DiscoveryRPS   float64       `mapstructure:"discovery_rps"`
	BlockedDomains []string      `mapstructure:"blocked_domains"`
}

// JobDefaults fill in fields a job submission leaves empty.
type JobDefaults struct {
	SourceType       string `mapstructure:"source_type"`
	MaxPages         int    `mapstructure:"max_pages"`
	MaxDepth         int    `mapstructure:"max_depth"`
	RateLimitMs      int    `mapstructure:"rate_limit_ms"`
	ChunkingStrategy string `mapstructure:"chunking_strategy"`
	SameDomainOnly   bool   `mapstructure:"same_domain_only"`
}

// Apply returns jc with zero-valued fields replaced by the defaults.
// SameDomainOnly is only defaulted when applyDomain is set, since false is a
// meaningful request.
func (d JobDefaults) Apply(jc crawler.JobConfig, applyDomain bool) crawler.JobConfig {
	if jc.SourceType == "" {
		jc.SourceType = crawler.SourceType(d.SourceType)
	}
	if jc.MaxPages <= 0 {
		jc.MaxPages = d.MaxPages
	}
	if jc.MaxDepth <= 0 {
		jc.MaxDepth = d.MaxDepth
	}
	if jc.RateLimitMs <= 0 {
		jc.RateLimitMs = d.RateLimitMs
	}
	if jc.ChunkingStrategy == "" {
		jc.ChunkingStrategy = d.ChunkingStrategy
	}
	if applyDomain {
		jc.SameDomainOnly = d.SameDomainOnly
	}
	return jc
}

// WorkerConfig sizes the dispatcher and bounds each execution.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	QueueDepth      int           `mapstructure:"queue_depth"`
	ExecutionBudget time.Duration `mapstructure:"execution_budget"`
	SafetyBuffer    time.Duration `mapstructure:"safety_buffer"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	ArchiveHTML     bool          `mapstructure:"archive_html"`
	StreamBuffer    int           `mapstructure:"stream_buffer"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider       string        `mapstructure:"provider"`
	HashDimensions int           `mapstructure:"hash_dimensions"`
	OpenAI         openai.Config `mapstructure:"openai"`
	Gemini         gemini.Config `mapstructure:"gemini"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Backend string             `mapstructure:"backend"`
	Redis   vectorredis.Config `mapstructure:"redis"`
}

// KVConfig selects the key-value store backend.
type KVConfig struct {
	Backend  string          `mapstructure:"backend"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// StorageConfig selects where raw pages are archived.
type StorageConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// ContinuationConfig selects how checkpointed jobs are re-invoked.
type ContinuationConfig struct {
	Mode   string       `mapstructure:"mode"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig names the continuation topic and subscription.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// LockConfig selects the job lock backend.
type LockConfig struct {
	Backend string           `mapstructure:"backend"`
	Redis   lockredis.Config `mapstructure:"redis"`
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	v.SetDefault("crawler.user_agent", "kb-crawler/0.1")
	v.SetDefault("crawler.fetch_timeout", "30s")
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("crawler.robots_timeout", "10s")
	v.SetDefault("crawler.discovery_rps", 2.0)
	v.SetDefault("crawler.blocked_domains", []string{})

	v.SetDefault("defaults.source_type", string(crawler.SourceURL))
	v.SetDefault("defaults.max_pages", 100)
	v.SetDefault("defaults.max_depth", 3)
	v.SetDefault("defaults.rate_limit_ms", 1000)
	v.SetDefault("defaults.chunking_strategy", chunker.StrategyHierarchical)
	v.SetDefault("defaults.same_domain_only", true)

	v.SetDefault("chunking.document_summary_words", chunker.DefaultDocumentSummaryWords)
	v.SetDefault("chunking.section_max_words", chunker.DefaultSectionMaxWords)
	v.SetDefault("chunking.paragraph_max_words", chunker.DefaultParagraphMaxWords)
	v.SetDefault("chunking.paragraph_min_words", chunker.DefaultParagraphMinWords)
	v.SetDefault("chunking.overlap_words", chunker.DefaultOverlapWords)
	v.SetDefault("chunking.include_document", true)
	v.SetDefault("chunking.include_sections", true)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.execution_budget", "0s")
	v.SetDefault("worker.safety_buffer", "30s")
	v.SetDefault("worker.lock_ttl", "15m")
	v.SetDefault("worker.archive_html", false)
	v.SetDefault("worker.stream_buffer", 64)

	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.hash_dimensions", 256)
	// Secrets and endpoints need a registered key for env overrides to apply.
	for _, key := range []string{
		"embedding.openai.api_key", "embedding.openai.base_url", "embedding.gemini.api_key",
		"embedding.gemini.base_url", "vector.redis.url", "kv.postgres.dsn", "storage.gcs.bucket",
		"storage.gcs.prefix", "continuation.pubsub.project_id", "continuation.pubsub.topic",
		"continuation.pubsub.subscription", "lock.redis.url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("embedding.openai.model", "text-embedding-3-small")
	v.SetDefault("embedding.openai.dimensions", 1536)
	v.SetDefault("embedding.openai.max_input_tokens", 8000)
	v.SetDefault("embedding.openai.max_retries", 2)
	v.SetDefault("embedding.gemini.model", "gemini-embedding-001")
	v.SetDefault("embedding.gemini.dimensions", 768)

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.redis.key_prefix", "kbvec")
	v.SetDefault("kv.backend", "memory")
	v.SetDefault("kv.postgres.table", "kv_items")
	v.SetDefault("kv.postgres.max_conns", 8)
	v.SetDefault("kv.postgres.migrate", true)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.local.base_dir", "./data/pages")

	v.SetDefault("continuation.mode", "local")
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.redis.key_prefix", "kblock")

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", "500ms")
	v.SetDefault("progress.sink_timeout", "10s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "kb-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.version", "")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.FetchTimeout <= 0 {
		return fmt.Errorf("crawler.fetch_timeout must be > 0")
	}
	if err := c.validateDefaults(); err != nil {
		return err
	}
	if err := c.validateChunking(); err != nil {
		return err
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Worker.ExecutionBudget < 0 || c.Worker.SafetyBuffer < 0 {
		return fmt.Errorf("worker.execution_budget and worker.safety_buffer must be >= 0")
	}
	if c.Worker.ExecutionBudget > 0 && c.Worker.SafetyBuffer >= c.Worker.ExecutionBudget {
		return fmt.Errorf("worker.safety_buffer must be < worker.execution_budget")
	}
	return c.validateBackends()
}

func (c Config) validateDefaults() error {
	switch crawler.SourceType(c.Defaults.SourceType) {
	case crawler.SourceSitemap, crawler.SourceURL:
	default:
		return fmt.Errorf("defaults.source_type must be %q or %q", crawler.SourceSitemap, crawler.SourceURL)
	}
	if c.Defaults.MaxPages <= 0 {
		return fmt.Errorf("defaults.max_pages must be > 0")
	}
	if c.Defaults.MaxDepth < 0 {
		return fmt.Errorf("defaults.max_depth must be >= 0")
	}
	if c.Defaults.RateLimitMs < 0 {
		return fmt.Errorf("defaults.rate_limit_ms must be >= 0")
	}
	if _, err := chunker.New(c.Defaults.ChunkingStrategy); err != nil {
		return fmt.Errorf("defaults.chunking_strategy: %w", err)
	}
	return nil
}

func (c Config) validateChunking() error {
	ch := c.Chunking
	if ch.ParagraphMinWords <= 0 || ch.ParagraphMaxWords <= 0 {
		return fmt.Errorf("chunking.paragraph_min_words and chunking.paragraph_max_words must be > 0")
	}
	if ch.ParagraphMinWords >= ch.ParagraphMaxWords {
		return fmt.Errorf("chunking.paragraph_min_words must be < chunking.paragraph_max_words")
	}
	if ch.OverlapWords < 0 || ch.OverlapWords >= ch.ParagraphMaxWords {
		return fmt.Errorf("chunking.overlap_words must be >= 0 and < chunking.paragraph_max_words")
	}
	if ch.SectionMaxWords <= 0 || ch.DocumentSummaryWords <= 0 {
		return fmt.Errorf("chunking.section_max_words and chunking.document_summary_words must be > 0")
	}
	return nil
}

func (c Config) validateBackends() error {
	switch c.Embedding.Provider {
	case "hash":
	case "openai":
		if c.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("embedding.openai.api_key must be set when embedding.provider is openai")
		}
	case "gemini":
		if c.Embedding.Gemini.APIKey == "" {
			return fmt.Errorf("embedding.gemini.api_key must be set when embedding.provider is gemini")
		}
	default:
		return fmt.Errorf("embedding.provider must be one of hash, openai, gemini")
	}
	switch c.Vector.Backend {
	case "memory":
	case "redis":
		if c.Vector.Redis.URL == "" {
			return fmt.Errorf("vector.redis.url must be set when vector.backend is redis")
		}
	default:
		return fmt.Errorf("vector.backend must be memory or redis")
	}
	switch c.KV.Backend {
	case "memory":
	case "postgres":
		if c.KV.Postgres.DSN == "" {
			return fmt.Errorf("kv.postgres.dsn must be set when kv.backend is postgres")
		}
	default:
		return fmt.Errorf("kv.backend must be memory or postgres")
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of none, memory, local, gcs")
	}
	if c.Worker.ArchiveHTML && c.Storage.Backend == "none" {
		return fmt.Errorf("worker.archive_html requires storage.backend")
	}
	switch c.Continuation.Mode {
	case "noop", "local":
	case "pubsub":
		p := c.Continuation.PubSub
		if p.ProjectID == "" || p.Topic == "" || p.Subscription == "" {
			return fmt.Errorf("continuation.pubsub.project_id, topic and subscription must be set when continuation.mode is pubsub")
		}
	default:
		return fmt.Errorf("continuation.mode must be one of noop, local, pubsub")
	}
	switch c.Lock.Backend {
	case "none", "memory":
	case "redis":
		if c.Lock.Redis.URL == "" {
			return fmt.Errorf("lock.redis.url must be set when lock.backend is redis")
		}
	default:
		return fmt.Errorf("lock.backend must be one of none, memory, redis")
	}
	return nil
}
