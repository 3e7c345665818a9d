// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Embedding, Relevance, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/cross-lingual-search/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Relevance RelevanceConfig `yaml:"relevance"`
	Search    SearchConfig    `yaml:"search"`
	Documents DocumentsConfig `yaml:"documents"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"readTimeout"`
	WriteTimeout       time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"`
	RateLimitPerMinute int           `yaml:"rateLimitPerMinute"` // per client on /api/v1/search; 0 disables
	CORSOrigins        []string      `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables event publishing.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
	IndexComplete   string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls where the vector index lives and how it is built.
type IndexConfig struct {
	// Path is the index blob; the id array is written next to it as Path+".ids".
	Path             string `yaml:"path"`
	CorpusPath       string `yaml:"corpusPath"`
	Dimension        int    `yaml:"dimension"`
	EmbedBatchSize   int    `yaml:"embedBatchSize"`
	BuildConcurrency int    `yaml:"buildConcurrency"`
}

// EmbeddingConfig selects and configures the embedding collaborator.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "http" or "fastembed"
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"apiKey"`
	CacheDir  string        `yaml:"cacheDir"`
	MaxLength int           `yaml:"maxLength"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RelevanceConfig configures the cross-encoder collaborator and the limits
// the pipeline enforces around it.
type RelevanceConfig struct {
	URL              string        `yaml:"url"`
	Model            string        `yaml:"model"`
	APIKey           string        `yaml:"apiKey"`
	HealthPath       string        `yaml:"healthPath"`
	BatchSize        int           `yaml:"batchSize"`
	MaxPairChars     int           `yaml:"maxPairChars"`
	Timeout          time.Duration `yaml:"timeout"`
	IdleUnloadAfter  time.Duration `yaml:"idleUnloadAfter"`
	Exclusive        bool          `yaml:"exclusive"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// SearchConfig controls query limits and the preview budget.
type SearchConfig struct {
	DefaultTopK     int `yaml:"defaultTopK"`
	MaxTopK         int `yaml:"maxTopK"`
	PreviewMaxChars int `yaml:"previewMaxChars"`
}

// DocumentsConfig selects the document store backend.
type DocumentsConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfig, 0, "reading config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Newf(apperrors.ErrConfig, 0, "parsing config file %s: %v", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Validate reports missing or inconsistent settings as ErrConfig.
func (c *Config) Validate() error {
	if c.Index.Path == "" {
		return apperrors.New(apperrors.ErrConfig, 0, "index.path is required")
	}
	if c.Index.Dimension <= 0 {
		return apperrors.Newf(apperrors.ErrConfig, 0, "index.dimension must be positive, got %d", c.Index.Dimension)
	}
	if c.Index.EmbedBatchSize <= 0 {
		return apperrors.Newf(apperrors.ErrConfig, 0, "index.embedBatchSize must be positive, got %d", c.Index.EmbedBatchSize)
	}
	if c.Documents.Backend == "memory" && c.Index.CorpusPath == "" {
		return apperrors.New(apperrors.ErrConfig, 0, "index.corpusPath is required for the memory document backend")
	}
	switch c.Documents.Backend {
	case "memory", "postgres":
	default:
		return apperrors.Newf(apperrors.ErrConfig, 0, "unknown documents.backend %q", c.Documents.Backend)
	}
	switch c.Embedding.Provider {
	case "http", "fastembed":
	default:
		return apperrors.Newf(apperrors.ErrConfig, 0, "unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Search.MaxTopK <= 0 {
		return apperrors.Newf(apperrors.ErrConfig, 0, "search.maxTopK must be positive, got %d", c.Search.MaxTopK)
	}
	if c.Search.DefaultTopK < 1 || c.Search.DefaultTopK > c.Search.MaxTopK {
		return apperrors.Newf(apperrors.ErrConfig, 0, "search.defaultTopK must be in [1, %d], got %d", c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return apperrors.Newf(apperrors.ErrConfig, 0, "server.rateLimitPerMinute must not be negative, got %d", c.Server.RateLimitPerMinute)
	}
	if c.Relevance.BatchSize <= 0 {
		return apperrors.Newf(apperrors.ErrConfig, 0, "relevance.batchSize must be positive, got %d", c.Relevance.BatchSize)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "clirsearch",
			User:            "clirsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "clirsearch-analytics",
			Topics: KafkaTopics{
				AnalyticsEvents: "search-analytics",
				IndexComplete:   "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			Path:             "data/indices/kazakh_docs.index",
			CorpusPath:       "data/documents/clirmatrix_test_docs.jsonl",
			Dimension:        1024,
			EmbedBatchSize:   32,
			BuildConcurrency: 2,
		},
		Embedding: EmbeddingConfig{
			Provider:  "http",
			URL:       "http://localhost:8001",
			Model:     "BAAI/bge-m3",
			MaxLength: 8192,
			Timeout:   30 * time.Second,
		},
		Relevance: RelevanceConfig{
			URL:              "http://localhost:8002",
			Model:            "bert-base-multilingual-uncased",
			HealthPath:       "/health",
			BatchSize:        16,
			MaxPairChars:     400,
			Timeout:          30 * time.Second,
			IdleUnloadAfter:  10 * time.Minute,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Search: SearchConfig{
			DefaultTopK:     100,
			MaxTopK:         200,
			PreviewMaxChars: 200,
		},
		Documents: DocumentsConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CLIR_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CLIR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CLIR_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CLIR_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("CLIR_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CLIR_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CLIR_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CLIR_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CLIR_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CLIR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLIR_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CLIR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CLIR_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("CLIR_CORPUS_PATH"); v != "" {
		cfg.Index.CorpusPath = v
	}
	if v := os.Getenv("CLIR_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("CLIR_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("CLIR_RELEVANCE_URL"); v != "" {
		cfg.Relevance.URL = v
	}
	if v := os.Getenv("CLIR_RELEVANCE_MODEL"); v != "" {
		cfg.Relevance.Model = v
	}
	if v := os.Getenv("CLIR_DOCUMENTS_BACKEND"); v != "" {
		cfg.Documents.Backend = v
	}
	if v := os.Getenv("CLIR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CLIR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
