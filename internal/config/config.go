package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Embeddings    []EmbeddingConfig   `mapstructure:"embeddings"`
	Vectorization VectorizationConfig `mapstructure:"vectorization"`
	ModelBundle   ModelBundleConfig   `mapstructure:"model_bundle"`
	Semantic      SemanticConfig      `mapstructure:"semantic"`
	Matching      MatchingConfig      `mapstructure:"matching"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	Sources       SourcesConfig       `mapstructure:"sources"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite | postgres
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	if c.Path == "" {
		return "file::memory:?cache=shared"
	}
	return c.Path
}

type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	TTL     time.Duration `mapstructure:"ttl"` // 0 keeps match results until pruned
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// StorageConfig describes the S3-compatible bucket holding analysis manifests
// and match reports.
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	PublicURL string `mapstructure:"public_url"`
}

// Enabled reports whether a bucket is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Bucket != "" && c.Endpoint != ""
}

// VectorizationConfig tunes the embedding orchestrator and the backend throttle.
type VectorizationConfig struct {
	MetadataWeight float64 `mapstructure:"metadata_weight" validate:"gte=0,lte=1"`
	AnalysisWeight float64 `mapstructure:"analysis_weight" validate:"gte=0,lte=1"`
	ContextWeight  float64 `mapstructure:"context_weight" validate:"gte=0,lte=1"`

	BatchSize     int           `mapstructure:"batch_size" validate:"gte=1"`
	L1Size        int           `mapstructure:"l1_size" validate:"gte=0"`
	L1TTL         time.Duration `mapstructure:"l1_ttl"`
	MirrorToIndex bool          `mapstructure:"mirror_to_index"`

	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConcurrent   int           `mapstructure:"max_concurrent" validate:"gte=1"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	RetryCount      int           `mapstructure:"retry_count" validate:"gte=0"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// ModelBundleConfig names the auxiliary models whose identity is part of every
// cache key. The embedding model comes from the active embedding config.
type ModelBundleConfig struct {
	RerankerModel string `mapstructure:"reranker_model"`
	EmotionModel  string `mapstructure:"emotion_model"`
	Version       string `mapstructure:"version"`
}

type SemanticConfig struct {
	Threshold  float64       `mapstructure:"threshold" validate:"gte=0,lte=1"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" validate:"gte=1"`
}

type CacheConfig struct {
	// MatchResults selects the match result store: sql, redis or memory.
	MatchResults string `mapstructure:"match_results" validate:"oneof=sql redis memory"`
}

type WarmupConfig struct {
	Workers   int `mapstructure:"workers" validate:"gte=1"`
	BatchSize int `mapstructure:"batch_size" validate:"gte=1"`
}

type SourcesConfig struct {
	Staging StagingSourceConfig `mapstructure:"staging"`
	Bucket  BucketSourceConfig  `mapstructure:"bucket"`
}

type StagingSourceConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type BucketSourceConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// Load reads configuration from file, .env and the environment, then validates it.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets and endpoints commonly injected by the deployment
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	_ = v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	_ = v.BindEnv("storage.bucket", "S3_BUCKET")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Embeddings) == 0 {
		cfg.Embeddings = []EmbeddingConfig{defaultEmbedding()}
	}
	for i := range cfg.Embeddings {
		cfg.Embeddings[i].ResolveEnvVars()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section that is fatal to get wrong at startup.
func (c *Config) Validate() error {
	if err := validateStruct("vectorization", &c.Vectorization); err != nil {
		return err
	}
	if err := validateStruct("semantic", &c.Semantic); err != nil {
		return err
	}
	if err := validateStruct("cache", &c.Cache); err != nil {
		return err
	}
	if err := validateStruct("warmup", &c.Warmup); err != nil {
		return err
	}
	return c.Matching.Validate()
}

func defaultEmbedding() EmbeddingConfig {
	return EmbeddingConfig{
		Name:       "jina",
		Provider:   "jina",
		Model:      "jina-embeddings-v3",
		APIKeyEnv:  "JINA_API_KEY",
		Dimensions: 1024,
		IsDefault:  true,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/tunematch.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "tracks")

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("vectorization.metadata_weight", 0.3)
	v.SetDefault("vectorization.analysis_weight", 0.5)
	v.SetDefault("vectorization.context_weight", 0.2)
	v.SetDefault("vectorization.batch_size", 64)
	v.SetDefault("vectorization.l1_size", 2048)
	v.SetDefault("vectorization.l1_ttl", "1h")
	v.SetDefault("vectorization.mirror_to_index", true)
	v.SetDefault("vectorization.timeout", "30s")
	v.SetDefault("vectorization.max_concurrent", 5)
	v.SetDefault("vectorization.min_interval", "50ms")
	v.SetDefault("vectorization.retry_count", 3)
	v.SetDefault("vectorization.retry_backoff", "500ms")
	v.SetDefault("vectorization.breaker_failures", 5)
	v.SetDefault("vectorization.breaker_timeout", "30s")

	v.SetDefault("model_bundle.version", "1")

	v.SetDefault("semantic.threshold", 0.65)
	v.SetDefault("semantic.ttl", "1h")
	v.SetDefault("semantic.max_entries", 5000)

	v.SetDefault("cache.match_results", "sql")

	v.SetDefault("warmup.workers", 4)
	v.SetDefault("warmup.batch_size", 32)

	v.SetDefault("sources.staging.base_path", "./data/staging")
	v.SetDefault("sources.bucket.prefix", "analyses")

	setMatchingDefaults(v)
}
