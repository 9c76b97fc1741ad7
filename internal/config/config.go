package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Database    DatabaseConfig     `mapstructure:"database"`
	VectorStore VectorStoreConfig  `mapstructure:"vector_store"`
	Qdrant      QdrantConfig       `mapstructure:"qdrant"`
	Embedding   EmbeddingConfig    `mapstructure:"embedding"`
	Classifier  ClassifierConfig   `mapstructure:"classifier"`
	Sync        SyncConfig         `mapstructure:"sync"`
	Dedupe      DedupeConfig       `mapstructure:"dedupe"`
	Validation  ValidationConfig   `mapstructure:"validation"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Storage     StorageConfig      `mapstructure:"storage"`
	Datasources []DatasourceConfig `mapstructure:"datasources"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig holds the metadata store settings (jobs, datasources, collections).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, sqlite
	Path            string        `mapstructure:"path"`   // sqlite file
	URL             string        `mapstructure:"dsn"`    // postgres
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

// VectorStoreConfig selects the vector store gateway.
type VectorStoreConfig struct {
	Driver    string `mapstructure:"driver"`     // qdrant, local
	LocalPath string `mapstructure:"local_path"` // bbolt file for the local driver; empty keeps it in memory
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

type ClassifierConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Model   string        `mapstructure:"model"`
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	EmbedConcurrency int           `mapstructure:"embed_concurrency"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	Distance         string        `mapstructure:"distance"`
	HNSWM            uint64        `mapstructure:"hnsw_m"`
	HNSWEfConstruct  uint64        `mapstructure:"hnsw_ef_construct"`
	RecoverOnStart   bool          `mapstructure:"recover_on_start"`
}

type DedupeConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	Neighbors           int     `mapstructure:"neighbors"`
	ScanLimit           int     `mapstructure:"scan_limit"`
	QueryConcurrency    int     `mapstructure:"query_concurrency"`
	ClassifyConcurrency int     `mapstructure:"classify_concurrency"`
}

type ValidationConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	ExactThreshold      float64 `mapstructure:"exact_threshold"`
	MaxMatches          int     `mapstructure:"max_matches"`
	BrandField          string  `mapstructure:"brand_field"`
	ModelField          string  `mapstructure:"model_field"`
}

// RedisConfig enables cross-instance active-job slots.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	SlotTTL  time.Duration `mapstructure:"slot_ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

// StorageConfig holds S3-compatible object storage settings for report export.
type StorageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	Bucket       string `mapstructure:"bucket"`
	PublicURL    string `mapstructure:"public_url"`
	ReportPrefix string `mapstructure:"report_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/catalogsync.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("vector_store.driver", "qdrant")
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.api_key_env", "JINA_API_KEY")
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.base_url", "https://api.openai.com/v1")
	v.SetDefault("classifier.timeout", 60*time.Second)
	v.SetDefault("sync.batch_size", 200)
	v.SetDefault("sync.embed_concurrency", 8)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_backoff", 200*time.Millisecond)
	v.SetDefault("sync.distance", "Cosine")
	v.SetDefault("sync.hnsw_m", 16)
	v.SetDefault("sync.hnsw_ef_construct", 128)
	v.SetDefault("sync.recover_on_start", true)
	v.SetDefault("dedupe.similarity_threshold", 0.85)
	v.SetDefault("dedupe.neighbors", 10)
	v.SetDefault("dedupe.scan_limit", 1000)
	v.SetDefault("dedupe.query_concurrency", 8)
	v.SetDefault("dedupe.classify_concurrency", 4)
	v.SetDefault("validation.similarity_threshold", 0.90)
	v.SetDefault("validation.exact_threshold", 0.97)
	v.SetDefault("validation.max_matches", 10)
	v.SetDefault("validation.brand_field", "marca")
	v.SetDefault("validation.model_field", "modelo")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.slot_ttl", 2*time.Minute)
	v.SetDefault("redis.prefix", "catalogsync:active:")
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "catalogsync-reports")
	v.SetDefault("storage.report_prefix", "reports")
}

// Load reads configuration from file, .env and environment, in that order of precedence
// (environment wins).
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

	// Secrets and deployment endpoints
	v.BindEnv("database.dsn", "DATABASE_URL")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("classifier.api_key", "OPENAI_API_KEY")
	v.BindEnv("classifier.base_url", "OPENAI_BASE_URL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Embedding.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	switch c.VectorStore.Driver {
	case "qdrant", "local":
	default:
		return fmt.Errorf("vector_store.driver: unknown driver %q", c.VectorStore.Driver)
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.EmbedConcurrency <= 0 {
		return fmt.Errorf("sync.embed_concurrency must be positive")
	}
	if c.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("sync.retry_attempts must be positive")
	}
	if !validThreshold(c.Dedupe.SimilarityThreshold) {
		return fmt.Errorf("dedupe.similarity_threshold must be in (0, 1]")
	}
	if !validThreshold(c.Validation.SimilarityThreshold) || !validThreshold(c.Validation.ExactThreshold) {
		return fmt.Errorf("validation thresholds must be in (0, 1]")
	}
	if c.Validation.ExactThreshold < c.Validation.SimilarityThreshold {
		return fmt.Errorf("validation.exact_threshold must not be below validation.similarity_threshold")
	}
	seen := make(map[string]bool, len(c.Datasources))
	for i := range c.Datasources {
		ds := &c.Datasources[i]
		if seen[ds.ID] {
			return fmt.Errorf("datasources: duplicate id %q", ds.ID)
		}
		seen[ds.ID] = true
		if err := ds.ToDomain().Validate(); err != nil {
			return fmt.Errorf("datasources[%d]: %w", i, err)
		}
	}
	return nil
}

func validThreshold(t float64) bool {
	return t > 0 && t <= 1
}
