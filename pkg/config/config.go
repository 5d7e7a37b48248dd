// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Node, Replication, Kafka, Redis, Indexer, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Node        NodeConfig        `yaml:"node"`
	Replication ReplicationConfig `yaml:"replication"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Search      SearchConfig      `yaml:"search"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// RateLimit is requests per second per client IP. 0 disables it.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// NodeConfig identifies a storage node and where it keeps its artifacts.
// Origin is the base URL peers use to reach this node's document interface.
type NodeConfig struct {
	ID            string `yaml:"id"`
	Origin        string `yaml:"origin"`
	DataDir       string `yaml:"dataDir"`
	Backend       string `yaml:"backend"`
	ParserVersion string `yaml:"parserVersion"`
	SourceURL     string `yaml:"sourceUrl"`
}

// ReplicationConfig controls peer discovery, periodic resync and transfer
// limits of the replication hub.
type ReplicationConfig struct {
	HelloInterval     time.Duration `yaml:"helloInterval"`
	ResyncInterval    time.Duration `yaml:"resyncInterval"`
	ConnectTimeout    time.Duration `yaml:"connectTimeout"`
	FetchTimeout      time.Duration `yaml:"fetchTimeout"`
	SyncTimeout       time.Duration `yaml:"syncTimeout"`
	Factor            int           `yaml:"factor"`
	SyncConcurrency   int           `yaml:"syncConcurrency"`
	FetchBytesPerSec  int           `yaml:"fetchBytesPerSec"`
	IndexOnReplica    bool          `yaml:"indexOnReplica"`
	BreakerThreshold  int           `yaml:"breakerThreshold"`
	BreakerResetAfter time.Duration `yaml:"breakerResetAfter"`

	// Peers are seed origins recorded before any HELLO arrives.
	Peers []string `yaml:"peers"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Hello         string `yaml:"hello"`
	Events        string `yaml:"events"`
	IndexRequests string `yaml:"indexRequests"`
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"poolSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
	KeyPrefix string        `yaml:"keyPrefix"`
}

// ObjectStoreConfig points the content store at an S3-compatible bucket
// when node.backend is "minio".
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"useSSL"`
}

// IndexerConfig controls where the shared index lives, how the cluster-wide
// mutation lock behaves, and which origins are tried by default. LockHold
// bounds one mutation once it holds the lock.
type IndexerConfig struct {
	Backend        string        `yaml:"backend"`
	LockName       string        `yaml:"lockName"`
	LockTTL        time.Duration `yaml:"lockTTL"`
	LockWait       time.Duration `yaml:"lockWait"`
	LockHold       time.Duration `yaml:"lockHold"`
	DefaultOrigins []string      `yaml:"defaultOrigins"`
	Stopwords      bool          `yaml:"stopwords"`
	RPCAddr        string        `yaml:"rpcAddr"`
	FetchTimeout   time.Duration `yaml:"fetchTimeout"`

	// SnapshotPath, when set, persists the memory backend across restarts.
	SnapshotPath     string        `yaml:"snapshotPath"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheEnabled bool          `yaml:"cacheEnabled"`
	RPCAddr      string        `yaml:"rpcAddr"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig toggles span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Node.Backend {
	case "fs", "minio":
	default:
		return fmt.Errorf("node.backend must be fs or minio, got %q", c.Node.Backend)
	}
	switch c.Indexer.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("indexer.backend must be memory or redis, got %q", c.Indexer.Backend)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative")
	}
	if c.Replication.Factor < 0 {
		return fmt.Errorf("replication.factor must not be negative")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: default=%d max=%d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7001,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateBurst:       20,
		},
		Node: NodeConfig{
			Origin:        "http://localhost:7001",
			DataDir:       "datalake",
			Backend:       "fs",
			ParserVersion: "gutenberg-header-v1",
			SourceURL:     "https://www.gutenberg.org/cache/epub/%d/pg%d.txt",
		},
		Replication: ReplicationConfig{
			HelloInterval:     30 * time.Second,
			ResyncInterval:    15 * time.Second,
			ConnectTimeout:    5 * time.Second,
			FetchTimeout:      15 * time.Second,
			SyncTimeout:       2 * time.Minute,
			Factor:            0,
			SyncConcurrency:   4,
			BreakerThreshold:  5,
			BreakerResetAfter: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "librarysearch",
			User:            "librarysearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "librarysearch",
			Topics: KafkaTopics{
				Hello:         "bd.ingestion.hello",
				Events:        "bd.ingestion.events",
				IndexRequests: "ingestion.ingested",
				IndexComplete: "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			CacheTTL:  60 * time.Second,
			KeyPrefix: "ls",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint: "localhost:9000",
			Bucket:   "datalake",
		},
		Indexer: IndexerConfig{
			Backend:          "memory",
			LockName:         "inverted-index-lock",
			LockTTL:          2 * time.Minute,
			LockWait:         30 * time.Second,
			LockHold:         90 * time.Second,
			Stopwords:        true,
			FetchTimeout:     15 * time.Second,
			SnapshotInterval: 5 * time.Minute,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 10,
			Timeout:      5 * time.Second,
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

// applyEnvOverrides reads LS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LS_SERVER_RATE_LIMIT"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = r
		}
	}
	if v := os.Getenv("LS_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("LS_NODE_ORIGIN"); v != "" {
		cfg.Node.Origin = v
	}
	if v := os.Getenv("LS_NODE_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("LS_NODE_BACKEND"); v != "" {
		cfg.Node.Backend = v
	}
	if v := os.Getenv("LS_REPLICATION_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Replication.Factor = n
		}
	}
	if v := os.Getenv("LS_REPLICATION_RESYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Replication.ResyncInterval = d
		}
	}
	if v := os.Getenv("LS_REPLICATION_PEERS"); v != "" {
		cfg.Replication.Peers = strings.Split(v, ",")
	}
	if v := os.Getenv("LS_REPLICATION_INDEX_ON_REPLICA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Replication.IndexOnReplica = b
		}
	}
	if v := os.Getenv("LS_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("LS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("LS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("LS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("LS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("LS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("LS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LS_OBJECTSTORE_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("LS_OBJECTSTORE_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("LS_OBJECTSTORE_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("LS_OBJECTSTORE_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := os.Getenv("LS_INDEXER_BACKEND"); v != "" {
		cfg.Indexer.Backend = v
	}
	if v := os.Getenv("LS_INDEXER_DEFAULT_ORIGINS"); v != "" {
		cfg.Indexer.DefaultOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("LS_INDEXER_SNAPSHOT_PATH"); v != "" {
		cfg.Indexer.SnapshotPath = v
	}
	if v := os.Getenv("LS_SEARCH_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.CacheEnabled = b
		}
	}
	if v := os.Getenv("LS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
