// Package config loads and validates the wiki search configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Postgres, Kafka, Redis, Search, Logging, Metrics).
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
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"corsOrigins"`
	// RateLimitPerMinute caps API requests per caller; zero disables it.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// PostgresConfig holds connection parameters for the wiki document store.
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

// KafkaConfig holds broker settings and the domain event topics.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps the wiki's event topics to Kafka topic names.
type KafkaTopics struct {
	Page           string `yaml:"page"`
	Bookmark       string `yaml:"bookmark"`
	Tag            string `yaml:"tag"`
	SearchProgress string `yaml:"searchProgress"`
}

// RedisConfig holds Redis connection and result caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// SearchConfig selects and tunes the index engine. When ElasticsearchURI,
// SearchboxURI and BlevePath are all empty, search is disabled.
type SearchConfig struct {
	ElasticsearchURI      string        `yaml:"elasticsearchUri"`
	SearchboxURI          string        `yaml:"searchboxUri"`
	BlevePath             string        `yaml:"blevePath"`
	MappingFile           string        `yaml:"mappingFile"`
	RequestTimeout        time.Duration `yaml:"requestTimeout"`
	DefaultLimit          int           `yaml:"defaultLimit"`
	MaxLimit              int           `yaml:"maxLimit"`
	BulkSize              int           `yaml:"bulkSize"`
	SyncWorkers           int           `yaml:"syncWorkers"`
	SyncQueueSize         int           `yaml:"syncQueueSize"`
	HideRestrictedByOwner bool          `yaml:"hideRestrictedByOwner"`
	HideRestrictedByGroup bool          `yaml:"hideRestrictedByGroup"`
}

// Enabled reports whether any index engine endpoint is configured.
func (s SearchConfig) Enabled() bool {
	return s.ElasticsearchURI != "" || s.SearchboxURI != "" || s.BlevePath != ""
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
// overrides. Missing values keep their defaults.
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

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "wiki",
			User:            "wiki",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "wiki-search",
			Topics: KafkaTopics{
				Page:           "wiki.page",
				Bookmark:       "wiki.bookmark",
				Tag:            "wiki.tag",
				SearchProgress: "wiki.search-progress",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Search: SearchConfig{
			RequestTimeout: 5 * time.Second,
			DefaultLimit:   50,
			MaxLimit:       500,
			BulkSize:       100,
			SyncWorkers:    4,
			SyncQueueSize:  256,
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

func (c *Config) validate() error {
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rateLimitPerMinute must not be negative, got %d", c.Server.RateLimitPerMinute)
	}
	if c.Search.BulkSize <= 0 {
		return fmt.Errorf("search.bulkSize must be positive, got %d", c.Search.BulkSize)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: defaultLimit=%d maxLimit=%d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.SyncWorkers <= 0 {
		c.Search.SyncWorkers = 1
	}
	if c.Search.SyncQueueSize <= 0 {
		c.Search.SyncQueueSize = 1
	}
	return nil
}

// applyEnvOverrides reads WS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WS_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("WS_SERVER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("WS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("WS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("WS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("WS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("WS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("WS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("WS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WS_ELASTICSEARCH_URI"); v != "" {
		cfg.Search.ElasticsearchURI = v
	}
	if v := os.Getenv("WS_SEARCHBOX_URI"); v != "" {
		cfg.Search.SearchboxURI = v
	}
	if v := os.Getenv("WS_BLEVE_PATH"); v != "" {
		cfg.Search.BlevePath = v
	}
	if v := os.Getenv("WS_SEARCH_HIDE_RESTRICTED_BY_OWNER"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.HideRestrictedByOwner = b
		}
	}
	if v := os.Getenv("WS_SEARCH_HIDE_RESTRICTED_BY_GROUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.HideRestrictedByGroup = b
		}
	}
	if v := os.Getenv("WS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
