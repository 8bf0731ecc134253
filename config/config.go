package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Backend names
const (
	BackendAWS   = "aws"
	BackendLocal = "local"

	RecordsDynamoDB = "dynamodb"
	RecordsPostgres = "postgres"
	RecordsMemory   = "memory"

	LedgerObject = "object"
	LedgerRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	// Server
	ServerPort     string        `mapstructure:"server_port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`

	// Backend selects aws or local (in-memory stores, loopback bus)
	Backend string `mapstructure:"backend"`
	// Records selects the record store used by the aws backend
	Records string `mapstructure:"records"`
	// Ledger selects where paged markers are kept
	Ledger string `mapstructure:"ledger"`

	// AWS
	AWSRegion    string `mapstructure:"aws_region"`
	Table        string `mapstructure:"table"`
	SessionIndex string `mapstructure:"session_index"`
	Bucket       string `mapstructure:"bucket"`
	UpdateTopic  string `mapstructure:"update_topic"`
	LogTopic     string `mapstructure:"log_topic"`
	JobTopic     string `mapstructure:"job_topic"`

	// Database
	DatabaseURL string `mapstructure:"database_url"`

	// Redis
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	// LedgerRetention expires idle paged sets; zero keeps them for good
	LedgerRetention time.Duration `mapstructure:"ledger_retention"`

	// Lifecycle
	JobTTL          time.Duration `mapstructure:"job_ttl"`
	FinishedTTL     time.Duration `mapstructure:"finished_ttl"`
	ConsumerTTL     time.Duration `mapstructure:"consumer_ttl"`
	BulkConcurrency int           `mapstructure:"bulk_concurrency"`
	PageAttempts    int           `mapstructure:"page_attempts"`
	CheckInstances  bool          `mapstructure:"check_instances"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_port", "8080")
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("backend", BackendAWS)
	v.SetDefault("records", RecordsDynamoDB)
	v.SetDefault("ledger", LedgerObject)

	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("table", "FOQUS_Resources")
	v.SetDefault("session_index", "")
	v.SetDefault("bucket", "foqus-simulations")
	v.SetDefault("update_topic", "")
	v.SetDefault("log_topic", "")
	v.SetDefault("job_topic", "")

	v.SetDefault("database_url", "postgres://localhost/foqus?sslmode=disable")

	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("ledger_retention", time.Duration(0))

	v.SetDefault("job_ttl", 30*24*time.Hour)
	v.SetDefault("finished_ttl", 7*24*time.Hour)
	v.SetDefault("consumer_ttl", 10*time.Minute)
	v.SetDefault("bulk_concurrency", 16)
	v.SetDefault("page_attempts", 3)
	v.SetDefault("check_instances", false)
}

// Load loads configuration from defaults, an optional YAML file and
// FOQUS_ prefixed environment variables, in increasing precedence
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FOQUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option values that have a closed set of choices
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAWS, BackendLocal:
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Records {
	case RecordsDynamoDB, RecordsPostgres, RecordsMemory:
	default:
		return errors.Errorf("unknown record store %q", c.Records)
	}
	switch c.Ledger {
	case LedgerObject, LedgerRedis:
	default:
		return errors.Errorf("unknown ledger %q", c.Ledger)
	}
	if c.BulkConcurrency < 1 {
		return errors.Errorf("bulk_concurrency must be positive, got %d", c.BulkConcurrency)
	}
	if c.PageAttempts < 1 {
		return errors.Errorf("page_attempts must be positive, got %d", c.PageAttempts)
	}
	return nil
}

// ConfigureLogging applies the configured level and format to the standard logger
func ConfigureLogging(cfg *Config) {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetOutput(os.Stdout)

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Warn("Unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
