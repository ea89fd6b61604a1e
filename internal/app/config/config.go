package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/parthCJ/Aarma-be/internal/adapters/mqtt"
	"github.com/parthCJ/Aarma-be/internal/adapters/opcua"
	"github.com/parthCJ/Aarma-be/internal/adapters/store/dynamo"
	"github.com/parthCJ/Aarma-be/internal/core/change"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

type Config struct {
	Policy    ports.Policy    `yaml:"policy"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Directory DirectoryConfig `yaml:"directory"`
	MQTT      *mqtt.Config    `yaml:"mqtt"`
	OPCUA     *opcua.Config   `yaml:"opcua"`
	HTTP      HTTPConfig      `yaml:"http"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	WAL       WALConfig       `yaml:"wal"`
	Log       LogConfig       `yaml:"log"`
}

type IngestConfig struct {
	// Threshold and RequireRegisteredSensor are pointers so an explicit
	// zero value survives defaults.
	Threshold               *float64 `yaml:"threshold"`
	RequireRegisteredSensor *bool    `yaml:"require_registered_sensor"`
}

type StoreConfig struct {
	Driver   string         `yaml:"driver"` // memory, postgres, pebble, dynamodb
	Timeout  time.Duration  `yaml:"timeout"`
	Postgres PostgresConfig `yaml:"postgres"`
	Pebble   PebbleConfig   `yaml:"pebble"`
	DynamoDB dynamo.Config  `yaml:"dynamodb"`
}

type PostgresConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type PebbleConfig struct {
	Dir string `yaml:"dir"`
}

type CacheConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type DirectoryConfig struct {
	Driver string `yaml:"driver"` // memory, postgres
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type WALConfig struct {
	Dir          string `yaml:"dir"`
	SyncOnAppend bool   `yaml:"sync_on_append"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path, merges .env and AARMA_* overrides, then applies defaults
// and validates.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	_ = godotenv.Load(".env")
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("AARMA_POSTGRES_URL"); v != "" {
		c.Store.Postgres.ConnString = v
	}
	if v := getenv("AARMA_MQTT_BROKER"); v != "" {
		if c.MQTT == nil {
			c.MQTT = &mqtt.Config{}
		}
		c.MQTT.Broker = v
	}
	if v := getenv("AARMA_REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
	}
	if v := getenv("AARMA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("AARMA_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 1 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 500
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 50 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}
	if c.Policy.Workers == 0 {
		c.Policy.Workers = 4
	}
	if c.Policy.MaxAttempts == 0 {
		c.Policy.MaxAttempts = 5
	}
	if c.Policy.RetryBackoff == 0 {
		c.Policy.RetryBackoff = 200 * time.Millisecond
	}

	if c.Ingest.Threshold == nil {
		t := change.DefaultThreshold
		c.Ingest.Threshold = &t
	}
	if c.Ingest.RequireRegisteredSensor == nil {
		on := true
		c.Ingest.RequireRegisteredSensor = &on
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 5 * time.Second
	}
	if c.Store.Postgres.Table == "" {
		c.Store.Postgres.Table = "sensor_batches"
	}
	if c.Store.Pebble.Dir == "" {
		c.Store.Pebble.Dir = "./data/pebble"
	}
	if c.Store.DynamoDB.Table == "" {
		c.Store.DynamoDB.Table = "aarma_batches"
	}
	if c.Cache.Redis.TTL == 0 {
		c.Cache.Redis.TTL = 24 * time.Hour
	}

	c.Directory.Driver = strings.ToLower(c.Directory.Driver)
	if c.Directory.Driver == "" {
		c.Directory.Driver = "memory"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = 15 * time.Second
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.MQTT != nil {
		c.MQTT.ApplyDefaults()
	}
	if c.OPCUA != nil {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	if _, err := change.NewEvaluator(*c.Ingest.Threshold); err != nil {
		return fmt.Errorf("ingest.threshold: %w", err)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.ConnString == "" {
			return fmt.Errorf("store.postgres.conn_string is required")
		}
	case "pebble":
		if c.Store.Pebble.Dir == "" {
			return fmt.Errorf("store.pebble.dir is required")
		}
	case "dynamodb":
		if c.Store.DynamoDB.Region == "" && c.Store.DynamoDB.Endpoint == "" {
			return fmt.Errorf("store.dynamodb.region or endpoint is required")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	switch c.Directory.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.ConnString == "" {
			return fmt.Errorf("directory.driver postgres needs store.postgres.conn_string")
		}
	default:
		return fmt.Errorf("directory.driver %q is not supported", c.Directory.Driver)
	}
	switch c.Policy.OnQueueFull {
	case "block", "drop", "reject":
	default:
		return fmt.Errorf("policy.on_queue_full %q is not supported", c.Policy.OnQueueFull)
	}
	switch c.Policy.OnWALFull {
	case "block", "drop":
	default:
		return fmt.Errorf("policy.on_wal_full %q is not supported", c.Policy.OnWALFull)
	}
	if c.Policy.Workers < 1 {
		return fmt.Errorf("policy.workers must be positive")
	}
	if c.MQTT != nil {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	if c.OPCUA != nil {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	if c.WAL.Dir == "" {
		return fmt.Errorf("wal.dir is required")
	}
	return nil
}

// Threshold returns the configured change threshold.
func (c *Config) Threshold() float64 {
	return *c.Ingest.Threshold
}

// RegisteredSensorsOnly reports whether ingest rejects sensors that are not
// active in the registry. Unset means true.
func (c *Config) RegisteredSensorsOnly() bool {
	return c.Ingest.RequireRegisteredSensor == nil || *c.Ingest.RequireRegisteredSensor
}
