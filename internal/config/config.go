package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"SERVER_PORT"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn" env:"POSTGRES_DSN"`
	Password string `yaml:"-" env:"POSTGRES_PASSWORD"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic           string        `yaml:"topic" env:"KAFKA_OUTBOUND_TOPIC"`
	InboundTopic    string        `yaml:"inbound_topic" env:"KAFKA_INBOUND_TOPIC"`
	RetryTopic      string        `yaml:"retry_topic" env:"KAFKA_RETRY_TOPIC"`
	DeadLetterTopic string        `yaml:"dead_letter_topic" env:"KAFKA_DEAD_LETTER_TOPIC"`
	GroupID         string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	BatchSize       int           `yaml:"batch_size" env:"KAFKA_BATCH_SIZE"`
	BatchWait       time.Duration `yaml:"batch_wait" env:"KAFKA_BATCH_WAIT"`
	MaxAttempts     int           `yaml:"max_attempts" env:"KAFKA_MAX_ATTEMPTS"`
	Workers         int           `yaml:"workers" env:"KAFKA_WORKERS"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"OUTBOX_POLL_INTERVAL"`
	BatchSize    int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Load reads yaml file, then applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if cfg.Postgres.Password != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + cfg.Postgres.Password
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "payment-ledger"
	}
	if c.Kafka.BatchSize <= 0 {
		c.Kafka.BatchSize = 10
	}
	if c.Kafka.BatchWait <= 0 {
		c.Kafka.BatchWait = time.Second
	}
	if c.Kafka.MaxAttempts <= 0 {
		c.Kafka.MaxAttempts = 5
	}
	if c.Kafka.Workers <= 0 {
		c.Kafka.Workers = 1
	}
	if c.Kafka.RetryTopic == "" && c.Kafka.InboundTopic != "" {
		c.Kafka.RetryTopic = c.Kafka.InboundTopic + ".retry"
	}
	if c.Kafka.DeadLetterTopic == "" && c.Kafka.InboundTopic != "" {
		c.Kafka.DeadLetterTopic = c.Kafka.InboundTopic + ".dlq"
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 100
	}
	if c.Outbox.PollInterval <= 0 {
		c.Outbox.PollInterval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
}
