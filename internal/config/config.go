package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Queue     QueueConfig     `yaml:"queue"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// StoreConfig points at the durable inventory store. An empty DSN is not an
// error at load time; the service runs degraded instead of crashing.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// QueueConfig points at the Redis instance carrying the order_events stream
// shared with the orders service.
type QueueConfig struct {
	Addr              string        `yaml:"addr"`
	Password          string        `yaml:"password"`
	DB                int           `yaml:"db"`
	Stream            string        `yaml:"stream"`
	Group             string        `yaml:"group"`
	DeadLetterStream  string        `yaml:"dead_letter_stream"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type ConsumerConfig struct {
	Workers        int           `yaml:"workers"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// yaml.v3 has no native time.Duration support, so the duration-bearing
// structs decode through raw mirrors with "30s"-style string fields.

func (q *QueueConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Addr              string `yaml:"addr"`
		Password          string `yaml:"password"`
		DB                int    `yaml:"db"`
		Stream            string `yaml:"stream"`
		Group             string `yaml:"group"`
		DeadLetterStream  string `yaml:"dead_letter_stream"`
		VisibilityTimeout string `yaml:"visibility_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	q.Addr = raw.Addr
	q.Password = raw.Password
	q.DB = raw.DB
	q.Stream = raw.Stream
	q.Group = raw.Group
	q.DeadLetterStream = raw.DeadLetterStream
	return parseDurations(map[string]durationField{
		"visibility_timeout": {raw.VisibilityTimeout, &q.VisibilityTimeout},
	})
}

func (c *ConsumerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Workers        int    `yaml:"workers"`
		MaxAttempts    int    `yaml:"max_attempts"`
		InitialBackoff string `yaml:"initial_backoff"`
		MaxBackoff     string `yaml:"max_backoff"`
		LockTimeout    string `yaml:"lock_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Workers = raw.Workers
	c.MaxAttempts = raw.MaxAttempts
	return parseDurations(map[string]durationField{
		"initial_backoff": {raw.InitialBackoff, &c.InitialBackoff},
		"max_backoff":     {raw.MaxBackoff, &c.MaxBackoff},
		"lock_timeout":    {raw.LockTimeout, &c.LockTimeout},
	})
}

type durationField struct {
	raw  string
	dest *time.Duration
}

func parseDurations(fields map[string]durationField) error {
	for name, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*f.dest = d
	}
	return nil
}

// Load reads yaml file, then applies the environment overrides the original
// deployment manifests use: SERVER_PORT, MONGO_URL (store DSN) and
// EVENT_STORE_URL (queue address). Empty values pass through untouched.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyEnv(&cfg)
	cfg.applyDefaults()
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v, ok := os.LookupEnv("MONGO_URL"); ok {
		cfg.Store.DSN = v
	}
	if v, ok := os.LookupEnv("EVENT_STORE_URL"); ok {
		cfg.Queue.Addr = v
	}
	if pw := os.Getenv("QUEUE_PASSWORD"); pw != "" {
		cfg.Queue.Password = pw
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Queue.Stream == "" {
		c.Queue.Stream = "order_events"
	}
	if c.Queue.Group == "" {
		c.Queue.Group = "inventory-reconciler"
	}
	if c.Queue.DeadLetterStream == "" {
		c.Queue.DeadLetterStream = c.Queue.Stream + ":dead"
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 30 * time.Second
	}
	if c.Consumer.Workers == 0 {
		c.Consumer.Workers = 4
	}
	if c.Consumer.MaxAttempts == 0 {
		c.Consumer.MaxAttempts = 5
	}
	if c.Consumer.InitialBackoff == 0 {
		c.Consumer.InitialBackoff = 100 * time.Millisecond
	}
	if c.Consumer.MaxBackoff == 0 {
		c.Consumer.MaxBackoff = 5 * time.Second
	}
	if c.Consumer.LockTimeout == 0 {
		c.Consumer.LockTimeout = 10 * time.Second
	}
}
