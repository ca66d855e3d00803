package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPAddr        = ":8080"
	DefaultMonitorInterval = 15 * time.Second
	DefaultWindow          = 10 * time.Minute
	DefaultConcurrency     = 8
	DefaultPolicy          = "canonical"
	DefaultQueueSize       = 1000
)

// Config holds runtime configuration for the monitor service.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	State    StateConfig    `yaml:"state"`
	Storage  StorageConfig  `yaml:"storage"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Log      LogConfig      `yaml:"log"`
}

// HTTPConfig configures the ingest/operator API.
type HTTPConfig struct {
	Addr string `yaml:"addr" env:"VITALWATCH_HTTP_ADDR"`

	// APIKeyEnv names the environment variable holding the expected API key.
	// Authentication is disabled when empty.
	APIKeyEnv string `yaml:"api_key_env" env:"VITALWATCH_API_KEY_ENV"`

	// MaxBodySize limits ingest payloads in bytes.
	MaxBodySize int64 `yaml:"max_body_size" env:"VITALWATCH_HTTP_MAX_BODY"`

	// QueueSize is the capacity of the reading channel between handlers and workers.
	QueueSize int `yaml:"queue_size" env:"VITALWATCH_QUEUE_SIZE"`
}

// APIKey returns the API key resolved from the environment.
func (h HTTPConfig) APIKey() string {
	if h.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(h.APIKeyEnv)
}

// KafkaConfig holds broker settings for the alert topic and the optional
// readings topic.
type KafkaConfig struct {
	Enabled       bool           `yaml:"enabled" env:"VITALWATCH_KAFKA_ENABLED"`
	Brokers       []string       `yaml:"brokers" env:"VITALWATCH_KAFKA_BROKERS"`
	Topic         string         `yaml:"topic" env:"VITALWATCH_KAFKA_TOPIC"`
	ReadingsTopic string         `yaml:"readings_topic" env:"VITALWATCH_KAFKA_READINGS_TOPIC"`
	GroupID       string         `yaml:"group_id" env:"VITALWATCH_KAFKA_GROUP_ID"`
	Producer      ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the Kafka writer pool.
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// StateConfig selects where per-patient alert state lives.
type StateConfig struct {
	// Backend is one of: memory | redis.
	Backend       string `yaml:"backend" env:"VITALWATCH_STATE_BACKEND"`
	RedisAddr     string `yaml:"redis_addr" env:"VITALWATCH_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"VITALWATCH_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"VITALWATCH_REDIS_DB"`
	KeyPrefix     string `yaml:"key_prefix" env:"VITALWATCH_STATE_PREFIX"`
}

// StorageConfig selects the timeline backend.
type StorageConfig struct {
	// Backend is one of: memory | postgres.
	Backend     string `yaml:"backend" env:"VITALWATCH_STORAGE_BACKEND"`
	PostgresDSN string `yaml:"postgres_dsn" env:"VITALWATCH_POSTGRES_DSN"`
	MaxConns    int    `yaml:"max_conns" env:"VITALWATCH_POSTGRES_MAX_CONNS"`

	// DataDir, when set, is loaded into the timeline at startup.
	DataDir string `yaml:"data_dir" env:"VITALWATCH_DATA_DIR"`

	// Workers and batching for the ingest pool.
	Workers      int           `yaml:"workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// MonitorConfig drives the periodic evaluation loop.
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval" env:"VITALWATCH_MONITOR_INTERVAL"`
	Window      time.Duration `yaml:"window" env:"VITALWATCH_MONITOR_WINDOW"`
	Concurrency int           `yaml:"concurrency" env:"VITALWATCH_MONITOR_CONCURRENCY"`

	// Policy names the rule set: canonical | heart_rate | blood_pressure | oxygen_saturation.
	Policy string `yaml:"policy" env:"VITALWATCH_POLICY"`
}

// MQTTConfig configures the optional streaming reading source.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"VITALWATCH_MQTT_ENABLED"`
	Broker   string `yaml:"broker" env:"VITALWATCH_MQTT_BROKER"`
	ClientID string `yaml:"client_id" env:"VITALWATCH_MQTT_CLIENT_ID"`
	Topic    string `yaml:"topic" env:"VITALWATCH_MQTT_TOPIC"`
	QoS      byte   `yaml:"qos"`
}

// DispatchConfig lists the sinks alert events are delivered to.
type DispatchConfig struct {
	// Webhooks can also be given as VITALWATCH_WEBHOOK_<n>_TYPE / _URL_ENV.
	Webhooks []WebhookConfig `yaml:"webhooks" envPrefix:"VITALWATCH_WEBHOOK_"`

	// WebSocket enables the /ws live alert feed.
	WebSocket bool `yaml:"websocket" env:"VITALWATCH_WEBSOCKET"`

	// Priority tags every automatic event (LOW | HIGH | CRITICAL).
	Priority string `yaml:"priority" env:"VITALWATCH_PRIORITY"`

	// Repeat dispatches every event this many times (0 or 1 = once).
	Repeat int `yaml:"repeat" env:"VITALWATCH_REPEAT"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type" env:"TYPE"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env" env:"URL_ENV"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:        DefaultHTTPAddr,
			MaxBodySize: 10 * 1024 * 1024,
			QueueSize:   DefaultQueueSize,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "vitalwatch.alerts",
			ReadingsTopic: "",
			GroupID:       "vitalwatch",
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    100,
				BatchTimeout: 50 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		State: StateConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			KeyPrefix: "vitalwatch:alert:",
		},
		Storage: StorageConfig{
			Backend:      "memory",
			MaxConns:     10,
			Workers:      4,
			BatchSize:    100,
			BatchTimeout: 100 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			Interval:    DefaultMonitorInterval,
			Window:      DefaultWindow,
			Concurrency: DefaultConcurrency,
			Policy:      DefaultPolicy,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "vitalwatch",
			Topic:    "vitals/+/readings",
			QoS:      1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML config file at path on top of Default, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if cfg.HTTP.QueueSize <= 0 {
		return fmt.Errorf("http.queue_size must be positive")
	}
	if cfg.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if cfg.Monitor.Window <= 0 {
		return fmt.Errorf("monitor.window must be positive")
	}
	if cfg.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be positive")
	}
	switch cfg.State.Backend {
	case "memory":
	case "redis":
		if cfg.State.RedisAddr == "" {
			return fmt.Errorf("state.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("state.backend: unknown backend %q", cfg.State.Backend)
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}
	if cfg.MQTT.Enabled && (cfg.MQTT.Broker == "" || cfg.MQTT.Topic == "") {
		return fmt.Errorf("mqtt.broker and mqtt.topic are required when mqtt is enabled")
	}
	if cfg.Dispatch.Repeat < 0 {
		return fmt.Errorf("dispatch.repeat must not be negative")
	}
	switch cfg.Dispatch.Priority {
	case "", "LOW", "HIGH", "CRITICAL":
	default:
		return fmt.Errorf("dispatch.priority: unknown level %q", cfg.Dispatch.Priority)
	}
	for i, wh := range cfg.Dispatch.Webhooks {
		switch wh.Type {
		case "slack", "http":
		default:
			return fmt.Errorf("dispatch.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}
