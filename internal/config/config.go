package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	RabbitMQ  RabbitMQConfig
	Processor ProcessorConfig
	Retry     RetryConfig
	Dedup     DedupConfig
	Routes    RoutesConfig
	Providers []ProviderConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	Enabled         bool
	URL             string
	Host            string
	Port            string
	User            string
	Password        string
	VHost           string
	AlertExchange   string
	AlertRoutingKey string
}

// ProcessorConfig bounds the worker pool that runs handler callbacks.
type ProcessorConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// RetryConfig drives backoff computation and the retry sweeper.
type RetryConfig struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
	SweepBatch    int
}

// DedupConfig controls how long dedup records are retained. The retention
// window trades storage cost against the risk of a provider redelivering an
// event after the record expired.
type DedupConfig struct {
	Retention     time.Duration
	PurgeSchedule string
}

// RoutesConfig declares handlers that can be bound from the environment
// instead of code: log-only routes ("provider/topic") and forward routes
// ("provider/topic=url") that relay the payload to a downstream service.
type RoutesConfig struct {
	LogOnly        []string
	Forward        []string
	ForwardSecret  string
	ForwardTimeout time.Duration
}

// ProviderConfig describes how a single provider signs and shapes its
// webhooks. Algorithm, header name, encoding and field paths are data, so
// adding a provider is a config change.
type ProviderConfig struct {
	Name             string `mapstructure:"name"`
	Secret           string `mapstructure:"secret"`
	Scheme           string `mapstructure:"scheme"`
	SignatureHeader  string `mapstructure:"signature_header"`
	SignaturePrefix  string `mapstructure:"signature_prefix"`
	ToleranceSeconds int    `mapstructure:"tolerance_seconds"`
	EventIDPath      string `mapstructure:"event_id_path"`
	TopicPath        string `mapstructure:"topic_path"`
}

func Load() (*Config, error) {
	// .env is optional; real deployments inject the environment directly
	_ = godotenv.Load()

	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: getOr("SERVER_PORT", "8080"),
			Host: getOr("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  getOr("DB_SSLMODE", "disable"),
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:         getBool("RABBITMQ_ENABLED", false),
			URL:             os.Getenv("RABBITMQ_URL"),
			Host:            os.Getenv("RABBITMQ_HOST"),
			Port:            os.Getenv("RABBITMQ_PORT"),
			User:            os.Getenv("RABBITMQ_USER"),
			Password:        os.Getenv("RABBITMQ_PASSWORD"),
			VHost:           os.Getenv("RABBITMQ_VHOST"),
			AlertExchange:   getOr("RABBITMQ_ALERT_EXCHANGE", "webhook.alerts"),
			AlertRoutingKey: getOr("RABBITMQ_ALERT_ROUTING_KEY", "dead_letter"),
		},
		Processor: ProcessorConfig{
			Workers:     getInt("PROCESSOR_WORKERS", 8),
			QueueSize:   getInt("PROCESSOR_QUEUE_SIZE", 256),
			TaskTimeout: getDuration("PROCESSOR_TASK_TIMEOUT", 30*time.Second),
		},
		Retry: RetryConfig{
			BaseDelay:     getDuration("RETRY_BASE_DELAY", time.Minute),
			MaxDelay:      getDuration("RETRY_MAX_DELAY", time.Hour),
			MaxAttempts:   getInt("RETRY_MAX_ATTEMPTS", 5),
			SweepInterval: getDuration("RETRY_SWEEP_INTERVAL", 30*time.Second),
			SweepBatch:    getInt("RETRY_SWEEP_BATCH", 100),
		},
		Dedup: DedupConfig{
			Retention:     getDuration("DEDUP_RETENTION", 720*time.Hour),
			PurgeSchedule: getOr("DEDUP_PURGE_SCHEDULE", "@hourly"),
		},
		Routes: RoutesConfig{
			LogOnly:        splitList(os.Getenv("HANDLER_LOG_ROUTES")),
			Forward:        splitList(os.Getenv("HANDLER_FORWARD_ROUTES")),
			ForwardSecret:  os.Getenv("FORWARD_SIGNING_SECRET"),
			ForwardTimeout: getDuration("FORWARD_TIMEOUT", 10*time.Second),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	providers, err := LoadProviders(getOr("PROVIDERS_FILE", "providers.yaml"))
	if err != nil {
		return nil, err
	}
	config.Providers = providers

	return config, nil
}

// LoadProviders reads the provider registry from a YAML file. Secrets may
// reference the environment as ${VAR}; they are expanded once here so nothing
// downstream touches the process environment.
func LoadProviders(path string) ([]ProviderConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read provider registry %s: %w", path, err)
	}

	var providers []ProviderConfig
	if err := v.UnmarshalKey("providers", &providers); err != nil {
		return nil, fmt.Errorf("failed to parse provider registry: %w", err)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("provider registry %s defines no providers", path)
	}

	seen := make(map[string]bool, len(providers))
	for i := range providers {
		p := &providers[i]
		p.Secret = os.ExpandEnv(p.Secret)
		if p.Name == "" {
			return nil, fmt.Errorf("provider entry %d has no name", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("provider %q is defined twice", p.Name)
		}
		seen[p.Name] = true
		if p.Scheme == "" {
			return nil, fmt.Errorf("provider %q has no signature scheme", p.Name)
		}
		if p.SignatureHeader == "" {
			return nil, fmt.Errorf("provider %q has no signature header", p.Name)
		}
		if p.EventIDPath == "" {
			return nil, fmt.Errorf("provider %q has no event_id_path", p.Name)
		}
	}

	return providers, nil
}

// ProviderByName returns the configuration for a provider, or false when the
// provider is not registered.
func (c *Config) ProviderByName(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// ConnectionURL returns the AMQP URL, preferring an explicit RABBITMQ_URL.
func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}

func getOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
