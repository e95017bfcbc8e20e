package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/version"
)

// Store drivers.
const (
	DriverElasticsearch = "elasticsearch"
	DriverPostgres      = "postgres"
	DriverClickHouse    = "clickhouse"
	DriverMemory        = "memory"
	DriverRedis         = "redis"
)

// Alert channels.
const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
	ChannelKafka    = "kafka"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Store     StoreConfig     `mapstructure:"store"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Handoff   HandoffConfig   `mapstructure:"handoff"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs run cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	MaxActiveRuns int           `mapstructure:"max_active_runs"`
}

// PipelineConfig holds step retry policy and baseline tuning.
type PipelineConfig struct {
	Retries      int           `mapstructure:"retries"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	MinCount     int           `mapstructure:"min_count"`
	MaxLocations int           `mapstructure:"max_locations"`
}

// UpstreamConfig describes the flight price search API.
type UpstreamConfig struct {
	URL          string        `mapstructure:"url"`
	FromEntityID string        `mapstructure:"from_entity_id"`
	ExtraQuery   string        `mapstructure:"extra_query"`
	APIKey       string        `mapstructure:"api_key"`
	APIHost      string        `mapstructure:"api_host"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
}

// StoreConfig selects and configures the historical store.
type StoreConfig struct {
	Driver        string              `mapstructure:"driver"`
	Index         string              `mapstructure:"index"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Postgres      DatabaseConfig      `mapstructure:"postgres"`
	ClickHouse    ClickHouseConfig    `mapstructure:"clickhouse"`
}

// ElasticsearchConfig covers the search engine connection.
type ElasticsearchConfig struct {
	Addresses      []string      `mapstructure:"addresses"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Refresh        string        `mapstructure:"refresh"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ClickHouseConfig encapsulates ClickHouse connectivity.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Subject  string         `mapstructure:"subject"`
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// EmailConfig describes the SMTP transport.
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// KafkaConfig describes the Kafka alert topic.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// HandoffConfig selects where inter-step slots are mirrored.
type HandoffConfig struct {
	Driver string `mapstructure:"driver"`
	// TTL expires slots on either backend; 0 keeps them forever.
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

// RedisConfig covers the Redis connection for hand-off slots.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FLIGHTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flightwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "30m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.max_active_runs", 3)

	v.SetDefault("pipeline.retries", 3)
	v.SetDefault("pipeline.retry_delay", "1m")
	v.SetDefault("pipeline.min_count", 30)
	v.SetDefault("pipeline.max_locations", 1000)

	v.SetDefault("upstream.url", "https://sky-scanner3.p.rapidapi.com/flights/search-roundtrip")
	v.SetDefault("upstream.from_entity_id", "eyJlIjoiMjc1NDc0NTQiLCJzIjoiV0FSUyIsImgiOiIyNzU0NzQ1NCIsInQiOiJDSVRZIn0=")
	v.SetDefault("upstream.api_host", "sky-scanner3.p.rapidapi.com")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.extra_query", "")
	v.SetDefault("upstream.timeout", "20s")
	v.SetDefault("upstream.user_agent", version.UserAgent())

	v.SetDefault("store.driver", DriverElasticsearch)
	v.SetDefault("store.index", "flight_prices")
	v.SetDefault("store.elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("store.elasticsearch.username", "elastic")
	v.SetDefault("store.elasticsearch.password", "")
	v.SetDefault("store.elasticsearch.request_timeout", "30s")
	v.SetDefault("store.elasticsearch.refresh", "false")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_open_conns", 10)
	v.SetDefault("store.postgres.max_idle_conns", 2)
	v.SetDefault("store.postgres.conn_max_lifetime", "30m")
	v.SetDefault("store.clickhouse.dsn", "")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.channels", []string{ChannelEmail})
	v.SetDefault("alerting.subject", "Price Alert for Cheap Tickets")
	v.SetDefault("alerting.email.host", "localhost")
	v.SetDefault("alerting.email.port", 587)
	v.SetDefault("alerting.email.username", "")
	v.SetDefault("alerting.email.password", "")
	v.SetDefault("alerting.email.from", "flightwatch@localhost")
	v.SetDefault("alerting.email.to", "")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.kafka.brokers", []string{})
	v.SetDefault("alerting.kafka.topic", "flight.price.alerts")

	v.SetDefault("handoff.driver", DriverMemory)
	v.SetDefault("handoff.ttl", "168h")
	v.SetDefault("handoff.redis.addr", "localhost:6379")
	v.SetDefault("handoff.redis.password", "")
	v.SetDefault("handoff.redis.db", 0)

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.MaxActiveRuns <= 0 {
		return fmt.Errorf("scheduler.max_active_runs must be greater than zero")
	}
	if c.Pipeline.Retries < 0 {
		return fmt.Errorf("pipeline.retries cannot be negative")
	}
	if c.Pipeline.RetryDelay < 0 {
		return fmt.Errorf("pipeline.retry_delay cannot be negative")
	}
	if c.Pipeline.MinCount <= 0 {
		return fmt.Errorf("pipeline.min_count must be greater than zero")
	}
	if c.Pipeline.MaxLocations <= 0 {
		return fmt.Errorf("pipeline.max_locations must be greater than zero")
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url must be configured")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Store.Index == "" {
		return fmt.Errorf("store.index must be configured")
	}

	switch c.Store.Driver {
	case DriverElasticsearch:
		if len(c.Store.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("store.elasticsearch.addresses must be configured")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be configured")
		}
	case DriverClickHouse:
		if c.Store.ClickHouse.DSN == "" {
			return fmt.Errorf("store.clickhouse.dsn must be configured")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}

	switch c.Handoff.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Handoff.Redis.Addr == "" {
			return fmt.Errorf("handoff.redis.addr must be configured")
		}
	default:
		return fmt.Errorf("handoff.driver %q is not supported", c.Handoff.Driver)
	}
	if c.Handoff.TTL < 0 {
		return fmt.Errorf("handoff.ttl must not be negative")
	}

	if c.Alerting.Enabled {
		for _, channel := range c.Alerting.Channels {
			if err := c.validateChannel(channel); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Config) validateChannel(channel string) error {
	switch channel {
	case ChannelEmail:
		if c.Alerting.Email.Host == "" || c.Alerting.Email.Port <= 0 {
			return fmt.Errorf("alerting.email.host and alerting.email.port must be configured")
		}
	case ChannelTelegram:
		if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.bot_token and alerting.telegram.chat_id must be configured")
		}
	case ChannelKafka:
		if len(c.Alerting.Kafka.Brokers) == 0 || c.Alerting.Kafka.Topic == "" {
			return fmt.Errorf("alerting.kafka.brokers and alerting.kafka.topic must be configured")
		}
	default:
		return fmt.Errorf("alerting channel %q is not supported", channel)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
