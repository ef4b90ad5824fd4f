package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	ServiceName string `ignored:"true"`
	Environment string `envconfig:"APP_ENV" default:"development"`

	HTTPPort     int    `envconfig:"HTTP_PORT" default:"8080"`
	MetricsPort  int    `envconfig:"METRICS_PORT"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`

	StoreDriver    string        `envconfig:"STORE_DRIVER" default:"memory"`
	BlobDriver     string        `envconfig:"BLOB_DRIVER" default:"memory"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	RedisKeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"clinical-notify:artifact"`
	MigrateOnStart bool          `envconfig:"MIGRATE_ON_START" default:"false"`
	StartupTimeout time.Duration `envconfig:"STARTUP_TIMEOUT" default:"30s"`

	KafkaBrokers        []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	ClinicalEventsTopic string   `envconfig:"CLINICAL_EVENTS_TOPIC" default:"clinical.events"`
	ConsumerGroup       string   `envconfig:"CONSUMER_GROUP"`

	SMSEndpoint string        `envconfig:"SMS_GATEWAY_URL"`
	SMSAPIKey   string        `envconfig:"SMS_GATEWAY_API_KEY"`
	SMSSender   string        `envconfig:"SMS_SENDER" default:"HOSPITAL"`
	SMSTimeout  time.Duration `envconfig:"SMS_TIMEOUT" default:"10s"`

	EmailEndpoint string        `envconfig:"EMAIL_GATEWAY_URL"`
	EmailAPIKey   string        `envconfig:"EMAIL_GATEWAY_API_KEY"`
	EmailFrom     string        `envconfig:"EMAIL_FROM" default:"no-reply@hospital.local"`
	EmailTimeout  time.Duration `envconfig:"EMAIL_TIMEOUT" default:"15s"`

	Documents       bool   `envconfig:"DOCUMENTS_ENABLED" default:"true"`
	FacilityName    string `envconfig:"FACILITY_NAME" default:"General Hospital"`
	FacilityAddress string `envconfig:"FACILITY_ADDRESS"`
	FacilityPhone   string `envconfig:"FACILITY_PHONE"`

	DocumentFontPath     string `envconfig:"DOCUMENT_FONT_PATH"`
	DocumentBoldFontPath string `envconfig:"DOCUMENT_BOLD_FONT_PATH"`

	FeedBuffer         int      `envconfig:"FEED_BUFFER" default:"64"`
	FeedAllowedOrigins []string `envconfig:"FEED_ALLOWED_ORIGINS"`
}

// durableServices never run on process memory: whatever they write must be
// readable by the notifier and survive a restart.
var durableServices = map[string]bool{
	"event-consumer": true,
}

// LoadConfig reads an optional .env file, then the environment.
func LoadConfig(service string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.ServiceName = service
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = cfg.HTTPPort + 1000
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = service
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.BlobDriver = strings.ToLower(strings.TrimSpace(cfg.BlobDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if durableServices[service] {
		if err := cfg.RequireDurableLog(); err != nil {
			return nil, err
		}
		if cfg.Documents {
			if err := cfg.RequireDurableArtifacts(); err != nil {
				return nil, err
			}
		}
	}
	return cfg, nil
}

// RequireDurableLog fails when notification records would live in memory.
func (c *Config) RequireDurableLog() error {
	if c.StoreDriver != DriverPostgres {
		return fmt.Errorf("%s needs STORE_DRIVER=%s, got %q", c.ServiceName, DriverPostgres, c.StoreDriver)
	}
	return nil
}

// RequireDurableArtifacts fails when the artifact index or its content
// would live in memory.
func (c *Config) RequireDurableArtifacts() error {
	if err := c.RequireDurableLog(); err != nil {
		return err
	}
	if c.BlobDriver != DriverRedis {
		return fmt.Errorf("%s needs BLOB_DRIVER=%s, got %q", c.ServiceName, DriverRedis, c.BlobDriver)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.BlobDriver {
	case DriverMemory:
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when BLOB_DRIVER=%s", DriverRedis)
		}
	default:
		return fmt.Errorf("unsupported BLOB_DRIVER %q", c.BlobDriver)
	}
	if c.Documents && strings.TrimSpace(c.FacilityName) == "" {
		return fmt.Errorf("FACILITY_NAME is required when documents are enabled")
	}
	if c.DocumentBoldFontPath != "" && c.DocumentFontPath == "" {
		return fmt.Errorf("DOCUMENT_BOLD_FONT_PATH needs DOCUMENT_FONT_PATH")
	}
	return nil
}
