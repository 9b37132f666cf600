package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Credentials CredentialsConfig
	Sync        SyncConfig
	Providers   ProvidersConfig
	Storage     StorageConfig
	Metrics     MetricsConfig
	RabbitMQ    RabbitMQConfig
	MQTT        MQTTConfig
}

// CredentialsConfig points at the credential store
type CredentialsConfig struct {
	Path string
}

// SyncConfig holds the synchronization window and schedule settings
type SyncConfig struct {
	MeterTimezone         string
	Location              *time.Location
	FirstRunLookbackDays  int
	RecurringLookbackDays int
	LoadCurveChunkDays    int
	DailyAt               string
	RunOnStart            bool

	// FutureToleranceMinutes bounds how far ahead of now a point may be timestamped
	FutureToleranceMinutes int
}

// ProvidersConfig holds provider endpoints and the per-request timeout
type ProvidersConfig struct {
	EnedisAPIURL string
	GRDFAPIURL   string
	GRDFAuthURL  string
	Timeout      time.Duration
}

// StorageConfig holds time-series storage settings.
// Org maps to the database schema and Bucket to the points table.
type StorageConfig struct {
	URL       string
	Token     string
	Org       string
	Bucket    string
	BatchSize int
}

// MetricsConfig holds the Prometheus endpoint address, empty disables it
type MetricsConfig struct {
	Addr string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL          string
	Exchange     string
	RoutingKey   string
	TriggerQueue string
	TriggerKey   string
	DLQQueue     string
}

// Enabled reports whether a broker is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// MQTTConfig holds the optional MQTT mirror settings
type MQTTConfig struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Enabled reports whether a broker is configured
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "energy-sync-worker"),
		Credentials: CredentialsConfig{
			Path: getEnv("CREDENTIALS_PATH", "secrets/secrets.json"),
		},
		Sync: SyncConfig{
			MeterTimezone:         getEnv("METER_TIMEZONE", "Europe/Paris"),
			FirstRunLookbackDays:  getEnvAsInt("FIRST_RUN_LOOKBACK_DAYS", 365),
			RecurringLookbackDays: getEnvAsInt("RECURRING_LOOKBACK_DAYS", 7),
			LoadCurveChunkDays:    getEnvAsInt("LOAD_CURVE_CHUNK_DAYS", 7),
			DailyAt:               getEnv("SYNC_DAILY_AT", "08:00"),
			RunOnStart:            getEnvAsBool("SYNC_RUN_ON_START", true),

			FutureToleranceMinutes: getEnvAsInt("TIMESTAMP_TOLERANCE_MINUTES", 5),
		},
		Providers: ProvidersConfig{
			EnedisAPIURL: getEnv("ENEDIS_API_URL", "https://conso.boris.sh/api"),
			GRDFAPIURL:   getEnv("GRDF_API_URL", "https://monespace.grdf.fr/api/e-conso"),
			GRDFAuthURL:  getEnv("GRDF_AUTH_URL", "https://login.monespace.grdf.fr/sofit-account-api/api/v1/auth"),
			Timeout:      getEnvAsDuration("PROVIDER_TIMEOUT", 45*time.Second),
		},
		Storage: StorageConfig{
			URL:       getEnv("STORAGE_URL", ""),
			Token:     getEnv("STORAGE_TOKEN", ""),
			Org:       getEnv("STORAGE_ORG", "public"),
			Bucket:    getEnv("STORAGE_BUCKET", "consumption_points"),
			BatchSize: getEnvAsInt("STORAGE_BATCH_SIZE", 500),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9102"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:          getEnv("RABBITMQ_URL", ""),
			Exchange:     getEnv("RABBITMQ_EXCHANGE", "energy-sync.events.exchange"),
			RoutingKey:   getEnv("RABBITMQ_ROUTING_KEY", "sync.run.completed"),
			TriggerQueue: getEnv("SYNC_TRIGGER_QUEUE", "energy-sync.trigger.queue"),
			TriggerKey:   getEnv("SYNC_TRIGGER_ROUTING_KEY", "sync.run.requested"),
			DLQQueue:     getEnv("SYNC_TRIGGER_DLQ", "energy-sync.trigger.dlq"),
		},
		MQTT: MQTTConfig{
			Broker:      getEnv("MQTT_BROKER", ""),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "energy"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.URL == "" {
		return fmt.Errorf("STORAGE_URL is required but not set in environment variables")
	}
	if c.Credentials.Path == "" {
		return fmt.Errorf("CREDENTIALS_PATH must not be empty")
	}

	loc, err := time.LoadLocation(c.Sync.MeterTimezone)
	if err != nil {
		return fmt.Errorf("invalid METER_TIMEZONE %q: %w", c.Sync.MeterTimezone, err)
	}
	c.Sync.Location = loc

	if c.Sync.FirstRunLookbackDays <= 0 || c.Sync.RecurringLookbackDays <= 0 {
		return fmt.Errorf("lookback days must be positive (first=%d, recurring=%d)",
			c.Sync.FirstRunLookbackDays, c.Sync.RecurringLookbackDays)
	}
	if c.Sync.LoadCurveChunkDays <= 0 {
		return fmt.Errorf("LOAD_CURVE_CHUNK_DAYS must be positive, got %d", c.Sync.LoadCurveChunkDays)
	}
	if _, err := time.Parse("15:04", c.Sync.DailyAt); err != nil {
		return fmt.Errorf("invalid SYNC_DAILY_AT %q (expected HH:MM): %w", c.Sync.DailyAt, err)
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("STORAGE_BATCH_SIZE must be positive, got %d", c.Storage.BatchSize)
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
