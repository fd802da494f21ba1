package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the FanForge orchestration service.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Queue     QueueConfig
	Providers ProvidersConfig
	Telemetry TelemetryConfig
	EventHub  EventHubConfig
}

type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty = in-memory store.
	URL            string
	MaxConnections int
}

type QueueConfig struct {
	// QueueURL is the SQS FIFO queue URL for outbound platform messages.
	QueueURL string
	Region   string
	// EndpointOverride points the SQS client at a local emulator when set.
	EndpointOverride string
}

type ProviderConfig struct {
	Endpoint string
	APIKey   string
	// TimeoutSecs bounds each call so a hung provider cannot block the
	// fallback path.
	TimeoutSecs int
}

type ProvidersConfig struct {
	Planning   ProviderConfig
	Generation ProviderConfig
	Messaging  ProviderConfig
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	// SampleRatio is the root-span sampling ratio. Values outside (0,1)
	// sample everything.
	SampleRatio float64
}

type EventHubConfig struct {
	// WebhookURL receives cross-system pipeline notifications. Empty = no-op hub.
	WebhookURL string
	// Secret signs outbound notifications (HMAC-SHA256).
	Secret string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("FANFORGE_PORT", 8080),
		Version: envStr("FANFORGE_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Queue: QueueConfig{
			QueueURL:         envStr("FANFORGE_QUEUE_URL", ""),
			Region:           envStr("AWS_REGION", "us-east-1"),
			EndpointOverride: envStr("FANFORGE_QUEUE_ENDPOINT", ""),
		},
		Providers: ProvidersConfig{
			Planning: ProviderConfig{
				Endpoint:    envStr("FANFORGE_PLANNING_ENDPOINT", "http://localhost:8090"),
				APIKey:      envStr("FANFORGE_PLANNING_API_KEY", ""),
				TimeoutSecs: envInt("FANFORGE_PLANNING_TIMEOUT_SECS", 60),
			},
			Generation: ProviderConfig{
				Endpoint:    envStr("FANFORGE_GENERATION_ENDPOINT", "https://api.openai.com/v1"),
				APIKey:      envStr("FANFORGE_GENERATION_API_KEY", ""),
				TimeoutSecs: envInt("FANFORGE_GENERATION_TIMEOUT_SECS", 60),
			},
			Messaging: ProviderConfig{
				Endpoint:    envStr("FANFORGE_MESSAGING_ENDPOINT", "http://localhost:8091"),
				APIKey:      envStr("FANFORGE_MESSAGING_API_KEY", ""),
				TimeoutSecs: envInt("FANFORGE_MESSAGING_TIMEOUT_SECS", 30),
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "fanforge-orchestration"),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0),
		},
		EventHub: EventHubConfig{
			WebhookURL: envStr("FANFORGE_EVENT_HUB_URL", ""),
			Secret:     envStr("FANFORGE_EVENT_HUB_SECRET", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
