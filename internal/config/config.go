// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; required by server, worker, migrate, and seed.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// DefaultBatchSize is the page size used when a job does not specify one.
	DefaultBatchSize int `mapstructure:"DEFAULT_BATCH_SIZE"`
	// MaxConcurrentTasks bounds how many (platform, namespace) tuples run in parallel per job.
	MaxConcurrentTasks int `mapstructure:"MAX_CONCURRENT_TASKS"`
	// RetryMaxAttempts is the per-batch retry cap for retryable connector errors.
	RetryMaxAttempts int `mapstructure:"RETRY_MAX_ATTEMPTS"`
	// RetryBaseBackoff is the initial backoff between retries (e.g. "500ms").
	RetryBaseBackoff string `mapstructure:"RETRY_BASE_BACKOFF"`
	// BatchTimeout guards a single fetch/push against a hung external call (e.g. "30s").
	BatchTimeout string `mapstructure:"BATCH_TIMEOUT"`
	// RateLimitWaitTimeout is how long Acquire may block before returning ErrRateLimitTimeout.
	RateLimitWaitTimeout string `mapstructure:"RATE_LIMIT_WAIT_TIMEOUT"`
	// MinBehaviorScoreForExport is the behavior score a lead needs before CRM export. Namespaces may override.
	MinBehaviorScoreForExport int `mapstructure:"MIN_BEHAVIOR_SCORE_FOR_EXPORT"`
	// CallbackURL is the optional default webhook invoked once per job on terminal state.
	CallbackURL string `mapstructure:"CALLBACK_URL"`

	// PlatformRateLimits is a comma-separated list of platform:rps:maxBatch
	// (e.g. "instantly:5:100,smartlead:10:100,attio:8:50"). Overridable per job.
	PlatformRateLimits string `mapstructure:"PLATFORM_RATE_LIMITS"`

	// InstantlyAPIKey authenticates calls to the Instantly API.
	InstantlyAPIKey string `mapstructure:"INSTANTLY_API_KEY"`
	// InstantlyBaseURL is the Instantly API base URL.
	InstantlyBaseURL string `mapstructure:"INSTANTLY_BASE_URL"`
	// SmartleadAPIKey authenticates calls to the Smartlead API.
	SmartleadAPIKey string `mapstructure:"SMARTLEAD_API_KEY"`
	// SmartleadBaseURL is the Smartlead API base URL.
	SmartleadBaseURL string `mapstructure:"SMARTLEAD_BASE_URL"`
	// AttioAPIKey authenticates calls to the Attio CRM API.
	AttioAPIKey string `mapstructure:"ATTIO_API_KEY"`
	// AttioBaseURL is the Attio CRM API base URL.
	AttioBaseURL string `mapstructure:"ATTIO_BASE_URL"`

	// Enrichment sources, tried in order: AI, secondary API, primary API.
	// Empty URLs disable the step. Each speaks GET /enrich?email=.
	// EnrichAIURL is the AI enrichment service base URL.
	EnrichAIURL string `mapstructure:"ENRICH_AI_URL"`
	// EnrichAIKey authenticates calls to the AI enrichment service.
	EnrichAIKey string `mapstructure:"ENRICH_AI_KEY"`
	// EnrichSecondaryURL is the secondary firmographic API base URL.
	EnrichSecondaryURL string `mapstructure:"ENRICH_SECONDARY_URL"`
	// EnrichSecondaryKey authenticates calls to the secondary firmographic API.
	EnrichSecondaryKey string `mapstructure:"ENRICH_SECONDARY_KEY"`
	// EnrichPrimaryURL is the primary firmographic API base URL.
	EnrichPrimaryURL string `mapstructure:"ENRICH_PRIMARY_URL"`
	// EnrichPrimaryKey authenticates calls to the primary firmographic API.
	EnrichPrimaryKey string `mapstructure:"ENRICH_PRIMARY_KEY"`

	// SchedulerInterval is how often the worker submits an incremental sync (e.g. "1h"). Empty disables the scheduler.
	SchedulerInterval string `mapstructure:"SCHEDULER_INTERVAL"`

	// Notifications (optional). When Kafka brokers are set, job lifecycle events are emitted to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the Kafka topic for job lifecycle events (default ose-job-events).
	KafkaTopic string `mapstructure:"KAFKA_TOPIC"`

	// OTLPEndpoint enables trace/metric export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
}

// PlatformLimit is one parsed entry of PLATFORM_RATE_LIMITS.
type PlatformLimit struct {
	Platform          string
	RequestsPerSecond float64
	MaxBatch          int
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DEFAULT_BATCH_SIZE", 100)
	v.SetDefault("MAX_CONCURRENT_TASKS", 4)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BASE_BACKOFF", "500ms")
	v.SetDefault("BATCH_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_WAIT_TIMEOUT", "20s")
	v.SetDefault("MIN_BEHAVIOR_SCORE_FOR_EXPORT", 10)
	v.SetDefault("CALLBACK_URL", "")
	v.SetDefault("PLATFORM_RATE_LIMITS", "instantly:5:100,smartlead:10:100,attio:8:50")
	v.SetDefault("INSTANTLY_BASE_URL", "https://api.instantly.ai/api/v2")
	v.SetDefault("SMARTLEAD_BASE_URL", "https://server.smartlead.ai/api/v1")
	v.SetDefault("ATTIO_BASE_URL", "https://api.attio.com/v2")
	v.SetDefault("ENRICH_AI_URL", "")
	v.SetDefault("ENRICH_AI_KEY", "")
	v.SetDefault("ENRICH_SECONDARY_URL", "")
	v.SetDefault("ENRICH_SECONDARY_KEY", "")
	v.SetDefault("ENRICH_PRIMARY_URL", "")
	v.SetDefault("ENRICH_PRIMARY_KEY", "")
	v.SetDefault("SCHEDULER_INTERVAL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "ose-job-events")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DefaultBatchSize <= 0 {
		return nil, errors.New("config: DEFAULT_BATCH_SIZE must be positive")
	}
	if cfg.MaxConcurrentTasks <= 0 {
		return nil, errors.New("config: MAX_CONCURRENT_TASKS must be positive")
	}
	if cfg.RetryMaxAttempts < 1 {
		return nil, errors.New("config: RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if _, err := cfg.PlatformLimits(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// RetryBackoff parses RetryBaseBackoff as a time.Duration. Returns 500ms if unset or invalid.
func (c *Config) RetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.RetryBaseBackoff)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// BatchTimeoutDuration parses BatchTimeout as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) BatchTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.BatchTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RateLimitWait parses RateLimitWaitTimeout as a time.Duration. Returns 20s if unset or invalid.
func (c *Config) RateLimitWait() time.Duration {
	d, err := time.ParseDuration(c.RateLimitWaitTimeout)
	if err != nil || d <= 0 {
		return 20 * time.Second
	}
	return d
}

// SchedulerIntervalDuration parses SchedulerInterval. Returns 0 (disabled) if unset or invalid.
func (c *Config) SchedulerIntervalDuration() time.Duration {
	if c == nil || c.SchedulerInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.SchedulerInterval)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if notifications are enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PlatformLimits parses PLATFORM_RATE_LIMITS entries of the form platform:rps:maxBatch.
func (c *Config) PlatformLimits() ([]PlatformLimit, error) {
	if c == nil || c.PlatformRateLimits == "" {
		return nil, nil
	}
	parts := strings.Split(c.PlatformRateLimits, ",")
	out := make([]PlatformLimit, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		fields := strings.Split(p, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("config: PLATFORM_RATE_LIMITS entry %q must be platform:rps:maxBatch", p)
		}
		rps, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || rps <= 0 {
			return nil, fmt.Errorf("config: PLATFORM_RATE_LIMITS entry %q has invalid rps", p)
		}
		maxBatch, err := strconv.Atoi(fields[2])
		if err != nil || maxBatch <= 0 {
			return nil, fmt.Errorf("config: PLATFORM_RATE_LIMITS entry %q has invalid max batch", p)
		}
		out = append(out, PlatformLimit{
			Platform:          strings.ToLower(strings.TrimSpace(fields[0])),
			RequestsPerSecond: rps,
			MaxBatch:          maxBatch,
		})
	}
	return out, nil
}
