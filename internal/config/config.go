package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/storefront-payments/pkg/config"
)

// Provider names accepted in PAYMENT_PROVIDER.
const (
	ProviderSquare = "square"
	ProviderMock   = "mock"
)

// Config holds all configuration for the payments service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"PAYMENT_HTTP_PORT" envDefault:"8005"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Ledger. An empty URL selects the in-memory store.
	DatabaseURL    string        `env:"DATABASE_URL"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	RunMigrations  bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	SlowQueryLimit time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Webhook dedupe log. An empty URL selects the in-memory log.
	RedisURL      string        `env:"REDIS_URL"`
	EventDedupTTL time.Duration `env:"WEBHOOK_EVENT_TTL" envDefault:"72h"`

	// Lifecycle events. No brokers disables publishing.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Processor
	Provider         string        `env:"PAYMENT_PROVIDER" envDefault:"square"`
	SquareBaseURL    string        `env:"SQUARE_BASE_URL" envDefault:"https://connect.squareupsandbox.com"`
	SquareToken      string        `env:"SQUARE_ACCESS_TOKEN"`
	SquareVersion    string        `env:"SQUARE_VERSION" envDefault:"2024-01-18"`
	SquareLocationID string        `env:"SQUARE_LOCATION_ID"`
	ProcessorTimeout time.Duration `env:"PROCESSOR_TIMEOUT" envDefault:"15s"`

	// Webhooks
	WebhookSignatureKey string `env:"SQUARE_WEBHOOK_SIGNATURE_KEY"`
	WebhookCallbackURL  string `env:"SQUARE_WEBHOOK_CALLBACK_URL"`
	AllowLegacySHA1     bool   `env:"SQUARE_WEBHOOK_ALLOW_SHA1" envDefault:"false"`

	// Failure tracking and authorize throttling. A zero rate disables the limit.
	FailureAlertThreshold int     `env:"PAYMENT_FAILURE_ALERT_THRESHOLD" envDefault:"5"`
	AuthorizeRPS          float64 `env:"AUTHORIZE_RATE_LIMIT_RPS" envDefault:"1"`
	AuthorizeBurst        int     `env:"AUTHORIZE_RATE_LIMIT_BURST" envDefault:"10"`

	// Access
	AdminToken  string   `env:"ADMIN_API_TOKEN"`
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	PprofCIDRs  []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// Tracing
	TracingEnabled    bool    `env:"OTEL_TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint      string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TracingSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load payments config: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in a local environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

// Validate checks cross-field rules. Processor credentials are optional in
// development so the service can boot against the mock provider.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("PAYMENT_HTTP_PORT %d out of range", c.HTTPPort))
	}

	switch c.Provider {
	case ProviderSquare:
		if !c.IsDevelopment() {
			if c.SquareToken == "" {
				errs = append(errs, errors.New("SQUARE_ACCESS_TOKEN is required"))
			}
			if c.SquareLocationID == "" {
				errs = append(errs, errors.New("SQUARE_LOCATION_ID is required"))
			}
		}
	case ProviderMock:
		if !c.IsDevelopment() {
			errs = append(errs, fmt.Errorf("PAYMENT_PROVIDER=mock is not allowed in %s", c.Environment))
		}
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_PROVIDER %q must be %s or %s", c.Provider, ProviderSquare, ProviderMock))
	}

	if c.FailureAlertThreshold <= 0 {
		errs = append(errs, errors.New("PAYMENT_FAILURE_ALERT_THRESHOLD must be positive"))
	}
	if c.AuthorizeRPS < 0 {
		errs = append(errs, errors.New("AUTHORIZE_RATE_LIMIT_RPS must not be negative"))
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATE must be between 0 and 1"))
	}

	for _, cidr := range c.PprofCIDRs {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			errs = append(errs, fmt.Errorf("PPROF_ALLOWED_CIDRS: %w", err))
		}
	}

	return errors.Join(errs...)
}
