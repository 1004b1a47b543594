package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidewise/gamepad-websocket/internal/identifier"
	apperrors "github.com/tidewise/gamepad-websocket/internal/platform/errors"
	"go-simpler.org/env"
)

const (
	TransportNATS  = "nats"
	TransportRedis = "redis"
	TransportNone  = "none"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	WSPath    string `env:"WS_PATH" default:"/ws"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	PublisherMode     string        `env:"PUBLISHER_MODE" default:"raw"`
	DeviceIdentifier  string        `env:"DEVICE_IDENTIFIER"`
	DeviceIDTransform string        `env:"DEVICE_ID_TRANSFORM"`
	InputTimeout      time.Duration `env:"INPUT_TIMEOUT" default:"1s"`
	TickInterval      time.Duration `env:"TICK_INTERVAL" default:"10ms"`
	StatsInterval     time.Duration `env:"STATS_INTERVAL" default:"1s"`

	ResendLatest            bool `env:"RESEND_LATEST" default:"false"`
	ArmTimeoutOnStart       bool `env:"ARM_TIMEOUT_ON_START" default:"false"`
	RejectedSamplesFreshens bool `env:"REJECTED_SAMPLES_REFRESH_FRESHNESS" default:"false"`

	InputTransport string `env:"INPUT_TRANSPORT" default:"none"`
	InputTopic     string `env:"INPUT_TOPIC" default:"gamepad.input"`
	EventsTopic    string `env:"EVENTS_TOPIC"`
	StatsTopic     string `env:"STATS_TOPIC"`
	StatsKey       string `env:"STATS_KEY" default:"gamepad:statistics"`
	NATSURL        string `env:"NATS_URL"`
	RedisURL       string `env:"REDIS_URL"`

	MaxConnections       int64   `env:"MAX_CONNECTIONS" default:"1000"`
	ConnectionsPerSecond float64 `env:"CONNECTIONS_PER_SECOND" default:"10"`
	ConnectionBurst      int     `env:"CONNECTION_BURST" default:"20"`
	StatsRequestsPerSec  float64 `env:"STATS_REQUESTS_PER_SECOND" default:"5"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	AggregatorConfig      string `env:"AGGREGATOR_CONFIG"`
	AggregatorOutputTopic string `env:"AGGREGATOR_OUTPUT_TOPIC"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	if err := identifier.ValidateTemplate(cfg.DeviceIDTransform); err != nil {
		errs = append(errs, err)
	}

	switch cfg.PublisherMode {
	case "raw":
	case "digital":
		if cfg.DeviceIdentifier == "" {
			errs = append(errs, configError("DEVICE_IDENTIFIER is required in digital mode"))
		}
	default:
		errs = append(errs, configError("PUBLISHER_MODE must be raw or digital").WithField("value", cfg.PublisherMode))
	}

	switch cfg.InputTransport {
	case TransportNATS:
		if cfg.NATSURL == "" {
			errs = append(errs, configError("NATS_URL is required for the nats transport"))
		}
	case TransportRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, configError("REDIS_URL is required for the redis transport"))
		}
	case TransportNone:
	default:
		errs = append(errs, configError("INPUT_TRANSPORT must be nats, redis or none").WithField("value", cfg.InputTransport))
	}

	positive := map[string]time.Duration{
		"INPUT_TIMEOUT":    cfg.InputTimeout,
		"TICK_INTERVAL":    cfg.TickInterval,
		"STATS_INTERVAL":   cfg.StatsInterval,
		"SHUTDOWN_TIMEOUT": cfg.ShutdownTimeout,
	}
	for name, value := range positive {
		if value <= 0 {
			errs = append(errs, configError(name+" must be positive"))
		}
	}

	if cfg.MaxConnections <= 0 {
		errs = append(errs, configError("MAX_CONNECTIONS must be positive"))
	}
	if cfg.ConnectionsPerSecond <= 0 || cfg.ConnectionBurst <= 0 {
		errs = append(errs, configError("CONNECTIONS_PER_SECOND and CONNECTION_BURST must be positive"))
	}

	return errors.Join(errs...)
}

func configError(message string) *apperrors.Error {
	return apperrors.ConfigurationError(message)
}
