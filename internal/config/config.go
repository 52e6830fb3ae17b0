// Package config loads the resizer settings from the environment.
//
// Every variable is read as RESIZER_<NAME> first and falls back to the
// bare <NAME>, so both RESIZER_LOG_LEVEL and LOG_LEVEL work.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/giobyte8/resizer/internal/resizing"
)

const envPrefix = "resizer"

type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Concurrent resize units per extension in parallel mode; 0 means
	// one per CPU
	Workers int `envconfig:"WORKERS" default:"0"`

	JPEGQuality int    `envconfig:"JPEG_QUALITY" default:"75"`
	Engine      string `envconfig:"ENGINE" default:"native"`

	// Match image extensions case-insensitively (".JPG" counts as ".jpg")
	FoldExtCase bool `envconfig:"FOLD_EXT_CASE" default:"false"`

	// Apply EXIF orientation when decoding (native engine only)
	AutoOrient bool `envconfig:"AUTO_ORIENT" default:"false"`

	// Embedded so their variables keep flat names
	// (OTEL_ENABLED, RABBITMQ_HOST, ...)
	Otel
	AMQP
}

type Otel struct {
	Enabled               bool   `envconfig:"OTEL_ENABLED" default:"false"`
	CollectorGrpcEndpoint string `envconfig:"OTEL_COLLECTOR_GRPC_ENDPOINT"`
}

// AMQP holds the broker settings used by 'resizer serve'.
type AMQP struct {
	Host string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port string `envconfig:"RABBITMQ_PORT" default:"5672"`
	User string `envconfig:"RABBITMQ_USER" default:"guest"`
	Pass string `envconfig:"RABBITMQ_PASS" default:"guest"`

	Exchange           string `envconfig:"AMQP_EXCHANGE" default:"resizer"`
	ResizeRequestQueue string `envconfig:"AMQP_QUEUE_RESIZE_REQUESTS" default:"resize_requests"`
}

func (a AMQP) URI() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		a.User,
		a.Pass,
		a.Host,
		a.Port,
	)
}

// LoadEnv loads a .env file from the working directory when one exists.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Debug("No .env file found, using environment variables directly.")
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading %s file: %w", path, err)
	}
	return nil
}

// Load reads Config from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("WORKERS must be >= 0, got %d", c.Workers)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf(
			"JPEG_QUALITY must be between 1 and 100, got %d",
			c.JPEGQuality,
		)
	}
	engine, err := resizing.ParseEngine(c.Engine)
	if err != nil {
		return err
	}
	if engine == resizing.EngineLilliput && c.AutoOrient {
		return fmt.Errorf("AUTO_ORIENT is not supported with ENGINE=lilliput")
	}
	if c.Otel.Enabled && c.Otel.CollectorGrpcEndpoint == "" {
		return fmt.Errorf(
			"OTEL_COLLECTOR_GRPC_ENDPOINT is required when OTEL_ENABLED=true",
		)
	}
	return nil
}

// EffectiveWorkers resolves the 0 default to the number of CPUs.
func (c *Config) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
}
