package main

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/outbox"
	"github.com/LerianStudio/lib-escrow/escrow/rabbitmq"
	libZap "github.com/LerianStudio/lib-escrow/escrow/zap"
	"github.com/caarlos0/env/v11"
)

const envPrefix = "ESCROW_"

// Config is the relay configuration, read from ESCROW_* variables.
type Config struct {
	Env       libZap.Environment      `env:"ENV"       envDefault:"production"`
	LogLevel  string                  `env:"LOG_LEVEL" envDefault:"info"`
	Postgres  PostgresConfig          `envPrefix:"POSTGRES_"`
	RabbitMQ  RabbitMQConfig          `envPrefix:"RABBITMQ_"`
	Outbox    outbox.DispatcherConfig `envPrefix:"OUTBOX_"`
	Telemetry TelemetryConfig         `envPrefix:"OTEL_"`
}

// PostgresConfig locates the escrow database.
type PostgresConfig struct {
	PrimaryDSN     string `env:"PRIMARY_DSN,required"`
	ReplicaDSN     string `env:"REPLICA_DSN"`
	DBName         string `env:"DB_NAME"          envDefault:"escrow"`
	MaxOpenConns   int    `env:"MAX_OPEN_CONNS"   envDefault:"25"`
	MaxIdleConns   int    `env:"MAX_IDLE_CONNS"   envDefault:"10"`
	SkipMigrations bool   `env:"SKIP_MIGRATIONS"  envDefault:"false"`
}

// RabbitMQConfig locates the broker. URI wins over the discrete fields.
type RabbitMQConfig struct {
	URI            string        `env:"URI"`
	Protocol       string        `env:"PROTOCOL"        envDefault:"amqp"`
	Host           string        `env:"HOST"            envDefault:"localhost"`
	Port           string        `env:"PORT"            envDefault:"5672"`
	User           string        `env:"USER"            envDefault:"guest"`
	Pass           string        `env:"PASS"            envDefault:"guest"`
	VHost          string        `env:"VHOST"`
	Exchange       string        `env:"EXCHANGE"        envDefault:"escrow.events"`
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"5s"`
}

// ConnectionString returns URI or one built from the discrete fields.
func (c RabbitMQConfig) ConnectionString() string {
	if strings.TrimSpace(c.URI) != "" {
		return c.URI
	}

	return rabbitmq.BuildConnectionString(c.Protocol, c.User, c.Pass, c.Host, c.Port, c.VHost)
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Enabled        bool   `env:"ENABLED"          envDefault:"false"`
	Endpoint       string `env:"ENDPOINT"         envDefault:"localhost:4317"`
	ServiceName    string `env:"SERVICE_NAME"     envDefault:"escrow-relay"`
	ServiceVersion string `env:"SERVICE_VERSION"  envDefault:"dev"`
}

// LoadConfig parses the ESCROW_* variables in environ. A nil environ reads
// the process environment.
func LoadConfig(environ map[string]string) (Config, error) {
	var cfg Config

	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", withEnvKeys(err, environ))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// withEnvKeys rewrites env.ParseError entries, which only name the Go field,
// so each one carries the prefixed variable that failed.
func withEnvKeys(err error, environ map[string]string) error {
	var aggregate env.AggregateError
	if !errors.As(err, &aggregate) {
		return err
	}

	keys := fieldKeys(reflect.TypeFor[Config](), envPrefix, nil)
	errs := make([]error, 0, len(aggregate.Errors))

	for _, item := range aggregate.Errors {
		var parseErr env.ParseError
		if !errors.As(item, &parseErr) {
			errs = append(errs, item)
			continue
		}

		key := failingKey(keys[parseErr.Name], environ)
		if key == "" {
			errs = append(errs, item)
			continue
		}

		errs = append(errs, fmt.Errorf("%s: invalid %s value: %w", key, parseErr.Type, parseErr.Err))
	}

	return errors.Join(errs...)
}

// fieldKeys maps Go field names to their full variable names, following
// envPrefix tags into nested structs.
func fieldKeys(t reflect.Type, prefix string, into map[string][]string) map[string][]string {
	if into == nil {
		into = make(map[string][]string)
	}

	for i := range t.NumField() {
		field := t.Field(i)

		if field.Type.Kind() == reflect.Struct {
			if nested, ok := field.Tag.Lookup("envPrefix"); ok {
				fieldKeys(field.Type, prefix+nested, into)
				continue
			}
		}

		name, _, _ := strings.Cut(field.Tag.Get("env"), ",")
		if name == "" {
			continue
		}

		into[field.Name] = append(into[field.Name], prefix+name)
	}

	return into
}

// failingKey picks the candidate that is actually set. Ambiguous names with
// several set candidates report all of them.
func failingKey(candidates []string, environ map[string]string) string {
	if len(candidates) == 1 {
		return candidates[0]
	}

	var set []string

	for _, key := range candidates {
		var ok bool
		if environ != nil {
			_, ok = environ[key]
		} else {
			_, ok = os.LookupEnv(key)
		}

		if ok {
			set = append(set, key)
		}
	}

	return strings.Join(set, " or ")
}

// Validate checks values the tags cannot express.
func (c Config) Validate() error {
	var errs []error

	switch c.Env {
	case libZap.EnvironmentProduction, libZap.EnvironmentStaging, libZap.EnvironmentUAT,
		libZap.EnvironmentDevelopment, libZap.EnvironmentLocal:
	default:
		errs = append(errs, fmt.Errorf("ESCROW_ENV: unknown environment %q", c.Env))
	}

	if c.Outbox.BatchSize < 0 {
		errs = append(errs, errors.New("ESCROW_OUTBOX_BATCH_SIZE must not be negative"))
	}

	if c.RabbitMQ.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("ESCROW_RABBITMQ_CONFIRM_TIMEOUT must be positive"))
	}

	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		errs = append(errs, errors.New("ESCROW_OTEL_ENDPOINT is required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}
