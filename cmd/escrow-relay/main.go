// Command escrow-relay drains the escrow outbox into RabbitMQ.
//
// It reads ESCROW_* environment variables, publishes every pending
// lifecycle event with publisher confirms and stops on SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow"
	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/LerianStudio/lib-escrow/escrow/outbox"
	"github.com/LerianStudio/lib-escrow/escrow/postgres"
	"github.com/LerianStudio/lib-escrow/escrow/rabbitmq"
	libZap "github.com/LerianStudio/lib-escrow/escrow/zap"
)

const (
	libraryName     = "github.com/LerianStudio/lib-escrow/cmd/escrow-relay"
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := LoadConfig(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "escrow-relay: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "escrow-relay: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config) (err error) {
	logger, _, err := libZap.New(libZap.Config{
		Environment:     cfg.Env,
		Level:           cfg.LogLevel,
		OTelLibraryName: libraryName,
	})
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync(context.Background()) }()

	telemetry, err := opentelemetry.InitializeTelemetry(ctx, &opentelemetry.TelemetryConfig{
		LibraryName:               libraryName,
		ServiceName:               cfg.Telemetry.ServiceName,
		ServiceVersion:            cfg.Telemetry.ServiceVersion,
		DeploymentEnv:             string(cfg.Env),
		CollectorExporterEndpoint: cfg.Telemetry.Endpoint,
		EnableTelemetry:           cfg.Telemetry.Enabled,
		Logger:                    logger,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err = errors.Join(err, telemetry.Shutdown(shutdownCtx))
	}()

	ctx = escrow.ContextWithLogger(ctx, logger)
	ctx = escrow.ContextWithTracer(ctx, telemetry.Tracer())
	ctx = escrow.ContextWithMetricFactory(ctx, telemetry.MetricsFactory)

	db := &postgres.Connection{
		PrimaryDSN:         cfg.Postgres.PrimaryDSN,
		ReplicaDSN:         cfg.Postgres.ReplicaDSN,
		PrimaryDBName:      cfg.Postgres.DBName,
		SkipMigrations:     cfg.Postgres.SkipMigrations,
		MaxOpenConnections: cfg.Postgres.MaxOpenConns,
		MaxIdleConnections: cfg.Postgres.MaxIdleConns,
		Logger:             logger,
	}
	if err := db.Connect(ctx); err != nil {
		return err
	}

	defer func() { err = errors.Join(err, db.Close()) }()

	primary, err := db.Primary()
	if err != nil {
		return err
	}

	// The relay never moves custody funds; the registry only satisfies the store.
	store, err := postgres.NewStore(primary, custody.NewRegistry())
	if err != nil {
		return err
	}

	broker := &rabbitmq.Connection{
		URI:      cfg.RabbitMQ.ConnectionString(),
		Exchange: cfg.RabbitMQ.Exchange,
		Logger:   logger,
	}
	if err := broker.Connect(ctx); err != nil {
		return err
	}

	defer func() { err = errors.Join(err, broker.Close()) }()

	channel, err := broker.Channel()
	if err != nil {
		return err
	}

	confirmable, err := rabbitmq.NewConfirmablePublisherFromChannel(channel,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithConfirmTimeout(cfg.RabbitMQ.ConfirmTimeout),
	)
	if err != nil {
		return err
	}

	defer func() { _ = confirmable.Close() }()

	publisher, err := rabbitmq.NewEventPublisher(confirmable, cfg.RabbitMQ.Exchange)
	if err != nil {
		return err
	}

	dispatcher, err := outbox.NewDispatcher(store, publisher,
		outbox.WithLogger(logger),
		outbox.WithTracer(telemetry.Tracer()),
		outbox.WithMetrics(telemetry.MetricsFactory),
		outbox.WithRetryClassifier(outbox.RetryClassifierFunc(rabbitmq.IsNonRetryable)),
		outbox.WithConfig(cfg.Outbox),
	)
	if err != nil {
		return err
	}

	logger.Log(ctx, log.LevelInfo, "escrow relay started",
		log.String("exchange", cfg.RabbitMQ.Exchange),
		log.Duration("interval", cfg.Outbox.DispatchInterval))

	if err := dispatcher.Run(ctx); err != nil {
		return err
	}

	logger.Log(ctx, log.LevelInfo, "escrow relay stopped")

	return nil
}
