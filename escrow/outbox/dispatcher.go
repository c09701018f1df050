package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/backoff"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry/metrics"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DispatchResult summarizes one dispatch cycle.
type DispatchResult struct {
	Processed         int
	Published         int
	Failed            int
	StateUpdateFailed int
	// BreakerOpen is set when the cycle stopped early on an open breaker.
	BreakerOpen bool
}

// Dispatcher drains the outbox into a Publisher.
type Dispatcher struct {
	repo            Repository
	publisher       Publisher
	cfg             DispatcherConfig
	logger          log.Logger
	tracer          trace.Tracer
	metrics         *metrics.MetricsFactory
	retryClassifier RetryClassifier
	breaker         *gobreaker.CircuitBreaker

	mu      sync.Mutex
	running bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger log.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracer sets the dispatcher tracer.
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics factory.
func WithMetrics(factory *metrics.MetricsFactory) DispatcherOption {
	return func(d *Dispatcher) {
		if factory != nil {
			d.metrics = factory
		}
	}
}

// WithRetryClassifier marks errors that invalidate an event immediately.
func WithRetryClassifier(classifier RetryClassifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.retryClassifier = classifier
	}
}

// WithConfig overrides the default configuration.
func WithConfig(cfg DispatcherConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.cfg = cfg
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(repo Repository, publisher Publisher, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrOutboxRepositoryRequired
	}

	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	d := &Dispatcher{
		repo:      repo,
		publisher: publisher,
		cfg:       DefaultDispatcherConfig(),
		logger:    log.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer("escrow.noop"),
		metrics:   metrics.NewNopFactory(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.cfg.normalize()

	failures := d.cfg.BreakerFailures
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "outbox-publisher",
		Timeout: d.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || d.isNonRetryableError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Log(context.Background(), log.LevelWarn, "outbox publisher breaker state changed",
				log.String("breaker", name),
				log.String("from", from.String()),
				log.String("to", to.String()),
			)
		},
	})

	return d, nil
}

// Run dispatches every DispatchInterval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrOutboxDispatcherRunning
	}

	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	ticker := time.NewTicker(d.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		d.DispatchOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce processes one batch.
func (d *Dispatcher) DispatchOnce(ctx context.Context) DispatchResult {
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	var result DispatchResult

	events := d.collectEvents(ctx, span)

	// Delivery is at-least-once: publish happens before MarkPublished.
	// Events left unpublished here stay PROCESSING until reclaimed.
	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		if event == nil {
			continue
		}

		result.Processed++

		err := d.publishWithRetry(ctx, event)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result.Processed--
			result.BreakerOpen = true

			d.logger.Log(ctx, log.LevelWarn, "outbox publisher breaker open; deferring remaining events",
				log.Int("deferred", len(events)-result.Published-result.Failed))

			break
		}

		if err != nil {
			d.handlePublishError(ctx, event, err)

			result.Failed++

			continue
		}

		result.Published++

		if err := d.repo.MarkPublished(ctx, event.ID, time.Now().UTC()); err != nil {
			d.logger.Log(ctx, log.LevelError, "outbox event published but PUBLISHED state not persisted; event may be redelivered",
				append(log.Event(event.ID, event.EventType), log.ErrorDetail(sanitizeErrorForStorage(err)))...)

			result.StateUpdateFailed++
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.processed", result.Processed),
		attribute.Int("outbox.published", result.Published),
		attribute.Int("outbox.failed", result.Failed),
	)

	if err := d.metrics.RecordOutboxDispatch(ctx, result.Published, result.Failed, time.Since(start)); err != nil {
		d.logger.Log(ctx, log.LevelWarn, "failed to record outbox metrics", log.Err(err))
	}

	return result
}

// collectEvents reclaims stuck events first, then claims pending ones up to
// BatchSize.
func (d *Dispatcher) collectEvents(ctx context.Context, span trace.Span) []*Event {
	processingBefore := time.Now().UTC().Add(-d.cfg.ProcessingTimeout)

	events, err := d.repo.ResetStuckProcessing(ctx, d.cfg.BatchSize, processingBefore, d.cfg.MaxDispatchAttempts)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "failed to reset stuck outbox events", err)
		d.logger.Log(ctx, log.LevelError, "failed to reset stuck outbox events", log.Err(err))

		events = nil
	}

	if len(events) > 0 {
		d.logger.Log(ctx, log.LevelWarn, "reclaimed stuck outbox events", log.Int("count", len(events)))
	}

	remaining := d.cfg.BatchSize - len(events)
	if remaining <= 0 {
		return events
	}

	pending, err := d.repo.ListPending(ctx, remaining)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "failed to list pending outbox events", err)
		d.logger.Log(ctx, log.LevelError, "failed to list pending outbox events", log.Err(err))

		return events
	}

	return append(events, pending...)
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, event *Event) error {
	if len(event.Payload) == 0 {
		return ErrOutboxEventPayloadRequired
	}

	var lastErr error

	for attempt := 0; attempt < d.cfg.PublishMaxAttempts; attempt++ {
		_, err := d.breaker.Execute(func() (any, error) {
			return nil, d.publisher.Publish(ctx, event)
		})
		if err == nil {
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return err
		}

		lastErr = fmt.Errorf("publish attempt %d/%d failed: %w", attempt+1, d.cfg.PublishMaxAttempts, err)
		if d.isNonRetryableError(err) || attempt == d.cfg.PublishMaxAttempts-1 {
			break
		}

		if waitErr := backoff.WaitContext(ctx, backoff.ExponentialWithJitter(d.cfg.PublishBackoff, attempt)); waitErr != nil {
			lastErr = fmt.Errorf("publish retry wait interrupted: %w", waitErr)
			break
		}
	}

	return lastErr
}

func (d *Dispatcher) handlePublishError(ctx context.Context, event *Event, err error) {
	msg := sanitizeErrorForStorage(err)

	if d.isNonRetryableError(err) || errors.Is(err, ErrOutboxEventPayloadRequired) {
		if markErr := d.repo.MarkInvalid(ctx, event.ID, msg); markErr != nil {
			d.logger.Log(ctx, log.LevelError, "failed to mark outbox event invalid",
				append(log.Event(event.ID, event.EventType), log.ErrorDetail(sanitizeErrorForStorage(markErr)))...)
		}

		return
	}

	if markErr := d.repo.MarkFailed(ctx, event.ID, msg, d.cfg.MaxDispatchAttempts); markErr != nil {
		d.logger.Log(ctx, log.LevelError, "failed to mark outbox event failed",
			append(log.Event(event.ID, event.EventType), log.ErrorDetail(sanitizeErrorForStorage(markErr)))...)
	}
}

func (d *Dispatcher) isNonRetryableError(err error) bool {
	if err == nil || d.retryClassifier == nil {
		return false
	}

	return d.retryClassifier.IsNonRetryable(err)
}
