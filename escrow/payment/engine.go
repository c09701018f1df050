package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow"
	"github.com/LerianStudio/lib-escrow/escrow/assert"
	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/custody"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry/metrics"
	"github.com/LerianStudio/lib-escrow/escrow/outbox"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	// ErrNilRepository is returned by NewEngine without a repository.
	ErrNilRepository = errors.New("payment repository is required")
	// ErrNilProgram is returned by NewEngine without a program capability.
	ErrNilProgram = errors.New("custody program capability is required")
)

// Engine runs the escrow operations. It keeps no state between calls beyond
// its collaborators and is safe for concurrent use.
type Engine struct {
	repo            Repository
	program         *custody.Program
	clock           Clock
	locker          Locker
	logger          log.Logger
	tracer          trace.Tracer
	metrics         *metrics.MetricsFactory
	finalizePolicy  FinalizePolicy
	allowZeroAmount bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLocker sets the cross-process lock taken around each unit of work.
func WithLocker(locker Locker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithLogger sets the fallback logger. A logger stored in the call context wins.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics factory.
func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.metrics = factory
		}
	}
}

// WithFinalizePolicy sets who may call Finalize. The default is FinalizeBySender.
func WithFinalizePolicy(policy FinalizePolicy) Option {
	return func(e *Engine) {
		e.finalizePolicy = policy
	}
}

// WithZeroAmountEscrows admits payments with a zero amount.
func WithZeroAmountEscrows() Option {
	return func(e *Engine) {
		e.allowZeroAmount = true
	}
}

// NewEngine creates an Engine moving deposit funds through program.
func NewEngine(repo Repository, program *custody.Program, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}

	if program == nil {
		return nil, ErrNilProgram
	}

	e := &Engine{
		repo:           repo,
		program:        program,
		clock:          SystemClock{},
		locker:         localLocker{},
		logger:         log.NewNop(),
		tracer:         noop.NewTracerProvider().Tracer("escrow.noop"),
		metrics:        metrics.NewNopFactory(),
		finalizePolicy: FinalizeBySender,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// ProgramID returns the id of the program owning every deposit account.
func (e *Engine) ProgramID() custody.Address {
	return e.program.ID()
}

// FinalizePolicy returns the configured finalize policy.
func (e *Engine) FinalizePolicy() FinalizePolicy {
	return e.finalizePolicy
}

// scope names one engine call for locking, tracing and logging.
type scope struct {
	op       string
	manager  custody.Address
	ref      *Ref
	mutating bool
}

func managerScope(op string, manager custody.Address) scope {
	return scope{op: op, manager: manager, mutating: true}
}

func paymentScope(op string, ref Ref) scope {
	return scope{op: op, manager: ref.Manager, ref: &ref, mutating: true}
}

func readScope(op string, manager custody.Address, ref *Ref) scope {
	return scope{op: op, manager: manager, ref: ref}
}

func (s scope) lockKey() string {
	if !s.mutating {
		return ""
	}

	if s.ref != nil {
		return constant.LockPrefixPayment + s.manager.String() + ":" + strconv.FormatUint(s.ref.ID, 10)
	}

	return constant.LockPrefixManager + s.manager.String()
}

func (s scope) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(constant.AttrPrefixPayment+"operation", s.op),
		attribute.String(constant.AttrPrefixPayment+"manager", s.manager.String()),
	}

	if s.ref != nil {
		attrs = append(attrs, attribute.String(constant.AttrPrefixPayment+"id", strconv.FormatUint(s.ref.ID, 10)))
	}

	return attrs
}

func (s scope) fields() []log.Field {
	fields := []log.Field{
		log.Operation(s.op),
		log.Manager(s.manager),
	}

	if s.ref != nil {
		fields = append(fields, log.PaymentID(s.ref.ID))
	}

	return fields
}

// unit is what an operation body sees inside its unit of work.
type unit struct {
	tx       Tx
	now      time.Time
	asserter *assert.Asserter
}

// execute runs body under the scope lock inside one unit of work. A non-nil
// precheck fails the call before any lock or storage access.
func (e *Engine) execute(ctx context.Context, s scope, precheck error, body func(ctx context.Context, u unit) error) error {
	if escrow.HeaderIDFromContext(ctx) == "" {
		ctx = escrow.ContextWithHeaderID(ctx, uuid.NewString())
	}

	logger := e.loggerFor(ctx).With(append(s.fields(), log.CorrelationID(escrow.HeaderIDFromContext(ctx)))...)

	ctx, span := e.tracerFor(ctx).Start(ctx, constant.SpanPrefix+s.op, trace.WithAttributes(s.attributes()...))
	defer span.End()

	err := precheck
	if err == nil {
		err = ctx.Err()
	}

	if err == nil {
		asserter := assert.New(logger, e.metrics, "payment", s.op)

		run := func(ctx context.Context) error {
			return e.repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
				return body(ctx, unit{tx: tx, now: normalizeTime(e.clock.Now()), asserter: asserter})
			})
		}

		if key := s.lockKey(); key != "" {
			err = e.locker.WithLock(ctx, key, run)
		} else {
			err = run(ctx)
		}
	}

	e.observe(ctx, &span, logger, s, err)

	return err
}

// loggerFor prefers the logger carried by ctx over the engine default.
//
//nolint:ireturn
func (e *Engine) loggerFor(ctx context.Context) log.Logger {
	if logger := escrow.LoggerFromContext(ctx); logger != nil {
		return logger
	}

	return e.logger
}

//nolint:ireturn
func (e *Engine) tracerFor(ctx context.Context) trace.Tracer {
	if tracer := escrow.TracerFromContext(ctx); tracer != nil {
		return tracer
	}

	return e.tracer
}

func (e *Engine) observe(ctx context.Context, span *trace.Span, logger log.Logger, s scope, err error) {
	if err == nil {
		level := log.LevelDebug
		if s.mutating {
			level = log.LevelInfo
		}

		logger.Log(ctx, level, "escrow operation committed")

		return
	}

	code, rejected := rejectionCode(err)
	if !rejected {
		opentelemetry.HandleSpanError(span, "escrow operation failed", err)
		logger.Log(ctx, log.LevelError, "escrow operation failed", log.Err(err))

		return
	}

	opentelemetry.HandleSpanBusinessErrorEvent(span, constant.EventTransitionRejected, err)
	(*span).SetAttributes(attribute.String(constant.AttrPrefixPayment+"error_code", code))

	if mErr := e.metrics.RecordTransitionRejected(ctx, s.op, code); mErr != nil {
		logger.Log(ctx, log.LevelWarn, "failed to record rejection metric", log.Err(mErr))
	}

	logger.Log(ctx, log.LevelDebug, "escrow operation rejected", log.ErrorCode(code), log.Err(err))
}

// rejectionCode classifies caller-correctable failures.
func rejectionCode(err error) (string, bool) {
	var domainErr DomainError
	if errors.As(err, &domainErr) {
		return string(domainErr.Code), true
	}

	switch {
	case errors.Is(err, custody.ErrInsufficientFunds):
		return "insufficient_funds", true
	case errors.Is(err, custody.ErrBalanceOverflow):
		return "balance_overflow", true
	default:
		return "", false
	}
}

// emit stores the lifecycle event of a committed mutation.
func (e *Engine) emit(ctx context.Context, u unit, eventType string, key custody.Address, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	event, err := outbox.NewEvent(ctx, eventType, outbox.AggregateID(key[:]), escrow.HeaderIDFromContext(ctx), payload, u.now)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}

	if err := u.tx.Emit(ctx, event); err != nil {
		return fmt.Errorf("store %s event: %w", eventType, err)
	}

	return nil
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// wholeSecond reports whether t survives normalizeTime unchanged.
func wholeSecond(t time.Time) bool {
	return t.Nanosecond() == 0
}
