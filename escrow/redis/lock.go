package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/LerianStudio/lib-escrow/escrow/payment"
	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

const maxLockTries = 1000

var (
	// ErrNilLockManager is returned when a method is called on a nil RedisLockManager.
	ErrNilLockManager = errors.New("lock manager is nil")
	// ErrNilLockHandle is returned when a nil lock handle is used.
	ErrNilLockHandle = errors.New("lock handle is nil or not initialized")
	// ErrLockNotHeld is returned when unlock finds the lock expired or taken over.
	ErrLockNotHeld = errors.New("lock was not held or already expired")
	// ErrNilLockFn is returned when WithLock gets a nil function.
	ErrNilLockFn = errors.New("lock function is nil")
	// ErrEmptyLockKey is returned for blank lock keys.
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
	// ErrLockExpiryInvalid is returned when lock expiry is not positive.
	ErrLockExpiryInvalid = errors.New("lock expiry must be greater than 0")
	// ErrLockTriesInvalid is returned when lock tries is outside [1, 1000].
	ErrLockTriesInvalid = errors.New("lock tries must be between 1 and 1000")
	// ErrLockRetryDelayNegative is returned when retry delay is negative.
	ErrLockRetryDelayNegative = errors.New("lock retry delay cannot be negative")
	// ErrLockDriftFactorInvalid is returned when drift factor is outside [0, 1).
	ErrLockDriftFactorInvalid = errors.New("lock drift factor must be between 0 (inclusive) and 1 (exclusive)")
)

// LockOptions configures lock acquisition.
type LockOptions struct {
	// Expiry bounds how long a crashed holder blocks others.
	Expiry time.Duration
	// Tries is the number of acquisition attempts.
	Tries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// DriftFactor accounts for clock drift between nodes.
	DriftFactor float64
}

// DefaultLockOptions returns the defaults used by WithLock.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:      10 * time.Second,
		Tries:       3,
		RetryDelay:  500 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// Validate checks option bounds.
func (o LockOptions) Validate() error {
	switch {
	case o.Expiry <= 0:
		return ErrLockExpiryInvalid
	case o.Tries < 1 || o.Tries > maxLockTries:
		return ErrLockTriesInvalid
	case o.RetryDelay < 0:
		return ErrLockRetryDelayNegative
	case o.DriftFactor < 0 || o.DriftFactor >= 1:
		return ErrLockDriftFactorInvalid
	}

	return nil
}

// LockHandle is an acquired lock.
type LockHandle interface {
	Unlock(ctx context.Context) error
}

// RedisLockManager takes RedLock mutexes through redsync. It implements
// payment.Locker with the options given at construction.
//
//	locker, err := redis.NewRedisLockManager(client)
//	engine, err := payment.NewEngine(store, program, payment.WithLocker(locker))
type RedisLockManager struct {
	redsync *redsync.Redsync
	opts    LockOptions
}

var _ payment.Locker = (*RedisLockManager)(nil)

// clientPool resolves the current client on every Get so reconnects are picked up.
type clientPool struct {
	conn *Client
}

func (p *clientPool) Get(ctx context.Context) (redsyncredis.Conn, error) {
	rdb, err := p.conn.GetClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get redis client for lock pool: %w", err)
	}

	return goredis.NewPool(rdb).Get(ctx)
}

// NewRedisLockManager creates a lock manager over conn. opts overrides
// DefaultLockOptions for WithLock.
func NewRedisLockManager(conn *Client, opts ...LockOptions) (*RedisLockManager, error) {
	if conn == nil {
		return nil, ErrNilClient
	}

	if _, err := conn.GetClient(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to get redis client: %w", err)
	}

	options := DefaultLockOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if err := options.Validate(); err != nil {
		return nil, err
	}

	return &RedisLockManager{
		redsync: redsync.New(&clientPool{conn: conn}),
		opts:    options,
	}, nil
}

// WithLock runs fn while holding lockKey. The error of fn is returned as is.
func (dl *RedisLockManager) WithLock(ctx context.Context, lockKey string, fn func(context.Context) error) error {
	if dl == nil {
		return ErrNilLockManager
	}

	return dl.WithLockOptions(ctx, lockKey, dl.opts, fn)
}

// WithLockOptions runs fn while holding lockKey acquired with opts.
func (dl *RedisLockManager) WithLockOptions(ctx context.Context, lockKey string, opts LockOptions, fn func(context.Context) error) error {
	if dl == nil {
		return ErrNilLockManager
	}

	if fn == nil {
		return ErrNilLockFn
	}

	if strings.TrimSpace(lockKey) == "" {
		return ErrEmptyLockKey
	}

	if err := opts.Validate(); err != nil {
		return err
	}

	logger, tracer, _, _ := escrow.NewTrackingFromContext(ctx)
	safeKey := safeLockKeyForLogs(lockKey)

	ctx, span := tracer.Start(ctx, "redis.lock.with_lock")
	defer span.End()

	mutex := dl.redsync.NewMutex(
		lockKey,
		redsync.WithExpiry(opts.Expiry),
		redsync.WithTries(opts.Tries),
		redsync.WithRetryDelay(opts.RetryDelay),
		redsync.WithDriftFactor(opts.DriftFactor),
	)

	if err := mutex.LockContext(ctx); err != nil {
		logger.Log(ctx, log.LevelError, "failed to acquire lock", log.LockKey(safeKey), log.Err(err))
		opentelemetry.HandleSpanError(&span, "failed to acquire lock", err)

		return fmt.Errorf("failed to acquire lock %s: %w", safeKey, err)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			logger.Log(ctx, log.LevelError, "failed to release lock",
				log.LockKey(safeKey), log.Bool("unlock_ok", ok), log.Err(err))
		}
	}()

	return fn(ctx)
}

// TryLock makes one acquisition attempt. It reports false without error when
// the lock is held elsewhere.
//
//nolint:ireturn
func (dl *RedisLockManager) TryLock(ctx context.Context, lockKey string) (LockHandle, bool, error) {
	if dl == nil {
		return nil, false, ErrNilLockManager
	}

	if strings.TrimSpace(lockKey) == "" {
		return nil, false, ErrEmptyLockKey
	}

	logger, tracer, _, _ := escrow.NewTrackingFromContext(ctx)
	safeKey := safeLockKeyForLogs(lockKey)

	ctx, span := tracer.Start(ctx, "redis.lock.try_lock")
	defer span.End()

	mutex := dl.redsync.NewMutex(lockKey, redsync.WithExpiry(dl.opts.Expiry), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		msg := err.Error()
		if errors.Is(err, redsync.ErrFailed) || strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock") {
			logger.Log(ctx, log.LevelDebug, "lock already held", log.LockKey(safeKey))
			return nil, false, nil
		}

		opentelemetry.HandleSpanError(&span, "failed to attempt lock acquisition", err)

		return nil, false, fmt.Errorf("failed to attempt lock acquisition for %s: %w", safeKey, err)
	}

	return &lockHandle{mutex: mutex, logger: logger}, true, nil
}

type lockHandle struct {
	mutex  *redsync.Mutex
	logger log.Logger
}

// Unlock releases the lock.
func (h *lockHandle) Unlock(ctx context.Context) error {
	if h == nil || h.mutex == nil {
		return ErrNilLockHandle
	}

	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		h.logger.Log(ctx, log.LevelError, "failed to release lock", log.Err(err))
		return fmt.Errorf("distributed lock: unlock: %w", err)
	}

	if !ok {
		return ErrLockNotHeld
	}

	return nil
}

func safeLockKeyForLogs(lockKey string) string {
	const maxLockKeyLogLength = 128

	safe := strconv.QuoteToASCII(lockKey)
	if len(safe) <= maxLockKeyLogLength {
		return safe
	}

	return safe[:maxLockKeyLogLength] + "...(truncated)"
}
