package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := New(context.Background(), Config{
		Topology: Topology{Standalone: &StandaloneTopology{Address: mr.Addr()}},
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func fastOptions() LockOptions {
	return LockOptions{Expiry: 2 * time.Second, Tries: 50, RetryDelay: 10 * time.Millisecond, DriftFactor: 0.01}
}

func TestWithLockRunsFunction(t *testing.T) {
	client, mr := setupTestClient(t)

	manager, err := NewRedisLockManager(client)
	require.NoError(t, err)

	var seen bool

	err = manager.WithLock(context.Background(), "lock:escrow:payment:m:1", func(context.Context) error {
		seen = mr.Exists("lock:escrow:payment:m:1")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, seen, "key must exist while held")
	assert.False(t, mr.Exists("lock:escrow:payment:m:1"), "key must be released")
}

func TestWithLockReturnsFunctionError(t *testing.T) {
	client, _ := setupTestClient(t)

	manager, err := NewRedisLockManager(client)
	require.NoError(t, err)

	boom := errors.New("boom")

	err = manager.WithLock(context.Background(), "lock:k", func(context.Context) error { return boom })
	assert.Same(t, boom, err)
}

func TestWithLockSerializes(t *testing.T) {
	client, _ := setupTestClient(t)

	manager, err := NewRedisLockManager(client, fastOptions())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		active  int32
		maxSeen int32
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := manager.WithLock(context.Background(), "lock:shared", func(context.Context) error {
				now := atomic.AddInt32(&active, 1)
				for {
					prev := atomic.LoadInt32(&maxSeen)
					if now <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, now) {
						break
					}
				}

				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

func TestTryLock(t *testing.T) {
	client, _ := setupTestClient(t)

	manager, err := NewRedisLockManager(client)
	require.NoError(t, err)

	ctx := context.Background()

	handle, ok, err := manager.TryLock(ctx, "lock:try")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = manager.TryLock(ctx, "lock:try")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, handle.Unlock(ctx))
	assert.Error(t, handle.Unlock(ctx))

	_, ok, err = manager.TryLock(ctx, "lock:try")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockValidation(t *testing.T) {
	client, _ := setupTestClient(t)

	manager, err := NewRedisLockManager(client)
	require.NoError(t, err)

	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	assert.ErrorIs(t, manager.WithLock(ctx, " ", noop), ErrEmptyLockKey)
	assert.ErrorIs(t, manager.WithLock(ctx, "k", nil), ErrNilLockFn)

	var nilManager *RedisLockManager
	assert.ErrorIs(t, nilManager.WithLock(ctx, "k", noop), ErrNilLockManager)

	tests := []struct {
		name string
		opts LockOptions
		err  error
	}{
		{name: "expiry", opts: LockOptions{Tries: 1}, err: ErrLockExpiryInvalid},
		{name: "tries", opts: LockOptions{Expiry: time.Second}, err: ErrLockTriesInvalid},
		{name: "too many tries", opts: LockOptions{Expiry: time.Second, Tries: maxLockTries + 1}, err: ErrLockTriesInvalid},
		{name: "delay", opts: LockOptions{Expiry: time.Second, Tries: 1, RetryDelay: -1}, err: ErrLockRetryDelayNegative},
		{name: "drift", opts: LockOptions{Expiry: time.Second, Tries: 1, DriftFactor: 1}, err: ErrLockDriftFactorInvalid},
	}

	for _, tt := range tests {
		assert.ErrorIs(t, manager.WithLockOptions(ctx, "k", tt.opts, noop), tt.err, tt.name)
	}

	_, err = NewRedisLockManager(client, LockOptions{})
	assert.ErrorIs(t, err, ErrLockExpiryInvalid)

	_, err = NewRedisLockManager(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		topology Topology
	}{
		{name: "none", topology: Topology{}},
		{name: "blank standalone", topology: Topology{Standalone: &StandaloneTopology{}}},
		{name: "sentinel without master", topology: Topology{Sentinel: &SentinelTopology{Addresses: []string{"a:1"}}}},
		{name: "empty cluster", topology: Topology{Cluster: &ClusterTopology{}}},
		{name: "two topologies", topology: Topology{
			Standalone: &StandaloneTopology{Address: "a:1"},
			Cluster:    &ClusterTopology{Addresses: []string{"b:1"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(context.Background(), Config{Topology: tt.topology})
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestGetClientReconnectsAfterClose(t *testing.T) {
	client, _ := setupTestClient(t)

	require.NoError(t, client.Close())

	rdb, err := client.GetClient(context.Background())
	require.NoError(t, err)
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}

func TestSafeLockKeyForLogs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"lock:a"`, safeLockKeyForLogs("lock:a"))

	long := safeLockKeyForLogs(string(make([]byte, 300)))
	assert.Contains(t, long, "...(truncated)")
}
