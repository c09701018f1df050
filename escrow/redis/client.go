package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// ErrNilClient is returned when a nil client is used.
	ErrNilClient = errors.New("redis client is nil")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid redis config")
)

// Config configures a Client. Exactly one topology must be set.
type Config struct {
	Topology Topology
	Password string
	Options  ConnectionOptions
	Logger   log.Logger
}

// Topology selects standalone, sentinel or cluster mode.
type Topology struct {
	Standalone *StandaloneTopology
	Sentinel   *SentinelTopology
	Cluster    *ClusterTopology
}

// StandaloneTopology is a single node.
type StandaloneTopology struct {
	Address string
}

// SentinelTopology is a sentinel-managed primary.
type SentinelTopology struct {
	Addresses  []string
	MasterName string
}

// ClusterTopology is a Redis Cluster.
type ClusterTopology struct {
	Addresses []string
}

// ConnectionOptions tunes the go-redis pool. Zero values take defaults.
type ConnectionOptions struct {
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
}

// Client wraps a redis.UniversalClient and reconnects on demand.
type Client struct {
	mu     sync.RWMutex
	cfg    Config
	logger log.Logger
	client redis.UniversalClient
}

// New validates cfg, connects and pings.
func New(ctx context.Context, cfg Config) (*Client, error) {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: normalized, logger: normalized.Logger}

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Connect (re)establishes the connection.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilClient
	}

	ctx, span := otel.Tracer("redis").Start(ctx, "redis.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRedis))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		opentelemetry.HandleSpanError(&span, "failed to connect to redis", err)
		return err
	}

	return nil
}

// GetClient returns the connected client, reconnecting if it was closed.
//
//nolint:ireturn
func (c *Client) GetClient(ctx context.Context) (redis.UniversalClient, error) {
	if c == nil {
		return nil, ErrNilClient
	}

	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	return c.client, nil
}

// Close closes the underlying client.
func (c *Client) Close() error {
	if c == nil {
		return ErrNilClient
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil

	return err
}

func (c *Client) connectLocked(ctx context.Context) error {
	client := redis.NewUniversalClient(c.universalOptions())

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		c.logger.Log(ctx, log.LevelError, "redis ping failed", log.Err(err))

		return fmt.Errorf("redis ping: %w", err)
	}

	if c.client != nil {
		_ = c.client.Close()
	}

	c.client = client

	c.logger.Log(ctx, log.LevelInfo, "connected to redis")

	return nil
}

func (c *Client) universalOptions() *redis.UniversalOptions {
	o := c.cfg.Options
	opts := &redis.UniversalOptions{
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		MaxRetries:   o.MaxRetries,
		Password:     c.cfg.Password,
	}

	switch t := c.cfg.Topology; {
	case t.Standalone != nil:
		opts.Addrs = []string{t.Standalone.Address}
	case t.Sentinel != nil:
		opts.Addrs = t.Sentinel.Addresses
		opts.MasterName = t.Sentinel.MasterName
	case t.Cluster != nil:
		opts.Addrs = t.Cluster.Addresses
		opts.IsClusterMode = true
	}

	return opts
}

func normalizeConfig(cfg Config) (Config, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	o := &cfg.Options
	if o.PoolSize == 0 {
		o.PoolSize = 10
	}

	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}

	if o.ReadTimeout == 0 {
		o.ReadTimeout = 3 * time.Second
	}

	if o.WriteTimeout == 0 {
		o.WriteTimeout = 3 * time.Second
	}

	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}

	if err := validateTopology(cfg.Topology); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateTopology(topology Topology) error {
	count := 0

	if topology.Standalone != nil {
		count++

		if strings.TrimSpace(topology.Standalone.Address) == "" {
			return configError("standalone address is required")
		}
	}

	if topology.Sentinel != nil {
		count++

		if len(topology.Sentinel.Addresses) == 0 {
			return configError("sentinel addresses are required")
		}

		if strings.TrimSpace(topology.Sentinel.MasterName) == "" {
			return configError("sentinel master name is required")
		}
	}

	if topology.Cluster != nil {
		count++

		if len(topology.Cluster.Addresses) == 0 {
			return configError("cluster addresses are required")
		}
	}

	if count != 1 {
		return configError("exactly one topology must be configured")
	}

	return nil
}

func configError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}
