package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	"github.com/bxcodec/dbresolver/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	// ErrNilConnection is returned when a method is called on a nil Connection.
	ErrNilConnection = errors.New("postgres connection is nil")
	// ErrPrimaryDSNRequired is returned when Connect runs without a primary DSN.
	ErrPrimaryDSNRequired = errors.New("postgres primary DSN is required")
	// ErrNotConnected is returned by accessors before Connect succeeds.
	ErrNotConnected = errors.New("postgres connection is not established")
)

var (
	dbOpenFn = sql.Open

	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
)

// Connection is a primary/replica hub over the pgx driver.
type Connection struct {
	PrimaryDSN string `json:"-"`
	// ReplicaDSN defaults to PrimaryDSN.
	ReplicaDSN    string `json:"-"`
	PrimaryDBName string
	// SkipMigrations leaves the schema untouched on Connect.
	SkipMigrations     bool
	MaxOpenConnections int
	MaxIdleConnections int
	Logger             log.Logger

	mu       sync.RWMutex
	primary  *sql.DB
	resolver dbresolver.DB
}

func (c *Connection) initDefaults() {
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}

	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = defaultMaxOpenConns
	}

	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = defaultMaxIdleConns
	}

	if strings.TrimSpace(c.ReplicaDSN) == "" {
		c.ReplicaDSN = c.PrimaryDSN
	}
}

// Connect opens both pools, applies migrations on the primary and pings.
// Calling it again replaces the previous pools.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.initDefaults()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled before database connection: %w", err)
	}

	if strings.TrimSpace(c.PrimaryDSN) == "" {
		return ErrPrimaryDSNRequired
	}

	ctx, span := otel.Tracer("postgres").Start(ctx, "postgres.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemPostgreSQL))

	if c.resolver != nil {
		if err := c.closeLocked(); err != nil {
			c.Logger.Log(ctx, log.LevelWarn, "failed to close previous connection before reconnect", log.Err(err))
		}
	}

	c.Logger.Log(ctx, log.LevelInfo, "connecting to primary and replica databases")

	primary, err := c.open(c.PrimaryDSN)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "Failed to open primary database", err)
		return fmt.Errorf("failed to connect to primary database: %w", err)
	}

	var success bool

	defer func() {
		if !success {
			_ = primary.Close()
		}
	}()

	replica, err := c.open(c.ReplicaDSN)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "Failed to open replica database", err)
		return fmt.Errorf("failed to connect to replica database: %w", err)
	}

	defer func() {
		if !success {
			_ = replica.Close()
		}
	}()

	resolver := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if err := resolver.PingContext(ctx); err != nil {
		sanitized := sanitizeSensitiveError(err)
		c.Logger.Log(ctx, log.LevelError, "failed to ping database", log.ErrorDetail(sanitized))
		opentelemetry.HandleSpanError(&span, "Failed to ping database", err)

		return fmt.Errorf("failed to ping database: %s", sanitized)
	}

	if !c.SkipMigrations {
		if err := Migrate(ctx, primary, c.PrimaryDBName, c.Logger); err != nil {
			opentelemetry.HandleSpanError(&span, "Failed to migrate database", err)
			return err
		}
	}

	c.primary = primary
	c.resolver = resolver
	success = true

	c.Logger.Log(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (c *Connection) open(dsn string) (*sql.DB, error) {
	db, err := dbOpenFn("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s", sanitizeSensitiveError(err))
	}

	db.SetMaxOpenConns(c.MaxOpenConnections)
	db.SetMaxIdleConns(c.MaxIdleConnections)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	return db, nil
}

// Primary returns the primary pool. Units of work always run here.
func (c *Connection) Primary() (*sql.DB, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.primary == nil {
		return nil, ErrNotConnected
	}

	return c.primary, nil
}

// Resolver returns the primary/replica resolver for read-only queries.
//
//nolint:ireturn
func (c *Connection) Resolver() (dbresolver.DB, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.resolver == nil {
		return nil, ErrNotConnected
	}

	return c.resolver, nil
}

// Close releases both pools.
func (c *Connection) Close() error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.resolver == nil {
		return nil
	}

	err := c.resolver.Close()
	c.resolver = nil
	c.primary = nil

	return err
}

func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := connectionStringCredentialsPattern.ReplaceAllString(err.Error(), "://***@")
	sanitized = connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")

	return sanitized
}
