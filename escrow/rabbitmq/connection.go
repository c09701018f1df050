package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	constant "github.com/LerianStudio/lib-escrow/escrow/constants"
	"github.com/LerianStudio/lib-escrow/escrow/log"
	"github.com/LerianStudio/lib-escrow/escrow/opentelemetry"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNilConnection is returned when a method is called on a nil Connection.
var ErrNilConnection = errors.New("rabbitmq connection is nil")

// ErrURIRequired is returned when Connect runs without a connection string.
var ErrURIRequired = errors.New("rabbitmq connection string is required")

// Connection owns one AMQP connection and the channel events are published on.
type Connection struct {
	URI      string `json:"-"`
	Exchange string
	Logger   log.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	dial func(ctx context.Context, uri string) (*amqp.Connection, error)
}

// Connect dials the broker, opens a channel and declares the topic exchange.
// An already open connection is reused.
func (c *Connection) Connect(ctx context.Context) error {
	if c == nil {
		return ErrNilConnection
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}

	ctx, span := otel.Tracer("rabbitmq").Start(ctx, "rabbitmq.connect")
	defer span.End()

	span.SetAttributes(attribute.String(constant.AttrDBSystem, constant.DBSystemRabbitMQ))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}

	if strings.TrimSpace(c.URI) == "" {
		return ErrURIRequired
	}

	logger := c.logger()
	dial := c.dial

	if dial == nil {
		dial = func(_ context.Context, uri string) (*amqp.Connection, error) {
			return amqp.Dial(uri)
		}
	}

	logger.Log(ctx, log.LevelInfo, "connecting to rabbitmq")

	conn, err := dial(ctx, c.URI)
	if err != nil {
		sanitized := newSanitizedError(err, c.URI, "failed to connect to rabbitmq")
		logger.Log(ctx, log.LevelError, "failed to connect to rabbitmq", log.ErrorDetail(sanitizeAMQPErr(err, c.URI)))
		opentelemetry.HandleSpanError(&span, "Failed to connect to rabbitmq", sanitized)

		return sanitized
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		opentelemetry.HandleSpanError(&span, "Failed to open channel on rabbitmq", err)

		return fmt.Errorf("failed to open channel on rabbitmq: %w", err)
	}

	if err := ch.ExchangeDeclare(c.exchange(), amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()

		opentelemetry.HandleSpanError(&span, "Failed to declare exchange", err)

		return fmt.Errorf("declare exchange %q: %w", c.exchange(), err)
	}

	c.conn = conn
	c.channel = ch

	logger.Log(ctx, log.LevelInfo, "connected to rabbitmq", log.String("exchange", c.exchange()))

	return nil
}

// Channel returns the open channel, or ErrChannelRequired before Connect.
func (c *Connection) Channel() (*amqp.Channel, error) {
	if c == nil {
		return nil, ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil || c.channel.IsClosed() {
		return nil, ErrChannelRequired
	}

	return c.channel, nil
}

// Close closes the connection; the channel goes with it.
func (c *Connection) Close() error {
	if c == nil {
		return ErrNilConnection
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn := c.conn
	c.conn, c.channel = nil, nil

	if conn == nil || conn.IsClosed() {
		return nil
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}

	return nil
}

func (c *Connection) exchange() string {
	if c.Exchange == "" {
		return constant.DefaultExchange
	}

	return c.Exchange
}

func (c *Connection) logger() log.Logger {
	if c.Logger == nil {
		return log.NewNop()
	}

	return c.Logger
}

// sanitizedError keeps the original for errors.Is while hiding credentials
// from Error().
type sanitizedError struct {
	original error
	message  string
}

func (e *sanitizedError) Error() string { return e.message }

func (e *sanitizedError) Unwrap() error { return e.original }

func newSanitizedError(err error, connectionString, prefix string) error {
	return fmt.Errorf("%s: %w", prefix, &sanitizedError{
		original: err,
		message:  sanitizeAMQPErr(err, connectionString),
	})
}

func sanitizeAMQPErr(err error, connectionString string) string {
	if err == nil {
		return ""
	}

	errMsg := err.Error()

	referenceURL, parseErr := url.Parse(connectionString)
	if connectionString == "" || parseErr != nil {
		return errMsg
	}

	errMsg = strings.ReplaceAll(errMsg, connectionString, referenceURL.Redacted())

	if referenceURL.User != nil {
		if pass, ok := referenceURL.User.Password(); ok && pass != "" {
			errMsg = strings.ReplaceAll(errMsg, pass, "xxxxx")
		}
	}

	return errMsg
}

// BuildConnectionString constructs an AMQP URI. Credentials and vhost are
// escaped; an empty vhost means the default "/".
func BuildConnectionString(protocol, user, pass, host, port, vhost string) string {
	u := &url.URL{Scheme: protocol}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}

	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":") && !strings.HasPrefix(host, "["):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}

	if vhost != "" {
		// '/' inside a vhost name must go out as %2F.
		escaped := strings.ReplaceAll(url.QueryEscape(vhost), "+", "%20")
		u.Path = "/" + vhost
		u.RawPath = "/" + escaped
	}

	return u.String()
}
