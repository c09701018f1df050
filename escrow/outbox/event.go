package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/assert"
	"github.com/google/uuid"
)

// DefaultMaxPayloadBytes bounds a single event payload.
const DefaultMaxPayloadBytes = 1 << 20

// aggregateNamespace scopes name-based aggregate ids.
var aggregateNamespace = uuid.MustParse("6f1d3c1e-5b7a-4a8e-9d2f-7c0b1e6a9f41")

// AggregateID returns the stable aggregate id for an entity key such as a
// payment or manager address.
func AggregateID(key []byte) uuid.UUID {
	return uuid.NewSHA1(aggregateNamespace, key)
}

// Event is an event stored in the outbox for reliable delivery.
type Event struct {
	ID            uuid.UUID
	EventType     string
	AggregateID   uuid.UUID
	CorrelationID string
	Payload       []byte
	Status        EventStatus
	Attempts      int
	PublishedAt   *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewEvent creates a pending event stamped at occurredAt.
func NewEvent(
	ctx context.Context,
	eventType string,
	aggregateID uuid.UUID,
	correlationID string,
	payload []byte,
	occurredAt time.Time,
) (*Event, error) {
	asserter := assert.New(nil, nil, "outbox", "outbox.new_event")

	eventType = strings.TrimSpace(eventType)

	if err := asserter.That(ctx, eventType != "", "event type is required"); err != nil {
		return nil, fmt.Errorf("outbox event type: %w", err)
	}

	if err := asserter.That(ctx, aggregateID != uuid.Nil, "aggregate id is required"); err != nil {
		return nil, fmt.Errorf("outbox event aggregate id: %w", err)
	}

	if len(payload) == 0 {
		return nil, ErrOutboxEventPayloadRequired
	}

	if len(payload) > DefaultMaxPayloadBytes {
		return nil, ErrOutboxEventPayloadTooLarge
	}

	if !json.Valid(payload) {
		return nil, ErrOutboxEventPayloadNotJSON
	}

	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	occurredAt = occurredAt.UTC()

	return &Event{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateID:   aggregateID,
		CorrelationID: strings.TrimSpace(correlationID),
		Payload:       payload,
		Status:        StatusPending,
		CreatedAt:     occurredAt,
		UpdatedAt:     occurredAt,
	}, nil
}
