package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the relay-side view of the outbox. Events are written by the
// payment store inside its own unit of work.
type Repository interface {
	// ListPending claims up to limit PENDING and FAILED events, oldest first,
	// moving them to PROCESSING before returning.
	ListPending(ctx context.Context, limit int) ([]*Event, error)
	// ResetStuckProcessing reclaims PROCESSING events last touched at or
	// before processingBefore. Each reclaimed event counts one attempt; those
	// reaching maxAttempts become INVALID and are not returned.
	ResetStuckProcessing(ctx context.Context, limit int, processingBefore time.Time, maxAttempts int) ([]*Event, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	// MarkFailed increments Attempts and moves the event to INVALID once
	// maxAttempts is reached.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error
	MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Publisher delivers one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event *Event) error

// Publish calls fn.
func (fn PublisherFunc) Publish(ctx context.Context, event *Event) error {
	return fn(ctx, event)
}

// RetryClassifier reports errors that must not be retried.
type RetryClassifier interface {
	IsNonRetryable(err error) bool
}

// RetryClassifierFunc adapts a function to RetryClassifier.
type RetryClassifierFunc func(err error) bool

// IsNonRetryable calls fn; a nil fn retries everything.
func (fn RetryClassifierFunc) IsNonRetryable(err error) bool {
	if fn == nil {
		return false
	}

	return fn(err)
}

// NextStatusAfterFailure returns the status an event takes after a failed
// attempt raising its count to attempts.
func NextStatusAfterFailure(attempts, maxAttempts int) EventStatus {
	if maxAttempts > 0 && attempts >= maxAttempts {
		return StatusInvalid
	}

	return StatusFailed
}
