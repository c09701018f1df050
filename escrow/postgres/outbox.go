package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/LerianStudio/lib-escrow/escrow/outbox"
	"github.com/google/uuid"
)

const outboxColumns = "id, event_type, aggregate_id, correlation_id, payload, status, attempts, published_at, last_error, created_at, updated_at"

const errProcessingTimedOut = "processing timed out"

// ErrLimitMustBePositive is returned by the outbox listings for a non-positive limit.
var ErrLimitMustBePositive = errors.New("limit must be greater than zero")

// ListPending claims up to limit PENDING and FAILED events, oldest first.
// Claimed rows move to PROCESSING in the same statement, so concurrent relays
// never receive the same event.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	events, err := s.claimEvents(ctx, "postgres.list_outbox_pending",
		"UPDATE escrow_outbox_events SET status = $1, updated_at = $2 WHERE id IN ("+
			"SELECT id FROM escrow_outbox_events WHERE status IN ($3, $4) "+
			"ORDER BY created_at ASC LIMIT $5 FOR UPDATE SKIP LOCKED) "+
			"RETURNING "+outboxColumns,
		string(outbox.StatusProcessing), time.Now().UTC(),
		string(outbox.StatusPending), string(outbox.StatusFailed), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending events: %w", err)
	}

	return events, nil
}

// ResetStuckProcessing reclaims PROCESSING events untouched since
// processingBefore. Each reclaim counts one attempt; rows reaching
// maxAttempts become INVALID and are left out of the result.
func (s *Store) ResetStuckProcessing(ctx context.Context, limit int, processingBefore time.Time, maxAttempts int) ([]*outbox.Event, error) {
	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	events, err := s.claimEvents(ctx, "postgres.reset_outbox_processing",
		"UPDATE escrow_outbox_events SET "+
			"status = CASE WHEN $1 > 0 AND attempts + 1 >= $1 THEN $2 ELSE $3 END, "+
			"last_error = CASE WHEN $1 > 0 AND attempts + 1 >= $1 THEN $4 ELSE last_error END, "+
			"attempts = attempts + 1, updated_at = $5 WHERE id IN ("+
			"SELECT id FROM escrow_outbox_events WHERE status = $3 AND updated_at <= $6 "+
			"ORDER BY updated_at ASC LIMIT $7 FOR UPDATE SKIP LOCKED) "+
			"RETURNING "+outboxColumns,
		maxAttempts, string(outbox.StatusInvalid), string(outbox.StatusProcessing), errProcessingTimedOut,
		time.Now().UTC(), processingBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("reset stuck events: %w", err)
	}

	reclaimed := events[:0]

	for _, event := range events {
		if event.Status == outbox.StatusProcessing {
			reclaimed = append(reclaimed, event)
		}
	}

	return reclaimed, nil
}

// MarkPublished moves claimed event id to PUBLISHED.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	return s.updateEvent(ctx, "postgres.mark_outbox_published",
		"UPDATE escrow_outbox_events SET status = $1, published_at = $2, updated_at = $3 "+
			"WHERE id = $4 AND status = $5",
		string(outbox.StatusPublished), publishedAt.UTC(), time.Now().UTC(), id,
		string(outbox.StatusProcessing))
}

// MarkFailed records a failed attempt on claimed event id; the event becomes
// INVALID once attempts reach maxAttempts.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) error {
	return s.updateEvent(ctx, "postgres.mark_outbox_failed",
		"UPDATE escrow_outbox_events SET "+
			"status = CASE WHEN $1 > 0 AND attempts + 1 >= $1 THEN $2 ELSE $3 END, "+
			"attempts = attempts + 1, last_error = $4, updated_at = $5 "+
			"WHERE id = $6 AND status = $7",
		maxAttempts, string(outbox.StatusInvalid), string(outbox.StatusFailed), errMsg, time.Now().UTC(), id,
		string(outbox.StatusProcessing))
}

// MarkInvalid moves claimed event id to INVALID.
func (s *Store) MarkInvalid(ctx context.Context, id uuid.UUID, errMsg string) error {
	return s.updateEvent(ctx, "postgres.mark_outbox_invalid",
		"UPDATE escrow_outbox_events SET status = $1, last_error = $2, updated_at = $3 "+
			"WHERE id = $4 AND status = $5",
		string(outbox.StatusInvalid), errMsg, time.Now().UTC(), id,
		string(outbox.StatusProcessing))
}

// claimEvents runs an UPDATE ... RETURNING and orders the rows oldest first.
func (s *Store) claimEvents(ctx context.Context, spanName, query string, args ...any) ([]*outbox.Event, error) {
	var events []*outbox.Event

	err := s.withTx(ctx, spanName, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("claiming events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			event, err := scanOutboxEvent(rows)
			if err != nil {
				return err
			}

			events = append(events, event)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(events, func(a, b *outbox.Event) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID.String(), b.ID.String())
	})

	return events, nil
}

func (s *Store) updateEvent(ctx context.Context, spanName, query string, args ...any) error {
	return s.withTx(ctx, spanName, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("executing update: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		if n == 0 {
			return ErrStateTransitionConflict
		}

		return nil
	})
}

func scanOutboxEvent(row interface{ Scan(dest ...any) error }) (*outbox.Event, error) {
	var (
		event       outbox.Event
		status      string
		publishedAt sql.NullTime
		lastError   sql.NullString
	)

	if err := row.Scan(
		&event.ID,
		&event.EventType,
		&event.AggregateID,
		&event.CorrelationID,
		&event.Payload,
		&status,
		&event.Attempts,
		&publishedAt,
		&lastError,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning outbox event: %w", err)
	}

	parsed, err := outbox.ParseEventStatus(status)
	if err != nil {
		return nil, err
	}

	event.Status = parsed
	event.LastError = lastError.String
	event.CreatedAt, event.UpdatedAt = event.CreatedAt.UTC(), event.UpdatedAt.UTC()

	if publishedAt.Valid {
		at := publishedAt.Time.UTC()
		event.PublishedAt = &at
	}

	return &event, nil
}
