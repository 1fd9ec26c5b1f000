package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Delivery states of an outbox row.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"
)

const (
	// MaxRetryCount failed deliveries park an event in dead letter.
	MaxRetryCount = 5

	// DefaultTargetStream receives every run event unless a row names another.
	DefaultTargetStream = "stream:pet_prices"

	maxRedeliveryWait = 5 * time.Minute
)

var ErrInvalidEvent = errors.New("invalid outbox event")

// OutboxEvent is a run event stored next to the data it describes. The
// relay copies it to TargetStream once the writing transaction committed.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	TargetStream  string
	Status        string
	RetryCount    int
	ErrorMessage  *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	NextRetryAt   *time.Time
}

func (e *OutboxEvent) Validate() error {
	var missing string
	switch {
	case e.AggregateType == "":
		missing = "aggregate type"
	case e.AggregateID == "":
		missing = "aggregate id"
	case e.EventType == "":
		missing = "event type"
	case len(e.Payload) == 0:
		missing = "payload"
	default:
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrInvalidEvent, missing)
}

const outboxColumns = `id, aggregate_type, aggregate_id, event_type, payload, target_stream,
	status, retry_count, error_message, created_at, processed_at, next_retry_at`

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx queues event inside tx, so it only becomes visible to the
// relay if the run's data commits. Missing ID, status and stream are filled
// in on event.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultTargetStream
	}
	event.CreatedAt = time.Now()
	if event.NextRetryAt == nil {
		due := event.CreatedAt
		event.NextRetryAt = &due
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, retry_count, created_at, next_retry_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload,
		event.TargetStream, event.Status, event.RetryCount, event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to queue %s event for %s: %w", event.EventType, event.AggregateID, err)
	}
	return nil
}

// Due returns up to limit undelivered events whose next attempt is due,
// oldest first.
func (r *OutboxRepository) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= now()
		ORDER BY created_at
		LIMIT $3`,
		OutboxStatusPending, OutboxStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read due events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*OutboxEvent, error) {
		e := &OutboxEvent{}
		err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload,
			&e.TargetStream, &e.Status, &e.RetryCount, &e.ErrorMessage, &e.CreatedAt,
			&e.ProcessedAt, &e.NextRetryAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan due events: %w", err)
	}
	return events, nil
}

// MarkDelivered records that the event reached its stream.
func (r *OutboxRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE outbox_event SET status = $1, processed_at = now() WHERE id = $2`,
		OutboxStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s delivered: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s does not exist", id)
	}
	return nil
}

// MarkFailed counts a failed delivery and schedules the next one. The
// MaxRetryCount-th failure moves the event to dead letter instead.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx,
			`SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE`, id).Scan(&attempts)
		if err != nil {
			return fmt.Errorf("failed to load event %s: %w", id, err)
		}
		attempts++

		status := OutboxStatusFailed
		if attempts >= MaxRetryCount {
			status = OutboxStatusDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			status, attempts, cause.Error(), nextRetryTime(time.Now(), attempts), id)
		if err != nil {
			return fmt.Errorf("failed to record delivery failure of %s: %w", id, err)
		}
		return nil
	})
}

// CountByStatus counts the events in any of statuses.
func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var n int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)`, statuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return n, nil
}

// nextRetryTime waits 2^attempts seconds after now, at most five minutes.
func nextRetryTime(now time.Time, attempts int) time.Time {
	wait := maxRedeliveryWait
	if attempts < 9 {
		wait = min(time.Duration(1<<attempts)*time.Second, maxRedeliveryWait)
	}
	return now.Add(wait)
}
