package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxEvent_Validate(t *testing.T) {
	valid := OutboxEvent{
		AggregateType: "crawl_run",
		AggregateID:   "run-1",
		EventType:     "RUN_COMPLETED",
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*OutboxEvent)
	}{
		{"missing aggregate type", func(e *OutboxEvent) { e.AggregateType = "" }},
		{"missing aggregate id", func(e *OutboxEvent) { e.AggregateID = "" }},
		{"missing event type", func(e *OutboxEvent) { e.EventType = "" }},
		{"missing payload", func(e *OutboxEvent) { e.Payload = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event := valid
			tc.mutate(&event)
			err := event.Validate()
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.ErrorContains(t, err, tc.name)
		})
	}
}

func TestNextRetryTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(2*time.Second), nextRetryTime(now, 1))
	assert.Equal(t, now.Add(16*time.Second), nextRetryTime(now, 4))
	assert.Equal(t, now.Add(256*time.Second), nextRetryTime(now, 8))
	assert.Equal(t, now.Add(300*time.Second), nextRetryTime(now, 9))
	assert.Equal(t, now.Add(300*time.Second), nextRetryTime(now, 70))
}

func TestOutboxRepository_Roundtrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "crawl_run",
		AggregateID:   uuid.NewString(),
		EventType:     "RUN_COMPLETED",
		Payload:       json.RawMessage(`{"shop":"Zooplus"}`),
	}

	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, OutboxStatusPending, event.Status)
	assert.Equal(t, DefaultTargetStream, event.TargetStream)

	pending, err := repo.Due(ctx, 100)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, event.ID))

	require.NoError(t, repo.MarkDelivered(ctx, event.ID))

	pending, err = repo.Due(ctx, 100)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID))
}

func TestOutboxRepository_RollbackDiscardsEvent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "crawl_run",
		AggregateID:   uuid.NewString(),
		EventType:     "RUN_COMPLETED",
		Payload:       json.RawMessage(`{}`),
	}

	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := repo.InsertWithTx(ctx, tx, event); err != nil {
			return err
		}
		return pgx.ErrTxClosed
	})
	require.Error(t, err)

	pending, err := repo.Due(ctx, 100)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, event.ID))
}

func containsEvent(events []*OutboxEvent, id uuid.UUID) bool {
	for _, e := range events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// setupTestDB connects using the TEST_DB_* variables and applies the
// schema. Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("Test database not configured")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{
		Host:     host,
		Port:     5432,
		User:     envOr("TEST_DB_USER", "postgres"),
		Password: os.Getenv("TEST_DB_PASSWORD"),
		Database: envOr("TEST_DB_NAME", "pet_prices_test"),
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Migrate(ctx))
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestOutboxRepository_DeadLetterAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewOutboxRepository(db)

	event := &OutboxEvent{
		AggregateType: "crawl_run",
		AggregateID:   uuid.NewString(),
		EventType:     "RUN_FAILED",
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	cause := errors.New("redis down")
	for i := 1; i <= MaxRetryCount; i++ {
		require.NoError(t, repo.MarkFailed(ctx, event.ID, cause))

		var status string
		var attempts int
		require.NoError(t, db.QueryRow(ctx,
			`SELECT status, retry_count FROM outbox_event WHERE id = $1`, event.ID).Scan(&status, &attempts))
		assert.Equal(t, i, attempts)
		if i < MaxRetryCount {
			assert.Equal(t, OutboxStatusFailed, status)
		} else {
			assert.Equal(t, OutboxStatusDeadLetter, status)
		}
	}

	assert.Error(t, repo.MarkFailed(ctx, uuid.New(), cause))
}
