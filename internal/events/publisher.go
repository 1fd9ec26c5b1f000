package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/pet-price-crawler/internal/database"
	"github.com/maltedev/pet-price-crawler/internal/models"
)

type EventType string

const (
	// EventTypeRunCompleted is published when a links or products run finishes.
	EventTypeRunCompleted EventType = "RUN_COMPLETED"
	// EventTypeRunFailed is published when a run stops with an error.
	EventTypeRunFailed EventType = "RUN_FAILED"

	aggregateRun = "crawl_run"
)

// RunPayload is the body of run events on the stream.
type RunPayload struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id"`
	Shop      string          `json:"shop"`
	Mode      models.RunMode  `json:"mode"`
	Status    string          `json:"status"`
	Stats     models.RunStats `json:"stats"`
	Error     string          `json:"error,omitempty"`
	Source    string          `json:"source"`
}

// NewRunEvent builds the outbox record announcing run's final state. The
// caller writes it in the same transaction as the run's data.
func NewRunEvent(run *models.Run, stream string) (*database.OutboxEvent, error) {
	eventType := EventTypeRunCompleted
	if run.Status == models.RunStatusFailed {
		eventType = EventTypeRunFailed
	}

	payload := RunPayload{
		EventID:   uuid.New().String(),
		EventType: string(eventType),
		Timestamp: time.Now(),
		RunID:     run.ID,
		Shop:      run.Shop,
		Mode:      run.Mode,
		Status:    string(run.Status),
		Stats:     run.Stats,
		Error:     run.Error,
		Source:    "crawler",
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: aggregateRun,
		AggregateID:   run.ID,
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  stream,
	}, nil
}

type Transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxInserter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes run events through the transactional outbox. The relay
// forwards them to Redis.
type Publisher struct {
	db     Transactor
	outbox OutboxInserter
	stream string
	logger *slog.Logger
}

func NewPublisher(db Transactor, outbox OutboxInserter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &Publisher{
		db:     db,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) Stream() string {
	return p.stream
}

// PublishRun stores a run event in its own transaction. Runs that write data
// use NewRunEvent instead so the event commits with that data.
func (p *Publisher) PublishRun(ctx context.Context, run *models.Run) error {
	event, err := NewRunEvent(run, p.stream)
	if err != nil {
		return err
	}

	err = p.db.Transaction(ctx, func(tx pgx.Tx) error {
		return p.outbox.InsertWithTx(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", event.EventType,
		"run_id", run.ID,
		"shop", run.Shop,
		"outbox_id", event.ID,
	)

	return nil
}
