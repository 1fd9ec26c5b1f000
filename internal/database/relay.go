package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRelayInterval  = 5 * time.Second
	defaultRelayBatchSize = 100
	defaultRelaySource    = "pet-price-crawler"
)

// RedisClient is the part of *redis.Client the relay writes through.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxRepo is implemented by *OutboxRepository.
type OutboxRepo interface {
	Due(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Source tags every stream message with the producing service.
	Source string
}

// Relay copies committed run events from the outbox to their Redis stream.
// Delivery is at least once: a crash between XADD and MarkDelivered sends
// the event again on the next poll.
type Relay struct {
	store  OutboxRepo
	redis  RedisClient
	cfg    RelayConfig
	logger *slog.Logger
}

func NewRelay(store OutboxRepo, client RedisClient, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultRelayInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRelayBatchSize
	}
	if cfg.Source == "" {
		cfg.Source = defaultRelaySource
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		store:  store,
		redis:  client,
		cfg:    cfg,
		logger: logger.With("component", "outbox_relay"),
	}
}

// Start delivers due events every PollInterval until ctx is done, beginning
// with one batch right away.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("outbox relay running",
		"poll_interval", r.cfg.PollInterval,
		"batch_size", r.cfg.BatchSize)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := r.Flush(ctx); err != nil {
			r.logger.Error("outbox poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Flush delivers one batch of due events. A failed event is rescheduled and
// does not stop the rest of the batch; only reading the outbox can fail.
func (r *Relay) Flush(ctx context.Context) error {
	due, err := r.store.Due(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to read outbox: %w", err)
	}

	delivered := 0
	for _, event := range due {
		if err := r.deliver(ctx, event); err != nil {
			r.logger.Warn("run event not delivered",
				"event_id", event.ID,
				"run_id", event.AggregateID,
				"attempt", event.RetryCount+1,
				"error", err)
			continue
		}
		delivered++
	}

	if len(due) > 0 {
		r.logger.Info("outbox batch relayed", "due", len(due), "delivered", delivered)
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) error {
	if _, err := r.redis.XAdd(ctx, r.message(event)).Result(); err != nil {
		err = fmt.Errorf("xadd to %s: %w", event.TargetStream, err)
		if markErr := r.store.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("delivery failure not recorded", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.store.MarkDelivered(ctx, event.ID); err != nil {
		return fmt.Errorf("delivered but not marked: %w", err)
	}

	r.logger.Debug("run event delivered",
		"event_id", event.ID,
		"event_type", event.EventType,
		"run_id", event.AggregateID,
		"stream", event.TargetStream)
	return nil
}

// message is the stream entry for event. The payload is forwarded as the
// JSON document the publisher stored.
func (r *Relay) message(event *OutboxEvent) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: event.TargetStream,
		Values: map[string]any{
			"event_id":       event.ID.String(),
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
			"attempt":        strconv.Itoa(event.RetryCount + 1),
			"source":         r.cfg.Source,
			"payload":        string(event.Payload),
		},
	}
}

// Backlog counts events still to be delivered and events given up on.
func (r *Relay) Backlog(ctx context.Context) (pending, deadLetter int64, err error) {
	if pending, err = r.store.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed); err != nil {
		return 0, 0, err
	}
	if deadLetter, err = r.store.CountByStatus(ctx, OutboxStatusDeadLetter); err != nil {
		return 0, 0, err
	}
	return pending, deadLetter, nil
}
