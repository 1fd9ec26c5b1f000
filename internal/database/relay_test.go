package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := mockArgs.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Due(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return m.Called(ctx, id, cause).Error(0)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	args := m.Called(ctx, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// streamValue reads one field of an XADD call. Values is typed any on
// XAddArgs, so it has to be asserted back to the map the relay builds.
func streamValue(args *redis.XAddArgs, key string) any {
	values, ok := args.Values.(map[string]any)
	if !ok {
		return nil
	}
	return values[key]
}

func runEvent(runID string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "crawl_run",
		AggregateID:   runID,
		EventType:     "RUN_COMPLETED",
		Payload:       json.RawMessage(`{"run_id":"` + runID + `","shop":"Zooplus","mode":"products"}`),
		TargetStream:  DefaultTargetStream,
		CreatedAt:     time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC),
	}
}

func newTestRelay(r RedisClient, o OutboxRepo) *Relay {
	return NewRelay(o, r, quietLogger(), RelayConfig{BatchSize: 10})
}

func TestRelay_Flush(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers and marks every event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{runEvent("run-1"), runEvent("run-2")}
		mockOutbox.On("Due", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == DefaultTargetStream &&
					streamValue(args, "event_type") == "RUN_COMPLETED" &&
					streamValue(args, "aggregate_id") == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkDelivered", ctx, event.ID).Return(nil)
		}

		require.NoError(t, relay.Flush(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("records failed deliveries", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		event := runEvent("run-1")
		mockOutbox.On("Due", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "xadd to stream:pet_prices: redis connection failed"
		})).Return(nil)

		assert.NoError(t, relay.Flush(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
		mockOutbox.AssertNotCalled(t, "MarkDelivered", mock.Anything, mock.Anything)
	})

	t.Run("nothing due", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		mockOutbox.On("Due", ctx, 10).Return([]*OutboxEvent{}, nil)

		require.NoError(t, relay.Flush(ctx))
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("outbox read failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		mockOutbox.On("Due", ctx, 10).Return(nil, errors.New("pool closed"))

		err := relay.Flush(ctx)
		assert.ErrorContains(t, err, "failed to read outbox: pool closed")
		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("continues after a single failure", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := newTestRelay(mockRedis, mockOutbox)

		events := []*OutboxEvent{runEvent("run-1"), runEvent("run-2")}
		mockOutbox.On("Due", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValue(args, "aggregate_id") == "run-1"
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return streamValue(args, "aggregate_id") == "run-2"
		})).Return(nil)
		mockOutbox.On("MarkDelivered", ctx, events[1].ID).Return(nil)

		require.NoError(t, relay.Flush(ctx))

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})
}

func TestRelay_Message(t *testing.T) {
	relay := NewRelay(new(MockOutboxRepository), new(MockRedisClient), quietLogger(), RelayConfig{})
	event := runEvent("run-1")
	event.RetryCount = 2

	args := relay.message(event)

	assert.Equal(t, DefaultTargetStream, args.Stream)
	assert.Equal(t, event.ID.String(), streamValue(args, "event_id"))
	assert.Equal(t, "crawl_run", streamValue(args, "aggregate_type"))
	assert.Equal(t, "2024-05-01T03:00:00Z", streamValue(args, "created_at"))
	assert.Equal(t, "3", streamValue(args, "attempt"))
	assert.Equal(t, "pet-price-crawler", streamValue(args, "source"))

	payload, ok := streamValue(args, "payload").(string)
	require.True(t, ok)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	assert.Equal(t, "Zooplus", decoded["shop"])
	assert.Equal(t, "run-1", decoded["run_id"])
}

func TestStreamValueRequiresMapValues(t *testing.T) {
	assert.Equal(t, "x", streamValue(&redis.XAddArgs{Values: map[string]any{"k": "x"}}, "k"))
	assert.Nil(t, streamValue(&redis.XAddArgs{Values: []any{"k", "x"}}, "k"))
}

func TestRelay_Backlog(t *testing.T) {
	ctx := context.Background()
	mockOutbox := new(MockOutboxRepository)
	relay := newTestRelay(new(MockRedisClient), mockOutbox)

	mockOutbox.On("CountByStatus", ctx, []string{OutboxStatusPending, OutboxStatusFailed}).Return(int64(7), nil)
	mockOutbox.On("CountByStatus", ctx, []string{OutboxStatusDeadLetter}).Return(int64(1), nil)

	pending, dead, err := relay.Backlog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pending)
	assert.Equal(t, int64(1), dead)
}

func TestRelay_Start(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := NewRelay(mockOutbox, new(MockRedisClient), quietLogger(), RelayConfig{
		PollInterval: 50 * time.Millisecond,
		BatchSize:    10,
	})

	mockOutbox.On("Due", mock.Anything, 10).Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
	mockOutbox.AssertCalled(t, "Due", mock.Anything, 10)
}
