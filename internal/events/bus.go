package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tiket/internal/obs"
)

// ErrBusDisabled is returned by Emit when no task client is configured.
var ErrBusDisabled = errors.New("events: bus not configured")

// Event is the envelope carried by every queued task.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Enqueuer is the subset of *asynq.Client used by the bus.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Bus publishes domain events to the asynq task queue for the worker to fan out.
type Bus struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Emit encodes the event and enqueues it. Callers on the request path treat the
// returned error as non-fatal.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Client == nil {
		return Event{}, ErrBusDisabled
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	aggregateID = strings.TrimSpace(aggregateID)
	if aggregateID == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	ev := Event{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
		OccurredAt:  now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode envelope: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID)}
	if b.Queue != "" {
		opts = append(opts, asynq.Queue(b.Queue))
	}
	if b.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(b.MaxRetry))
	}
	if _, err := b.Client.EnqueueContext(ctx, asynq.NewTask(TaskType(topic), data), opts...); err != nil {
		obs.Inc(obs.EventsPublished, topic, "error")
		b.Logger.Warn().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("event_enqueue_failed")
		return Event{}, fmt.Errorf("events: enqueue: %w", err)
	}
	obs.Inc(obs.EventsPublished, topic, "ok")
	return ev, nil
}

// Decode extracts the event envelope from a queued task.
func Decode(task *asynq.Task) (Event, error) {
	if task == nil {
		return Event{}, errors.New("events: nil task")
	}
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return Event{}, fmt.Errorf("events: decode task %s: %w", task.Type(), err)
	}
	if ev.Topic == "" {
		ev.Topic = strings.TrimPrefix(task.Type(), taskTypePrefix)
	}
	return ev, nil
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return validJSON(v)
	case json.RawMessage:
		return validJSON(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		return validJSON([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func validJSON(v []byte) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(v) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), v...), nil
}
