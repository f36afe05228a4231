// Package taskqueue runs deferred work outside the request that scheduled it.
//
// Delivery is at-least-once: a task may be handed to its handler more than
// once (after a crash or a handler error), so handlers must be idempotent.
// There is no ordering guarantee between tasks.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pandarank/pandarank-api/internal/pkg/snowflake"
)

var (
	ErrQueueClosed = errors.New("task queue closed")
	ErrQueueFull   = errors.New("task queue full")
)

// Task is one unit of deferred work.
type Task struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// raw is the exact stored form, needed to acknowledge Redis deliveries.
	raw string
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// Handler processes one task. A returned error schedules a redelivery while
// the delivery budget lasts.
type Handler func(ctx context.Context, task *Task) error

// Queue is the producer side used by services.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload any) error
}

// Broker is a queue backend consumed by Worker.
type Broker interface {
	Queue
	// Dequeue waits for the next task. It returns (nil, nil) when its poll
	// window elapses without work.
	Dequeue(ctx context.Context) (*Task, error)
	// Ack removes a delivered task for good.
	Ack(ctx context.Context, task *Task) error
	// Requeue schedules another delivery of task.
	Requeue(ctx context.Context, task *Task) error
}

func newTask(kind string, payload any) (*Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Task{
		ID:         snowflake.GenID(),
		Kind:       kind,
		Payload:    body,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}
