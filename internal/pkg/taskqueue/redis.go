package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pandarank/pandarank-api/internal/pkg/secure"
)

// RedisQueue keeps tasks in a Redis list. A delivered task is moved atomically
// to a processing list and removed only on Ack, so tasks held by a crashed
// process are put back by Recover.
type RedisQueue struct {
	client     *redis.Client
	pending    string
	processing string
	box        *secure.Box
	poll       time.Duration
}

// NewRedisQueue creates a broker on the given key. When box is non-nil every
// stored task is sealed.
func NewRedisQueue(client *redis.Client, key string, box *secure.Box) *RedisQueue {
	return &RedisQueue{
		client:     client,
		pending:    key + ":pending",
		processing: key + ":processing",
		box:        box,
		poll:       5 * time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, kind string, payload any) error {
	task, err := newTask(kind, payload)
	if err != nil {
		return err
	}
	return q.push(ctx, task)
}

func (q *RedisQueue) Requeue(ctx context.Context, task *Task) error {
	next := *task
	next.Attempt++
	next.raw = ""
	return q.push(ctx, &next)
}

func (q *RedisQueue) push(ctx context.Context, task *Task) error {
	raw, err := q.encode(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pending, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Kind, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.poll).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task, err := q.decode(raw)
	if err != nil {
		// Unreadable entries would be redelivered forever.
		q.client.LRem(ctx, q.processing, 1, raw)
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}

func (q *RedisQueue) Ack(ctx context.Context, task *Task) error {
	if task.raw == "" {
		return nil
	}
	return q.client.LRem(ctx, q.processing, 1, task.raw).Err()
}

// Recover moves tasks left in the processing list back to pending. Call it
// once at start-up before any worker runs.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		log.Warn().Int("tasks", moved).Str("queue", q.pending).Msg("Recovered unacknowledged tasks")
	}
	return moved, nil
}

func (q *RedisQueue) encode(task *Task) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	if q.box != nil {
		if body, err = q.box.Seal(body); err != nil {
			return "", err
		}
	}
	return string(body), nil
}

func (q *RedisQueue) decode(raw string) (*Task, error) {
	body := []byte(raw)
	if q.box != nil {
		var err error
		if body, err = q.box.Open(body); err != nil {
			return nil, err
		}
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, err
	}
	task.raw = raw
	return &task, nil
}
