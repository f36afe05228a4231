package taskqueue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process broker. Tasks are lost on restart.
type MemoryQueue struct {
	tasks chan *Task
	poll  time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a broker holding up to size pending tasks.
// Enqueue past that fails with ErrQueueFull.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		tasks: make(chan *Task, size),
		poll:  time.Second,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, payload any) error {
	task, err := newTask(kind, payload)
	if err != nil {
		return err
	}
	return q.push(ctx, task)
}

func (q *MemoryQueue) Requeue(ctx context.Context, task *Task) error {
	next := *task
	next.Attempt++
	return q.push(ctx, &next)
}

// push never waits for room: handlers enqueue from inside the worker, and a
// blocked handler would hold the pool slot the drain needs.
func (q *MemoryQueue) push(ctx context.Context, task *Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	timer := time.NewTimer(q.poll)
	defer timer.Stop()

	select {
	case task, ok := <-q.tasks:
		if !ok {
			return nil, ErrQueueClosed
		}
		return task, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(context.Context, *Task) error {
	return nil
}

// Len reports the number of pending tasks.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Close stops accepting tasks. Pending tasks can still be dequeued.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}
