package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/pandarank/pandarank-api/internal/pkg/logger"
)

// WorkerConfig sizes the worker.
type WorkerConfig struct {
	// Concurrency caps the number of tasks handled at once.
	Concurrency int
	// MaxDeliveries bounds how many times a failing task is handed out.
	MaxDeliveries int
}

// Worker pulls tasks from a broker and runs the handler registered for
// their kind on a bounded goroutine pool.
type Worker struct {
	broker   Broker
	cfg      WorkerConfig
	handlers map[string]Handler

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a worker for broker.
func NewWorker(broker Broker, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 1
	}
	return &Worker{
		broker:   broker,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Handle registers h for tasks of kind. Register before Start.
func (w *Worker) Handle(kind string, h Handler) {
	w.handlers[kind] = h
}

// Start begins consuming in the background.
func (w *Worker) Start(ctx context.Context) {
	log.Info().Int("concurrency", w.cfg.Concurrency).Msg("Task worker started")
	go w.run(ctx)
}

// Stop stops pulling new tasks and waits for in-flight ones to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
	log.Info().Msg("Task worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	pullCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-pullCtx.Done():
		}
	}()

	// Handlers outlive the pull loop: an accepted task runs to completion.
	taskCtx := context.WithoutCancel(ctx)

	p := pool.New().WithMaxGoroutines(w.cfg.Concurrency)
	defer p.Wait()

	for {
		task, err := w.broker.Dequeue(pullCtx)
		if pullCtx.Err() != nil {
			if task != nil {
				// Pulled during shutdown: hand it back untouched.
				w.giveBack(taskCtx, task)
			}
			return
		}
		if errors.Is(err, ErrQueueClosed) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("Task dequeue failed")
			select {
			case <-time.After(time.Second):
			case <-pullCtx.Done():
				return
			}
			continue
		}
		if task == nil {
			continue
		}

		p.Go(func() {
			w.process(taskCtx, task)
		})
	}
}

func (w *Worker) process(ctx context.Context, task *Task) {
	tlog := log.With().
		Int64("task_id", task.ID).
		Str("kind", task.Kind).
		Int("attempt", task.Attempt).
		Logger()
	// Handlers log through logger.FromContext and inherit the task fields.
	ctx = logger.WithContext(ctx, &tlog)

	defer func() {
		if err := w.broker.Ack(ctx, task); err != nil {
			tlog.Error().Err(err).Msg("Task ack failed")
		}
	}()

	handler, ok := w.handlers[task.Kind]
	if !ok {
		tlog.Warn().Msg("No handler registered, dropping task")
		return
	}

	start := time.Now()
	if err := w.call(ctx, handler, task); err != nil {
		if task.Attempt+1 < w.cfg.MaxDeliveries {
			tlog.Warn().Err(err).Msg("Task failed, scheduling redelivery")
			if rqErr := w.broker.Requeue(ctx, task); rqErr != nil {
				tlog.Error().Err(rqErr).Msg("Task requeue failed")
			}
			return
		}
		tlog.Error().Err(err).Msg("Task failed, delivery budget exhausted")
		return
	}

	tlog.Debug().Dur("took", time.Since(start)).Msg("Task done")
}

func (w *Worker) call(ctx context.Context, handler Handler, task *Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task handler panic: %v", rec)
		}
	}()
	return handler(ctx, task)
}

func (w *Worker) giveBack(ctx context.Context, task *Task) {
	retry := *task
	retry.Attempt--
	if err := w.broker.Requeue(ctx, &retry); err != nil {
		log.Error().Err(err).Int64("task_id", task.ID).Msg("Task give-back failed")
		return
	}
	_ = w.broker.Ack(ctx, task)
}
