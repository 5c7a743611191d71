package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/huangang/backoffice/backend/internal/config"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

// Worker processes scheduled tasks from the Redis queue
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	registry *TaskRegistry
	running  bool
	mu       sync.Mutex
}

// NewWorker creates a worker consuming the given queues.
func NewWorker(cfg *config.RedisConfig, queues []string, registry *TaskRegistry) *Worker {
	weights := map[string]int{DefaultQueueName: 1}
	for _, q := range queues {
		if q != "" {
			weights[q] = 1
		}
	}

	server := asynq.NewServer(
		redisClientOpt(cfg),
		asynq.Config{
			Concurrency: 10,
			Queues:      weights,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warnf("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server:   server,
		mux:      asynq.NewServeMux(),
		registry: registry,
	}
}

// Start begins processing tasks
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeScheduled, w.handleScheduledTask)

	logger.Infof("[Worker] Starting async worker...")
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.running = true
	return nil
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	logger.Infof("[Worker] Shutdown complete")
}

// Run starts the worker and stops it when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Worker) handleScheduledTask(ctx context.Context, t *asynq.Task) error {
	var task TaskPayload
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		logger.Warnf("[Worker] Failed to unmarshal task: %v", err)
		return err
	}

	logger.Debug().Str("task", task.TaskName).Str("key", task.TaskKey).Msg("[Worker] Processing task")
	err := w.registry.Dispatch(ctx, &task)
	if errors.Is(err, ErrUnknownTask) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
