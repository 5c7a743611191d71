package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/backoffice/backend/internal/config"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

const (
	TaskTypeScheduled = "scheduled:run"
	DefaultQueueName  = "default"
)

// ErrUnknownTask is returned when no handler is registered for a task name.
var ErrUnknownTask = errors.New("unknown task")

// TaskPayload is one execution of a scheduled task.
type TaskPayload struct {
	TaskKey         string                 `json:"task_key"`
	ScheduledTaskID uint                   `json:"scheduled_task_id"`
	TaskName        string                 `json:"task_name"`
	Args            []interface{}          `json:"args"`
	Kwargs          map[string]interface{} `json:"kwargs"`
	EnqueuedAt      time.Time              `json:"enqueued_at"`
}

// TaskHandlerFunc executes one task.
type TaskHandlerFunc func(ctx context.Context, task *TaskPayload) error

// TaskRegistry maps task names to handlers.
type TaskRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandlerFunc
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{handlers: make(map[string]TaskHandlerFunc)}
}

func (r *TaskRegistry) Register(name string, fn TaskHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Names returns the registered task names in sorted order.
func (r *TaskRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the handler registered for task.TaskName.
func (r *TaskRegistry) Dispatch(ctx context.Context, task *TaskPayload) error {
	r.mu.RLock()
	fn, ok := r.handlers[task.TaskName]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, task.TaskName)
	}
	return fn(ctx, task)
}

// TaskQueue hands tasks to the execution engine.
type TaskQueue interface {
	// Enqueue adds a task to the named queue
	Enqueue(ctx context.Context, task *TaskPayload, queue string) error
	// IsAsync returns true if queue processes tasks asynchronously
	IsAsync() bool
	// Close gracefully shuts down the queue
	Close() error
}

// QueueRedisConfig picks the Redis connection for the task queue: the
// redis section when enabled, else the scheduler broker URL.
func QueueRedisConfig(cfg *config.Config, brokerURL string) (config.RedisConfig, bool) {
	if cfg.Redis.Enabled {
		return cfg.Redis, true
	}
	if brokerURL != "" {
		return config.ParseRedisURL(brokerURL), true
	}
	return config.RedisConfig{}, false
}

// NewTaskQueue returns an asynq-backed queue when Redis is reachable and an
// in-process queue otherwise.
func NewTaskQueue(redis config.RedisConfig, enabled bool, registry *TaskRegistry) TaskQueue {
	if enabled {
		queue, err := NewAsyncQueue(&redis)
		if err != nil {
			logger.Warnf("[TaskQueue] Redis unavailable, falling back to sync mode: %v", err)
		} else {
			logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", redis.Addr)
			return queue
		}
	} else {
		logger.Infof("[TaskQueue] Sync queue initialized (Redis disabled)")
	}
	queue := NewSyncQueue()
	queue.SetProcessor(registry.Dispatch)
	return queue
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)

	client := asynq.NewClient(redisOpt)

	// Verify the connection before committing to async mode.
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(ctx context.Context, task *TaskPayload, queue string) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	if queue == "" {
		queue = DefaultQueueName
	}

	t := asynq.NewTask(TaskTypeScheduled, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(queue),
		asynq.MaxRetry(3),
	)
	if err != nil {
		return err
	}

	logger.Debug().Str("id", info.ID).Str("queue", info.Queue).Str("task", task.TaskName).Msg("[AsyncQueue] Task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue implements TaskQueue in-process (no Redis)
type SyncQueue struct {
	processor TaskHandlerFunc
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function that runs tasks
func (q *SyncQueue) SetProcessor(processor TaskHandlerFunc) {
	q.processor = processor
}

// Enqueue runs the task on its own goroutine so the caller never blocks.
func (q *SyncQueue) Enqueue(ctx context.Context, task *TaskPayload, queue string) error {
	if q.processor == nil {
		logger.Warnf("[SyncQueue] no processor set, task %s dropped", task.TaskName)
		return nil
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(context.WithoutCancel(ctx), task); err != nil {
			logger.Warnf("[SyncQueue] Task %s failed: %v", task.TaskName, err)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for in-flight tasks.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
