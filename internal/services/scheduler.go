package services

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/huangang/backoffice/backend/internal/metrics"
	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
	"github.com/robfig/cron/v3"
)

// ScheduleEntry is one materialized periodic task.
type ScheduleEntry struct {
	TaskID          uint                   `json:"task_id"`
	Task            string                 `json:"task"`
	IntervalSeconds int                    `json:"schedule_interval_seconds"`
	Args            []interface{}          `json:"args"`
	Kwargs          map[string]interface{} `json:"kwargs"`
}

// Schedule maps task keys to entries.
type Schedule map[string]ScheduleEntry

// TaskKey derives the schedule key of a scheduled task row.
func TaskKey(id uint) string {
	return fmt.Sprintf("scheduled_task:%d", id)
}

// EnabledTaskLister reads the enabled scheduled task rows.
type EnabledTaskLister interface {
	ListEnabled() ([]models.ScheduledTask, error)
}

// Materializer turns scheduled task rows into a Schedule. It holds no state
// between calls.
type Materializer struct {
	tasks EnabledTaskLister
}

func NewMaterializer(tasks EnabledTaskLister) *Materializer {
	return &Materializer{tasks: tasks}
}

// Materialize never fails: a storage error is logged and yields an empty
// schedule.
func (m *Materializer) Materialize() Schedule {
	rows, err := m.tasks.ListEnabled()
	if err != nil {
		metrics.ScheduleMaterializations.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("[Scheduler] failed to load scheduled tasks, using empty schedule")
		return Schedule{}
	}

	schedule := make(Schedule, len(rows))
	for i := range rows {
		row := &rows[i]
		if !row.Enabled || row.ScheduleType != models.ScheduleTypeInterval {
			continue
		}
		schedule[TaskKey(row.ID)] = EntryFromTask(row)
	}
	metrics.ScheduleMaterializations.WithLabelValues("ok").Inc()
	return schedule
}

// EntryFromTask builds the schedule entry of a single row regardless of its
// enabled flag.
func EntryFromTask(row *models.ScheduledTask) ScheduleEntry {
	entry := ScheduleEntry{
		TaskID:          row.ID,
		Task:            row.TaskName,
		IntervalSeconds: row.IntervalSeconds,
		Args:            []interface{}{},
		Kwargs:          map[string]interface{}{},
	}
	if entry.IntervalSeconds < 1 {
		entry.IntervalSeconds = 1
	}

	var args []interface{}
	if err := row.ArgsJSON.Decode(&args); err != nil {
		logger.Warn().Err(err).Uint("task_id", row.ID).Msg("[Scheduler] ignoring malformed args")
	} else if args != nil {
		entry.Args = args
	}

	var kwargs map[string]interface{}
	if err := row.KwargsJSON.Decode(&kwargs); err != nil {
		logger.Warn().Err(err).Uint("task_id", row.ID).Msg("[Scheduler] ignoring malformed kwargs")
	} else if kwargs != nil {
		entry.Kwargs = kwargs
	}
	return entry
}

// ScheduleDiff lists the keys that changed between two schedules.
type ScheduleDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

func (d ScheduleDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffSchedules compares prev against next. Each list is sorted.
func DiffSchedules(prev, next Schedule) ScheduleDiff {
	d := ScheduleDiff{Added: []string{}, Removed: []string{}, Changed: []string{}}
	for key, entry := range next {
		old, ok := prev[key]
		switch {
		case !ok:
			d.Added = append(d.Added, key)
		case !reflect.DeepEqual(old, entry):
			d.Changed = append(d.Changed, key)
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			d.Removed = append(d.Removed, key)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// TaskRunMarker records when a task was last handed to the queue.
type TaskRunMarker interface {
	MarkRun(id uint, at time.Time) error
}

// SchedulerSettings is the slice of the settings service the runner reads.
type SchedulerSettings interface {
	Bool(ctx context.Context, domain settings.Domain, key string) bool
	Int(ctx context.Context, domain settings.Domain, key string) int64
	String(ctx context.Context, domain settings.Domain, key string) string
}

// ScheduleRunner keeps a cron instance in sync with the materialized
// schedule. Every refresh_seconds it re-materializes, diffs against the
// applied schedule and swaps only the entries that changed.
type ScheduleRunner struct {
	materializer *Materializer
	queue        TaskQueue
	queueName    string
	marker       TaskRunMarker
	settings     SchedulerSettings
	now          func() time.Time

	mu            sync.Mutex
	cron          *cron.Cron
	current       Schedule
	entries       map[string]cron.EntryID
	refreshEntry  cron.EntryID
	refreshEvery  int64
	lastRefreshAt time.Time
}

// NewScheduleRunner builds a runner that enqueues onto queueName. The name is
// fixed for the life of the runner so it always matches the queues the worker
// subscribed to at startup.
func NewScheduleRunner(m *Materializer, queue TaskQueue, queueName string, marker TaskRunMarker, s SchedulerSettings) *ScheduleRunner {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	l := logger.Get()
	return &ScheduleRunner{
		materializer: m,
		queue:        queue,
		queueName:    queueName,
		marker:       marker,
		settings:     s,
		now:          time.Now,
		cron:         cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(&l)))),
		current:      Schedule{},
		entries:      make(map[string]cron.EntryID),
	}
}

// Run applies the schedule, starts the timer and blocks until ctx is done.
func (r *ScheduleRunner) Run(ctx context.Context) error {
	r.Refresh(ctx)
	r.cron.Start()
	logger.Infof("[Scheduler] Started with %d entries", r.EntryCount())

	<-ctx.Done()
	<-r.cron.Stop().Done()
	logger.Infof("[Scheduler] Stopped")
	return nil
}

// Current returns a copy of the applied schedule.
func (r *ScheduleRunner) Current() Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyCurrent()
}

func (r *ScheduleRunner) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.current)
}

func (r *ScheduleRunner) LastRefreshAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefreshAt
}

// Refresh re-materializes and applies the schedule. With scheduler.enabled
// off the applied schedule is emptied.
func (r *ScheduleRunner) Refresh(ctx context.Context) (Schedule, ScheduleDiff) {
	next := Schedule{}
	if r.settings.Bool(ctx, settings.DomainScheduler, settings.SchedulerEnabled) {
		next = r.materializer.Materialize()
	}
	every := r.settings.Int(ctx, settings.DomainScheduler, settings.SchedulerRefreshSeconds)

	r.mu.Lock()
	defer r.mu.Unlock()

	diff := DiffSchedules(r.current, next)
	for _, key := range append(append([]string{}, diff.Removed...), diff.Changed...) {
		if id, ok := r.entries[key]; ok {
			r.cron.Remove(id)
			delete(r.entries, key)
		}
	}
	for _, key := range append(append([]string{}, diff.Added...), diff.Changed...) {
		entry := next[key]
		key := key
		id, err := r.cron.AddFunc(fmt.Sprintf("@every %ds", entry.IntervalSeconds), func() {
			r.fire(key)
		})
		if err != nil {
			logger.Error().Err(err).Str("key", key).Msg("[Scheduler] failed to add entry")
			delete(next, key)
			continue
		}
		r.entries[key] = id
	}
	r.current = next
	r.lastRefreshAt = r.now()
	r.scheduleRefresh(ctx, every)

	metrics.ScheduledEntries.Set(float64(len(next)))
	if !diff.Empty() {
		logger.Info().
			Strs("added", diff.Added).
			Strs("removed", diff.Removed).
			Strs("changed", diff.Changed).
			Msg("[Scheduler] schedule updated")
	}
	return r.copyCurrent(), diff
}

func (r *ScheduleRunner) copyCurrent() Schedule {
	out := make(Schedule, len(r.current))
	for k, v := range r.current {
		out[k] = v
	}
	return out
}

// scheduleRefresh (re)registers the refresh entry when the cadence setting
// changed. Callers hold r.mu.
func (r *ScheduleRunner) scheduleRefresh(ctx context.Context, every int64) {
	if every < 1 {
		every = 1
	}
	if r.refreshEntry != 0 && every == r.refreshEvery {
		return
	}
	if r.refreshEntry != 0 {
		r.cron.Remove(r.refreshEntry)
	}

	refreshCtx := context.WithoutCancel(ctx)
	id, err := r.cron.AddFunc(fmt.Sprintf("@every %ds", every), func() {
		r.Refresh(refreshCtx)
	})
	if err != nil {
		logger.Error().Err(err).Msg("[Scheduler] failed to schedule refresh")
		return
	}
	r.refreshEntry = id
	r.refreshEvery = every
}

func (r *ScheduleRunner) fire(key string) {
	r.mu.Lock()
	entry, ok := r.current[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.Enqueue(context.Background(), key, entry); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("[Scheduler] enqueue failed")
	}
}

// Enqueue hands one entry to the task queue and stamps last_run_at.
func (r *ScheduleRunner) Enqueue(ctx context.Context, key string, entry ScheduleEntry) error {
	payload := &TaskPayload{
		TaskKey:         key,
		ScheduledTaskID: entry.TaskID,
		TaskName:        entry.Task,
		Args:            entry.Args,
		Kwargs:          entry.Kwargs,
		EnqueuedAt:      r.now(),
	}

	if err := r.queue.Enqueue(ctx, payload, r.queueName); err != nil {
		metrics.TasksEnqueued.WithLabelValues(entry.Task, "error").Inc()
		return err
	}
	metrics.TasksEnqueued.WithLabelValues(entry.Task, "ok").Inc()

	if r.marker != nil {
		if err := r.marker.MarkRun(entry.TaskID, payload.EnqueuedAt); err != nil {
			logger.Warn().Err(err).Uint("task_id", entry.TaskID).Msg("[Scheduler] failed to stamp last_run_at")
		}
	}
	return nil
}

// RunNow enqueues a task immediately, outside its schedule.
func (r *ScheduleRunner) RunNow(ctx context.Context, task *models.ScheduledTask) error {
	return r.Enqueue(ctx, TaskKey(task.ID), EntryFromTask(task))
}
