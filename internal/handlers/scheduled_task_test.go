package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/config"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/internal/settings"
)

func newTaskRouter(t *testing.T) (*gin.Engine, chan *services.TaskPayload) {
	t.Helper()
	db := newTestDB(t)
	settingsSvc := services.NewSettingsService(db, settings.Catalog(), nil)
	tasks := services.NewScheduledTaskService(db)

	ran := make(chan *services.TaskPayload, 4)
	registry := services.NewTaskRegistry()
	registry.Register("reports.build", func(ctx context.Context, task *services.TaskPayload) error {
		ran <- task
		return nil
	})
	queue := services.NewTaskQueue(config.RedisConfig{}, false, registry)
	t.Cleanup(func() { queue.Close() })

	runner := services.NewScheduleRunner(services.NewMaterializer(tasks), queue, services.DefaultQueueName, tasks, settingsSvc)

	taskHandler := NewScheduledTaskHandler(tasks, runner, registry)
	schedulerHandler := NewSchedulerHandler(runner)

	r := gin.New()
	r.GET("/api/scheduled-tasks", taskHandler.List)
	r.GET("/api/scheduled-tasks/:id", taskHandler.GetByID)
	r.POST("/api/scheduled-tasks", taskHandler.Create)
	r.PUT("/api/scheduled-tasks/:id", taskHandler.Update)
	r.DELETE("/api/scheduled-tasks/:id", taskHandler.Delete)
	r.POST("/api/scheduled-tasks/:id/run", taskHandler.Run)
	r.GET("/api/scheduler/schedule", schedulerHandler.Schedule)
	r.POST("/api/scheduler/refresh", schedulerHandler.Refresh)
	return r, ran
}

func itoa(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func TestScheduledTaskHandler_CreateValidation(t *testing.T) {
	r, _ := newTaskRouter(t)

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"missing name", `{"task_name":"reports.build"}`, "name"},
		{"unregistered task", `{"name":"x","task_name":"nope"}`, "task_name"},
		{"args not a list", `{"name":"x","task_name":"reports.build","args":{"a":1}}`, "args"},
		{"kwargs not an object", `{"name":"x","task_name":"reports.build","kwargs":[1]}`, "kwargs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := serve(r, "POST", "/api/scheduled-tasks", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if env.Details.Field != tt.wantField {
				t.Errorf("field = %q, want %q", env.Details.Field, tt.wantField)
			}
		})
	}

	if w, _ := serve(r, "GET", "/api/scheduled-tasks/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id should be 400, got %d", w.Code)
	}
	if w, _ := serve(r, "GET", "/api/scheduled-tasks/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing task should be 404, got %d", w.Code)
	}
}

func TestScheduledTaskHandler_RefreshAndRun(t *testing.T) {
	r, ran := newTaskRouter(t)

	w, env := serve(r, "POST", "/api/scheduled-tasks",
		`{"name":"Nightly report","task_name":"reports.build","interval_seconds":60,"args":[1],"kwargs":{"team":"ops"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		ID uint `json:"id"`
	}
	_ = json.Unmarshal(env.Data, &created)

	w, env = serve(r, "POST", "/api/scheduler/refresh", "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", w.Code)
	}
	var view struct {
		Entries map[string]services.ScheduleEntry `json:"entries"`
		Count   int                               `json:"count"`
		Diff    services.ScheduleDiff             `json:"diff"`
	}
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	key := services.TaskKey(created.ID)
	entry, ok := view.Entries[key]
	if !ok || view.Count != 1 {
		t.Fatalf("schedule should contain %s, got %+v", key, view.Entries)
	}
	if entry.Task != "reports.build" || entry.IntervalSeconds != 60 {
		t.Errorf("unexpected entry %+v", entry)
	}
	if len(view.Diff.Added) != 1 || view.Diff.Added[0] != key {
		t.Errorf("diff should report the new task as added, got %+v", view.Diff)
	}

	if w, _ := serve(r, "POST", "/api/scheduled-tasks/"+itoa(created.ID)+"/run", ""); w.Code != http.StatusOK {
		t.Fatalf("run status = %d", w.Code)
	}
	select {
	case task := <-ran:
		if task.TaskKey != key || task.TaskName != "reports.build" {
			t.Errorf("unexpected payload %+v", task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task was not executed")
	}

	_, env = serve(r, "GET", "/api/scheduled-tasks/"+itoa(created.ID), "")
	var fetched struct {
		LastRunAt *time.Time `json:"last_run_at"`
	}
	_ = json.Unmarshal(env.Data, &fetched)
	if fetched.LastRunAt == nil {
		t.Error("run should stamp last_run_at")
	}

	serve(r, "PUT", "/api/scheduled-tasks/"+itoa(created.ID), `{"enabled":false}`)
	_, env = serve(r, "POST", "/api/scheduler/refresh", "")
	_ = json.Unmarshal(env.Data, &view)
	if view.Count != 0 || len(view.Diff.Removed) != 1 {
		t.Errorf("disabled task should leave the schedule, got count %d diff %+v", view.Count, view.Diff)
	}
}

func TestScheduledTaskHandler_Delete(t *testing.T) {
	r, _ := newTaskRouter(t)

	w, env := serve(r, "POST", "/api/scheduled-tasks", `{"name":"Cleanup","task_name":"reports.build","interval_seconds":300}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		ID uint `json:"id"`
	}
	_ = json.Unmarshal(env.Data, &created)

	w, _ = serve(r, "DELETE", "/api/scheduled-tasks/"+itoa(created.ID), "")
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("delete should be an empty 204, got %d %q", w.Code, w.Body.String())
	}
	if w, _ := serve(r, "GET", "/api/scheduled-tasks/"+itoa(created.ID), ""); w.Code != http.StatusNotFound {
		t.Errorf("deleted task should be 404, got %d", w.Code)
	}
}
