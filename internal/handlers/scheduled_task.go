package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/pkg/response"
)

type ScheduledTaskHandler struct {
	taskService *services.ScheduledTaskService
	runner      *services.ScheduleRunner
	registry    *services.TaskRegistry
}

func NewScheduledTaskHandler(taskService *services.ScheduledTaskService, runner *services.ScheduleRunner, registry *services.TaskRegistry) *ScheduledTaskHandler {
	return &ScheduledTaskHandler{taskService: taskService, runner: runner, registry: registry}
}

// List returns paginated scheduled tasks
// GET /api/scheduled-tasks
func (h *ScheduledTaskHandler) List(c *gin.Context) {
	var req services.ScheduledTaskListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeBindError(c, err)
		return
	}
	resp, err := h.taskService.List(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// GetByID returns a scheduled task
// GET /api/scheduled-tasks/:id
func (h *ScheduledTaskHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	task, err := h.taskService.GetByID(id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, task)
}

// Create creates a scheduled task
// POST /api/scheduled-tasks
func (h *ScheduledTaskHandler) Create(c *gin.Context) {
	var req services.CreateScheduledTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if !h.knownTask(c, req.TaskName) {
		return
	}
	task, err := h.taskService.Create(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, task)
}

// Update updates a scheduled task
// PUT /api/scheduled-tasks/:id
func (h *ScheduledTaskHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.UpdateScheduledTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	if req.TaskName != "" && !h.knownTask(c, req.TaskName) {
		return
	}
	task, err := h.taskService.Update(id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, task)
}

// Delete deletes a scheduled task
// DELETE /api/scheduled-tasks/:id
func (h *ScheduledTaskHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.taskService.Delete(id); err != nil {
		writeError(c, err)
		return
	}
	response.NoContent(c)
}

// Run enqueues a task now, outside its schedule. Disabled tasks can be run
// manually.
// POST /api/scheduled-tasks/:id/run
func (h *ScheduledTaskHandler) Run(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	task, err := h.taskService.GetByID(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.runner.RunNow(c.Request.Context(), task); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"task_key": services.TaskKey(task.ID),
		"task":     task.TaskName,
		"enqueued": true,
	})
}

// TaskNames lists the registered task handlers
// GET /api/scheduled-tasks/task-names
func (h *ScheduledTaskHandler) TaskNames(c *gin.Context) {
	response.Success(c, h.registry.Names())
}

func (h *ScheduledTaskHandler) knownTask(c *gin.Context, name string) bool {
	if h.registry == nil {
		return true
	}
	for _, n := range h.registry.Names() {
		if n == name {
			return true
		}
	}
	response.Invalid(c, "task_name", "is not a registered task")
	return false
}
