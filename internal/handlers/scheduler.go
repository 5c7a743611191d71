package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/pkg/response"
)

type SchedulerHandler struct {
	runner *services.ScheduleRunner
}

func NewSchedulerHandler(runner *services.ScheduleRunner) *SchedulerHandler {
	return &SchedulerHandler{runner: runner}
}

type scheduleView struct {
	Entries       services.Schedule      `json:"entries"`
	Count         int                    `json:"count"`
	LastRefreshAt interface{}            `json:"last_refresh_at"`
	Diff          *services.ScheduleDiff `json:"diff,omitempty"`
}

// Schedule returns the currently applied schedule
// GET /api/scheduler/schedule
func (h *SchedulerHandler) Schedule(c *gin.Context) {
	current := h.runner.Current()
	response.Success(c, scheduleView{
		Entries:       current,
		Count:         len(current),
		LastRefreshAt: h.lastRefresh(),
	})
}

// Refresh re-materializes the schedule now
// POST /api/scheduler/refresh
func (h *SchedulerHandler) Refresh(c *gin.Context) {
	schedule, diff := h.runner.Refresh(c.Request.Context())
	response.Success(c, scheduleView{
		Entries:       schedule,
		Count:         len(schedule),
		LastRefreshAt: h.lastRefresh(),
		Diff:          &diff,
	})
}

func (h *SchedulerHandler) lastRefresh() interface{} {
	t := h.runner.LastRefreshAt()
	if t.IsZero() {
		return nil
	}
	return t
}
