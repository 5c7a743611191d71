package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the health of the process and its collaborators.
type HealthHandler struct {
	db     *gorm.DB
	queue  services.TaskQueue
	runner *services.ScheduleRunner
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, runner *services.ScheduleRunner) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, runner: runner}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	scheduler := gin.H{"entries": 0, "last_refresh_at": nil}
	if h.runner != nil {
		scheduler["entries"] = h.runner.EntryCount()
		if t := h.runner.LastRefreshAt(); !t.IsZero() {
			scheduler["last_refresh_at"] = t
		}
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "backoffice",
		"components": gin.H{
			"database":   dbStatus,
			"queue_mode": queueMode,
			"scheduler":  scheduler,
		},
	})
}
