package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/pkg/response"
)

type SystemLogHandler struct {
	systemLogService *services.SystemLogService
}

func NewSystemLogHandler(svc *services.SystemLogService) *SystemLogHandler {
	return &SystemLogHandler{systemLogService: svc}
}

// List returns audit and system log entries
// GET /api/system-logs
func (h *SystemLogHandler) List(c *gin.Context) {
	var req services.SystemLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		writeBindError(c, err)
		return
	}

	resp, err := h.systemLogService.List(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// GetModules lists the distinct modules seen in the log
// GET /api/system-logs/modules
func (h *SystemLogHandler) GetModules(c *gin.Context) {
	modules, err := h.systemLogService.GetModules()
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"modules": modules})
}
