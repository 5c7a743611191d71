package services

import (
	"context"
	"fmt"

	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

const TaskSystemLogsCleanup = "system_logs.cleanup"

// RegisterBuiltinTasks wires the handlers shipped with the service.
func RegisterBuiltinTasks(registry *TaskRegistry, cfg *SettingsService, logs *SystemLogService) {
	registry.Register(TaskSystemLogsCleanup, func(ctx context.Context, task *TaskPayload) error {
		retentionDays := int(cfg.Int(ctx, settings.DomainAudit, settings.AuditRetentionDays))
		if retentionDays <= 0 {
			logger.Debug().Msg("[SystemLog] Log cleanup disabled (retention_days <= 0)")
			return nil
		}

		deleted, err := logs.CleanupOldLogs(retentionDays)
		if err != nil {
			logger.Errorf("[SystemLog] Failed to cleanup old logs: %v", err)
			return err
		}
		if deleted > 0 {
			logger.Infof("[SystemLog] Cleaned up %d logs older than %d days", deleted, retentionDays)
			logs.Record("info", "scheduler", TaskSystemLogsCleanup,
				fmt.Sprintf("Cleaned up %d logs older than %d days", deleted, retentionDays),
				map[string]interface{}{"deleted": deleted, "retention_days": retentionDays})
		}
		return nil
	})
}
