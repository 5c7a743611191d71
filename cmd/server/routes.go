package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/handlers"
	"github.com/huangang/backoffice/backend/internal/middleware"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
)

const defaultLoginRateLimit = 10

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinRecovery(), middleware.RequestID(), logger.GinLogger())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.auditPolicy.Policy(context.Background()).ReadTriggerHeader))
	r.Use(middleware.AuditLog(svc.auditPolicy, svc.systemLogs))

	healthHandler := handlers.NewHealthHandler(svc.db, svc.taskQueue, svc.runner)
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics(svc.db, svc.taskQueue))

	authHandler := handlers.NewAuthHandler(svc.auth)
	loginLimit := middleware.PerMinuteRateLimit(func(ctx context.Context) int64 {
		return svc.settings.Int(ctx, settings.DomainAuth, settings.AuthLoginRateLimitMin)
	}, defaultLoginRateLimit)

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/auth/login", loginLimit, authHandler.Login)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.PUT("/auth/password", authHandler.ChangePassword)
		}

		// Admin routes
		admin := protected.Group("")
		admin.Use(middleware.AdminRequired())
		{
			// Settings
			settingsHandler := handlers.NewSettingsHandler(svc.settings, svc.auditPolicy)
			admin.GET("/settings/:domain", settingsHandler.List)
			admin.GET("/settings/:domain/specs", settingsHandler.Specs)
			admin.GET("/settings/:domain/:key", settingsHandler.Get)
			admin.PUT("/settings/:domain/:key", settingsHandler.Upsert)
			admin.DELETE("/settings/:domain/:key", settingsHandler.Delete)

			// Scheduled tasks
			taskHandler := handlers.NewScheduledTaskHandler(svc.tasks, svc.runner, svc.registry)
			admin.GET("/scheduled-tasks", taskHandler.List)
			admin.GET("/scheduled-tasks/task-names", taskHandler.TaskNames)
			admin.GET("/scheduled-tasks/:id", taskHandler.GetByID)
			admin.POST("/scheduled-tasks", taskHandler.Create)
			admin.PUT("/scheduled-tasks/:id", taskHandler.Update)
			admin.DELETE("/scheduled-tasks/:id", taskHandler.Delete)
			admin.POST("/scheduled-tasks/:id/run", taskHandler.Run)

			// Scheduler
			schedulerHandler := handlers.NewSchedulerHandler(svc.runner)
			admin.GET("/scheduler/schedule", schedulerHandler.Schedule)
			admin.POST("/scheduler/refresh", schedulerHandler.Refresh)

			// System Logs
			systemLogHandler := handlers.NewSystemLogHandler(svc.systemLogs)
			admin.GET("/system-logs", systemLogHandler.List)
			admin.GET("/system-logs/modules", systemLogHandler.GetModules)

			// Users
			userHandler := handlers.NewUserHandler(svc.db, svc.auth)
			admin.GET("/users", userHandler.List)
			admin.POST("/users", userHandler.Create)
			admin.PUT("/users/:id", userHandler.Update)
			admin.DELETE("/users/:id", userHandler.Delete)
		}
	}
}
