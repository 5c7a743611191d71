package main

import (
	"context"
	"fmt"

	"github.com/huangang/backoffice/backend/internal/config"
	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/secrets"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
	"gorm.io/gorm"
)

// appServices holds all initialized services needed by the application.
type appServices struct {
	db          *gorm.DB
	settings    *services.SettingsService
	auditPolicy *services.AuditPolicyCache
	systemLogs  *services.SystemLogService
	tasks       *services.ScheduledTaskService
	registry    *services.TaskRegistry
	taskQueue   services.TaskQueue
	worker      *services.Worker
	runner      *services.ScheduleRunner
	auth        *services.AuthService
}

// bootstrap initializes all application dependencies: database, settings,
// task queue, scheduler.
func bootstrap(ctx context.Context, cfg *config.Config) (*appServices, error) {
	db, err := models.InitDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	settingsSvc := services.NewSettingsService(db, settings.Catalog(), secrets.NewResolver(cfg.Vault))
	seeded, err := services.NewSettingsSeeder(settingsSvc).SeedAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed settings: %w", err)
	}
	logger.Infof("[Settings] Seeded %d missing settings", seeded)

	systemLogs := services.NewSystemLogService(db)

	tasks := services.NewScheduledTaskService(db)
	if err := tasks.EnsureDefaultTasks(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create default scheduled tasks")
	}

	registry := services.NewTaskRegistry()
	services.RegisterBuiltinTasks(registry, settingsSvc, systemLogs)

	// Use Redis if configured, otherwise run tasks in-process
	brokerURL := settingsSvc.String(ctx, settings.DomainScheduler, settings.SchedulerBrokerURL)
	redisCfg, redisEnabled := services.QueueRedisConfig(cfg, brokerURL)
	taskQueue := services.NewTaskQueue(redisCfg, redisEnabled, registry)

	// Read once: the worker subscribes to this queue and the runner must
	// keep enqueueing onto it until restart.
	queueName := settingsSvc.String(ctx, settings.DomainScheduler, settings.SchedulerDefaultQueue)

	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&redisCfg, []string{queueName}, registry)
	}

	runner := services.NewScheduleRunner(services.NewMaterializer(tasks), taskQueue, queueName, tasks, settingsSvc)

	auth := services.NewAuthService(db, settingsSvc)
	if err := auth.CreateAdminIfNotExists(cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}
	if err := auth.ConfigureJWT(ctx, cfg.JWT.Secret); err != nil {
		return nil, err
	}

	return &appServices{
		db:          db,
		settings:    settingsSvc,
		auditPolicy: services.NewAuditPolicyCache(settingsSvc, cfg.Audit.CacheTTL),
		systemLogs:  systemLogs,
		tasks:       tasks,
		registry:    registry,
		taskQueue:   taskQueue,
		worker:      worker,
		runner:      runner,
		auth:        auth,
	}, nil
}

// shutdown releases what the run group does not own.
func (s *appServices) shutdown() {
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info().Msg("All services stopped")
}
