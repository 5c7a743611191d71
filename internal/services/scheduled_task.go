package services

import (
	"errors"
	"time"

	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/settings"
	"gorm.io/gorm"
)

type ScheduledTaskService struct {
	db *gorm.DB
}

func NewScheduledTaskService(db *gorm.DB) *ScheduledTaskService {
	return &ScheduledTaskService{db: db}
}

type ScheduledTaskListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
	TaskName string `form:"task_name"`
	Enabled  *bool  `form:"enabled"`
}

type ScheduledTaskListResponse struct {
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
	Items    []models.ScheduledTask `json:"items"`
}

type CreateScheduledTaskRequest struct {
	Name            string      `json:"name" binding:"required,max=200"`
	TaskName        string      `json:"task_name" binding:"required,max=200"`
	ScheduleType    string      `json:"schedule_type" binding:"omitempty,max=20"`
	IntervalSeconds int         `json:"interval_seconds"`
	Args            models.JSON `json:"args"`
	Kwargs          models.JSON `json:"kwargs"`
	Enabled         *bool       `json:"enabled"`
	Description     string      `json:"description" binding:"max=500"`
}

type UpdateScheduledTaskRequest struct {
	Name            string      `json:"name" binding:"max=200"`
	TaskName        string      `json:"task_name" binding:"max=200"`
	ScheduleType    string      `json:"schedule_type" binding:"omitempty,max=20"`
	IntervalSeconds *int        `json:"interval_seconds"`
	Args            models.JSON `json:"args"`
	Kwargs          models.JSON `json:"kwargs"`
	Enabled         *bool       `json:"enabled"`
	Description     *string     `json:"description" binding:"omitempty,max=500"`
}

func validateTaskArgs(args, kwargs models.JSON) error {
	if !args.IsNull() {
		var list []interface{}
		if err := args.Decode(&list); err != nil {
			return &settings.ValidationError{Field: "args", Reason: "must be a JSON array"}
		}
	}
	if !kwargs.IsNull() {
		var obj map[string]interface{}
		if err := kwargs.Decode(&obj); err != nil {
			return &settings.ValidationError{Field: "kwargs", Reason: "must be a JSON object"}
		}
	}
	return nil
}

// List returns paginated scheduled tasks
func (s *ScheduledTaskService) List(req *ScheduledTaskListRequest) (*ScheduledTaskListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	var tasks []models.ScheduledTask
	var total int64

	query := s.db.Model(&models.ScheduledTask{})

	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}
	if req.TaskName != "" {
		query = query.Where("task_name = ?", req.TaskName)
	}
	if req.Enabled != nil {
		query = query.Where("enabled = ?", *req.Enabled)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}

	return &ScheduledTaskListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    tasks,
	}, nil
}

// GetByID returns a scheduled task by ID
func (s *ScheduledTaskService) GetByID(id uint) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	if err := s.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListEnabled returns every enabled task in id order.
func (s *ScheduledTaskService) ListEnabled() ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	if err := s.db.Where("enabled = ?", true).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Create creates a new scheduled task
func (s *ScheduledTaskService) Create(req *CreateScheduledTaskRequest) (*models.ScheduledTask, error) {
	if err := validateTaskArgs(req.Args, req.Kwargs); err != nil {
		return nil, err
	}

	task := models.ScheduledTask{
		Name:            req.Name,
		TaskName:        req.TaskName,
		ScheduleType:    req.ScheduleType,
		IntervalSeconds: req.IntervalSeconds,
		ArgsJSON:        req.Args,
		KwargsJSON:      req.Kwargs,
		Enabled:         true,
		Description:     req.Description,
	}
	if task.ScheduleType == "" {
		task.ScheduleType = models.ScheduleTypeInterval
	}
	if task.IntervalSeconds < 1 {
		task.IntervalSeconds = 1
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}

	if err := s.db.Create(&task).Error; err != nil {
		return nil, err
	}

	return &task, nil
}

// Update updates a scheduled task
func (s *ScheduledTaskService) Update(id uint, req *UpdateScheduledTaskRequest) (*models.ScheduledTask, error) {
	task, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	if err := validateTaskArgs(req.Args, req.Kwargs); err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})

	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.TaskName != "" {
		updates["task_name"] = req.TaskName
	}
	if req.ScheduleType != "" {
		updates["schedule_type"] = req.ScheduleType
	}
	if req.IntervalSeconds != nil {
		interval := *req.IntervalSeconds
		if interval < 1 {
			interval = 1
		}
		updates["interval_seconds"] = interval
	}
	if req.Args != nil {
		updates["args_json"] = req.Args
	}
	if req.Kwargs != nil {
		updates["kwargs_json"] = req.Kwargs
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}

	if len(updates) > 0 {
		if err := s.db.Model(task).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	return s.GetByID(id)
}

// Delete deletes a scheduled task
func (s *ScheduledTaskService) Delete(id uint) error {
	result := s.db.Delete(&models.ScheduledTask{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRun stamps last_run_at.
func (s *ScheduledTaskService) MarkRun(id uint, at time.Time) error {
	return s.db.Model(&models.ScheduledTask{}).Where("id = ?", id).Update("last_run_at", at).Error
}

// EnsureDefaultTasks creates the built-in periodic tasks when absent. An
// existing row with the same name is left as the operator configured it.
func (s *ScheduledTaskService) EnsureDefaultTasks() error {
	defaults := []models.ScheduledTask{
		{
			Name:            "System log cleanup",
			TaskName:        TaskSystemLogsCleanup,
			ScheduleType:    models.ScheduleTypeInterval,
			IntervalSeconds: 24 * 60 * 60,
			Enabled:         true,
			Description:     "Deletes system logs older than audit.retention_days",
		},
	}
	for i := range defaults {
		task := defaults[i]
		var existing models.ScheduledTask
		err := s.db.Where("name = ?", task.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := s.db.Create(&task).Error; err != nil {
			return err
		}
	}
	return nil
}
