package models

import "time"

const ScheduleTypeInterval = "interval"

// ScheduledTask is a database-defined periodic job. Only enabled interval
// rows are handed to the task execution engine.
type ScheduledTask struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"size:200;not null;uniqueIndex" json:"name"`
	TaskName        string     `gorm:"size:200;not null;index" json:"task_name"`
	ScheduleType    string     `gorm:"size:20;not null" json:"schedule_type"`
	IntervalSeconds int        `gorm:"not null" json:"interval_seconds"`
	ArgsJSON        JSON       `gorm:"column:args_json;type:text" json:"args"`   // JSON array
	KwargsJSON      JSON       `gorm:"column:kwargs_json;type:text" json:"kwargs"` // JSON object
	Enabled         bool       `gorm:"not null;index" json:"enabled"`
	Description     string     `gorm:"size:500" json:"description"`
	LastRunAt       *time.Time `json:"last_run_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (ScheduledTask) TableName() string { return "scheduled_tasks" }
