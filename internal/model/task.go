package model

import (
	"time"

	"gorm.io/gorm"
)

// Task status values.
const (
	TaskPending  = "PENDING"
	TaskRunning  = "RUNNING"
	TaskFinished = "FINISHED"
	TaskFailed   = "FAILED"
)

// ScanTask maps to the scan_tasks table: one operator submission on the queued path.
type ScanTask struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Target       string `gorm:"size:2048;not null" json:"target"`
	Status       string `gorm:"size:16;index" json:"status"`
	JobID        string `gorm:"size:64" json:"job_id,omitempty"`
	PollerState  string `gorm:"size:16" json:"poller_state,omitempty"`
	FeatureCount int    `json:"feature_count"`
	Error        string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
