package models

import (
	"time"
)

// SystemStats is the daily rollup of scheduler activity.
type SystemStats struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Date               time.Time `gorm:"uniqueIndex;not null" json:"date"`
	TotalContentItems  int       `gorm:"default:0" json:"total_content_items"`
	TotalSchedules     int       `gorm:"default:0" json:"total_schedules"`
	PendingSchedules   int       `gorm:"default:0" json:"pending_schedules"`
	CompletedSchedules int       `gorm:"default:0" json:"completed_schedules"`
	FailedSchedules    int       `gorm:"default:0" json:"failed_schedules"`
	CancelledSchedules int       `gorm:"default:0" json:"cancelled_schedules"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlatformStats is the daily rollup of publish outcomes per platform.
type PlatformStats struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Date                time.Time  `gorm:"index;not null" json:"date"`
	Platform            string     `gorm:"size:100;not null;index" json:"platform"`
	TotalPublishes      int        `gorm:"default:0" json:"total_publishes"`
	SuccessfulPublishes int        `gorm:"default:0" json:"successful_publishes"`
	FailedPublishes     int        `gorm:"default:0" json:"failed_publishes"`
	LastSuccessAt       *time.Time `json:"last_success_at"`
	LastFailureAt       *time.Time `json:"last_failure_at"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrorLog keeps operational errors queryable alongside the schedules that
// produced them.
type ErrorLog struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Level         string     `gorm:"size:20;not null;index" json:"level"`
	Source        string     `gorm:"size:100;not null;index" json:"source"`
	Platform      string     `gorm:"size:100;index" json:"platform"`
	ScheduleID    *uint      `gorm:"index" json:"schedule_id"`
	ContentItemID *uint      `gorm:"index" json:"content_item_id"`
	Title         string     `gorm:"size:500;not null" json:"title"`
	Message       string     `gorm:"type:text;not null" json:"message"`
	StackTrace    string     `gorm:"type:text" json:"stack_trace"`
	Context       string     `gorm:"type:jsonb" json:"context"`
	Resolved      bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt    *time.Time `json:"resolved_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Schedule    *Schedule    `gorm:"foreignKey:ScheduleID" json:"schedule,omitempty"`
	ContentItem *ContentItem `gorm:"foreignKey:ContentItemID" json:"content_item,omitempty"`
}

// MetricsSample is one observed metric value.
type MetricsSample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MetricName string    `gorm:"size:100;not null;index" json:"metric_name"`
	MetricType string    `gorm:"size:50;not null" json:"metric_type"`
	Value      float64   `gorm:"not null" json:"value"`
	Tags       string    `gorm:"type:jsonb" json:"tags"`
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
