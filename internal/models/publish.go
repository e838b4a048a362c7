package models

import (
	"gorm.io/gorm"
	"time"
)

// PublishRecord is one publish attempt of a schedule occurrence on a single
// platform. A firing that targets three platforms writes three records.
type PublishRecord struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	ScheduleID  uint           `gorm:"not null;index" json:"schedule_id"`
	Platform    string         `gorm:"size:100;not null;index" json:"platform"`
	Success     bool           `gorm:"default:false" json:"success"`
	Detail      string         `gorm:"type:text" json:"detail"`
	Error       string         `gorm:"type:text" json:"error"`
	PublishedAt *time.Time     `json:"published_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	Schedule Schedule `gorm:"foreignKey:ScheduleID" json:"schedule"`
}
