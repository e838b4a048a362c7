package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ScheduleStatus is the schedule row's state machine:
// scheduled -> running -> completed | failed, scheduled -> cancelled.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

// Terminal reports whether the status ends an occurrence. A recurring
// schedule re-enters running on its next firing; the row keeps only the most
// recent transition.
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleStatusCompleted || s == ScheduleStatusFailed || s == ScheduleStatusCancelled
}

// Schedule is one persisted intent to publish a ContentItem at a specific
// time. Exactly one schedule row drives one timer job registration at a time.
type Schedule struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ContentItemID   uint           `gorm:"not null;index" json:"content_item_id"`
	ScheduledTime   time.Time      `gorm:"not null;index" json:"scheduled_time"`
	Status          ScheduleStatus `gorm:"size:50;default:'scheduled';index" json:"status"`
	Recurrence      string         `gorm:"size:100" json:"recurrence"`
	Priority        int            `gorm:"default:5" json:"priority"`
	Result          string         `gorm:"type:text" json:"result"`
	CalendarEventID string         `gorm:"size:64" json:"calendar_event_id"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	ContentItem ContentItem `gorm:"foreignKey:ContentItemID" json:"content_item"`
}

// Recurring reports whether the schedule re-fires on a cadence.
func (s *Schedule) Recurring() bool {
	return s.Recurrence != ""
}

// JobKind is "once" or "recurring" depending on the recurrence field.
func (s *Schedule) JobKind() string {
	if s.Recurring() {
		return "recurring"
	}
	return "once"
}

// JobID derives the deterministic timer job id for this schedule. Scheduling
// the same content item at the same time again produces the same id, so the
// engine's replace-existing semantics overwrite rather than duplicate.
func (s *Schedule) JobID() string {
	return fmt.Sprintf("%s_%d_%d", s.JobKind(), s.ContentItemID, s.ScheduledTime.Unix())
}

// ParseJobID is the inverse of JobID, splitting a timer job id back into its
// kind, owning content item and fire time (second precision).
func ParseJobID(id string) (kind string, contentItemID uint, at time.Time, err error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || (parts[0] != "once" && parts[0] != "recurring") {
		return "", 0, time.Time{}, fmt.Errorf("malformed job id %q", id)
	}
	itemID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed job id %q: %w", id, err)
	}
	epoch, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, time.Time{}, fmt.Errorf("malformed job id %q: %w", id, err)
	}
	return parts[0], uint(itemID), time.Unix(epoch, 0), nil
}
