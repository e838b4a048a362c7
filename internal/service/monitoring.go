package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/slotline/slotline/internal/models"
)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
	}
}

// ErrorLogOption attaches optional context to a recorded error.
type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(platform string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.Platform = platform
	}
}

func WithSchedule(scheduleID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ScheduleID = &scheduleID
	}
}

func WithContentItem(contentItemID uint) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ContentItemID = &contentItemID
	}
}

func WithStackTrace(stackTrace string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.StackTrace = stackTrace
	}
}

func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}

// RecordError persists an operational error so failures survive restarts and
// log rotation. Recording is best-effort; callers log the returned error and
// move on.
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	for _, option := range options {
		option(errorLog)
	}

	return m.db.Create(errorLog).Error
}

// ResolveError marks a recorded error as handled.
func (m *MonitoringService) ResolveError(id uint) error {
	now := time.Now()
	res := m.db.Model(&models.ErrorLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordMetric stores one metric observation.
func (m *MonitoringService) RecordMetric(name, metricType string, value float64, tags map[string]interface{}) error {
	var tagsJSON string
	if tags != nil {
		if tagsBytes, err := json.Marshal(tags); err == nil {
			tagsJSON = string(tagsBytes)
		}
	}

	metric := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Tags:       tagsJSON,
		Timestamp:  time.Now(),
	}

	return m.db.Create(metric).Error
}

// UpdateSystemStats upserts today's rollup row of content and schedule
// counts.
func (m *MonitoringService) UpdateSystemStats() error {
	today := time.Now().Truncate(24 * time.Hour)

	var totalItems int64
	m.db.Model(&models.ContentItem{}).Count(&totalItems)

	var totalSchedules, pending, completed, failed, cancelled int64
	m.db.Model(&models.Schedule{}).Count(&totalSchedules)
	m.db.Model(&models.Schedule{}).Where("status = ?", models.ScheduleStatusScheduled).Count(&pending)
	m.db.Model(&models.Schedule{}).Where("status = ?", models.ScheduleStatusCompleted).Count(&completed)
	m.db.Model(&models.Schedule{}).Where("status = ?", models.ScheduleStatusFailed).Count(&failed)
	m.db.Model(&models.Schedule{}).Where("status = ?", models.ScheduleStatusCancelled).Count(&cancelled)

	var stats models.SystemStats
	result := m.db.Where("date = ?", today).First(&stats)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		stats = models.SystemStats{
			Date:               today,
			TotalContentItems:  int(totalItems),
			TotalSchedules:     int(totalSchedules),
			PendingSchedules:   int(pending),
			CompletedSchedules: int(completed),
			FailedSchedules:    int(failed),
			CancelledSchedules: int(cancelled),
		}
		return m.db.Create(&stats).Error
	} else if result.Error != nil {
		return result.Error
	}

	return m.db.Model(&stats).Updates(map[string]interface{}{
		"total_content_items": totalItems,
		"total_schedules":     totalSchedules,
		"pending_schedules":   pending,
		"completed_schedules": completed,
		"failed_schedules":    failed,
		"cancelled_schedules": cancelled,
	}).Error
}

// UpdatePlatformStats upserts today's per-platform rollup from the publish
// records written since midnight.
func (m *MonitoringService) UpdatePlatformStats() error {
	today := time.Now().Truncate(24 * time.Hour)

	var platforms []string
	if err := m.db.Model(&models.PublishRecord{}).
		Where("created_at >= ?", today).
		Distinct().
		Pluck("platform", &platforms).Error; err != nil {
		return err
	}

	for _, platform := range platforms {
		var total, successful, failed int64
		m.db.Model(&models.PublishRecord{}).
			Where("platform = ? AND created_at >= ?", platform, today).Count(&total)
		m.db.Model(&models.PublishRecord{}).
			Where("platform = ? AND created_at >= ? AND success = ?", platform, today, true).Count(&successful)
		m.db.Model(&models.PublishRecord{}).
			Where("platform = ? AND created_at >= ? AND success = ?", platform, today, false).Count(&failed)

		var lastSuccess, lastFailure models.PublishRecord
		m.db.Where("platform = ? AND success = ?", platform, true).
			Order("created_at desc").Limit(1).Find(&lastSuccess)
		m.db.Where("platform = ? AND success = ?", platform, false).
			Order("created_at desc").Limit(1).Find(&lastFailure)

		var stats models.PlatformStats
		result := m.db.Where("date = ? AND platform = ?", today, platform).First(&stats)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			stats = models.PlatformStats{
				Date:                today,
				Platform:            platform,
				TotalPublishes:      int(total),
				SuccessfulPublishes: int(successful),
				FailedPublishes:     int(failed),
			}
			if lastSuccess.ID != 0 {
				stats.LastSuccessAt = publishTime(&lastSuccess)
			}
			if lastFailure.ID != 0 {
				t := lastFailure.CreatedAt
				stats.LastFailureAt = &t
			}
			if err := m.db.Create(&stats).Error; err != nil {
				return err
			}
			continue
		} else if result.Error != nil {
			return result.Error
		}

		updates := map[string]interface{}{
			"total_publishes":      total,
			"successful_publishes": successful,
			"failed_publishes":     failed,
		}
		if lastSuccess.ID != 0 {
			updates["last_success_at"] = publishTime(&lastSuccess)
		}
		if lastFailure.ID != 0 {
			updates["last_failure_at"] = lastFailure.CreatedAt
		}
		if err := m.db.Model(&stats).Updates(updates).Error; err != nil {
			return err
		}
	}

	return nil
}

// publishTime prefers the platform-reported publish time over the row's
// creation time.
func publishTime(r *models.PublishRecord) *time.Time {
	if r.PublishedAt != nil {
		return r.PublishedAt
	}
	t := r.CreatedAt
	return &t
}

// GetRecentErrors returns the newest error logs with their schedule and
// content item attached.
func (m *MonitoringService) GetRecentErrors(limit int) ([]models.ErrorLog, error) {
	var errs []models.ErrorLog
	err := m.db.Preload("Schedule").Preload("ContentItem").
		Order("created_at desc").
		Limit(limit).
		Find(&errs).Error
	return errs, err
}

// GetSystemStats returns daily rollups for the last days, newest first.
func (m *MonitoringService) GetSystemStats(days int) ([]models.SystemStats, error) {
	startDate := time.Now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	var stats []models.SystemStats
	err := m.db.Where("date >= ?", startDate).
		Order("date desc").
		Find(&stats).Error
	return stats, err
}

// GetPlatformStats returns per-platform rollups for the last days.
func (m *MonitoringService) GetPlatformStats(days int) ([]models.PlatformStats, error) {
	startDate := time.Now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	var stats []models.PlatformStats
	err := m.db.Where("date >= ?", startDate).
		Order("date desc, platform").
		Find(&stats).Error
	return stats, err
}

// CleanupOldData removes rollups, metric samples and resolved errors older
// than the retention window. Unresolved errors are kept until someone looks
// at them.
func (m *MonitoringService) CleanupOldData(daysToKeep int) error {
	cutoffDate := time.Now().AddDate(0, 0, -daysToKeep)

	if err := m.db.Where("timestamp < ?", cutoffDate).Delete(&models.MetricsSample{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup metrics samples: %w", err)
	}

	if err := m.db.Where("date < ?", cutoffDate).Delete(&models.SystemStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup system stats: %w", err)
	}

	if err := m.db.Where("date < ?", cutoffDate).Delete(&models.PlatformStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup platform stats: %w", err)
	}

	if err := m.db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}

	return nil
}
