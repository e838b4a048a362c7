package service

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/slotline/slotline/internal/models"
)

// Store is the single owner of schedule and content item persistence. Every
// mutating method is its own unit of work: it commits or rolls back before
// returning, so concurrent callers never share uncommitted state.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying handle for read-only collaborators
// (monitoring rollups, tests).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Content items ---

func (s *Store) CreateContentItem(item *models.ContentItem) error {
	if err := s.db.Create(item).Error; err != nil {
		return &DatabaseError{Op: "create content item", Err: err}
	}
	return nil
}

func (s *Store) GetContentItem(id uint) (*models.ContentItem, error) {
	var item models.ContentItem
	if err := s.db.First(&item, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContentItemNotFound
		}
		return nil, &DatabaseError{Op: "get content item", Err: err}
	}
	return &item, nil
}

func (s *Store) ListContentItems() ([]models.ContentItem, error) {
	var items []models.ContentItem
	if err := s.db.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, &DatabaseError{Op: "list content items", Err: err}
	}
	return items, nil
}

func (s *Store) DeleteContentItem(id uint) error {
	res := s.db.Delete(&models.ContentItem{}, id)
	if res.Error != nil {
		return &DatabaseError{Op: "delete content item", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrContentItemNotFound
	}
	return nil
}

// --- Schedules ---

func (s *Store) CreateSchedule(schedule *models.Schedule) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ContentItem{}).Where("id = ?", schedule.ContentItemID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrContentItemNotFound
		}
		return tx.Create(schedule).Error
	})
	if err != nil {
		if errors.Is(err, ErrContentItemNotFound) {
			return err
		}
		return &DatabaseError{Op: "create schedule", Err: err}
	}
	return nil
}

// DeleteSchedule removes the row entirely. Used to roll back a schedule
// whose timer registration failed; cancellation goes through
// TransitionSchedule instead.
func (s *Store) DeleteSchedule(id uint) error {
	res := s.db.Unscoped().Delete(&models.Schedule{}, id)
	if res.Error != nil {
		return &DatabaseError{Op: "delete schedule", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (s *Store) GetSchedule(id uint) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := s.db.Preload("ContentItem").First(&schedule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, &DatabaseError{Op: "get schedule", Err: err}
	}
	return &schedule, nil
}

func (s *Store) ListSchedules() ([]models.Schedule, error) {
	var schedules []models.Schedule
	if err := s.db.Preload("ContentItem").Order("scheduled_time ASC").Find(&schedules).Error; err != nil {
		return nil, &DatabaseError{Op: "list schedules", Err: err}
	}
	return schedules, nil
}

func (s *Store) ListSchedulesByStatus(status models.ScheduleStatus) ([]models.Schedule, error) {
	var schedules []models.Schedule
	if err := s.db.Preload("ContentItem").
		Where("status = ?", status).
		Order("scheduled_time ASC").
		Find(&schedules).Error; err != nil {
		return nil, &DatabaseError{Op: "list schedules by status", Err: err}
	}
	return schedules, nil
}

// ListSchedulesInWindow returns non-cancelled schedules with a scheduled
// time inside [from, to), ordered by time.
func (s *Store) ListSchedulesInWindow(from, to time.Time) ([]models.Schedule, error) {
	var schedules []models.Schedule
	if err := s.db.Preload("ContentItem").
		Where("scheduled_time >= ? AND scheduled_time < ? AND status <> ?", from, to, models.ScheduleStatusCancelled).
		Order("scheduled_time ASC").
		Find(&schedules).Error; err != nil {
		return nil, &DatabaseError{Op: "list schedules in window", Err: err}
	}
	return schedules, nil
}

// CountSchedulesBetween counts non-cancelled schedules in [from, to),
// optionally excluding every schedule of one content item.
func (s *Store) CountSchedulesBetween(from, to time.Time, excludeContentItemID uint) (int64, error) {
	q := s.db.Model(&models.Schedule{}).
		Where("scheduled_time >= ? AND scheduled_time < ? AND status <> ?", from, to, models.ScheduleStatusCancelled)
	if excludeContentItemID != 0 {
		q = q.Where("content_item_id <> ?", excludeContentItemID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, &DatabaseError{Op: "count schedules", Err: err}
	}
	return count, nil
}

// ListSchedulesNear returns non-cancelled schedules within the window around
// t, excluding every schedule of the given content item.
func (s *Store) ListSchedulesNear(t time.Time, window time.Duration, excludeContentItemID uint) ([]models.Schedule, error) {
	q := s.db.
		Where("scheduled_time >= ? AND scheduled_time <= ? AND status <> ?",
			t.Add(-window), t.Add(window), models.ScheduleStatusCancelled)
	if excludeContentItemID != 0 {
		q = q.Where("content_item_id <> ?", excludeContentItemID)
	}
	var schedules []models.Schedule
	if err := q.Order("scheduled_time ASC").Find(&schedules).Error; err != nil {
		return nil, &DatabaseError{Op: "list nearby schedules", Err: err}
	}
	return schedules, nil
}

// ListSchedulesSince returns schedules created or fired after the cutoff
// whose status is one of the given set, for performance analysis.
func (s *Store) ListSchedulesSince(cutoff time.Time, statuses ...models.ScheduleStatus) ([]models.Schedule, error) {
	var schedules []models.Schedule
	q := s.db.Preload("ContentItem").Where("scheduled_time >= ?", cutoff)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("scheduled_time ASC").Find(&schedules).Error; err != nil {
		return nil, &DatabaseError{Op: "list schedules since", Err: err}
	}
	return schedules, nil
}

// SchedulesForRecovery returns every row still in scheduled status, with
// its content item attached. Only these are re-armed after a restart.
func (s *Store) SchedulesForRecovery() ([]models.Schedule, error) {
	return s.ListSchedulesByStatus(models.ScheduleStatusScheduled)
}

// TransitionSchedule moves a schedule between statuses with the allowed
// source statuses enforced in the UPDATE itself, keeping the state machine
// single-writer even under concurrent job firings. The result text is
// written on every transition (entering running clears the previous
// occurrence's outcome).
func (s *Store) TransitionSchedule(id uint, from []models.ScheduleStatus, to models.ScheduleStatus, result string) error {
	res := s.db.Model(&models.Schedule{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": to, "result": result})
	if res.Error != nil {
		return &DatabaseError{Op: "transition schedule", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a guard failure for the caller's logs.
		var count int64
		if err := s.db.Model(&models.Schedule{}).Where("id = ?", id).Count(&count).Error; err == nil && count == 0 {
			return ErrScheduleNotFound
		}
		return fmt.Errorf("%w: schedule %d is not in %v", ErrInvalidTransition, id, from)
	}
	return nil
}

// UpdateScheduleTime moves a still-pending schedule to a new time. Rows
// already running or finished are not movable.
func (s *Store) UpdateScheduleTime(id uint, t time.Time) error {
	res := s.db.Model(&models.Schedule{}).
		Where("id = ? AND status = ?", id, models.ScheduleStatusScheduled).
		Update("scheduled_time", t)
	if res.Error != nil {
		return &DatabaseError{Op: "update schedule time", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: schedule %d is not pending", ErrInvalidTransition, id)
	}
	return nil
}

func (s *Store) SetCalendarEventID(id uint, eventID string) error {
	if err := s.db.Model(&models.Schedule{}).
		Where("id = ?", id).
		Update("calendar_event_id", eventID).Error; err != nil {
		return &DatabaseError{Op: "set calendar event id", Err: err}
	}
	return nil
}

// SetScheduleResult writes the result text without touching the status. Used
// for annotations like a missed fire, where the row stays scheduled.
func (s *Store) SetScheduleResult(id uint, result string) error {
	res := s.db.Model(&models.Schedule{}).
		Where("id = ?", id).
		Update("result", result)
	if res.Error != nil {
		return &DatabaseError{Op: "set schedule result", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// FindScheduleByItemAndTime resolves a content item plus fire time back to
// its schedule row. Times are matched at second precision because job ids
// carry only epoch seconds.
func (s *Store) FindScheduleByItemAndTime(contentItemID uint, t time.Time) (*models.Schedule, error) {
	var schedule models.Schedule
	err := s.db.Preload("ContentItem").
		Where("content_item_id = ? AND scheduled_time >= ? AND scheduled_time < ?",
			contentItemID, t, t.Add(time.Second)).
		First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, &DatabaseError{Op: "find schedule by item and time", Err: err}
	}
	return &schedule, nil
}

// CountActiveSchedulesForItem returns how many of the item's schedules are
// still pending or running. Content with active schedules must not be
// deleted out from under them.
func (s *Store) CountActiveSchedulesForItem(contentItemID uint) (int64, error) {
	var count int64
	if err := s.db.Model(&models.Schedule{}).
		Where("content_item_id = ? AND status IN ?", contentItemID,
			[]models.ScheduleStatus{models.ScheduleStatusScheduled, models.ScheduleStatusRunning}).
		Count(&count).Error; err != nil {
		return 0, &DatabaseError{Op: "count active schedules for item", Err: err}
	}
	return count, nil
}

// CountsByStatus returns the number of schedules per status.
func (s *Store) CountsByStatus() (map[models.ScheduleStatus]int64, error) {
	type row struct {
		Status models.ScheduleStatus
		N      int64
	}
	var rows []row
	if err := s.db.Model(&models.Schedule{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, &DatabaseError{Op: "count schedules by status", Err: err}
	}
	counts := make(map[models.ScheduleStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// --- Publish records ---

func (s *Store) CreatePublishRecords(records []models.PublishRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.Create(&records).Error; err != nil {
		return &DatabaseError{Op: "create publish records", Err: err}
	}
	return nil
}

func (s *Store) ListPublishRecords(scheduleID uint) ([]models.PublishRecord, error) {
	var records []models.PublishRecord
	if err := s.db.Where("schedule_id = ?", scheduleID).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, &DatabaseError{Op: "list publish records", Err: err}
	}
	return records, nil
}
