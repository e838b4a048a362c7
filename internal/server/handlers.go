package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/slotline/slotline/internal/models"
	"github.com/slotline/slotline/internal/service"
)

const defaultPriority = 5

type scheduleRequest struct {
	ContentItemID uint      `json:"content_item_id" binding:"required"`
	ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
	Recurrence    string    `json:"recurrence"`
	Priority      int       `json:"priority"`
}

func (r *scheduleRequest) toSchedule() *models.Schedule {
	priority := r.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	return &models.Schedule{
		ContentItemID: r.ContentItemID,
		ScheduledTime: r.ScheduledTime,
		Status:        models.ScheduleStatusScheduled,
		Recurrence:    r.Recurrence,
		Priority:      priority,
	}
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func parseQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// --- Content ---

func (s *Server) handleCreateContent(c *gin.Context) {
	var item models.ContentItem
	if err := c.ShouldBindJSON(&item); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if item.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if !item.ContentType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown content type"})
		return
	}

	item.ID = 0
	if item.Status == "" {
		item.Status = models.ContentStatusDraft
	}

	if err := s.Store.CreateContentItem(&item); err != nil {
		s.Logger.Error("Failed to create content item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create content item"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"content": item})
}

func (s *Server) handleListContent(c *gin.Context) {
	items, err := s.Store.ListContentItems()
	if err != nil {
		s.Logger.Error("Failed to list content items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list content items"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"content": items, "count": len(items)})
}

func (s *Server) handleGetContent(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	item, err := s.Store.GetContentItem(id)
	if err != nil {
		if errors.Is(err, service.ErrContentItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "content item not found"})
			return
		}
		s.Logger.Error("Failed to get content item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get content item"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"content": item})
}

func (s *Server) handleDeleteContent(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	active, err := s.Store.CountActiveSchedulesForItem(id)
	if err != nil {
		s.Logger.Error("Failed to check content item schedules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete content item"})
		return
	}
	if active > 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error": "content item still has pending or running schedules; cancel them first",
		})
		return
	}

	if err := s.Store.DeleteContentItem(id); err != nil {
		if errors.Is(err, service.ErrContentItemNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "content item not found"})
			return
		}
		s.Logger.Error("Failed to delete content item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete content item"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "content item deleted"})
}

// --- Schedules ---

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schedule := req.toSchedule()
	result, err := s.Scheduler.ScheduleContent(c.Request.Context(), schedule)
	if err != nil {
		switch {
		case result != nil && !result.Valid:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "validation": result})
		case errors.Is(err, service.ErrContentItemNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "content item not found"})
		case errors.Is(err, service.ErrNotRunning):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			s.Logger.Error("Failed to create schedule", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create schedule"})
		}
		return
	}

	response := gin.H{"schedule": schedule, "validation": result}
	if c.Query("auto_resolve") == "true" {
		if report, applied := s.resolveNewScheduleConflicts(c, schedule.ID); report != nil {
			response["conflict_resolution"] = report
			response["adjustments_applied"] = applied
		}
	}

	c.JSON(http.StatusCreated, response)
}

// resolveNewScheduleConflicts runs a resolution pass over the conflicts the
// freshly created schedule participates in and applies the proposed moves.
func (s *Server) resolveNewScheduleConflicts(c *gin.Context, scheduleID uint) (*service.ResolutionReport, int) {
	pending, err := s.Store.ListSchedulesByStatus(models.ScheduleStatusScheduled)
	if err != nil {
		s.Logger.Warn("Auto-resolve skipped: could not list pending schedules", zap.Error(err))
		return nil, 0
	}

	var involved []service.ConflictInfo
	for _, conflict := range s.Resolver.DetectConflicts(pending) {
		if conflict.Schedule1.ID == scheduleID || conflict.Schedule2.ID == scheduleID {
			involved = append(involved, conflict)
		}
	}
	if len(involved) == 0 {
		return nil, 0
	}

	report := s.Resolver.ResolveConflicts(involved)
	applied, err := s.Scheduler.ApplyAdjustments(c.Request.Context(), report)
	if err != nil {
		s.Logger.Warn("Some auto-resolve adjustments failed", zap.Error(err))
	}
	return report, applied
}

func (s *Server) handleListSchedules(c *gin.Context) {
	var (
		schedules []models.Schedule
		err       error
	)
	if raw := c.Query("status"); raw != "" {
		status := models.ScheduleStatus(raw)
		switch status {
		case models.ScheduleStatusScheduled, models.ScheduleStatusRunning,
			models.ScheduleStatusCompleted, models.ScheduleStatusFailed,
			models.ScheduleStatusCancelled:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + raw})
			return
		}
		schedules, err = s.Store.ListSchedulesByStatus(status)
	} else {
		schedules, err = s.Store.ListSchedules()
	}
	if err != nil {
		s.Logger.Error("Failed to list schedules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list schedules"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"schedules": schedules, "count": len(schedules)})
}

func (s *Server) handleGetSchedule(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	schedule, err := s.Store.GetSchedule(id)
	if err != nil {
		if errors.Is(err, service.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		s.Logger.Error("Failed to get schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get schedule"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"schedule": schedule})
}

func (s *Server) handleCancelSchedule(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := s.Scheduler.CancelSchedule(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrScheduleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		case errors.Is(err, service.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			s.Logger.Error("Failed to cancel schedule", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel schedule"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "schedule cancelled"})
}

func (s *Server) handleRescheduleSchedule(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req struct {
		ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	moved, err := s.Scheduler.RescheduleContent(c.Request.Context(), id, req.ScheduledTime)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrScheduleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		case errors.Is(err, service.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrNotRunning):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			s.Logger.Error("Failed to reschedule", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reschedule"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"schedule": moved})
}

func (s *Server) handleValidateSchedules(c *gin.Context) {
	var req struct {
		Schedules []scheduleRequest `json:"schedules" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Schedules) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schedules must not be empty"})
		return
	}

	schedules := make([]models.Schedule, 0, len(req.Schedules))
	for _, entry := range req.Schedules {
		schedule := entry.toSchedule()
		if item, err := s.Store.GetContentItem(entry.ContentItemID); err == nil {
			schedule.ContentItem = *item
		}
		schedules = append(schedules, *schedule)
	}

	results := s.Validator.ValidateMultipleSchedules(schedules)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// --- Conflicts ---

func (s *Server) handleDetectConflicts(c *gin.Context) {
	pending, err := s.Store.ListSchedulesByStatus(models.ScheduleStatusScheduled)
	if err != nil {
		s.Logger.Error("Failed to list pending schedules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to detect conflicts"})
		return
	}

	conflicts := s.Resolver.DetectConflicts(pending)
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "count": len(conflicts)})
}

func (s *Server) handleResolveConflicts(c *gin.Context) {
	pending, err := s.Store.ListSchedulesByStatus(models.ScheduleStatusScheduled)
	if err != nil {
		s.Logger.Error("Failed to list pending schedules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve conflicts"})
		return
	}

	conflicts := s.Resolver.DetectConflicts(pending)
	report := s.Resolver.ResolveConflicts(conflicts)

	response := gin.H{"report": report}
	if c.Query("apply") == "true" {
		applied, err := s.Scheduler.ApplyAdjustments(c.Request.Context(), report)
		response["applied"] = applied
		if err != nil {
			response["apply_errors"] = err.Error()
		}
	}

	c.JSON(http.StatusOK, response)
}

// --- Optimizer ---

func (s *Server) handleOptimizeSchedule(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	schedule, err := s.Store.GetSchedule(id)
	if err != nil {
		if errors.Is(err, service.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		s.Logger.Error("Failed to get schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to optimize schedule"})
		return
	}

	c.JSON(http.StatusOK, s.Optimizer.OptimizeSchedule(schedule))
}

func (s *Server) handleOptimizeBatch(c *gin.Context) {
	var req struct {
		ScheduleIDs    []uint `json:"schedule_ids" binding:"required"`
		AvoidConflicts bool   `json:"avoid_conflicts"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.ScheduleIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "schedule_ids must not be empty"})
		return
	}

	schedules := make([]models.Schedule, 0, len(req.ScheduleIDs))
	for _, id := range req.ScheduleIDs {
		schedule, err := s.Store.GetSchedule(id)
		if err != nil {
			if errors.Is(err, service.ErrScheduleNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found", "schedule_id": id})
				return
			}
			s.Logger.Error("Failed to get schedule", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to optimize schedules"})
			return
		}
		schedules = append(schedules, *schedule)
	}

	results := s.Optimizer.OptimizeMultipleSchedules(schedules, req.AvoidConflicts)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleSuggestions(c *gin.Context) {
	contentType := models.ContentType(c.Query("content_type"))
	if !contentType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_type must be one of the known content types"})
		return
	}
	days := parseQueryInt(c, "days", 7)
	count := parseQueryInt(c, "count", 5)

	suggestions := s.Optimizer.SuggestOptimalTimes(contentType, time.Now(), days, count)
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (s *Server) handlePerformance(c *gin.Context) {
	days := parseQueryInt(c, "days", 30)

	report, err := s.Optimizer.AnalyzePerformance(days)
	if err != nil {
		s.Logger.Error("Failed to analyze performance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze performance"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// --- Operations ---

func (s *Server) handlePlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.Publisher.AvailablePlatforms()})
}

func (s *Server) handlePublishHistory(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if _, err := s.Store.GetSchedule(id); err != nil {
		if errors.Is(err, service.ErrScheduleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
			return
		}
		s.Logger.Error("Failed to get schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get publish history"})
		return
	}

	records, err := s.Publisher.GetPublishHistory(id)
	if err != nil {
		s.Logger.Error("Failed to get publish history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get publish history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs := s.Scheduler.ActiveJobs()
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.Scheduler.GetJobStats()
	if err != nil {
		s.Logger.Error("Failed to get job stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleSystemStats(c *gin.Context) {
	days := parseQueryInt(c, "days", 7)

	stats, err := s.Monitoring.GetSystemStats(days)
	if err != nil {
		s.Logger.Error("Failed to get system stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get system stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (s *Server) handlePlatformStats(c *gin.Context) {
	days := parseQueryInt(c, "days", 7)

	stats, err := s.Monitoring.GetPlatformStats(days)
	if err != nil {
		s.Logger.Error("Failed to get platform stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get platform stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func (s *Server) handleRecentErrors(c *gin.Context) {
	limit := parseQueryInt(c, "limit", 50)

	errorLogs, err := s.Monitoring.GetRecentErrors(limit)
	if err != nil {
		s.Logger.Error("Failed to get recent errors", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recent errors"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"errors": errorLogs, "count": len(errorLogs)})
}

func (s *Server) handleResolveError(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := s.Monitoring.ResolveError(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "error log not found"})
			return
		}
		s.Logger.Error("Failed to resolve error log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve error log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "error resolved"})
}
