package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/config"
	"github.com/slotline/slotline/internal/models"
	"github.com/slotline/slotline/internal/service/calendar"
	"github.com/slotline/slotline/internal/service/notify"
	"github.com/slotline/slotline/internal/service/timer"
)

// JobStats is the scheduler's observability snapshot: engine state, lifetime
// counters since Start and the persisted schedule counts per status.
type JobStats struct {
	Running       bool                            `json:"running"`
	ActiveJobs    int                             `json:"active_jobs"`
	JobsExecuted  int64                           `json:"jobs_executed"`
	JobsSucceeded int64                           `json:"jobs_succeeded"`
	JobsFailed    int64                           `json:"jobs_failed"`
	JobsMissed    int64                           `json:"jobs_missed"`
	ByStatus      map[models.ScheduleStatus]int64 `json:"schedules_by_status"`
}

// ContentScheduler owns the lifecycle of schedules: validation-gated
// persistence, timer registration, firing into the publisher, recovery after
// a restart, and the calendar/notification mirrors around all of it. The
// timer engine fires jobs; every status decision is made here, against the
// store's guarded transitions.
type ContentScheduler struct {
	config     *config.SchedulerConfig
	logger     *zap.Logger
	store      *Store
	engine     *timer.Engine
	validator  *ScheduleValidator
	publisher  *PublisherService
	notifier   *notify.Manager
	calendar   *calendar.Integration
	monitoring *MonitoringService

	healthInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	jobsExecuted  atomic.Int64
	jobsSucceeded atomic.Int64
	jobsFailed    atomic.Int64
	jobsMissed    atomic.Int64
}

func NewContentScheduler(
	cfg *config.SchedulerConfig,
	store *Store,
	validator *ScheduleValidator,
	publisher *PublisherService,
	notifier *notify.Manager,
	calendarIntegration *calendar.Integration,
	monitoring *MonitoringService,
	logger *zap.Logger,
) (*ContentScheduler, error) {
	grace, err := time.ParseDuration(cfg.MisfireGrace)
	if err != nil {
		return nil, fmt.Errorf("invalid misfire grace %q: %w", cfg.MisfireGrace, err)
	}
	healthInterval, err := time.ParseDuration(cfg.HealthInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid health interval %q: %w", cfg.HealthInterval, err)
	}

	engine := timer.NewEngine(timer.Config{
		MaxWorkers:   cfg.MaxWorkers,
		QueueSize:    cfg.QueueSize,
		MisfireGrace: grace,
		Timezone:     cfg.Timezone,
	}, logger)

	s := &ContentScheduler{
		config:         cfg,
		logger:         logger,
		store:          store,
		engine:         engine,
		validator:      validator,
		publisher:      publisher,
		notifier:       notifier,
		calendar:       calendarIntegration,
		monitoring:     monitoring,
		healthInterval: healthInterval,
		stopCh:         make(chan struct{}),
	}
	engine.OnMisfire(s.handleMisfire)

	return s, nil
}

// Start brings up the timer engine, re-arms every pending schedule from the
// store and starts the periodic health report.
func (s *ContentScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.logger.Info("Starting scheduler",
		zap.Int("max_workers", s.config.MaxWorkers),
		zap.String("misfire_grace", s.config.MisfireGrace))

	if err := s.engine.Start(); err != nil {
		return &SchedulingError{Op: "start", Err: err}
	}

	recovered, err := s.recoverJobs()
	if err != nil {
		stopErr := s.engine.Stop(ctx)
		return &SchedulingError{Op: "recover", Err: multierr.Append(err, stopErr)}
	}

	s.stopCh = make(chan struct{})
	s.running = true
	go s.runHealthLoop(ctx, s.stopCh)

	s.logger.Info("Scheduler started", zap.Int("recovered_jobs", recovered))
	return nil
}

// Stop halts triggers and waits for in-flight jobs until ctx expires.
// Idempotent.
func (s *ContentScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	err := s.engine.Stop(ctx)
	s.logger.Info("Scheduler shutdown completed")
	return err
}

// Running reports whether the scheduler accepts new schedules.
func (s *ContentScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScheduleContent validates, persists and arms one schedule. Validation
// errors block; the returned ValidationResult carries them (plus any
// warnings) either way. A schedule that persists but cannot be armed is
// rolled back so the store never holds a schedule without a timer behind it.
func (s *ContentScheduler) ScheduleContent(ctx context.Context, schedule *models.Schedule) (*ValidationResult, error) {
	if !s.Running() {
		return nil, ErrNotRunning
	}

	item, err := s.store.GetContentItem(schedule.ContentItemID)
	if err != nil {
		return nil, err
	}

	result := s.validator.ValidateSchedule(schedule, item)
	if !result.Valid {
		return result, fmt.Errorf("schedule rejected: %s", strings.Join(result.Errors, "; "))
	}

	if err := s.store.CreateSchedule(schedule); err != nil {
		return result, err
	}

	if err := s.registerJob(schedule); err != nil {
		if delErr := s.store.DeleteSchedule(schedule.ID); delErr != nil {
			s.logger.Error("Failed to roll back unarmed schedule",
				zap.Uint("schedule_id", schedule.ID), zap.Error(delErr))
		}
		return result, &SchedulingError{Op: "register", Err: err}
	}

	s.mirrorCalendarCreate(ctx, schedule)
	s.notifyEvent(ctx, notify.Event{
		Type:       notify.EventScheduled,
		ScheduleID: schedule.ID,
		Title:      item.Title,
		Platforms:  item.Platforms,
		At:         schedule.ScheduledTime,
	})
	s.monitoring.RecordMetric("schedule_created", "counter", 1, map[string]interface{}{
		"content_type": string(item.ContentType),
		"recurring":    schedule.Recurring(),
	})

	s.logger.Info("Content scheduled",
		zap.Uint("schedule_id", schedule.ID),
		zap.Uint("content_item_id", item.ID),
		zap.Time("scheduled_time", schedule.ScheduledTime),
		zap.String("recurrence", schedule.Recurrence),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

// CancelSchedule stops a pending schedule before it fires: the row moves to
// cancelled, the timer registration is dropped and the calendar mirror is
// removed. Rows already running or finished cannot be cancelled.
func (s *ContentScheduler) CancelSchedule(ctx context.Context, id uint) error {
	schedule, err := s.store.GetSchedule(id)
	if err != nil {
		return err
	}

	if err := s.store.TransitionSchedule(id,
		[]models.ScheduleStatus{models.ScheduleStatusScheduled},
		models.ScheduleStatusCancelled, "cancelled before firing"); err != nil {
		return err
	}

	if dropped := s.engine.Cancel(schedule.JobID()); !dropped {
		// Recoverable during races with a concurrent firing; the cancelled
		// status makes the job body skip anyway.
		s.logger.Debug("No timer registration found for cancelled schedule",
			zap.Uint("schedule_id", id), zap.String("job_id", schedule.JobID()))
	}

	s.mirrorCalendarDelete(ctx, schedule)
	s.notifyEvent(ctx, notify.Event{
		Type:       notify.EventCancelled,
		ScheduleID: id,
		Title:      schedule.ContentItem.Title,
		At:         schedule.ScheduledTime,
	})
	s.monitoring.RecordMetric("schedule_cancelled", "counter", 1, map[string]interface{}{
		"schedule_id": id,
	})

	s.logger.Info("Schedule cancelled", zap.Uint("schedule_id", id))
	return nil
}

// RescheduleContent moves a pending schedule to a new time, swapping the
// timer registration underneath it. The job id embeds the fire time, so the
// old registration is cancelled and a fresh one armed; on a registration
// failure the original time and timer are restored.
func (s *ContentScheduler) RescheduleContent(ctx context.Context, id uint, newTime time.Time) (*models.Schedule, error) {
	if !s.Running() {
		return nil, ErrNotRunning
	}

	schedule, err := s.store.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	oldTime := schedule.ScheduledTime

	if err := s.store.UpdateScheduleTime(id, newTime); err != nil {
		return nil, err
	}
	s.engine.Cancel(schedule.JobID())

	moved := *schedule
	moved.ScheduledTime = newTime
	if err := s.registerJob(&moved); err != nil {
		if rbErr := s.store.UpdateScheduleTime(id, oldTime); rbErr != nil {
			s.logger.Error("Failed to restore schedule time after registration failure",
				zap.Uint("schedule_id", id), zap.Error(rbErr))
		} else if rbErr := s.registerJob(schedule); rbErr != nil {
			s.logger.Error("Failed to re-arm original timer after registration failure",
				zap.Uint("schedule_id", id), zap.Error(rbErr))
		}
		return nil, &SchedulingError{Op: "reschedule", Err: err}
	}

	s.mirrorCalendarUpdate(ctx, &moved)
	s.notifyEvent(ctx, notify.Event{
		Type:       notify.EventScheduled,
		ScheduleID: id,
		Title:      schedule.ContentItem.Title,
		At:         newTime,
		Detail:     fmt.Sprintf("Rescheduled from %s", oldTime.Format(time.RFC3339)),
	})
	s.monitoring.RecordMetric("schedule_rescheduled", "counter", 1, map[string]interface{}{
		"schedule_id": id,
	})

	s.logger.Info("Schedule moved",
		zap.Uint("schedule_id", id),
		zap.Time("from", oldTime),
		zap.Time("to", newTime))
	return &moved, nil
}

// ApplyAdjustments persists the time adjustments of a conflict resolution
// pass, in ascending schedule id order. Each failed move is reported but
// does not stop the rest; the returned count is the number applied.
func (s *ContentScheduler) ApplyAdjustments(ctx context.Context, report *ResolutionReport) (int, error) {
	ids := make([]uint, 0, len(report.Adjustments))
	for id := range report.Adjustments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	applied := 0
	var errs error
	for _, id := range ids {
		adjustment := report.Adjustments[id]
		if _, err := s.RescheduleContent(ctx, id, adjustment.NewTime); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule %d: %w", id, err))
			continue
		}
		applied++
	}

	s.logger.Info("Applied conflict adjustments",
		zap.Int("applied", applied),
		zap.Int("proposed", len(report.Adjustments)))
	return applied, errs
}

// GetJobStats snapshots the scheduler for the stats endpoint.
func (s *ContentScheduler) GetJobStats() (*JobStats, error) {
	counts, err := s.store.CountsByStatus()
	if err != nil {
		return nil, err
	}
	return &JobStats{
		Running:       s.Running(),
		ActiveJobs:    s.engine.JobCount(),
		JobsExecuted:  s.jobsExecuted.Load(),
		JobsSucceeded: s.jobsSucceeded.Load(),
		JobsFailed:    s.jobsFailed.Load(),
		JobsMissed:    s.jobsMissed.Load(),
		ByStatus:      counts,
	}, nil
}

// ActiveJobs lists every armed timer registration, ordered by next fire.
func (s *ContentScheduler) ActiveJobs() []timer.JobInfo {
	return s.engine.Jobs()
}

// registerJob arms the timer registration for a schedule: a cron trigger
// anchored at the schedule's own time for recurring rows, a one-shot
// otherwise.
func (s *ContentScheduler) registerJob(schedule *models.Schedule) error {
	jobID := schedule.JobID()
	run := s.runJob(schedule.ID)

	if !schedule.Recurring() {
		return s.engine.ScheduleOnce(jobID, schedule.ScheduledTime, run)
	}

	rec, err := ParseRecurrence(schedule.Recurrence)
	if err != nil {
		return err
	}
	spec, err := rec.CronSpecAt(schedule.ScheduledTime)
	if err != nil {
		return err
	}
	return s.engine.ScheduleRecurring(jobID, spec, run)
}

// runJob builds the job body for one schedule. The body reloads the row on
// every firing so recurring schedules always see their latest status, claims
// the row via the guarded running transition, publishes, and records the
// outcome. Losing the transition race means another firing owns this
// occurrence; the body backs off without touching anything.
func (s *ContentScheduler) runJob(scheduleID uint) func(ctx context.Context) {
	return func(ctx context.Context) {
		s.jobsExecuted.Add(1)

		schedule, err := s.store.GetSchedule(scheduleID)
		if err != nil {
			s.logger.Warn("Job fired for missing schedule",
				zap.Uint("schedule_id", scheduleID), zap.Error(err))
			return
		}
		// A one-shot in any terminal status is already done; recurring rows
		// re-enter from completed/failed, so only cancelled stops them.
		if schedule.Status.Terminal() &&
			(!schedule.Recurring() || schedule.Status == models.ScheduleStatusCancelled) {
			s.logger.Debug("Skipping schedule in terminal status",
				zap.Uint("schedule_id", scheduleID),
				zap.String("status", string(schedule.Status)))
			return
		}

		from := []models.ScheduleStatus{models.ScheduleStatusScheduled}
		if schedule.Recurring() {
			// A recurring row re-enters running from its previous occurrence's
			// terminal status.
			from = append(from, models.ScheduleStatusCompleted, models.ScheduleStatusFailed)
		}
		if err := s.store.TransitionSchedule(scheduleID, from, models.ScheduleStatusRunning, ""); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				s.logger.Debug("Schedule already claimed, skipping firing",
					zap.Uint("schedule_id", scheduleID), zap.String("status", string(schedule.Status)))
				return
			}
			s.logger.Error("Failed to claim schedule for execution",
				zap.Uint("schedule_id", scheduleID), zap.Error(err))
			return
		}

		item := &schedule.ContentItem
		platforms := item.PlatformList()

		s.logger.Info("Executing schedule",
			zap.Uint("schedule_id", scheduleID),
			zap.String("title", item.Title),
			zap.Int("platforms", len(platforms)))

		if err := s.publisher.Publish(ctx, schedule, item, platforms); err != nil {
			s.jobsFailed.Add(1)
			s.completeJob(schedule, models.ScheduleStatusFailed, err.Error())

			execErr := &JobExecutionError{ScheduleID: scheduleID, Err: err}
			s.logger.Error("Schedule execution failed", zap.Error(execErr))
			s.monitoring.RecordMetric("job_failed", "counter", 1, map[string]interface{}{
				"schedule_id": scheduleID,
			})
			s.notifyEvent(ctx, notify.Event{
				Type:       notify.EventFailed,
				ScheduleID: scheduleID,
				Title:      item.Title,
				Platforms:  item.Platforms,
				At:         schedule.ScheduledTime,
				Detail:     err.Error(),
			})
			return
		}

		resultText := fmt.Sprintf("published to %d platform(s)", len(platforms))
		s.jobsSucceeded.Add(1)
		s.completeJob(schedule, models.ScheduleStatusCompleted, resultText)

		s.monitoring.RecordMetric("job_completed", "counter", 1, map[string]interface{}{
			"schedule_id": scheduleID,
		})
		s.notifyEvent(ctx, notify.Event{
			Type:       notify.EventPublished,
			ScheduleID: scheduleID,
			Title:      item.Title,
			Platforms:  item.Platforms,
			At:         schedule.ScheduledTime,
		})
		s.logger.Info("Schedule completed",
			zap.Uint("schedule_id", scheduleID),
			zap.Int("platforms", len(platforms)))
	}
}

// completeJob records the occurrence outcome on the row.
func (s *ContentScheduler) completeJob(schedule *models.Schedule, to models.ScheduleStatus, result string) {
	err := s.store.TransitionSchedule(schedule.ID,
		[]models.ScheduleStatus{models.ScheduleStatusRunning}, to, result)
	if err != nil {
		s.logger.Error("Failed to record job outcome",
			zap.Uint("schedule_id", schedule.ID),
			zap.String("to", string(to)),
			zap.Error(err))
	}
}

// recoverJobs re-arms every schedule still pending in the store. Individual
// rows that cannot be restored are recorded and skipped so one poisoned row
// does not block the rest of the recovery.
func (s *ContentScheduler) recoverJobs() (int, error) {
	schedules, err := s.store.SchedulesForRecovery()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range schedules {
		schedule := &schedules[i]
		if err := s.registerJob(schedule); err != nil {
			s.logger.Error("Failed to restore schedule",
				zap.Uint("schedule_id", schedule.ID), zap.Error(err))
			s.monitoring.RecordError("error", "scheduler",
				"Failed to restore schedule after restart", err.Error(),
				WithSchedule(schedule.ID),
				WithContentItem(schedule.ContentItemID))
			continue
		}
		recovered++
	}

	s.logger.Info("Recovered pending schedules",
		zap.Int("recovered", recovered),
		zap.Int("pending", len(schedules)))
	return recovered, nil
}

// handleMisfire runs when a one-shot's fire time is already beyond the
// misfire grace at registration, which in practice means the process was
// down across the scheduled time. The row keeps its scheduled status; the
// miss is annotated on the row and surfaced through monitoring and
// notifications for a human to reschedule.
func (s *ContentScheduler) handleMisfire(jobID string, scheduledFor time.Time) {
	s.jobsMissed.Add(1)

	kind, contentItemID, at, err := models.ParseJobID(jobID)
	if err != nil {
		s.logger.Warn("Misfire for unparseable job id", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	s.logger.Warn("Schedule missed its firing window",
		zap.String("job_id", jobID),
		zap.String("kind", kind),
		zap.Time("scheduled_for", scheduledFor))

	schedule, err := s.store.FindScheduleByItemAndTime(contentItemID, at)
	if err != nil {
		s.logger.Warn("No schedule row found for misfired job",
			zap.String("job_id", jobID), zap.Error(err))
		s.monitoring.RecordMetric("job_missed", "counter", 1, nil)
		return
	}

	miss := fmt.Sprintf("missed firing at %s (beyond misfire grace)", scheduledFor.Format(time.RFC3339))
	if err := s.store.SetScheduleResult(schedule.ID, miss); err != nil {
		s.logger.Error("Failed to annotate missed schedule",
			zap.Uint("schedule_id", schedule.ID), zap.Error(err))
	}

	s.monitoring.RecordMetric("job_missed", "counter", 1, map[string]interface{}{
		"schedule_id": schedule.ID,
	})
	s.monitoring.RecordError("warning", "scheduler",
		"Schedule missed its firing window", miss,
		WithSchedule(schedule.ID),
		WithContentItem(schedule.ContentItemID))
	s.notifyEvent(context.Background(), notify.Event{
		Type:       notify.EventMissed,
		ScheduleID: schedule.ID,
		Title:      schedule.ContentItem.Title,
		At:         scheduledFor,
		Detail:     miss,
	})
}

// runHealthLoop reports scheduler health on a fixed cadence until Stop or
// context cancellation.
func (s *ContentScheduler) runHealthLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportHealth()
		case <-stopCh:
			return
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled")
			return
		}
	}
}

func (s *ContentScheduler) reportHealth() {
	activeJobs := s.engine.JobCount()
	fields := []zap.Field{
		zap.Int("active_jobs", activeJobs),
		zap.Int64("executed", s.jobsExecuted.Load()),
		zap.Int64("succeeded", s.jobsSucceeded.Load()),
		zap.Int64("failed", s.jobsFailed.Load()),
		zap.Int64("missed", s.jobsMissed.Load()),
	}
	if counts, err := s.store.CountsByStatus(); err == nil {
		fields = append(fields, zap.Int64("pending", counts[models.ScheduleStatusScheduled]))
	}
	s.logger.Info("Scheduler health", fields...)
	s.monitoring.RecordMetric("scheduler_active_jobs", "gauge", float64(activeJobs), nil)
}

// notifyEvent delivers a notification best-effort; a failed channel never
// affects the scheduling path that triggered it.
func (s *ContentScheduler) notifyEvent(ctx context.Context, event notify.Event) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("Notification delivery failed",
			zap.String("event", string(event.Type)),
			zap.Uint("schedule_id", event.ScheduleID),
			zap.Error(err))
	}
}

// mirrorCalendarCreate creates the calendar block for a new schedule and
// stores the event id on the row. Best-effort.
func (s *ContentScheduler) mirrorCalendarCreate(ctx context.Context, schedule *models.Schedule) {
	if s.calendar == nil || !s.calendar.Enabled() {
		return
	}
	eventID, err := s.calendar.CreateEvent(ctx, schedule)
	if err != nil {
		s.logger.Warn("Calendar event creation failed",
			zap.Uint("schedule_id", schedule.ID), zap.Error(err))
		return
	}
	schedule.CalendarEventID = eventID
	if err := s.store.SetCalendarEventID(schedule.ID, eventID); err != nil {
		s.logger.Warn("Failed to store calendar event id",
			zap.Uint("schedule_id", schedule.ID), zap.Error(err))
	}
}

func (s *ContentScheduler) mirrorCalendarUpdate(ctx context.Context, schedule *models.Schedule) {
	if s.calendar == nil || !s.calendar.Enabled() || schedule.CalendarEventID == "" {
		return
	}
	if err := s.calendar.UpdateEvent(ctx, schedule.CalendarEventID, schedule); err != nil {
		s.logger.Warn("Calendar event update failed",
			zap.Uint("schedule_id", schedule.ID),
			zap.String("event_id", schedule.CalendarEventID),
			zap.Error(err))
	}
}

func (s *ContentScheduler) mirrorCalendarDelete(ctx context.Context, schedule *models.Schedule) {
	if s.calendar == nil || !s.calendar.Enabled() || schedule.CalendarEventID == "" {
		return
	}
	if err := s.calendar.DeleteEvent(ctx, schedule.CalendarEventID); err != nil {
		s.logger.Warn("Calendar event deletion failed",
			zap.Uint("schedule_id", schedule.ID),
			zap.String("event_id", schedule.CalendarEventID),
			zap.Error(err))
		return
	}
	if err := s.store.SetCalendarEventID(schedule.ID, ""); err != nil {
		s.logger.Warn("Failed to clear calendar event id",
			zap.Uint("schedule_id", schedule.ID), zap.Error(err))
	}
}
