package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/config"
	"github.com/slotline/slotline/internal/models"
	"github.com/slotline/slotline/internal/service/calendar"
	"github.com/slotline/slotline/internal/service/notify"
	"github.com/slotline/slotline/internal/service/timer"
)

func newTestScheduler(t *testing.T) (*ContentScheduler, *Store) {
	t.Helper()
	return newTestSchedulerWithPublisher(t, &config.PublisherConfig{DryRun: true})
}

// newTestSchedulerWithPublisher wires a full scheduler against an isolated
// in-memory database. Notifications and the calendar mirror stay disabled so
// tests exercise the scheduling path without external sinks.
func newTestSchedulerWithPublisher(t *testing.T, pubCfg *config.PublisherConfig) (*ContentScheduler, *Store) {
	t.Helper()

	store := newTestStore(t)
	logger := zap.NewNop()
	monitoring := NewMonitoringService(store.DB(), logger)
	publisherService := NewPublisherService(pubCfg, store, monitoring, logger)
	validator := NewScheduleValidator(store, logger)
	notifier := notify.NewManager(&config.NotificationsConfig{RatePerMinute: 60}, logger)
	cal := calendar.NewIntegration(&config.CalendarConfig{}, logger)

	scheduler, err := NewContentScheduler(&config.SchedulerConfig{
		MaxWorkers:     2,
		QueueSize:      32,
		MisfireGrace:   "5m",
		HealthInterval: "1h",
		Timezone:       "UTC",
	}, store, validator, publisherService, notifier, cal, monitoring, logger)
	require.NoError(t, err)
	return scheduler, store
}

func startScheduler(t *testing.T, scheduler *ContentScheduler) {
	t.Helper()
	require.NoError(t, scheduler.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = scheduler.Stop(ctx)
	})
}

func waitForScheduleStatus(t *testing.T, store *Store, id uint, want models.ScheduleStatus) *models.Schedule {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		row, err := store.GetSchedule(id)
		require.NoError(t, err)
		if row.Status == want {
			return row
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("schedule %d never reached status %s", id, want)
	return nil
}

func TestNewContentSchedulerRejectsBadDurations(t *testing.T) {
	store := newTestStore(t)
	logger := zap.NewNop()
	monitoring := NewMonitoringService(store.DB(), logger)
	publisherService := NewPublisherService(&config.PublisherConfig{DryRun: true}, store, monitoring, logger)

	_, err := NewContentScheduler(&config.SchedulerConfig{
		MisfireGrace:   "soon",
		HealthInterval: "1m",
	}, store, NewScheduleValidator(store, logger), publisherService, nil, nil, monitoring, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "misfire grace")
}

func TestStartRecoversPendingSchedules(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)

	base := time.Now().Add(24 * time.Hour)
	s1 := seedSchedule(t, store, item.ID, base, models.ScheduleStatusScheduled, 5)
	s2 := seedSchedule(t, store, item.ID, base.Add(2*time.Hour), models.ScheduleStatusScheduled, 5)
	seedSchedule(t, store, item.ID, base.Add(4*time.Hour), models.ScheduleStatusCompleted, 5)
	seedSchedule(t, store, item.ID, base.Add(6*time.Hour), models.ScheduleStatusCancelled, 5)

	startScheduler(t, scheduler)

	stats, err := scheduler.GetJobStats()
	require.NoError(t, err)
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.ActiveJobs)

	armed := make(map[string]bool)
	for _, job := range scheduler.ActiveJobs() {
		armed[job.ID] = true
	}
	assert.True(t, armed[s1.JobID()])
	assert.True(t, armed[s2.JobID()])
}

func TestStartAnnotatesMissedSchedules(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)

	// Beyond the 5m misfire grace, second-aligned so the job id round-trips
	// to the row.
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	missed := seedSchedule(t, store, item.ID, past, models.ScheduleStatusScheduled, 5)

	startScheduler(t, scheduler)

	row, err := store.GetSchedule(missed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusScheduled, row.Status)
	assert.Contains(t, row.Result, "missed firing")

	stats, err := scheduler.GetJobStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.JobsMissed)
	assert.Equal(t, 0, stats.ActiveJobs)
}

func TestScheduleContentPersistsAndArms(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(48 * time.Hour),
		Priority:      5,
	}
	result, err := scheduler.ScheduleContent(context.Background(), schedule)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Valid)
	require.NotZero(t, schedule.ID)

	row, err := store.GetSchedule(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusScheduled, row.Status)

	jobs := scheduler.ActiveJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, schedule.JobID(), jobs[0].ID)
	assert.Equal(t, timer.JobOnce, jobs[0].Kind)
}

func TestScheduleContentArmsRecurringTrigger(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(48 * time.Hour),
		Recurrence:    "daily",
		Priority:      5,
	}
	_, err := scheduler.ScheduleContent(context.Background(), schedule)
	require.NoError(t, err)

	jobs := scheduler.ActiveJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, timer.JobRecurring, jobs[0].Kind)
	assert.Equal(t, schedule.JobID(), jobs[0].ID)
}

func TestScheduleContentRejectsInvalidSchedule(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(-2 * time.Hour),
		Priority:      5,
	}
	result, err := scheduler.ScheduleContent(context.Background(), schedule)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)

	rows, err := store.ListSchedules()
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, scheduler.engine.JobCount())
}

func TestScheduleContentRollsBackWhenRegistrationFails(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	// Passes the recurrence vocabulary check but is rejected by the cron
	// parser at registration time (minute 70 is out of range).
	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(48 * time.Hour),
		Recurrence:    "70 25 * * *",
		Priority:      5,
	}
	result, err := scheduler.ScheduleContent(context.Background(), schedule)
	require.Error(t, err)
	var schedErr *SchedulingError
	require.ErrorAs(t, err, &schedErr)
	require.NotNil(t, result)
	assert.True(t, result.Valid)

	rows, err := store.ListSchedules()
	require.NoError(t, err)
	assert.Empty(t, rows, "unarmed schedule must not survive in the store")
}

func TestJobFiresPublishesAndCompletes(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(150 * time.Millisecond),
		Priority:      5,
	}
	_, err := scheduler.ScheduleContent(context.Background(), schedule)
	require.NoError(t, err)

	row := waitForScheduleStatus(t, store, schedule.ID, models.ScheduleStatusCompleted)
	assert.Equal(t, "published to 2 platform(s)", row.Result)

	records, err := store.ListPublishRecords(schedule.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	platforms := make(map[string]bool)
	for _, record := range records {
		assert.True(t, record.Success)
		require.NotNil(t, record.PublishedAt)
		platforms[record.Platform] = true
	}
	assert.True(t, platforms["linkedin"])
	assert.True(t, platforms["twitter"])

	stats, err := scheduler.GetJobStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.JobsExecuted)
	assert.Equal(t, int64(1), stats.JobsSucceeded)
	assert.Equal(t, int64(0), stats.JobsFailed)
	assert.Equal(t, 0, stats.ActiveJobs, "one-shot registration is consumed by firing")
}

func TestJobRecordsFailureOutcome(t *testing.T) {
	buggy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "downstream unavailable", http.StatusBadGateway)
	}))
	defer buggy.Close()

	scheduler, store := newTestSchedulerWithPublisher(t, &config.PublisherConfig{
		Endpoints: map[string]string{
			"linkedin": buggy.URL,
			"twitter":  buggy.URL,
		},
	})
	item := seedItem(t, store, models.ContentTypeArticle)
	schedule := seedSchedule(t, store, item.ID, time.Now().Add(time.Hour), models.ScheduleStatusScheduled, 5)

	scheduler.runJob(schedule.ID)(context.Background())

	row, err := store.GetSchedule(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusFailed, row.Status)
	assert.Contains(t, row.Result, "published to 0/2 platforms")

	records, err := store.ListPublishRecords(schedule.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.False(t, record.Success)
		assert.NotEmpty(t, record.Error)
	}

	stats, err := scheduler.GetJobStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.JobsFailed)
	assert.Equal(t, int64(0), stats.JobsSucceeded)
}

func TestJobSkipsCancelledAndFinishedRows(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)

	seeded := []*models.Schedule{
		seedSchedule(t, store, item.ID, time.Now().Add(time.Hour), models.ScheduleStatusCancelled, 5),
		seedSchedule(t, store, item.ID, time.Now().Add(2*time.Hour), models.ScheduleStatusCompleted, 5),
		seedSchedule(t, store, item.ID, time.Now().Add(3*time.Hour), models.ScheduleStatusFailed, 5),
	}

	for _, s := range seeded {
		scheduler.runJob(s.ID)(context.Background())

		row, err := store.GetSchedule(s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.Status, row.Status, "a stray firing must not move a finished one-shot")

		records, err := store.ListPublishRecords(s.ID)
		require.NoError(t, err)
		assert.Empty(t, records)
	}

	stats, err := scheduler.GetJobStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.JobsExecuted)
	assert.Equal(t, int64(0), stats.JobsSucceeded)
	assert.Equal(t, int64(0), stats.JobsFailed)
}

func TestJobRecurringReentersFromTerminalStatus(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)

	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(time.Hour),
		Status:        models.ScheduleStatusCompleted,
		Recurrence:    "daily",
		Priority:      5,
	}
	require.NoError(t, store.CreateSchedule(schedule))

	scheduler.runJob(schedule.ID)(context.Background())

	row, err := store.GetSchedule(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCompleted, row.Status)

	records, err := store.ListPublishRecords(schedule.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "re-entry publishes to both platforms again")
}

func TestCancelScheduleDropsTimer(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(48 * time.Hour),
		Priority:      5,
	}
	_, err := scheduler.ScheduleContent(context.Background(), schedule)
	require.NoError(t, err)
	require.Equal(t, 1, scheduler.engine.JobCount())

	require.NoError(t, scheduler.CancelSchedule(context.Background(), schedule.ID))

	row, err := store.GetSchedule(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCancelled, row.Status)
	assert.Equal(t, "cancelled before firing", row.Result)
	assert.Zero(t, scheduler.engine.JobCount())

	err = scheduler.CancelSchedule(context.Background(), schedule.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRescheduleContentSwapsRegistration(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Now().Add(48 * time.Hour),
		Priority:      5,
	}
	_, err := scheduler.ScheduleContent(context.Background(), schedule)
	require.NoError(t, err)
	oldJobID := schedule.JobID()

	newTime := schedule.ScheduledTime.Add(3 * time.Hour)
	moved, err := scheduler.RescheduleContent(context.Background(), schedule.ID, newTime)
	require.NoError(t, err)
	assert.Equal(t, newTime.Unix(), moved.ScheduledTime.Unix())

	row, err := store.GetSchedule(schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, newTime.Unix(), row.ScheduledTime.Unix())

	jobs := scheduler.ActiveJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, moved.JobID(), jobs[0].ID)
	assert.NotEqual(t, oldJobID, jobs[0].ID)
}

func TestRescheduleContentRefusesNonPendingRows(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	schedule := seedSchedule(t, store, item.ID, time.Now().Add(time.Hour), models.ScheduleStatusRunning, 5)

	_, err := scheduler.RescheduleContent(context.Background(), schedule.ID, time.Now().Add(2*time.Hour))
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyAdjustmentsMovesSchedules(t *testing.T) {
	scheduler, store := newTestScheduler(t)
	item := seedItem(t, store, models.ContentTypeArticle)
	startScheduler(t, scheduler)

	base := time.Now().Add(24 * time.Hour)
	s1 := seedSchedule(t, store, item.ID, base, models.ScheduleStatusScheduled, 5)

	report := &ResolutionReport{
		Adjustments: map[uint]TimeAdjustment{
			s1.ID: {ScheduleID: s1.ID, NewTime: base.Add(90 * time.Minute), Reason: "spacing"},
			9999:  {ScheduleID: 9999, NewTime: base.Add(3 * time.Hour), Reason: "spacing"},
		},
	}
	applied, err := scheduler.ApplyAdjustments(context.Background(), report)
	assert.Equal(t, 1, applied)
	require.Error(t, err, "the unknown schedule id must surface")

	row, err := store.GetSchedule(s1.ID)
	require.NoError(t, err)
	assert.Equal(t, base.Add(90*time.Minute).Unix(), row.ScheduledTime.Unix())
}

func TestStopIsIdempotent(t *testing.T) {
	scheduler, _ := newTestScheduler(t)
	require.NoError(t, scheduler.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, scheduler.Stop(ctx))
	require.NoError(t, scheduler.Stop(ctx))
	assert.False(t, scheduler.Running())

	_, err := scheduler.ScheduleContent(context.Background(), &models.Schedule{})
	require.ErrorIs(t, err, ErrNotRunning)
}
