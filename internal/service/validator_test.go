package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/models"
)

// 2026-09-01 is a Tuesday.
var validatorNow = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

func newTestValidator(store *Store) *ScheduleValidator {
	v := NewScheduleValidator(store, zap.NewNop())
	v.now = func() time.Time { return validatorNow }
	return v
}

func validArticleItem() *models.ContentItem {
	return &models.ContentItem{
		ID:          1,
		Title:       "Quarterly engineering update",
		Content:     "A longer body that walks through the quarterly numbers in enough detail to hold a reader from the opening paragraph to the closing call to action.",
		ContentType: models.ContentTypeArticle,
		Platforms:   models.StringArray{"linkedin", "twitter"},
	}
}

func joined(entries []string) string {
	return strings.Join(entries, "\n")
}

func TestValidateScheduleAcceptsCleanSchedule(t *testing.T) {
	v := newTestValidator(newTestStore(t))
	item := validArticleItem()
	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: time.Date(2026, 9, 3, 9, 0, 0, 0, time.UTC), // Thursday 09:00
		Priority:      5,
	}

	result := v.ValidateSchedule(schedule, item)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestValidateSchedulePastTimeHandling(t *testing.T) {
	v := newTestValidator(newTestStore(t))
	item := validArticleItem()
	past := validatorNow.Add(-time.Hour)

	// A new schedule in the past is blocked outright.
	fresh := &models.Schedule{ContentItemID: item.ID, ScheduledTime: past, Priority: 5}
	result := v.ValidateSchedule(fresh, item)
	assert.False(t, result.Valid)
	assert.Contains(t, joined(result.Errors), "in the past")
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)

	// A persisted row gets the softer treatment recovery depends on.
	persisted := &models.Schedule{ID: 42, ContentItemID: item.ID, ScheduledTime: past, Priority: 5}
	result = v.ValidateSchedule(persisted, item)
	assert.True(t, result.Valid)
	assert.Contains(t, joined(result.Warnings), "in the past")
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
}

func TestValidateScheduleContentRules(t *testing.T) {
	futureSlot := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		item      *models.ContentItem
		wantError string
	}{
		{
			name: "social media title over platform limit",
			item: &models.ContentItem{
				ID:          1,
				Title:       strings.Repeat("a", 300),
				Content:     "short teaser",
				ContentType: models.ContentTypeSocialMedia,
				Platforms:   models.StringArray{"twitter"},
			},
			wantError: "at most 280 characters",
		},
		{
			name: "article body under minimum",
			item: &models.ContentItem{
				ID:          1,
				Title:       "Quarterly engineering update",
				Content:     "too short",
				ContentType: models.ContentTypeArticle,
				Platforms:   models.StringArray{"linkedin"},
			},
			wantError: "at least 100 characters",
		},
		{
			name: "video without description",
			item: &models.ContentItem{
				ID:          1,
				Title:       "Launch walkthrough",
				ContentType: models.ContentTypeVideo,
				Platforms:   models.StringArray{"youtube"},
			},
			wantError: "requires a description",
		},
		{
			name: "image without alt text",
			item: &models.ContentItem{
				ID:          1,
				Title:       "Release dashboard",
				ContentType: models.ContentTypeImage,
				Platforms:   models.StringArray{"instagram"},
			},
			wantError: "requires alt text",
		},
		{
			name: "no valid platforms",
			item: &models.ContentItem{
				ID:          1,
				Title:       "Quarterly engineering update",
				Content:     strings.Repeat("body ", 30),
				ContentType: models.ContentTypeArticle,
				Platforms:   models.StringArray{"myspace"},
			},
			wantError: "at least one valid platform",
		},
		{
			name: "unknown content type",
			item: &models.ContentItem{
				ID:          1,
				Title:       "Quarterly engineering update",
				ContentType: "hologram",
				Platforms:   models.StringArray{"linkedin"},
			},
			wantError: "unknown content type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(nil)
			schedule := &models.Schedule{ContentItemID: tt.item.ID, ScheduledTime: futureSlot, Priority: 5}

			result := v.ValidateSchedule(schedule, tt.item)
			assert.False(t, result.Valid)
			assert.Contains(t, joined(result.Errors), tt.wantError)
		})
	}
}

func TestValidateScheduleQualityWarnings(t *testing.T) {
	futureSlot := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		mutate      func(item *models.ContentItem)
		wantWarning string
	}{
		{
			name:        "all caps title",
			mutate:      func(item *models.ContentItem) { item.Title = "QUARTERLY ENGINEERING UPDATE" },
			wantWarning: "all capitals",
		},
		{
			name:        "exclamation overload",
			mutate:      func(item *models.ContentItem) { item.Content += " Huge news! Really! Truly! Honestly!" },
			wantWarning: "exclamation marks",
		},
		{
			name: "hashtag tail",
			mutate: func(item *models.ContentItem) {
				item.Content += " #a #b #c #d #e #f #g #h #i #j #k"
			},
			wantWarning: "hashtags",
		},
		{
			name: "link stuffing",
			mutate: func(item *models.ContentItem) {
				item.Content += " https://a.example https://b.example https://c.example"
			},
			wantWarning: "links",
		},
		{
			name:        "double spaces",
			mutate:      func(item *models.ContentItem) { item.Title = "Quarterly  engineering update" },
			wantWarning: "double spaces",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(nil)
			item := validArticleItem()
			tt.mutate(item)
			schedule := &models.Schedule{ContentItemID: item.ID, ScheduledTime: futureSlot, Priority: 5}

			result := v.ValidateSchedule(schedule, item)
			assert.True(t, result.Valid, "quality heuristics must not block")
			assert.Contains(t, joined(result.Warnings), tt.wantWarning)
			assert.NotEmpty(t, result.Suggestions)
		})
	}
}

func TestValidateScheduleTimingWarnings(t *testing.T) {
	tests := []struct {
		name        string
		at          time.Time
		wantWarning string
	}{
		{
			name:        "overnight slot",
			at:          time.Date(2026, 9, 3, 3, 0, 0, 0, time.UTC),
			wantWarning: "outside the 6:00-23:00 window",
		},
		{
			name:        "article on a weekend",
			at:          time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC), // Saturday
			wantWarning: "weekends",
		},
		{
			name:        "holiday slot",
			at:          time.Date(2026, 12, 25, 10, 0, 0, 0, time.UTC),
			wantWarning: "Christmas Day",
		},
		{
			name:        "new year slot",
			at:          time.Date(2027, 1, 1, 10, 0, 0, 0, time.UTC),
			wantWarning: "New Year's Day",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(nil)
			item := validArticleItem()
			schedule := &models.Schedule{ContentItemID: item.ID, ScheduledTime: tt.at, Priority: 5}

			result := v.ValidateSchedule(schedule, item)
			assert.True(t, result.Valid)
			assert.Contains(t, joined(result.Warnings), tt.wantWarning)
		})
	}
}

func TestValidateScheduleRecurrenceHandling(t *testing.T) {
	v := newTestValidator(nil)
	item := validArticleItem()
	at := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)

	bad := &models.Schedule{ContentItemID: item.ID, ScheduledTime: at, Recurrence: "fortnightly", Priority: 5}
	result := v.ValidateSchedule(bad, item)
	assert.False(t, result.Valid)
	assert.Contains(t, joined(result.Errors), "unrecognized recurrence")

	hourly := &models.Schedule{ContentItemID: item.ID, ScheduledTime: at, Recurrence: "hourly", Priority: 5}
	result = v.ValidateSchedule(hourly, item)
	assert.True(t, result.Valid)
	assert.Contains(t, joined(result.Warnings), "audience fatigue")

	cronHourly := &models.Schedule{ContentItemID: item.ID, ScheduledTime: at, Recurrence: "30 * * * *", Priority: 5}
	result = v.ValidateSchedule(cronHourly, item)
	assert.True(t, result.Valid)
	assert.Contains(t, joined(result.Warnings), "audience fatigue")
}

func TestValidateScheduleCrowdingWarnings(t *testing.T) {
	store := newTestStore(t)
	v := newTestValidator(store)

	// Existing schedules belong to a different content item so the nearby
	// check does not exclude them.
	other := seedItem(t, store, models.ContentTypeArticle)
	slotHour := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, 5 * time.Minute, 50 * time.Minute, 55 * time.Minute} {
		seedSchedule(t, store, other.ID, slotHour.Add(offset), models.ScheduleStatusScheduled, 5)
	}

	item := validArticleItem()
	item.ID = other.ID + 1
	schedule := &models.Schedule{ContentItemID: item.ID, ScheduledTime: slotHour.Add(20 * time.Minute), Priority: 5}

	result := v.ValidateSchedule(schedule, item)
	assert.True(t, result.Valid)
	warnings := joined(result.Warnings)
	assert.Contains(t, warnings, "posts already scheduled in the same hour")
	assert.Contains(t, warnings, "within 30 minutes")
}

func TestValidateScheduleDeterministic(t *testing.T) {
	store := newTestStore(t)
	v := newTestValidator(store)

	other := seedItem(t, store, models.ContentTypeArticle)
	slotHour := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, 5 * time.Minute, 50 * time.Minute, 55 * time.Minute} {
		seedSchedule(t, store, other.ID, slotHour.Add(offset), models.ScheduleStatusScheduled, 5)
	}

	// A fixture that trips errors, quality warnings and the store-backed
	// crowding checks all at once.
	item := &models.ContentItem{
		ID:          other.ID + 1,
		Title:       "HUGE LAUNCH DAY",
		Content:     "Launch day! Huge! Wow! Amazing! #a #b #c #d #e #f #g #h #i #j #k https://a.example https://b.example https://c.example",
		ContentType: models.ContentTypeSocialMedia,
		Platforms:   models.StringArray{"myspace"},
	}
	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: slotHour.Add(20 * time.Minute),
		Recurrence:    "hourly",
		Priority:      22,
	}

	first := v.ValidateSchedule(schedule, item)
	require.False(t, first.Valid)
	require.NotEmpty(t, first.Errors)
	require.NotEmpty(t, first.Suggestions)
	warnings := joined(first.Warnings)
	assert.Contains(t, warnings, "posts already scheduled in the same hour")
	assert.Contains(t, warnings, "within 30 minutes")

	// Same schedule, same store contents: every field of the result must
	// come back identical, entry order included.
	for i := 0; i < 9; i++ {
		assert.Equal(t, first, v.ValidateSchedule(schedule, item))
	}
}

func TestValidateMultipleSchedulesCrossSpacing(t *testing.T) {
	store := newTestStore(t)
	v := newTestValidator(store)

	base := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)
	item := validArticleItem()

	schedules := []models.Schedule{
		{ContentItemID: item.ID, ScheduledTime: base, Priority: 5, ContentItem: *item},
		{ContentItemID: item.ID, ScheduledTime: base.Add(10 * time.Minute), Priority: 5, ContentItem: *item},
		{ContentItemID: item.ID, ScheduledTime: base.Add(150 * time.Minute), Priority: 5, ContentItem: *item},
	}

	results := v.ValidateMultipleSchedules(schedules)
	require.Len(t, results, 3)

	for _, idx := range []int{0, 1} {
		assert.True(t, results[idx].Valid)
		assert.Contains(t, joined(results[idx].Warnings), "apart")
		assert.InDelta(t, 0.95, results[idx].Confidence, 1e-9)
	}
	assert.Empty(t, results[2].Warnings)
	assert.Equal(t, 1.0, results[2].Confidence)
}

func TestValidationConfidenceFloorsAtZero(t *testing.T) {
	v := newTestValidator(nil)
	item := &models.ContentItem{
		ID:          1,
		Title:       strings.Repeat("a", 300),
		Content:     "",
		ContentType: models.ContentTypeSocialMedia,
		Platforms:   models.StringArray{},
	}
	schedule := &models.Schedule{
		ContentItemID: item.ID,
		ScheduledTime: validatorNow.Add(-time.Hour),
		Recurrence:    "fortnightly",
		Priority:      5,
	}

	result := v.ValidateSchedule(schedule, item)
	assert.False(t, result.Valid)
	assert.GreaterOrEqual(t, len(result.Errors), 5)
	assert.Equal(t, 0.0, result.Confidence)
}
