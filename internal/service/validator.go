package service

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/models"
)

// ValidationResult is the advisory outcome of validating one schedule.
// Errors block persistence; warnings and suggestions do not.
type ValidationResult struct {
	Valid       bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Confidence  float64  `json:"confidence"`
}

func (r *ValidationResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *ValidationResult) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *ValidationResult) addSuggestion(msg string) {
	r.Suggestions = append(r.Suggestions, msg)
}

// finalize computes Valid and Confidence from the collected entries.
// Confidence drops 0.2 per error and 0.05 per warning, floored at zero.
func (r *ValidationResult) finalize() {
	r.Valid = len(r.Errors) == 0
	confidence := 1.0 - 0.2*float64(len(r.Errors)) - 0.05*float64(len(r.Warnings))
	if confidence < 0 {
		confidence = 0
	}
	r.Confidence = confidence
}

// contentRule bounds title/content length per content type. Zero means
// unbounded.
type contentRule struct {
	titleMin   int
	titleMax   int
	contentMin int
	contentMax int
}

var contentRules = map[models.ContentType]contentRule{
	models.ContentTypeArticle:     {titleMin: 10, titleMax: 200, contentMin: 100},
	models.ContentTypeBlogPost:    {titleMin: 10, titleMax: 200, contentMin: 200},
	models.ContentTypeNewsletter:  {titleMin: 5, titleMax: 150, contentMin: 200},
	models.ContentTypeSocialMedia: {titleMax: 280, contentMin: 1, contentMax: 3000},
	models.ContentTypeVideo:       {titleMin: 5, titleMax: 150},
	models.ContentTypeImage:       {titleMin: 3, titleMax: 200},
}

// holidays maps "MM-DD" to a display name. Deliberately small; extend as
// needed.
var holidays = map[string]string{
	"01-01": "New Year's Day",
	"07-04": "Independence Day",
	"12-25": "Christmas Day",
}

const (
	maxFutureDays      = 365
	earliestPostingHour = 6
	latestPostingHour   = 23
	hourlyFrequencyCap  = 3
	dailyFrequencyCap   = 10
	nearbyWindow        = 30 * time.Minute
	dailyCrowdingCap    = 5
	crossCheckWindow    = 2 * time.Hour
	crossCheckMinGap    = 15 * time.Minute
)

// ScheduleValidator checks schedules against platform limits, content-type
// rules, timing sanity and cross-schedule frequency limits. It never mutates
// anything; existing rows are consulted read-only through the store.
type ScheduleValidator struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time
}

func NewScheduleValidator(store *Store, logger *zap.Logger) *ScheduleValidator {
	return &ScheduleValidator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ValidateSchedule validates one schedule together with its content item.
// A schedule with ID zero is treated as new; persisted rows get the softer
// past-time handling recovery relies on.
func (v *ScheduleValidator) ValidateSchedule(schedule *models.Schedule, item *models.ContentItem) *ValidationResult {
	result := &ValidationResult{}

	v.checkBasicProperties(schedule, result)
	v.checkContentProperties(item, result)
	v.checkTimingSanity(schedule, item, result)
	v.checkNearbySchedules(schedule, item, result)

	result.finalize()
	return result
}

// ValidateMultipleSchedules validates each schedule independently, then
// overlays a cross-schedule spacing pass: pairs inside a 2-hour window that
// sit closer than 15 minutes get a warning on both results. Results align
// with the input order; each schedule's ContentItem association is used.
func (v *ScheduleValidator) ValidateMultipleSchedules(schedules []models.Schedule) []*ValidationResult {
	results := make([]*ValidationResult, len(schedules))
	for i := range schedules {
		results[i] = v.ValidateSchedule(&schedules[i], &schedules[i].ContentItem)
	}

	order := make([]int, len(schedules))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return schedules[order[a]].ScheduledTime.Before(schedules[order[b]].ScheduledTime)
	})

	for a := 0; a < len(order); a++ {
		for b := a + 1; b < len(order); b++ {
			first, second := order[a], order[b]
			gap := schedules[second].ScheduledTime.Sub(schedules[first].ScheduledTime)
			if gap > crossCheckWindow {
				// The list is time-sorted; later pairs only get wider.
				break
			}
			if gap < crossCheckMinGap {
				msg := fmt.Sprintf("schedules %q and %q are only %s apart",
					schedules[first].ContentItem.Title, schedules[second].ContentItem.Title, gap.Round(time.Minute))
				suggestion := "Space posts at least 15 minutes apart so they do not compete for the same audience"
				for _, idx := range []int{first, second} {
					results[idx].addWarning(msg)
					results[idx].addSuggestion(suggestion)
				}
			}
		}
	}

	for _, r := range results {
		r.finalize()
	}
	return results
}

func (v *ScheduleValidator) checkBasicProperties(schedule *models.Schedule, result *ValidationResult) {
	if schedule.ContentItemID == 0 {
		result.addError("schedule has no content item")
	}
	if schedule.ScheduledTime.IsZero() {
		result.addError("scheduled time is required")
		return
	}

	if schedule.Priority < 1 || schedule.Priority > 10 {
		result.addWarning(fmt.Sprintf("priority %d is outside the 1-10 range", schedule.Priority))
	}

	now := v.now()
	if schedule.ScheduledTime.Before(now) {
		if schedule.ID == 0 {
			result.addError("scheduled time is in the past")
		} else {
			result.addWarning("scheduled time is in the past; the job will fire immediately or be recorded as missed")
		}
	}
	if schedule.ScheduledTime.After(now.AddDate(0, 0, maxFutureDays)) {
		result.addWarning(fmt.Sprintf("scheduled time is more than %d days in the future", maxFutureDays))
		result.addSuggestion("Consider scheduling closer to the publish date; engagement forecasts this far out are unreliable")
	}

	if schedule.Recurrence != "" {
		rec, err := ParseRecurrence(schedule.Recurrence)
		if err != nil {
			result.addError(err.Error())
		} else if rec.Hourly() {
			result.addWarning("hourly recurrence risks audience fatigue")
			result.addSuggestion("Prefer a daily or weekly cadence for the same content")
		}
	}
}

func (v *ScheduleValidator) checkContentProperties(item *models.ContentItem, result *ValidationResult) {
	if item == nil || item.ID == 0 && item.Title == "" && item.ContentType == "" {
		result.addError("content item is missing")
		return
	}
	if item.ContentType == "" {
		result.addError("content type must be set before scheduling")
	} else if !item.ContentType.Valid() {
		result.addError(fmt.Sprintf("unknown content type %q", item.ContentType))
	}
	if len(item.PlatformList()) == 0 {
		result.addError("at least one valid platform must be set before scheduling")
	}

	titleLen := utf8.RuneCountInString(item.Title)
	contentLen := utf8.RuneCountInString(item.Content)

	if rule, ok := contentRules[item.ContentType]; ok {
		if rule.titleMin > 0 && titleLen < rule.titleMin {
			result.addError(fmt.Sprintf("%s title must be at least %d characters (have %d)", item.ContentType, rule.titleMin, titleLen))
		}
		if rule.titleMax > 0 && titleLen > rule.titleMax {
			result.addError(fmt.Sprintf("%s title must be at most %d characters (have %d)", item.ContentType, rule.titleMax, titleLen))
		}
		if rule.contentMin > 0 && contentLen < rule.contentMin {
			result.addError(fmt.Sprintf("%s content must be at least %d characters (have %d)", item.ContentType, rule.contentMin, contentLen))
		}
		if rule.contentMax > 0 && contentLen > rule.contentMax {
			result.addError(fmt.Sprintf("%s content must be at most %d characters (have %d)", item.ContentType, rule.contentMax, contentLen))
		}
	}

	switch item.ContentType {
	case models.ContentTypeVideo:
		if strings.TrimSpace(item.Title) == "" {
			result.addError("video content requires a title")
		}
		if strings.TrimSpace(item.Description) == "" {
			result.addError("video content requires a description")
		}
	case models.ContentTypeImage:
		if strings.TrimSpace(item.Title) == "" {
			result.addError("image content requires a title")
		}
		if strings.TrimSpace(item.AltText) == "" {
			result.addError("image content requires alt text")
		}
	}

	v.checkContentQuality(item, result)
}

// checkContentQuality adds the non-blocking quality heuristics.
func (v *ScheduleValidator) checkContentQuality(item *models.ContentItem, result *ValidationResult) {
	if isAllCaps(item.Title) {
		result.addWarning("title is written in all capitals")
		result.addSuggestion("Rewrite the title in sentence case; all-caps titles read as shouting")
	}

	combined := item.Title + " " + item.Content
	if n := strings.Count(combined, "!"); n > 3 {
		result.addWarning(fmt.Sprintf("content uses %d exclamation marks", n))
		result.addSuggestion("Cut the exclamation marks down to one or two")
	}
	if n := strings.Count(combined, "?"); n > 5 {
		result.addWarning(fmt.Sprintf("content uses %d question marks", n))
		result.addSuggestion("Too many questions dilute the message; keep the strongest ones")
	}
	if n := strings.Count(combined, "#"); n > 10 {
		result.addWarning(fmt.Sprintf("content uses %d hashtags", n))
		result.addSuggestion("Most platforms reward 3-5 focused hashtags over a long tail")
	}
	if n := strings.Count(combined, "http://") + strings.Count(combined, "https://"); n > 2 {
		result.addWarning(fmt.Sprintf("content contains %d links", n))
		result.addSuggestion("Keep one primary link per post; extra links split the clicks")
	}
	if strings.Contains(combined, "  ") {
		result.addWarning("content contains double spaces")
		result.addSuggestion("Collapse repeated whitespace before publishing")
	}
}

func (v *ScheduleValidator) checkTimingSanity(schedule *models.Schedule, item *models.ContentItem, result *ValidationResult) {
	if schedule.ScheduledTime.IsZero() {
		return
	}
	t := schedule.ScheduledTime

	if hour := t.Hour(); hour < earliestPostingHour || hour > latestPostingHour {
		result.addWarning(fmt.Sprintf("posting at %02d:00 falls outside the %d:00-%d:00 window most audiences are awake for",
			hour, earliestPostingHour, latestPostingHour))
	}

	if item != nil && item.ContentType == models.ContentTypeArticle && isWeekend(t) {
		result.addWarning("long-form articles scheduled on weekends tend to underperform")
	}

	if name, ok := holidays[t.Format("01-02")]; ok {
		result.addWarning(fmt.Sprintf("scheduled on %s; engagement is usually reduced on holidays", name))
	}

	if v.store == nil {
		return
	}

	hourStart := t.Truncate(time.Hour)
	if count, err := v.store.CountSchedulesBetween(hourStart, hourStart.Add(time.Hour), 0); err != nil {
		v.logger.Warn("hourly frequency check failed", zap.Error(err))
	} else if count > hourlyFrequencyCap {
		result.addWarning(fmt.Sprintf("%d posts already scheduled in the same hour", count))
	}

	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if count, err := v.store.CountSchedulesBetween(dayStart, dayStart.AddDate(0, 0, 1), 0); err != nil {
		v.logger.Warn("daily frequency check failed", zap.Error(err))
	} else if count > dailyFrequencyCap {
		result.addWarning(fmt.Sprintf("%d posts already scheduled on the same day", count))
	}
}

// checkNearbySchedules warns about other content crowding this schedule's
// slot. The schedule's own content item is excluded so re-validating an
// existing row does not flag itself.
func (v *ScheduleValidator) checkNearbySchedules(schedule *models.Schedule, item *models.ContentItem, result *ValidationResult) {
	if v.store == nil || schedule.ScheduledTime.IsZero() {
		return
	}
	var excludeID uint
	if item != nil {
		excludeID = item.ID
	}

	nearby, err := v.store.ListSchedulesNear(schedule.ScheduledTime, nearbyWindow, excludeID)
	if err != nil {
		v.logger.Warn("nearby schedule check failed", zap.Error(err))
		return
	}
	if len(nearby) > 0 {
		result.addWarning(fmt.Sprintf("%d other schedule(s) within 30 minutes of this slot", len(nearby)))
	}

	t := schedule.ScheduledTime
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	count, err := v.store.CountSchedulesBetween(dayStart, dayStart.AddDate(0, 0, 1), excludeID)
	if err != nil {
		v.logger.Warn("daily crowding check failed", zap.Error(err))
		return
	}
	if count > dailyCrowdingCap {
		result.addWarning(fmt.Sprintf("%d other schedules already occupy this calendar day", count))
	}
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}
