package service

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/config"
	"github.com/slotline/slotline/internal/models"
)

// optimalHours is the per-type table of peak posting hours the optimizer
// searches over.
var optimalHours = map[models.ContentType][]int{
	models.ContentTypeArticle:     {9, 14, 16},
	models.ContentTypeBlogPost:    {8, 11, 15},
	models.ContentTypeSocialMedia: {8, 12, 17, 19},
	models.ContentTypeVideo:       {12, 18, 20},
	models.ContentTypeNewsletter:  {7, 9, 10},
	models.ContentTypeImage:       {11, 15, 19},
}

var defaultOptimalHours = []int{9, 12, 17}

func optimalHoursFor(ct models.ContentType) []int {
	if hours, ok := optimalHours[ct]; ok {
		return hours
	}
	return defaultOptimalHours
}

// OptimizationResult describes the best posting time found for a schedule.
type OptimizationResult struct {
	Schedule       *models.Schedule `json:"original_schedule"`
	OriginalScore  float64          `json:"original_score"`
	OptimizedTime  time.Time        `json:"optimized_time"`
	OptimizedScore float64          `json:"optimized_score"`
	Improvement    float64          `json:"improvement_score"`
	Reason         string           `json:"optimization_reason"`
	Confidence     float64          `json:"confidence"`
}

// TimeSuggestion is one ranked candidate slot for fresh content.
type TimeSuggestion struct {
	Time   time.Time `json:"time"`
	Score  float64   `json:"score"`
	Day    string    `json:"day"`
	Hour   int       `json:"hour"`
	Reason string    `json:"reason"`
}

// PerformanceBucket aggregates past schedule outcomes for one dimension
// value (an hour, a weekday or a content type).
type PerformanceBucket struct {
	Label   string  `json:"label"`
	Average float64 `json:"average_score"`
	Count   int     `json:"count"`
}

// PerformanceReport summarizes how past schedules performed, grouped three
// ways, with templated scheduling recommendations.
type PerformanceReport struct {
	Since           time.Time           `json:"since"`
	TotalAnalyzed   int                 `json:"total_analyzed"`
	ByHour          []PerformanceBucket `json:"by_hour"`
	ByWeekday       []PerformanceBucket `json:"by_weekday"`
	ByContentType   []PerformanceBucket `json:"by_content_type"`
	Recommendations []string            `json:"recommendations"`
}

// ScheduleOptimizer scores candidate posting times with an engagement
// heuristic and searches nearby slots for better ones. Scores are a ranking
// proxy, not a measured metric.
type ScheduleOptimizer struct {
	store  *Store
	logger *zap.Logger

	minGap        time.Duration
	searchDays    int
	clusterWindow time.Duration
	clusterMax    int

	now func() time.Time
}

func NewScheduleOptimizer(cfg *config.OptimizerConfig, store *Store, logger *zap.Logger) *ScheduleOptimizer {
	return &ScheduleOptimizer{
		store:         store,
		logger:        logger,
		minGap:        time.Duration(cfg.MinGapMinutes) * time.Minute,
		searchDays:    cfg.SearchDays,
		clusterWindow: time.Duration(cfg.ClusterWindow) * time.Hour,
		clusterMax:    cfg.ClusterMaximum,
		now:           time.Now,
	}
}

// EngagementScore rates a candidate time for a content type and priority.
// Additive: priority base, peak-hour bonus (with a decaying near-miss
// bonus), day-of-week bonus per type, minus a clustering penalty when the
// surrounding two-hour window is already crowded. Floored at zero.
func (o *ScheduleOptimizer) EngagementScore(t time.Time, ct models.ContentType, priority int, excludeItemID uint) float64 {
	score := float64(priority * 10)

	hour := t.Hour()
	hours := optimalHoursFor(ct)
	if containsHour(hours, hour) {
		score += 50
	} else {
		minDist := 24
		for _, h := range hours {
			d := hour - h
			if d < 0 {
				d = -d
			}
			if d < minDist {
				minDist = d
			}
		}
		if bonus := 30 - 5*minDist; bonus > 0 {
			score += float64(bonus)
		}
	}

	switch ct {
	case models.ContentTypeArticle, models.ContentTypeBlogPost, models.ContentTypeNewsletter:
		if isWeekend(t) {
			score += 5
		} else {
			score += 20
		}
	case models.ContentTypeVideo:
		if isWeekend(t) || hour >= 18 {
			score += 25
		} else {
			score += 10
		}
	default:
		score += 15
	}

	if o.store != nil {
		if n := o.clusterCount(t, excludeItemID); n > o.clusterMax {
			score -= float64(5 * n)
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

// clusterCount counts other schedules inside the clustering window around t.
func (o *ScheduleOptimizer) clusterCount(t time.Time, excludeItemID uint) int {
	nearby, err := o.store.ListSchedulesNear(t, o.clusterWindow, excludeItemID)
	if err != nil {
		o.logger.Warn("Clustering lookup failed, skipping penalty", zap.Error(err))
		return 0
	}
	return len(nearby)
}

// OptimizeSchedule searches the days around the schedule's current slot,
// at each peak hour for its content type, for the highest-scoring future
// candidate. The schedule itself is not modified.
func (o *ScheduleOptimizer) OptimizeSchedule(schedule *models.Schedule) *OptimizationResult {
	ct := schedule.ContentItem.ContentType
	current := o.EngagementScore(schedule.ScheduledTime, ct, schedule.Priority, schedule.ContentItemID)

	bestTime := schedule.ScheduledTime
	bestScore := current
	now := o.now()
	base := schedule.ScheduledTime

	for dayOffset := -o.searchDays; dayOffset <= o.searchDays; dayOffset++ {
		day := base.AddDate(0, 0, dayOffset)
		for _, hour := range optimalHoursFor(ct) {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, base.Location())
			if !candidate.After(now) {
				continue
			}
			score := o.EngagementScore(candidate, ct, schedule.Priority, schedule.ContentItemID)
			if score > bestScore {
				bestTime = candidate
				bestScore = score
			}
		}
	}

	improvement := bestScore - current
	result := &OptimizationResult{
		Schedule:       schedule,
		OriginalScore:  current,
		OptimizedTime:  bestTime,
		OptimizedScore: bestScore,
		Improvement:    improvement,
	}
	if improvement > 0 {
		result.Reason = fmt.Sprintf("Shifting from %s to %s raises the projected engagement score by %.0f points; %02d:00 is a peak hour for %s content",
			base.Format("Mon 15:04"), bestTime.Format("Mon 15:04"), improvement, bestTime.Hour(), ct)
	} else {
		result.Reason = fmt.Sprintf("Current slot %s already scores best among nearby peak hours for %s content",
			base.Format("Mon 15:04"), ct)
	}
	result.Confidence = improvementConfidence(current, improvement)
	return result
}

func improvementConfidence(current, improvement float64) float64 {
	if current <= 0 {
		return 0
	}
	c := improvement / current
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}

// OptimizeMultipleSchedules optimizes a batch in descending priority order.
// With avoidConflicts set, each optimized time is nudged in growing steps
// until it keeps the minimum gap from every time already accepted in this
// batch, and its score is recomputed at the final slot.
func (o *ScheduleOptimizer) OptimizeMultipleSchedules(schedules []models.Schedule, avoidConflicts bool) []*OptimizationResult {
	ordered := make([]*models.Schedule, len(schedules))
	for i := range schedules {
		ordered[i] = &schedules[i]
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		if ordered[a].Priority != ordered[b].Priority {
			return ordered[a].Priority > ordered[b].Priority
		}
		return ordered[a].ScheduledTime.Before(ordered[b].ScheduledTime)
	})

	results := make([]*OptimizationResult, 0, len(ordered))
	accepted := make([]time.Time, 0, len(ordered))

	for _, schedule := range ordered {
		result := o.OptimizeSchedule(schedule)

		if avoidConflicts {
			adjusted, ok := o.nudgeClear(result.OptimizedTime, accepted)
			if !ok {
				o.logger.Warn("No nudge cleared the minimum gap, keeping optimized time",
					zap.Uint("schedule_id", schedule.ID),
					zap.Time("optimized_time", result.OptimizedTime))
			}
			if !adjusted.Equal(result.OptimizedTime) {
				ct := schedule.ContentItem.ContentType
				result.OptimizedTime = adjusted
				result.OptimizedScore = o.EngagementScore(adjusted, ct, schedule.Priority, schedule.ContentItemID)
				result.Improvement = result.OptimizedScore - result.OriginalScore
				result.Confidence = improvementConfidence(result.OriginalScore, result.Improvement)
				result.Reason = fmt.Sprintf("%s; nudged to %s to keep %s clear of other optimized posts",
					result.Reason, adjusted.Format("Mon 15:04"), o.minGap)
			}
		}

		accepted = append(accepted, result.OptimizedTime)
		results = append(results, result)
	}
	return results
}

var nudgeSteps = []time.Duration{30 * time.Minute, 60 * time.Minute, 90 * time.Minute, 120 * time.Minute}

// nudgeClear returns the first candidate around t that keeps the minimum
// gap from all accepted times, trying +step then -step for each step size.
// The second return is false when no nudge cleared and t comes back as-is.
func (o *ScheduleOptimizer) nudgeClear(t time.Time, accepted []time.Time) (time.Time, bool) {
	if o.clearOf(t, accepted) {
		return t, true
	}
	for _, step := range nudgeSteps {
		for _, dir := range []time.Duration{1, -1} {
			candidate := t.Add(dir * step)
			if o.clearOf(candidate, accepted) {
				return candidate, true
			}
		}
	}
	return t, false
}

func (o *ScheduleOptimizer) clearOf(t time.Time, accepted []time.Time) bool {
	for _, other := range accepted {
		gap := t.Sub(other)
		if gap < 0 {
			gap = -gap
		}
		if gap < o.minGap {
			return false
		}
	}
	return true
}

// SuggestOptimalTimes enumerates every peak hour of every day in the range
// starting at start, scores each as a fresh candidate with a neutral
// priority, and returns the top count by score.
func (o *ScheduleOptimizer) SuggestOptimalTimes(ct models.ContentType, start time.Time, days, count int) []TimeSuggestion {
	if days <= 0 {
		days = 7
	}
	if count <= 0 {
		count = 5
	}
	const neutralPriority = 5

	now := o.now()
	suggestions := make([]TimeSuggestion, 0, days*4)
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		for _, hour := range optimalHoursFor(ct) {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, start.Location())
			if !candidate.After(now) {
				continue
			}
			score := o.EngagementScore(candidate, ct, neutralPriority, 0)
			suggestions = append(suggestions, TimeSuggestion{
				Time:  candidate,
				Score: score,
				Day:   candidate.Weekday().String(),
				Hour:  hour,
				Reason: fmt.Sprintf("%s %02d:00 is a peak slot for %s content (projected score %.0f)",
					candidate.Weekday(), hour, ct, score),
			})
		}
	}

	sort.SliceStable(suggestions, func(a, b int) bool {
		return suggestions[a].Score > suggestions[b].Score
	})
	if len(suggestions) > count {
		suggestions = suggestions[:count]
	}
	return suggestions
}

// performanceScore rates one past schedule: a neutral base adjusted by the
// outcome the row last recorded, plus a priority weighting.
func performanceScore(s *models.Schedule) float64 {
	score := 50.0
	switch s.Status {
	case models.ScheduleStatusCompleted:
		score += 30
	case models.ScheduleStatusRunning:
		score += 15
	case models.ScheduleStatusFailed:
		score -= 20
	}
	return score + float64(2*s.Priority)
}

// AnalyzePerformance aggregates performance scores of recent schedules by
// hour, weekday and content type, and derives recommendations from the
// best bucket of each dimension.
func (o *ScheduleOptimizer) AnalyzePerformance(daysBack int) (*PerformanceReport, error) {
	if daysBack <= 0 {
		daysBack = 30
	}
	cutoff := o.now().AddDate(0, 0, -daysBack)

	rows, err := o.store.ListSchedulesSince(cutoff,
		models.ScheduleStatusCompleted,
		models.ScheduleStatusRunning,
		models.ScheduleStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("load schedules for analysis: %w", err)
	}

	type agg struct {
		sum   float64
		count int
	}
	byHour := make(map[string]*agg)
	byWeekday := make(map[string]*agg)
	byType := make(map[string]*agg)
	add := func(m map[string]*agg, key string, score float64) {
		a, ok := m[key]
		if !ok {
			a = &agg{}
			m[key] = a
		}
		a.sum += score
		a.count++
	}

	for i := range rows {
		s := &rows[i]
		score := performanceScore(s)
		add(byHour, fmt.Sprintf("%02d:00", s.ScheduledTime.Hour()), score)
		add(byWeekday, s.ScheduledTime.Weekday().String(), score)
		add(byType, string(s.ContentItem.ContentType), score)
	}

	top := func(m map[string]*agg) []PerformanceBucket {
		buckets := make([]PerformanceBucket, 0, len(m))
		for label, a := range m {
			buckets = append(buckets, PerformanceBucket{
				Label:   label,
				Average: a.sum / float64(a.count),
				Count:   a.count,
			})
		}
		sort.SliceStable(buckets, func(a, b int) bool {
			if buckets[a].Average != buckets[b].Average {
				return buckets[a].Average > buckets[b].Average
			}
			return buckets[a].Label < buckets[b].Label
		})
		if len(buckets) > 5 {
			buckets = buckets[:5]
		}
		return buckets
	}

	report := &PerformanceReport{
		Since:         cutoff,
		TotalAnalyzed: len(rows),
		ByHour:        top(byHour),
		ByWeekday:     top(byWeekday),
		ByContentType: top(byType),
	}
	if len(report.ByHour) > 0 {
		best := report.ByHour[0]
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("Schedule more content around %s; past posts there average a %.0f performance score", best.Label, best.Average))
	}
	if len(report.ByWeekday) > 0 {
		best := report.ByWeekday[0]
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%s has been the strongest day (%.0f average over %d posts)", best.Label, best.Average, best.Count))
	}
	if len(report.ByContentType) > 0 {
		best := report.ByContentType[0]
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%s content has performed best recently; consider weighting the calendar toward it", best.Label))
	}
	return report, nil
}

func containsHour(hours []int, h int) bool {
	for _, hour := range hours {
		if hour == h {
			return true
		}
	}
	return false
}
