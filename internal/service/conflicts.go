package service

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/slotline/slotline/internal/models"
)

// ConflictType classifies an undesirable relationship between two schedules.
type ConflictType string

const (
	ConflictTimeOverlap ConflictType = "time_overlap"
	ConflictPlatform    ConflictType = "platform_conflict"
	ConflictResource    ConflictType = "resource_conflict"
	ConflictPriority    ConflictType = "priority_conflict"
)

// ConflictSeverity grades how urgent a conflict is.
type ConflictSeverity string

const (
	SeverityLow    ConflictSeverity = "low"
	SeverityMedium ConflictSeverity = "medium"
	SeverityHigh   ConflictSeverity = "high"
)

func severityRank(s ConflictSeverity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ConflictInfo is one detected conflict between two schedules. Derived and
// consumed immediately; never persisted. Schedule1 is always the earlier of
// the pair.
type ConflictInfo struct {
	Schedule1           *models.Schedule `json:"schedule_1"`
	Schedule2           *models.Schedule `json:"schedule_2"`
	Type                ConflictType     `json:"conflict_type"`
	Severity            ConflictSeverity `json:"severity"`
	SuggestedResolution string           `json:"suggested_resolution"`
}

// TimeAdjustment is one proposed schedule move. The resolver only proposes;
// persisting an accepted adjustment is the caller's job.
type TimeAdjustment struct {
	ScheduleID uint      `json:"schedule_id"`
	NewTime    time.Time `json:"new_scheduled_time"`
	Reason     string    `json:"reason"`
}

// ResolutionReport aggregates one resolve pass.
type ResolutionReport struct {
	Total       int                     `json:"total_conflicts"`
	Resolved    int                     `json:"resolved"`
	Failed      int                     `json:"failed"`
	SuccessRate float64                 `json:"success_rate"`
	Adjustments map[uint]TimeAdjustment `json:"adjustments"`
	Failures    []string                `json:"failures,omitempty"`
}

// CandidateSlot is one evaluated alternative time for a proposed schedule.
type CandidateSlot struct {
	Time          time.Time        `json:"time"`
	ConflictCount int              `json:"conflict_count"`
	WorstSeverity ConflictSeverity `json:"worst_severity,omitempty"`
}

// ScheduleSuggestion is the outcome of searching around a proposed time.
type ScheduleSuggestion struct {
	OptimalTime  time.Time       `json:"optimal_time"`
	Conflicts    []ConflictInfo  `json:"conflicts"`
	Alternatives []CandidateSlot `json:"alternatives,omitempty"`
}

const (
	occupiedSlot     = time.Hour        // every schedule blocks a 1-hour window
	tightOverlapGap  = 30 * time.Minute // closer than this makes an overlap high severity
	platformWindow   = 15 * time.Minute
	priorityWindow   = 60 * time.Minute
	highPriorityOver = 7
	lowPriorityUnder = 4

	overlapShift  = 90 * time.Minute
	platformShift = 20 * time.Minute
	priorityShift = 2 * time.Hour
)

// ConflictResolver detects pairwise conflicts among schedules and proposes
// time adjustments. It holds no state and never writes to the store.
type ConflictResolver struct {
	logger *zap.Logger
}

func NewConflictResolver(logger *zap.Logger) *ConflictResolver {
	return &ConflictResolver{logger: logger}
}

// DetectConflicts checks every pair of schedules for time overlap, platform
// crowding and priority inversion. The input is not mutated.
func (r *ConflictResolver) DetectConflicts(schedules []models.Schedule) []ConflictInfo {
	ordered := make([]*models.Schedule, len(schedules))
	for i := range schedules {
		ordered[i] = &schedules[i]
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].ScheduledTime.Before(ordered[b].ScheduledTime)
	})

	var conflicts []ConflictInfo
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			pair := r.checkPair(ordered[i], ordered[j], ordered[i].ScheduledTime, ordered[j].ScheduledTime)
			conflicts = append(conflicts, pair...)
		}
	}

	if len(conflicts) > 0 {
		r.logger.Debug("Conflicts detected",
			zap.Int("schedules", len(schedules)), zap.Int("conflicts", len(conflicts)))
	}
	return conflicts
}

// checkPair runs the three pairwise rules against explicit times, so the
// resolver can re-evaluate a conflict against proposed times without
// touching the rows. first is the earlier schedule at detection time.
//
// The platform rule deliberately ignores which platforms the two schedules
// target; any pair inside the 15-minute window is flagged. A pair that close
// also trips the time-overlap rule, so such pairs carry both conflicts.
func (r *ConflictResolver) checkPair(first, second *models.Schedule, t1, t2 time.Time) []ConflictInfo {
	gap := t2.Sub(t1)
	if gap < 0 {
		gap = -gap
	}

	var conflicts []ConflictInfo

	if gap < occupiedSlot {
		severity := SeverityMedium
		if gap < tightOverlapGap {
			severity = SeverityHigh
		}
		conflicts = append(conflicts, ConflictInfo{
			Schedule1: first,
			Schedule2: second,
			Type:      ConflictTimeOverlap,
			Severity:  severity,
			SuggestedResolution: fmt.Sprintf("Schedules %d and %d occupy overlapping 1-hour slots (%s apart); move the lower-priority one at least an hour away",
				first.ID, second.ID, gap.Round(time.Minute)),
		})
	}

	if gap <= platformWindow {
		conflicts = append(conflicts, ConflictInfo{
			Schedule1: first,
			Schedule2: second,
			Type:      ConflictPlatform,
			Severity:  SeverityMedium,
			SuggestedResolution: fmt.Sprintf("Schedules %d and %d post within %s of each other and will crowd the feed; stagger them by 20 minutes or more",
				first.ID, second.ID, platformWindow),
		})
	}

	if gap <= priorityWindow {
		var high, low *models.Schedule
		switch {
		case first.Priority > highPriorityOver && second.Priority < lowPriorityUnder:
			high, low = first, second
		case second.Priority > highPriorityOver && first.Priority < lowPriorityUnder:
			high, low = second, first
		}
		if high != nil {
			conflicts = append(conflicts, ConflictInfo{
				Schedule1: first,
				Schedule2: second,
				Type:      ConflictPriority,
				Severity:  SeverityLow,
				SuggestedResolution: fmt.Sprintf("Low-priority schedule %d sits within an hour of high-priority schedule %d; move it at least 2 hours out of the way",
					low.ID, high.ID),
			})
		}
	}

	return conflicts
}

// ResolveConflicts proposes one final time per affected schedule.
//
// Strategies run against a working copy of the schedule times in descending
// severity order (ties: earlier first-schedule time, then lower id). Before
// a strategy runs, its conflict is re-checked against the working times; a
// conflict already cured by an earlier move is skipped and counted as
// resolved. This makes the outcome deterministic when multiple strategies
// target the same schedules.
func (r *ConflictResolver) ResolveConflicts(conflicts []ConflictInfo) *ResolutionReport {
	report := &ResolutionReport{
		Total:       len(conflicts),
		Adjustments: make(map[uint]TimeAdjustment),
	}
	if len(conflicts) == 0 {
		report.SuccessRate = 1.0
		return report
	}

	ordered := make([]ConflictInfo, len(conflicts))
	copy(ordered, conflicts)
	sort.SliceStable(ordered, func(a, b int) bool {
		ra, rb := severityRank(ordered[a].Severity), severityRank(ordered[b].Severity)
		if ra != rb {
			return ra > rb
		}
		if !ordered[a].Schedule1.ScheduledTime.Equal(ordered[b].Schedule1.ScheduledTime) {
			return ordered[a].Schedule1.ScheduledTime.Before(ordered[b].Schedule1.ScheduledTime)
		}
		return ordered[a].Schedule1.ID < ordered[b].Schedule1.ID
	})

	working := make(map[uint]time.Time)
	timeOf := func(s *models.Schedule) time.Time {
		if t, ok := working[s.ID]; ok {
			return t
		}
		return s.ScheduledTime
	}

	for _, c := range ordered {
		t1, t2 := timeOf(c.Schedule1), timeOf(c.Schedule2)
		if c.Type != ConflictResource && !r.stillConflicting(c.Type, c.Schedule1, c.Schedule2, t1, t2) {
			report.Resolved++
			continue
		}

		adjustment, err := r.resolveOne(c, t1, t2)
		if err != nil {
			report.Failed++
			report.Failures = append(report.Failures, err.Error())
			continue
		}
		working[adjustment.ScheduleID] = adjustment.NewTime
		report.Adjustments[adjustment.ScheduleID] = adjustment
		report.Resolved++
	}

	report.SuccessRate = float64(report.Resolved) / float64(report.Total)
	return report
}

// stillConflicting re-evaluates a single conflict type against working times.
func (r *ConflictResolver) stillConflicting(kind ConflictType, s1, s2 *models.Schedule, t1, t2 time.Time) bool {
	for _, c := range r.checkPair(s1, s2, t1, t2) {
		if c.Type == kind {
			return true
		}
	}
	return false
}

// resolveOne dispatches a conflict to its strategy and returns the proposed
// move. t1 and t2 are the working times of Schedule1 and Schedule2.
func (r *ConflictResolver) resolveOne(c ConflictInfo, t1, t2 time.Time) (TimeAdjustment, error) {
	switch c.Type {
	case ConflictTimeOverlap:
		// The higher-priority schedule anchors; on a tie the first one does.
		anchor, mover := c.Schedule1, c.Schedule2
		anchorTime := t1
		if c.Schedule2.Priority > c.Schedule1.Priority {
			anchor, mover = c.Schedule2, c.Schedule1
			anchorTime = t2
		}
		return TimeAdjustment{
			ScheduleID: mover.ID,
			NewTime:    anchorTime.Add(overlapShift),
			Reason: fmt.Sprintf("moved %s after schedule %d to clear a time overlap",
				overlapShift, anchor.ID),
		}, nil

	case ConflictPlatform:
		// The later schedule yields.
		earlier, later := c.Schedule1, c.Schedule2
		earlierTime := t1
		if t2.Before(t1) {
			earlier, later = c.Schedule2, c.Schedule1
			earlierTime = t2
		}
		return TimeAdjustment{
			ScheduleID: later.ID,
			NewTime:    earlierTime.Add(platformShift),
			Reason: fmt.Sprintf("staggered %s after schedule %d to avoid crowding the platform window",
				platformShift, earlier.ID),
		}, nil

	case ConflictPriority:
		high, low := c.Schedule1, c.Schedule2
		highTime := t1
		if c.Schedule2.Priority > c.Schedule1.Priority {
			high, low = c.Schedule2, c.Schedule1
			highTime = t2
		}
		return TimeAdjustment{
			ScheduleID: low.ID,
			NewTime:    highTime.Add(priorityShift),
			Reason: fmt.Sprintf("moved low-priority schedule %s past high-priority schedule %d",
				priorityShift, high.ID),
		}, nil

	case ConflictResource:
		return TimeAdjustment{}, fmt.Errorf("no automatic strategy for resource conflict between schedules %d and %d",
			c.Schedule1.ID, c.Schedule2.ID)
	}
	return TimeAdjustment{}, fmt.Errorf("unknown conflict type %q", c.Type)
}

// conflictOffsets are the candidate shifts SuggestOptimalSchedule tries, in
// evaluation order.
var conflictOffsets = []time.Duration{
	time.Hour, 2 * time.Hour, 3 * time.Hour,
	-time.Hour, -2 * time.Hour, -3 * time.Hour,
}

// SuggestOptimalSchedule checks a proposed schedule against existing ones.
// With no conflicts the proposed time comes back unchanged. Otherwise nearby
// candidate times are ranked by (conflict count, worst severity) and the
// best is returned, with the top three as alternatives.
func (r *ConflictResolver) SuggestOptimalSchedule(proposed *models.Schedule, existing []models.Schedule) *ScheduleSuggestion {
	conflicts := r.conflictsAt(proposed, proposed.ScheduledTime, existing)
	if len(conflicts) == 0 {
		return &ScheduleSuggestion{OptimalTime: proposed.ScheduledTime}
	}

	candidates := make([]CandidateSlot, 0, len(conflictOffsets))
	for _, offset := range conflictOffsets {
		t := proposed.ScheduledTime.Add(offset)
		found := r.conflictsAt(proposed, t, existing)
		worst := ConflictSeverity("")
		for _, c := range found {
			if severityRank(c.Severity) > severityRank(worst) {
				worst = c.Severity
			}
		}
		candidates = append(candidates, CandidateSlot{
			Time:          t,
			ConflictCount: len(found),
			WorstSeverity: worst,
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].ConflictCount != candidates[b].ConflictCount {
			return candidates[a].ConflictCount < candidates[b].ConflictCount
		}
		return severityRank(candidates[a].WorstSeverity) < severityRank(candidates[b].WorstSeverity)
	})

	alternatives := candidates
	if len(alternatives) > 3 {
		alternatives = alternatives[:3]
	}
	return &ScheduleSuggestion{
		OptimalTime:  candidates[0].Time,
		Conflicts:    conflicts,
		Alternatives: alternatives,
	}
}

// conflictsAt evaluates the proposed schedule at an explicit time against
// each existing schedule.
func (r *ConflictResolver) conflictsAt(proposed *models.Schedule, at time.Time, existing []models.Schedule) []ConflictInfo {
	var conflicts []ConflictInfo
	for i := range existing {
		other := &existing[i]
		if other.ID != 0 && other.ID == proposed.ID {
			continue
		}
		first, second := proposed, other
		t1, t2 := at, other.ScheduledTime
		if t2.Before(t1) {
			first, second = other, proposed
			t1, t2 = t2, t1
		}
		conflicts = append(conflicts, r.checkPair(first, second, t1, t2)...)
	}
	return conflicts
}
