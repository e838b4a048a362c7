package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RecurrenceKind classifies the accepted recurrence vocabulary.
type RecurrenceKind int

const (
	RecurrenceNone RecurrenceKind = iota
	RecurrenceHourly
	RecurrenceDaily
	RecurrenceWeekly
	RecurrenceMonthly
	RecurrenceYearly
	RecurrenceWeekdays
	RecurrenceWeekends
	RecurrenceEveryN
	RecurrenceCron
)

// Recurrence is a parsed recurrence expression. The vocabulary is the fixed
// word set (daily, weekly, monthly, yearly, weekdays, weekends, hourly,
// "every N days|weeks|months") or a 5-field cron-like pattern whose fields
// are digits, *, ranges or lists.
type Recurrence struct {
	Kind     RecurrenceKind
	Raw      string
	Interval int    // for "every N ..."
	Unit     string // days, weeks or months
}

var (
	everyNPattern  = regexp.MustCompile(`^every\s+(\d+)\s+(days?|weeks?|months?)$`)
	cronFieldCheck = regexp.MustCompile(`^(\*|\d+(-\d+)?(,\d+(-\d+)?)*)$`)
)

// ParseRecurrence parses raw into a Recurrence. Empty input means no
// recurrence. Anything outside the vocabulary is an error.
func ParseRecurrence(raw string) (*Recurrence, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return &Recurrence{Kind: RecurrenceNone, Raw: raw}, nil
	}

	switch trimmed {
	case "hourly":
		return &Recurrence{Kind: RecurrenceHourly, Raw: trimmed}, nil
	case "daily":
		return &Recurrence{Kind: RecurrenceDaily, Raw: trimmed}, nil
	case "weekly":
		return &Recurrence{Kind: RecurrenceWeekly, Raw: trimmed}, nil
	case "monthly":
		return &Recurrence{Kind: RecurrenceMonthly, Raw: trimmed}, nil
	case "yearly":
		return &Recurrence{Kind: RecurrenceYearly, Raw: trimmed}, nil
	case "weekdays":
		return &Recurrence{Kind: RecurrenceWeekdays, Raw: trimmed}, nil
	case "weekends":
		return &Recurrence{Kind: RecurrenceWeekends, Raw: trimmed}, nil
	}

	if m := everyNPattern.FindStringSubmatch(trimmed); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid recurrence interval in %q", raw)
		}
		unit := m[2]
		if !strings.HasSuffix(unit, "s") {
			unit += "s"
		}
		return &Recurrence{Kind: RecurrenceEveryN, Raw: trimmed, Interval: n, Unit: unit}, nil
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 5 {
		for _, f := range fields {
			if !cronFieldCheck.MatchString(f) {
				return nil, fmt.Errorf("invalid cron field %q in recurrence %q", f, raw)
			}
		}
		return &Recurrence{Kind: RecurrenceCron, Raw: trimmed}, nil
	}

	return nil, fmt.Errorf("unrecognized recurrence %q (expected daily, weekly, monthly, yearly, weekdays, weekends, hourly, \"every N days/weeks/months\" or a 5-field cron pattern)", raw)
}

// Hourly reports whether the recurrence fires every hour, which the
// validator flags for audience fatigue. A cron pattern with * in the hour
// field counts.
func (r *Recurrence) Hourly() bool {
	if r.Kind == RecurrenceHourly {
		return true
	}
	if r.Kind == RecurrenceCron {
		fields := strings.Fields(r.Raw)
		if len(fields) == 5 && fields[1] == "*" {
			return true
		}
	}
	return false
}

// CronSpecAt derives the cron spec the timer engine registers, anchored at
// the schedule's own minute/hour (and weekday or day where the cadence needs
// one). "every N days/weeks" become @every durations; "every N months"
// uses a month step, which is as close as cron gets.
func (r *Recurrence) CronSpecAt(t time.Time) (string, error) {
	minute, hour := t.Minute(), t.Hour()
	switch r.Kind {
	case RecurrenceHourly:
		return fmt.Sprintf("%d * * * *", minute), nil
	case RecurrenceDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case RecurrenceWeekly:
		return fmt.Sprintf("%d %d * * %d", minute, hour, int(t.Weekday())), nil
	case RecurrenceMonthly:
		return fmt.Sprintf("%d %d %d * *", minute, hour, t.Day()), nil
	case RecurrenceYearly:
		return fmt.Sprintf("%d %d %d %d *", minute, hour, t.Day(), int(t.Month())), nil
	case RecurrenceWeekdays:
		return fmt.Sprintf("%d %d * * 1-5", minute, hour), nil
	case RecurrenceWeekends:
		return fmt.Sprintf("%d %d * * 0,6", minute, hour), nil
	case RecurrenceEveryN:
		switch r.Unit {
		case "days":
			return fmt.Sprintf("@every %dh", r.Interval*24), nil
		case "weeks":
			return fmt.Sprintf("@every %dh", r.Interval*24*7), nil
		case "months":
			return fmt.Sprintf("%d %d %d */%d *", minute, hour, t.Day(), r.Interval), nil
		}
		return "", fmt.Errorf("unsupported recurrence unit %q", r.Unit)
	case RecurrenceCron:
		return r.Raw, nil
	case RecurrenceNone:
		return "", fmt.Errorf("no recurrence to derive a cron spec from")
	}
	return "", fmt.Errorf("unsupported recurrence kind %d", r.Kind)
}
