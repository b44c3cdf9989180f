package scheduler

import (
	"sort"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

// NextAfter computes the next firing time of a schedule strictly after
// `after`, in the schedule's timezone. Returns the zero time when the
// schedule can never fire again (past end date, exhausted, or inactive
// rule data).
func NextAfter(s *model.RecurringSchedule, after time.Time) time.Time {
	loc := s.Location()
	hour, minute := parseTimeOfDay(s.TimeOfDay)

	local := after.In(loc)
	if start := s.StartDate.In(loc); local.Before(start) {
		// Back up one day so the first candidate on the start date itself
		// is still considered.
		local = start.AddDate(0, 0, -1)
	}

	var next time.Time
	switch s.Frequency {
	case model.FrequencyDaily:
		next = nextDaily(local, hour, minute)
	case model.FrequencyWeekly:
		next = nextWeekly(local, s.Weekdays, hour, minute)
	case model.FrequencyMonthly:
		next = nextMonthly(local, s.DayOfMonth, hour, minute)
	case model.FrequencyCustom:
		next = nextCustom(local, s.StartDate.In(loc), s.IntervalDays, hour, minute)
	default:
		return time.Time{}
	}

	if next.IsZero() {
		return time.Time{}
	}
	if s.EndDate != nil && next.After(s.EndDate.In(loc)) {
		return time.Time{}
	}
	return next
}

func parseTimeOfDay(tod string) (hour, minute int) {
	t, err := time.Parse("15:04", tod)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

func at(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func nextDaily(after time.Time, hour, minute int) time.Time {
	candidate := at(after, hour, minute)
	if candidate.After(after) {
		return candidate
	}
	return at(after.AddDate(0, 0, 1), hour, minute)
}

func nextWeekly(after time.Time, weekdays []time.Weekday, hour, minute int) time.Time {
	if len(weekdays) == 0 {
		return time.Time{}
	}
	days := append([]time.Weekday(nil), weekdays...)
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	// At most 8 days ahead: today again next week.
	for offset := 0; offset <= 7; offset++ {
		day := after.AddDate(0, 0, offset)
		for _, wd := range days {
			if day.Weekday() != wd {
				continue
			}
			candidate := at(day, hour, minute)
			if candidate.After(after) {
				return candidate
			}
		}
	}
	return time.Time{}
}

// nextMonthly clamps the target day for short months: day 31 fires on
// Feb 28 (or 29), Apr 30, and so on.
func nextMonthly(after time.Time, dayOfMonth, hour, minute int) time.Time {
	if dayOfMonth < 1 {
		return time.Time{}
	}
	for offset := 0; offset <= 12; offset++ {
		month := time.Date(after.Year(), after.Month(), 1, 0, 0, 0, 0, after.Location()).AddDate(0, offset, 0)
		day := dayOfMonth
		if last := daysIn(month); day > last {
			day = last
		}
		candidate := time.Date(month.Year(), month.Month(), day, hour, minute, 0, 0, after.Location())
		if candidate.After(after) {
			return candidate
		}
	}
	return time.Time{}
}

func daysIn(month time.Time) int {
	first := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	return first.AddDate(0, 1, -1).Day()
}

func nextCustom(after, start time.Time, intervalDays, hour, minute int) time.Time {
	if intervalDays < 1 {
		return time.Time{}
	}
	candidate := at(start, hour, minute)
	for !candidate.After(after) {
		candidate = at(candidate.AddDate(0, 0, intervalDays), hour, minute)
	}
	return candidate
}
