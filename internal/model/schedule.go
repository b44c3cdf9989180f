package model

import (
	"errors"
	"time"
)

// Frequency is the cadence rule of a recurring schedule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// RecurringSchedule periodically produces due delivery jobs. NextSendAt
// strictly advances after each firing; a schedule never fires once
// EndDate has passed or ExecutionCount reached MaxExecutions.
type RecurringSchedule struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	DeviceID       string         `json:"device_id"`
	Name           string         `json:"name"`
	Frequency      Frequency      `json:"frequency"`
	Weekdays       []time.Weekday `json:"weekdays,omitempty"`      // weekly
	DayOfMonth     int            `json:"day_of_month,omitempty"`  // monthly, clamped for short months
	IntervalDays   int            `json:"interval_days,omitempty"` // custom
	TimeOfDay      string         `json:"time_of_day"`             // "15:04"
	Timezone       string         `json:"timezone"`
	StartDate      time.Time      `json:"start_date"`
	EndDate        *time.Time     `json:"end_date,omitempty"`
	MaxExecutions  int            `json:"max_executions,omitempty"`
	Recipients     []string       `json:"recipients"`
	Payload        MessagePayload `json:"payload"`
	Batch          BatchPolicy    `json:"batch"`
	Delay          DelayPolicy    `json:"delay"`
	Active         bool           `json:"active"`
	LastSentAt     *time.Time     `json:"last_sent_at,omitempty"`
	NextSendAt     *time.Time     `json:"next_send_at,omitempty"`
	ExecutionCount int            `json:"execution_count"`
	TotalSent      int            `json:"total_sent"`
	TotalFailed    int            `json:"total_failed"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (s *RecurringSchedule) Validate() error {
	if s.DeviceID == "" {
		return errors.New("device_id is required")
	}
	if len(s.Recipients) == 0 {
		return errors.New("recipients are required")
	}
	if _, err := time.Parse("15:04", s.TimeOfDay); err != nil {
		return errors.New("time_of_day must be HH:MM")
	}
	switch s.Frequency {
	case FrequencyDaily:
	case FrequencyWeekly:
		if len(s.Weekdays) == 0 {
			return errors.New("weekly schedule requires weekdays")
		}
	case FrequencyMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return errors.New("day_of_month must be 1-31")
		}
	case FrequencyCustom:
		if s.IntervalDays < 1 {
			return errors.New("interval_days must be >= 1")
		}
	default:
		return errors.New("unknown frequency")
	}
	return nil
}

// Exhausted reports whether the schedule may not fire at t.
func (s *RecurringSchedule) Exhausted(t time.Time) bool {
	if s.EndDate != nil && t.After(*s.EndDate) {
		return true
	}
	if s.MaxExecutions > 0 && s.ExecutionCount >= s.MaxExecutions {
		return true
	}
	return false
}

// Location resolves the schedule's timezone, falling back to UTC.
func (s *RecurringSchedule) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}
