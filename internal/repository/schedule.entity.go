package repository

import (
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

type RecurringScheduleEntity struct {
	ID             string     `db:"id"              gorm:"primaryKey;column:id"`
	OwnerID        string     `db:"owner_id"        gorm:"column:owner_id;not null;index"`
	DeviceID       string     `db:"device_id"       gorm:"column:device_id;not null;index"`
	Name           string     `db:"name"            gorm:"column:name;not null"`
	Frequency      string     `db:"frequency"       gorm:"column:frequency;not null"`
	Weekdays       string     `db:"weekdays"        gorm:"column:weekdays;type:text"`
	DayOfMonth     int        `db:"day_of_month"    gorm:"column:day_of_month;not null;default:0"`
	IntervalDays   int        `db:"interval_days"   gorm:"column:interval_days;not null;default:0"`
	TimeOfDay      string     `db:"time_of_day"     gorm:"column:time_of_day;not null"`
	Timezone       string     `db:"timezone"        gorm:"column:timezone;not null;default:UTC"`
	StartDate      time.Time  `db:"start_date"      gorm:"column:start_date;not null"`
	EndDate        *time.Time `db:"end_date"        gorm:"column:end_date"`
	MaxExecutions  int        `db:"max_executions"  gorm:"column:max_executions;not null;default:0"`
	Recipients     string     `db:"recipients"      gorm:"column:recipients;type:text;not null"`
	Payload        string     `db:"payload"         gorm:"column:payload;type:text;not null"`
	BatchSize      int        `db:"batch_size"      gorm:"column:batch_size;not null;default:0"`
	BatchPause     int64      `db:"batch_pause_ms"  gorm:"column:batch_pause_ms;not null;default:0"`
	DelayMode      string     `db:"delay_mode"      gorm:"column:delay_mode;not null;default:fixed"`
	DelayBase      int64      `db:"delay_base_ms"   gorm:"column:delay_base_ms;not null;default:0"`
	Active         bool       `db:"active"          gorm:"column:active;not null;default:true;index"`
	LastSentAt     *time.Time `db:"last_sent_at"    gorm:"column:last_sent_at"`
	NextSendAt     *time.Time `db:"next_send_at"    gorm:"column:next_send_at;index"`
	ExecutionCount int        `db:"execution_count" gorm:"column:execution_count;not null;default:0"`
	TotalSent      int        `db:"total_sent"      gorm:"column:total_sent;not null;default:0"`
	TotalFailed    int        `db:"total_failed"    gorm:"column:total_failed;not null;default:0"`
	CreatedAt      time.Time  `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (RecurringScheduleEntity) TableName() string {
	return "recurring_schedules"
}

func toRecurringScheduleEntity(m *model.RecurringSchedule) *RecurringScheduleEntity {
	if m == nil {
		return nil
	}
	return &RecurringScheduleEntity{
		ID:             m.ID,
		OwnerID:        m.OwnerID,
		DeviceID:       m.DeviceID,
		Name:           m.Name,
		Frequency:      string(m.Frequency),
		Weekdays:       marshalJSON(m.Weekdays),
		DayOfMonth:     m.DayOfMonth,
		IntervalDays:   m.IntervalDays,
		TimeOfDay:      m.TimeOfDay,
		Timezone:       m.Timezone,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		MaxExecutions:  m.MaxExecutions,
		Recipients:     marshalJSON(m.Recipients),
		Payload:        marshalJSON(m.Payload),
		BatchSize:      m.Batch.Size,
		BatchPause:     m.Batch.PauseBetween.Milliseconds(),
		DelayMode:      string(m.Delay.Mode),
		DelayBase:      m.Delay.Base.Milliseconds(),
		Active:         m.Active,
		LastSentAt:     m.LastSentAt,
		NextSendAt:     m.NextSendAt,
		ExecutionCount: m.ExecutionCount,
		TotalSent:      m.TotalSent,
		TotalFailed:    m.TotalFailed,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toRecurringScheduleModel(e *RecurringScheduleEntity) *model.RecurringSchedule {
	if e == nil {
		return nil
	}
	m := &model.RecurringSchedule{
		ID:            e.ID,
		OwnerID:       e.OwnerID,
		DeviceID:      e.DeviceID,
		Name:          e.Name,
		Frequency:     model.Frequency(e.Frequency),
		DayOfMonth:    e.DayOfMonth,
		IntervalDays:  e.IntervalDays,
		TimeOfDay:     e.TimeOfDay,
		Timezone:      e.Timezone,
		StartDate:     e.StartDate,
		EndDate:       e.EndDate,
		MaxExecutions: e.MaxExecutions,
		Batch: model.BatchPolicy{
			Size:         e.BatchSize,
			PauseBetween: time.Duration(e.BatchPause) * time.Millisecond,
		},
		Delay: model.DelayPolicy{
			Mode: model.DelayMode(e.DelayMode),
			Base: time.Duration(e.DelayBase) * time.Millisecond,
		},
		Active:         e.Active,
		LastSentAt:     e.LastSentAt,
		NextSendAt:     e.NextSendAt,
		ExecutionCount: e.ExecutionCount,
		TotalSent:      e.TotalSent,
		TotalFailed:    e.TotalFailed,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
	unmarshalJSON(e.Weekdays, &m.Weekdays)
	unmarshalJSON(e.Recipients, &m.Recipients)
	unmarshalJSON(e.Payload, &m.Payload)
	return m
}

func toRecurringScheduleModels(entities []*RecurringScheduleEntity) []*model.RecurringSchedule {
	if entities == nil {
		return nil
	}
	models := make([]*model.RecurringSchedule, len(entities))
	for i, e := range entities {
		models[i] = toRecurringScheduleModel(e)
	}
	return models
}
