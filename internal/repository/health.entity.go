package repository

import (
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

// DeviceMetricsEntity is the latest health snapshot per device, upserted
// on every connector report.
type DeviceMetricsEntity struct {
	DeviceID            string    `db:"device_id"             gorm:"primaryKey;column:device_id"`
	Status              string    `db:"status"                gorm:"column:status;not null"`
	UptimeMinutes       int64     `db:"uptime_minutes"        gorm:"column:uptime_minutes;not null;default:0"`
	MessagesSentToday   int64     `db:"messages_sent_today"   gorm:"column:messages_sent_today;not null;default:0"`
	MessagesFailedToday int64     `db:"messages_failed_today" gorm:"column:messages_failed_today;not null;default:0"`
	ReconnectsToday     int       `db:"reconnects_today"      gorm:"column:reconnects_today;not null;default:0"`
	UpdatedAt           time.Time `db:"updated_at"            gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceMetricsEntity) TableName() string {
	return "device_metrics"
}

func toDeviceMetricsEntity(m *model.DeviceMetrics) *DeviceMetricsEntity {
	if m == nil {
		return nil
	}
	return &DeviceMetricsEntity{
		DeviceID:            m.DeviceID,
		Status:              string(m.Status),
		UptimeMinutes:       m.UptimeMinutes,
		MessagesSentToday:   m.MessagesSentToday,
		MessagesFailedToday: m.MessagesFailedToday,
		ReconnectsToday:     m.ReconnectsToday,
	}
}

func toDeviceMetricsModel(e *DeviceMetricsEntity) *model.DeviceMetrics {
	if e == nil {
		return nil
	}
	m := &model.DeviceMetrics{
		DeviceID:            e.DeviceID,
		Status:              model.DeviceStatus(e.Status),
		UptimeMinutes:       e.UptimeMinutes,
		MessagesSentToday:   e.MessagesSentToday,
		MessagesFailedToday: e.MessagesFailedToday,
		ReconnectsToday:     e.ReconnectsToday,
	}
	if total := e.MessagesSentToday + e.MessagesFailedToday; total > 0 {
		m.ErrorRatePercent = float64(e.MessagesFailedToday) / float64(total) * 100
	}
	return m
}

type DeviceHealthIssueEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	DeviceID  string    `db:"device_id"  gorm:"column:device_id;not null;index"`
	Level     string    `db:"level"      gorm:"column:level;not null"`
	Detail    string    `db:"detail"     gorm:"column:detail;not null"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (DeviceHealthIssueEntity) TableName() string {
	return "device_health_issues"
}

func toDeviceHealthIssueModel(e *DeviceHealthIssueEntity) *model.DeviceHealthIssue {
	if e == nil {
		return nil
	}
	return &model.DeviceHealthIssue{
		ID:        e.ID,
		DeviceID:  e.DeviceID,
		Level:     model.HealthLevel(e.Level),
		Detail:    e.Detail,
		CreatedAt: e.CreatedAt,
	}
}
