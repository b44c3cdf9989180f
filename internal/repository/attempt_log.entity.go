package repository

import (
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

type DeliveryAttemptLogEntity struct {
	ID          int64     `db:"id"           gorm:"primaryKey;autoIncrement;column:id"`
	JobID       string    `db:"job_id"       gorm:"column:job_id;not null;index"`
	DeviceID    string    `db:"device_id"    gorm:"column:device_id;not null;index"`
	Occurrence  string    `db:"occurrence"   gorm:"column:occurrence;not null"`
	Outcomes    string    `db:"outcomes"     gorm:"column:outcomes;type:text;not null"`
	SentCount   int       `db:"sent_count"   gorm:"column:sent_count;not null;default:0"`
	FailedCount int       `db:"failed_count" gorm:"column:failed_count;not null;default:0"`
	StartedAt   time.Time `db:"started_at"   gorm:"column:started_at;not null"`
	FinishedAt  time.Time `db:"finished_at"  gorm:"column:finished_at;not null"`
}

func (DeliveryAttemptLogEntity) TableName() string {
	return "delivery_attempt_logs"
}

func toDeliveryAttemptLogEntity(m *model.DeliveryAttemptLog) *DeliveryAttemptLogEntity {
	if m == nil {
		return nil
	}
	return &DeliveryAttemptLogEntity{
		ID:          m.ID,
		JobID:       m.JobID,
		DeviceID:    m.DeviceID,
		Occurrence:  m.Occurrence,
		Outcomes:    marshalJSON(m.Outcomes),
		SentCount:   m.SentCount,
		FailedCount: m.FailedCount,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}
}

func toDeliveryAttemptLogModel(e *DeliveryAttemptLogEntity) *model.DeliveryAttemptLog {
	if e == nil {
		return nil
	}
	m := &model.DeliveryAttemptLog{
		ID:          e.ID,
		JobID:       e.JobID,
		DeviceID:    e.DeviceID,
		Occurrence:  e.Occurrence,
		SentCount:   e.SentCount,
		FailedCount: e.FailedCount,
		StartedAt:   e.StartedAt,
		FinishedAt:  e.FinishedAt,
	}
	unmarshalJSON(e.Outcomes, &m.Outcomes)
	return m
}

func toDeliveryAttemptLogModels(entities []*DeliveryAttemptLogEntity) []*model.DeliveryAttemptLog {
	if entities == nil {
		return nil
	}
	models := make([]*model.DeliveryAttemptLog, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryAttemptLogModel(e)
	}
	return models
}
