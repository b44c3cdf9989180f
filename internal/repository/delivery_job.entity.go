package repository

import (
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

type DeliveryJobEntity struct {
	ID              string     `db:"id"               gorm:"primaryKey;column:id"`
	DeviceID        string     `db:"device_id"        gorm:"column:device_id;not null;index"`
	OwnerID         string     `db:"owner_id"         gorm:"column:owner_id;not null;index"`
	Source          string     `db:"source"           gorm:"column:source;not null"`
	SourceID        string     `db:"source_id"        gorm:"column:source_id;not null;index"`
	Recipients      string     `db:"recipients"       gorm:"column:recipients;type:text;not null"`
	Payload         string     `db:"payload"          gorm:"column:payload;type:text;not null"`
	BatchSize       int        `db:"batch_size"       gorm:"column:batch_size;not null;default:0"`
	BatchPause      int64      `db:"batch_pause_ms"   gorm:"column:batch_pause_ms;not null;default:0"`
	DelayMode       string     `db:"delay_mode"       gorm:"column:delay_mode;not null;default:fixed"`
	DelayBase       int64      `db:"delay_base_ms"    gorm:"column:delay_base_ms;not null;default:0"`
	Status          string     `db:"status"           gorm:"column:status;not null;index"`
	SentCount       int        `db:"sent_count"       gorm:"column:sent_count;not null;default:0"`
	FailedCount     int        `db:"failed_count"     gorm:"column:failed_count;not null;default:0"`
	IdempotencyKey  string     `db:"idempotency_key"  gorm:"column:idempotency_key;not null;uniqueIndex"`
	CancelRequested bool       `db:"cancel_requested" gorm:"column:cancel_requested;not null;default:false"`
	CreatedAt       time.Time  `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	StartedAt       *time.Time `db:"started_at"       gorm:"column:started_at"`
	FinishedAt      *time.Time `db:"finished_at"      gorm:"column:finished_at"`
}

func (DeliveryJobEntity) TableName() string {
	return "delivery_jobs"
}

func toDeliveryJobEntity(m *model.DeliveryJob) *DeliveryJobEntity {
	if m == nil {
		return nil
	}
	return &DeliveryJobEntity{
		ID:              m.ID,
		DeviceID:        m.DeviceID,
		OwnerID:         m.OwnerID,
		Source:          string(m.Source),
		SourceID:        m.SourceID,
		Recipients:      marshalJSON(m.Recipients),
		Payload:         marshalJSON(m.Payload),
		BatchSize:       m.Batch.Size,
		BatchPause:      m.Batch.PauseBetween.Milliseconds(),
		DelayMode:       string(m.Delay.Mode),
		DelayBase:       m.Delay.Base.Milliseconds(),
		Status:          string(m.Status),
		SentCount:       m.SentCount,
		FailedCount:     m.FailedCount,
		IdempotencyKey:  m.IdempotencyKey,
		CancelRequested: m.CancelRequested,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
	}
}

func toDeliveryJobModel(e *DeliveryJobEntity) *model.DeliveryJob {
	if e == nil {
		return nil
	}
	m := &model.DeliveryJob{
		ID:       e.ID,
		DeviceID: e.DeviceID,
		OwnerID:  e.OwnerID,
		Source:   model.JobSource(e.Source),
		SourceID: e.SourceID,
		Batch: model.BatchPolicy{
			Size:         e.BatchSize,
			PauseBetween: time.Duration(e.BatchPause) * time.Millisecond,
		},
		Delay: model.DelayPolicy{
			Mode: model.DelayMode(e.DelayMode),
			Base: time.Duration(e.DelayBase) * time.Millisecond,
		},
		Status:          model.JobStatus(e.Status),
		SentCount:       e.SentCount,
		FailedCount:     e.FailedCount,
		IdempotencyKey:  e.IdempotencyKey,
		CancelRequested: e.CancelRequested,
		CreatedAt:       e.CreatedAt,
		StartedAt:       e.StartedAt,
		FinishedAt:      e.FinishedAt,
	}
	unmarshalJSON(e.Recipients, &m.Recipients)
	unmarshalJSON(e.Payload, &m.Payload)
	return m
}

func toDeliveryJobModels(entities []*DeliveryJobEntity) []*model.DeliveryJob {
	if entities == nil {
		return nil
	}
	models := make([]*model.DeliveryJob, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryJobModel(e)
	}
	return models
}
