package repository

import (
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

type BroadcastEntity struct {
	ID          string     `db:"id"             gorm:"primaryKey;column:id"`
	OwnerID     string     `db:"owner_id"       gorm:"column:owner_id;not null;index"`
	DeviceID    string     `db:"device_id"      gorm:"column:device_id;not null;index"`
	Recipients  string     `db:"recipients"     gorm:"column:recipients;type:text;not null"`
	Payload     string     `db:"payload"        gorm:"column:payload;type:text;not null"`
	BatchSize   int        `db:"batch_size"     gorm:"column:batch_size;not null;default:0"`
	BatchPause  int64      `db:"batch_pause_ms" gorm:"column:batch_pause_ms;not null;default:0"`
	DelayMode   string     `db:"delay_mode"     gorm:"column:delay_mode;not null;default:fixed"`
	DelayBase   int64      `db:"delay_base_ms"  gorm:"column:delay_base_ms;not null;default:0"`
	Status      string     `db:"status"         gorm:"column:status;not null;index"`
	ScheduledAt *time.Time `db:"scheduled_at"   gorm:"column:scheduled_at;index"`
	CreatedAt   time.Time  `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (BroadcastEntity) TableName() string {
	return "broadcasts"
}

func toBroadcastEntity(m *model.Broadcast) *BroadcastEntity {
	if m == nil {
		return nil
	}
	return &BroadcastEntity{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		DeviceID:    m.DeviceID,
		Recipients:  marshalJSON(m.Recipients),
		Payload:     marshalJSON(m.Payload),
		BatchSize:   m.Batch.Size,
		BatchPause:  m.Batch.PauseBetween.Milliseconds(),
		DelayMode:   string(m.Delay.Mode),
		DelayBase:   m.Delay.Base.Milliseconds(),
		Status:      string(m.Status),
		ScheduledAt: m.ScheduledAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toBroadcastModel(e *BroadcastEntity) *model.Broadcast {
	if e == nil {
		return nil
	}
	m := &model.Broadcast{
		ID:       e.ID,
		OwnerID:  e.OwnerID,
		DeviceID: e.DeviceID,
		Batch: model.BatchPolicy{
			Size:         e.BatchSize,
			PauseBetween: time.Duration(e.BatchPause) * time.Millisecond,
		},
		Delay: model.DelayPolicy{
			Mode: model.DelayMode(e.DelayMode),
			Base: time.Duration(e.DelayBase) * time.Millisecond,
		},
		Status:      model.BroadcastStatus(e.Status),
		ScheduledAt: e.ScheduledAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	unmarshalJSON(e.Recipients, &m.Recipients)
	unmarshalJSON(e.Payload, &m.Payload)
	return m
}

func toBroadcastModels(entities []*BroadcastEntity) []*model.Broadcast {
	if entities == nil {
		return nil
	}
	models := make([]*model.Broadcast, len(entities))
	for i, e := range entities {
		models[i] = toBroadcastModel(e)
	}
	return models
}
