package repository

import (
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

type ServerInstanceEntity struct {
	ID            string    `db:"id"             gorm:"primaryKey;column:id"`
	Active        bool      `db:"active"         gorm:"column:active;not null;default:true"`
	Healthy       bool      `db:"healthy"        gorm:"column:healthy;not null;default:true"`
	LastHeartbeat time.Time `db:"last_heartbeat" gorm:"column:last_heartbeat;not null;index"`
	CurrentLoad   int       `db:"current_load"   gorm:"column:current_load;not null;default:0"`
	Priority      int       `db:"priority"       gorm:"column:priority;not null;default:0"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (ServerInstanceEntity) TableName() string {
	return "server_instances"
}

func toServerInstanceEntity(m *model.ServerInstance) *ServerInstanceEntity {
	if m == nil {
		return nil
	}
	return &ServerInstanceEntity{
		ID:            m.ID,
		Active:        m.Active,
		Healthy:       m.Healthy,
		LastHeartbeat: m.LastHeartbeat,
		CurrentLoad:   m.CurrentLoad,
		Priority:      m.Priority,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toServerInstanceModel(e *ServerInstanceEntity) *model.ServerInstance {
	if e == nil {
		return nil
	}
	return &model.ServerInstance{
		ID:            e.ID,
		Active:        e.Active,
		Healthy:       e.Healthy,
		LastHeartbeat: e.LastHeartbeat,
		CurrentLoad:   e.CurrentLoad,
		Priority:      e.Priority,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func toServerInstanceModels(entities []*ServerInstanceEntity) []*model.ServerInstance {
	if entities == nil {
		return nil
	}
	models := make([]*model.ServerInstance, len(entities))
	for i, e := range entities {
		models[i] = toServerInstanceModel(e)
	}
	return models
}
