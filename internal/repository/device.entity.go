package repository

import (
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
)

type DeviceEntity struct {
	ID               string     `db:"id"                 gorm:"primaryKey;column:id"`
	OwnerID          string     `db:"owner_id"           gorm:"column:owner_id;not null;index"`
	Name             string     `db:"name"               gorm:"column:name;not null"`
	AssignedServerID *string    `db:"assigned_server_id" gorm:"column:assigned_server_id;index"`
	Status           string     `db:"status"             gorm:"column:status;not null;default:disconnected"`
	LastConnectedAt  *time.Time `db:"last_connected_at"  gorm:"column:last_connected_at"`
	CreatedAt        time.Time  `db:"created_at"         gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `db:"updated_at"         gorm:"column:updated_at;autoUpdateTime"`
}

func (DeviceEntity) TableName() string {
	return "devices"
}

func toDeviceEntity(m *model.Device) *DeviceEntity {
	if m == nil {
		return nil
	}
	return &DeviceEntity{
		ID:               m.ID,
		OwnerID:          m.OwnerID,
		Name:             m.Name,
		AssignedServerID: m.AssignedServerID,
		Status:           string(m.Status),
		LastConnectedAt:  m.LastConnectedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toDeviceModel(e *DeviceEntity) *model.Device {
	if e == nil {
		return nil
	}
	return &model.Device{
		ID:               e.ID,
		OwnerID:          e.OwnerID,
		Name:             e.Name,
		AssignedServerID: e.AssignedServerID,
		Status:           model.DeviceStatus(e.Status),
		LastConnectedAt:  e.LastConnectedAt,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func toDeviceModels(entities []*DeviceEntity) []*model.Device {
	if entities == nil {
		return nil
	}
	models := make([]*model.Device, len(entities))
	for i, e := range entities {
		models[i] = toDeviceModel(e)
	}
	return models
}
