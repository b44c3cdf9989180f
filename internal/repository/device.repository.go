package repository

import (
	"context"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/pg"
)

type DeviceRepository struct {
	*pg.DB
}

func NewDeviceRepository(db *pg.DB) *DeviceRepository {
	return &DeviceRepository{
		db,
	}
}

func (r *DeviceRepository) Create(ctx context.Context, d *model.Device) (*model.Device, error) {
	entity := toDeviceEntity(d)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDeviceModel(entity), nil
}

func (r *DeviceRepository) Get(ctx context.Context, id string) (*model.Device, error) {
	var entity DeviceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return toDeviceModel(&entity), nil
}

// ListClaimable returns devices that are either unassigned or already
// assigned to serverID. These are the only devices this instance may
// pick up on startup or assignment refresh.
func (r *DeviceRepository) ListClaimable(ctx context.Context, serverID string) ([]*model.Device, error) {
	var entities []*DeviceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("assigned_server_id IS NULL OR assigned_server_id = ?", serverID).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeviceModels(entities), nil
}

func (r *DeviceRepository) ListByServer(ctx context.Context, serverID string) ([]*model.Device, error) {
	var entities []*DeviceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("assigned_server_id = ?", serverID).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeviceModels(entities), nil
}

// CountByServerAndStatus counts a server's devices in a given status.
func (r *DeviceRepository) CountByServerAndStatus(ctx context.Context, serverID string, status model.DeviceStatus) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&DeviceEntity{}).
		Where("assigned_server_id = ? AND status = ?", serverID, string(status)).
		Count(&count).Error
	return count, err
}

// Claim atomically takes ownership of a device. The write succeeds only
// if the device's current assignment still matches expectedServerID
// (nil means unassigned); a zero-row update means another instance won
// the race and the caller gets ErrAssignmentConflict.
func (r *DeviceRepository) Claim(ctx context.Context, deviceID string, expectedServerID *string, newServerID string) error {
	q := r.Write(ctx).WithContext(ctx).
		Model(&DeviceEntity{}).
		Where("id = ?", deviceID)

	if expectedServerID == nil {
		q = q.Where("assigned_server_id IS NULL")
	} else {
		q = q.Where("assigned_server_id = ?", *expectedServerID)
	}

	res := q.Update("assigned_server_id", newServerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrAssignmentConflict
	}
	return nil
}

// Release drops ownership only if this server still holds it.
func (r *DeviceRepository) Release(ctx context.Context, deviceID, serverID string) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeviceEntity{}).
		Where("id = ? AND assigned_server_id = ?", deviceID, serverID).
		Update("assigned_server_id", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrOwnershipMismatch
	}
	return nil
}

// ClearAssignmentsForServer frees every device held by a dead server so
// surviving instances can claim them. Returns how many were freed.
func (r *DeviceRepository) ClearAssignmentsForServer(ctx context.Context, serverID string) (int64, error) {
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeviceEntity{}).
		Where("assigned_server_id = ?", serverID).
		Update("assigned_server_id", nil)
	return res.RowsAffected, res.Error
}

func (r *DeviceRepository) UpdateStatus(ctx context.Context, deviceID string, status model.DeviceStatus, at time.Time) error {
	updates := map[string]interface{}{"status": string(status)}
	if status == model.DeviceStatusConnected {
		updates["last_connected_at"] = at
	}
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeviceEntity{}).
		Where("id = ?", deviceID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}
