package repository

import (
	"context"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/pg"
)

type BroadcastRepository struct {
	*pg.DB
}

func NewBroadcastRepository(db *pg.DB) *BroadcastRepository {
	return &BroadcastRepository{
		db,
	}
}

func (r *BroadcastRepository) Create(ctx context.Context, b *model.Broadcast) (*model.Broadcast, error) {
	entity := toBroadcastEntity(b)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toBroadcastModel(entity), nil
}

func (r *BroadcastRepository) Get(ctx context.Context, id string) (*model.Broadcast, error) {
	var entity BroadcastEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return toBroadcastModel(&entity), nil
}

// ListDue returns broadcasts ready for enqueueing at t: pending ones,
// plus scheduled ones whose due time has passed. Restricted to devices
// owned by serverID so instances only produce for their own devices.
func (r *BroadcastRepository) ListDue(ctx context.Context, serverID string, t time.Time, limit int) ([]*model.Broadcast, error) {
	if limit <= 0 {
		limit = 100
	}
	var entities []*BroadcastEntity
	err := r.Read(ctx).WithContext(ctx).
		Joins("JOIN devices ON devices.id = broadcasts.device_id").
		Where("devices.assigned_server_id = ?", serverID).
		Where("broadcasts.status = ? OR (broadcasts.status = ? AND broadcasts.scheduled_at <= ?)",
			string(model.BroadcastStatusPending), string(model.BroadcastStatusScheduled), t).
		Order("broadcasts.created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toBroadcastModels(entities), nil
}

// MarkEnqueued transitions a broadcast out of its due state. Zero rows
// means another tick already took it.
func (r *BroadcastRepository) MarkEnqueued(ctx context.Context, id string) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&BroadcastEntity{}).
		Where("id = ? AND status IN ?", id, []string{
			string(model.BroadcastStatusPending), string(model.BroadcastStatusScheduled),
		}).
		Update("status", string(model.BroadcastStatusEnqueued))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrDuplicateEnqueue
	}
	return nil
}

func (r *BroadcastRepository) Cancel(ctx context.Context, id string) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&BroadcastEntity{}).
		Where("id = ? AND status IN ?", id, []string{
			string(model.BroadcastStatusPending), string(model.BroadcastStatusScheduled),
		}).
		Update("status", string(model.BroadcastStatusCancelled))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}
