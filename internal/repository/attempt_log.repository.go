package repository

import (
	"context"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/pg"
)

// AttemptLogRepository is append-only: logs are written once by the
// worker that finished the job and never updated.
type AttemptLogRepository struct {
	*pg.DB
}

func NewAttemptLogRepository(db *pg.DB) *AttemptLogRepository {
	return &AttemptLogRepository{
		db,
	}
}

func (r *AttemptLogRepository) Append(ctx context.Context, log *model.DeliveryAttemptLog) (*model.DeliveryAttemptLog, error) {
	entity := toDeliveryAttemptLogEntity(log)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDeliveryAttemptLogModel(entity), nil
}

func (r *AttemptLogRepository) ListByJob(ctx context.Context, jobID string) ([]*model.DeliveryAttemptLog, error) {
	var entities []*DeliveryAttemptLogEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("started_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryAttemptLogModels(entities), nil
}

func (r *AttemptLogRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*model.DeliveryAttemptLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var entities []*DeliveryAttemptLogEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("started_at DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryAttemptLogModels(entities), nil
}
