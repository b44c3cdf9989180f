package repository

import (
	"context"
	"strings"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/pg"
)

type DeliveryJobRepository struct {
	*pg.DB
}

func NewDeliveryJobRepository(db *pg.DB) *DeliveryJobRepository {
	return &DeliveryJobRepository{
		db,
	}
}

// Create persists a new job. The unique index on idempotency_key is the
// database-level backstop against duplicate firings; a violation comes
// back as ErrDuplicateEnqueue.
func (r *DeliveryJobRepository) Create(ctx context.Context, job *model.DeliveryJob) (*model.DeliveryJob, error) {
	entity := toDeliveryJobEntity(job)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrDuplicateEnqueue
		}
		return nil, err
	}

	return toDeliveryJobModel(entity), nil
}

func (r *DeliveryJobRepository) Get(ctx context.Context, id string) (*model.DeliveryJob, error) {
	var entity DeliveryJobEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return toDeliveryJobModel(&entity), nil
}

// GetByIdempotencyKey loads the job created for a given occurrence key.
// The scheduler uses it to recover a row whose stream push never landed.
func (r *DeliveryJobRepository) GetByIdempotencyKey(ctx context.Context, key string) (*model.DeliveryJob, error) {
	var entity DeliveryJobEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return toDeliveryJobModel(&entity), nil
}

// TransitionStatus moves a job from one status to another only if it is
// still in the expected state. Zero rows means another worker (or a
// cancellation) got there first.
func (r *DeliveryJobRepository) TransitionStatus(ctx context.Context, id string, from, to model.JobStatus, at time.Time) error {
	updates := map[string]interface{}{"status": string(to)}
	switch to {
	case model.JobStatusRunning:
		updates["started_at"] = at
	case model.JobStatusCompleted, model.JobStatusPartialFailed, model.JobStatusFailed, model.JobStatusCancelled:
		updates["finished_at"] = at
	}

	res := r.Write(ctx).WithContext(ctx).
		Model(&DeliveryJobEntity{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrOwnershipMismatch
	}
	return nil
}

// UpdateCounters persists delivery progress so a crash mid-job loses at
// most the in-flight batch.
func (r *DeliveryJobRepository) UpdateCounters(ctx context.Context, id string, sent, failed int) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&DeliveryJobEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"sent_count": sent, "failed_count": failed}).Error
}

// RequestCancel flags a non-terminal job for cancellation. Workers check
// the flag at batch boundaries.
func (r *DeliveryJobRepository) RequestCancel(ctx context.Context, id string) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&DeliveryJobEntity{}).
		Where("id = ? AND status IN ?", id, []string{
			string(model.JobStatusQueued), string(model.JobStatusRunning),
		}).
		Update("cancel_requested", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *DeliveryJobRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var entity DeliveryJobEntity
	err := r.Read(ctx).WithContext(ctx).
		Select("cancel_requested").
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return false, model.ErrNotFound
		}
		return false, err
	}
	return entity.CancelRequested, nil
}

func (r *DeliveryJobRepository) List(ctx context.Context, f model.JobFilter) ([]*model.DeliveryJob, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DeliveryJobEntity{})

	if f.DeviceID != nil && *f.DeviceID != "" {
		q = q.Where("device_id = ?", *f.DeviceID)
	}
	if f.OwnerID != nil && *f.OwnerID != "" {
		q = q.Where("owner_id = ?", *f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*DeliveryJobEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toDeliveryJobModels(entities), total, nil
}

// isUniqueViolation matches unique-constraint errors from both postgres
// (lib/pq code 23505) and the sqlite test driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
