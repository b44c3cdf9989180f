package repository

import (
	"context"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/pg"
	"gorm.io/gorm"
)

type ScheduleRepository struct {
	*pg.DB
}

func NewScheduleRepository(db *pg.DB) *ScheduleRepository {
	return &ScheduleRepository{
		db,
	}
}

func (r *ScheduleRepository) Create(ctx context.Context, s *model.RecurringSchedule) (*model.RecurringSchedule, error) {
	entity := toRecurringScheduleEntity(s)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toRecurringScheduleModel(entity), nil
}

func (r *ScheduleRepository) Get(ctx context.Context, id string) (*model.RecurringSchedule, error) {
	var entity RecurringScheduleEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return toRecurringScheduleModel(&entity), nil
}

// ListDue returns active schedules whose next_send_at has passed, for
// devices owned by serverID.
func (r *ScheduleRepository) ListDue(ctx context.Context, serverID string, t time.Time, limit int) ([]*model.RecurringSchedule, error) {
	if limit <= 0 {
		limit = 100
	}
	var entities []*RecurringScheduleEntity
	err := r.Read(ctx).WithContext(ctx).
		Joins("JOIN devices ON devices.id = recurring_schedules.device_id").
		Where("devices.assigned_server_id = ?", serverID).
		Where("recurring_schedules.active = ? AND recurring_schedules.next_send_at IS NOT NULL AND recurring_schedules.next_send_at <= ?", true, t).
		Order("recurring_schedules.next_send_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toRecurringScheduleModels(entities), nil
}

// Advance moves next_send_at forward after a firing. Guarded on the
// previous value so two ticks racing on the same schedule produce one
// advance: the loser sees zero rows and treats the firing as already
// handled.
func (r *ScheduleRepository) Advance(ctx context.Context, id string, prevNext, next time.Time, firedAt time.Time) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&RecurringScheduleEntity{}).
		Where("id = ? AND next_send_at = ?", id, prevNext).
		Updates(map[string]interface{}{
			"next_send_at": next,
			"last_sent_at": firedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrDuplicateEnqueue
	}
	return nil
}

// Deactivate turns a schedule off, used when it exhausts its end date or
// max executions.
func (r *ScheduleRepository) Deactivate(ctx context.Context, id string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&RecurringScheduleEntity{}).
		Where("id = ?", id).
		Update("active", false).Error
}

// AddCounters accumulates per-firing delivery totals onto the schedule.
func (r *ScheduleRepository) AddCounters(ctx context.Context, id string, sent, failed int) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&RecurringScheduleEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_sent":   gorm.Expr("total_sent + ?", sent),
			"total_failed": gorm.Expr("total_failed + ?", failed),
		}).Error
}

// IncrementExecutions bumps the firing counter. Kept separate from
// AddCounters: MaxExecutions counts firings, not messages.
func (r *ScheduleRepository) IncrementExecutions(ctx context.Context, id string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&RecurringScheduleEntity{}).
		Where("id = ?", id).
		Update("execution_count", gorm.Expr("execution_count + ?", 1)).Error
}
