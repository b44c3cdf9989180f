package repository

import (
	"context"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/pg"
	"gorm.io/gorm/clause"
)

type HealthRepository struct {
	*pg.DB
}

func NewHealthRepository(db *pg.DB) *HealthRepository {
	return &HealthRepository{
		db,
	}
}

func (r *HealthRepository) UpsertMetrics(ctx context.Context, m *model.DeviceMetrics) error {
	entity := toDeviceMetricsEntity(m)
	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "uptime_minutes", "messages_sent_today",
				"messages_failed_today", "reconnects_today", "updated_at",
			}),
		}).
		Create(entity).Error
}

func (r *HealthRepository) GetMetrics(ctx context.Context, deviceID string) (*model.DeviceMetrics, error) {
	var entity DeviceMetricsEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return toDeviceMetricsModel(&entity), nil
}

// ListMetricsForServer returns the latest snapshot of every device the
// given server currently owns. The monitor sweeps only its own devices.
func (r *HealthRepository) ListMetricsForServer(ctx context.Context, serverID string) ([]*model.DeviceMetrics, error) {
	var entities []*DeviceMetricsEntity
	err := r.Read(ctx).WithContext(ctx).
		Joins("JOIN devices ON devices.id = device_metrics.device_id").
		Where("devices.assigned_server_id = ?", serverID).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	models := make([]*model.DeviceMetrics, len(entities))
	for i, e := range entities {
		models[i] = toDeviceMetricsModel(e)
	}
	return models, nil
}

func (r *HealthRepository) RecordIssue(ctx context.Context, deviceID string, level model.HealthLevel, detail string) (*model.DeviceHealthIssue, error) {
	entity := &DeviceHealthIssueEntity{
		DeviceID: deviceID,
		Level:    string(level),
		Detail:   detail,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toDeviceHealthIssueModel(entity), nil
}

func (r *HealthRepository) ListIssues(ctx context.Context, deviceID string, limit int) ([]*model.DeviceHealthIssue, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	var entities []*DeviceHealthIssueEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	models := make([]*model.DeviceHealthIssue, len(entities))
	for i, e := range entities {
		models[i] = toDeviceHealthIssueModel(e)
	}
	return models, nil
}
