package repository

import (
	"context"
	"time"

	"github.com/sendloop/wa-gateway/internal/model"
	"github.com/sendloop/wa-gateway/pkg/pg"
	"gorm.io/gorm/clause"
)

type ServerInstanceRepository struct {
	*pg.DB
}

func NewServerInstanceRepository(db *pg.DB) *ServerInstanceRepository {
	return &ServerInstanceRepository{
		db,
	}
}

// Upsert registers the server row, reactivating it if a previous
// incarnation was marked inactive. Re-registration with the same ID is
// idempotent.
func (r *ServerInstanceRepository) Upsert(ctx context.Context, s *model.ServerInstance) (*model.ServerInstance, error) {
	entity := toServerInstanceEntity(s)

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"active", "healthy", "last_heartbeat", "current_load", "priority", "updated_at",
			}),
		}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}

	return toServerInstanceModel(entity), nil
}

func (r *ServerInstanceRepository) Get(ctx context.Context, id string) (*model.ServerInstance, error) {
	var entity ServerInstanceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).Error
	if err != nil {
		if isRecordNotFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return toServerInstanceModel(&entity), nil
}

// Heartbeat refreshes the liveness timestamp and load of an active server.
func (r *ServerInstanceRepository) Heartbeat(ctx context.Context, id string, load int, at time.Time) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&ServerInstanceEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":         true,
			"healthy":        true,
			"last_heartbeat": at,
			"current_load":   load,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// MarkInactive deactivates a server, typically on graceful shutdown or
// after the health sweep declared it dead.
func (r *ServerInstanceRepository) MarkInactive(ctx context.Context, id string) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&ServerInstanceEntity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"active": false, "healthy": false}).Error
}

// ListStale returns active servers whose last heartbeat is older than
// the cutoff. The health sweep uses this to find dead servers.
func (r *ServerInstanceRepository) ListStale(ctx context.Context, cutoff time.Time) ([]*model.ServerInstance, error) {
	var entities []*ServerInstanceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("active = ? AND last_heartbeat < ?", true, cutoff).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toServerInstanceModels(entities), nil
}

func (r *ServerInstanceRepository) ListActive(ctx context.Context) ([]*model.ServerInstance, error) {
	var entities []*ServerInstanceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("active = ?", true).
		Order("priority DESC, current_load ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toServerInstanceModels(entities), nil
}
