package repository

import (
	"context"

	"staffdesk/internal/models"
	"staffdesk/internal/observability"

	"gorm.io/gorm"
)

// SideEffectRepository records post-decision effects.
type SideEffectRepository interface {
	Record(ctx context.Context, effect *models.SideEffect) error
	ListByRequest(ctx context.Context, requestID string) ([]models.SideEffect, error)
}

type sideEffectRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
}

// NewSideEffectRepository returns a new SideEffectRepository implementation.
func NewSideEffectRepository(db *gorm.DB) SideEffectRepository {
	return &sideEffectRepository{
		db:      db,
		metrics: observability.NewDatabaseMetrics(models.SideEffect{}.TableName()),
	}
}

func (r *sideEffectRepository) Record(ctx context.Context, effect *models.SideEffect) error {
	defer r.metrics.TrackQuery("Record")()

	if err := r.db.WithContext(ctx).Create(effect).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// ListByRequest returns the recorded effects for a request in attempt order.
func (r *sideEffectRepository) ListByRequest(ctx context.Context, requestID string) ([]models.SideEffect, error) {
	defer r.metrics.TrackQuery("ListByRequest")()

	var out []models.SideEffect
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}
