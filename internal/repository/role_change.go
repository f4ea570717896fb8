package repository

import (
	"context"

	"staffdesk/internal/models"
	"staffdesk/internal/observability"

	"gorm.io/gorm"
)

// RoleChangeRepository records direct role changes.
type RoleChangeRepository interface {
	Record(ctx context.Context, change *models.RoleChange) error
	ListByMember(ctx context.Context, memberID string, limit, offset int) ([]models.RoleChange, error)
}

type roleChangeRepository struct {
	db      *gorm.DB
	metrics *observability.DatabaseMetrics
}

// NewRoleChangeRepository returns a new RoleChangeRepository implementation.
func NewRoleChangeRepository(db *gorm.DB) RoleChangeRepository {
	return &roleChangeRepository{
		db:      db,
		metrics: observability.NewDatabaseMetrics(models.RoleChange{}.TableName()),
	}
}

func (r *roleChangeRepository) Record(ctx context.Context, change *models.RoleChange) error {
	defer r.metrics.TrackQuery("Record")()

	if err := r.db.WithContext(ctx).Create(change).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

// ListByMember returns the changes applied to a member, newest first.
func (r *roleChangeRepository) ListByMember(ctx context.Context, memberID string, limit, offset int) ([]models.RoleChange, error) {
	defer r.metrics.TrackQuery("ListByMember")()

	var out []models.RoleChange
	if err := r.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at DESC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return out, nil
}
