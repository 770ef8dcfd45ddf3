package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/trackloop/studio-backend/internal/entity"
	"gorm.io/gorm"
)

// ActivityRepository is the append-only log store. Append never touches
// existing rows; there is no update or delete path.
type ActivityRepository interface {
	Append(ctx context.Context, activity *entity.Activity) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Activity, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]entity.Activity, int64, error)
}

type activityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Append(ctx context.Context, activity *entity.Activity) error {
	return r.db.WithContext(ctx).Create(activity).Error
}

func (r *activityRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Activity, error) {
	var activity entity.Activity
	err := r.db.WithContext(ctx).
		Preload("Actor", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "avatar_url")
		}).
		First(&activity, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

func (r *activityRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]entity.Activity, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&entity.Activity{}).
		Where("project_id = ?", projectID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var activities []entity.Activity
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Preload("Actor", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "username", "avatar_url")
		}).
		Find(&activities).Error
	return activities, total, err
}
