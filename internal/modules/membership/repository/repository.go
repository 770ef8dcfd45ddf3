package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/trackloop/studio-backend/internal/entity"
	"gorm.io/gorm"
)

// MembershipRepository resolves "who should see this" for fan-out and guards
// cross-project access on reads.
type MembershipRepository interface {
	MembersOf(ctx context.Context, projectID uuid.UUID) ([]entity.ProjectMember, error)
	Find(ctx context.Context, projectID, userID uuid.UUID) (*entity.ProjectMember, error)
	ProjectIDsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	AddMember(ctx context.Context, member *entity.ProjectMember) error
	FindProject(ctx context.Context, id uuid.UUID) (*entity.Project, error)
}

type membershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) MembersOf(ctx context.Context, projectID uuid.UUID) ([]entity.ProjectMember, error) {
	var members []entity.ProjectMember
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Find(&members).Error
	return members, err
}

func (r *membershipRepository) Find(ctx context.Context, projectID, userID uuid.UUID) (*entity.ProjectMember, error) {
	var member entity.ProjectMember
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *membershipRepository) ProjectIDsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&entity.ProjectMember{}).
		Where("user_id = ?", userID).
		Pluck("project_id", &ids).Error
	return ids, err
}

func (r *membershipRepository) AddMember(ctx context.Context, member *entity.ProjectMember) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *membershipRepository) FindProject(ctx context.Context, id uuid.UUID) (*entity.Project, error) {
	var project entity.Project
	err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}
