package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/trackloop/studio-backend/internal/entity"
	activity "github.com/trackloop/studio-backend/internal/modules/activity/service"
	membershipRepo "github.com/trackloop/studio-backend/internal/modules/membership/repository"
	userRepo "github.com/trackloop/studio-backend/internal/modules/user/repository"
	"github.com/trackloop/studio-backend/pkg/apperror"
	"gorm.io/gorm"
)

// MembershipService is the project-membership boundary. AddMember doubles as
// a producer example: it records a member_added activity after the write.
type MembershipService interface {
	AddMember(ctx context.Context, actorID, projectID, userID uuid.UUID, role string) (*entity.ProjectMember, error)
	ListMembers(ctx context.Context, requesterID, projectID uuid.UUID) ([]entity.ProjectMember, error)
}

type membershipService struct {
	repo            membershipRepo.MembershipRepository
	userRepo        userRepo.UserRepository
	activityService activity.ActivityService
}

func NewMembershipService(repo membershipRepo.MembershipRepository, userRepo userRepo.UserRepository, activityService activity.ActivityService) MembershipService {
	return &membershipService{
		repo:            repo,
		userRepo:        userRepo,
		activityService: activityService,
	}
}

func (s *membershipService) AddMember(ctx context.Context, actorID, projectID, userID uuid.UUID, role string) (*entity.ProjectMember, error) {
	if _, err := s.repo.FindProject(ctx, projectID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrNotFound
		}
		return nil, err
	}

	// Only existing members may grow the audience.
	if _, err := s.repo.Find(ctx, projectID, actorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrNotFound
		}
		return nil, err
	}

	user, err := s.userRepo.FindByID(ctx, userID.String())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user does not exist", apperror.ErrBadRequest)
		}
		return nil, err
	}

	if _, err := s.repo.Find(ctx, projectID, userID); err == nil {
		return nil, fmt.Errorf("%w: user is already a member", apperror.ErrBadRequest)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if role != "owner" {
		role = "member"
	}
	member := &entity.ProjectMember{
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		return nil, err
	}

	// The new member only sees activities from their join time onward, so
	// this event lands in their feed too.
	_, err = s.activityService.Record(ctx, activity.RecordInput{
		Type:      activity.TypeMemberAdded,
		ActorID:   actorID,
		ProjectID: projectID,
		Metadata:  map[string]interface{}{"member_name": user.Username},
	})
	if err != nil {
		log.Printf("Failed to record member_added activity: %v", err)
	}

	return member, nil
}

func (s *membershipService) ListMembers(ctx context.Context, requesterID, projectID uuid.UUID) ([]entity.ProjectMember, error) {
	if _, err := s.repo.Find(ctx, projectID, requesterID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrNotFound
		}
		return nil, err
	}
	return s.repo.MembersOf(ctx, projectID)
}
