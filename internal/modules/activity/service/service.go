package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/trackloop/studio-backend/internal/entity"
	activityDto "github.com/trackloop/studio-backend/internal/modules/activity/dto"
	activityRepo "github.com/trackloop/studio-backend/internal/modules/activity/repository"
	membershipRepo "github.com/trackloop/studio-backend/internal/modules/membership/repository"
	search "github.com/trackloop/studio-backend/internal/modules/search/service"
	"github.com/trackloop/studio-backend/internal/realtime"
	"github.com/trackloop/studio-backend/pkg/apperror"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor visibility policy: whether an actor's own activity shows up in their
// feed pre-read, or not at all. Both behaviors are wanted in different
// deployments, so this is a flag rather than hard-wired.
const (
	ActorVisibilityPreRead = "pre_read"
	ActorVisibilityHidden  = "hidden"
)

// RecordInput is the sole entry point payload for producers (cut, vibe, file
// and comment services call this through ActivityService.Record).
type RecordInput struct {
	Type         string
	ActorID      uuid.UUID
	ProjectID    uuid.UUID
	Metadata     map[string]interface{}
	ResourceLink *string
}

type ActivityService interface {
	Record(ctx context.Context, input RecordInput) (*activityDto.ActivityResponse, error)
	Feed(ctx context.Context, userID uuid.UUID, filter activityRepo.FeedFilter) (*activityDto.FeedResponse, error)
	UnreadCount(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, activityID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID, filter activityRepo.FeedFilter) (int64, error)
	Dismiss(ctx context.Context, userID, activityID uuid.UUID) error
	DismissAll(ctx context.Context, userID uuid.UUID, filter activityRepo.FeedFilter) (int64, error)
	Undismiss(ctx context.Context, userID, activityID uuid.UUID) error
	ProjectLog(ctx context.Context, requesterID, projectID uuid.UUID, limit, offset int) ([]activityDto.ActivityResponse, int64, error)
	Search(ctx context.Context, userID uuid.UUID, query string) ([]activityDto.SearchResultResponse, error)
}

type activityService struct {
	activityRepo   activityRepo.ActivityRepository
	visibilityRepo activityRepo.VisibilityRepository
	membershipRepo membershipRepo.MembershipRepository
	publisher      realtime.Publisher
	searchService  search.SearchService
	actorPolicy    string
}

func NewActivityService(
	activities activityRepo.ActivityRepository,
	visibilities activityRepo.VisibilityRepository,
	memberships membershipRepo.MembershipRepository,
	publisher realtime.Publisher,
	searchService search.SearchService,
	actorPolicy string,
) ActivityService {
	if actorPolicy != ActorVisibilityHidden {
		actorPolicy = ActorVisibilityPreRead
	}

	return &activityService{
		activityRepo:   activities,
		visibilityRepo: visibilities,
		membershipRepo: memberships,
		publisher:      publisher,
		searchService:  searchService,
		actorPolicy:    actorPolicy,
	}
}

// Record validates, appends to the log, and fans out visibility + pushes.
// Validation failures reject the whole event before anything is written.
// Fan-out failures never bubble up: the lazy backfill on the next feed read
// repairs any member the fan-out missed.
func (s *activityService) Record(ctx context.Context, input RecordInput) (*activityDto.ActivityResponse, error) {
	if !IsValidType(input.Type) {
		return nil, fmt.Errorf("%w: unknown activity type %q", apperror.ErrInvalidInput, input.Type)
	}
	if input.ActorID == uuid.Nil {
		return nil, fmt.Errorf("%w: actor_id is required", apperror.ErrInvalidInput)
	}
	if input.ProjectID == uuid.Nil {
		return nil, fmt.Errorf("%w: project_id is required", apperror.ErrInvalidInput)
	}
	if err := ValidateMetadata(input.Type, datatypes.JSONMap(input.Metadata)); err != nil {
		return nil, fmt.Errorf("%w: %v", apperror.ErrInvalidInput, err)
	}

	activity := &entity.Activity{
		Type:         input.Type,
		ActorID:      input.ActorID,
		ProjectID:    input.ProjectID,
		Metadata:     datatypes.JSONMap(input.Metadata),
		ResourceLink: input.ResourceLink,
	}

	if err := s.activityRepo.Append(ctx, activity); err != nil {
		return nil, err
	}

	s.fanOut(ctx, activity)

	if s.searchService != nil {
		doc := search.ActivityDocument{
			ID:          activity.ID.String(),
			ProjectID:   activity.ProjectID.String(),
			Type:        activity.Type,
			Description: Describe(activity.Type, activity.Metadata),
			CreatedAt:   activity.CreatedAt.Unix(),
		}
		if err := s.searchService.IndexActivity(doc); err != nil {
			log.Printf("Failed to index activity %s: %v", activity.ID, err)
		}
	}

	resp := s.mapActivity(activity)
	return &resp, nil
}

func (s *activityService) Feed(ctx context.Context, userID uuid.UUID, filter activityRepo.FeedFilter) (*activityDto.FeedResponse, error) {
	s.backfill(ctx, userID)

	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	rows, total, unread, err := s.visibilityRepo.Feed(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	items := make([]activityDto.FeedItemResponse, 0, len(rows))
	for _, row := range rows {
		if row.Activity == nil {
			continue
		}
		items = append(items, activityDto.FeedItemResponse{
			Activity: s.mapActivity(row.Activity),
			IsRead:   row.IsRead,
			ReadAt:   row.ReadAt,
		})
	}

	return &activityDto.FeedResponse{
		Activities:  items,
		Total:       total,
		UnreadCount: unread,
	}, nil
}

func (s *activityService) UnreadCount(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (int64, error) {
	s.backfill(ctx, userID)
	return s.visibilityRepo.CountUnread(ctx, userID, projectID)
}

// MarkRead is idempotent: marking an already-read row succeeds silently, and
// it works on dismissed rows too (read and dismiss are independent axes).
func (s *activityService) MarkRead(ctx context.Context, userID, activityID uuid.UUID) error {
	if err := s.ensureVisible(ctx, userID, activityID); err != nil {
		return err
	}
	_, err := s.visibilityRepo.SetRead(ctx, userID, activityID)
	return err
}

func (s *activityService) MarkAllRead(ctx context.Context, userID uuid.UUID, filter activityRepo.FeedFilter) (int64, error) {
	s.backfill(ctx, userID)
	return s.visibilityRepo.MarkAllRead(ctx, userID, filter)
}

// Dismiss hides the activity from this user's feed only. The activity row
// and every other user's visibility are untouched.
func (s *activityService) Dismiss(ctx context.Context, userID, activityID uuid.UUID) error {
	if err := s.ensureVisible(ctx, userID, activityID); err != nil {
		return err
	}
	_, err := s.visibilityRepo.SetDismissed(ctx, userID, activityID, true)
	return err
}

func (s *activityService) DismissAll(ctx context.Context, userID uuid.UUID, filter activityRepo.FeedFilter) (int64, error) {
	s.backfill(ctx, userID)
	return s.visibilityRepo.DismissAll(ctx, userID, filter)
}

// Undismiss restores the entry with whatever read state it had before.
func (s *activityService) Undismiss(ctx context.Context, userID, activityID uuid.UUID) error {
	if err := s.ensureVisible(ctx, userID, activityID); err != nil {
		return err
	}
	_, err := s.visibilityRepo.SetDismissed(ctx, userID, activityID, false)
	return err
}

// ProjectLog exposes the raw append-only log for audits. Non-members get a
// not-found, never a forbidden, so project existence doesn't leak.
func (s *activityService) ProjectLog(ctx context.Context, requesterID, projectID uuid.UUID, limit, offset int) ([]activityDto.ActivityResponse, int64, error) {
	if _, err := s.membershipRepo.Find(ctx, projectID, requesterID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, apperror.ErrNotFound
		}
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}

	activities, total, err := s.activityRepo.ListByProject(ctx, projectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]activityDto.ActivityResponse, 0, len(activities))
	for i := range activities {
		responses = append(responses, s.mapActivity(&activities[i]))
	}
	return responses, total, nil
}

func (s *activityService) Search(ctx context.Context, userID uuid.UUID, query string) ([]activityDto.SearchResultResponse, error) {
	if s.searchService == nil {
		return []activityDto.SearchResultResponse{}, nil
	}

	projectIDs, err := s.membershipRepo.ProjectIDsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	docs, err := s.searchService.SearchActivities(query, projectIDs)
	if err != nil {
		return nil, err
	}

	results := make([]activityDto.SearchResultResponse, 0, len(docs))
	for _, doc := range docs {
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			continue
		}

		// Hide hits the caller dismissed; search must agree with the feed.
		row, err := s.visibilityRepo.Find(ctx, userID, id)
		if err == nil && row.IsDismissed {
			continue
		}

		projectID, err := uuid.Parse(doc.ProjectID)
		if err != nil {
			continue
		}

		results = append(results, activityDto.SearchResultResponse{
			ID:          id,
			ProjectID:   projectID,
			Type:        doc.Type,
			Description: doc.Description,
			CreatedAt:   time.Unix(doc.CreatedAt, 0),
		})
	}
	return results, nil
}

// ensureVisible lazily creates the visibility row when the user is entitled
// to one (member since before the activity), so transitions work even when
// the original fan-out write for this member failed. Anything else is a
// not-found: wrong project, late joiner, or hidden actor.
func (s *activityService) ensureVisible(ctx context.Context, userID, activityID uuid.UUID) error {
	_, err := s.visibilityRepo.Find(ctx, userID, activityID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	activity, err := s.activityRepo.FindByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.ErrNotFound
		}
		return err
	}

	if s.actorPolicy == ActorVisibilityHidden && activity.ActorID == userID {
		return apperror.ErrNotFound
	}

	member, err := s.membershipRepo.Find(ctx, activity.ProjectID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.ErrNotFound
		}
		return err
	}
	if member.CreatedAt.After(activity.CreatedAt) {
		// Joined after the fact; the audience was fixed at fan-out time.
		return apperror.ErrNotFound
	}

	return s.visibilityRepo.Upsert(ctx, []entity.ActivityVisibility{
		s.visibilityRow(activity, userID),
	})
}

// backfill self-heals missing visibility rows before a read. Failures are
// logged and ignored: a stale read is better than no read, and the next pull
// retries anyway.
func (s *activityService) backfill(ctx context.Context, userID uuid.UUID) {
	missing, err := s.visibilityRepo.MissingForUser(ctx, userID)
	if err != nil {
		log.Printf("Visibility backfill lookup for user %s failed: %v", userID, err)
		return
	}
	if len(missing) == 0 {
		return
	}

	rows := make([]entity.ActivityVisibility, 0, len(missing))
	for i := range missing {
		activity := &missing[i]
		if s.actorPolicy == ActorVisibilityHidden && activity.ActorID == userID {
			continue
		}
		rows = append(rows, s.visibilityRow(activity, userID))
	}

	if err := s.visibilityRepo.Upsert(ctx, rows); err != nil {
		log.Printf("Visibility backfill for user %s failed: %v", userID, err)
	}
}

// visibilityRow builds the default overlay row: the actor's own action is
// born read, everyone else's is unread.
func (s *activityService) visibilityRow(activity *entity.Activity, userID uuid.UUID) entity.ActivityVisibility {
	row := entity.ActivityVisibility{
		UserID:     userID,
		ActivityID: activity.ID,
	}
	if activity.ActorID == userID {
		now := time.Now()
		row.IsRead = true
		row.ReadAt = &now
	}
	return row
}

func (s *activityService) mapActivity(activity *entity.Activity) activityDto.ActivityResponse {
	resp := activityDto.ActivityResponse{
		ID:           activity.ID,
		Type:         activity.Type,
		ActorID:      activity.ActorID,
		ProjectID:    activity.ProjectID,
		Metadata:     activity.Metadata,
		ResourceLink: activity.ResourceLink,
		CreatedAt:    activity.CreatedAt,
	}
	if activity.Actor != nil {
		resp.Actor = &activityDto.ActorResponse{
			ID:        activity.Actor.ID,
			Username:  activity.Actor.Username,
			AvatarURL: activity.Actor.AvatarURL,
		}
	}
	return resp
}
