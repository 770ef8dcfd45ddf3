package service

import (
	"context"
	"log"

	"github.com/trackloop/studio-backend/internal/entity"
	activityDto "github.com/trackloop/studio-backend/internal/modules/activity/dto"
	"github.com/trackloop/studio-backend/internal/realtime"
)

// fanOut materializes one visibility row per current project member and
// pushes the activity to each member's live sessions. The upsert's unique
// key makes a redelivered activity a no-op, so the dispatcher is idempotent
// without any dedup bookkeeping. Per-member failures are logged and skipped:
// a missed row self-heals on that member's next feed read, and a dropped
// push is compensated by the reconciliation pull.
func (s *activityService) fanOut(ctx context.Context, activity *entity.Activity) {
	members, err := s.membershipRepo.MembersOf(ctx, activity.ProjectID)
	if err != nil {
		log.Printf("Fan-out: resolving members of project %s failed: %v", activity.ProjectID, err)
		return
	}

	payload := s.mapActivity(activity)

	for _, member := range members {
		isActor := member.UserID == activity.ActorID
		if isActor && s.actorPolicy == ActorVisibilityHidden {
			continue
		}

		row := s.visibilityRow(activity, member.UserID)
		if err := s.visibilityRepo.Upsert(ctx, []entity.ActivityVisibility{row}); err != nil {
			log.Printf("Fan-out: visibility write for user %s failed: %v", member.UserID, err)
			// keep going; other members still get their rows
		}

		if s.publisher == nil {
			continue
		}
		push := activityDto.PushMessage{
			Event:    realtime.EventActivity,
			Activity: payload,
			IsRead:   isActor,
		}
		if err := s.publisher.Publish(ctx, member.UserID, push); err != nil {
			log.Printf("Fan-out: push to user %s dropped: %v", member.UserID, err)
		}
	}
}
