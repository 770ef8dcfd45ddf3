package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/trackloop/studio-backend/internal/entity"
	activityDto "github.com/trackloop/studio-backend/internal/modules/activity/dto"
	activityRepo "github.com/trackloop/studio-backend/internal/modules/activity/repository"
	membershipRepo "github.com/trackloop/studio-backend/internal/modules/membership/repository"
	search "github.com/trackloop/studio-backend/internal/modules/search/service"
	"github.com/trackloop/studio-backend/pkg/apperror"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordedPush struct {
	userID  uuid.UUID
	payload interface{}
}

// capturePublisher stands in for the redis publisher so tests can assert on
// what would have been pushed.
type capturePublisher struct {
	pushes []recordedPush
}

func (p *capturePublisher) Publish(ctx context.Context, userID uuid.UUID, payload interface{}) error {
	p.pushes = append(p.pushes, recordedPush{userID: userID, payload: payload})
	return nil
}

func (p *capturePublisher) pushFor(userID uuid.UUID) (activityDto.PushMessage, bool) {
	for _, push := range p.pushes {
		if push.userID == userID {
			msg, ok := push.payload.(activityDto.PushMessage)
			return msg, ok
		}
	}
	return activityDto.PushMessage{}, false
}

func setupTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	err = db.AutoMigrate(
		&entity.User{},
		&entity.Project{},
		&entity.ProjectMember{},
		&entity.Activity{},
		&entity.ActivityVisibility{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, actorPolicy string) (ActivityService, *capturePublisher) {
	publisher := &capturePublisher{}
	svc := NewActivityService(
		activityRepo.NewActivityRepository(db),
		activityRepo.NewVisibilityRepository(db),
		membershipRepo.NewMembershipRepository(db),
		publisher,
		nil,
		actorPolicy,
	)
	return svc, publisher
}

func seedUser(t *testing.T, db *gorm.DB, username string) entity.User {
	user := entity.User{Username: username, Email: username + "@trackloop.id", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user %s: %v", username, err)
	}
	return user
}

func seedProjectWithMembers(t *testing.T, db *gorm.DB, owner entity.User, members ...entity.User) entity.Project {
	project := entity.Project{Name: "Late Night Sessions", OwnerID: owner.ID}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	joinedAt := time.Now().Add(-24 * time.Hour)
	rows := []entity.ProjectMember{{ProjectID: project.ID, UserID: owner.ID, Role: "owner", CreatedAt: joinedAt}}
	for _, m := range members {
		rows = append(rows, entity.ProjectMember{ProjectID: project.ID, UserID: m.ID, Role: "member", CreatedAt: joinedAt})
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("failed to seed members: %v", err)
	}
	return project
}

func record(t *testing.T, svc ActivityService, actor entity.User, project entity.Project, activityType string, metadata map[string]interface{}) *activityDto.ActivityResponse {
	resp, err := svc.Record(context.Background(), RecordInput{
		Type:      activityType,
		ActorID:   actor.ID,
		ProjectID: project.ID,
		Metadata:  metadata,
	})
	if err != nil {
		t.Fatalf("failed to record %s: %v", activityType, err)
	}
	return resp
}

func TestRecordRejectsInvalidInput(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	project := seedProjectWithMembers(t, db, actor)

	_, err := svc.Record(ctx, RecordInput{Type: "track_deleted", ActorID: actor.ID, ProjectID: project.ID})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = svc.Record(ctx, RecordInput{Type: TypeFileUploaded, ActorID: uuid.Nil, ProjectID: project.ID})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	// cut_moved needs cut_name, from_vibe and to_vibe.
	_, err = svc.Record(ctx, RecordInput{
		Type:      TypeCutMoved,
		ActorID:   actor.ID,
		ProjectID: project.ID,
		Metadata:  map[string]interface{}{"cut_name": "demo v2"},
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	// Nothing may have reached the log.
	var count int64
	db.Model(&entity.Activity{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRecordFansOutToEveryMember(t *testing.T) {
	db := setupTestDB(t)
	svc, publisher := newTestService(t, db, ActorVisibilityPreRead)

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	engineer := seedUser(t, db, "engineer")
	project := seedProjectWithMembers(t, db, actor, artist, engineer)

	resp := record(t, svc, actor, project, TypeFileUploaded, map[string]interface{}{"file_name": "kick.wav"})

	var rows []entity.ActivityVisibility
	db.Where("activity_id = ?", resp.ID).Find(&rows)
	assert.Len(t, rows, 3)

	for _, row := range rows {
		if row.UserID == actor.ID {
			assert.True(t, row.IsRead, "the actor's own entry is born read")
			assert.NotNil(t, row.ReadAt)
		} else {
			assert.False(t, row.IsRead)
			assert.Nil(t, row.ReadAt)
		}
	}

	assert.Len(t, publisher.pushes, 3)
	actorPush, ok := publisher.pushFor(actor.ID)
	assert.True(t, ok)
	assert.True(t, actorPush.IsRead)
	artistPush, ok := publisher.pushFor(artist.ID)
	assert.True(t, ok)
	assert.False(t, artistPush.IsRead)
	assert.Equal(t, "activity", artistPush.Event)
	assert.Equal(t, resp.ID, artistPush.Activity.ID)
}

func TestHiddenActorPolicySkipsActorEntirely(t *testing.T) {
	db := setupTestDB(t)
	svc, publisher := newTestService(t, db, ActorVisibilityHidden)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	resp := record(t, svc, actor, project, TypeVibeCreated, map[string]interface{}{"vibe_name": "chorus ideas"})

	var rows []entity.ActivityVisibility
	db.Where("activity_id = ?", resp.ID).Find(&rows)
	assert.Len(t, rows, 1)
	assert.Equal(t, artist.ID, rows[0].UserID)
	assert.Len(t, publisher.pushes, 1)

	// The backfill must not resurrect the actor's entry either.
	feed, err := svc.Feed(ctx, actor.ID, activityRepo.FeedFilter{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), feed.Total)

	// And transitions on it answer not-found for the actor.
	err = svc.MarkRead(ctx, actor.ID, resp.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestReadStateIsIndependentPerUser(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	engineer := seedUser(t, db, "engineer")
	project := seedProjectWithMembers(t, db, actor, artist, engineer)

	resp := record(t, svc, actor, project, TypeCommentAdded, map[string]interface{}{"comment_preview": "love this hook"})

	assert.NoError(t, svc.MarkRead(ctx, artist.ID, resp.ID))

	artistCount, err := svc.UnreadCount(ctx, artist.ID, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), artistCount)

	engineerCount, err := svc.UnreadCount(ctx, engineer.ID, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), engineerCount, "one user's read never leaks to another")
}

func TestMarkReadIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	resp := record(t, svc, actor, project, TypeLyricsUpdated, map[string]interface{}{"cut_name": "verse 2"})

	assert.NoError(t, svc.MarkRead(ctx, artist.ID, resp.ID))

	var first entity.ActivityVisibility
	db.Where("user_id = ? AND activity_id = ?", artist.ID, resp.ID).First(&first)

	// A retried request must not error and must not touch read_at.
	assert.NoError(t, svc.MarkRead(ctx, artist.ID, resp.ID))

	var second entity.ActivityVisibility
	db.Where("user_id = ? AND activity_id = ?", artist.ID, resp.ID).First(&second)
	assert.Equal(t, first.ReadAt.UnixNano(), second.ReadAt.UnixNano())
}

func TestTransitionsRejectForeignActivities(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	outsider := seedUser(t, db, "outsider")
	project := seedProjectWithMembers(t, db, actor)

	resp := record(t, svc, actor, project, TypeCutCreated, map[string]interface{}{"cut_name": "intro"})

	assert.ErrorIs(t, svc.MarkRead(ctx, outsider.ID, resp.ID), apperror.ErrNotFound)
	assert.ErrorIs(t, svc.Dismiss(ctx, outsider.ID, resp.ID), apperror.ErrNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, actor.ID, uuid.New()), apperror.ErrNotFound)
}

func TestDismissHidesForOneUserOnly(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	engineer := seedUser(t, db, "engineer")
	project := seedProjectWithMembers(t, db, actor, artist, engineer)

	resp := record(t, svc, actor, project, TypeFileShared, map[string]interface{}{"file_name": "stems.zip"})

	assert.NoError(t, svc.Dismiss(ctx, artist.ID, resp.ID))

	artistFeed, err := svc.Feed(ctx, artist.ID, activityRepo.FeedFilter{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), artistFeed.Total)

	engineerFeed, err := svc.Feed(ctx, engineer.ID, activityRepo.FeedFilter{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), engineerFeed.Total)

	// The shared activity record itself is untouched.
	var activity entity.Activity
	assert.NoError(t, db.First(&activity, "id = ?", resp.ID).Error)
}

func TestUndismissRestoresPriorReadState(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	resp := record(t, svc, actor, project, TypeFileUploaded, map[string]interface{}{"file_name": "snare.wav"})

	assert.NoError(t, svc.MarkRead(ctx, artist.ID, resp.ID))
	assert.NoError(t, svc.Dismiss(ctx, artist.ID, resp.ID))
	assert.NoError(t, svc.Undismiss(ctx, artist.ID, resp.ID))

	feed, err := svc.Feed(ctx, artist.ID, activityRepo.FeedFilter{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), feed.Total)
	assert.Len(t, feed.Activities, 1)
	assert.True(t, feed.Activities[0].IsRead, "restore brings back the read state it had")
	assert.Equal(t, int64(0), feed.UnreadCount)
}

func TestUnreadCountTracksEveryTransition(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	first := record(t, svc, actor, project, TypeFileUploaded, map[string]interface{}{"file_name": "one.wav"})
	second := record(t, svc, actor, project, TypeFileUploaded, map[string]interface{}{"file_name": "two.wav"})
	record(t, svc, actor, project, TypeFileUploaded, map[string]interface{}{"file_name": "three.wav"})

	count, err := svc.UnreadCount(ctx, artist.ID, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)

	assert.NoError(t, svc.MarkRead(ctx, artist.ID, first.ID))
	count, _ = svc.UnreadCount(ctx, artist.ID, nil)
	assert.Equal(t, int64(2), count)

	assert.NoError(t, svc.Dismiss(ctx, artist.ID, second.ID))
	count, _ = svc.UnreadCount(ctx, artist.ID, nil)
	assert.Equal(t, int64(1), count)

	assert.NoError(t, svc.Undismiss(ctx, artist.ID, second.ID))
	count, _ = svc.UnreadCount(ctx, artist.ID, nil)
	assert.Equal(t, int64(2), count, "an undismissed unread entry counts again")

	// The actor never counted their own activities.
	count, _ = svc.UnreadCount(ctx, actor.ID, nil)
	assert.Equal(t, int64(0), count)
}

func TestFeedPaginationKeepsCountsStable(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	for i := 0; i < 5; i++ {
		record(t, svc, actor, project, TypeFileUploaded, map[string]interface{}{"file_name": fmt.Sprintf("take-%d.wav", i)})
	}

	page, err := svc.Feed(ctx, artist.ID, activityRepo.FeedFilter{Limit: 2})
	assert.NoError(t, err)
	assert.Len(t, page.Activities, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, int64(5), page.UnreadCount)

	next, err := svc.Feed(ctx, artist.ID, activityRepo.FeedFilter{Limit: 2, Offset: 2})
	assert.NoError(t, err)
	assert.Len(t, next.Activities, 2)
	assert.Equal(t, int64(5), next.Total)
	assert.NotEqual(t, page.Activities[0].Activity.ID, next.Activities[0].Activity.ID)
}

func TestFeedBackfillsMissedFanOut(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	resp := record(t, svc, actor, project, TypeProjectCreated, map[string]interface{}{"project_name": "Late Night Sessions"})

	// Simulate a fan-out write that never landed for the artist.
	db.Where("user_id = ? AND activity_id = ?", artist.ID, resp.ID).Delete(&entity.ActivityVisibility{})

	feed, err := svc.Feed(ctx, artist.ID, activityRepo.FeedFilter{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), feed.Total)
	assert.False(t, feed.Activities[0].IsRead)
}

func TestTransitionRepairsMissedFanOut(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	resp := record(t, svc, actor, project, TypeCutMoved, map[string]interface{}{
		"cut_name":  "hook",
		"from_vibe": "sketches",
		"to_vibe":   "keepers",
	})
	db.Where("user_id = ? AND activity_id = ?", artist.ID, resp.ID).Delete(&entity.ActivityVisibility{})

	// Marking read on a row the fan-out missed creates it on the spot.
	assert.NoError(t, svc.MarkRead(ctx, artist.ID, resp.ID))

	var row entity.ActivityVisibility
	assert.NoError(t, db.Where("user_id = ? AND activity_id = ?", artist.ID, resp.ID).First(&row).Error)
	assert.True(t, row.IsRead)
}

func TestLateJoinerNeverSeesHistory(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	latecomer := seedUser(t, db, "latecomer")
	project := seedProjectWithMembers(t, db, actor)

	old := record(t, svc, actor, project, TypeFileUploaded, map[string]interface{}{"file_name": "early.wav"})

	// Joins well after the upload.
	member := entity.ProjectMember{ProjectID: project.ID, UserID: latecomer.ID, Role: "member", CreatedAt: time.Now().Add(time.Minute)}
	assert.NoError(t, db.Create(&member).Error)

	feed, err := svc.Feed(ctx, latecomer.ID, activityRepo.FeedFilter{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, int64(0), feed.Total, "the audience was fixed when the activity was recorded")

	assert.ErrorIs(t, svc.MarkRead(ctx, latecomer.ID, old.ID), apperror.ErrNotFound)
}

func TestProjectLogIsMemberGated(t *testing.T) {
	db := setupTestDB(t)
	svc, _ := newTestService(t, db, ActorVisibilityPreRead)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	outsider := seedUser(t, db, "outsider")
	project := seedProjectWithMembers(t, db, actor, artist)

	record(t, svc, actor, project, TypeVibeCreated, map[string]interface{}{"vibe_name": "bridge"})
	record(t, svc, actor, project, TypeCutCreated, map[string]interface{}{"cut_name": "bridge take 1"})

	// Dismissals never touch the log.
	feed, _ := svc.Feed(ctx, artist.ID, activityRepo.FeedFilter{Limit: 10})
	assert.NoError(t, svc.Dismiss(ctx, artist.ID, feed.Activities[0].Activity.ID))

	entries, total, err := svc.ProjectLog(ctx, artist.ID, project.ID, 10, 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)

	_, _, err = svc.ProjectLog(ctx, outsider.ID, project.ID, 10, 0)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// stubSearch returns whatever was indexed, so the service-level dismissal
// filter can be exercised without a live meilisearch.
type stubSearch struct {
	docs []search.ActivityDocument
}

func (s *stubSearch) IndexActivity(doc search.ActivityDocument) error {
	s.docs = append(s.docs, doc)
	return nil
}

func (s *stubSearch) SearchActivities(query string, projectIDs []uuid.UUID) ([]search.ActivityDocument, error) {
	return s.docs, nil
}

func TestSearchHidesDismissedEntries(t *testing.T) {
	db := setupTestDB(t)
	stub := &stubSearch{}
	svc := NewActivityService(
		activityRepo.NewActivityRepository(db),
		activityRepo.NewVisibilityRepository(db),
		membershipRepo.NewMembershipRepository(db),
		&capturePublisher{},
		stub,
		ActorVisibilityPreRead,
	)
	ctx := context.Background()

	actor := seedUser(t, db, "producer")
	artist := seedUser(t, db, "artist")
	project := seedProjectWithMembers(t, db, actor, artist)

	first, err := svc.Record(ctx, RecordInput{
		Type: TypeFileUploaded, ActorID: actor.ID, ProjectID: project.ID,
		Metadata: map[string]interface{}{"file_name": "kick.wav"},
	})
	assert.NoError(t, err)
	_, err = svc.Record(ctx, RecordInput{
		Type: TypeFileUploaded, ActorID: actor.ID, ProjectID: project.ID,
		Metadata: map[string]interface{}{"file_name": "snare.wav"},
	})
	assert.NoError(t, err)
	assert.Len(t, stub.docs, 2)

	assert.NoError(t, svc.Dismiss(ctx, artist.ID, first.ID))

	results, err := svc.Search(ctx, artist.ID, "wav")
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.NotEqual(t, first.ID, results[0].ID)

	// The actor did not dismiss anything, so they still see both hits.
	results, err = svc.Search(ctx, actor.ID, "wav")
	assert.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDescribeRendersKnownTypes(t *testing.T) {
	meta := datatypes.JSONMap{"cut_name": "hook", "from_vibe": "sketches", "to_vibe": "keepers"}
	assert.Equal(t, "Cut hook was moved from sketches to keepers", Describe(TypeCutMoved, meta))
	assert.Equal(t, "", Describe("unknown_type", meta))
	assert.False(t, IsValidType("unknown_type"))
	assert.True(t, IsValidType(TypeMemberAdded))
}
