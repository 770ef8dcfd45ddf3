package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/trackloop/studio-backend/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeedFilter is the conjunction applied to a user's feed. is_dismissed=false
// is always part of the predicate and is not expressed here.
type FeedFilter struct {
	Type       string
	ProjectID  *uuid.UUID
	UnreadOnly bool
	Limit      int
	Offset     int
}

// VisibilityRepository is the per-(user, activity) overlay store. Every
// mutation is a conditional write so duplicate calls are no-ops, which makes
// the callers idempotent without any dedup logic of their own.
type VisibilityRepository interface {
	Upsert(ctx context.Context, rows []entity.ActivityVisibility) error
	Find(ctx context.Context, userID, activityID uuid.UUID) (*entity.ActivityVisibility, error)
	SetRead(ctx context.Context, userID, activityID uuid.UUID) (bool, error)
	SetDismissed(ctx context.Context, userID, activityID uuid.UUID, dismissed bool) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, filter FeedFilter) (int64, error)
	DismissAll(ctx context.Context, userID uuid.UUID, filter FeedFilter) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (int64, error)
	Feed(ctx context.Context, userID uuid.UUID, filter FeedFilter) ([]entity.ActivityVisibility, int64, int64, error)
	MissingForUser(ctx context.Context, userID uuid.UUID) ([]entity.Activity, error)
}

type visibilityRepository struct {
	db *gorm.DB
}

func NewVisibilityRepository(db *gorm.DB) VisibilityRepository {
	return &visibilityRepository{db: db}
}

// Upsert inserts rows that don't exist yet and leaves existing ones alone.
// The (user_id, activity_id) unique index makes redelivered fan-outs a no-op.
func (r *visibilityRepository) Upsert(ctx context.Context, rows []entity.ActivityVisibility) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "activity_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *visibilityRepository) Find(ctx context.Context, userID, activityID uuid.UUID) (*entity.ActivityVisibility, error) {
	var row entity.ActivityVisibility
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND activity_id = ?", userID, activityID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SetRead flips is_read to true. Returns false when the row was already read
// (second call of a retried request), which is not an error.
func (r *visibilityRepository) SetRead(ctx context.Context, userID, activityID uuid.UUID) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&entity.ActivityVisibility{}).
		Where("user_id = ? AND activity_id = ? AND is_read = ?", userID, activityID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	return res.RowsAffected > 0, res.Error
}

// SetDismissed flips the dismissed flag in either direction without touching
// is_read: the two axes are independent.
func (r *visibilityRepository) SetDismissed(ctx context.Context, userID, activityID uuid.UUID, dismissed bool) (bool, error) {
	values := map[string]interface{}{"is_dismissed": dismissed}
	if dismissed {
		now := time.Now()
		values["dismissed_at"] = &now
	} else {
		values["dismissed_at"] = nil
	}

	res := r.db.WithContext(ctx).Model(&entity.ActivityVisibility{}).
		Where("user_id = ? AND activity_id = ? AND is_dismissed = ?", userID, activityID, !dismissed).
		Updates(values)
	return res.RowsAffected > 0, res.Error
}

func (r *visibilityRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, filter FeedFilter) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&entity.ActivityVisibility{}).
		Where("user_id = ? AND is_read = ? AND is_dismissed = ?", userID, false, false).
		Where("activity_id IN (?)", r.activityIDs(ctx, filter)).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	return res.RowsAffected, res.Error
}

func (r *visibilityRepository) DismissAll(ctx context.Context, userID uuid.UUID, filter FeedFilter) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&entity.ActivityVisibility{}).
		Where("user_id = ? AND is_dismissed = ?", userID, false).
		Where("activity_id IN (?)", r.activityIDs(ctx, filter)).
		Updates(map[string]interface{}{"is_dismissed": true, "dismissed_at": &now})
	return res.RowsAffected, res.Error
}

// activityIDs builds the subquery restricting bulk updates to activities
// matching the optional type/project filter.
func (r *visibilityRepository) activityIDs(ctx context.Context, filter FeedFilter) *gorm.DB {
	sub := r.db.WithContext(ctx).Model(&entity.Activity{}).Select("id")
	if filter.Type != "" {
		sub = sub.Where("type = ?", filter.Type)
	}
	if filter.ProjectID != nil {
		sub = sub.Where("project_id = ?", *filter.ProjectID)
	}
	return sub
}

// CountUnread is always computed from current rows, never from a cached
// counter, so it cannot drift under concurrent read/dismiss calls.
func (r *visibilityRepository) CountUnread(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) (int64, error) {
	filter := FeedFilter{ProjectID: projectID, UnreadOnly: true}
	var count int64
	err := r.feedQuery(r.db.WithContext(ctx), userID, filter).Count(&count).Error
	return count, err
}

// Feed returns one page plus total and unread counts computed against the
// same predicate inside one transaction, so the counts can never contradict
// the page they ship with.
func (r *visibilityRepository) Feed(ctx context.Context, userID uuid.UUID, filter FeedFilter) ([]entity.ActivityVisibility, int64, int64, error) {
	var (
		rows   []entity.ActivityVisibility
		total  int64
		unread int64
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.feedQuery(tx, userID, filter).Count(&total).Error; err != nil {
			return err
		}

		unreadFilter := filter
		unreadFilter.UnreadOnly = true
		if err := r.feedQuery(tx, userID, unreadFilter).Count(&unread).Error; err != nil {
			return err
		}

		return r.feedQuery(tx, userID, filter).
			Select("activity_visibilities.*").
			Order("activities.created_at DESC, activities.id DESC").
			Limit(filter.Limit).
			Offset(filter.Offset).
			Preload("Activity").
			Preload("Activity.Actor", func(db *gorm.DB) *gorm.DB {
				return db.Select("id", "username", "avatar_url")
			}).
			Find(&rows).Error
	})

	return rows, total, unread, err
}

func (r *visibilityRepository) feedQuery(tx *gorm.DB, userID uuid.UUID, filter FeedFilter) *gorm.DB {
	q := tx.Model(&entity.ActivityVisibility{}).
		Joins("JOIN activities ON activities.id = activity_visibilities.activity_id").
		Where("activity_visibilities.user_id = ?", userID).
		Where("activity_visibilities.is_dismissed = ?", false)

	if filter.Type != "" {
		q = q.Where("activities.type = ?", filter.Type)
	}
	if filter.ProjectID != nil {
		q = q.Where("activities.project_id = ?", *filter.ProjectID)
	}
	if filter.UnreadOnly {
		q = q.Where("activity_visibilities.is_read = ?", false)
	}
	return q
}

// MissingForUser finds activities in the user's projects that have no
// visibility row yet. Only activities recorded at or after the membership's
// join time qualify: joining a project never backfills its history, it only
// self-heals rows a failed fan-out skipped.
func (r *visibilityRepository) MissingForUser(ctx context.Context, userID uuid.UUID) ([]entity.Activity, error) {
	seen := r.db.WithContext(ctx).Model(&entity.ActivityVisibility{}).
		Select("activity_id").
		Where("user_id = ?", userID)

	var missing []entity.Activity
	err := r.db.WithContext(ctx).Model(&entity.Activity{}).
		Select("activities.*").
		Joins("JOIN project_members ON project_members.project_id = activities.project_id").
		Where("project_members.user_id = ?", userID).
		Where("activities.created_at >= project_members.created_at").
		Where("activities.id NOT IN (?)", seen).
		Find(&missing).Error
	return missing, err
}
