package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Activity is an immutable record of a domain event scoped to a project.
// Rows are append-only: dismissal and read tracking live in
// ActivityVisibility so one user's actions never touch the shared record.
type Activity struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Type         string            `gorm:"size:50;not null;index:idx_activities_type" json:"type"`
	ActorID      uuid.UUID         `gorm:"type:uuid;not null" json:"actor_id"`
	Actor        *User             `gorm:"foreignKey:ActorID" json:"actor,omitempty"`
	ProjectID    uuid.UUID         `gorm:"type:uuid;not null;index:idx_activities_project" json:"project_id"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	ResourceLink *string           `gorm:"type:text" json:"resource_link,omitempty"`
	CreatedAt    time.Time         `gorm:"autoCreateTime;index:idx_activities_created" json:"created_at"`
}

func (a *Activity) TableName() string {
	return "activities"
}

func (a *Activity) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == uuid.Nil {
		// V7 is time-ordered, so "id desc" is a stable tie-break for feeds
		a.ID, err = uuid.NewV7()
	}
	return
}

// ActivityVisibility is the per-user overlay on a shared Activity: one row
// per (user, activity), created on fan-out or lazily on first read.
type ActivityVisibility struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"-"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_visibilities_unique,priority:1" json:"user_id"`
	ActivityID  uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_visibilities_unique,priority:2" json:"activity_id"`
	Activity    *Activity  `gorm:"constraint:OnDelete:CASCADE" json:"activity,omitempty"`
	IsRead      bool       `gorm:"not null;default:false" json:"is_read"`
	IsDismissed bool       `gorm:"not null;default:false" json:"is_dismissed"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (v *ActivityVisibility) TableName() string {
	return "activity_visibilities"
}

func (v *ActivityVisibility) BeforeCreate(tx *gorm.DB) (err error) {
	if v.ID == uuid.Nil {
		v.ID, err = uuid.NewV7()
	}
	return
}
