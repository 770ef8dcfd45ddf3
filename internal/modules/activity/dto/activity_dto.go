package dto

import (
	"time"

	"github.com/google/uuid"
)

type RecordActivityRequest struct {
	Type         string                 `json:"type" binding:"required"`
	ActorID      string                 `json:"actor_id" binding:"required,uuid"`
	ProjectID    string                 `json:"project_id" binding:"required,uuid"`
	Metadata     map[string]interface{} `json:"metadata"`
	ResourceLink *string                `json:"resource_link,omitempty"`
}

type FeedQuery struct {
	Type       string `form:"type"`
	ProjectID  string `form:"project_id" binding:"omitempty,uuid"`
	UnreadOnly bool   `form:"unread_only"`
	Limit      int    `form:"limit,default=20" binding:"omitempty,min=1,max=100"`
	Offset     int    `form:"offset" binding:"omitempty,min=0"`
}

// BulkFilterQuery scopes mark-all-read / dismiss-all. Empty fields mean "all".
type BulkFilterQuery struct {
	Type      string `form:"type"`
	ProjectID string `form:"project_id" binding:"omitempty,uuid"`
}

type ActorResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
}

type ActivityResponse struct {
	ID           uuid.UUID              `json:"id"`
	Type         string                 `json:"type"`
	ActorID      uuid.UUID              `json:"actor_id"`
	Actor        *ActorResponse         `json:"actor,omitempty"`
	ProjectID    uuid.UUID              `json:"project_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	ResourceLink *string                `json:"resource_link,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

type FeedItemResponse struct {
	Activity ActivityResponse `json:"activity"`
	IsRead   bool             `json:"is_read"`
	ReadAt   *time.Time       `json:"read_at,omitempty"`
}

type FeedResponse struct {
	Activities  []FeedItemResponse `json:"activities"`
	Total       int64              `json:"total"`
	UnreadCount int64              `json:"unread_count"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

type BulkResultResponse struct {
	Success bool  `json:"success"`
	Count   int64 `json:"count"`
}

// PushMessage is the websocket frame for the single `activity` event. IsRead
// carries the receiving user's default, so the actor's own sessions can show
// the entry without bumping their unread badge.
type PushMessage struct {
	Event    string           `json:"event"`
	Activity ActivityResponse `json:"activity"`
	IsRead   bool             `json:"is_read"`
}

type SearchResultResponse struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
