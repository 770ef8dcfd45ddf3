package handler

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	activityDto "github.com/trackloop/studio-backend/internal/modules/activity/dto"
	activityRepo "github.com/trackloop/studio-backend/internal/modules/activity/repository"
	activity "github.com/trackloop/studio-backend/internal/modules/activity/service"
	"github.com/trackloop/studio-backend/internal/realtime"
	"github.com/trackloop/studio-backend/pkg/apperror"
	"github.com/trackloop/studio-backend/pkg/ratelimiter"
	"github.com/trackloop/studio-backend/pkg/response"
	appvalidator "github.com/trackloop/studio-backend/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const wsWriteTimeout = 10 * time.Second

type ActivityHandler struct {
	service     activity.ActivityService
	redisClient *redis.Client
	upgrader    websocket.Upgrader
}

func NewActivityHandler(service activity.ActivityService, redisClient *redis.Client) *ActivityHandler {
	return &ActivityHandler{
		service:     service,
		redisClient: redisClient,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced at the router level
			},
		},
	}
}

// REST endpoints

func (h *ActivityHandler) GetFeed(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var query activityDto.FeedQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": appvalidator.FormatValidationError(err)})
		return
	}

	filter := activityRepo.FeedFilter{
		Type:       query.Type,
		UnreadOnly: query.UnreadOnly,
		Limit:      query.Limit,
		Offset:     query.Offset,
	}
	if query.ProjectID != "" {
		projectID, err := uuid.Parse(query.ProjectID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
			return
		}
		filter.ProjectID = &projectID
	}

	feed, err := h.service.Feed(c.Request.Context(), userID, filter)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, feed)
}

func (h *ActivityHandler) UnreadCount(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var projectID *uuid.UUID
	if raw := c.Query("project_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
			return
		}
		projectID = &id
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID, projectID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, activityDto.UnreadCountResponse{Count: count})
}

func (h *ActivityHandler) MarkRead(c *gin.Context) {
	h.transition(c, h.service.MarkRead)
}

func (h *ActivityHandler) Dismiss(c *gin.Context) {
	h.transition(c, h.service.Dismiss)
}

func (h *ActivityHandler) Undismiss(c *gin.Context) {
	h.transition(c, h.service.Undismiss)
}

// transition runs one per-activity state change. All three share the same
// shape: parse ids, call the service, 200 on success (including no-ops).
func (h *ActivityHandler) transition(c *gin.Context, fn func(ctx context.Context, userID, activityID uuid.UUID) error) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	activityID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid activity id"})
		return
	}

	if err := fn(c.Request.Context(), userID, activityID); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ActivityHandler) MarkAllRead(c *gin.Context) {
	h.bulk(c, h.service.MarkAllRead)
}

func (h *ActivityHandler) DismissAll(c *gin.Context) {
	h.bulk(c, h.service.DismissAll)
}

func (h *ActivityHandler) bulk(c *gin.Context, fn func(ctx context.Context, userID uuid.UUID, filter activityRepo.FeedFilter) (int64, error)) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var query activityDto.BulkFilterQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": appvalidator.FormatValidationError(err)})
		return
	}

	filter := activityRepo.FeedFilter{Type: query.Type}
	if query.ProjectID != "" {
		projectID, err := uuid.Parse(query.ProjectID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
			return
		}
		filter.ProjectID = &projectID
	}

	count, err := fn(c.Request.Context(), userID, filter)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, activityDto.BulkResultResponse{Success: true, Count: count})
}

// RecordActivity is the HTTP producer boundary, for trusted automation that
// lives outside the process. In-process producers call the service directly.
func (h *ActivityHandler) RecordActivity(c *gin.Context) {
	var req activityDto.RecordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": appvalidator.FormatValidationError(err)})
		return
	}

	actorID, err := uuid.Parse(req.ActorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid actor_id"})
		return
	}
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project_id"})
		return
	}

	limit := ratelimiter.GetDurationFromEnv("RATE_LIMIT_RECORD", time.Second)
	allowed, err := ratelimiter.CheckAndSetRateLimit(c.Request.Context(), h.redisClient, actorID, "record", limit)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	if !allowed {
		ttl, _ := ratelimiter.GetRateLimitTTL(c.Request.Context(), h.redisClient, actorID, "record")
		c.Header("Retry-After", fmt.Sprintf("%.0f", ttl.Seconds()))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "recording activities too fast"})
		return
	}

	resp, err := h.service.Record(c.Request.Context(), activity.RecordInput{
		Type:         req.Type,
		ActorID:      actorID,
		ProjectID:    projectID,
		Metadata:     req.Metadata,
		ResourceLink: req.ResourceLink,
	})
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *ActivityHandler) Search(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter q is required"})
		return
	}

	results, err := h.service.Search(c.Request.Context(), userID, query)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *ActivityHandler) ProjectLog(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	limit, offset := pagination(c)
	activities, total, err := h.service.ProjectLog(c.Request.Context(), userID, projectID, limit, offset)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"activities": activities, "total": total})
}

func pagination(c *gin.Context) (int, int) {
	limit := 20
	offset := 0
	if _, err := fmt.Sscanf(c.DefaultQuery("limit", "20"), "%d", &limit); err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	if _, err := fmt.Sscanf(c.DefaultQuery("offset", "0"), "%d", &offset); err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

// WebSocket endpoint

// HandleWebSocket upgrades the connection and forwards this user's push
// channel. A session that cannot take a frame within the write timeout is
// closed; it reconciles through GetFeed on reconnect, never a replay log.
func (h *ActivityHandler) HandleWebSocket(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": apperror.ErrUnauthorized.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade websocket: %v", err)
		return
	}
	defer conn.Close()

	if h.redisClient == nil {
		log.Println("Redis client is nil, cannot subscribe")
		return
	}

	pubsub := h.redisClient.Subscribe(c.Request.Context(), realtime.ChannelFor(userID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(c.Request.Context()); err != nil {
		log.Printf("Failed to subscribe to push channel: %v", err)
		return
	}

	ch := pubsub.Channel()

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payload is already the JSON push message; forward it as-is.
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Printf("Dropping slow websocket session for user %s: %v", userID, err)
				return
			}
		case <-clientClosed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
