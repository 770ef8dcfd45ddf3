package handler

import (
	"net/http"

	membership "github.com/trackloop/studio-backend/internal/modules/membership/service"
	"github.com/trackloop/studio-backend/pkg/response"
	appvalidator "github.com/trackloop/studio-backend/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MembershipHandler struct {
	service membership.MembershipService
}

func NewMembershipHandler(service membership.MembershipService) *MembershipHandler {
	return &MembershipHandler{service: service}
}

type addMemberRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Role   string `json:"role" binding:"omitempty,oneof=owner member"`
}

func (h *MembershipHandler) AddMember(c *gin.Context) {
	actorID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": appvalidator.FormatValidationError(err)})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	member, err := h.service.AddMember(c.Request.Context(), actorID, projectID, userID, req.Role)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"member": member})
}

func (h *MembershipHandler) ListMembers(c *gin.Context) {
	requesterID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	projectID, err := uuid.Parse(c.Param("project_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}

	members, err := h.service.ListMembers(c.Request.Context(), requesterID, projectID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"members": members})
}
