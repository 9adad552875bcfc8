package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/model"
	"github.com/lomito/escalation-service/internal/service"
	"github.com/rs/zerolog"
)

type Notifier interface {
	Notify(ctx context.Context, caseID uuid.UUID, action model.TimelineAction, actorName string) (*service.NotificationResult, error)
}

type NotificationHandler struct {
	notifier Notifier
	log      zerolog.Logger
}

func NewNotificationHandler(notifier Notifier, log zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, log: log.With().Str("component", "http").Logger()}
}

type notificationRequest struct {
	CaseID    string `json:"caseId"`
	Action    string `json:"action"`
	ActorName string `json:"actorName"`
}

// Send handles POST send-notification.
func (h *NotificationHandler) Send(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.CaseID == "" || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: caseId, action"})
		return
	}
	caseID, err := uuid.Parse(req.CaseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid caseId"})
		return
	}

	res, err := h.notifier.Notify(c.Request.Context(), caseID, model.TimelineAction(req.Action), req.ActorName)
	if err != nil {
		h.log.Error().Err(err).Str("case_id", caseID.String()).Msg("send-notification failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{"success": true, "sent": res.Sent}
	if res.Result != nil {
		resp["result"] = res.Result
	}
	if res.Message != "" {
		resp["message"] = res.Message
	}
	c.JSON(http.StatusOK, resp)
}
