package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/service"
	"github.com/rs/zerolog"
)

type Escalator interface {
	Escalate(ctx context.Context, caseID uuid.UUID, actorID *uuid.UUID) (*service.EscalationResult, error)
}

type Sweeper interface {
	RunSweep(ctx context.Context) (*service.SweepResult, error)
}

// ActorResolver maps the Authorization header to the calling user, if any.
type ActorResolver interface {
	ActorID(authHeader string) (*uuid.UUID, error)
}

type EscalationHandler struct {
	escalator Escalator
	sweeper   Sweeper
	actors    ActorResolver
	log       zerolog.Logger
}

func NewEscalationHandler(escalator Escalator, sweeper Sweeper, actors ActorResolver, log zerolog.Logger) *EscalationHandler {
	return &EscalationHandler{
		escalator: escalator,
		sweeper:   sweeper,
		actors:    actors,
		log:       log.With().Str("component", "http").Logger(),
	}
}

type escalateRequest struct {
	CaseID string `json:"caseId"`
}

// Escalate handles POST escalate-case.
func (h *EscalationHandler) Escalate(c *gin.Context) {
	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.CaseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required field: caseId"})
		return
	}
	caseID, err := uuid.Parse(req.CaseID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid caseId"})
		return
	}

	var actorID *uuid.UUID
	if h.actors != nil {
		actorID, err = h.actors.ActorID(c.GetHeader("Authorization"))
		if err != nil {
			h.log.Debug().Err(err).Msg("caller token rejected, escalating without actor")
			actorID = nil
		}
	}

	res, err := h.escalator.Escalate(c.Request.Context(), caseID, actorID)
	if err != nil {
		status := escalationStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("case_id", caseID.String()).Msg("escalate-case failed")
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"email_id":     res.EmailID,
		"escalated_to": res.AuthorityEmail,
	})
}

func escalationStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrCaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyEscalated),
		errors.Is(err, errs.ErrEscalationNotAllowed),
		errors.Is(err, errs.ErrNoAuthorityContact):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Sweep handles POST auto-escalation-check.
func (h *EscalationHandler) Sweep(c *gin.Context) {
	// A sweep outlives the request that triggered it; it is bounded by its own timeout.
	res, err := h.sweeper.RunSweep(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		if errors.Is(err, errs.ErrSweepInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("auto-escalation-check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"checked":             res.Checked,
		"reminders_sent":      res.RemindersSent,
		"marked_unresponsive": res.MarkedUnresponsive,
	})
}
