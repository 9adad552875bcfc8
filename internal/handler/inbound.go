package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/service"
	"github.com/lomito/escalation-service/internal/webhook"
	"github.com/rs/zerolog"
)

const maxWebhookBody = 10 << 20

type InboundProcessor interface {
	HandleInboundEmail(ctx context.Context, p *service.InboundPayload, deliveryID string) (*service.InboundResult, error)
}

// SignatureVerifier authenticates a webhook delivery from its headers and raw body.
type SignatureVerifier interface {
	Verify(h http.Header, body []byte) error
}

type InboundHandler struct {
	processor InboundProcessor
	verifier  SignatureVerifier
	log       zerolog.Logger
}

// NewInboundHandler accepts a nil verifier, which disables signature checks.
func NewInboundHandler(processor InboundProcessor, verifier SignatureVerifier, log zerolog.Logger) *InboundHandler {
	return &InboundHandler{
		processor: processor,
		verifier:  verifier,
		log:       log.With().Str("component", "http").Logger(),
	}
}

// Receive handles POST inbound-email.
func (h *InboundHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if h.verifier != nil {
		if err := h.verifier.Verify(c.Request.Header, body); err != nil {
			h.log.Warn().Err(err).Str("svix_id", c.GetHeader(webhook.HeaderID)).Msg("inbound webhook rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook signature"})
			return
		}
	}

	var payload service.InboundPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	res, err := h.processor.HandleInboundEmail(c.Request.Context(), &payload, c.GetHeader(webhook.HeaderID))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrNoCaseIDFound), errors.Is(err, errs.ErrCaseNotEscalated):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, errs.ErrCaseNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			h.log.Error().Err(err).Msg("inbound-email failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log inbound email"})
		}
		return
	}
	if res.Skipped {
		c.JSON(http.StatusOK, gin.H{"success": true, "skipped": true})
		return
	}
	resp := gin.H{
		"success": true,
		"case_id": res.CaseID.String(),
		"from":    res.From,
	}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	c.JSON(http.StatusOK, resp)
}
