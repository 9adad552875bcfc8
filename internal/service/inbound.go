package service

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/kafka"
	"github.com/lomito/escalation-service/internal/logging"
	"github.com/lomito/escalation-service/internal/mail"
	"github.com/lomito/escalation-service/internal/model"
)

const (
	// EventEmailReceived is the only webhook event kind that is processed.
	EventEmailReceived = "email.received"

	// MaxResponseTextLen caps the reply text copied into the timeline; the full body stays in inbound_emails.
	MaxResponseTextLen = 2000
)

// Dedup key sources for inbound deliveries.
const (
	DedupNone    = ""
	DedupSvixID  = "svix-id"
	DedupEmailID = "email_id"
)

// InboundPayload is the Resend inbound webhook body.
type InboundPayload struct {
	Type      string      `json:"type"`
	CreatedAt string      `json:"created_at"`
	Data      InboundData `json:"data"`
}

type InboundData struct {
	EmailID string   `json:"email_id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// InboundResult describes what a delivery did.
type InboundResult struct {
	CaseID    uuid.UUID
	From      string
	Skipped   bool
	Duplicate bool
	First     bool
}

// InboundService records government replies received at a case's reply address.
type InboundService struct {
	Deps
	dedup string
}

// NewInboundService builds the handler; dedup selects which delivery identifier, if any, suppresses redelivery.
func NewInboundService(d Deps, dedup string) *InboundService {
	d = d.withDefaults()
	d.Log = d.Log.With().Str("component", "inbound").Logger()
	return &InboundService{Deps: d, dedup: dedup}
}

// HandleInboundEmail processes one webhook delivery. deliveryID is the transport's delivery id (svix-id).
func (s *InboundService) HandleInboundEmail(ctx context.Context, p *InboundPayload, deliveryID string) (*InboundResult, error) {
	if p.Type != EventEmailReceived {
		s.Metrics.InboundEmails.WithLabelValues("skipped").Inc()
		return &InboundResult{Skipped: true}, nil
	}
	caseID, ok := mail.FirstCaseID(p.Data.To, s.Email.ReplyDomain)
	if !ok {
		s.Metrics.InboundEmails.WithLabelValues("no_case_id").Inc()
		return nil, errs.ErrNoCaseIDFound
	}
	log := s.Log.With().Str("case_id", caseID.String()).Str("from", logging.RedactEmail(p.Data.From)).Logger()

	c, err := s.Store.FindCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, errs.ErrCaseNotFound) {
			s.Metrics.InboundEmails.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	if c.EscalatedAt == nil {
		log.Warn().Msg("reply to a case that was never escalated")
		s.Metrics.InboundEmails.WithLabelValues("not_escalated").Inc()
		return nil, errs.ErrCaseNotEscalated
	}

	// The reply record, its timeline entry and the response time are written together.
	ctx, cancel := detach(ctx)
	defer cancel()

	now := s.Now()
	rec := &model.InboundEmail{
		CaseID:     caseID,
		DedupKey:   s.dedupKey(p, deliveryID),
		FromEmail:  p.Data.From,
		BodyText:   p.Data.Text,
		ReceivedAt: now,
	}
	if p.Data.Subject != "" {
		subject := p.Data.Subject
		rec.Subject = &subject
	}
	if err := s.Store.AppendInboundEmail(ctx, rec); err != nil {
		if errors.Is(err, errs.ErrDuplicateDelivery) {
			log.Info().Str("dedup_key", *rec.DedupKey).Msg("duplicate delivery ignored")
			s.Metrics.InboundEmails.WithLabelValues("duplicate").Inc()
			return &InboundResult{CaseID: caseID, From: p.Data.From, Duplicate: true}, nil
		}
		s.Metrics.InboundEmails.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("record inbound email: %w", err)
	}

	if err := s.Store.AppendTimeline(ctx, &model.TimelineEntry{
		CaseID: caseID,
		Action: model.ActionGovernmentResponse,
		Details: model.JSONMap{
			"from_email":    p.Data.From,
			"subject":       p.Data.Subject,
			"response_text": TruncateResponse(p.Data.Text),
			"received_at":   now,
		},
	}); err != nil {
		log.Error().Err(err).Str("inbound_email_id", rec.ID.String()).Msg("timeline entry not written for recorded reply")
	}

	first, err := s.Store.RecordGovernmentResponse(ctx, caseID, now)
	if err != nil {
		log.Error().Err(err).Bool("inconsistency", true).Msg("reply recorded but response time not set")
	}
	if first {
		s.Events.ProduceCaseEvent(ctx, kafka.EventGovernmentResponse, map[string]interface{}{
			"case_id":                caseID.String(),
			"government_response_at": now,
		})
	}

	s.Metrics.InboundEmails.WithLabelValues("ok").Inc()
	s.notify(caseID, model.ActionGovernmentResponse)
	log.Info().Bool("first_response", first).Msg("government reply recorded")
	return &InboundResult{CaseID: caseID, From: p.Data.From, First: first}, nil
}

func (s *InboundService) dedupKey(p *InboundPayload, deliveryID string) *string {
	var key string
	switch s.dedup {
	case DedupSvixID:
		key = deliveryID
	case DedupEmailID:
		key = p.Data.EmailID
	}
	if key == "" {
		return nil
	}
	return &key
}

// TruncateResponse cuts text to MaxResponseTextLen characters and appends "..." when it was longer.
func TruncateResponse(text string) string {
	if utf8.RuneCountInString(text) <= MaxResponseTextLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxResponseTextLen]) + "..."
}
