package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/kafka"
	"github.com/lomito/escalation-service/internal/logging"
	"github.com/lomito/escalation-service/internal/mail"
	"github.com/lomito/escalation-service/internal/model"
)

// EscalationResult is returned to the caller of a successful escalation.
type EscalationResult struct {
	EmailID        string `json:"email_id"`
	AuthorityEmail string `json:"escalated_to"`
}

// EscalationService performs the one-shot escalation of a case to its jurisdiction's authority.
type EscalationService struct {
	Deps
}

func NewEscalationService(d Deps) *EscalationService {
	d = d.withDefaults()
	d.Log = d.Log.With().Str("component", "escalation").Logger()
	return &EscalationService{Deps: d}
}

// Escalate emails the authority and records the transition. The state write is guarded so that at most
// one concurrent caller succeeds; the email itself may go out twice under a race.
func (s *EscalationService) Escalate(ctx context.Context, caseID uuid.UUID, actorID *uuid.UUID) (*EscalationResult, error) {
	c, j, err := s.precheck(ctx, caseID)
	if err != nil {
		s.Metrics.Escalations.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	to := j.Contact()
	log := s.Log.With().Str("case_id", caseID.String()).Str("to", logging.RedactEmail(to)).Logger()

	media, err := s.Store.ListMedia(ctx, caseID, mail.MaxPhotos)
	if err != nil {
		log.Warn().Err(err).Msg("media fetch failed, sending without photos")
		media = nil
	}
	subject, html, err := s.Renderer.RenderEscalation(c, j, media)
	if err != nil {
		s.Metrics.Escalations.WithLabelValues("error").Inc()
		return nil, err
	}

	emailID, err := s.Sender.Send(ctx, mail.Message{
		From:           s.Email.From,
		To:             to,
		ReplyTo:        mail.ReplyAddress(caseID, s.Email.ReplyDomain),
		Subject:        subject,
		HTML:           html,
		Tags:           map[string]string{"type": "escalation", "case_id": caseID.String()},
		IdempotencyKey: "escalation-" + caseID.String(),
	})
	if err != nil {
		log.Error().Err(err).Msg("escalation email send failed")
		s.Metrics.Escalations.WithLabelValues("send_failed").Inc()
		return nil, fmt.Errorf("%w: %v", errs.ErrEmailSendFailed, err)
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	now := s.Now()
	if err := s.Store.MarkEscalated(ctx, caseID, now, emailID); err != nil {
		if errors.Is(err, errs.ErrAlreadyEscalated) {
			log.Warn().Str("email_id", emailID).Msg("lost escalation race, email already sent by this call")
		} else {
			log.Error().Err(err).Str("email_id", emailID).Bool("inconsistency", true).Msg("email sent but escalation not recorded")
		}
		s.Metrics.Escalations.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}

	entry := &model.TimelineEntry{
		CaseID:  caseID,
		ActorID: actorID,
		Action:  model.ActionEscalated,
		Details: model.JSONMap{
			"jurisdiction_id": j.ID.String(),
			"authority_email": to,
			"email_id":        emailID,
		},
	}
	if err := s.Store.AppendTimeline(ctx, entry); err != nil {
		log.Error().Err(err).Bool("inconsistency", true).Msg("escalated but timeline entry not written")
	}

	s.Metrics.Escalations.WithLabelValues("ok").Inc()
	s.Events.ProduceCaseEvent(ctx, kafka.EventCaseEscalated, map[string]interface{}{
		"case_id":         caseID.String(),
		"jurisdiction_id": j.ID.String(),
		"email_id":        emailID,
		"escalated_at":    now,
	})
	s.notify(caseID, model.ActionEscalated)
	log.Info().Str("email_id", emailID).Msg("case escalated")

	return &EscalationResult{EmailID: emailID, AuthorityEmail: to}, nil
}

func (s *EscalationService) precheck(ctx context.Context, caseID uuid.UUID) (*model.Case, *model.Jurisdiction, error) {
	c, err := s.Store.FindCase(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	if c.EscalatedAt != nil {
		return nil, nil, errs.ErrAlreadyEscalated
	}
	j, err := s.Store.FindJurisdiction(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	if j == nil || !j.EscalationEnabled {
		return nil, nil, errs.ErrEscalationNotAllowed
	}
	if j.Contact() == "" {
		return nil, nil, errs.ErrNoAuthorityContact
	}
	return c, j, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, errs.ErrCaseNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrAlreadyEscalated):
		return "already_escalated"
	case errors.Is(err, errs.ErrEscalationNotAllowed), errors.Is(err, errs.ErrNoAuthorityContact):
		return "not_allowed"
	default:
		return "error"
	}
}
