package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/model"
	"github.com/lomito/escalation-service/internal/push"
)

// NotificationResult is the outcome of one fan-out.
type NotificationResult struct {
	Sent    int             `json:"sent"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Content is the title and body of a push notification.
type Content struct {
	Title string
	Body  string
}

// NotificationContent maps a timeline action to its push text. Unknown actions get a generic update.
func NotificationContent(action model.TimelineAction, actorName string) Content {
	switch action {
	case model.ActionVerified:
		return Content{"Case verified", "Your report has been verified"}
	case model.ActionStatusChanged:
		return Content{"Case updated", "Case status has been updated"}
	case model.ActionComment:
		if actorName != "" {
			return Content{"New comment", actorName + " commented on your case"}
		}
		return Content{"New comment", "New comment on case"}
	case model.ActionResolved:
		return Content{"Case resolved", "Case has been resolved"}
	case model.ActionGovernmentResponse:
		return Content{"Government response", "An authority has responded to your case"}
	case model.ActionEscalated:
		return Content{"Case escalated", "Your case has been escalated to authorities"}
	default:
		return Content{"Case updated", "There is a new update on your case"}
	}
}

// NotificationService pushes timeline actions to the case's subscribers.
type NotificationService struct {
	Deps
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewNotificationService(d Deps) *NotificationService {
	d = d.withDefaults()
	d.Log = d.Log.With().Str("component", "notification").Logger()
	return &NotificationService{Deps: d, timeout: 30 * time.Second}
}

// Notify sends one push per eligible subscriber in a single batch and returns the number attempted.
func (s *NotificationService) Notify(ctx context.Context, caseID uuid.UUID, action model.TimelineAction, actorName string) (*NotificationResult, error) {
	content := NotificationContent(action, actorName)
	log := s.Log.With().Str("case_id", caseID.String()).Str("action", string(action)).Logger()

	actorID, err := s.Store.FindLatestTimelineActor(ctx, caseID, action)
	if err != nil {
		log.Warn().Err(err).Msg("actor lookup failed, actor not excluded")
		actorID = nil
	}

	subscribers, err := s.Store.FindSubscribers(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("find subscribers: %w", err)
	}
	if len(subscribers) == 0 {
		return &NotificationResult{Message: "No subscribers"}, nil
	}
	recipients := make([]uuid.UUID, 0, len(subscribers))
	for _, id := range subscribers {
		if actorID != nil && id == *actorID {
			continue
		}
		recipients = append(recipients, id)
	}
	if len(recipients) == 0 {
		return &NotificationResult{Message: "No subscribers to notify"}, nil
	}

	profiles, err := s.Store.FindProfiles(ctx, recipients, true)
	if err != nil {
		return nil, fmt.Errorf("find profiles: %w", err)
	}
	if len(profiles) == 0 {
		return &NotificationResult{Message: "No valid push tokens"}, nil
	}

	var reporterID *uuid.UUID
	c, err := s.Store.FindCase(ctx, caseID)
	switch {
	case err == nil:
		reporterID = &c.ReporterID
	case errors.Is(err, errs.ErrCaseNotFound):
	default:
		return nil, err
	}

	messages := make([]push.Message, 0, len(profiles))
	for _, p := range profiles {
		if !Eligible(p, action, reporterID) {
			continue
		}
		messages = append(messages, push.Message{
			To:    *p.PushToken,
			Sound: "default",
			Title: content.Title,
			Body:  content.Body,
			Data:  push.MessageData{CaseID: caseID.String()},
		})
	}
	if len(messages) == 0 {
		return &NotificationResult{Message: "No eligible subscribers after preference filtering"}, nil
	}

	result, err := s.Push.Send(ctx, messages)
	if err != nil {
		return nil, err
	}
	s.Metrics.PushMessages.WithLabelValues(string(action)).Add(float64(len(messages)))
	log.Info().Int("sent", len(messages)).Msg("push notifications sent")
	return &NotificationResult{Sent: len(messages), Result: result}, nil
}

// Eligible applies a profile's notification preferences. Unset preferences mean "notify".
func Eligible(p model.Profile, action model.TimelineAction, reporterID *uuid.UUID) bool {
	if p.PushToken == nil || *p.PushToken == "" {
		return false
	}
	prefs := p.NotificationPreferences
	if prefs == nil {
		return true
	}
	if isFalse(prefs.PushEnabled) {
		return false
	}
	if reporterID != nil && p.ID == *reporterID && isFalse(prefs.OwnCaseUpdates) {
		return false
	}
	if action == model.ActionFlagged && isFalse(prefs.FlaggedCases) {
		return false
	}
	return true
}

func isFalse(b *bool) bool { return b != nil && !*b }

// NotifyAsync runs Notify in the background with its own deadline. Errors are logged.
func (s *NotificationService) NotifyAsync(caseID uuid.UUID, action model.TimelineAction) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Notify(ctx, caseID, action, ""); err != nil {
			s.Log.Warn().Err(err).Str("case_id", caseID.String()).Str("action", string(action)).Msg("async notification failed")
		}
	}()
}

// Wait blocks until in-flight async notifications finish.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}
