package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/kafka"
	"github.com/lomito/escalation-service/internal/mail"
	"github.com/lomito/escalation-service/internal/metrics"
	"github.com/lomito/escalation-service/internal/model"
	"github.com/lomito/escalation-service/internal/push"
	"github.com/rs/zerolog"
)

// CaseStore is the slice of the relational store the lifecycle handlers coordinate through.
type CaseStore interface {
	FindCase(ctx context.Context, id uuid.UUID) (*model.Case, error)
	FindJurisdiction(ctx context.Context, caseID uuid.UUID) (*model.Jurisdiction, error)
	ListMedia(ctx context.Context, caseID uuid.UUID, limit int) ([]model.CaseMedia, error)
	MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time, emailID string) error
	SetReminderCount(ctx context.Context, id uuid.UUID, tier int) (bool, error)
	MarkUnresponsive(ctx context.Context, id uuid.UUID) (bool, error)
	RecordGovernmentResponse(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	AppendTimeline(ctx context.Context, e *model.TimelineEntry) error
	AppendInboundEmail(ctx context.Context, rec *model.InboundEmail) error
	FindLatestTimelineActor(ctx context.Context, caseID uuid.UUID, action model.TimelineAction) (*uuid.UUID, error)
	FindSubscribers(ctx context.Context, caseID uuid.UUID) ([]uuid.UUID, error)
	FindProfiles(ctx context.Context, userIDs []uuid.UUID, requireToken bool) ([]model.Profile, error)
	ListEscalatedUnanswered(ctx context.Context) ([]model.Case, error)
}

// PushSender is the Push Transport.
type PushSender interface {
	Send(ctx context.Context, messages []push.Message) (json.RawMessage, error)
}

// Notifier fans a timeline action out to subscribers without blocking the caller.
type Notifier interface {
	NotifyAsync(caseID uuid.UUID, action model.TimelineAction)
}

// EmailSettings are the outbound addressing parameters shared by escalation and reminder emails.
type EmailSettings struct {
	From        string
	ReplyDomain string
}

// Deps are the collaborators shared by the lifecycle services.
type Deps struct {
	Store    CaseStore
	Renderer *mail.Renderer
	Sender   mail.Sender
	Push     PushSender
	Events   kafka.CaseEventProducer
	Notifier Notifier
	Metrics  *metrics.Metrics
	Email    EmailSettings
	Log      zerolog.Logger
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Noop()
	}
	if d.Events == nil {
		d.Events = noopEvents{}
	}
	return d
}

// writeTimeout bounds the store writes that follow an external side effect.
const writeTimeout = 10 * time.Second

// detach returns a context for the writes that follow an external side effect.
// Caller cancellation does not reach it; writeTimeout still does.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

type noopEvents struct{}

func (noopEvents) ProduceCaseEvent(context.Context, string, map[string]interface{}) {}

func (d Deps) notify(caseID uuid.UUID, action model.TimelineAction) {
	if d.Notifier != nil {
		d.Notifier.NotifyAsync(caseID, action)
	}
}
