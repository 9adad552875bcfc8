package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/logging"
	"github.com/lomito/escalation-service/internal/mail"
	"github.com/lomito/escalation-service/internal/metrics"
	"github.com/lomito/escalation-service/internal/model"
	"github.com/lomito/escalation-service/internal/push"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory CaseStore that applies the same guards as the SQL store.
// Writes fail on a done context, as they do through gorm.
type memStore struct {
	mu            sync.Mutex
	cases         map[uuid.UUID]*model.Case
	jurisdictions map[uuid.UUID]*model.Jurisdiction
	media         map[uuid.UUID][]model.CaseMedia
	timeline      []model.TimelineEntry
	inbound       []model.InboundEmail
	subscriptions map[uuid.UUID][]uuid.UUID
	profiles      map[uuid.UUID]model.Profile

	mediaErr     error
	markEscErr   error
	timelineErr  error
	beforeMarkFn func(id uuid.UUID)
}

func newMemStore() *memStore {
	return &memStore{
		cases:         map[uuid.UUID]*model.Case{},
		jurisdictions: map[uuid.UUID]*model.Jurisdiction{},
		media:         map[uuid.UUID][]model.CaseMedia{},
		subscriptions: map[uuid.UUID][]uuid.UUID{},
		profiles:      map[uuid.UUID]model.Profile{},
	}
}

func (m *memStore) addJurisdiction(enabled bool, email string) *model.Jurisdiction {
	j := &model.Jurisdiction{ID: uuid.New(), Name: "Puerto Vallarta", EscalationEnabled: enabled}
	if email != "" {
		j.AuthorityEmail = &email
	}
	m.jurisdictions[j.ID] = j
	return j
}

func (m *memStore) addCase(j *model.Jurisdiction) *model.Case {
	folio := "PV-2026-0042"
	c := &model.Case{
		ID:          uuid.New(),
		ReporterID:  uuid.New(),
		Category:    "abuse",
		AnimalType:  "dog",
		Urgency:     "high",
		Description: "Perro amarrado sin agua",
		Latitude:    20.653407,
		Longitude:   -105.225332,
		Folio:       &folio,
		CreatedAt:   time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC),
	}
	if j != nil {
		c.JurisdictionID = &j.ID
	}
	m.cases[c.ID] = c
	return c
}

// addEscalated stores a case escalated at the given time with count reminders already sent.
func (m *memStore) addEscalated(j *model.Jurisdiction, at time.Time, count int) *model.Case {
	c := m.addCase(j)
	c.EscalatedAt = &at
	c.EscalationReminderCount = count
	return c
}

func (m *memStore) snapshot(id uuid.UUID) model.Case {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.cases[id]
}

func (m *memStore) entries(id uuid.UUID, action model.TimelineAction) []model.TimelineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TimelineEntry
	for _, e := range m.timeline {
		if e.CaseID == id && e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) FindCase(_ context.Context, id uuid.UUID) (*model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, errs.ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) FindJurisdiction(_ context.Context, caseID uuid.UUID) (*model.Jurisdiction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cases[caseID]
	if !ok || c.JurisdictionID == nil {
		return nil, nil
	}
	j, ok := m.jurisdictions[*c.JurisdictionID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ListMedia(_ context.Context, caseID uuid.UUID, limit int) ([]model.CaseMedia, error) {
	if m.mediaErr != nil {
		return nil, m.mediaErr
	}
	items := append([]model.CaseMedia(nil), m.media[caseID]...)
	sort.Slice(items, func(i, k int) bool { return items[i].SortOrder < items[k].SortOrder })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memStore) MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time, emailID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.beforeMarkFn != nil {
		m.beforeMarkFn(id)
	}
	if m.markEscErr != nil {
		return m.markEscErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cases[id]
	if c.EscalatedAt != nil {
		return errs.ErrAlreadyEscalated
	}
	c.EscalatedAt = &at
	c.EscalationEmailID = &emailID
	return nil
}

func (m *memStore) SetReminderCount(ctx context.Context, id uuid.UUID, tier int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cases[id]
	if c.EscalationReminderCount >= tier {
		return false, nil
	}
	c.EscalationReminderCount = tier
	return true, nil
}

func (m *memStore) MarkUnresponsive(ctx context.Context, id uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cases[id]
	if c.GovernmentResponseAt != nil || c.MarkedUnresponsive || c.EscalationReminderCount != model.MaxReminders {
		return false, nil
	}
	c.MarkedUnresponsive = true
	return true, nil
}

func (m *memStore) RecordGovernmentResponse(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cases[id]
	if c.GovernmentResponseAt != nil || c.EscalatedAt == nil || c.MarkedUnresponsive {
		return false, nil
	}
	c.GovernmentResponseAt = &at
	return true, nil
}

func (m *memStore) AppendTimeline(ctx context.Context, e *model.TimelineEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.timelineErr != nil {
		return m.timelineErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = time.Now()
	m.timeline = append(m.timeline, *e)
	return nil
}

func (m *memStore) AppendInboundEmail(ctx context.Context, rec *model.InboundEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.DedupKey != nil {
		for _, r := range m.inbound {
			if r.DedupKey != nil && *r.DedupKey == *rec.DedupKey {
				return errs.ErrDuplicateDelivery
			}
		}
	}
	rec.ID = uuid.New()
	m.inbound = append(m.inbound, *rec)
	return nil
}

func (m *memStore) FindLatestTimelineActor(_ context.Context, caseID uuid.UUID, action model.TimelineAction) (*uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.timeline) - 1; i >= 0; i-- {
		e := m.timeline[i]
		if e.CaseID == caseID && e.Action == action {
			return e.ActorID, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindSubscribers(_ context.Context, caseID uuid.UUID) ([]uuid.UUID, error) {
	return m.subscriptions[caseID], nil
}

func (m *memStore) FindProfiles(_ context.Context, userIDs []uuid.UUID, requireToken bool) ([]model.Profile, error) {
	var out []model.Profile
	for _, id := range userIDs {
		p, ok := m.profiles[id]
		if !ok || (requireToken && p.PushToken == nil) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) ListEscalatedUnanswered(_ context.Context) ([]model.Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Case
	for _, c := range m.cases {
		if c.EscalatedAt == nil || c.GovernmentResponseAt != nil || c.MarkedUnresponsive {
			continue
		}
		cp := *c
		if c.JurisdictionID != nil {
			if j, ok := m.jurisdictions[*c.JurisdictionID]; ok {
				jc := *j
				cp.Jurisdiction = &jc
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].EscalatedAt.Before(*out[k].EscalatedAt) })
	return out, nil
}

// fakeSender records sends and fails for recipients listed in failFor.
// afterSend runs once a message was accepted.
type fakeSender struct {
	mu        sync.Mutex
	sent      []mail.Message
	failFor   map[string]bool
	failAll   bool
	afterSend func(msg mail.Message)
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) (string, error) {
	f.mu.Lock()
	if f.failAll || f.failFor[msg.To] {
		f.mu.Unlock()
		return "", errors.New("transport unavailable")
	}
	f.sent = append(f.sent, msg)
	id := fmt.Sprintf("email-%d", len(f.sent))
	hook := f.afterSend
	f.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return id, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePush struct {
	mu      sync.Mutex
	batches [][]push.Message
	err     error
}

func (f *fakePush) Send(_ context.Context, messages []push.Message) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, messages)
	return json.RawMessage(`{"data":[]}`), nil
}

type recordedEvent struct {
	name    string
	payload map[string]interface{}
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) ProduceCaseEvent(_ context.Context, event string, payload map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{name: event, payload: payload})
}

func (f *fakeEvents) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.name)
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []model.TimelineAction
}

func (n *recordingNotifier) NotifyAsync(_ uuid.UUID, action model.TimelineAction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, action)
}

type testEnv struct {
	store    *memStore
	sender   *fakeSender
	push     *fakePush
	events   *fakeEvents
	notifier *recordingNotifier
	now      time.Time
	deps     Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	renderer, err := mail.NewRenderer(time.UTC, "https://lomito.org")
	require.NoError(t, err)

	env := &testEnv{
		store:    newMemStore(),
		sender:   &fakeSender{failFor: map[string]bool{}},
		push:     &fakePush{},
		events:   &fakeEvents{},
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
	env.deps = Deps{
		Store:    env.store,
		Renderer: renderer,
		Sender:   env.sender,
		Push:     env.push,
		Events:   env.events,
		Notifier: env.notifier,
		Metrics:  metrics.Noop(),
		Email:    EmailSettings{From: "Lomito <reports@lomito.org>", ReplyDomain: "reply.lomito.org"},
		Log:      logging.Nop(),
		Now:      func() time.Time { return env.now },
	}
	return env
}

func daysAgo(now time.Time, d int) time.Time {
	return now.Add(-time.Duration(d)*24*time.Hour - time.Hour)
}
