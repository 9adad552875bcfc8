package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/kafka"
	"github.com/lomito/escalation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replyPayload(caseID uuid.UUID, text string) *InboundPayload {
	return &InboundPayload{
		Type: EventEmailReceived,
		Data: InboundData{
			EmailID: "4ef9a417-02e9-4d39-ad75-9611e0fcc33c",
			From:    "Dirección de Ecología <director@pvallarta.gob.mx>",
			To:      []string{"avisos@lomito.org", "case-" + caseID.String() + "@reply.lomito.org"},
			Subject: "RE: [Lomito] Reporte de Maltrato",
			Text:    text,
		},
	}
}

func TestInbound_ScenarioE(t *testing.T) {
	env := newTestEnv(t)
	c := env.store.addEscalated(env.store.addJurisdiction(true, "director@pvallarta.gob.mx"), daysAgo(env.now, 3), 0)
	svc := NewInboundService(env.deps, DedupNone)
	ctx := context.Background()

	res, err := svc.HandleInboundEmail(ctx, replyPayload(c.ID, "Se envió personal de control animal."), "msg_1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, res.CaseID)
	assert.True(t, res.First)

	got := env.store.snapshot(c.ID)
	require.NotNil(t, got.GovernmentResponseAt)
	firstResponse := *got.GovernmentResponseAt
	assert.Equal(t, env.now, firstResponse)

	entries := env.store.entries(c.ID, model.ActionGovernmentResponse)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ActorID)
	assert.Equal(t, "Dirección de Ecología <director@pvallarta.gob.mx>", entries[0].Details["from_email"])
	assert.Equal(t, "RE: [Lomito] Reporte de Maltrato", entries[0].Details["subject"])
	assert.Equal(t, "Se envió personal de control animal.", entries[0].Details["response_text"])

	env.now = env.now.Add(2 * time.Hour)
	res, err = svc.HandleInboundEmail(ctx, replyPayload(c.ID, "Se envió personal de control animal."), "msg_1")
	require.NoError(t, err)
	assert.False(t, res.First)
	assert.False(t, res.Duplicate)

	assert.Len(t, env.store.entries(c.ID, model.ActionGovernmentResponse), 2)
	assert.Len(t, env.store.inbound, 2)
	assert.Equal(t, firstResponse, *env.store.snapshot(c.ID).GovernmentResponseAt)
	assert.Equal(t, []string{kafka.EventGovernmentResponse}, env.events.names())
	assert.Equal(t, []model.TimelineAction{model.ActionGovernmentResponse, model.ActionGovernmentResponse}, env.notifier.calls)
}

func TestInbound_RecordsRawEmail(t *testing.T) {
	env := newTestEnv(t)
	c := env.store.addEscalated(env.store.addJurisdiction(true, "director@pvallarta.gob.mx"), daysAgo(env.now, 3), 0)
	long := strings.Repeat("á", MaxResponseTextLen+50)

	_, err := NewInboundService(env.deps, DedupNone).HandleInboundEmail(context.Background(), replyPayload(c.ID, long), "")
	require.NoError(t, err)

	require.Len(t, env.store.inbound, 1)
	rec := env.store.inbound[0]
	assert.Equal(t, long, rec.BodyText)
	require.NotNil(t, rec.Subject)
	assert.Nil(t, rec.DedupKey)

	text := env.store.entries(c.ID, model.ActionGovernmentResponse)[0].Details["response_text"].(string)
	assert.True(t, strings.HasSuffix(text, "..."))
	assert.Equal(t, MaxResponseTextLen+3, len([]rune(text)))
}

func TestInbound_Dedup(t *testing.T) {
	tests := []struct {
		mode        string
		deliveryIDs []string
		emailIDs    []string
		wantRecords int
	}{
		{mode: DedupNone, deliveryIDs: []string{"msg_1", "msg_1"}, emailIDs: []string{"e1", "e1"}, wantRecords: 2},
		{mode: DedupSvixID, deliveryIDs: []string{"msg_1", "msg_1"}, emailIDs: []string{"e1", "e2"}, wantRecords: 1},
		{mode: DedupSvixID, deliveryIDs: []string{"msg_1", "msg_2"}, emailIDs: []string{"e1", "e1"}, wantRecords: 2},
		{mode: DedupEmailID, deliveryIDs: []string{"msg_1", "msg_2"}, emailIDs: []string{"e1", "e1"}, wantRecords: 1},
		{mode: DedupEmailID, deliveryIDs: []string{"msg_1", "msg_1"}, emailIDs: []string{"", ""}, wantRecords: 2},
	}
	for _, tt := range tests {
		t.Run(tt.mode+"/"+strings.Join(tt.deliveryIDs, ",")+"/"+strings.Join(tt.emailIDs, ","), func(t *testing.T) {
			env := newTestEnv(t)
			c := env.store.addEscalated(env.store.addJurisdiction(true, "director@pvallarta.gob.mx"), daysAgo(env.now, 3), 0)
			svc := NewInboundService(env.deps, tt.mode)

			duplicates := 0
			for i := range tt.deliveryIDs {
				p := replyPayload(c.ID, "Atendido")
				p.Data.EmailID = tt.emailIDs[i]
				res, err := svc.HandleInboundEmail(context.Background(), p, tt.deliveryIDs[i])
				require.NoError(t, err)
				if res.Duplicate {
					duplicates++
				}
			}
			assert.Len(t, env.store.inbound, tt.wantRecords)
			assert.Len(t, env.store.entries(c.ID, model.ActionGovernmentResponse), tt.wantRecords)
			assert.Equal(t, len(tt.deliveryIDs)-tt.wantRecords, duplicates)
		})
	}
}

func TestInbound_Rejections(t *testing.T) {
	env := newTestEnv(t)
	j := env.store.addJurisdiction(true, "director@pvallarta.gob.mx")
	notEscalated := env.store.addCase(j)
	svc := NewInboundService(env.deps, DedupNone)
	ctx := context.Background()

	t.Run("other event kind", func(t *testing.T) {
		p := replyPayload(notEscalated.ID, "x")
		p.Type = "email.delivered"
		res, err := svc.HandleInboundEmail(ctx, p, "")
		require.NoError(t, err)
		assert.True(t, res.Skipped)
	})

	t.Run("no case address", func(t *testing.T) {
		p := replyPayload(notEscalated.ID, "x")
		p.Data.To = []string{"avisos@lomito.org", "case-not-a-uuid@reply.lomito.org", "case-" + notEscalated.ID.String() + "@other.org"}
		_, err := svc.HandleInboundEmail(ctx, p, "")
		assert.ErrorIs(t, err, errs.ErrNoCaseIDFound)
	})

	t.Run("unknown case", func(t *testing.T) {
		_, err := svc.HandleInboundEmail(ctx, replyPayload(uuid.New(), "x"), "")
		assert.ErrorIs(t, err, errs.ErrCaseNotFound)
	})

	t.Run("not escalated", func(t *testing.T) {
		_, err := svc.HandleInboundEmail(ctx, replyPayload(notEscalated.ID, "x"), "")
		assert.ErrorIs(t, err, errs.ErrCaseNotEscalated)
	})

	assert.Empty(t, env.store.inbound)
	assert.Empty(t, env.store.timeline)
	assert.Nil(t, env.store.snapshot(notEscalated.ID).GovernmentResponseAt)
}

func TestTruncateResponse(t *testing.T) {
	assert.Equal(t, "", TruncateResponse(""))
	exact := strings.Repeat("a", MaxResponseTextLen)
	assert.Equal(t, exact, TruncateResponse(exact))
	assert.Equal(t, exact+"...", TruncateResponse(exact+"b"))
}

func TestInbound_ReplyToUnresponsiveCase(t *testing.T) {
	env := newTestEnv(t)
	c := env.store.addEscalated(env.store.addJurisdiction(true, "director@pvallarta.gob.mx"), daysAgo(env.now, 40), model.MaxReminders)
	c.MarkedUnresponsive = true

	res, err := NewInboundService(env.deps, DedupNone).HandleInboundEmail(context.Background(), replyPayload(c.ID, "Disculpen la demora."), "")
	require.NoError(t, err)
	assert.False(t, res.First)

	got := env.store.snapshot(c.ID)
	assert.Nil(t, got.GovernmentResponseAt)
	assert.True(t, got.MarkedUnresponsive)
	assert.Len(t, env.store.inbound, 1)
	assert.Len(t, env.store.entries(c.ID, model.ActionGovernmentResponse), 1)
	assert.Empty(t, env.events.names())
}

// cancelAfterFind cancels the caller's context once the case was looked up.
type cancelAfterFind struct {
	*memStore
	cancel context.CancelFunc
}

func (s cancelAfterFind) FindCase(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	c, err := s.memStore.FindCase(ctx, id)
	s.cancel()
	return c, err
}

func TestInbound_CallerCancelledAfterLookup(t *testing.T) {
	env := newTestEnv(t)
	c := env.store.addEscalated(env.store.addJurisdiction(true, "director@pvallarta.gob.mx"), daysAgo(env.now, 3), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	deps := env.deps
	deps.Store = cancelAfterFind{memStore: env.store, cancel: cancel}

	res, err := NewInboundService(deps, DedupNone).HandleInboundEmail(ctx, replyPayload(c.ID, "Recibido."), "")
	require.NoError(t, err)
	assert.True(t, res.First)
	assert.Len(t, env.store.inbound, 1)
	assert.Len(t, env.store.entries(c.ID, model.ActionGovernmentResponse), 1)
	assert.NotNil(t, env.store.snapshot(c.ID).GovernmentResponseAt)
}
