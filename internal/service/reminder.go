package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/kafka"
	"github.com/lomito/escalation-service/internal/lock"
	"github.com/lomito/escalation-service/internal/logging"
	"github.com/lomito/escalation-service/internal/mail"
	"github.com/lomito/escalation-service/internal/model"
	"github.com/rs/zerolog"
)

// SweepResult summarises one reminder sweep.
type SweepResult struct {
	Checked            int `json:"checked"`
	RemindersSent      int `json:"reminders_sent"`
	MarkedUnresponsive int `json:"marked_unresponsive"`
}

// ReminderService runs the periodic reminder sweep over escalated, unanswered cases.
type ReminderService struct {
	Deps
	newLock func() lock.Locker
}

// NewReminderService takes a lock factory; each sweep gets its own lock handle.
// A nil factory disables cross-process exclusion.
func NewReminderService(d Deps, newLock func() lock.Locker) *ReminderService {
	d = d.withDefaults()
	d.Log = d.Log.With().Str("component", "reminder").Logger()
	return &ReminderService{Deps: d, newLock: newLock}
}

// SweepTimeout caps a single sweep. Cases not reached by then wait for the next sweep.
const SweepTimeout = 30 * time.Minute

// RunSweep processes every awaiting case once. Failures on one case are logged and skipped.
// Cancellation is honoured between cases only; a case whose email went out always gets its write.
func (s *ReminderService) RunSweep(ctx context.Context) (*SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, SweepTimeout)
	defer cancel()

	if s.newLock != nil {
		l := s.newLock()
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("sweep lock: %w", err)
		}
		if !ok {
			return nil, errs.ErrSweepInProgress
		}
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.Release(rctx); err != nil {
				s.Log.Warn().Err(err).Msg("sweep lock release failed")
			}
		}()
	}

	start := time.Now()
	defer func() { s.Metrics.SweepSeconds.Observe(time.Since(start).Seconds()) }()

	cases, err := s.Store.ListEscalatedUnanswered(ctx)
	if err != nil {
		return nil, fmt.Errorf("list escalated cases: %w", err)
	}

	now := s.Now()
	res := &SweepResult{Checked: len(cases)}
	for i := range cases {
		if ctx.Err() != nil {
			s.Log.Warn().Err(ctx.Err()).Int("remaining", len(cases)-i).Msg("sweep interrupted")
			break
		}
		s.processCase(ctx, &cases[i], now, res)
	}

	s.Log.Info().
		Int("checked", res.Checked).
		Int("reminders_sent", res.RemindersSent).
		Int("marked_unresponsive", res.MarkedUnresponsive).
		Dur("took", time.Since(start)).
		Msg("sweep finished")
	return res, nil
}

// DaysSince counts whole elapsed days.
func DaysSince(from, now time.Time) int {
	d := now.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func (s *ReminderService) processCase(ctx context.Context, c *model.Case, now time.Time, res *SweepResult) {
	if !c.AwaitingResponse() {
		return
	}
	log := s.Log.With().Str("case_id", c.ID.String()).Logger()
	days := DaysSince(*c.EscalatedAt, now)

	// A previous sweep sent the final reminder but failed to set the flag.
	if c.EscalationReminderCount >= model.MaxReminders {
		if days >= reminderTiers[0].Days {
			s.markUnresponsive(ctx, c, log, res)
		}
		return
	}

	tier, due := DueTier(days, c.EscalationReminderCount)
	if !due {
		return
	}
	to := c.Jurisdiction.Contact()
	if to == "" {
		log.Warn().Int("tier", tier.Number).Msg("no authority email configured, reminder skipped")
		return
	}
	log = log.With().Int("tier", tier.Number).Int("days", days).Logger()

	media, err := s.Store.ListMedia(ctx, c.ID, mail.MaxPhotos)
	if err != nil {
		log.Warn().Err(err).Msg("media fetch failed, sending without photos")
		media = nil
	}
	subject, html, err := s.Renderer.RenderReminder(c, c.Jurisdiction, media, days, tier.Number)
	if err != nil {
		log.Error().Err(err).Msg("reminder render failed")
		return
	}
	emailID, err := s.Sender.Send(ctx, mail.Message{
		From:           s.Email.From,
		To:             to,
		ReplyTo:        mail.ReplyAddress(c.ID, s.Email.ReplyDomain),
		Subject:        subject,
		HTML:           html,
		Tags:           map[string]string{"type": "reminder", "case_id": c.ID.String(), "reminder": strconv.Itoa(tier.Number)},
		IdempotencyKey: fmt.Sprintf("reminder-%s-%d", c.ID, tier.Number),
	})
	if err != nil {
		log.Error().Err(err).Str("to", logging.RedactEmail(to)).Msg("reminder send failed")
		return
	}

	ctx, cancel := detach(ctx)
	defer cancel()

	applied, err := s.Store.SetReminderCount(ctx, c.ID, tier.Number)
	if err != nil {
		log.Error().Err(err).Str("email_id", emailID).Bool("inconsistency", true).Msg("reminder sent but count not recorded")
		return
	}
	if !applied {
		log.Warn().Str("email_id", emailID).Msg("reminder already recorded by a concurrent sweep")
		return
	}
	c.EscalationReminderCount = tier.Number
	res.RemindersSent++
	s.Metrics.RemindersSent.WithLabelValues(strconv.Itoa(tier.Number)).Inc()

	if err := s.Store.AppendTimeline(ctx, &model.TimelineEntry{
		CaseID: c.ID,
		Action: model.ActionEscalated,
		Details: model.JSONMap{
			"type":            "reminder",
			"reminder_number": tier.Number,
			"day_threshold":   tier.Days,
			"email_id":        emailID,
		},
	}); err != nil {
		log.Error().Err(err).Bool("inconsistency", true).Msg("reminder timeline entry not written")
	}
	s.Events.ProduceCaseEvent(ctx, kafka.EventReminderSent, map[string]interface{}{
		"case_id":         c.ID.String(),
		"reminder_number": tier.Number,
		"email_id":        emailID,
	})
	log.Info().Str("email_id", emailID).Msg("reminder sent")

	if tier.IsFinal() {
		s.markUnresponsive(ctx, c, log, res)
	}
}

func (s *ReminderService) markUnresponsive(ctx context.Context, c *model.Case, log zerolog.Logger, res *SweepResult) {
	ctx, cancel := detach(ctx)
	defer cancel()

	marked, err := s.Store.MarkUnresponsive(ctx, c.ID)
	if err != nil {
		log.Error().Err(err).Bool("inconsistency", true).Msg("final reminder sent but case not marked unresponsive")
		return
	}
	if !marked {
		log.Info().Msg("unresponsive mark skipped, case answered or already marked")
		return
	}
	c.MarkedUnresponsive = true
	res.MarkedUnresponsive++
	s.Metrics.MarkedUnresponsive.Inc()

	if err := s.Store.AppendTimeline(ctx, &model.TimelineEntry{
		CaseID: c.ID,
		Action: model.ActionEscalated,
		Details: model.JSONMap{
			"type":          "marked_unresponsive",
			"day_threshold": reminderTiers[0].Days,
		},
	}); err != nil {
		log.Error().Err(err).Bool("inconsistency", true).Msg("unresponsive timeline entry not written")
	}
	s.Events.ProduceCaseEvent(ctx, kafka.EventCaseUnresponsive, map[string]interface{}{
		"case_id": c.ID.String(),
	})
	log.Info().Msg("case marked unresponsive")
}
