package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Condition is a set of "column predicate" clauses a conditional update must satisfy,
// e.g. {"escalated_at IS NULL": nil}.
type Condition map[string]interface{}

// CaseStore is the gorm-backed Case Store.
type CaseStore struct {
	db *gorm.DB
}

func NewCaseStore(db *gorm.DB) *CaseStore {
	return &CaseStore{db: db}
}

func (s *CaseStore) FindCase(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	var c model.Case
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrCaseNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindJurisdiction returns the jurisdiction owning the case, or nil when none is assigned.
func (s *CaseStore) FindJurisdiction(ctx context.Context, caseID uuid.UUID) (*model.Jurisdiction, error) {
	var j model.Jurisdiction
	err := s.db.WithContext(ctx).
		Joins("JOIN cases ON cases.jurisdiction_id = jurisdictions.id").
		Where("cases.id = ?", caseID).
		First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

// UpdateCase applies changes only where cond holds and reports how many rows changed.
// A zero count means the guard rejected the write.
func (s *CaseStore) UpdateCase(ctx context.Context, id uuid.UUID, cond Condition, changes map[string]interface{}) (int64, error) {
	tx := s.db.WithContext(ctx).Model(&model.Case{}).Where("id = ?", id)
	for k, v := range cond {
		if v == nil {
			tx = tx.Where(k)
		} else {
			tx = tx.Where(k, v)
		}
	}
	res := tx.Updates(changes)
	return res.RowsAffected, res.Error
}

// MarkEscalated records the escalation once; a second writer gets ErrAlreadyEscalated.
func (s *CaseStore) MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time, emailID string) error {
	n, err := s.UpdateCase(ctx, id, Condition{"escalated_at IS NULL": nil}, map[string]interface{}{
		"escalated_at":        at,
		"escalation_email_id": emailID,
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrAlreadyEscalated
	}
	return nil
}

// SetReminderCount sets the count to tier unless it already reached it.
func (s *CaseStore) SetReminderCount(ctx context.Context, id uuid.UUID, tier int) (bool, error) {
	n, err := s.UpdateCase(ctx, id, Condition{"escalation_reminder_count < ?": tier}, map[string]interface{}{
		"escalation_reminder_count": tier,
	})
	return n > 0, err
}

// MarkUnresponsive flips the terminal flag only while no response exists and the ceiling is reached.
func (s *CaseStore) MarkUnresponsive(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := s.UpdateCase(ctx, id, Condition{
		"government_response_at IS NULL": nil,
		"marked_unresponsive = ?":        false,
		"escalation_reminder_count = ?":  model.MaxReminders,
	}, map[string]interface{}{
		"marked_unresponsive": true,
	})
	return n > 0, err
}

// RecordGovernmentResponse stores the first response time; later replies leave it untouched.
// A case already marked unresponsive stays terminal.
func (s *CaseStore) RecordGovernmentResponse(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	n, err := s.UpdateCase(ctx, id, Condition{
		"government_response_at IS NULL": nil,
		"escalated_at IS NOT NULL":       nil,
		"marked_unresponsive = ?":        false,
	}, map[string]interface{}{
		"government_response_at": at,
	})
	return n > 0, err
}

func (s *CaseStore) ListMedia(ctx context.Context, caseID uuid.UUID, limit int) ([]model.CaseMedia, error) {
	var items []model.CaseMedia
	err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("sort_order ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *CaseStore) AppendTimeline(ctx context.Context, e *model.TimelineEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *CaseStore) FindLatestTimelineActor(ctx context.Context, caseID uuid.UUID, action model.TimelineAction) (*uuid.UUID, error) {
	var e model.TimelineEntry
	err := s.db.WithContext(ctx).
		Select("actor_id").
		Where("case_id = ? AND action = ?", caseID, action).
		Order("created_at DESC").
		Limit(1).
		Find(&e).Error
	if err != nil {
		return nil, err
	}
	return e.ActorID, nil
}

// AppendInboundEmail inserts the raw record. A repeated dedup key yields ErrDuplicateDelivery.
func (s *CaseStore) AppendInboundEmail(ctx context.Context, rec *model.InboundEmail) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrDuplicateDelivery
	}
	return nil
}

func (s *CaseStore) FindSubscribers(ctx context.Context, caseID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&model.CaseSubscription{}).
		Where("case_id = ?", caseID).
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *CaseStore) FindProfiles(ctx context.Context, userIDs []uuid.UUID, requireToken bool) ([]model.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var items []model.Profile
	tx := s.db.WithContext(ctx).Where("id IN ?", userIDs)
	if requireToken {
		tx = tx.Where("push_token IS NOT NULL")
	}
	err := tx.Find(&items).Error
	return items, err
}

// ListEscalatedUnanswered returns every case still awaiting a government response, with its jurisdiction.
func (s *CaseStore) ListEscalatedUnanswered(ctx context.Context) ([]model.Case, error) {
	var items []model.Case
	err := s.db.WithContext(ctx).
		Preload("Jurisdiction").
		Where("escalated_at IS NOT NULL").
		Where("government_response_at IS NULL").
		Where("marked_unresponsive = ?", false).
		Order("escalated_at ASC").
		Find(&items).Error
	return items, err
}

func (s *CaseStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
