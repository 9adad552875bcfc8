package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lomito/escalation-service/internal/errs"
	"github.com/lomito/escalation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestStore(t *testing.T) (*CaseStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewCaseStore(db), mock
}

func TestMarkEscalated_FirstWriterWins(t *testing.T) {
	s, mock := setupTestStore(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE "cases" SET .* WHERE id = \$\d+ AND escalated_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.MarkEscalated(context.Background(), id, time.Now(), "re_123")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEscalated_GuardRejectsSecondWriter(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectExec(`UPDATE "cases" SET .* escalated_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkEscalated(context.Background(), uuid.New(), time.Now(), "re_456")
	assert.ErrorIs(t, err, errs.ErrAlreadyEscalated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetReminderCount_Guarded(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectExec(`UPDATE "cases" SET .* escalation_reminder_count < \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := s.SetReminderCount(context.Background(), uuid.New(), 2)
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUnresponsive_RequiresNoResponse(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectExec(`UPDATE "cases" SET .*government_response_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := s.MarkUnresponsive(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCase_NotFound(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectQuery(`SELECT \* FROM "cases" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.FindCase(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errs.ErrCaseNotFound)
}

func TestFindCase_Found(t *testing.T) {
	s, mock := setupTestStore(t)
	id := uuid.New()
	escalated := time.Now().Add(-48 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "category", "animal_type", "urgency", "escalated_at", "escalation_reminder_count", "marked_unresponsive"}).
		AddRow(id.String(), "abuse", "dog", "high", escalated, 1, false)
	mock.ExpectQuery(`SELECT \* FROM "cases"`).WillReturnRows(rows)

	c, err := s.FindCase(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, 1, c.EscalationReminderCount)
	require.NotNil(t, c.EscalatedAt)
	assert.True(t, c.AwaitingResponse())
}

func TestAppendInboundEmail_DuplicateKey(t *testing.T) {
	s, mock := setupTestStore(t)
	key := "msg_abc"

	mock.ExpectExec(`INSERT INTO "inbound_emails" .* ON CONFLICT \("dedup_key"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.AppendInboundEmail(context.Background(), &model.InboundEmail{
		CaseID:     uuid.New(),
		DedupKey:   &key,
		FromEmail:  "director@pueblo.gob.mx",
		BodyText:   "Atendido",
		ReceivedAt: time.Now(),
	})
	assert.ErrorIs(t, err, errs.ErrDuplicateDelivery)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindProfiles_EmptyInputSkipsQuery(t *testing.T) {
	s, mock := setupTestStore(t)

	profiles, err := s.FindProfiles(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Empty(t, profiles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordGovernmentResponse_KeepsUnresponsiveTerminal(t *testing.T) {
	s, mock := setupTestStore(t)

	mock.ExpectExec(`UPDATE "cases" SET .*government_response_at.* WHERE .*marked_unresponsive = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := s.RecordGovernmentResponse(context.Background(), uuid.New(), time.Now())
	require.NoError(t, err)
	assert.False(t, first)
	require.NoError(t, mock.ExpectationsWereMet())
}
