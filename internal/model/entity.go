package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type TimelineAction string

const (
	ActionEscalated          TimelineAction = "escalated"
	ActionGovernmentResponse TimelineAction = "government_response"
	ActionVerified           TimelineAction = "verified"
	ActionStatusChanged      TimelineAction = "status_changed"
	ActionComment            TimelineAction = "comment"
	ActionResolved           TimelineAction = "resolved"
	ActionFlagged            TimelineAction = "flagged"
)

// MaxReminders is the reminder ceiling after which an unanswered case is marked unresponsive.
const MaxReminders = 3

type Case struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ReporterID     uuid.UUID  `gorm:"type:uuid;index;not null" json:"reporter_id"`
	JurisdictionID *uuid.UUID `gorm:"type:uuid;index" json:"jurisdiction_id,omitempty"`
	Category       string     `gorm:"type:varchar(32);not null" json:"category"`
	AnimalType     string     `gorm:"type:varchar(32);not null" json:"animal_type"`
	Urgency        string     `gorm:"type:varchar(32);not null" json:"urgency"`
	Description    string     `gorm:"type:text" json:"description"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Folio          *string    `gorm:"type:varchar(64)" json:"folio,omitempty"`

	EscalatedAt             *time.Time `gorm:"index" json:"escalated_at,omitempty"`
	EscalationEmailID       *string    `gorm:"type:varchar(255)" json:"escalation_email_id,omitempty"`
	EscalationReminderCount int        `gorm:"not null;default:0" json:"escalation_reminder_count"`
	GovernmentResponseAt    *time.Time `json:"government_response_at,omitempty"`
	MarkedUnresponsive      bool       `gorm:"not null;default:false" json:"marked_unresponsive"`

	Jurisdiction *Jurisdiction `gorm:"foreignKey:JurisdictionID" json:"jurisdiction,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FolioOrDefault returns the human readable reference used in email subjects.
func (c *Case) FolioOrDefault() string {
	if c.Folio == nil || *c.Folio == "" {
		return "Sin folio"
	}
	return *c.Folio
}

// AwaitingResponse reports whether the case is escalated and not yet in a terminal state.
func (c *Case) AwaitingResponse() bool {
	return c.EscalatedAt != nil && c.GovernmentResponseAt == nil && !c.MarkedUnresponsive
}

type Jurisdiction struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string    `gorm:"type:varchar(255);not null" json:"name"`
	AuthorityName     *string   `gorm:"type:varchar(255)" json:"authority_name,omitempty"`
	AuthorityEmail    *string   `gorm:"type:varchar(255)" json:"authority_email,omitempty"`
	EscalationEnabled bool      `gorm:"not null;default:false" json:"escalation_enabled"`
}

// Contact returns the authority email, or "" when none is configured.
func (j *Jurisdiction) Contact() string {
	if j == nil || j.AuthorityEmail == nil {
		return ""
	}
	return *j.AuthorityEmail
}

type CaseMedia struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID       uuid.UUID `gorm:"type:uuid;index;not null" json:"case_id"`
	URL          string    `gorm:"type:text;not null" json:"url"`
	ThumbnailURL *string   `gorm:"type:text" json:"thumbnail_url,omitempty"`
	SortOrder    int       `gorm:"not null;default:0" json:"sort_order"`
}

// TableName keeps the historical table name.
func (CaseMedia) TableName() string { return "case_media" }

// Preview is the image shown inline; the thumbnail when present.
func (m CaseMedia) Preview() string {
	if m.ThumbnailURL != nil && *m.ThumbnailURL != "" {
		return *m.ThumbnailURL
	}
	return m.URL
}

// TimelineEntry is an append-only audit row. A nil ActorID denotes the system or an external authority.
type TimelineEntry struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID    uuid.UUID      `gorm:"type:uuid;index;not null" json:"case_id"`
	ActorID   *uuid.UUID     `gorm:"type:uuid" json:"actor_id,omitempty"`
	Action    TimelineAction `gorm:"type:varchar(64);index;not null" json:"action"`
	Details   JSONMap        `gorm:"type:jsonb" json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

func (TimelineEntry) TableName() string { return "case_timeline" }

// InboundEmail is the raw forensic record of a reply received at a case's reply address.
type InboundEmail struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CaseID     uuid.UUID `gorm:"type:uuid;index;not null" json:"case_id"`
	DedupKey   *string   `gorm:"type:varchar(255);uniqueIndex" json:"dedup_key,omitempty"`
	FromEmail  string    `gorm:"type:varchar(320);not null" json:"from_email"`
	Subject    *string   `gorm:"type:text" json:"subject,omitempty"`
	BodyText   string    `gorm:"type:text" json:"body_text"`
	ReceivedAt time.Time `gorm:"not null" json:"received_at"`
}

type CaseSubscription struct {
	CaseID uuid.UUID `gorm:"type:uuid;primaryKey" json:"case_id"`
	UserID uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
}

type Profile struct {
	ID                      uuid.UUID                `gorm:"type:uuid;primaryKey" json:"id"`
	PushToken               *string                  `gorm:"type:text" json:"push_token,omitempty"`
	NotificationPreferences *NotificationPreferences `gorm:"type:jsonb" json:"notification_preferences,omitempty"`
}

// NotificationPreferences mirrors the profile jsonb column; unset fields mean "enabled".
type NotificationPreferences struct {
	PushEnabled    *bool `json:"push_enabled,omitempty"`
	OwnCaseUpdates *bool `json:"own_case_updates,omitempty"`
	FlaggedCases   *bool `json:"flagged_cases,omitempty"`
}

func (p NotificationPreferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *NotificationPreferences) Scan(src interface{}) error {
	return scanJSON(src, p)
}

// JSONMap stores free-form structured details in a jsonb column.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.New("model: unsupported jsonb source type")
	}
}
