package collector

import (
	"encoding/json"
	"fmt"
	"time"

	"database/sql/driver"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OriginList is the per-project Origin allow-list, stored as a JSON array.
type OriginList []string

func (o OriginList) Value() (driver.Value, error) {
	return json.Marshal(o)
}

func (o *OriginList) Scan(value interface{}) error {
	if value == nil {
		*o = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into OriginList", value)
	}

	return json.Unmarshal(bytes, o)
}

// Allows reports whether origin may submit events for this project. An empty
// list admits every origin.
func (o OriginList) Allows(origin string) bool {
	if len(o) == 0 {
		return true
	}
	for _, allowed := range o {
		if allowed == origin {
			return true
		}
	}
	return false
}

// Project is one tracked site. The public key is what the embed snippet
// carries; it authorizes ingestion only, never reads.
type Project struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	PublicKey      string     `json:"public_key" gorm:"uniqueIndex"`
	AllowedOrigins OriginList `json:"allowed_origins"`
	WebhookURL     string     `json:"webhook_url,omitempty"`
	RetentionDays  int        `json:"retention_days"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Project) TableName() string {
	return "projects"
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PublicKey == "" {
		p.PublicKey = "uxl_" + uuid.NewString()
	}
	if p.RetentionDays <= 0 {
		p.RetentionDays = DefaultRetentionDays
	}
	return nil
}

// EventRecord is one accepted event. The issue fields are lifted out of the
// payload at ingest so the read API can filter without unpacking JSON.
type EventRecord struct {
	ID            uuid.UUID       `json:"id"`
	ProjectID     uuid.UUID       `json:"project_id" gorm:"index"`
	SessionID     string          `json:"session_id" gorm:"index"`
	Type          EventRecordType `json:"type" gorm:"index"`
	Data          datatypes.JSON  `json:"data"`
	PageURL       string          `json:"page_url,omitempty"`
	IssueType     string          `json:"issue_type,omitempty" gorm:"index"`
	IssueSelector string          `json:"issue_selector,omitempty"`
	EmittedAt     time.Time       `json:"emitted_at"`
	ReceivedAt    time.Time       `json:"received_at"`

	Project Project `json:"-" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (EventRecord) TableName() string {
	return "event_records"
}

func (e *EventRecord) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}
	return nil
}

// IngestEvent is one event inside a batch, mirroring the agent pipeline's
// wire shape.
type IngestEvent struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

// IngestBatch is the body of POST /api/events.
type IngestBatch struct {
	SessionID string        `json:"sessionId"`
	ProjectID string        `json:"projectId"`
	Events    []IngestEvent `json:"events"`
}

// EventListResponse pages through stored events.
type EventListResponse struct {
	Events []EventRecord `json:"events"`
	Total  int64         `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

// ProjectListResponse lists projects.
type ProjectListResponse struct {
	Projects []Project `json:"projects"`
	Total    int64     `json:"total"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
