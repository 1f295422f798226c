package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeRetentionCleanup = "retention:cleanup"
	TypeFeedbackWebhook  = "webhook:feedback"
)

// RetentionCleanupPayload is the payload for retention sweep tasks. A nil
// ProjectID sweeps every project against its own retention window.
type RetentionCleanupPayload struct {
	ProjectID *uuid.UUID `json:"project_id,omitempty"`
}

func (p *RetentionCleanupPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *RetentionCleanupPayload) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewRetentionCleanupTask creates a new retention sweep task
func NewRetentionCleanupTask(payload RetentionCleanupPayload) (*asynq.Task, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeRetentionCleanup, data), nil
}

// FeedbackWebhookPayload is the payload for feedback delivery tasks. The
// feedback body is carried verbatim so delivery survives retention deleting
// the stored record.
type FeedbackWebhookPayload struct {
	ProjectID  uuid.UUID              `json:"project_id"`
	WebhookURL string                 `json:"webhook_url"`
	SessionID  string                 `json:"session_id"`
	Feedback   map[string]interface{} `json:"feedback"`
	EmittedAt  int64                  `json:"emitted_at"` // epoch milliseconds
}

func (p *FeedbackWebhookPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *FeedbackWebhookPayload) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewFeedbackWebhookTask creates a new feedback delivery task
func NewFeedbackWebhookTask(payload FeedbackWebhookPayload) (*asynq.Task, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeFeedbackWebhook, data), nil
}

// GetQueueForTask returns the appropriate queue name for a task type
func GetQueueForTask(taskType string) string {
	switch taskType {
	case TypeFeedbackWebhook:
		return "default"
	case TypeRetentionCleanup:
		return "low"
	default:
		return "default"
	}
}
