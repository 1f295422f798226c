package collector

// EventRecordType represents the kind of event a batch may carry
type EventRecordType string

const (
	EventFeedback EventRecordType = "ux_feedback"
	EventIssue    EventRecordType = "ux_issue"
)

// AcceptedEventTypes is the ingestion allow-list. Batches carrying anything
// else are rejected wholesale.
var AcceptedEventTypes = map[EventRecordType]bool{
	EventFeedback: true,
	EventIssue:    true,
}

const (
	// MaxBatchEvents caps one POST /api/events body.
	MaxBatchEvents = 100

	// DefaultRetentionDays applies to projects created without an explicit
	// retention window.
	DefaultRetentionDays = 90

	// DefaultPageLimit bounds read-API pagination.
	DefaultPageLimit = 100
)
