// Package detect implements the four frustration-signal detectors: rage
// clicks, dead links, broken images and form-field clear-and-retype. Each
// detector is a synchronous state machine over mirror nodes and telemetry
// timestamps; the tracker session loop serializes every call, so no detector
// locks. Per-element state is keyed by mirror node ID and released through
// Forget when nodes detach.
package detect

import (
	"time"

	"github.com/uxlensHQ/uxlens/internal/dom"
)

// IssueType enumerates the detectable frustration signals.
type IssueType string

const (
	IssueRageClick       IssueType = "rage_click"
	IssueDeadLink        IssueType = "dead_link"
	IssueBrokenImage     IssueType = "broken_image"
	IssueFormFrustration IssueType = "form_frustration"
)

// Severity grades an issue for the collector's triage views.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Issue is a detected candidate frustration signal prior to any user
// confirmation. The Node pointer is consumed synchronously by the issue
// handler and popover; nothing retains it past the issue's lifecycle.
type Issue struct {
	Type      IssueType              `json:"type"`
	Severity  Severity               `json:"severity"`
	Node      *dom.Node              `json:"-"`
	Selector  string                 `json:"selector"`
	URL       string                 `json:"url,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	// ViaBadge marks issues the user explicitly opted into by activating a
	// dead-link badge; these bypass the popover's session cap and cooldown.
	ViaBadge bool `json:"-"`
}

// Handler consumes detected issues.
type Handler func(*Issue)

func newIssue(t IssueType, sev Severity, n *dom.Node, ts time.Time) *Issue {
	return &Issue{
		Type:      t,
		Severity:  sev,
		Node:      n,
		Selector:  dom.Selector(n),
		Timestamp: ts,
		Metadata:  map[string]interface{}{},
	}
}
