package telemetry

import (
	"encoding/json"
	"fmt"
)

// EventType identifies a raw page event reported by the shim.
type EventType string

const (
	EventDOMReady     EventType = "dom_ready"
	EventPageLoad     EventType = "page_load"
	EventClick        EventType = "click"
	EventInput        EventType = "input"
	EventImageError   EventType = "image_error"
	EventMutation     EventType = "mutation"
	EventConsoleError EventType = "console_error"
	EventRouteChange  EventType = "route_change"
	EventResize       EventType = "resize"
	EventKey          EventType = "key"
	EventPointer      EventType = "pointer"
	EventBadgeClick   EventType = "badge_click"
	EventPopoverReply EventType = "popover_reply"
	EventPageHide     EventType = "page_hide"
)

// Rect is an element bounding rectangle in viewport coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Pseudo carries non-trivial ::before/::after generated content for a node.
type Pseudo struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// NodeDescriptor is the shim's serialized form of a single DOM element.
// Style holds the element's full computed style; CursorOwn reports whether
// a computed cursor:pointer is set on the element itself rather than
// inherited from an ancestor.
type NodeDescriptor struct {
	ID           string            `json:"id"`
	ParentID     string            `json:"parent_id,omitempty"`
	Tag          string            `json:"tag"`
	Attrs        map[string]string `json:"attrs,omitempty"`
	Style        map[string]string `json:"style,omitempty"`
	Pseudo       *Pseudo           `json:"pseudo,omitempty"`
	Rect         Rect              `json:"rect"`
	Text         string            `json:"text,omitempty"`
	CursorOwn    bool              `json:"cursor_own,omitempty"`
	Complete     bool              `json:"complete,omitempty"`
	NaturalWidth int               `json:"natural_width,omitempty"`
}

// PageEvent is one telemetry message from the shim. Fields beyond Type and
// Timestamp are populated per event type; unused fields are omitted on the
// wire.
type PageEvent struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // epoch milliseconds, page clock

	// dom_ready / route_change / resize
	URL       string `json:"url,omitempty"`
	OldURL    string `json:"old_url,omitempty"`
	Title     string `json:"title,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Viewport  *Rect  `json:"viewport,omitempty"`
	Loaded    bool   `json:"loaded,omitempty"`

	// click / input / image_error / badge_click
	NodeID string `json:"node_id,omitempty"`

	// input
	ValueLength int `json:"value_length,omitempty"`

	// mutation / dom_ready
	Added        []NodeDescriptor `json:"added,omitempty"`
	Removed      []string         `json:"removed,omitempty"`
	AttrsChanged []NodeDescriptor `json:"attrs_changed,omitempty"`

	// console_error
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
	Line    int    `json:"line,omitempty"`

	// key
	Key   string `json:"key,omitempty"`
	Shift bool   `json:"shift,omitempty"`

	// pointer
	InsidePopover bool `json:"inside_popover,omitempty"`

	// popover_reply
	Action       string `json:"action,omitempty"` // submit | dismiss
	FeedbackText string `json:"feedback_text,omitempty"`
}

// ParseEvent decodes a single shim frame.
func ParseEvent(data []byte) (*PageEvent, error) {
	var ev PageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse page event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("page event missing type")
	}
	return &ev, nil
}

// CommandType identifies an agent-to-shim UI instruction.
type CommandType string

const (
	CommandShowPopover     CommandType = "show_popover"
	CommandHidePopover     CommandType = "hide_popover"
	CommandAttachBadge     CommandType = "attach_badge"
	CommandHighlight       CommandType = "highlight"
	CommandClearHighlight  CommandType = "clear_highlight"
	CommandFocus           CommandType = "focus"
	CommandRestoreFocus    CommandType = "restore_focus"
	CommandObserveElements CommandType = "observe_elements"
)

// PopoverView is everything the shim needs to materialize the popover.
type PopoverView struct {
	IssueID     string  `json:"issue_id"`
	Title       string  `json:"title"`
	Theme       string  `json:"theme"`
	Placement   string  `json:"placement"` // above | below
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	ArrowOffset float64 `json:"arrow_offset"`
	AnchorID    string  `json:"anchor_id"`
}

// Command is one agent-to-shim instruction.
type Command struct {
	Type    CommandType  `json:"type"`
	NodeID  string       `json:"node_id,omitempty"`
	Control string       `json:"control,omitempty"`
	Popover *PopoverView `json:"popover,omitempty"`
	URL     string       `json:"url,omitempty"`
}

// Encode serializes a command frame.
func (c Command) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return data, nil
}
