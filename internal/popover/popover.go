// Package popover drives the feedback UI state machine. The shim only
// materializes what it is told: every transition — presentation caps,
// placement, focus trapping, dismissal, submission — is decided here so the
// behavior is deterministic and testable without a browser.
package popover

import (
	"log"
	"time"

	"github.com/uxlensHQ/uxlens/internal/detect"
	"github.com/uxlensHQ/uxlens/internal/telemetry"
)

// State is the popover lifecycle state.
type State string

const (
	StateHidden     State = "hidden"
	StateVisible    State = "visible"
	StateSubmitting State = "submitting"
	StateDismissing State = "dismissing"
)

const (
	// DefaultMaxPerSession caps passive prompts per page session.
	DefaultMaxPerSession = 5
	// DefaultCooldown spaces passive prompts.
	DefaultCooldown = 30 * time.Second
)

// Popover geometry used by the placement math. The shim renders at exactly
// these dimensions.
const (
	popWidth     = 320.0
	popHeight    = 190.0
	popMargin    = 8.0
	popAnchorGap = 10.0
	arrowInset   = 14.0
)

// focusables are the popover's own controls in tab order.
var focusables = []string{"textarea", "submit", "close"}

var titles = map[detect.IssueType]string{
	detect.IssueRageClick:       "Not working?",
	detect.IssueDeadLink:        "Broken link?",
	detect.IssueBrokenImage:     "Image not loading?",
	detect.IssueFormFrustration: "Having trouble?",
}

// SubmitFunc receives the user's feedback: the triggering issue plus the
// free-text message, which may be empty.
type SubmitFunc func(issue *detect.Issue, message string)

// DismissFunc is told which issue's prompt closed without a submission, so
// the owner can release any context captured for it.
type DismissFunc func(issue *detect.Issue)

// Config wires a Popover.
type Config struct {
	Send          func(telemetry.Command)
	OnSubmit      SubmitFunc
	OnDismiss     DismissFunc
	Theme         string
	MaxPerSession int
	Cooldown      time.Duration
	Debug         bool
}

// Popover is the feedback UI state machine. All methods run on the session
// loop.
type Popover struct {
	send      func(telemetry.Command)
	onSubmit  SubmitFunc
	onDismiss DismissFunc
	theme     string

	maxPerSession int
	cooldown      time.Duration

	state    State
	current  *detect.Issue
	focusIdx int

	shownCount  int
	lastShownAt time.Time

	now   func() time.Time
	debug bool
}

// New constructs a hidden popover.
func New(cfg Config) *Popover {
	p := &Popover{
		send:          cfg.Send,
		onSubmit:      cfg.OnSubmit,
		onDismiss:     cfg.OnDismiss,
		theme:         cfg.Theme,
		maxPerSession: cfg.MaxPerSession,
		cooldown:      cfg.Cooldown,
		state:         StateHidden,
		now:           time.Now,
	}
	if p.theme == "" {
		p.theme = "dark"
	}
	if p.maxPerSession <= 0 {
		p.maxPerSession = DefaultMaxPerSession
	}
	if p.cooldown <= 0 {
		p.cooldown = DefaultCooldown
	}
	if p.send == nil {
		p.send = func(telemetry.Command) {}
	}
	p.debug = cfg.Debug
	return p
}

// State exposes the current lifecycle state.
func (p *Popover) State() State { return p.state }

// Current returns the issue being shown, or nil while hidden.
func (p *Popover) Current() *detect.Issue { return p.current }

// ShownCount reports how many prompts were presented this session.
func (p *Popover) ShownCount() int { return p.shownCount }

// Present shows the popover for an issue. Passive presentations are capped
// per session and throttled by the cooldown; badge-initiated issues bypass
// both, since the user explicitly opted in. A visible previous instance is
// force-closed synchronously — highlight included — before the new content
// goes up, so an in-flight dismissal of the old prompt can never suppress
// the new one. Returns whether the popover was shown.
func (p *Popover) Present(issue *detect.Issue, viewport telemetry.Rect) bool {
	if issue == nil || issue.Node == nil {
		return false
	}
	if !issue.ViaBadge {
		if p.shownCount >= p.maxPerSession {
			p.tracef("suppressed %s: session cap reached", issue.Type)
			return false
		}
		if !p.lastShownAt.IsZero() && p.now().Sub(p.lastShownAt) < p.cooldown {
			p.tracef("suppressed %s: cooldown", issue.Type)
			return false
		}
	}

	if p.state != StateHidden {
		p.forceClose()
	}

	view := p.buildView(issue, viewport)
	p.current = issue
	p.state = StateVisible
	p.focusIdx = 0
	// A badge open is an explicit user request; it does not consume the
	// passive-prompt budget or re-arm the cooldown.
	if !issue.ViaBadge {
		p.shownCount++
		p.lastShownAt = p.now()
	}

	p.send(telemetry.Command{Type: telemetry.CommandHighlight, NodeID: issue.Node.ID})
	p.send(telemetry.Command{Type: telemetry.CommandShowPopover, Popover: view})
	p.send(telemetry.Command{Type: telemetry.CommandFocus, Control: focusables[0]})
	p.tracef("shown for %s at %s", issue.Type, issue.Selector)
	return true
}

// HandleReply consumes the shim's popover_reply frame.
func (p *Popover) HandleReply(action, message string) {
	if p.state != StateVisible {
		return
	}
	switch action {
	case "submit":
		p.submit(message)
	case "dismiss":
		p.dismiss()
	}
}

// HandleKey consumes forwarded keydown events while the popover is open.
// Tab and Shift+Tab cycle only among the popover's own controls; Escape
// dismisses.
func (p *Popover) HandleKey(key string, shift bool) {
	if p.state != StateVisible {
		return
	}
	switch key {
	case "Escape":
		p.dismiss()
	case "Tab":
		if shift {
			p.focusIdx = (p.focusIdx + len(focusables) - 1) % len(focusables)
		} else {
			p.focusIdx = (p.focusIdx + 1) % len(focusables)
		}
		p.send(telemetry.Command{Type: telemetry.CommandFocus, Control: focusables[p.focusIdx]})
	}
}

// HandlePointer consumes forwarded pointer-down events; a press outside the
// popover dismisses it.
func (p *Popover) HandlePointer(insidePopover bool) {
	if p.state != StateVisible || insidePopover {
		return
	}
	p.dismiss()
}

// Dismiss closes the popover without a submission.
func (p *Popover) Dismiss() {
	if p.state != StateVisible {
		return
	}
	p.dismiss()
}

func (p *Popover) submit(message string) {
	p.state = StateSubmitting
	issue := p.current
	p.teardownUI(true)
	p.state = StateHidden
	p.current = nil
	// An empty message is a valid "just detected, no comment" report.
	if p.onSubmit != nil {
		p.onSubmit(issue, message)
	}
	p.tracef("submitted for %s", issue.Type)
}

func (p *Popover) dismiss() {
	p.state = StateDismissing
	issue := p.current
	p.teardownUI(true)
	p.state = StateHidden
	p.current = nil
	if p.onDismiss != nil {
		p.onDismiss(issue)
	}
	p.tracef("dismissed")
}

// forceClose tears down a still-visible instance synchronously, without
// focus restoration: the new presentation immediately claims focus. The
// displaced issue counts as dismissed.
func (p *Popover) forceClose() {
	issue := p.current
	p.teardownUI(false)
	p.state = StateHidden
	p.current = nil
	if p.onDismiss != nil {
		p.onDismiss(issue)
	}
}

func (p *Popover) teardownUI(restoreFocus bool) {
	if p.current != nil && p.current.Node != nil {
		p.send(telemetry.Command{Type: telemetry.CommandClearHighlight, NodeID: p.current.Node.ID})
	}
	p.send(telemetry.Command{Type: telemetry.CommandHidePopover})
	if restoreFocus {
		p.send(telemetry.Command{Type: telemetry.CommandRestoreFocus})
	}
}

func (p *Popover) buildView(issue *detect.Issue, viewport telemetry.Rect) *telemetry.PopoverView {
	rect := issue.Node.Rect
	placement, x, y, arrow := place(rect, viewport)
	title := titles[issue.Type]
	if title == "" {
		title = "Something wrong?"
	}
	return &telemetry.PopoverView{
		IssueID:     issue.Selector,
		Title:       title,
		Theme:       p.theme,
		Placement:   placement,
		X:           x,
		Y:           y,
		ArrowOffset: arrow,
		AnchorID:    issue.Node.ID,
	}
}

// place computes the popover position: below the anchor when there is room,
// otherwise above, with the horizontal offset clamped into the viewport and
// the arrow translated to keep pointing at the anchor under any clamping.
func place(rect telemetry.Rect, viewport telemetry.Rect) (placement string, x, y, arrow float64) {
	spaceBelow := viewport.Height - (rect.Y + rect.Height)
	spaceAbove := rect.Y

	if spaceBelow >= popHeight+popAnchorGap || spaceBelow >= spaceAbove {
		placement = "below"
		y = rect.Y + rect.Height + popAnchorGap
	} else {
		placement = "above"
		y = rect.Y - popHeight - popAnchorGap
		if y < popMargin {
			y = popMargin
		}
	}

	anchorCenter := rect.X + rect.Width/2
	x = anchorCenter - popWidth/2
	maxX := viewport.Width - popWidth - popMargin
	if x > maxX {
		x = maxX
	}
	if x < popMargin {
		x = popMargin
	}

	arrow = anchorCenter - x
	if arrow < arrowInset {
		arrow = arrowInset
	}
	if arrow > popWidth-arrowInset {
		arrow = popWidth - arrowInset
	}
	return placement, x, y, arrow
}

func (p *Popover) tracef(format string, args ...interface{}) {
	if p.debug {
		log.Printf("[POPOVER] "+format, args...)
	}
}
