// Package tracker wires the frustration detectors, context capture, outbound
// pipeline and feedback popover into one per-page-session facade. A tracker
// never throws into its host: every handler is fault-isolated so a failing
// detector disables only itself, and teardown runs a best-effort cleanup
// list before the final delivery attempt.
package tracker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/uxlensHQ/uxlens/internal/buffers"
	"github.com/uxlensHQ/uxlens/internal/detect"
	"github.com/uxlensHQ/uxlens/internal/dom"
	"github.com/uxlensHQ/uxlens/internal/pipeline"
	"github.com/uxlensHQ/uxlens/internal/popover"
	"github.com/uxlensHQ/uxlens/internal/probe"
	"github.com/uxlensHQ/uxlens/internal/telemetry"
)

// imageVerifyDelay gives late-hydrating frameworks time to swap real image
// sources in before the secondary broken-image pass judges them.
const imageVerifyDelay = time.Second

// Scheduler posts work onto the session loop, which executes closures one at
// a time. The bridge session implements it; tests substitute a synchronous
// one.
type Scheduler interface {
	Post(fn func())
	PostDelayed(d time.Duration, fn func()) (cancel func())
}

// Deps are the tracker's external collaborators.
type Deps struct {
	Send      func(telemetry.Command)
	Scheduler Scheduler
	Queue     *pipeline.Queue // optional; built from Options when nil
	Prober    *probe.Prober   // optional
}

// Tracker is one page session's detection-and-capture engine. All methods
// except Stop must be called from the session loop.
type Tracker struct {
	opts      Options
	sessionID string

	doc         *dom.Document
	queue       *pipeline.Queue
	prober      *probe.Prober
	rage        *detect.RageClick
	deadlink    *detect.DeadLink
	image       *detect.BrokenImage
	form        *detect.FormFrustration
	pop         *popover.Popover
	breadcrumbs *buffers.Ring[buffers.Breadcrumb]
	errors      *buffers.Ring[buffers.ErrorRecord]

	send  func(telemetry.Command)
	sched Scheduler

	snapshots   map[*detect.Issue]string
	badgeIssues map[string]*detect.Issue // anchor node ID -> dead-link issue

	disabled map[string]bool // fault-isolated detectors knocked out by a panic

	startedAt       time.Time
	verifyArmed     bool
	verifyDone      bool
	started         bool
	stopped         bool
	cleanups        []func()
	cancelRun       context.CancelFunc
	formSweepArmed  bool
	cancelFormSweep func()
}

// New builds a tracker for one page session.
func New(opts Options, deps Deps) *Tracker {
	t := &Tracker{
		opts:        opts,
		sessionID:   uuid.NewString(),
		doc:         dom.NewDocument(),
		queue:       deps.Queue,
		prober:      deps.Prober,
		breadcrumbs: buffers.NewBreadcrumbs(),
		errors:      buffers.NewErrors(),
		send:        deps.Send,
		sched:       deps.Scheduler,
		snapshots:   make(map[*detect.Issue]string),
		badgeIssues: make(map[string]*detect.Issue),
		disabled:    make(map[string]bool),
	}
	if t.send == nil {
		t.send = func(telemetry.Command) {}
	}
	if t.queue == nil {
		t.queue = pipeline.New(pipeline.Config{
			APIURL:    opts.APIURL,
			SessionID: t.sessionID,
			ProjectID: opts.ProjectID,
			Debug:     opts.Debug,
		})
	}
	if t.prober == nil {
		t.prober = probe.New(probe.WithDebug(opts.Debug))
	}

	if opts.RageClick {
		t.rage = detect.NewRageClick(t.handleIssue)
	}
	if opts.DeadLink {
		t.deadlink = detect.NewDeadLink(t.doc, t.prober, t.post, t.handleIssue)
	}
	if opts.BrokenImage {
		t.image = detect.NewBrokenImage(t.handleIssue)
	}
	if opts.FormFrustration {
		t.form = detect.NewFormFrustration(t.handleIssue)
	}
	if opts.Popover {
		t.pop = popover.New(popover.Config{
			Send:          t.send,
			OnSubmit:      t.submitFeedback,
			OnDismiss:     t.dismissFeedback,
			Theme:         opts.PopoverTheme,
			MaxPerSession: opts.MaxPopups,
			Cooldown:      opts.PopoverCooldown,
			Debug:         opts.Debug,
		})
	}
	return t
}

// SessionID identifies this page session in delivered batches.
func (t *Tracker) SessionID() string { return t.sessionID }

// Document exposes the mirror (tests and diagnostics).
func (t *Tracker) Document() *dom.Document { return t.doc }

// Start begins periodic delivery. Re-initialization of a started tracker is
// refused rather than silently doubling timers.
func (t *Tracker) Start(ctx context.Context) error {
	if t.started {
		return fmt.Errorf("tracker already started")
	}
	t.started = true
	t.startedAt = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	t.cancelRun = cancel
	go t.queue.Run(runCtx)

	t.cleanups = append(t.cleanups,
		func() { t.prober.Stop() },
		func() { cancel() },
		func() { t.queue.Stop() },
		func() {
			if t.cancelFormSweep != nil {
				t.cancelFormSweep()
			}
		},
	)
	t.tracef("started session %s for project %s", t.sessionID, t.opts.ProjectID)
	return nil
}

// Stop tears the session down: every cleanup runs best-effort (one failure
// never blocks the rest), then the final delivery attempt fires. Idempotent.
func (t *Tracker) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	for _, cleanup := range t.cleanups {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.tracef("cleanup panicked: %v", r)
				}
			}()
			cleanup()
		}()
	}
	t.queue.FinalFlush()
	t.tracef("stopped session %s", t.sessionID)
}

// HandleEvent dispatches one telemetry frame. Must run on the session loop.
func (t *Tracker) HandleEvent(ev *telemetry.PageEvent) {
	if t.stopped || ev == nil {
		return
	}
	switch ev.Type {
	case telemetry.EventDOMReady:
		t.onDOMReady(ev)
	case telemetry.EventPageLoad:
		t.doc.Loaded = true
		t.armImageVerify()
	case telemetry.EventMutation, telemetry.EventResize:
		t.onMutation(ev)
	case telemetry.EventClick:
		t.onClick(ev)
	case telemetry.EventInput:
		t.onInput(ev)
	case telemetry.EventImageError:
		t.safe("broken_image", func() {
			if t.image != nil {
				t.image.OnError(t.doc.Node(ev.NodeID), ev.Timestamp)
			}
		})
	case telemetry.EventConsoleError:
		t.errors.Push(buffers.ErrorRecord{
			Message:   ev.Message,
			Source:    ev.Source,
			Line:      ev.Line,
			Timestamp: time.UnixMilli(ev.Timestamp),
		})
	case telemetry.EventRouteChange:
		t.onRouteChange(ev.OldURL, ev.URL)
	case telemetry.EventKey:
		if t.pop != nil {
			t.pop.HandleKey(ev.Key, ev.Shift)
		}
	case telemetry.EventPointer:
		if t.pop != nil {
			t.pop.HandlePointer(ev.InsidePopover)
		}
	case telemetry.EventBadgeClick:
		t.onBadgeClick(ev.NodeID)
	case telemetry.EventPopoverReply:
		if t.pop != nil {
			t.pop.HandleReply(ev.Action, ev.FeedbackText)
		}
	case telemetry.EventPageHide:
		t.Stop()
	}
}

func (t *Tracker) onDOMReady(ev *telemetry.PageEvent) {
	t.doc.Apply(ev)
	t.breadcrumbs.Push(buffers.Breadcrumb{
		Action:    "navigation",
		Target:    t.doc.URL,
		Timestamp: time.UnixMilli(ev.Timestamp),
	})
	t.safe("dead_link", func() {
		if t.deadlink != nil {
			t.deadlink.Scan()
		}
	})
	if t.doc.Loaded {
		t.armImageVerify()
	}
}

func (t *Tracker) onMutation(ev *telemetry.PageEvent) {
	removed := t.doc.Apply(ev)
	if len(removed) > 0 {
		t.forget(removed)
	}
	t.safe("dead_link", func() {
		if t.deadlink != nil {
			t.deadlink.Scan()
		}
	})
	// Re-apply the verification pass to images added after the initial scan,
	// but never before the post-load grace elapsed once.
	if t.verifyDone {
		t.safe("broken_image", func() {
			if t.image != nil {
				t.image.Verify(t.doc, time.Now())
			}
		})
	}
}

func (t *Tracker) onClick(ev *telemetry.PageEvent) {
	target := t.doc.Node(ev.NodeID)
	if target == nil {
		return
	}
	t.breadcrumbs.Push(buffers.Breadcrumb{
		Action:    "click",
		Target:    dom.Selector(target),
		Timestamp: time.UnixMilli(ev.Timestamp),
	})
	t.safe("rage_click", func() {
		if t.rage != nil {
			t.rage.OnClick(target, ev.Timestamp)
		}
	})
}

func (t *Tracker) onInput(ev *telemetry.PageEvent) {
	field := t.doc.Node(ev.NodeID)
	if field == nil {
		return
	}
	t.safe("form_frustration", func() {
		if t.form != nil {
			t.form.OnInput(field, ev.ValueLength, ev.Timestamp)
			t.armFormSweep()
		}
	})
}

// armFormSweep schedules one expiry sweep per keystroke window, so a field
// typed into once and abandoned releases its state without waiting for
// further input.
func (t *Tracker) armFormSweep() {
	if t.formSweepArmed || t.form == nil || t.sched == nil {
		return
	}
	t.formSweepArmed = true
	t.cancelFormSweep = t.sched.PostDelayed(detect.FormStateWindow, func() {
		t.formSweepArmed = false
		t.cancelFormSweep = nil
		t.safe("form_frustration", func() {
			t.form.Sweep(time.Now().UnixMilli())
			if t.form.Pending() > 0 {
				t.armFormSweep()
			}
		})
	})
}

// onRouteChange is the navigation-observer seam: the shim wraps history
// push/replace in the page, the tracker only ever sees old and new URLs.
func (t *Tracker) onRouteChange(oldURL, newURL string) {
	t.doc.URL = newURL
	t.breadcrumbs.Push(buffers.Breadcrumb{
		Action:    "navigation",
		Target:    oldURL + " -> " + newURL,
		Timestamp: time.Now(),
	})
	t.tracef("route change %s -> %s", oldURL, newURL)
	t.safe("dead_link", func() {
		if t.deadlink != nil {
			t.deadlink.Scan()
		}
	})
}

func (t *Tracker) armImageVerify() {
	if t.verifyArmed || t.image == nil || t.sched == nil {
		return
	}
	t.verifyArmed = true
	cancel := t.sched.PostDelayed(imageVerifyDelay, func() {
		t.verifyDone = true
		t.safe("broken_image", func() {
			t.image.Verify(t.doc, time.Now())
		})
	})
	t.cleanups = append(t.cleanups, cancel)
}

// handleIssue is the issue handler: enqueue the (local-only) ux_issue
// record, then surface the feedback affordance. A DOM snapshot is captured
// only while something can still turn the issue into feedback — a visible
// prompt or an attached badge — and released as soon as neither can.
func (t *Tracker) handleIssue(issue *detect.Issue) {
	t.queue.Push(pipeline.TypeIssue, map[string]interface{}{
		"issueType":     string(issue.Type),
		"issueSeverity": string(issue.Severity),
		"issueSelector": issue.Selector,
		"metadata":      issue.Metadata,
	})
	t.tracef("issue %s at %s", issue.Type, issue.Selector)

	badged := false
	switch issue.Type {
	case detect.IssueDeadLink:
		if !issue.ViaBadge {
			// Dead links stay quiet until the user opts in via the badge.
			t.badgeIssues[issue.Node.ID] = issue
			if t.pop != nil {
				t.capture(issue)
			}
			t.send(telemetry.Command{
				Type:   telemetry.CommandAttachBadge,
				NodeID: issue.Node.ID,
				URL:    issue.URL,
			})
			return
		}
	case detect.IssueBrokenImage:
		// Broken images get both the badge marker and the passive prompt;
		// the badge lets the user reopen the report later.
		t.badgeIssues[issue.Node.ID] = issue
		if t.pop != nil {
			t.capture(issue)
		}
		badged = true
		t.send(telemetry.Command{
			Type:   telemetry.CommandAttachBadge,
			NodeID: issue.Node.ID,
			URL:    issue.URL,
		})
	}
	if t.pop == nil {
		return
	}
	t.capture(issue)
	if !t.pop.Present(issue, t.doc.Viewport) && !badged {
		delete(t.snapshots, issue)
	}
}

// capture stores the issue's context snapshot once, at detection time, so
// the node's state at the moment of frustration survives later mutations.
func (t *Tracker) capture(issue *detect.Issue) {
	if _, ok := t.snapshots[issue]; ok {
		return
	}
	t.snapshots[issue] = dom.Snapshot(issue.Node, dom.SnapshotOptions{})
}

func (t *Tracker) onBadgeClick(nodeID string) {
	issue := t.badgeIssues[nodeID]
	if issue == nil || t.pop == nil {
		return
	}
	issue.ViaBadge = true
	t.capture(issue)
	t.pop.Present(issue, t.doc.Viewport)
}

// submitFeedback is the popover's submit callback: the only path that emits
// a transmissible event.
func (t *Tracker) submitFeedback(issue *detect.Issue, message string) {
	snapshot := t.snapshots[issue]
	delete(t.snapshots, issue)

	t.queue.Push(pipeline.TypeFeedback, feedbackPayload(
		issue, message, t.doc.URL, t.doc.UserAgent, snapshot,
		time.Since(t.startedAt), t.breadcrumbs.Snapshot(), t.errors.Snapshot(),
	))
	t.tracef("feedback submitted for %s", issue.Type)
}

// dismissFeedback is the popover's dismissal callback: once no prompt shows
// the issue, its snapshot is released unless a badge can still reopen it.
func (t *Tracker) dismissFeedback(issue *detect.Issue) {
	if issue == nil || issue.Node == nil {
		return
	}
	if t.badgeIssues[issue.Node.ID] == issue {
		return
	}
	delete(t.snapshots, issue)
}

// forget releases per-node detector state for detached nodes, keeping the
// mirror's manually-swept weak-reference discipline.
func (t *Tracker) forget(ids []string) {
	if t.rage != nil {
		t.rage.Forget(ids)
	}
	if t.form != nil {
		t.form.Forget(ids)
	}
	if t.image != nil {
		t.image.Forget(ids)
	}
	if t.deadlink != nil {
		t.deadlink.Forget(ids)
	}
	for _, id := range ids {
		delete(t.badgeIssues, id)
	}
	if len(t.snapshots) > 0 {
		removed := make(map[string]bool, len(ids))
		for _, id := range ids {
			removed[id] = true
		}
		// The visible prompt keeps its snapshot: a submit after the node
		// detaches should still carry the captured context.
		var showing *detect.Issue
		if t.pop != nil {
			showing = t.pop.Current()
		}
		for issue := range t.snapshots {
			if issue != showing && issue.Node != nil && removed[issue.Node.ID] {
				delete(t.snapshots, issue)
			}
		}
	}
}

func (t *Tracker) post(fn func()) {
	if t.sched != nil {
		t.sched.Post(fn)
		return
	}
	fn()
}

// safe fault-isolates one detector invocation: a panic disables that
// detector for the rest of the session instead of propagating to the host.
func (t *Tracker) safe(name string, fn func()) {
	if t.disabled[name] {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.disabled[name] = true
			log.Printf("[TRACKER] detector %s disabled after panic: %v", name, r)
		}
	}()
	fn()
}

func (t *Tracker) tracef(format string, args ...interface{}) {
	if t.opts.Debug {
		log.Printf("[TRACKER] "+format, args...)
	}
}
