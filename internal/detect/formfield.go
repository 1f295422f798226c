package detect

import (
	"strings"
	"time"

	"github.com/uxlensHQ/uxlens/internal/dom"
)

// FormStateWindow is the per-field keystroke window: state older than this
// no longer counts toward a frustration signal and is eligible for expiry.
const FormStateWindow = 30 * time.Second

const (
	formPeakMinimum   = 3
	formClearsToFire  = 2
	formFieldCooldown = 60 * time.Second
)

type fieldState struct {
	clears       int
	peakLen      int
	lastKeystoke int64
}

// FormFrustration watches text-like fields for repeated clear-and-retype: a
// field that reaches at least 3 characters and returns to empty twice inside
// a rolling 30 s-per-keystroke window fires a form_frustration issue and
// takes a 60 s cooldown.
type FormFrustration struct {
	fields    map[string]*fieldState
	cooldowns map[string]int64
	handler   Handler
}

// NewFormFrustration constructs the detector.
func NewFormFrustration(handler Handler) *FormFrustration {
	return &FormFrustration{
		fields:    make(map[string]*fieldState),
		cooldowns: make(map[string]int64),
		handler:   handler,
	}
}

// OnInput records one input event carrying the field's current value length.
func (f *FormFrustration) OnInput(field *dom.Node, valueLen int, ts int64) {
	if !dom.IsTextField(field) {
		return
	}
	if until, ok := f.cooldowns[field.ID]; ok {
		if ts < until {
			return
		}
		delete(f.cooldowns, field.ID)
	}

	st := f.fields[field.ID]
	if st != nil && ts-st.lastKeystoke > FormStateWindow.Milliseconds() {
		// The per-field window lapsed; earlier clears no longer count.
		st = nil
	}
	if st == nil {
		st = &fieldState{}
		f.fields[field.ID] = st
	}
	st.lastKeystoke = ts

	if valueLen > st.peakLen {
		st.peakLen = valueLen
	}

	// A clear is the transition back to empty after a meaningful peak; it
	// covers both select-all-delete and gradual backspacing.
	if valueLen != 0 || st.peakLen < formPeakMinimum {
		return
	}
	st.clears++
	st.peakLen = 0

	if st.clears < formClearsToFire {
		return
	}

	issue := newIssue(IssueFormFrustration, SeverityMedium, field, time.UnixMilli(ts))
	issue.Metadata["fieldType"] = fieldType(field)
	issue.Metadata["fieldName"] = fieldName(field)
	issue.Metadata["clearCount"] = st.clears

	delete(f.fields, field.ID)
	f.cooldowns[field.ID] = ts + formFieldCooldown.Milliseconds()

	f.handler(issue)
}

// Sweep drops field state whose keystroke window lapsed before the given
// time. The tracker calls this opportunistically so idle fields do not pin
// state for the page lifetime.
func (f *FormFrustration) Sweep(now int64) {
	for id, st := range f.fields {
		if now-st.lastKeystoke > FormStateWindow.Milliseconds() {
			delete(f.fields, id)
		}
	}
}

// Pending reports how many fields currently hold keystroke state.
func (f *FormFrustration) Pending() int { return len(f.fields) }

// Forget drops state for detached nodes.
func (f *FormFrustration) Forget(ids []string) {
	for _, id := range ids {
		delete(f.fields, id)
		delete(f.cooldowns, id)
	}
}

func fieldType(n *dom.Node) string {
	if n.Tag == "TEXTAREA" {
		return "textarea"
	}
	if t := strings.ToLower(n.Attr("type")); t != "" {
		return t
	}
	return "text"
}

func fieldName(n *dom.Node) string {
	if name := n.Attr("name"); name != "" {
		return name
	}
	if id := n.Attr("id"); id != "" {
		return id
	}
	return dom.Selector(n)
}
