package detect

import (
	"time"

	"github.com/uxlensHQ/uxlens/internal/dom"
)

const (
	rageWindow    = 1500 * time.Millisecond
	rageThreshold = 3
	rageCooldown  = 5000 * time.Millisecond
)

// RageClick tracks per-element sliding windows of click timestamps. Three or
// more clicks on one interactive element inside 1500 ms fire a rage_click
// issue; the window is deleted on firing and a 5 s cooldown keeps a single
// burst from re-firing while the user keeps clicking.
type RageClick struct {
	windows   map[string][]int64 // node ID -> click timestamps (ms)
	cooldowns map[string]int64   // node ID -> suppressed until (ms)
	handler   Handler
}

// NewRageClick constructs the detector.
func NewRageClick(handler Handler) *RageClick {
	return &RageClick{
		windows:   make(map[string][]int64),
		cooldowns: make(map[string]int64),
		handler:   handler,
	}
}

// OnClick records one capture-phase click. The click is attributed to the
// nearest interactive ancestor of the target; clicks with no interactive
// ancestor are ignored.
func (r *RageClick) OnClick(target *dom.Node, ts int64) {
	el := dom.InteractiveAncestor(target)
	if el == nil {
		return
	}
	if until, ok := r.cooldowns[el.ID]; ok {
		if ts < until {
			return
		}
		delete(r.cooldowns, el.ID)
	}

	window := append(r.windows[el.ID], ts)
	cutoff := ts - rageWindow.Milliseconds()
	pruned := window[:0]
	for _, t := range window {
		if t >= cutoff {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) < rageThreshold {
		r.windows[el.ID] = pruned
		return
	}

	issue := newIssue(IssueRageClick, SeverityHigh, el, time.UnixMilli(ts))
	issue.Metadata["clickCount"] = len(pruned)
	issue.Metadata["windowMs"] = pruned[len(pruned)-1] - pruned[0]
	issue.Metadata["avgInterval"] = avgInterval(pruned)

	delete(r.windows, el.ID)
	r.cooldowns[el.ID] = ts + rageCooldown.Milliseconds()

	r.handler(issue)
}

// Forget drops state for detached nodes.
func (r *RageClick) Forget(ids []string) {
	for _, id := range ids {
		delete(r.windows, id)
		delete(r.cooldowns, id)
	}
}

func avgInterval(ts []int64) int64 {
	if len(ts) < 2 {
		return 0
	}
	return (ts[len(ts)-1] - ts[0]) / int64(len(ts)-1)
}
