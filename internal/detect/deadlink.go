package detect

import (
	"net/url"
	"strings"
	"time"

	"github.com/uxlensHQ/uxlens/internal/dom"
	"github.com/uxlensHQ/uxlens/internal/probe"
)

// DeadLink scans same-document anchors and hands unseen same-origin targets
// to the serial prober. Probe results arrive on the prober goroutine and are
// marshalled back onto the session loop through schedule, so issue emission
// stays serialized with the rest of the tracker.
type DeadLink struct {
	doc      *dom.Document
	prober   *probe.Prober
	schedule func(func())
	handler  Handler
	watched  map[string]string // anchor node ID -> resolved URL
	now      func() time.Time
}

// NewDeadLink constructs the detector.
func NewDeadLink(doc *dom.Document, prober *probe.Prober, schedule func(func()), handler Handler) *DeadLink {
	return &DeadLink{
		doc:      doc,
		prober:   prober,
		schedule: schedule,
		handler:  handler,
		watched:  make(map[string]string),
		now:      time.Now,
	}
}

// Scan registers every unwatched anchor. Called once at start and on every
// DOM mutation, which covers SPA route swaps; the prober's per-URL memo
// guarantees N anchors sharing one href cost one network round trip.
func (d *DeadLink) Scan() {
	base, err := url.Parse(d.doc.URL)
	if err != nil || base.Host == "" {
		return
	}
	for _, a := range d.doc.Anchors() {
		if _, ok := d.watched[a.ID]; ok {
			continue
		}
		target, ok := resolveProbeTarget(base, a.Attr("href"))
		if !ok {
			continue
		}
		d.watched[a.ID] = target

		nodeID := a.ID
		d.prober.Probe(target, func(res probe.Result) {
			d.schedule(func() { d.onResult(nodeID, res) })
		})
	}
}

// Forget drops state for detached nodes.
func (d *DeadLink) Forget(ids []string) {
	for _, id := range ids {
		delete(d.watched, id)
	}
}

func (d *DeadLink) onResult(nodeID string, res probe.Result) {
	if !res.Dead() {
		return
	}
	n := d.doc.Node(nodeID)
	if n == nil {
		return // anchor detached while the probe was in flight
	}

	issue := newIssue(IssueDeadLink, SeverityHigh, n, d.now())
	issue.URL = res.URL
	issue.Metadata["href"] = n.Attr("href")
	issue.Metadata["status"] = res.Status
	issue.Metadata["linkText"] = n.Text

	d.handler(issue)
}

// resolveProbeTarget resolves an href against the page URL and filters out
// everything that cannot or should not be probed: in-page fragments,
// javascript:/mailto:/tel: pseudo-links, and cross-origin targets, where a
// failure is indistinguishable from CORS blocking.
func resolveProbeTarget(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if resolved.Scheme != base.Scheme || resolved.Host != base.Host {
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}
