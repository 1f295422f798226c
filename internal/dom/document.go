// Package dom maintains the agent-side mirror of the instrumented page: a
// node tree built from shim telemetry, stable CSS selector computation, the
// interactive-element predicate, and DOM snapshot serialization with inlined
// computed styles.
package dom

import (
	"sort"
	"strings"

	"github.com/uxlensHQ/uxlens/internal/telemetry"
)

// Node is one mirrored element. Per-element detector state elsewhere is
// keyed by ID so removing a node from the mirror releases everything
// associated with it.
type Node struct {
	ID           string
	Tag          string
	Attrs        map[string]string
	Style        map[string]string
	Pseudo       *telemetry.Pseudo
	Rect         telemetry.Rect
	Text         string
	CursorOwn    bool
	Complete     bool
	NaturalWidth int

	Parent   *Node
	Children []*Node
}

// Attr returns the named attribute or "".
func (n *Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// Document mirrors the instrumented page.
type Document struct {
	URL       string
	Title     string
	UserAgent string
	Viewport  telemetry.Rect
	Loaded    bool

	nodes map[string]*Node
	roots []*Node
}

// NewDocument returns an empty mirror.
func NewDocument() *Document {
	return &Document{nodes: make(map[string]*Node)}
}

// Node looks up a mirrored element by shim ID.
func (d *Document) Node(id string) *Node { return d.nodes[id] }

// Len reports the number of mirrored elements.
func (d *Document) Len() int { return len(d.nodes) }

// Apply ingests dom_ready or mutation telemetry. It returns the IDs of every
// node detached by the event, descendants included, so callers can sweep
// per-element state keyed by those IDs.
func (d *Document) Apply(ev *telemetry.PageEvent) (removed []string) {
	if ev.URL != "" {
		d.URL = ev.URL
	}
	if ev.Title != "" {
		d.Title = ev.Title
	}
	if ev.UserAgent != "" {
		d.UserAgent = ev.UserAgent
	}
	if ev.Viewport != nil {
		d.Viewport = *ev.Viewport
	}
	if ev.Loaded {
		d.Loaded = true
	}

	for _, id := range ev.Removed {
		removed = append(removed, d.detach(id)...)
	}
	// Descriptors arrive parent-before-child from the shim's tree walk, but
	// a mutation batch may interleave subtrees; attach in two passes so
	// children never miss a parent that appears later in the same batch.
	for i := range ev.Added {
		d.upsert(&ev.Added[i], false)
	}
	for i := range ev.Added {
		d.link(ev.Added[i].ID, ev.Added[i].ParentID)
	}
	for i := range ev.AttrsChanged {
		d.upsert(&ev.AttrsChanged[i], true)
	}
	return removed
}

func (d *Document) upsert(desc *telemetry.NodeDescriptor, attrsOnly bool) {
	n, ok := d.nodes[desc.ID]
	if !ok {
		if attrsOnly {
			return // attribute change for a node we never mirrored
		}
		n = &Node{ID: desc.ID}
		d.nodes[desc.ID] = n
	}
	n.Tag = strings.ToUpper(desc.Tag)
	n.Attrs = desc.Attrs
	if desc.Style != nil {
		n.Style = desc.Style
	}
	if desc.Pseudo != nil {
		n.Pseudo = desc.Pseudo
	}
	n.Rect = desc.Rect
	if desc.Text != "" {
		n.Text = desc.Text
	}
	n.CursorOwn = desc.CursorOwn
	n.Complete = desc.Complete
	n.NaturalWidth = desc.NaturalWidth
}

func (d *Document) link(id, parentID string) {
	n := d.nodes[id]
	if n == nil {
		return
	}
	if parentID == "" {
		if n.Parent == nil && !containsNode(d.roots, n) {
			d.roots = append(d.roots, n)
		}
		return
	}
	parent := d.nodes[parentID]
	if parent == nil || parent == n.Parent {
		return
	}
	if n.Parent != nil {
		n.Parent.Children = removeChild(n.Parent.Children, n)
	}
	d.roots = removeChild(d.roots, n)
	n.Parent = parent
	parent.Children = append(parent.Children, n)
}

// detach removes the subtree rooted at id and returns all removed IDs.
func (d *Document) detach(id string) []string {
	n := d.nodes[id]
	if n == nil {
		return nil
	}
	if n.Parent != nil {
		n.Parent.Children = removeChild(n.Parent.Children, n)
		n.Parent = nil
	}
	d.roots = removeChild(d.roots, n)

	var ids []string
	var walk func(*Node)
	walk = func(cur *Node) {
		ids = append(ids, cur.ID)
		delete(d.nodes, cur.ID)
		for _, c := range cur.Children {
			walk(c)
		}
	}
	walk(n)
	return ids
}

// Walk visits every mirrored node in depth-first order.
func (d *Document) Walk(fn func(*Node)) {
	var walk func(*Node)
	walk = func(n *Node) {
		fn(n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, r := range d.roots {
		walk(r)
	}
}

// Anchors returns every mirrored <a> element with an href attribute, in a
// stable order.
func (d *Document) Anchors() []*Node {
	var out []*Node
	d.Walk(func(n *Node) {
		if n.Tag == "A" && n.Attr("href") != "" {
			out = append(out, n)
		}
	})
	return out
}

// Images returns every mirrored <img> element in a stable order.
func (d *Document) Images() []*Node {
	var out []*Node
	d.Walk(func(n *Node) {
		if n.Tag == "IMG" {
			out = append(out, n)
		}
	})
	return out
}

// IDs returns all mirrored node IDs, sorted. Intended for tests.
func (d *Document) IDs() []string {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func removeChild(list []*Node, n *Node) []*Node {
	for i, c := range list {
		if c == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func containsNode(list []*Node, n *Node) bool {
	for _, c := range list {
		if c == n {
			return true
		}
	}
	return false
}
