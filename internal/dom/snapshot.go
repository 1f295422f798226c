package dom

import (
	"fmt"
	"html"
	"sort"
	"strings"
)

// SnapshotOptions cap the serialized snapshot; zero values select defaults.
type SnapshotOptions struct {
	MaxDepth int
	MaxBytes int
}

const (
	defaultSnapshotDepth = 8
	defaultSnapshotBytes = 64 * 1024
)

// inlineTags are small presentational elements whose snapshot would carry no
// visual context on their own; the snapshot root is promoted to their parent.
var inlineTags = map[string]bool{
	"A": true, "IMG": true, "SPAN": true, "B": true, "I": true,
	"EM": true, "STRONG": true, "LABEL": true, "SMALL": true,
}

// SnapshotRoot resolves the semantically meaningful ancestor a snapshot
// should be rooted at.
func SnapshotRoot(n *Node) *Node {
	cur := n
	for cur != nil && cur.Parent != nil && inlineTags[cur.Tag] {
		cur = cur.Parent
	}
	if cur == nil {
		return n
	}
	return cur
}

// Snapshot serializes the subtree rooted at the promoted ancestor of n with
// every descendant's computed style inlined, so the fragment renders
// identically outside the host page's stylesheets. Non-trivial ::before and
// ::after content is synthesized through generated data-uxl-pseudo attribute
// selectors emitted in a <style> preamble. The output is truncated
// breadth-first once either cap is hit and marked data-uxl-truncated.
func Snapshot(n *Node, opts SnapshotOptions) string {
	if n == nil {
		return ""
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultSnapshotDepth
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultSnapshotBytes
	}

	root := SnapshotRoot(n)
	s := &snapshotter{opts: opts, pseudoRules: map[string]string{}}
	body := s.serialize(root, 0)

	if len(s.pseudoRules) == 0 {
		return body
	}
	var sb strings.Builder
	sb.WriteString("<style>")
	keys := make([]string, 0, len(s.pseudoRules))
	for k := range s.pseudoRules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(s.pseudoRules[k])
	}
	sb.WriteString("</style>")
	sb.WriteString(body)
	return sb.String()
}

type snapshotter struct {
	opts        SnapshotOptions
	written     int
	pseudoSeq   int
	pseudoRules map[string]string
	truncated   bool
}

func (s *snapshotter) serialize(n *Node, depth int) string {
	if n == nil {
		return ""
	}
	if depth >= s.opts.MaxDepth || s.written >= s.opts.MaxBytes {
		s.truncated = true
		return ""
	}

	tag := strings.ToLower(n.Tag)
	if tag == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<")
	sb.WriteString(tag)

	for _, k := range sortedAttrKeys(n.Attrs) {
		if k == "style" { // replaced by the inlined computed style
			continue
		}
		fmt.Fprintf(&sb, ` %s="%s"`, k, html.EscapeString(n.Attrs[k]))
	}

	if style := inlineStyle(n.Style); style != "" {
		fmt.Fprintf(&sb, ` style="%s"`, html.EscapeString(style))
	}

	if n.Pseudo != nil && (nonTrivialContent(n.Pseudo.Before) || nonTrivialContent(n.Pseudo.After)) {
		s.pseudoSeq++
		marker := fmt.Sprintf("p%d", s.pseudoSeq)
		sel := fmt.Sprintf(`[data-uxl-pseudo="%s"]`, marker)
		if nonTrivialContent(n.Pseudo.Before) {
			s.pseudoRules[marker+":b"] = fmt.Sprintf("%s::before{content:%q;}", sel, n.Pseudo.Before)
		}
		if nonTrivialContent(n.Pseudo.After) {
			s.pseudoRules[marker+":a"] = fmt.Sprintf("%s::after{content:%q;}", sel, n.Pseudo.After)
		}
		fmt.Fprintf(&sb, ` data-uxl-pseudo="%s"`, marker)
	}

	children := ""
	childTrunc := false
	if depth+1 < s.opts.MaxDepth {
		var cb strings.Builder
		for _, c := range n.Children {
			if s.written+cb.Len() >= s.opts.MaxBytes {
				childTrunc = true
				s.truncated = true
				break
			}
			cb.WriteString(s.serialize(c, depth+1))
		}
		children = cb.String()
	} else if len(n.Children) > 0 {
		childTrunc = true
		s.truncated = true
	}

	if childTrunc {
		sb.WriteString(` data-uxl-truncated="true"`)
	}
	sb.WriteString(">")
	if n.Text != "" {
		sb.WriteString(html.EscapeString(n.Text))
	}
	sb.WriteString(children)
	fmt.Fprintf(&sb, "</%s>", tag)

	out := sb.String()
	s.written += len(out)
	return out
}

// inlineStyle flattens a computed-style map into a declaration block with
// deterministic property order.
func inlineStyle(style map[string]string) string {
	if len(style) == 0 {
		return ""
	}
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		v := style[k]
		if v == "" {
			continue
		}
		sb.WriteString(k)
		sb.WriteString(":")
		sb.WriteString(v)
		sb.WriteString(";")
	}
	return sb.String()
}

// nonTrivialContent filters the pseudo content values that mean "nothing to
// render".
func nonTrivialContent(c string) bool {
	switch strings.Trim(c, `"'`) {
	case "", "none", "normal":
		return false
	}
	return true
}

func sortedAttrKeys(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
