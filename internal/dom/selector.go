package dom

import (
	"fmt"
	"regexp"
	"strings"
)

// selectorMaxDepth bounds the ancestor walk so selectors stay readable even
// in deeply nested markup.
const selectorMaxDepth = 12

// dynamicClass matches class names that frameworks generate per build or per
// render (hash suffixes, css-in-js prefixes). Including them would produce
// selectors that break on the next deploy.
var dynamicClass = regexp.MustCompile(`(?:^(?:css|sc|jsx|svelte)-|_{2}|--|[0-9a-f]{6,}$|^[0-9])`)

// Selector computes a stable CSS path for a mirrored element. An element
// with an id resolves to "#id" immediately; otherwise the path is built
// upward from tag, stable classes and :nth-of-type disambiguation.
func Selector(n *Node) string {
	if n == nil {
		return ""
	}
	var parts []string
	for cur := n; cur != nil && len(parts) < selectorMaxDepth; cur = cur.Parent {
		if id := cur.Attr("id"); id != "" {
			parts = append(parts, "#"+cssEscape(id))
			break
		}
		parts = append(parts, segment(cur))
		if cur.Tag == "BODY" || cur.Tag == "HTML" {
			break
		}
	}
	// Reverse into document order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

func segment(n *Node) string {
	seg := strings.ToLower(n.Tag)
	if seg == "" {
		seg = "*"
	}

	for _, cls := range stableClasses(n) {
		seg += "." + cssEscape(cls)
	}

	// nth-of-type only when siblings of the same tag would otherwise be
	// ambiguous.
	if n.Parent != nil {
		idx, count := 0, 0
		for _, sib := range n.Parent.Children {
			if sib.Tag == n.Tag {
				count++
				if sib == n {
					idx = count
				}
			}
		}
		if count > 1 {
			seg += fmt.Sprintf(":nth-of-type(%d)", idx)
		}
	}
	return seg
}

func stableClasses(n *Node) []string {
	raw := n.Attr("class")
	if raw == "" {
		return nil
	}
	var out []string
	for _, cls := range strings.Fields(raw) {
		if dynamicClass.MatchString(cls) {
			continue
		}
		out = append(out, cls)
		if len(out) == 2 {
			break
		}
	}
	return out
}

func cssEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteString(fmt.Sprintf("\\%x ", r))
		}
	}
	return strings.TrimSpace(b.String())
}
